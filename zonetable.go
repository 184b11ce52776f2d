// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Zone classes. zoneUnused marks a slot that has never been claimed by any
// class.
const (
	zoneUnused uint32 = iota
	zoneZ
	zoneN
	zoneL
)

const zoneInfoEntrySize = 4

// zoneInfoEntry is the packed 4-byte {next_id: 30 bits, type: 2 bits} zone
// descriptor.
type zoneInfoEntry struct {
	nextID uint32
	typ    uint32
}

func (z zoneInfoEntry) encode() uint32 {
	return (z.nextID & 0x3FFFFFFF) | (z.typ << 30)
}

func decodeZoneInfoEntry(v uint32) zoneInfoEntry {
	return zoneInfoEntry{nextID: v & 0x3FFFFFFF, typ: v >> 30}
}

// zoneTable holds the engine's view of every zone's {type, next_id} and is
// responsible for the per-class persistence rules (Z never durable, N and L
// always durable before their data write). It is guarded by the same lock
// the allocator uses; zoneTable itself does not lock — callers hold it.
type zoneTable struct {
	io       backingIO
	h        *Header
	readOnly bool
	entries  []zoneInfoEntry
	cnt      *counters
	log      *logrus.Entry
}

func newZoneTable(io backingIO, h *Header, readOnly bool, cnt *counters) *zoneTable {
	return &zoneTable{io: io, h: h, readOnly: readOnly, cnt: cnt, log: componentLog("zone")}
}

// load reads the full nr_zones*4 byte zone-info array.
func (zt *zoneTable) load() error {
	buf := make([]byte, int(zt.h.NrZones)*zoneInfoEntrySize)
	if _, err := zt.io.ReadAt(buf, int64(zt.h.PAZoneInfo)); err != nil {
		return errors.Wrap(err, "selfie: could not load zone table")
	}
	zt.entries = make([]zoneInfoEntry, zt.h.NrZones)
	for i := range zt.entries {
		v := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
		zt.entries[i] = decodeZoneInfoEntry(v)
	}
	return nil
}

// syncZone writes the 4-byte entry at pa_zi + 4*id. Skipped entirely when
// the image is read-only.
func (zt *zoneTable) syncZone(id uint64, flush bool) error {
	if zt.readOnly {
		return nil
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], zt.entries[id].encode())
	pa := int64(zt.h.PAZoneInfo) + int64(id)*zoneInfoEntrySize
	if _, err := zt.io.WriteAt(buf[:], pa); err != nil {
		return errors.Wrap(err, "selfie: could not sync zone entry")
	}
	zt.cnt.writesZone.Add(1)
	if flush {
		if be, ok := zt.io.(*BlockBackend); ok && !be.writeCacheEnabled {
			return nil
		}
		if err := zt.io.Flush(); err != nil {
			return errors.Wrap(err, "selfie: could not flush after zone sync")
		}
	}
	return nil
}

// markZone claims zone id for typ, resets its counter, and persists the
// change.
func (zt *zoneTable) markZone(id uint64, typ uint32) error {
	zt.entries[id] = zoneInfoEntry{nextID: 0, typ: typ}
	return zt.syncZone(id, false)
}

// writeZeroes initializes the data region of a newly claimed zone per
// Header.InitType.
func (zt *zoneTable) writeZeroes(id uint64) error {
	if zt.readOnly {
		return nil
	}
	pa := int64(zt.h.PAZones) + int64(id)*int64(zt.h.ZoneSize)
	size := int64(zt.h.ZoneSize)
	switch zt.h.InitType {
	case InitNone:
		return nil
	case InitZero:
		if err := zt.io.WriteZeroesAt(pa, size); err != nil {
			return errors.Wrap(err, "selfie: zone zero-init failed")
		}
		return zt.io.Flush()
	case InitTrim:
		return zt.io.DiscardAt(pa, size)
	default:
		return nil
	}
}
