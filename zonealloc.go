// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"sync"
)

// allocator is the zone allocator. A single mutex serializes all state
// changes; it is released before the data-bearing write that uses the
// allocated PA.
type allocator struct {
	mu sync.Mutex

	zt *zoneTable
	h  *Header

	idZZone, idNZone, idLZone uint64

	nrZoneUnit uint64 // zone_size / block_size
	nrZonePage uint64 // zone_size / 4096
}

func newAllocator(zt *zoneTable, h *Header) *allocator {
	return &allocator{
		zt:         zt,
		h:          h,
		nrZoneUnit: uint64(h.ZoneSize) / uint64(h.BlockSize()),
		nrZonePage: uint64(h.ZoneSize) / pageSize,
	}
}

// zoneUnitPA computes the PA of unit u within zoneID, for the given class's
// unit size (block_size for Z/N, 4096 for L).
func (a *allocator) zoneUnitPA(zoneID, unit uint64, class uint32) int64 {
	base := int64(a.h.PAZones) + int64(zoneID)*int64(a.h.ZoneSize)
	switch class {
	case zoneL:
		return base + int64(unit)*pageSize
	default:
		return base + int64(unit)*a.h.BlockSize()
	}
}

// zonePAType returns the class of the zone containing pa. It panics with an
// invariant violation if pa lies before the data region or names an
// out-of-range zone.
func (a *allocator) zonePAType(pa int64) uint32 {
	if pa < int64(a.h.PAZones) {
		invariant("zonePAType", "pa %d before data region", pa)
	}
	id := uint64(pa-int64(a.h.PAZones)) / uint64(a.h.ZoneSize)
	if id >= a.h.NrZones {
		invariant("zonePAType", "zone id %d out of range", id)
	}
	return a.zt.entries[id].typ
}

// claimZone scans ascending from `start` for the first unused slot, marks
// it as class, and initializes its data region.
func (a *allocator) claimZone(start uint64, class uint32) (uint64, error) {
	for i := start; i < a.h.NrZones; i++ {
		if a.zt.entries[i].typ == zoneUnused {
			if err := a.zt.markZone(i, class); err != nil {
				return 0, err
			}
			if err := a.zt.writeZeroes(i); err != nil {
				return 0, err
			}
			return i, nil
		}
	}
	invariant("claimZone", "no unused zone available for class %d", class)
	return 0, nil // unreachable
}

// allocUnit allocates one block-sized unit in the current zone of class
// (Z or N), claiming a fresh zone first if the current one is full. For
// class Z the counter is not persisted; for N it is, making the allocation
// durable before the caller's data write.
func (a *allocator) allocUnit(class uint32) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.currentPtr(class)
	if a.zt.entries[*cur].nextID == uint32(a.nrZoneUnit) {
		id, err := a.claimZone(*cur, class)
		if err != nil {
			return 0, err
		}
		*cur = id
	}
	zoneID := *cur
	unit := uint64(a.zt.entries[zoneID].nextID)
	a.zt.entries[zoneID].nextID++

	if class == zoneN {
		if err := a.zt.syncZone(zoneID, false); err != nil {
			return 0, err
		}
	}
	return a.zoneUnitPA(zoneID, unit, class), nil
}

// allocL allocates one 4 KiB L2-page slot. The counter is always
// persisted, though recovery does not trust it exactly for the current
// L-zone.
func (a *allocator) allocL() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.zt.entries[a.idLZone].nextID == uint32(a.nrZonePage) {
		id, err := a.claimZone(a.idLZone, zoneL)
		if err != nil {
			return 0, err
		}
		a.idLZone = id
	}
	zoneID := a.idLZone
	unit := uint64(a.zt.entries[zoneID].nextID)
	a.zt.entries[zoneID].nextID++
	if err := a.zt.syncZone(zoneID, false); err != nil {
		return 0, err
	}
	return a.zoneUnitPA(zoneID, unit, zoneL), nil
}

func (a *allocator) currentPtr(class uint32) *uint64 {
	switch class {
	case zoneZ:
		return &a.idZZone
	case zoneN:
		return &a.idNZone
	default:
		invariant("currentPtr", "unexpected class %d", class)
		return nil
	}
}

// nextPA returns the PA of the next allocation in the current zone of
// class, used by recovery to compute next_pa_l / next_pa_n.
func (a *allocator) nextPA(class uint32) int64 {
	var zoneID uint64
	switch class {
	case zoneN:
		zoneID = a.idNZone
	case zoneL:
		zoneID = a.idLZone
	case zoneZ:
		zoneID = a.idZZone
	}
	return a.zoneUnitPA(zoneID, uint64(a.zt.entries[zoneID].nextID), class)
}
