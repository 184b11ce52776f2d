// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"github.com/pkg/errors"
)

// pickLZone finds the current L-zone: either an L-zone with room left, or
// the first unused zone (claimed fresh). Scans ascending, lowest id first.
func pickLZone(zt *zoneTable, alloc *allocator) (uint64, error) {
	for i := uint64(0); i < zt.h.NrZones; i++ {
		e := zt.entries[i]
		if e.typ == zoneUnused {
			if err := zt.markZone(i, zoneL); err != nil {
				return 0, err
			}
			if err := zt.writeZeroes(i); err != nil {
				return 0, err
			}
			return i, nil
		}
		if e.typ == zoneL && uint64(e.nextID) < alloc.nrZonePage {
			return i, nil
		}
	}
	return 0, errors.New("selfie: no zone available to become the L-zone")
}

// pickNZone mirrors pickLZone for the current N-zone.
func pickNZone(zt *zoneTable, alloc *allocator) (uint64, error) {
	for i := uint64(0); i < zt.h.NrZones; i++ {
		e := zt.entries[i]
		if e.typ == zoneUnused {
			if err := zt.markZone(i, zoneN); err != nil {
				return 0, err
			}
			if err := zt.writeZeroes(i); err != nil {
				return 0, err
			}
			return i, nil
		}
		if e.typ == zoneN && uint64(e.nextID) < alloc.nrZoneUnit {
			return i, nil
		}
	}
	return 0, errors.New("selfie: no zone available to become the N-zone")
}

// scanZZone re-derives a Z-zone's true occupancy by reading and decoding
// every slot in ascending order, stopping at the first slot that fails to
// decode: a Z-zone's on-disk counter is never trusted. Pages
// found valid and still unmapped are installed into the index without
// persisting the mapping, matching a Z page's non-durable contract.
func (img *Image) scanZZone(id uint64) error {
	if img.alloc.zt.entries[id].nextID != 0 {
		invariant("scanZZone", "zone %d has a nonzero counter before scan", id)
	}
	for i := uint64(0); i < img.alloc.nrZoneUnit; i++ {
		pa := img.alloc.zoneUnitPA(id, i, zoneZ)
		zpage := make([]byte, pageSize)
		if _, err := img.io.ReadAt(zpage, pa); err != nil {
			return errors.Wrap(err, "selfie: z-zone scan read failed")
		}
		if _, ok := decodePage(zpage); !ok {
			break
		}
		img.alloc.zt.entries[id].nextID++
		va := decodePageHead(zpage).VA

		npa := img.index.translate(va)
		if npa == 0 {
			img.index.lockShard(va)
			if err := img.index.mapVA(va, pa, false); err != nil {
				return err
			}
		} else if npa != pa {
			if img.alloc.zonePAType(npa) != zoneN {
				invariant("scanZZone", "va %d already mapped to unexpected pa %d", va, npa)
			}
			img.cnt.leakedZSlots.Add(1)
		}
	}
	return nil
}

// pickZZone picks the current Z-zone and, if it is a previously-used,
// not-yet-full Z-zone, rescans it to recover the mappings a crash lost
// (Z-zone occupancy is never made durable).
func (img *Image) pickZZone() error {
	zt := img.alloc.zt
	for i := uint64(0); i < zt.h.NrZones; i++ {
		e := zt.entries[i]
		if e.typ == zoneUnused {
			if err := zt.markZone(i, zoneZ); err != nil {
				return err
			}
			if err := zt.writeZeroes(i); err != nil {
				return err
			}
			img.alloc.idZZone = i
			return nil
		}
		if e.typ == zoneZ {
			if e.nextID == 0 {
				img.alloc.idZZone = i
				if err := img.scanZZone(i); err != nil {
					return err
				}
				if uint64(zt.entries[i].nextID) != img.alloc.nrZoneUnit {
					return nil // a half-used zone: stop here, this is current
				}
				continue // this zone turned out to be completely full; keep looking
			}
			if uint64(e.nextID) != img.alloc.nrZoneUnit {
				invariant("pickZZone", "z-zone %d has partial synced counter %d", i, e.nextID)
			}
		}
	}
	return errors.New("selfie: no zone available to become the Z-zone")
}

// recover runs the full open-time recovery sequence: load the zone table,
// pick the current L/N-zones, load the index (discarding anything past
// those cursors), then pick (and rescan) the current Z-zone.
func (img *Image) recover() error {
	if err := img.alloc.zt.load(); err != nil {
		return err
	}

	lzone, err := pickLZone(img.alloc.zt, img.alloc)
	if err != nil {
		return err
	}
	img.alloc.idLZone = lzone

	nzone, err := pickNZone(img.alloc.zt, img.alloc)
	if err != nil {
		return err
	}
	img.alloc.idNZone = nzone

	if err := img.index.load(); err != nil {
		return err
	}

	return img.pickZZone()
}
