// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"os"

	"github.com/pkg/errors"
)

// layout is the set of derived placement values Create computes from
// CreateOptions before writing anything to disk.
type layout struct {
	blockShift uint64
	nrL1       uint64
	zoneSize   uint64
	nrZones    uint64
	zonePages  uint64 // pages occupied by the zone-info table
	paZoneInfo uint64
	paL1       uint64
	paZones    uint64
	initType   uint64
}

// computeLayout derives a layout from validated create options, following
// the same arithmetic the original driver's create path uses: block_shift
// from cluster_size, nr_l1 from how many 2-level trees capacity needs,
// nr_zones as 2x+1 the number of zone_size chunks in capacity (room to
// always have a free zone to roll into), and the zone-info/L1 regions
// placed back to back starting at page 1 (page 0 is the header).
func computeLayout(opts CreateOptions) (layout, error) {
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = defaultCapacity
	}
	clusterSize := opts.ClusterSize
	if clusterSize == 0 {
		clusterSize = defaultClusterSize
	}
	zoneSize := opts.ZoneSize
	if zoneSize == 0 {
		zoneSize = defaultZoneSize
	}

	if clusterSize < pageSize || clusterSize&(clusterSize-1) != 0 {
		return layout{}, errors.Wrap(ErrInvalid, "selfie: cluster_size must be a power of two >= 4096")
	}
	if zoneSize < clusterSize || zoneSize&(zoneSize-1) != 0 {
		return layout{}, errors.Wrap(ErrInvalid, "selfie: zone_size must be a power of two >= cluster_size")
	}
	if capacity == 0 || capacity%clusterSize != 0 {
		return layout{}, errors.Wrap(ErrInvalid, "selfie: size must be a nonzero multiple of cluster_size")
	}

	shift := uint64(12)
	for uint64(1)<<shift < clusterSize {
		shift++
	}

	sizeL1 := clusterSize * 512 * 512
	nrL1 := uint64(1)
	for nrL1*sizeL1 < capacity {
		nrL1++
	}

	nrZones := (capacity/zoneSize)*2 + 1
	zonePages := (nrZones*zoneInfoEntrySize)/pageSize + 1

	initType := InitZero
	switch opts.Init {
	case "trim":
		initType = InitTrim
	case "none":
		initType = InitNone
	case "", "zero":
		initType = InitZero
	default:
		return layout{}, errors.Wrapf(ErrInvalid, "selfie: unknown init mode %q", opts.Init)
	}

	return layout{
		blockShift: shift,
		nrL1:       nrL1,
		zoneSize:   zoneSize,
		nrZones:    nrZones,
		zonePages:  zonePages,
		paZoneInfo: pageSize,
		paL1:       pageSize * (zonePages + 1),
		paZones:    pageSize * (zonePages + nrL1 + 1),
		initType:   initType,
	}, nil
}

// Create lays out and formats a new Selfie image file. The header, zone-
// info table, and L1 page array are written; the zone data region itself
// is left untouched until zones are claimed (zones start unused and are
// formatted on first claim, not at create time).
func Create(filename string, opts CreateOptions) error {
	lay, err := computeLayout(opts)
	if err != nil {
		return err
	}
	capacity := opts.Capacity
	if capacity == 0 {
		capacity = defaultCapacity
	}

	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrap(err, "selfie: could not create image file")
	}
	be := &BlockBackend{file: f, readOnly: false, writeCacheEnabled: true}
	defer be.Close()

	h := &Header{
		Magic:      magic,
		Capacity:   capacity,
		BlockShift: lay.blockShift,
		NrL1:       lay.nrL1,
		ZoneSize:   lay.zoneSize,
		NrZones:    lay.nrZones,
		PAZoneInfo: lay.paZoneInfo,
		PAL1:       lay.paL1,
		PAZones:    lay.paZones,
		InitType:   lay.initType,
	}
	if err := writeHeader(be, h); err != nil {
		return err
	}

	zeroesSize := (lay.zonePages + lay.nrL1) * pageSize
	if err := be.WriteZeroesAt(int64(lay.paZoneInfo), int64(zeroesSize)); err != nil {
		return err
	}

	return be.Flush()
}
