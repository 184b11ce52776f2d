// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testAllocator(nrZones uint64) (*allocator, *zoneTable, *memBackend) {
	const zoneSize = 3 * pageSize // 3 blocks or 3 L2 pages per zone
	h := &Header{
		BlockShift: 12,
		ZoneSize:   zoneSize,
		NrZones:    nrZones,
		PAZoneInfo: pageSize,
		PAZones:    pageSize * 8,
	}
	be := newMemBackend(int64(h.PAZones) + int64(nrZones)*zoneSize)
	zt := newZoneTable(be, h, false, &counters{})
	zt.entries = make([]zoneInfoEntry, nrZones)
	return newAllocator(zt, h), zt, be
}

func TestAllocUnitClaimsFreshZoneWhenCurrentFull(t *testing.T) {
	alloc, zt, _ := testAllocator(4)
	require.NoError(t, zt.markZone(0, zoneN))
	alloc.idNZone = 0

	var pas []int64
	for i := 0; i < 4; i++ { // 3 units fit per zone, 4th forces a new zone
		pa, err := alloc.allocUnit(zoneN)
		require.NoError(t, err)
		pas = append(pas, pa)
	}
	require.Equal(t, zoneN, zt.entries[0].typ)
	require.EqualValues(t, 3, zt.entries[0].nextID)
	require.NotEqual(t, alloc.idNZone, uint64(0))
	require.Equal(t, zoneN, zt.entries[alloc.idNZone].typ)
	require.EqualValues(t, 1, zt.entries[alloc.idNZone].nextID)

	// all PAs distinct
	seen := map[int64]bool{}
	for _, pa := range pas {
		require.False(t, seen[pa])
		seen[pa] = true
	}
}

func TestAllocUnitPanicsWhenExhausted(t *testing.T) {
	alloc, zt, _ := testAllocator(1)
	require.NoError(t, zt.markZone(0, zoneN))
	alloc.idNZone = 0
	for i := 0; i < 3; i++ {
		_, err := alloc.allocUnit(zoneN)
		require.NoError(t, err)
	}
	require.Panics(t, func() { alloc.allocUnit(zoneN) })
}

func TestZonePATypeInvariants(t *testing.T) {
	alloc, zt, _ := testAllocator(2)
	require.NoError(t, zt.markZone(0, zoneZ))
	pa := alloc.zoneUnitPA(0, 0, zoneZ)
	require.Equal(t, zoneZ, alloc.zonePAType(pa))

	require.Panics(t, func() { alloc.zonePAType(int64(alloc.h.PAZones) - 1) })
}

func TestAllocLPersistsCounterImmediately(t *testing.T) {
	alloc, zt, _ := testAllocator(2)
	require.NoError(t, zt.markZone(0, zoneL))
	alloc.idLZone = 0

	before := zt.cnt.writesZone.Load()
	_, err := alloc.allocL()
	require.NoError(t, err)
	require.EqualValues(t, 1, zt.entries[0].nextID)
	require.EqualValues(t, before+1, zt.cnt.writesZone.Load())
}

func TestAllocUnitZDoesNotSyncZone(t *testing.T) {
	alloc, zt, _ := testAllocator(2)
	require.NoError(t, zt.markZone(0, zoneZ))
	alloc.idZZone = 0

	before := zt.cnt.writesZone.Load()
	_, err := alloc.allocUnit(zoneZ)
	require.NoError(t, err)
	require.EqualValues(t, 1, zt.entries[0].nextID)
	require.EqualValues(t, before, zt.cnt.writesZone.Load())
}
