// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

const (
	l1Entries      = 512
	l2Entries      = 512
	indexLockScale = 64
)

// indexNode is the in-memory state for one L1 slot. l1Page holds the PA of
// each of the 512 possible L2 pages (0 = none); l2Pages holds the
// lazily-allocated in-memory copy of each L2 page actually touched.
type indexNode struct {
	mu      sync.Mutex // write_lock: serializes L1/L2 persistence for this node
	l1Dirty bool
	l1Page  []uint64 // len l1Entries once loaded
	l2Dirty [l2Entries]bool
	l2Pages [l2Entries][]uint64 // each nil, or len l2Entries once allocated
}

// index is the two-level VA->PA translation table.
//
// A C implementation of this structure can get away with lock-free reads
// that tolerate a racing 0->non-zero word write, but Go's memory model
// makes no such promise to an unsynchronized reader. This port takes a
// shard lock for reads too, using sync.RWMutex per shard so uncontended
// reads still don't serialize against each other.
type index struct {
	h          *Header
	io         backingIO
	alloc      *allocator
	blockShift uint64
	cnt        *counters

	nodes []*indexNode
	shard [indexLockScale]sync.RWMutex
}

func newIndex(h *Header, io backingIO, alloc *allocator, cnt *counters) *index {
	ix := &index{h: h, io: io, alloc: alloc, blockShift: h.BlockShift, cnt: cnt}
	ix.nodes = make([]*indexNode, h.NrL1)
	for i := range ix.nodes {
		ix.nodes[i] = &indexNode{}
	}
	return ix
}

// decomposeVA splits an aligned VA into (id_l1, id_l2, id_pg).
func decomposeVA(va uint64, blockShift uint64) (idL1, idL2, idPg uint64) {
	idL1 = va >> (blockShift + 18)
	idL2 = (va >> (blockShift + 9)) & 0x1FF
	idPg = (va >> blockShift) & 0x1FF
	return
}

func shardFor(va uint64, blockShift uint64) uint64 {
	return (va >> blockShift) % indexLockScale
}

// lockShard acquires the writer-exclusion shard lock for va. Callers in
// data.go hold it across translate+mutate and release it either directly
// or by calling mapVA, which releases it internally.
func (ix *index) lockShard(va uint64) {
	ix.shard[shardFor(va, ix.blockShift)].Lock()
}

func (ix *index) unlockShard(va uint64) {
	ix.shard[shardFor(va, ix.blockShift)].Unlock()
}

// translate is a pure lookup; it returns 0 when unmapped.
func (ix *index) translate(va uint64) int64 {
	shard := &ix.shard[shardFor(va, ix.blockShift)]
	shard.RLock()
	defer shard.RUnlock()
	return ix.translateLocked(va)
}

// translateLocked is translate's body, for callers that already hold the
// va's shard lock (via lockShard) and would otherwise deadlock re-acquiring
// it: sync.RWMutex is not reentrant, and Lock then RLock (or RLock then
// RLock after a writer queues) from the same goroutine blocks forever.
func (ix *index) translateLocked(va uint64) int64 {
	idL1, idL2, idPg := decomposeVA(va, ix.blockShift)
	if idL1 >= uint64(len(ix.nodes)) {
		return 0
	}
	node := ix.nodes[idL1]
	l2 := node.l2Pages[idL2]
	if l2 == nil {
		return 0
	}
	return int64(l2[idPg])
}

// mapVA installs the va->pa mapping (allocating the L2 page on first use),
// optionally flushing it durably, and always releases the shard lock taken
// by the caller via lockShard.
func (ix *index) mapVA(va uint64, pa int64, flush bool) error {
	defer ix.unlockShard(va)

	idL1, idL2, idPg := decomposeVA(va, ix.blockShift)
	if idL1 >= uint64(len(ix.nodes)) {
		invariant("mapVA", "id_l1 %d out of range", idL1)
	}
	node := ix.nodes[idL1]

	if node.l2Pages[idL2] == nil {
		node.l2Pages[idL2] = make([]uint64, l2Entries)
	}
	if node.l2Pages[idL2][idPg] != uint64(pa) {
		node.l2Pages[idL2][idPg] = uint64(pa)
		node.l2Dirty[idL2] = true
	}

	if flush {
		return ix.writeID(idL1, idL2)
	}
	return nil
}

// writeID persists a dirty L2 page (allocating its L-zone slot if this is
// its first write) and then a dirty L1 page, under the node's write lock.
// L2 is written before L1 so a crash sees either the old L1 (old L2 still
// referenced) or the new L1 (new L2 already on disk).
func (ix *index) writeID(idL1, idL2 uint64) error {
	node := ix.nodes[idL1]
	node.mu.Lock()
	defer node.mu.Unlock()

	if node.l2Dirty[idL2] {
		if node.l1Page[idL2] == 0 {
			pa, err := ix.alloc.allocL()
			if err != nil {
				return err
			}
			node.l1Page[idL2] = uint64(pa)
			node.l1Dirty = true
		}
		paL2 := int64(node.l1Page[idL2])
		if ix.alloc.zonePAType(paL2) != zoneL {
			invariant("writeID", "l2 slot pa %d not in an L-zone", paL2)
		}
		if _, err := ix.io.WriteAt(encodeUint64Page(node.l2Pages[idL2]), paL2); err != nil {
			return errors.Wrap(err, "selfie: could not write L2 page")
		}
		ix.cnt.writesL2.Add(1)
		node.l2Dirty[idL2] = false
	}

	if node.l1Dirty {
		paL1 := int64(ix.h.PAL1) + int64(idL1)*pageSize
		if _, err := ix.io.WriteAt(encodeUint64Page(node.l1Page), paL1); err != nil {
			return errors.Wrap(err, "selfie: could not write L1 page")
		}
		ix.cnt.writesL1.Add(1)
		node.l1Dirty = false
	}
	return nil
}

// load reads every L1 page and, for each non-stale L2 pointer, its L2 page
// too, discarding anything that points past what the allocator's current
// L-zone and N-zone cursors (as set by pickLZone/pickNZone) actually
// claimed before the crash. It must run after those two are set and before
// the current Z-zone is scanned.
func (ix *index) load() error {
	nextPAL2 := ix.alloc.nextPA(zoneL)
	nextPAN := ix.alloc.nextPA(zoneN)

	for i := range ix.nodes {
		node := ix.nodes[i]
		pa := int64(ix.h.PAL1) + int64(i)*pageSize
		buf := make([]byte, pageSize)
		if _, err := ix.io.ReadAt(buf, pa); err != nil {
			return errors.Wrap(err, "selfie: could not load L1 page")
		}
		node.l1Page = decodeUint64Page(buf)

		for j, paL2 := range node.l1Page {
			if paL2 == 0 {
				continue
			}
			if int64(paL2) >= nextPAL2 {
				node.l1Page[j] = 0
				continue
			}
			if ix.alloc.zonePAType(int64(paL2)) != zoneL {
				invariant("index.load", "l1[%d][%d]=%d not in an L-zone", i, j, paL2)
			}
			l2buf := make([]byte, pageSize)
			if _, err := ix.io.ReadAt(l2buf, int64(paL2)); err != nil {
				return errors.Wrap(err, "selfie: could not load L2 page")
			}
			l2 := decodeUint64Page(l2buf)
			for k, paData := range l2 {
				if paData != 0 && ix.alloc.zonePAType(int64(paData)) == zoneN && int64(paData) >= nextPAN {
					l2[k] = 0
				}
			}
			node.l2Pages[j] = l2
		}
	}
	return nil
}

// encodeUint64Page/decodeUint64Page (de)serialize a 512-entry PA page to
// its 4096-byte little-endian on-disk form (used for both L1 and L2 pages).
func encodeUint64Page(entries []uint64) []byte {
	buf := make([]byte, pageSize)
	for i, v := range entries {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], v)
	}
	return buf
}

func decodeUint64Page(buf []byte) []uint64 {
	entries := make([]uint64, pageSize/8)
	for i := range entries {
		entries[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}
	return entries
}
