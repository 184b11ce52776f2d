// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

// memBackend is an in-memory backingIO used across tests so they don't
// need a real file on disk to exercise the zone/index/data logic.
type memBackend struct {
	buf      []byte
	readOnly bool
}

func newMemBackend(size int64) *memBackend {
	return &memBackend{buf: make([]byte, size)}
}

func (m *memBackend) grow(to int64) {
	if to > int64(len(m.buf)) {
		grown := make([]byte, to)
		copy(grown, m.buf)
		m.buf = grown
	}
}

func (m *memBackend) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, m.buf[off:])
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

func (m *memBackend) WriteAt(p []byte, off int64) (int, error) {
	if m.readOnly {
		return 0, ErrReadOnly
	}
	m.grow(off + int64(len(p)))
	copy(m.buf[off:], p)
	return len(p), nil
}

func (m *memBackend) WriteZeroesAt(off, length int64) error {
	if m.readOnly {
		return ErrReadOnly
	}
	m.grow(off + length)
	for i := off; i < off+length; i++ {
		m.buf[i] = 0
	}
	return nil
}

func (m *memBackend) DiscardAt(off, length int64) error { return nil }
func (m *memBackend) Flush() error                      { return nil }
func (m *memBackend) Size() (int64, error)               { return int64(len(m.buf)), nil }
func (m *memBackend) Close() error                       { return nil }

var _ backingIO = (*memBackend)(nil)

// newTestImage builds a small header/allocator/index/image set entirely
// in memory, enough zones to exercise claiming several of each class.
func newTestImage(nrZones uint64) (*Image, *memBackend) {
	return newTestImageShift(nrZones, 12)
}

// newTestImageShift is newTestImage with a caller-chosen block_shift, used
// by tests that need block_size > 4096 to exercise the raw-tail region past
// a Z page's first 4 KiB sub-page.
func newTestImageShift(nrZones uint64, blockShift uint64) (*Image, *memBackend) {
	const zoneSize = 64 * 1024
	h := &Header{
		Magic:      magic,
		Capacity:   nrZones * zoneSize,
		BlockShift: blockShift,
		NrL1:       1,
		ZoneSize:   zoneSize,
		NrZones:    nrZones,
		PAZoneInfo: pageSize,
		PAL1:       pageSize * 2,
		PAZones:    pageSize * 4,
		InitType:   InitZero,
	}
	be := newMemBackend(int64(h.PAZones) + int64(nrZones)*zoneSize)

	cnt := &counters{}
	zt := newZoneTable(be, h, false, cnt)
	zt.entries = make([]zoneInfoEntry, nrZones)
	alloc := newAllocator(zt, h)
	ix := newIndex(h, be, alloc, cnt)

	img := &Image{
		h:         h,
		io:        be,
		alloc:     alloc,
		index:     ix,
		zt:        zt,
		blockSize: h.BlockSize(),
		cnt:       cnt,
		log:       componentLog("test"),
	}
	// Claim an initial Z/N/L zone the way recover() would on first open.
	img.alloc.idZZone = mustClaim(zt, 0, zoneZ)
	img.alloc.idNZone = mustClaim(zt, 1, zoneN)
	img.alloc.idLZone = mustClaim(zt, 2, zoneL)
	if err := ix.load(); err != nil {
		panic(err)
	}
	return img, be
}

func mustClaim(zt *zoneTable, id uint64, typ uint32) uint64 {
	if err := zt.markZone(id, typ); err != nil {
		panic(err)
	}
	return id
}
