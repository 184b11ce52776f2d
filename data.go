// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"github.com/pkg/errors"
)

// readBlock returns the pageSize-aligned block starting at va, zero-filling
// when the VA is unmapped or its Z page fails to decode rather than
// surfacing an I/O error: an unmapped block reads as all zero, same as a
// thin-provisioned device.
func (img *Image) readBlock(va uint64) ([]byte, error) {
	pa := img.index.translate(va)
	if pa == 0 {
		return make([]byte, img.blockSize), nil
	}

	// Always read the full block_size region first: for a Z slot, only the
	// leading 4 KiB sub-page is compressed, so any bytes beyond it are
	// already the raw tail content this read needs to return unchanged.
	buf := make([]byte, img.blockSize)
	if _, err := img.io.ReadAt(buf, pa); err != nil {
		return nil, errors.Wrap(err, "selfie: read-block failed")
	}

	class := img.alloc.zonePAType(pa)
	switch class {
	case zoneN:
		return buf, nil
	case zoneZ:
		raw, ok := decodePage(buf[:pageSize])
		if !ok {
			return make([]byte, img.blockSize), nil
		}
		copy(buf[:pageSize], raw)
		return buf, nil
	default:
		invariant("readBlock", "pa %d resolves to non-data zone class %d", pa, class)
		return nil, nil // unreachable
	}
}

// writeBlock stores a full pageSize-aligned block at va. An unmapped VA gets
// a fresh Z allocation when its first 4 KiB compresses and an N allocation
// otherwise; a mapped Z-zone slot whose new content no longer compresses
// falls through to a fresh N-zone allocation; a
// mapped N-zone slot is always overwritten in place, and a mapped Z-zone
// slot is overwritten in place only when the new content still compresses
// into the same pageSize footprint.
func (img *Image) writeBlock(va uint64, raw []byte) error {
	img.index.lockShard(va)
	pa := img.index.translateLocked(va)

	if pa == 0 {
		return img.writeBlockUnmapped(va, raw)
	}

	class := img.alloc.zonePAType(pa)
	switch class {
	case zoneZ:
		return img.writeBlockOverZ(va, pa, raw)
	case zoneN:
		img.index.unlockShard(va)
		if _, err := img.io.WriteAt(raw, pa); err != nil {
			return errors.Wrap(err, "selfie: in-place N write failed")
		}
		return nil
	default:
		img.index.unlockShard(va)
		invariant("writeBlock", "pa %d resolves to non-data zone class %d", pa, class)
		return nil // unreachable
	}
}

// writeBlockUnmapped handles a first write to va: the shard lock is already
// held by the caller and is released by mapVA. An N mapping is persisted
// immediately; a Z mapping is installed softly and recovered at open time by
// the Z-zone scan.
func (img *Image) writeBlockUnmapped(va uint64, raw []byte) error {
	pa, err := img.allocForContent(va, raw)
	if err != nil {
		img.index.unlockShard(va)
		return err
	}
	return img.index.mapVA(va, pa, img.alloc.zonePAType(pa) == zoneN)
}

// writeBlockOverZ handles a write to a VA currently mapped into a Z page.
// If the new content still compresses to fit, it is rewritten in place
// (same PA, no index change, no map() call needed); otherwise the old Z
// slot is abandoned (it becomes a leaked slot, recovered only by a future
// rebuild, never compacted by this engine) and a fresh allocation is made.
func (img *Image) writeBlockOverZ(va uint64, pa int64, raw []byte) error {
	zpage, ok, err := encodePage(raw[:pageSize], va)
	if err != nil {
		img.index.unlockShard(va)
		return err
	}
	if ok {
		img.index.unlockShard(va)
		if _, err := img.io.WriteAt(zpage, pa); err != nil {
			return errors.Wrap(err, "selfie: in-place Z write failed")
		}
		if img.blockSize > pageSize {
			if _, err := img.io.WriteAt(raw[pageSize:], pa+pageSize); err != nil {
				return errors.Wrap(err, "selfie: in-place Z tail write failed")
			}
		}
		return nil
	}

	img.cnt.leakedZSlots.Add(1)

	newPA, err := img.allocUnit(zoneN, raw)
	if err != nil {
		img.index.unlockShard(va)
		return err
	}
	return img.index.mapVA(va, newPA, true)
}

// allocForContent picks the class for a brand-new mapping: Z when raw's
// first 4 KiB sub-page compresses within budget, N otherwise. Only the
// leading sub-page is ever compressed; any bytes beyond it are carried as a
// raw tail appended after the compressed page, per spec's "first page
// compressed, rest raw" contract.
func (img *Image) allocForContent(va uint64, raw []byte) (int64, error) {
	zpage, ok, err := encodePage(raw[:pageSize], va)
	if err != nil {
		return 0, err
	}
	if ok {
		payload := zpage
		if img.blockSize > pageSize {
			payload = append(append([]byte(nil), zpage...), raw[pageSize:]...)
		}
		return img.allocUnit(zoneZ, payload)
	}
	return img.allocUnit(zoneN, raw)
}

// allocUnit claims one block-sized unit of class and writes payload to it,
// counting the write by class for Image.Counters().
func (img *Image) allocUnit(class uint32, payload []byte) (int64, error) {
	pa, err := img.alloc.allocUnit(class)
	if err != nil {
		return 0, err
	}
	if _, err := img.io.WriteAt(payload, pa); err != nil {
		return 0, errors.Wrap(err, "selfie: data write failed")
	}
	switch class {
	case zoneZ:
		img.cnt.writesZ.Add(1)
	case zoneN:
		img.cnt.writesN.Add(1)
	}
	return pa, nil
}

// writePartial handles a write that does not cover a whole block: sub-block
// writes always go through a read-modify-write of the owning block, except
// for the pure tail case (the write starts at or past the first 4 KiB
// sub-page) where the backing Z/N slot's layout lets us write the tail
// bytes in place without touching the head.
func (img *Image) writePartial(va uint64, offset int, data []byte) error {
	blockOff := int(va % uint64(img.blockSize))
	if blockOff != offset {
		invariant("writePartial", "va %d does not align to offset %d", va, offset)
	}
	blockVA := va - uint64(offset)

	if offset == 0 && len(data) == int(img.blockSize) {
		return img.writeBlock(blockVA, data)
	}

	if offset >= pageHeadOverlapLimit {
		return img.writeTailInPlace(blockVA, offset, data)
	}

	full, err := img.readBlock(blockVA)
	if err != nil {
		return err
	}
	copy(full[offset:], data)
	return img.writeBlock(blockVA, full)
}

// pageHeadOverlapLimit is the first offset within a block that can no
// longer overlap the first 4 KiB sub-page of a Z slot; writes starting here
// or later may bypass the read-modify-write path. Offsets inside the first
// 4 KiB always go through read-modify-write because that sub-page may be
// compressed and cannot be patched without decoding it first.
const pageHeadOverlapLimit = pageSize

// writeTailInPlace writes data directly into an already-mapped slot without
// a read-modify-write round trip. Bytes past the first 4 KiB sub-page are
// raw in both Z- and N-zones (a Z slot only ever compresses its head), so
// both classes can be patched in place here; only an unmapped VA falls back
// to the general read-modify-write path (there is no slot yet to patch).
func (img *Image) writeTailInPlace(blockVA uint64, offset int, data []byte) error {
	img.index.lockShard(blockVA)
	pa := img.index.translateLocked(blockVA)
	if pa == 0 {
		img.index.unlockShard(blockVA)
		full, err := img.readBlock(blockVA)
		if err != nil {
			return err
		}
		copy(full[offset:], data)
		return img.writeBlock(blockVA, full)
	}
	img.index.unlockShard(blockVA)
	if _, err := img.io.WriteAt(data, pa+int64(offset)); err != nil {
		return errors.Wrap(err, "selfie: in-place tail write failed")
	}
	return nil
}
