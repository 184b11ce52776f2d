// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"os"

	"github.com/sirupsen/logrus"
)

const sectorSize = 512

// OpenFlags controls how Open accesses the backing file.
type OpenFlags uint32

const (
	// OpenReadWrite is the default: the image may be read and written.
	OpenReadWrite OpenFlags = 0
	// OpenReadOnly opens the image read-only; Write always returns ErrReadOnly.
	OpenReadOnly OpenFlags = 1 << iota
)

// Image is one open Selfie image. It owns the backing file handle and the
// zone table, allocator, and index built from it at open time.
type Image struct {
	h         *Header
	io        backingIO
	alloc     *allocator
	index     *index
	zt        *zoneTable
	readOnly  bool
	blockSize int64

	cnt *counters
	log *logrus.Entry
}

// Open loads an existing Selfie image, running the full recovery procedure
// before returning.
func Open(filename string, flags OpenFlags) (*Image, error) {
	readOnly := flags&OpenReadOnly != 0
	fileFlag := os.O_RDWR
	if readOnly {
		fileFlag = os.O_RDONLY
	}

	be, err := NewBlockBackend(filename, fileFlag)
	if err != nil {
		return nil, err
	}

	h, err := readHeader(be)
	if err != nil {
		be.Close()
		return nil, err
	}

	cnt := &counters{}
	zt := newZoneTable(be, h, readOnly, cnt)
	alloc := newAllocator(zt, h)
	ix := newIndex(h, be, alloc, cnt)

	img := &Image{
		h:         h,
		io:        be,
		alloc:     alloc,
		index:     ix,
		zt:        zt,
		readOnly:  readOnly,
		blockSize: h.BlockSize(),
		cnt:       cnt,
		log:       componentLog("open"),
	}

	if err := img.recover(); err != nil {
		be.Close()
		return nil, err
	}

	img.log.WithFields(logrus.Fields{
		"capacity":   h.Capacity,
		"block_size": img.blockSize,
		"nr_zones":   h.NrZones,
	}).Info("image opened")

	return img, nil
}

// Close flushes and releases the backing file.
func (img *Image) Close() error {
	if !img.readOnly {
		if err := img.io.Flush(); err != nil {
			return err
		}
	}
	return img.io.Close()
}

// Read fills iov with nbSectors sectors of image content starting at
// sectorNum, zero-filling any range that is not backed by mapped storage.
func (img *Image) Read(sectorNum, nbSectors int64, iov [][]byte) (err error) {
	defer recoverInvariant(&err)

	if sectorNum < 0 || nbSectors < 0 {
		return ErrInvalid
	}
	byteOff := sectorNum * sectorSize
	length := nbSectors * sectorSize
	if byteOff < 0 || length < 0 || byteOff+length > int64(img.h.Capacity) {
		return ErrInvalid
	}
	if iovTotalLen(iov) < length {
		return ErrInvalid
	}
	if !iovSectorAligned(iov) {
		return ErrInvalid
	}

	pos := int64(0)
	for pos < length {
		blockVA := uint64(byteOff+pos) - uint64(byteOff+pos)%uint64(img.blockSize)
		blockOff := (byteOff + pos) % img.blockSize
		n := img.blockSize - blockOff
		if n > length-pos {
			n = length - pos
		}
		block, err := img.readBlock(blockVA)
		if err != nil {
			return err
		}
		scatterCopy(iov, pos, block[blockOff:blockOff+n])
		pos += n
	}
	return nil
}

// Write stores nbSectors sectors of iov content starting at sectorNum.
func (img *Image) Write(sectorNum, nbSectors int64, iov [][]byte) (err error) {
	defer recoverInvariant(&err)

	if img.readOnly {
		return ErrReadOnly
	}
	if sectorNum < 0 || nbSectors < 0 {
		return ErrInvalid
	}
	byteOff := sectorNum * sectorSize
	length := nbSectors * sectorSize
	if byteOff < 0 || length < 0 || byteOff+length > int64(img.h.Capacity) {
		return ErrInvalid
	}
	if iovTotalLen(iov) < length {
		return ErrInvalid
	}
	if !iovSectorAligned(iov) {
		return ErrInvalid
	}

	pos := int64(0)
	for pos < length {
		blockVA := uint64(byteOff+pos) - uint64(byteOff+pos)%uint64(img.blockSize)
		blockOff := (byteOff + pos) % img.blockSize
		n := img.blockSize - blockOff
		if n > length-pos {
			n = length - pos
		}
		data := make([]byte, n)
		gatherCopy(iov, pos, data)

		var werr error
		if blockOff == 0 && n == img.blockSize {
			werr = img.writeBlock(blockVA, data)
		} else {
			werr = img.writePartial(uint64(byteOff+pos), int(blockOff), data)
		}
		if werr != nil {
			return werr
		}
		pos += n
	}
	return nil
}

// ImageInfo summarizes the static layout of an open image, per spec.md §6's
// get_info(bs) surface.
type ImageInfo struct {
	VirtualSize int64
	BlockSize   int64
	ZoneSize    int64
	NrZones     int64
	NrL1        int64

	// UnallocatedBlocksAreZero mirrors the driver surface's
	// unallocated_blocks_are_zero flag: an unmapped VA always reads as
	// zero. Per spec.md §9's Open Question, this only actually holds when
	// InitType != InitNone (a prior host could otherwise have left
	// non-zero bytes in a zone this engine hasn't claimed yet); callers
	// creating images with InitNone get a false value here instead of a
	// silently-violated guarantee.
	UnallocatedBlocksAreZero bool
	// NeedsCompressedWrites is always false: the engine compresses
	// opportunistically on its own write path and accepts raw block
	// content from callers.
	NeedsCompressedWrites bool
}

// GetInfo reports the image's static layout.
func (img *Image) GetInfo() ImageInfo {
	return ImageInfo{
		VirtualSize:              int64(img.h.Capacity),
		BlockSize:                img.blockSize,
		ZoneSize:                 int64(img.h.ZoneSize),
		NrZones:                  int64(img.h.NrZones),
		NrL1:                     int64(img.h.NrL1),
		UnallocatedBlocksAreZero: img.h.InitType != InitNone,
		NeedsCompressedWrites:    false,
	}
}

// GetAllocatedSize returns the number of bytes actually claimed from the
// backing file: every zone not still ZONE_TYPE_0, at full zone size,
// regardless of how full its allocator cursor is, plus HeaderSize.
func (img *Image) GetAllocatedSize() (int64, error) {
	img.alloc.mu.Lock()
	defer img.alloc.mu.Unlock()

	var claimed int64
	for _, e := range img.zt.entries {
		if e.typ != zoneUnused {
			claimed++
		}
	}
	return claimed*int64(img.h.ZoneSize) + HeaderSize, nil
}
