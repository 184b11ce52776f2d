// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// magic is the first 8 bytes of every Selfie image.
var magic = [8]byte{'Z', 'B', 'D', 'M', 'A', 'G', 'I', 'C'}

// Init type values for Header.InitType.
const (
	InitNone uint64 = iota
	InitTrim
	InitZero
)

// Header is the immutable-after-creation Selfie image header, stored at
// offset 0. All multi-byte integers are little-endian (resolved Open
// Question, see DESIGN.md).
type Header struct {
	Magic      [8]byte
	Capacity   uint64 // image size, in bytes
	BlockShift uint64 // block_size = 1 << BlockShift
	NrL1       uint64
	ZoneSize   uint64
	NrZones    uint64
	PAZoneInfo uint64 // offset of zone-info table
	PAL1       uint64 // offset of L1 page array
	PAZones    uint64 // offset of the zone data region
	InitType   uint64
}

// HeaderSize is the on-disk size of Header.
const HeaderSize = 8 + 8*9

// BlockSize returns 1 << BlockShift.
func (h *Header) BlockSize() int64 { return 1 << h.BlockShift }

// encode serializes the header fields to their little-endian on-disk form.
func (h *Header) encode() []byte {
	var buf bytes.Buffer
	buf.Write(h.Magic[:])
	var u64 [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(u64[:], v)
		buf.Write(u64[:])
	}
	put(h.Capacity)
	put(h.BlockShift)
	put(h.NrL1)
	put(h.ZoneSize)
	put(h.NrZones)
	put(h.PAZoneInfo)
	put(h.PAL1)
	put(h.PAZones)
	put(h.InitType)
	return buf.Bytes()
}

func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, errors.New("selfie: short header read")
	}
	h := &Header{}
	copy(h.Magic[:], buf[0:8])
	if h.Magic != magic {
		return nil, errors.New("selfie: bad magic")
	}
	r := buf[8:]
	get := func(i int) uint64 { return binary.LittleEndian.Uint64(r[i*8 : i*8+8]) }
	h.Capacity = get(0)
	h.BlockShift = get(1)
	h.NrL1 = get(2)
	h.ZoneSize = get(3)
	h.NrZones = get(4)
	h.PAZoneInfo = get(5)
	h.PAL1 = get(6)
	h.PAZones = get(7)
	h.InitType = get(8)
	return h, nil
}

// writeHeader persists the header at offset 0.
func writeHeader(io backingIO, h *Header) error {
	_, err := io.WriteAt(h.encode(), 0)
	if err != nil {
		return errors.Wrap(err, "selfie: could not write header")
	}
	return nil
}

// readHeader loads the header from offset 0.
func readHeader(io backingIO) (*Header, error) {
	buf := make([]byte, HeaderSize)
	n, err := io.ReadAt(buf, 0)
	if err != nil {
		return nil, errors.Wrap(err, "selfie: could not read header")
	}
	if n < HeaderSize {
		return nil, errors.New("selfie: short header read")
	}
	return decodeHeader(buf)
}

// Probe identifies the format: 100 on magic match, 0 otherwise.
func Probe(buf []byte) int {
	if len(buf) < 8 {
		return 0
	}
	if bytes.Equal(buf[:8], magic[:]) {
		return 100
	}
	return 0
}
