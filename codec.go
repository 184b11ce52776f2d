// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"encoding/binary"
	"fmt"

	goz4x "github.com/harriteja/GoZ4X"
)

const (
	// pageSize is the fixed 4 KiB unit for L1/L2 pages and for the
	// compressed head of a Z block.
	pageSize = 4096

	// pageHeadSize is sizeof(SelfiePageHead): an 8-byte VA plus a 2-byte
	// zsize.
	pageHeadSize = 8 + 2

	// zdataSize is the maximum compressed payload that fits in one page
	// alongside its head.
	zdataSize = pageSize - pageHeadSize
)

// pageHead is the compressed-page header stored as the first pageHeadSize
// bytes of a Z block. zsize == 0 means "no valid compressed data".
type pageHead struct {
	VA    uint64
	ZSize uint16
}

func (h pageHead) encode() []byte {
	buf := make([]byte, pageHeadSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.VA)
	binary.LittleEndian.PutUint16(buf[8:10], h.ZSize)
	return buf
}

func decodePageHead(buf []byte) pageHead {
	return pageHead{
		VA:    binary.LittleEndian.Uint64(buf[0:8]),
		ZSize: binary.LittleEndian.Uint16(buf[8:10]),
	}
}

// encodePage attempts to compress one pageSize-byte page for storage in a
// Z block. It reports ok=false when the compressed form would not fit in
// zdataSize bytes — GoZ4X's CompressBlock has no notion of a hard output
// cap the way LZ4_compress_default does, so the cap is enforced here by
// checking the returned length (see DESIGN.md).
func encodePage(raw []byte, va uint64) (zpage []byte, ok bool, err error) {
	if len(raw) != pageSize {
		return nil, false, fmt.Errorf("selfie: encodePage: raw must be %d bytes, got %d", pageSize, len(raw))
	}
	compressed, cerr := goz4x.CompressBlock(raw, nil)
	if cerr != nil || len(compressed) > zdataSize {
		return nil, false, nil
	}
	head := pageHead{VA: va, ZSize: uint16(len(compressed))}
	out := make([]byte, pageSize)
	copy(out, head.encode())
	copy(out[pageHeadSize:], compressed)
	return out, true, nil
}

// decodePage inverts encodePage. It returns ok=false when the stored
// zsize is 0 ("no valid compressed data"); any other decode failure is
// treated as a fatal invariant violation.
func decodePage(zpage []byte) (raw []byte, ok bool) {
	head := decodePageHead(zpage)
	if head.ZSize == 0 {
		return nil, false
	}
	if int(head.ZSize) > zdataSize {
		invariant("decodePage", "zsize %d exceeds zdataSize %d", head.ZSize, zdataSize)
	}
	body := zpage[pageHeadSize : pageHeadSize+int(head.ZSize)]
	out, err := goz4x.DecompressBlock(body, make([]byte, pageSize), pageSize)
	if err != nil {
		invariant("decodePage", "decompress failed: %v", err)
	}
	if len(out) != pageSize {
		invariant("decodePage", "decompressed to %d bytes, want %d", len(out), pageSize)
	}
	return out, true
}
