// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

// iovTotalLen returns the sum of every slice's length in iov.
func iovTotalLen(iov [][]byte) int64 {
	var total int64
	for _, b := range iov {
		total += int64(len(b))
	}
	return total
}

// iovSectorAligned reports whether every entry's length is a whole number
// of sectors. Per spec.md §4.8, an iov entry whose byte length isn't
// sector-aligned is an invalid caller request, rejected with ErrInvalid
// rather than processed (the original driver only logs this case; the
// distilled spec promotes it to a proper rejection).
func iovSectorAligned(iov [][]byte) bool {
	for _, b := range iov {
		if len(b)%sectorSize != 0 {
			return false
		}
	}
	return true
}

// gatherCopy copies length bytes starting at byte offset off within the
// logical concatenation of iov into dst.
func gatherCopy(iov [][]byte, off int64, dst []byte) {
	pos := int64(0)
	written := 0
	for _, b := range iov {
		segEnd := pos + int64(len(b))
		if segEnd > off && written < len(dst) {
			start := off - pos
			if start < 0 {
				start = 0
			}
			n := copy(dst[written:], b[start:])
			written += n
		}
		pos = segEnd
		if written >= len(dst) {
			return
		}
	}
}

// scatterCopy copies src into the logical concatenation of iov starting at
// byte offset off.
func scatterCopy(iov [][]byte, off int64, src []byte) {
	pos := int64(0)
	read := 0
	for _, b := range iov {
		segEnd := pos + int64(len(b))
		if segEnd > off && read < len(src) {
			start := off - pos
			if start < 0 {
				start = 0
			}
			n := copy(b[start:], src[read:])
			read += n
		}
		pos = segEnd
		if read >= len(src) {
			return
		}
	}
}
