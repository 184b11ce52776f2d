// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"os"

	"github.com/pkg/errors"
)

// backingIO is the positioned read/write/discard/flush/write-zeroes surface
// the engine needs from the file holding the image: the underlying file I/O
// is treated as positioned primitives on a backing blob, never assumed to
// be a raw device. BlockBackend below is the concrete implementation over
// *os.File; tests substitute a fake.
type backingIO interface {
	ReadAt(buf []byte, off int64) (int, error)
	WriteAt(buf []byte, off int64) (int, error)
	WriteZeroesAt(off, length int64) error
	DiscardAt(off, length int64) error
	Flush() error
	Size() (int64, error)
	Close() error
}

// BlockBackend is the backing-file handle for one open Selfie image: a thin
// wrapper that owns the *os.File and knows whether it was opened read-only.
type BlockBackend struct {
	file     *os.File
	readOnly bool

	// writeCacheEnabled mirrors bs->enable_write_cache from the original
	// source: sync_zone only flushes when both flush=true and this is set.
	writeCacheEnabled bool
}

// NewBlockBackend opens filename per flag (os.O_RDWR or os.O_RDONLY) and
// returns the backing handle used by Open. Create builds its BlockBackend
// directly around the file it creates.
func NewBlockBackend(filename string, flag int) (*BlockBackend, error) {
	f, err := os.OpenFile(filename, flag, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "selfie: could not open backing file")
	}
	return &BlockBackend{
		file:              f,
		readOnly:          flag&(os.O_WRONLY|os.O_RDWR) == 0,
		writeCacheEnabled: true,
	}, nil
}

func (b *BlockBackend) ReadAt(buf []byte, off int64) (int, error) {
	n, err := b.file.ReadAt(buf, off)
	if n < len(buf) {
		// A short read (including io.EOF, which *os.File.ReadAt returns
		// whenever it can't fill buf) degrades to "treat as unmapped" for
		// the caller: zero-fill whatever didn't come back, per spec's
		// transient-short-read handling, rather than surfacing EOF as an
		// error for zone-info/index/header loads near the end of the file.
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		return len(buf), nil
	}
	return n, err
}

func (b *BlockBackend) WriteAt(buf []byte, off int64) (int, error) {
	if b.readOnly {
		return 0, ErrReadOnly
	}
	return b.file.WriteAt(buf, off)
}

func (b *BlockBackend) WriteZeroesAt(off, length int64) error {
	if b.readOnly {
		return ErrReadOnly
	}
	zero := make([]byte, 1<<20)
	for length > 0 {
		n := int64(len(zero))
		if n > length {
			n = length
		}
		if _, err := b.file.WriteAt(zero[:n], off); err != nil {
			return errors.Wrap(err, "selfie: write-zeroes failed")
		}
		off += n
		length -= n
	}
	return nil
}

// DiscardAt hints that the range is no longer needed. A plain *os.File has
// no portable discard primitive, so this is a best-effort no-op: advisory,
// never fatal.
func (b *BlockBackend) DiscardAt(off, length int64) error {
	if b.readOnly {
		return ErrReadOnly
	}
	return nil
}

func (b *BlockBackend) Flush() error {
	if b.readOnly {
		return nil
	}
	return b.file.Sync()
}

func (b *BlockBackend) Size() (int64, error) {
	fi, err := b.file.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (b *BlockBackend) Close() error {
	return b.file.Close()
}

var _ backingIO = (*BlockBackend)(nil)
