// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"fmt"
	"syscall"

	"github.com/pkg/errors"
)

// Sentinel errors returned by the driver surface. ErrInvalid and
// ErrReadOnly wrap the syscall errno a block-device driver would return
// for the same condition, so callers can use errors.Is against either the
// sentinel or the underlying errno.
var (
	// ErrInvalid is returned for out-of-range I/O or invalid create parameters.
	ErrInvalid = errors.Wrap(syscall.EINVAL, "selfie: invalid argument")
	// ErrReadOnly is returned when a write is attempted on a read-only image.
	ErrReadOnly = errors.Wrap(syscall.EACCES, "selfie: image is read-only")
	// ErrCorrupt wraps an invariant violation recovered at the package boundary.
	ErrCorrupt = errors.New("selfie: image corrupt or invariant violated")
)

// InvariantError marks a corrupted image or a programming bug that the
// engine cannot recover from. Internal code paths
// panic with this type; Image.Read and Image.Write recover it and
// translate it into ErrCorrupt. Open does not recover it: a violation found
// during open-time recovery panics out of Open.
type InvariantError struct {
	Op  string
	Msg string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("selfie: invariant violation in %s: %s", e.Op, e.Msg)
}

func invariant(op, format string, args ...interface{}) {
	panic(&InvariantError{Op: op, Msg: fmt.Sprintf(format, args...)})
}

// recoverInvariant converts a panicking *InvariantError into ErrCorrupt.
// Any other panic value is re-raised: only invariant violations are part of
// this package's recoverable error taxonomy.
func recoverInvariant(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	ie, ok := r.(*InvariantError)
	if !ok {
		panic(r)
	}
	*errp = errors.Wrap(ErrCorrupt, ie.Error())
}
