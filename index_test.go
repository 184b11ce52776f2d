// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecomposeVA(t *testing.T) {
	const shift = 12
	va := uint64(5)<<(shift+18) | uint64(7)<<(shift+9) | uint64(3)<<shift
	idL1, idL2, idPg := decomposeVA(va, shift)
	require.EqualValues(t, 5, idL1)
	require.EqualValues(t, 7, idL2)
	require.EqualValues(t, 3, idPg)
}

func TestIndexTranslateUnmapped(t *testing.T) {
	img, _ := newTestImage(8)
	require.EqualValues(t, 0, img.index.translate(0))
	require.EqualValues(t, 0, img.index.translate(1<<30))
}

func TestIndexMapAndTranslate(t *testing.T) {
	img, _ := newTestImage(8)
	va := uint64(3) << img.h.BlockShift

	img.index.lockShard(va)
	require.NoError(t, img.index.mapVA(va, 0x1000, true))
	require.EqualValues(t, 0x1000, img.index.translate(va))
}

func TestIndexWriteIDPersistsAcrossReload(t *testing.T) {
	img, be := newTestImage(8)
	va := uint64(9) << img.h.BlockShift

	img.index.lockShard(va)
	require.NoError(t, img.index.mapVA(va, 0x4000, true))

	reloaded := newIndex(img.h, be, img.alloc, &counters{})
	require.NoError(t, reloaded.load())
	require.EqualValues(t, 0x4000, reloaded.translate(va))
}

func TestIndexMapWithoutFlushIsNotDurable(t *testing.T) {
	img, be := newTestImage(8)
	va := uint64(2) << img.h.BlockShift

	img.index.lockShard(va)
	require.NoError(t, img.index.mapVA(va, 0x7000, false))
	require.EqualValues(t, 0x7000, img.index.translate(va)) // visible in memory

	reloaded := newIndex(img.h, be, img.alloc, &counters{})
	require.NoError(t, reloaded.load())
	require.EqualValues(t, 0, reloaded.translate(va)) // not persisted
}
