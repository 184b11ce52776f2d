// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"bytes"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// newScenarioImage creates and opens a fresh image file under t.TempDir,
// closing it automatically at test cleanup.
func newScenarioImage(t *testing.T, opts CreateOptions) *Image {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.selfie")
	require.NoError(t, Create(path, opts))
	img, err := Open(path, OpenReadWrite)
	require.NoError(t, err)
	t.Cleanup(func() { img.Close() })
	return img
}

// Scenario 1: create -> open -> read unmapped.
func TestScenarioCreateOpenReadUnmapped(t *testing.T) {
	img := newScenarioImage(t, CreateOptions{
		Capacity:    64 << 20,
		ClusterSize: 4096,
		ZoneSize:    4 << 20,
		Init:        "zero",
	})

	buf := make([]byte, 128*sectorSize)
	require.NoError(t, img.Read(0, 128, [][]byte{buf}))
	require.Equal(t, make([]byte, 65536), buf)
}

// Scenario 2: compressible write round-trip, must land in a Z-zone.
func TestScenarioCompressibleWriteRoundTrip(t *testing.T) {
	img := newScenarioImage(t, CreateOptions{Capacity: 64 << 20})

	payload := bytes.Repeat([]byte{0x41}, 4096)
	require.NoError(t, img.Write(0, 8, [][]byte{payload}))

	got := make([]byte, 4096)
	require.NoError(t, img.Read(0, 8, [][]byte{got}))
	require.Equal(t, payload, got)

	pa := img.index.translate(0)
	require.Equal(t, zoneZ, img.alloc.zonePAType(pa))
}

// Scenario 3: incompressible write falls back to an N-zone.
func TestScenarioIncompressibleFallback(t *testing.T) {
	img := newScenarioImage(t, CreateOptions{Capacity: 64 << 20})

	payload := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(payload)
	require.NoError(t, img.Write(8, 8, [][]byte{payload}))

	got := make([]byte, 4096)
	require.NoError(t, img.Read(8, 8, [][]byte{got}))
	require.Equal(t, payload, got)

	pa := img.index.translate(4096)
	require.Equal(t, zoneN, img.alloc.zonePAType(pa))
}

// Scenario 4: overwriting a Z-mapped block in place keeps the same PA.
func TestScenarioInPlaceZOverwrite(t *testing.T) {
	img := newScenarioImage(t, CreateOptions{Capacity: 64 << 20})

	require.NoError(t, img.Write(0, 8, [][]byte{bytes.Repeat([]byte{0x41}, 4096)}))
	firstPA := img.index.translate(0)

	require.NoError(t, img.Write(0, 8, [][]byte{bytes.Repeat([]byte{0x42}, 4096)}))
	secondPA := img.index.translate(0)
	require.Equal(t, firstPA, secondPA)

	got := make([]byte, 4096)
	require.NoError(t, img.Read(0, 8, [][]byte{got}))
	require.Equal(t, bytes.Repeat([]byte{0x42}, 4096), got)
}

// Scenario 5: partial tail write past the first 4 KiB sub-page of an
// otherwise-unmapped block, requiring cluster_size >= 8192.
func TestScenarioPartialBlockTailWrite(t *testing.T) {
	img := newScenarioImage(t, CreateOptions{Capacity: 64 << 20, ClusterSize: 8192})

	payload := bytes.Repeat([]byte{0x55}, 4096)
	require.NoError(t, img.Write(8, 8, [][]byte{payload})) // byte offset 4096, 4096 bytes

	got := make([]byte, 8192)
	require.NoError(t, img.Read(0, 16, [][]byte{got}))
	require.Equal(t, make([]byte, 4096), got[:4096])
	require.Equal(t, payload, got[4096:])

	pa := img.index.translate(0)
	require.Equal(t, zoneZ, img.alloc.zonePAType(pa))
}

// Scenario 6: crash recovery of a Z-zone. Writes land in the current
// Z-zone, the image is reopened without ever calling Close on the first
// handle (simulating a crash that still leaves durable data writes on
// disk), and the post-recovery image must read back the same content at
// the same physical addresses.
func TestScenarioCrashRecoveryOfZZone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.selfie")
	require.NoError(t, Create(path, CreateOptions{Capacity: 64 << 20}))

	img, err := Open(path, OpenReadWrite)
	require.NoError(t, err)

	blockSize := img.blockSize
	vas := []uint64{0, uint64(blockSize), uint64(2 * blockSize)}
	patterns := []byte{0xAA, 0xBB, 0xCC}
	pas := make([]int64, len(vas))
	for i, va := range vas {
		require.NoError(t, img.writeBlock(va, bytes.Repeat([]byte{patterns[i]}, int(blockSize))))
		pas[i] = img.index.translate(va)
		require.Equal(t, zoneZ, img.alloc.zonePAType(pas[i]))
	}
	require.NoError(t, img.io.Flush())
	// Deliberately skip img.Close(): the next Open must rebuild all volatile
	// state (including these soft Z mappings) purely from the backing file.

	reopened, err := Open(path, OpenReadWrite)
	require.NoError(t, err)
	defer reopened.Close()

	for i, va := range vas {
		require.Equal(t, pas[i], reopened.index.translate(va))
		block, err := reopened.readBlock(va)
		require.NoError(t, err)
		require.Equal(t, bytes.Repeat([]byte{patterns[i]}, int(blockSize)), block)
	}
}

func TestReadWriteRejectsOutOfRangeRequest(t *testing.T) {
	img := newScenarioImage(t, CreateOptions{Capacity: 64 << 20})

	buf := make([]byte, 512)
	err := img.Read(int64(img.h.Capacity/sectorSize), 1, [][]byte{buf})
	require.ErrorIs(t, err, ErrInvalid)

	err = img.Write(int64(img.h.Capacity/sectorSize), 1, [][]byte{buf})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestWriteRejectsUnalignedIOVEntry(t *testing.T) {
	img := newScenarioImage(t, CreateOptions{Capacity: 64 << 20})

	unaligned := make([]byte, 600) // not a multiple of 512
	err := img.Write(0, 2, [][]byte{unaligned, make([]byte, 424)})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestWriteRejectsOnReadOnlyImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ro.selfie")
	require.NoError(t, Create(path, CreateOptions{Capacity: 64 << 20}))

	img, err := Open(path, OpenReadOnly)
	require.NoError(t, err)
	defer img.Close()

	err = img.Write(0, 8, [][]byte{make([]byte, 4096)})
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestProbeIdentifiesCreatedImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.selfie")
	require.NoError(t, Create(path, CreateOptions{Capacity: 64 << 20}))

	img, err := Open(path, OpenReadOnly)
	require.NoError(t, err)
	defer img.Close()

	buf := make([]byte, 16)
	n, err := img.io.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 16, n)
	require.Equal(t, 100, Probe(buf))
}
