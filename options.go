// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package selfie

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// CreateOptions are the parameters accepted by Create. Capacity, ClusterSize,
// and ZoneSize accept byte counts or size-suffixed strings ("64M", "4k")
// through ParseSize; the zero value of each numeric field falls back to the
// original driver's defaults.
type CreateOptions struct {
	Capacity    uint64
	ClusterSize uint64
	ZoneSize    uint64
	Init        string // "none", "trim", or "zero" (default)
}

const (
	defaultCapacity    = 1024 * 1024
	defaultClusterSize = 4 * 1024
	defaultZoneSize    = 4 * 1024 * 1024
)

// sizeValue adapts a uint64 byte count to pflag.Value so create-option
// strings can be registered on a *pflag.FlagSet the way a real CLI option
// parser would, instead of hand-rolling a bespoke flag map.
type sizeValue struct{ v *uint64 }

func (s sizeValue) String() string {
	if s.v == nil {
		return "0"
	}
	return strconv.FormatUint(*s.v, 10)
}

func (s sizeValue) Set(raw string) error {
	n, err := ParseSize(raw)
	if err != nil {
		return err
	}
	*s.v = n
	return nil
}

func (s sizeValue) Type() string { return "size" }

// ParseSize parses a byte count with an optional k/M/G/T suffix (binary,
// base 1024), mirroring qemu_opt_get_size's option-string convention.
func ParseSize(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("selfie: empty size")
	}
	mult := uint64(1)
	suffix := raw[len(raw)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1024
		raw = raw[:len(raw)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		raw = raw[:len(raw)-1]
	case 'g', 'G':
		mult = 1024 * 1024 * 1024
		raw = raw[:len(raw)-1]
	case 't', 'T':
		mult = 1024 * 1024 * 1024 * 1024
		raw = raw[:len(raw)-1]
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("selfie: invalid size %q: %v", raw, err)
	}
	return n * mult, nil
}

// parseCreateFlags builds a *pflag.FlagSet bound to a fresh CreateOptions,
// the shape a command-line `qemu-img create -o ...` front end would use to
// feed Create. Callers that already have a CreateOptions value (the normal
// path through Create) don't need this; it exists so size-suffixed option
// strings have one real parsing surface instead of a bespoke map.
func parseCreateFlags(args []string) (CreateOptions, error) {
	var opts CreateOptions
	fs := pflag.NewFlagSet("selfie-create", pflag.ContinueOnError)
	fs.Var(sizeValue{&opts.Capacity}, "size", "image virtual size")
	fs.Var(sizeValue{&opts.ClusterSize}, "cluster_size", "block size")
	fs.Var(sizeValue{&opts.ZoneSize}, "zone_size", "zone size")
	fs.StringVar(&opts.Init, "init", "zero", "zone initialization: none, trim, or zero")
	if err := fs.Parse(args); err != nil {
		return CreateOptions{}, err
	}
	return opts, nil
}
