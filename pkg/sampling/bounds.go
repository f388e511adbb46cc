// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package sampling

import "github.com/cockroachdb/kvauditor/pkg/keyspace"

// Tiered shard-size knobs: the maximum permitted shard size shrinks in
// steps as the database grows, so that a large database is partitioned into
// proportionally more, smaller shards. No retrieved source gives the
// store's actual knob values (see DESIGN.md); these are a from-scratch,
// plausible reconstruction of the shape spec.md §6 describes, named after
// the original's SERVER_KNOBS style rather than transcribed from it.
const (
	minShardSize          int64 = 200 << 10 // 200 KiB
	shardSizeStepA        int64 = 40 << 30  // 40 GiB
	shardSizeStepB        int64 = 80 << 30  // 80 GiB
	maxShardSizeSmallDB   int64 = 500 << 20 // 500 MiB
	maxShardSizeMediumDB  int64 = 250 << 20 // 250 MiB
	maxShardSizeLargeDB   int64 = 125 << 20 // 125 MiB
	permittedErrorDivisor int64 = 10
	minBoundsFraction     int64 = 4
)

// MaxShardSize returns the largest a shard is permitted to grow to before
// data distribution should have split it, as a function of the database's
// total size.
func MaxShardSize(dbSizeBytes int64) int64 {
	switch {
	case dbSizeBytes < shardSizeStepA:
		return maxShardSizeSmallDB
	case dbSizeBytes < shardSizeStepB:
		return maxShardSizeMediumDB
	default:
		return maxShardSizeLargeDB
	}
}

// ShardSizeBounds is the permitted [Min, Max] sampled-size range for a
// shard, plus the error cushion applied to the bounds check.
type ShardSizeBounds struct {
	Min           int64
	Max           int64
	PermittedError int64
}

// Bounds computes the permitted size range for a shard given the database's
// total size. The range's key extent does not currently affect the bound,
// but is accepted for interface stability should a future revision want to
// special-case narrow key ranges.
func Bounds(_ keyspace.KeyRange, dbSizeBytes int64) ShardSizeBounds {
	max := MaxShardSize(dbSizeBytes)
	min := max / minBoundsFraction
	if min < minShardSize {
		min = minShardSize
	}
	return ShardSizeBounds{
		Min:            min,
		Max:            max,
		PermittedError: max / permittedErrorDivisor,
	}
}
