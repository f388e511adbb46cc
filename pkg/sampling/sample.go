// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package sampling re-implements the store's probabilistic byte-sampling
// estimator so the auditor can independently recompute what a replica's
// sample-based size estimate should be, and the size bounds a shard must
// fall within when the cluster is quiescent. spec.md §6 requires this to be
// "a pure, deterministic function... that mirrors the store's own sampler"
// without specifying the formula; see DESIGN.md for this package's from-
// scratch resolution of that open question (no retrieved source gives the
// store's actual sampler formula or knob values).
package sampling

import (
	"hash/fnv"

	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
)

// sampleUnit is the target average interval, in bytes, between sampled
// keys: an item smaller than sampleUnit is included in the sample with
// probability size/sampleUnit and, if included, contributes sampleUnit to
// the running sampled-size total (an unbiased estimator of its true size).
// An item at least as large as sampleUnit is always included and
// contributes its true size.
const sampleUnit = 100_000

// ByteSampleInfo is the per-key sampling verdict, mirroring the store's own
// ByteSampleInfo.
type ByteSampleInfo struct {
	// Size is the item's true size (key length + value length).
	Size int
	// SampledSize is the item's contribution to the running sampled-size
	// total. SampledSize >= Size always.
	SampledSize int
	// InSample reports whether the item was selected by the sampler.
	InSample bool
}

// IsKeyValueInSample is the pure, deterministic sampling function every
// replica's estimator (and this auditor's recomputation of it) must agree
// on bit-for-bit.
func IsKeyValueInSample(kv clusterapi.KeyValue) ByteSampleInfo {
	size := len(kv.Key) + len(kv.Value)
	if size >= sampleUnit {
		return ByteSampleInfo{Size: size, SampledSize: size, InSample: true}
	}
	probability := float64(size) / float64(sampleUnit)
	if probability <= 0 {
		return ByteSampleInfo{Size: size, SampledSize: sampleUnit, InSample: false}
	}
	frac := keyHashFraction(kv.Key)
	inSample := frac < probability
	return ByteSampleInfo{Size: size, SampledSize: sampleUnit, InSample: inSample}
}

// keyHashFraction maps a key deterministically onto [0, 1), independent of
// the key's value, so that repeated calls (across replicas, across audit
// iterations) agree on which keys are sampled.
func keyHashFraction(key []byte) float64 {
	h := fnv.New64a()
	_, _ = h.Write(key)
	const maxUint32 = 1 << 32
	return float64(uint32(h.Sum64())) / float64(maxUint32)
}
