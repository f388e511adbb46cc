// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package differ

import (
	"context"
	"math"

	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
	"github.com/cockroachdb/kvauditor/pkg/events"
	"github.com/cockroachdb/kvauditor/pkg/keyspace"
	"github.com/cockroachdb/kvauditor/pkg/sampling"
)

// failErrorNumStdDev, minKeysForStatCheck and minKeysForBoundsCheck are the
// statistical-size and bounds check thresholds from spec.md §4.4.
const (
	failErrorNumStdDev   = 7.0
	minKeysForStatCheck  = 30
	minKeysForBoundsCheck = 5
)

// checkEstimator implements spec.md §4.4's "Estimator check", quiescent
// only: every replica's self-reported waitMetrics size must equal the
// sampled size this run independently recomputed while walking the data.
func (d *DataDiffer) checkEstimator(ctx context.Context, estimatedBytes []int64, replicaIDs []clusterapi.ReplicaID, sampledBytes int64) bool {
	if !d.Config.PerformQuiescentChecks {
		return true
	}
	ok := true
	for j, est := range estimatedBytes {
		if est >= 0 && est != sampledBytes {
			d.fail(ctx, events.NameIncorrectEstimate,
				"estimatedBytes", itoa64(est), "correctSampledBytes", itoa64(sampledBytes),
				"storageServer", string(replicaIDs[j]))
			ok = false
			break
		} else if est < 0 {
			d.fail(ctx, events.NameGetDataStoreFailure, "reason", "could not get storage metrics from server",
				"storageServer", string(replicaIDs[j]))
			ok = false
			break
		}
	}
	return ok
}

// checkStatisticalSize implements spec.md §4.4's "Statistical size check":
// the sampled estimate must fall within failErrorNumStdDev standard
// deviations (from the sampling process's own binomial variance) of the
// true byte count recomputed from every key actually read.
func (d *DataDiffer) checkStatisticalSize(ctx context.Context, r *shardDiffResult, bounds sampling.ShardSizeBounds) bool {
	if r.sampledKeys <= minKeysForStatCheck {
		return true
	}
	stdDev := math.Sqrt(r.shardVariance)
	estimateError := math.Abs(float64(r.shardBytes - r.sampledBytes))
	if estimateError > failErrorNumStdDev*stdDev {
		d.fail(ctx, events.NameInaccurateShardEstimate,
			"min", itoa64(bounds.Min), "max", itoa64(bounds.Max),
			"estimate", itoa64(r.sampledBytes), "actual", itoa64(r.shardBytes),
			"numSampledKeys", itoa(r.sampledKeys))
		return false
	}
	return true
}

// checkBounds implements spec.md §4.4's "Bounds check", quiescent only and
// skipped for system (keyServers) shards: a splittable shard's sampled size
// must fall within [min, max] give or take a 3-permittedError cushion.
func (d *DataDiffer) checkBounds(ctx context.Context, rng keyspace.KeyRange, r *shardDiffResult, bounds sampling.ShardSizeBounds) bool {
	if !d.Config.PerformQuiescentChecks || !r.canSplit || r.sampledKeys <= minKeysForBoundsCheck {
		return true
	}
	if rng.Begin.HasPrefix(keyspace.KeyServersPrefix) {
		return true
	}
	tooSmall := r.sampledBytes < bounds.Min-3*bounds.PermittedError
	tooLarge := r.sampledBytes-r.firstKeySampledBytes > bounds.Max+3*bounds.PermittedError
	if tooSmall || tooLarge {
		reason := "small"
		if tooLarge {
			reason = "large"
		}
		d.fail(ctx, events.NameInvalidShardSize,
			"min", itoa64(bounds.Min), "max", itoa64(bounds.Max), "size", itoa64(r.shardBytes),
			"estimatedSize", itoa64(r.sampledBytes), "shardBegin", rng.Begin.String(), "shardEnd", rng.End.String(),
			"reason", reason)
		return false
	}
	return true
}
