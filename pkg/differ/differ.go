// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package differ

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
	"github.com/cockroachdb/kvauditor/pkg/events"
	"github.com/cockroachdb/kvauditor/pkg/keyspace"
	"github.com/cockroachdb/kvauditor/pkg/partition"
	"github.com/cockroachdb/kvauditor/pkg/ratelimit"
	"github.com/cockroachdb/kvauditor/pkg/sampling"
	"golang.org/x/sync/errgroup"
)

// defaultPageKeyLimit and defaultPageByteLimit bound a single paginated
// range-read page, per spec.md §4.4 step 6 ("limit 10,000 keys, byte limit
// from config").
const (
	defaultPageKeyLimit  = 10_000
	defaultPageByteLimit = 1 << 20 // 1 MiB, standing in for CLIENT_KNOBS->REPLY_BYTE_LIMIT

	// splitKeySizeLimit and splitLimitFraction feed the canSplit heuristic
	// (spec.md §4.4 step 7), mirroring CLIENT_KNOBS->SPLIT_KEY_SIZE_LIMIT and
	// STORAGE_METRICS_UNFAIR_SPLIT_LIMIT.
	splitKeySizeLimit  = 32 << 10
	splitLimitFraction = 0.8

	// maxVersionRetries bounds how many times diffShard re-acquires a read
	// version for the current page after a version-expiry error before
	// giving up and surfacing the error.
	maxVersionRetries = 5
)

// Config bundles a DataDiffer's tunables, all sourced from spec.md §4.1 and
// §4.4.
type Config struct {
	PerformQuiescentChecks bool
	Distributed            bool
	FailureIsError         bool
	PageKeyLimit           int
	PageByteLimit          int
}

// DataDiffer is the heart of the auditor: it fans out paginated range reads
// to every replica of every sampled shard, diffs them, and cross-checks
// each replica's size estimate against a ground-truth recomputation.
type DataDiffer struct {
	Replicas clusterapi.ReplicaClient
	Txn      clusterapi.TransactionClient
	Limiter  *ratelimit.RateLimiter
	Sink     events.Sink
	Config   Config
}

func (d *DataDiffer) fail(ctx context.Context, name events.Name, kv ...string) {
	d.Sink.Emit(ctx, events.New(name, events.FailureSeverity(d.Config.FailureIsError), kv...))
}

// Check iterates the shard ranges implied by adjacent keyLocations pairs and
// verifies each per the partition Plan, returning the overall success.
func (d *DataDiffer) Check(
	ctx context.Context,
	keyLocations []clusterapi.KeyLocation,
	cfg clusterapi.ClusterConfiguration,
	dbSizeBytes int64,
	plan partition.Plan,
) (bool, error) {
	if len(keyLocations) < 2 {
		return true, nil
	}
	ranges := make([]keyspace.KeyRange, 0, len(keyLocations)-1)
	values := make([][]byte, 0, len(keyLocations)-1)
	for k := 0; k < len(keyLocations)-1; k++ {
		ranges = append(ranges, keyspace.KeyRange{Begin: keyLocations[k].Key, End: keyLocations[k+1].Key})
		values = append(values, keyLocations[k].Value)
	}

	order := plan.ShardOrder(len(ranges))
	success := true

	for _, i := range plan.Indices(len(ranges)) {
		if i >= len(order) {
			continue
		}
		shard := order[i]
		rng := ranges[shard]
		source, dest := clusterapi.DecodeShardAssignmentValue(values[shard])
		isRelocating := len(dest) > 0

		if plan.FirstClient && d.Config.PerformQuiescentChecks && !isRelocating && len(source) != cfg.StorageTeamSize {
			d.fail(ctx, events.NameInvalidTeamSize, "shardBegin", rng.Begin.String(), "shardEnd", rng.End.String())
			return false, nil
		}

		replicaIDs := source
		if isRelocating {
			replicaIDs = dest
		}

		ifaces, ok := d.resolveReplicas(ctx, replicaIDs)
		if !ok {
			success = false
		}

		estimatedBytes := d.fetchSizeEstimates(ctx, ifaces, rng)

		bounds := sampling.Bounds(rng, dbSizeBytes)

		if plan.FirstClient && d.Config.PerformQuiescentChecks && len(estimatedBytes) == 0 {
			d.fail(ctx, events.NameGetDataStoreFailure, "reason", "error fetching storage metrics")
			success = false
		}

		if !plan.ShouldFullyDiff(shard) {
			continue
		}

		diffResult, err := d.diffShard(ctx, rng, ifaces, replicaIDs, isRelocating, bounds)
		if err != nil {
			return false, err
		}
		if diffResult == nil {
			return false, nil
		}

		if ok := d.checkEstimator(ctx, estimatedBytes, replicaIDs, diffResult.sampledBytes); !ok {
			success = false
		}

		if ok := d.checkStatisticalSize(ctx, diffResult, bounds); !ok {
			success = false
		}

		if ok := d.checkBounds(ctx, rng, diffResult, bounds); !ok {
			success = false
			return false, nil
		}
	}

	return success, nil
}

// resolveReplicas looks each replica id up via the /FF/serverList/<id>
// directory entry, per spec.md §4.4 step 3.
func (d *DataDiffer) resolveReplicas(ctx context.Context, ids []clusterapi.ReplicaID) ([]clusterapi.ReplicaInterface, bool) {
	ok := true
	ifaces := make([]clusterapi.ReplicaInterface, 0, len(ids))
	for _, id := range ids {
		value, present, err := d.Txn.Get(ctx, keyspace.ServerListKeyFor(string(id)))
		if err != nil || !present {
			if d.Config.PerformQuiescentChecks {
				d.fail(ctx, events.NameKeyServerUnavailable, "storageServer", string(id))
				ok = false
			}
			continue
		}
		ifaces = append(ifaces, clusterapi.DecodeServerListValue(id, value))
	}
	return ifaces, ok
}

// fetchSizeEstimates issues waitMetrics concurrently to every replica,
// per spec.md §4.4 step 4. A missing reply yields -1.
func (d *DataDiffer) fetchSizeEstimates(ctx context.Context, ifaces []clusterapi.ReplicaInterface, rng keyspace.KeyRange) []int64 {
	out := make([]int64, len(ifaces))
	g, gctx := errgroup.WithContext(ctx)
	for idx, iface := range ifaces {
		idx, iface := idx, iface
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, clusterapi.RPCTimeout())
			defer cancel()
			metrics, err := d.Replicas.WaitMetrics(rctx, iface.ID, rng, 0, -1)
			if err != nil {
				out[idx] = -1
				return nil
			}
			out[idx] = metrics.Bytes
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// shardDiffResult accumulates the per-shard sizing statistics computed
// while walking the reference replica's data, per spec.md §4.4 step 7.
type shardDiffResult struct {
	shardKeys           int
	shardBytes          int64
	sampledBytes        int64
	sampledKeys         int
	shardVariance       float64
	firstKeySampledBytes int64
	canSplit            bool
}

// diffShard performs the paginated range-read loop against every replica of
// one shard, diffing every present reply against the first present
// ("reference") reply, and accumulates the sizing statistics from the
// reference reply's data. It returns nil (without error) if the diff itself
// surfaced a policy violation; Check then reports failure and stops
// visiting further shards.
func (d *DataDiffer) diffShard(
	ctx context.Context,
	rng keyspace.KeyRange,
	ifaces []clusterapi.ReplicaInterface,
	replicaIDs []clusterapi.ReplicaID,
	isRelocating bool,
	bounds sampling.ShardSizeBounds,
) (*shardDiffResult, error) {
	result := &shardDiffResult{}
	begin := rng.Begin
	splitBytes := int64(0)
	first := true

	pageKeyLimit := d.Config.PageKeyLimit
	if pageKeyLimit <= 0 {
		pageKeyLimit = defaultPageKeyLimit
	}
	pageByteLimit := d.Config.PageByteLimit
	if pageByteLimit <= 0 {
		pageByteLimit = defaultPageByteLimit
	}

	versionRetries := 0
	for {
		version, err := d.Txn.GetReadVersion(ctx)
		if err != nil {
			if !clusterapi.IsVersionExpired(err) || versionRetries >= maxVersionRetries {
				return nil, errors.Wrap(err, "acquiring read version")
			}
			versionRetries++
			d.Sink.Emit(ctx, events.New(events.NameRetry, events.SeverityWarn, "error", err.Error()))
			continue
		}
		versionRetries = 0

		req := clusterapi.GetKeyValuesRequest{
			Begin:      begin,
			End:        rng.End,
			Limit:      pageKeyLimit,
			LimitBytes: pageByteLimit,
			Version:    version,
		}

		replies := d.fetchPage(ctx, ifaces, req)

		firstValid := -1
		for j, r := range replies {
			if r == nil {
				if isRelocating {
					d.Sink.Emit(ctx, events.New(events.NameStorageServerUnavailable, events.SeverityWarn,
						"storageServer", string(replicaIDs[j]),
						"shardBegin", rng.Begin.String(), "shardEnd", rng.End.String()))
					continue
				}
				d.fail(ctx, events.NameStorageServerUnavailable, "storageServer", string(replicaIDs[j]),
					"shardBegin", rng.Begin.String(), "shardEnd", rng.End.String())
				if d.Config.PerformQuiescentChecks {
					return nil, nil
				}
				continue
			}
			if firstValid < 0 {
				firstValid = j
				continue
			}
			reference := replies[firstValid]
			if !sameReply(*r, *reference) {
				diff := Align(r.Data, reference.Data)
				d.fail(ctx, events.NameDataInconsistent,
					"storageServer", string(replicaIDs[j]),
					"referenceServer", string(replicaIDs[firstValid]),
					"shardBegin", rng.Begin.String(), "shardEnd", rng.End.String(),
					"matchingKVPairs", itoa(diff.MatchingKVPairs),
					"valueMismatches", itoa(diff.ValueMismatches),
					"currentUniques", itoa(diff.CurrentUniques),
					"referenceUniques", itoa(diff.ReferenceUniques),
				)
				return nil, nil
			}
		}

		if firstValid < 0 {
			return nil, clusterapi.ErrAllAlternativesFailed
		}

		reference := replies[firstValid]
		if d.Limiter != nil {
			if err := d.Limiter.GetAllowance(ctx, reference.ExpectedSize()); err != nil {
				return nil, errors.Wrap(err, "rate limiter")
			}
		}

		for k, kv := range reference.Data {
			info := sampling.IsKeyValueInSample(kv)
			result.shardBytes += int64(info.Size)
			probability := float64(info.Size) / float64(info.SampledSize)
			if probability < 1 {
				result.shardVariance += probability * (1 - probability) * float64(info.SampledSize) * float64(info.SampledSize)
			}
			if info.InSample {
				result.sampledBytes += int64(info.SampledSize)
				if !result.canSplit &&
					result.sampledBytes >= bounds.Min &&
					len(kv.Key) <= splitKeySizeLimit &&
					result.sampledBytes <= int64(float64(bounds.Max)*splitLimitFraction/2) {
					result.canSplit = true
					splitBytes = result.sampledBytes
				}
				if first && k == 0 {
					result.firstKeySampledBytes += int64(info.SampledSize)
				}
				result.sampledKeys++
			}
		}
		first = false
		result.shardKeys += len(reference.Data)

		if !reference.More {
			break
		}
		if len(reference.Data) == 0 {
			break
		}
		begin = reference.Data[len(reference.Data)-1].Key.Next()
	}

	result.canSplit = result.canSplit &&
		result.sampledBytes-splitBytes >= bounds.Min &&
		result.sampledBytes > splitBytes
	return result, nil
}

// fetchPage issues one getKeyValues request to every replica concurrently,
// each bounded by the 2-second fail-fast RPC deadline (spec.md §5).
func (d *DataDiffer) fetchPage(ctx context.Context, ifaces []clusterapi.ReplicaInterface, req clusterapi.GetKeyValuesRequest) []*clusterapi.GetKeyValuesReply {
	out := make([]*clusterapi.GetKeyValuesReply, len(ifaces))
	g, gctx := errgroup.WithContext(ctx)
	for idx, iface := range ifaces {
		idx, iface := idx, iface
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, clusterapi.RPCTimeout())
			defer cancel()
			reply, err := d.Replicas.GetKeyValues(rctx, iface.ID, req)
			if err != nil {
				return nil
			}
			out[idx] = &reply
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func sameReply(a, b clusterapi.GetKeyValuesReply) bool {
	if a.More != b.More || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if !a.Data[i].Key.Equal(b.Data[i].Key) || !bytesEqual(a.Data[i].Value, b.Data[i].Value) {
			return false
		}
	}
	return true
}

func itoa(n int) string   { return itoa64(int64(n)) }
func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
