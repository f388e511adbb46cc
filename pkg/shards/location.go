// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package shards

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
	"github.com/cockroachdb/kvauditor/pkg/events"
	"github.com/cockroachdb/kvauditor/pkg/keyspace"
	"golang.org/x/sync/errgroup"
)

const (
	defaultKeyLocationLimit  = 10_000
	defaultByteLocationLimit = 1 << 20

	// maxVersionRetries bounds how many times fetchPage re-acquires a read
	// version after a version-expiry error before giving up and surfacing
	// the error, so a persistently stale cluster clock can't spin forever.
	maxVersionRetries = 5
)

// ResolverConfig bundles Resolver's tunables.
type ResolverConfig struct {
	PerformQuiescentChecks bool
	FailureIsError         bool
	KeyLimit               int
	ByteLimit              int
}

// Resolver pins down each ShardAssignment's exact key boundaries and
// team-encoded value by reading the /keyServers/ range directly from the
// shard's storage replicas.
type Resolver struct {
	Txn      clusterapi.TransactionClient
	Replicas clusterapi.ReplicaClient
	Sink     events.Sink
	Config   ResolverConfig
}

func (r *Resolver) fail(ctx context.Context, name events.Name, kv ...string) {
	r.Sink.Emit(ctx, events.New(name, events.FailureSeverity(r.Config.FailureIsError), kv...))
}

// Resolve reads every ShardAssignment's /keyServers/ entries in order,
// returning the flattened, ordered sequence of KeyLocation rows (spec.md
// §4.3).
func (r *Resolver) Resolve(ctx context.Context, assignments []clusterapi.ShardAssignment) ([]clusterapi.KeyLocation, error) {
	prefix := keyspace.KeyServersPrefix
	allEnd := keyspace.AllKeysEnd.WithPrefix(prefix)
	beginKey := keyspace.AllKeysBegin.WithPrefix(prefix)

	keyLimit := r.Config.KeyLimit
	if keyLimit <= 0 {
		keyLimit = defaultKeyLocationLimit
	}
	byteLimit := r.Config.ByteLimit
	if byteLimit <= 0 {
		byteLimit = defaultByteLocationLimit
	}

	var raw []clusterapi.KeyValue
	for i, shard := range assignments {
		shardEnd := shard.Range.End.WithPrefix(prefix)
		if shardEnd.Compare(allEnd) > 0 {
			shardEnd = allEnd
		}
		for beginKey.Less(shardEnd) {
			reqEnd := shardEnd
			rows, more, err := r.fetchPage(ctx, shard.Source, beginKey, reqEnd, keyLimit, byteLimit)
			if err != nil {
				return nil, err
			}
			raw = append(raw, rows...)
			if len(rows) == 0 {
				break
			}
			if more {
				beginKey = rows[len(rows)-1].Key.Next()
			} else if i == len(assignments)-1 {
				beginKey = shardEnd
			} else {
				beginKey = shardEnd
				break
			}
		}
	}

	rawKV := make([]keyspace.KeyValue, len(raw))
	for i, kv := range raw {
		rawKV[i] = keyspace.KeyValue{Key: kv.Key, Value: kv.Value}
	}
	decoded := keyspace.DecodeKeyRangeMap(prefix, keyspace.KeyRange{Begin: keyspace.AllKeysBegin, End: keyspace.AllKeysEnd}, rawKV, false)
	out := make([]clusterapi.KeyLocation, len(decoded))
	for i, row := range decoded {
		out[i] = clusterapi.KeyLocation{Key: row.Key, Value: row.Value}
	}
	return out, nil
}

// fetchPage issues one getKeyValues request to every source replica of a
// shard, waits for all, and validates that every present reply agrees, per
// spec.md §4.3's algorithm. A version-expiry error is retried locally, at
// the granularity of this one page, rather than failing the whole shard;
// every other error is returned unchanged.
func (r *Resolver) fetchPage(ctx context.Context, replicaIDs []clusterapi.ReplicaID, begin, end keyspace.Key, keyLimit, byteLimit int) ([]clusterapi.KeyValue, bool, error) {
	var version clusterapi.Version
	for attempt := 0; ; attempt++ {
		v, err := r.Txn.GetReadVersion(ctx)
		if err == nil {
			version = v
			break
		}
		if !clusterapi.IsVersionExpired(err) || attempt >= maxVersionRetries {
			return nil, false, errors.Wrap(err, "acquiring read version")
		}
		r.Sink.Emit(ctx, events.New(events.NameRetry, events.SeverityWarn, "error", err.Error()))
	}

	req := clusterapi.GetKeyValuesRequest{Begin: begin, End: end, Limit: keyLimit, LimitBytes: byteLimit, Version: version}

	replies := make([]*clusterapi.GetKeyValuesReply, len(replicaIDs))
	g, gctx := errgroup.WithContext(ctx)
	for idx, id := range replicaIDs {
		idx, id := idx, id
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, clusterapi.RPCTimeout())
			defer cancel()
			reply, err := r.Replicas.GetKeyValues(rctx, id, req)
			if err != nil {
				return nil
			}
			replies[idx] = &reply
			return nil
		})
	}
	_ = g.Wait()

	firstValid := -1
	for i, rep := range replies {
		if rep == nil {
			if r.Config.PerformQuiescentChecks {
				r.fail(ctx, events.NameKeyServerUnavailable, "storageServer", string(replicaIDs[i]))
				return nil, false, errors.New("shards: key server unavailable")
			}
			continue
		}
		if firstValid < 0 {
			firstValid = i
			continue
		}
		ref := replies[firstValid]
		if !sameKeyValuesReply(*rep, *ref) {
			r.fail(ctx, events.NameInconsistentKeyServers,
				"storageServer", string(replicaIDs[i]), "referenceServer", string(replicaIDs[firstValid]))
			return nil, false, errors.New("shards: key servers inconsistent")
		}
	}

	if firstValid < 0 {
		return nil, false, clusterapi.ErrAllAlternativesFailed
	}
	ref := replies[firstValid]
	return ref.Data, ref.More, nil
}

func sameKeyValuesReply(a, b clusterapi.GetKeyValuesReply) bool {
	if a.More != b.More || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		if !a.Data[i].Key.Equal(b.Data[i].Key) || string(a.Data[i].Value) != string(b.Data[i].Value) {
			return false
		}
	}
	return true
}
