// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package shards implements the two control-plane read stages that precede
// the DataDiffer: Directory, which enumerates the shard→team assignments
// known to the proxies, and Resolver, which pins down each shard's exact
// key boundaries by reading the /keyServers/ directory straight from the
// storage replicas that hold it.
package shards

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
	"github.com/cockroachdb/kvauditor/pkg/events"
	"github.com/cockroachdb/kvauditor/pkg/keyspace"
	"golang.org/x/sync/errgroup"
)

const (
	// defaultBatchSize and faultInjectionBatchSize bound a single
	// getKeyServersLocations request, per spec.md §4.2.
	defaultBatchSize     = 100
	faultInjectionBatchSize = 1

	// retryDelay is how long Collect waits before retrying a batch that no
	// proxy answered in non-quiescent mode.
	retryDelay = time.Second
)

// DirectoryConfig bundles Directory's tunables.
type DirectoryConfig struct {
	PerformQuiescentChecks bool
	FaultInjection         bool
	FailureIsError         bool
	BatchSize              int
}

func (c DirectoryConfig) batchSize() int {
	if c.BatchSize > 0 {
		return c.BatchSize
	}
	if c.FaultInjection {
		return faultInjectionBatchSize
	}
	return defaultBatchSize
}

// Directory enumerates the current shard→team assignments known to the
// control-plane proxies.
type Directory struct {
	Client clusterapi.DirectoryClient
	Sink   events.Sink
	Config DirectoryConfig
}

func (d *Directory) fail(ctx context.Context, name events.Name, kv ...string) {
	d.Sink.Emit(ctx, events.New(name, events.FailureSeverity(d.Config.FailureIsError), kv...))
}

// Collect walks keyspace.KeyServersKeys end to end, batching
// getKeyServersLocations calls across every known proxy, and returns the
// full set of shard assignments in key order.
func (d *Directory) Collect(ctx context.Context) ([]clusterapi.ShardAssignment, error) {
	begin := keyspace.KeyServersKeys.Begin
	end := keyspace.KeyServersKeys.End
	limit := d.Config.batchSize()

	var out []clusterapi.ShardAssignment
	for begin.Less(end) {
		batch, err := d.fetchBatch(ctx, begin, end, limit)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		for _, loc := range batch {
			out = append(out, toAssignment(loc))
		}
		begin = batch[len(batch)-1].Range.End
	}
	return out, nil
}

// fetchBatch issues one getKeyServersLocations request to every known
// proxy, per spec.md §4.2's quiescent/non-quiescent branching.
func (d *Directory) fetchBatch(ctx context.Context, begin, end keyspace.Key, limit int) ([]clusterapi.ShardLocation, error) {
	proxyCount := d.Client.ProxyCount()
	if proxyCount == 0 {
		return nil, errors.New("shards: no proxies available")
	}

	replies := make([][]clusterapi.ShardLocation, proxyCount)
	errs := make([]error, proxyCount)

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(fetchCtx)
	for i := 0; i < proxyCount; i++ {
		i := i
		g.Go(func() error {
			shards, err := d.Client.GetKeyServersLocations(gctx, i, begin, end, limit)
			replies[i] = shards
			errs[i] = err
			return nil
		})
	}

	done := make(chan struct{})
	go func() { _ = g.Wait(); close(done) }()

	select {
	case <-done:
	case <-d.Client.RosterChanged():
		cancel()
		<-done
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var firstPresent []clusterapi.ShardLocation
	for i := 0; i < proxyCount; i++ {
		present := errs[i] == nil && len(replies[i]) > 0
		if d.Config.PerformQuiescentChecks && !present {
			d.fail(ctx, events.NameMasterProxyUnavailable, "proxy", itoa(i))
			return nil, errors.New("shards: master proxy unavailable")
		}
		if present && firstPresent == nil {
			firstPresent = replies[i]
			if !d.Config.PerformQuiescentChecks {
				break
			}
		}
	}
	return firstPresent, nil
}

// toAssignment converts a directory-reported ShardLocation, whose Range is
// expressed in keyServers-prefixed space (it is read from a sub-range of
// keyspace.KeyServersKeys), into a ShardAssignment expressed in plain
// user-key space, the convention Resolver's input expects.
func toAssignment(loc clusterapi.ShardLocation) clusterapi.ShardAssignment {
	source := make([]clusterapi.ReplicaID, len(loc.Replicas))
	for i, r := range loc.Replicas {
		source[i] = r.ID
	}
	rng := keyspace.KeyRange{
		Begin: stripKeyServersPrefix(loc.Range.Begin),
		End:   stripKeyServersPrefix(loc.Range.End),
	}
	return clusterapi.ShardAssignment{Range: rng, Source: source}
}

// stripKeyServersPrefix removes keyspace.KeyServersPrefix from k, or
// returns k unchanged if it does not carry the prefix (the terminal
// boundary key returned for the last shard sometimes coincides with the
// query's own end key, which may fall just past the prefixed range).
func stripKeyServersPrefix(k keyspace.Key) keyspace.Key {
	if !k.HasPrefix(keyspace.KeyServersPrefix) {
		return k
	}
	return k.RemovePrefix(keyspace.KeyServersPrefix)
}

func itoa(n int) string {
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
