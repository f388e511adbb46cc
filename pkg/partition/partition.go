// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package partition implements the auditor's deterministic work-sharding
// across cooperating clients: which shard indices a given client visits,
// in what order, for a given iteration. It is factored out of DataDiffer so
// it is independently testable against spec.md §8's determinism and
// completeness-of-partitioning invariants, and so a "kvauditor plan"
// dry-run command can exercise it without touching a cluster.
package partition

import "golang.org/x/exp/rand"

// Plan describes, for one client in one audit iteration, which shard
// indices it visits (in visitation order) and, for each, whether it should
// perform the full data diff or merely contribute to sizing.
type Plan struct {
	ClientID           int
	ClientCount        int
	ShardSampleFactor  int
	Distributed        bool
	FirstClient        bool
	SharedRandomNumber uint64
	Repetitions        int64
	ShuffleShards      bool
}

// effectiveClientCount is the client-count used by the partition formula:
// a non-distributed run behaves as if there were exactly one client.
func (p Plan) effectiveClientCount() int {
	if p.Distributed {
		return p.ClientCount
	}
	return 1
}

// increment is the step between consecutive shard indices this client
// visits.
func (p Plan) increment() int {
	if p.Distributed && !p.FirstClient {
		return p.effectiveClientCount() * p.ShardSampleFactor
	}
	return 1
}

// start is the first shard index this client visits.
func (p Plan) start() int {
	return p.ClientID * (p.ShardSampleFactor + 1)
}

// ShardOrder returns a permutation of [0, numShards) to apply before
// indexing: identity unless ShuffleShards is set, in which case it is a
// Fisher-Yates shuffle seeded deterministically from SharedRandomNumber and
// Repetitions, so that every client (and every rerun against the same
// frozen state) computes the identical permutation.
func (p Plan) ShardOrder(numShards int) []int {
	order := make([]int, numShards)
	for i := range order {
		order[i] = i
	}
	if !p.ShuffleShards {
		return order
	}
	seed := p.SharedRandomNumber + uint64(p.Repetitions)
	if seed == 0 {
		seed = 1
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}

// Indices returns, in visitation order, the shard indices (before applying
// ShardOrder) this client visits out of numShards total shards.
func (p Plan) Indices(numShards int) []int {
	var out []int
	for i := p.start(); i < numShards; i += p.increment() {
		out = append(out, i)
	}
	return out
}

// ShouldFullyDiff reports whether the given shard (a value taken from
// ShardOrder, not a position returned by Indices) should receive the full
// paginated data diff, as opposed to only having its replicas' size
// estimates fetched. The first client walks every shard but only fully
// diffs shards whose number is a multiple of
// (effectiveClientCount * shardSampleFactor).
func (p Plan) ShouldFullyDiff(index int) bool {
	if !p.FirstClient {
		return true
	}
	stride := p.effectiveClientCount() * p.ShardSampleFactor
	if stride <= 0 {
		return true
	}
	return index%stride == 0
}
