// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package partition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIndicesCoverageAtSampleFactorOne(t *testing.T) {
	// spec.md §8 invariant 6: shardSampleFactor=1, clientId=0 examines every
	// shard.
	p := Plan{ClientID: 0, ClientCount: 3, ShardSampleFactor: 1, Distributed: true, FirstClient: true}
	indices := p.Indices(10)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, indices)
}

func TestIndicesCompletenessAcrossClients(t *testing.T) {
	const numShards = 20
	const clientCount = 4
	seen := map[int]bool{}
	for c := 0; c < clientCount; c++ {
		p := Plan{ClientID: c, ClientCount: clientCount, ShardSampleFactor: 1, Distributed: true, FirstClient: c == 0}
		for _, idx := range p.Indices(numShards) {
			seen[idx] = true
		}
	}
	for i := 0; i < numShards; i++ {
		require.True(t, seen[i], "shard %d never visited", i)
	}
}

func TestShardOrderDeterministic(t *testing.T) {
	p := Plan{ShuffleShards: true, SharedRandomNumber: 42, Repetitions: 3}
	a := p.ShardOrder(50)
	b := p.ShardOrder(50)
	require.Equal(t, a, b)
}

func TestShardOrderZeroSeedFallsBackToOne(t *testing.T) {
	zero := Plan{ShuffleShards: true, SharedRandomNumber: 0, Repetitions: 0}
	one := Plan{ShuffleShards: true, SharedRandomNumber: 1, Repetitions: 0}
	require.Equal(t, zero.ShardOrder(30), one.ShardOrder(30))
}

func TestShardOrderIdentityWhenNotShuffling(t *testing.T) {
	p := Plan{ShuffleShards: false}
	order := p.ShardOrder(5)
	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestShouldFullyDiffFirstClientSamples(t *testing.T) {
	p := Plan{FirstClient: true, Distributed: true, ClientCount: 2, ShardSampleFactor: 3}
	require.True(t, p.ShouldFullyDiff(0))
	require.False(t, p.ShouldFullyDiff(1))
	require.True(t, p.ShouldFullyDiff(6))
}

func TestShouldFullyDiffNonFirstClientAlwaysDiffs(t *testing.T) {
	p := Plan{FirstClient: false}
	require.True(t, p.ShouldFullyDiff(5))
}
