// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package differ

import (
	"context"
	"testing"

	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
	"github.com/cockroachdb/kvauditor/pkg/events"
	"github.com/cockroachdb/kvauditor/pkg/sampling"
	"github.com/stretchr/testify/require"
)

func TestCheckEstimatorFlagsMismatch(t *testing.T) {
	sink := &events.RecordingSink{}
	d := &DataDiffer{Sink: sink, Config: Config{PerformQuiescentChecks: true}}
	ok := d.checkEstimator(context.Background(), []int64{100}, []clusterapi.ReplicaID{"s1"}, 200)
	require.False(t, ok)
	require.Contains(t, sink.Names(), events.NameIncorrectEstimate)
}

func TestCheckEstimatorSkippedWhenNotQuiescent(t *testing.T) {
	sink := &events.RecordingSink{}
	d := &DataDiffer{Sink: sink, Config: Config{PerformQuiescentChecks: false}}
	ok := d.checkEstimator(context.Background(), []int64{100}, []clusterapi.ReplicaID{"s1"}, 200)
	require.True(t, ok)
	require.Empty(t, sink.Names())
}

func TestCheckStatisticalSizeIgnoresSmallSamples(t *testing.T) {
	sink := &events.RecordingSink{}
	d := &DataDiffer{Sink: sink}
	r := &shardDiffResult{sampledKeys: 5, shardBytes: 1000, sampledBytes: 0}
	ok := d.checkStatisticalSize(context.Background(), r, sampling.ShardSizeBounds{})
	require.True(t, ok)
}

func TestCheckStatisticalSizeFlagsLargeError(t *testing.T) {
	sink := &events.RecordingSink{}
	d := &DataDiffer{Sink: sink}
	r := &shardDiffResult{sampledKeys: 100, shardBytes: 100000, sampledBytes: 0, shardVariance: 1}
	ok := d.checkStatisticalSize(context.Background(), r, sampling.ShardSizeBounds{})
	require.False(t, ok)
	require.Contains(t, sink.Names(), events.NameInaccurateShardEstimate)
}
