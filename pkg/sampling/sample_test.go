// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package sampling

import (
	"testing"

	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
	"github.com/stretchr/testify/require"
)

func TestIsKeyValueInSampleDeterministic(t *testing.T) {
	kv := clusterapi.KeyValue{Key: []byte("some/key"), Value: []byte("some-value")}
	first := IsKeyValueInSample(kv)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, IsKeyValueInSample(kv))
	}
}

func TestIsKeyValueInSampleInvariants(t *testing.T) {
	for _, kv := range []clusterapi.KeyValue{
		{Key: []byte("a"), Value: []byte("b")},
		{Key: []byte("large-key-000000"), Value: make([]byte, 200_000)},
		{Key: nil, Value: nil},
	} {
		info := IsKeyValueInSample(kv)
		require.GreaterOrEqual(t, info.SampledSize, info.Size)
	}
}

func TestIsKeyValueInSampleLargeAlwaysIncluded(t *testing.T) {
	kv := clusterapi.KeyValue{Key: []byte("k"), Value: make([]byte, sampleUnit)}
	info := IsKeyValueInSample(kv)
	require.True(t, info.InSample)
	require.Equal(t, info.Size, info.SampledSize)
}

func TestBoundsNoZeroDivide(t *testing.T) {
	b := Bounds(clusterapi.ShardAssignment{}.Range, 0)
	require.Greater(t, b.Max, int64(0))
	require.Greater(t, b.Min, int64(0))
	require.Less(t, b.Min, b.Max)
}
