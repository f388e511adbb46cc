// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package shards

import (
	"context"
	"testing"

	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
	"github.com/cockroachdb/kvauditor/pkg/clusterapi/clusterapitest"
	"github.com/cockroachdb/kvauditor/pkg/events"
	"github.com/cockroachdb/kvauditor/pkg/keyspace"
	"github.com/stretchr/testify/require"
)

func prefixed(k string) keyspace.Key {
	return keyspace.Key(k).WithPrefix(keyspace.KeyServersPrefix)
}

func TestResolverResolveSingleShard(t *testing.T) {
	replicas := clusterapitest.NewReplicaClient()
	value := clusterapi.EncodeShardAssignmentValue([]clusterapi.ReplicaID{"s1"}, nil)
	replicas.Put("s1", &clusterapitest.ReplicaState{Data: []clusterapi.KeyValue{
		{Key: prefixed(""), Value: value},
	}})
	txn := clusterapitest.NewTransactionClient()

	assignments := []clusterapi.ShardAssignment{
		{Range: keyspace.KeyRange{Begin: keyspace.AllKeysBegin, End: keyspace.AllKeysEnd}, Source: []clusterapi.ReplicaID{"s1"}},
	}

	r := &Resolver{Txn: txn, Replicas: replicas, Sink: events.NullSink{}}
	locations, err := r.Resolve(context.Background(), assignments)
	require.NoError(t, err)
	require.Len(t, locations, 2)
	require.Equal(t, keyspace.AllKeysBegin, locations[0].Key)
	require.Equal(t, value, locations[0].Value)
	require.Equal(t, keyspace.AllKeysEnd, locations[1].Key)
}

func TestResolverDetectsInconsistentKeyServers(t *testing.T) {
	replicas := clusterapitest.NewReplicaClient()
	replicas.Put("s1", &clusterapitest.ReplicaState{Data: []clusterapi.KeyValue{
		{Key: prefixed(""), Value: []byte("a")},
	}})
	replicas.Put("s2", &clusterapitest.ReplicaState{Data: []clusterapi.KeyValue{
		{Key: prefixed(""), Value: []byte("b")},
	}})
	txn := clusterapitest.NewTransactionClient()

	assignments := []clusterapi.ShardAssignment{
		{Range: keyspace.KeyRange{Begin: keyspace.AllKeysBegin, End: keyspace.AllKeysEnd}, Source: []clusterapi.ReplicaID{"s1", "s2"}},
	}

	sink := &events.RecordingSink{}
	r := &Resolver{Txn: txn, Replicas: replicas, Sink: sink}
	_, err := r.Resolve(context.Background(), assignments)
	require.Error(t, err)
	require.Contains(t, sink.Names(), events.NameInconsistentKeyServers)
}

func TestResolverMissingReplicaTolaratedNonQuiescent(t *testing.T) {
	replicas := clusterapitest.NewReplicaClient()
	replicas.Put("s1", &clusterapitest.ReplicaState{Data: []clusterapi.KeyValue{
		{Key: prefixed(""), Value: []byte("a")},
	}})
	txn := clusterapitest.NewTransactionClient()

	assignments := []clusterapi.ShardAssignment{
		{Range: keyspace.KeyRange{Begin: keyspace.AllKeysBegin, End: keyspace.AllKeysEnd}, Source: []clusterapi.ReplicaID{"s1", "missing"}},
	}

	r := &Resolver{Txn: txn, Replicas: replicas, Sink: events.NullSink{}, Config: ResolverConfig{PerformQuiescentChecks: false}}
	locations, err := r.Resolve(context.Background(), assignments)
	require.NoError(t, err)
	require.Len(t, locations, 2)
}
