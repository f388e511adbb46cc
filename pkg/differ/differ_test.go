// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package differ

import (
	"context"
	"testing"

	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
	"github.com/cockroachdb/kvauditor/pkg/clusterapi/clusterapitest"
	"github.com/cockroachdb/kvauditor/pkg/events"
	"github.com/cockroachdb/kvauditor/pkg/keyspace"
	"github.com/cockroachdb/kvauditor/pkg/partition"
	"github.com/stretchr/testify/require"
)

func registerServer(t *testing.T, txn *clusterapitest.TransactionClient, id clusterapi.ReplicaID, addr clusterapi.ReplicaAddress) {
	t.Helper()
	txn.Put(keyspace.ServerListKeyFor(string(id)), clusterapi.EncodeServerListValue(clusterapi.ReplicaInterface{ID: id, Address: addr}))
}

func onePlan() partition.Plan {
	return partition.Plan{ClientID: 0, ClientCount: 1, ShardSampleFactor: 1, FirstClient: true}
}

func TestDataDifferConsistentShard(t *testing.T) {
	ctx := context.Background()
	replicas := clusterapitest.NewReplicaClient()
	txn := clusterapitest.NewTransactionClient()

	data := []clusterapi.KeyValue{
		{Key: keyspace.Key("a"), Value: []byte("1")},
		{Key: keyspace.Key("b"), Value: []byte("2")},
	}
	replicas.Put("s1", &clusterapitest.ReplicaState{Data: data, SizeEstimate: 2})
	replicas.Put("s2", &clusterapitest.ReplicaState{Data: data, SizeEstimate: 2})
	registerServer(t, txn, "s1", "addr1")
	registerServer(t, txn, "s2", "addr2")

	value := clusterapi.EncodeShardAssignmentValue([]clusterapi.ReplicaID{"s1", "s2"}, nil)
	locations := []clusterapi.KeyLocation{
		{Key: keyspace.AllKeysBegin, Value: value},
		{Key: keyspace.AllKeysEnd},
	}

	sink := &events.RecordingSink{}
	d := &DataDiffer{Replicas: replicas, Txn: txn, Sink: sink, Config: Config{PerformQuiescentChecks: false}}
	ok, err := d.Check(ctx, locations, clusterapi.ClusterConfiguration{StorageTeamSize: 2}, 1<<20, onePlan())
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, sink.Names())
}

func TestDataDifferDetectsDataInconsistency(t *testing.T) {
	ctx := context.Background()
	replicas := clusterapitest.NewReplicaClient()
	txn := clusterapitest.NewTransactionClient()

	replicas.Put("s1", &clusterapitest.ReplicaState{Data: []clusterapi.KeyValue{
		{Key: keyspace.Key("a"), Value: []byte("1")},
	}})
	replicas.Put("s2", &clusterapitest.ReplicaState{Data: []clusterapi.KeyValue{
		{Key: keyspace.Key("a"), Value: []byte("2")},
	}})
	registerServer(t, txn, "s1", "addr1")
	registerServer(t, txn, "s2", "addr2")

	value := clusterapi.EncodeShardAssignmentValue([]clusterapi.ReplicaID{"s1", "s2"}, nil)
	locations := []clusterapi.KeyLocation{
		{Key: keyspace.AllKeysBegin, Value: value},
		{Key: keyspace.AllKeysEnd},
	}

	sink := &events.RecordingSink{}
	d := &DataDiffer{Replicas: replicas, Txn: txn, Sink: sink, Config: Config{PerformQuiescentChecks: false}}
	ok, err := d.Check(ctx, locations, clusterapi.ClusterConfiguration{StorageTeamSize: 2}, 1<<20, onePlan())
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, sink.Names(), events.NameDataInconsistent)
}

func TestDataDifferInvalidTeamSizeAborts(t *testing.T) {
	ctx := context.Background()
	replicas := clusterapitest.NewReplicaClient()
	txn := clusterapitest.NewTransactionClient()

	value := clusterapi.EncodeShardAssignmentValue([]clusterapi.ReplicaID{"s1"}, nil)
	locations := []clusterapi.KeyLocation{
		{Key: keyspace.AllKeysBegin, Value: value},
		{Key: keyspace.AllKeysEnd},
	}

	sink := &events.RecordingSink{}
	d := &DataDiffer{Replicas: replicas, Txn: txn, Sink: sink, Config: Config{PerformQuiescentChecks: true}}
	ok, err := d.Check(ctx, locations, clusterapi.ClusterConfiguration{StorageTeamSize: 3}, 1<<20, onePlan())
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, sink.Names(), events.NameInvalidTeamSize)
}

func TestDataDifferRelocatingShardTreatsUnavailableReplicaAsWarning(t *testing.T) {
	ctx := context.Background()
	replicas := clusterapitest.NewReplicaClient()
	txn := clusterapitest.NewTransactionClient()

	data := []clusterapi.KeyValue{
		{Key: keyspace.Key("a"), Value: []byte("1")},
	}
	replicas.Put("s1", &clusterapitest.ReplicaState{Data: data})
	replicas.Put("s2", &clusterapitest.ReplicaState{Unreachable: true})
	registerServer(t, txn, "s1", "addr1")
	registerServer(t, txn, "s2", "addr2")

	// dest non-empty marks the shard as relocating; DataDiffer reads from
	// dest rather than source in that case.
	value := clusterapi.EncodeShardAssignmentValue([]clusterapi.ReplicaID{"s0"}, []clusterapi.ReplicaID{"s1", "s2"})
	locations := []clusterapi.KeyLocation{
		{Key: keyspace.AllKeysBegin, Value: value},
		{Key: keyspace.AllKeysEnd},
	}

	sink := &events.RecordingSink{}
	d := &DataDiffer{Replicas: replicas, Txn: txn, Sink: sink, Config: Config{PerformQuiescentChecks: false}}
	ok, err := d.Check(ctx, locations, clusterapi.ClusterConfiguration{StorageTeamSize: 1}, 1<<20, onePlan())
	require.NoError(t, err)
	require.True(t, ok)
	require.Contains(t, sink.Names(), events.NameStorageServerUnavailable)
	for _, e := range sink.Events {
		if e.Name == events.NameStorageServerUnavailable {
			require.Equal(t, events.SeverityWarn, e.Severity)
		}
	}
}

func TestDataDifferNonFirstClientAlwaysFullyDiffs(t *testing.T) {
	ctx := context.Background()
	replicas := clusterapitest.NewReplicaClient()
	txn := clusterapitest.NewTransactionClient()

	replicas.Put("s1", &clusterapitest.ReplicaState{Data: nil})
	registerServer(t, txn, "s1", "addr1")

	value := clusterapi.EncodeShardAssignmentValue([]clusterapi.ReplicaID{"s1"}, nil)
	locations := []clusterapi.KeyLocation{
		{Key: keyspace.AllKeysBegin, Value: value},
		{Key: keyspace.AllKeysEnd},
	}

	sink := &events.RecordingSink{}
	plan := partition.Plan{ClientID: 0, ClientCount: 4, ShardSampleFactor: 1, Distributed: true, FirstClient: false}
	d := &DataDiffer{Replicas: replicas, Txn: txn, Sink: sink, Config: Config{}}
	ok, err := d.Check(ctx, locations, clusterapi.ClusterConfiguration{StorageTeamSize: 1}, 1<<20, plan)
	require.NoError(t, err)
	require.True(t, ok)
}
