// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package auditor

import (
	"context"
	"testing"

	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
	"github.com/cockroachdb/kvauditor/pkg/clusterapi/clusterapitest"
	"github.com/cockroachdb/kvauditor/pkg/differ"
	"github.com/cockroachdb/kvauditor/pkg/events"
	"github.com/cockroachdb/kvauditor/pkg/keyspace"
	"github.com/cockroachdb/kvauditor/pkg/shards"
	"github.com/cockroachdb/kvauditor/pkg/topology"
	"github.com/stretchr/testify/require"
)

func prefixedKS(k string) keyspace.Key {
	return keyspace.Key(k).WithPrefix(keyspace.KeyServersPrefix)
}

func newSingleShardOrchestrator(t *testing.T) (*Orchestrator, *clusterapitest.ReplicaClient) {
	t.Helper()

	replicas := clusterapitest.NewReplicaClient()
	teamValue := clusterapi.EncodeShardAssignmentValue([]clusterapi.ReplicaID{"s1", "s2"}, nil)
	data := []clusterapi.KeyValue{
		{Key: keyspace.Key("a"), Value: []byte("1")},
		{Key: keyspace.Key("b"), Value: []byte("2")},
		{Key: prefixedKS(""), Value: teamValue},
	}
	replicas.Put("s1", &clusterapitest.ReplicaState{Address: "addr1", StoreType: "ssd", Data: data, SizeEstimate: 2})
	replicas.Put("s2", &clusterapitest.ReplicaState{Address: "addr2", StoreType: "ssd", Data: data, SizeEstimate: 2})

	txn := clusterapitest.NewTransactionClient()
	txn.Put(keyspace.ServerListKeyFor("s1"), clusterapi.EncodeServerListValue(clusterapi.ReplicaInterface{ID: "s1", Address: "addr1"}))
	txn.Put(keyspace.ServerListKeyFor("s2"), clusterapi.EncodeServerListValue(clusterapi.ReplicaInterface{ID: "s2", Address: "addr2"}))

	dirClient := clusterapitest.NewDirectoryClient([]clusterapi.ShardLocation{
		{
			Range:    keyspace.KeyRange{Begin: keyspace.KeyServersKeys.Begin, End: keyspace.KeyServersKeys.End},
			Replicas: []clusterapi.ReplicaInterface{{ID: "s1", Address: "addr1"}, {ID: "s2", Address: "addr2"}},
		},
	})

	directory := &shards.Directory{Client: dirClient, Sink: events.NullSink{}}
	resolver := &shards.Resolver{Txn: txn, Replicas: replicas, Sink: events.NullSink{}}
	dataDiffer := &differ.DataDiffer{Replicas: replicas, Txn: txn, Sink: events.NullSink{}}

	cfgSource := &clusterapitest.ConfigSource{
		Cluster: clusterapi.ClusterConfiguration{StorageTeamSize: 2, StorageServerStoreType: "ssd"},
		DBSize:  1 << 20,
	}

	o := &Orchestrator{
		Config:       Config{ClientID: 0, ClientCount: 1, ShardSampleFactor: 1},
		ConfigSource: cfgSource,
		Directory:    directory,
		Resolver:     resolver,
		Differ:       dataDiffer,
		LogSink:      events.NullSink{},
	}
	return o, replicas
}

func TestOrchestratorRunsFullPipeline(t *testing.T) {
	o, _ := newSingleShardOrchestrator(t)
	result, err := o.Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Contains(t, namesOf(result), events.NameStart)
	require.Contains(t, namesOf(result), events.NameFinishedCheck)
}

func TestOrchestratorRecordsFailureOnDataMismatch(t *testing.T) {
	o, replicas := newSingleShardOrchestrator(t)
	teamValue := clusterapi.EncodeShardAssignmentValue([]clusterapi.ReplicaID{"s1", "s2"}, nil)
	replicas.Put("s2", &clusterapitest.ReplicaState{
		Address: "addr2", StoreType: "ssd",
		Data: []clusterapi.KeyValue{
			{Key: keyspace.Key("a"), Value: []byte("DIFFERENT")},
			{Key: keyspace.Key("b"), Value: []byte("2")},
			{Key: prefixedKS(""), Value: teamValue},
		},
	})

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, namesOf(result), events.NameDataInconsistent)
}

func TestOrchestratorQuiesceFailureDowngradesButRecordsFailure(t *testing.T) {
	o, _ := newSingleShardOrchestrator(t)
	o.Config.PerformQuiescentChecks = true
	o.Quiescence = &clusterapitest.QuiescenceDriver{Err: errQuiesceFailed}
	o.Topology = &topology.Auditor{
		Topology: &clusterapitest.TopologyClient{},
		Replicas: clusterapitest.NewReplicaClient(),
		Sink:     events.NullSink{},
	}

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Contains(t, namesOf(result), events.NameQuietDatabaseError)
}

func namesOf(r *Result) []events.Name {
	names := make([]events.Name, len(r.Events))
	for i, e := range r.Events {
		names[i] = e.Name
	}
	return names
}

var errQuiesceFailed = clusterapi.ErrAllAlternativesFailed
