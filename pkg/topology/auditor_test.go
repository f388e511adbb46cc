// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package topology

import (
	"context"
	"testing"

	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
	"github.com/cockroachdb/kvauditor/pkg/clusterapi/clusterapitest"
	"github.com/cockroachdb/kvauditor/pkg/events"
	"github.com/stretchr/testify/require"
)

func baseTopology() *clusterapitest.TopologyClient {
	return &clusterapitest.TopologyClient{
		StorageServers: []clusterapi.ReplicaInterface{
			{ID: "s1", Address: "10.0.0.1:1"},
			{ID: "s2", Address: "10.0.0.2:1"},
		},
		Workers: []clusterapi.Worker{
			{Address: "10.0.0.1:1", Class: clusterapi.ProcessClassStorage},
			{Address: "10.0.0.2:1", Class: clusterapi.ProcessClassStorage},
			{Address: "10.0.0.3:1", Class: clusterapi.ProcessClassClusterController},
		},
		Interface: clusterapi.ClusterInterfaceInfo{
			ClusterController: "10.0.0.3:1",
			Master:            "10.0.0.3:1",
		},
	}
}

func baseReplicas() *clusterapitest.ReplicaClient {
	r := clusterapitest.NewReplicaClient()
	r.Put("s1", &clusterapitest.ReplicaState{Address: "10.0.0.1:1", StoreType: "ssd"})
	r.Put("s2", &clusterapitest.ReplicaState{Address: "10.0.0.2:1", StoreType: "ssd"})
	return r
}

func TestAuditorRunAllPass(t *testing.T) {
	a := &Auditor{
		Topology:  baseTopology(),
		Replicas:  baseReplicas(),
		Simulator: &clusterapitest.Simulator{},
		Cluster:   clusterapi.ClusterConfiguration{StorageServerStoreType: "ssd"},
		Sink:      events.NullSink{},
	}
	findings := a.Run(context.Background())
	for _, f := range findings {
		require.Truef(t, f.OK, "check %s failed: %v", f.Check, f.Err)
	}
}

func TestAuditorDetectsDuplicateAddress(t *testing.T) {
	topo := baseTopology()
	topo.StorageServers[1].Address = topo.StorageServers[0].Address
	replicas := baseReplicas()
	replicas.Put("s2", &clusterapitest.ReplicaState{Address: topo.StorageServers[0].Address, StoreType: "ssd"})

	sink := &events.RecordingSink{}
	a := &Auditor{
		Topology: topo,
		Replicas: replicas,
		Cluster:  clusterapi.ClusterConfiguration{StorageServerStoreType: "ssd"},
		Sink:     sink,
	}
	findings := a.Run(context.Background())
	require.False(t, findings[0].OK)
	require.Contains(t, sink.Names(), events.NameUndesirableServer)
}

func TestAuditorDetectsWrongStoreType(t *testing.T) {
	replicas := baseReplicas()
	replicas.Put("s1", &clusterapitest.ReplicaState{Address: "10.0.0.1:1", StoreType: "memory"})

	sink := &events.RecordingSink{}
	a := &Auditor{
		Topology: baseTopology(),
		Replicas: replicas,
		Cluster:  clusterapi.ClusterConfiguration{StorageServerStoreType: "ssd"},
		Sink:     sink,
	}
	ok, err := a.checkForUndesirableServers(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, sink.Names(), events.NameWrongKeyValueStoreType)
}

func TestAuditorQueuesDrainedSuppressesAttributeNotFoundOnDuplicateFailure(t *testing.T) {
	topo := baseTopology()
	topo.StorageQueueErr = clusterapi.ErrAttributeNotFound

	a := &Auditor{Topology: topo, Sink: events.NullSink{}}
	ok, err := a.checkQueuesDrained(context.Background(), true)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = a.checkQueuesDrained(context.Background(), false)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAuditorDetectsMissingStorage(t *testing.T) {
	topo := baseTopology()
	topo.Workers = append(topo.Workers, clusterapi.Worker{Address: "10.0.0.9:1", Class: clusterapi.ProcessClassUnset})

	sink := &events.RecordingSink{}
	a := &Auditor{Topology: topo, Sink: sink}
	ok, err := a.checkForStorage(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, sink.Names(), events.NameNoStorage)
}

func TestAuditorDetectsExtraDataStoreAndReboots(t *testing.T) {
	replicas := baseReplicas()
	replicas.Put("orphan", &clusterapitest.ReplicaState{Address: "10.0.0.1:1"})

	topo := baseTopology()
	sim := &clusterapitest.Simulator{Simulated: true}
	sink := &events.RecordingSink{}
	a := &Auditor{Topology: topo, Replicas: replicas, Simulator: sim, Sink: sink}
	ok, err := a.checkForExtraDataStores(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, sink.Names(), events.NameExtraDataStore)
	require.Equal(t, []clusterapi.ReplicaAddress{"10.0.0.1:1"}, sim.Rebooted)
}

func TestAuditorClassFitnessFlagsWorseThanAvailable(t *testing.T) {
	topo := baseTopology()
	topo.Workers = append(topo.Workers, clusterapi.Worker{Address: "10.0.0.4:1", Class: clusterapi.ProcessClassTransaction})
	topo.Interface.Master = "10.0.0.1:1" // a storage-class worker holding Master

	sink := &events.RecordingSink{}
	a := &Auditor{Topology: topo, Sink: sink}
	ok, err := a.checkUsingDesiredClasses(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, sink.Names(), events.NameMasterNotBest)
}

func TestAuditorWorkerListAgreementOnlyRunsWhenSimulated(t *testing.T) {
	a := &Auditor{Topology: baseTopology(), Replicas: baseReplicas(), Simulator: &clusterapitest.Simulator{Simulated: false}, Cluster: clusterapi.ClusterConfiguration{StorageServerStoreType: "ssd"}, Sink: events.NullSink{}}
	findings := a.Run(context.Background())
	for _, f := range findings {
		require.NotEqual(t, "worker-list-agreement", f.Check)
	}
}

func TestAuditorWorkerListAgreementFlagsMissingProcess(t *testing.T) {
	sim := &clusterapitest.Simulator{Simulated: true, Processes: []clusterapi.ReplicaAddress{"10.0.0.1:1", "10.0.0.9:1"}}
	sink := &events.RecordingSink{}
	a := &Auditor{Topology: baseTopology(), Replicas: baseReplicas(), Simulator: sim, Cluster: clusterapi.ClusterConfiguration{StorageServerStoreType: "ssd"}, Sink: sink}
	ok, err := a.checkWorkerList(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, sink.Names(), events.NameWorkerMissingFromList)
}
