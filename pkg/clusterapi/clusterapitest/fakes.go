// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package clusterapitest provides in-memory fakes for clusterapi's
// interfaces, used to exercise the ShardDirectory, LocationResolver,
// DataDiffer, and TopologyAuditor without a real cluster, in the spirit of
// the teacher's testutils fakes for Store/Replica.
package clusterapitest

import (
	"context"
	"sync"

	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
	"github.com/cockroachdb/kvauditor/pkg/keyspace"
)

// ReplicaState is one fake replica's held data and metadata.
type ReplicaState struct {
	Address   clusterapi.ReplicaAddress
	StoreType clusterapi.StoreType
	Data      []clusterapi.KeyValue // sorted by Key
	Unreachable bool
	SizeEstimate int64 // -1 to simulate a metrics fetch failure
}

// ReplicaClient is an in-memory clusterapi.ReplicaClient.
type ReplicaClient struct {
	mu       sync.Mutex
	Replicas map[clusterapi.ReplicaID]*ReplicaState
}

// NewReplicaClient constructs an empty fake replica client.
func NewReplicaClient() *ReplicaClient {
	return &ReplicaClient{Replicas: map[clusterapi.ReplicaID]*ReplicaState{}}
}

// Put registers or replaces a replica's state.
func (c *ReplicaClient) Put(id clusterapi.ReplicaID, s *ReplicaState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Replicas[id] = s
}

// GetKeyValues implements clusterapi.ReplicaClient.
func (c *ReplicaClient) GetKeyValues(_ context.Context, replica clusterapi.ReplicaID, req clusterapi.GetKeyValuesRequest) (clusterapi.GetKeyValuesReply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.Replicas[replica]
	if !ok || s.Unreachable {
		return clusterapi.GetKeyValuesReply{}, clusterapi.ErrAllAlternativesFailed
	}
	var out []clusterapi.KeyValue
	for _, kv := range s.Data {
		if kv.Key.Compare(req.Begin) >= 0 && kv.Key.Less(req.End) {
			out = append(out, kv)
		}
	}
	more := false
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
		more = true
	}
	return clusterapi.GetKeyValuesReply{Data: out, More: more}, nil
}

// WaitMetrics implements clusterapi.ReplicaClient.
func (c *ReplicaClient) WaitMetrics(_ context.Context, replica clusterapi.ReplicaID, rng keyspace.KeyRange, _, _ int64) (clusterapi.StorageMetrics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.Replicas[replica]
	if !ok || s.Unreachable {
		return clusterapi.StorageMetrics{}, clusterapi.ErrAllAlternativesFailed
	}
	return clusterapi.StorageMetrics{Bytes: s.SizeEstimate}, nil
}

// GetKeyValueStoreType implements clusterapi.ReplicaClient.
func (c *ReplicaClient) GetKeyValueStoreType(_ context.Context, replica clusterapi.ReplicaID) (clusterapi.StoreType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.Replicas[replica]
	if !ok || s.Unreachable {
		return "", clusterapi.ErrAllAlternativesFailed
	}
	return s.StoreType, nil
}

// DiskStoreRequest implements clusterapi.ReplicaClient.
func (c *ReplicaClient) DiskStoreRequest(_ context.Context, addr clusterapi.ReplicaAddress, _ bool) ([]clusterapi.DiskStore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []clusterapi.DiskStore
	for id, s := range c.Replicas {
		if s.Address == addr {
			out = append(out, clusterapi.DiskStore{ID: string(id)})
		}
	}
	return out, nil
}

// TransactionClient is an in-memory clusterapi.TransactionClient.
type TransactionClient struct {
	mu      sync.Mutex
	version clusterapi.Version
	values  map[string][]byte
}

// NewTransactionClient constructs a fake transaction client starting at
// read version 1.
func NewTransactionClient() *TransactionClient {
	return &TransactionClient{version: 1, values: map[string][]byte{}}
}

// Put registers a directory value, e.g. a /FF/serverList/<id> entry.
func (c *TransactionClient) Put(key keyspace.Key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[string(key)] = value
}

// AdvanceVersion bumps the read version returned by subsequent calls.
func (c *TransactionClient) AdvanceVersion() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
}

// GetReadVersion implements clusterapi.TransactionClient.
func (c *TransactionClient) GetReadVersion(context.Context) (clusterapi.Version, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version, nil
}

// Get implements clusterapi.TransactionClient.
func (c *TransactionClient) Get(_ context.Context, key keyspace.Key) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[string(key)]
	return v, ok, nil
}

// DirectoryClient is an in-memory clusterapi.DirectoryClient with a fixed
// single-proxy roster.
type DirectoryClient struct {
	Shards []clusterapi.ShardLocation
	changed chan struct{}
}

// NewDirectoryClient constructs a fake directory client serving shards.
func NewDirectoryClient(shards []clusterapi.ShardLocation) *DirectoryClient {
	return &DirectoryClient{Shards: shards, changed: make(chan struct{})}
}

// GetKeyServersLocations implements clusterapi.DirectoryClient.
func (c *DirectoryClient) GetKeyServersLocations(_ context.Context, _ int, begin, end keyspace.Key, limit int) ([]clusterapi.ShardLocation, error) {
	var out []clusterapi.ShardLocation
	for _, s := range c.Shards {
		if s.Range.End.Compare(begin) <= 0 || s.Range.Begin.Compare(end) >= 0 {
			continue
		}
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ProxyCount implements clusterapi.DirectoryClient.
func (c *DirectoryClient) ProxyCount() int { return 1 }

// RosterChanged implements clusterapi.DirectoryClient.
func (c *DirectoryClient) RosterChanged() <-chan struct{} { return c.changed }

// TopologyClient is an in-memory clusterapi.TopologyClient.
type TopologyClient struct {
	Workers          []clusterapi.Worker
	StorageServers   []clusterapi.ReplicaInterface
	TransactionLogs  []clusterapi.ReplicaInterface
	Interface        clusterapi.ClusterInterfaceInfo
	DDQueueSize      int64
	MaxTLogQueue     int64
	MaxStorageQueue  int64
	StorageQueueErr  error
}

// GetWorkers implements clusterapi.TopologyClient.
func (c *TopologyClient) GetWorkers(_ context.Context, filter clusterapi.WorkerFilter) ([]clusterapi.Worker, error) {
	if filter == clusterapi.WorkerFilterAll {
		return c.Workers, nil
	}
	return c.Workers, nil
}

// GetStorageServers implements clusterapi.TopologyClient.
func (c *TopologyClient) GetStorageServers(context.Context) ([]clusterapi.ReplicaInterface, error) {
	return c.StorageServers, nil
}

// GetTransactionLogs implements clusterapi.TopologyClient.
func (c *TopologyClient) GetTransactionLogs(context.Context) ([]clusterapi.ReplicaInterface, error) {
	return c.TransactionLogs, nil
}

// ClusterInterface implements clusterapi.TopologyClient.
func (c *TopologyClient) ClusterInterface(context.Context) (clusterapi.ClusterInterfaceInfo, error) {
	return c.Interface, nil
}

// DataDistributionQueueSize implements clusterapi.TopologyClient.
func (c *TopologyClient) DataDistributionQueueSize(context.Context) (int64, error) {
	return c.DDQueueSize, nil
}

// MaxTLogQueueSize implements clusterapi.TopologyClient.
func (c *TopologyClient) MaxTLogQueueSize(context.Context) (int64, error) {
	return c.MaxTLogQueue, nil
}

// MaxStorageServerQueueSize implements clusterapi.TopologyClient.
func (c *TopologyClient) MaxStorageServerQueueSize(context.Context) (int64, error) {
	if c.StorageQueueErr != nil {
		return 0, c.StorageQueueErr
	}
	return c.MaxStorageQueue, nil
}

// Simulator is a controllable fake clusterapi.Simulator.
type Simulator struct {
	Simulated bool
	Processes []clusterapi.ReplicaAddress
	Rebooted  []clusterapi.ReplicaAddress
}

// IsSimulated implements clusterapi.Simulator.
func (s *Simulator) IsSimulated() bool { return s.Simulated }

// RebootProcess implements clusterapi.Simulator.
func (s *Simulator) RebootProcess(_ context.Context, addr clusterapi.ReplicaAddress) error {
	s.Rebooted = append(s.Rebooted, addr)
	return nil
}

// Roster implements clusterapi.Simulator.
func (s *Simulator) Roster(context.Context) ([]clusterapi.ReplicaAddress, error) {
	return s.Processes, nil
}

// QuiescenceDriver is a controllable fake clusterapi.QuiescenceDriver.
type QuiescenceDriver struct {
	Err error
}

// Quiesce implements clusterapi.QuiescenceDriver.
func (d *QuiescenceDriver) Quiesce(context.Context) error { return d.Err }

// ConfigSource is a fixed fake clusterapi.ConfigSource.
type ConfigSource struct {
	Cluster  clusterapi.ClusterConfiguration
	DBSize   int64
	Err      error
}

// ClusterConfiguration implements clusterapi.ConfigSource.
func (c *ConfigSource) ClusterConfiguration(context.Context) (clusterapi.ClusterConfiguration, error) {
	return c.Cluster, c.Err
}

// DatabaseSizeBytes implements clusterapi.ConfigSource.
func (c *ConfigSource) DatabaseSizeBytes(context.Context) (int64, error) {
	return c.DBSize, c.Err
}
