// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package clusterapi

import (
	"context"

	"github.com/cockroachdb/kvauditor/pkg/keyspace"
)

// TransactionClient is the transactional client's contract: acquiring read
// versions and reading single system-keyspace values. Range reads and
// storage metrics go through ReplicaClient instead.
type TransactionClient interface {
	// GetReadVersion returns a version at which subsequent reads observe a
	// single consistent snapshot.
	GetReadVersion(ctx context.Context) (Version, error)
	// Get fetches a single value, e.g. a /FF/serverList/<id> directory
	// entry. ok is false if the key is absent.
	Get(ctx context.Context, key keyspace.Key) (value []byte, ok bool, err error)
}

// ReplicaClient is the RPC surface a single storage replica exposes.
type ReplicaClient interface {
	// GetKeyValues serves a paginated range read at a fixed version.
	GetKeyValues(ctx context.Context, replica ReplicaID, req GetKeyValuesRequest) (GetKeyValuesReply, error)
	// WaitMetrics returns the replica's own size estimate for a range,
	// bounded by [min, max] (max == -1 meaning "any size").
	WaitMetrics(ctx context.Context, replica ReplicaID, rng keyspace.KeyRange, min, max int64) (StorageMetrics, error)
	// GetKeyValueStoreType reports the storage engine the replica runs.
	GetKeyValueStoreType(ctx context.Context, replica ReplicaID) (StoreType, error)
	// DiskStoreRequest enumerates the on-disk store UIDs present on the
	// worker at addr, optionally including stores not currently attached
	// to a live replica.
	DiskStoreRequest(ctx context.Context, addr ReplicaAddress, includeUnused bool) ([]DiskStore, error)
}

// DirectoryClient is the control-plane directory's contract: paginated
// shard→team lookups fanned out to every proxy, plus a notification when
// the proxy roster changes underneath an in-flight request.
type DirectoryClient interface {
	// GetKeyServersLocations queries a single proxy (identified by index)
	// for shard locations covering [begin, end), returning at most limit
	// shards.
	GetKeyServersLocations(ctx context.Context, proxy int, begin, end keyspace.Key, limit int) ([]ShardLocation, error)
	// ProxyCount returns the number of proxies currently known.
	ProxyCount() int
	// RosterChanged fires when the set of proxies changes; an in-flight
	// fan-out should abort and restart against the refreshed roster.
	RosterChanged() <-chan struct{}
}

// TopologyClient is the cluster membership/topology service's contract.
type TopologyClient interface {
	GetWorkers(ctx context.Context, filter WorkerFilter) ([]Worker, error)
	GetStorageServers(ctx context.Context) ([]ReplicaInterface, error)
	GetTransactionLogs(ctx context.Context) ([]ReplicaInterface, error)
	ClusterInterface(ctx context.Context) (ClusterInterfaceInfo, error)
	// DataDistributionQueueSize returns the number of shards currently
	// in-flight or queued for relocation.
	DataDistributionQueueSize(ctx context.Context) (int64, error)
	// MaxTLogQueueSize returns the largest transaction-log queue depth
	// across the cluster.
	MaxTLogQueueSize(ctx context.Context) (int64, error)
	// MaxStorageServerQueueSize returns the largest storage-replica input
	// queue depth across the cluster. It returns ErrAttributeNotFound if
	// the queue-size gauge is unavailable.
	MaxStorageServerQueueSize(ctx context.Context) (int64, error)
}

// QuiescenceDriver stops and starts data movement and drains in-flight
// queues so the cluster can be observed at rest.
type QuiescenceDriver interface {
	// Quiesce blocks until the cluster is quiet or timeout elapses.
	Quiesce(ctx context.Context) error
}

// ConfigSource snapshots the pieces of live cluster state the Orchestrator
// re-reads once per iteration: the storage configuration DataDiffer and
// TopologyAuditor check against, and the database's total size, which
// drives the per-shard size-bounds computation (spec.md §4.4's "derived
// from total database size").
type ConfigSource interface {
	ClusterConfiguration(ctx context.Context) (ClusterConfiguration, error)
	DatabaseSizeBytes(ctx context.Context) (int64, error)
}

// Simulator is the injected capability interface standing in for
// FoundationDB's global g_simulator/g_network state (spec.md §9):
// production builds pass a no-op implementation, and only a simulation
// harness pass one that actually reboots processes.
type Simulator interface {
	// IsSimulated reports whether the auditor is running against a
	// simulated cluster (enabling simulation-only checks and side effects).
	IsSimulated() bool
	// RebootProcess reboots the simulated process at addr.
	RebootProcess(ctx context.Context, addr ReplicaAddress) error
	// Roster returns the address of every reliable, non-tester server
	// process the simulation currently runs, standing in for
	// g_simulator.getAllProcesses() in the original.
	Roster(ctx context.Context) ([]ReplicaAddress, error)
}

// NoopSimulator is the production Simulator: IsSimulated is always false,
// and RebootProcess/Roster are never expected to be called.
type NoopSimulator struct{}

// IsSimulated implements Simulator.
func (NoopSimulator) IsSimulated() bool { return false }

// RebootProcess implements Simulator.
func (NoopSimulator) RebootProcess(context.Context, ReplicaAddress) error { return nil }

// Roster implements Simulator.
func (NoopSimulator) Roster(context.Context) ([]ReplicaAddress, error) { return nil, nil }
