// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package clusterapi holds the data model and the contracts the auditor
// consumes from its external collaborators: the transactional client, the
// storage-replica RPC endpoints, the control-plane directory, and the
// topology service. Per spec, these are out of scope for this repository —
// only the contract they must satisfy is specified here, together with
// in-memory fakes (clusterapitest) used to exercise the rest of the auditor
// in unit tests.
package clusterapi

import (
	"time"

	"github.com/cockroachdb/kvauditor/pkg/keyspace"
)

// Version is a monotone read version handed out by the transactional
// client. Replies fetched at the same Version from different replicas
// observe a single consistent snapshot and are directly comparable.
type Version int64

// ReplicaID is the stable identity of a storage replica, independent of its
// current network address.
type ReplicaID string

// ReplicaAddress is a storage replica's current network endpoint.
type ReplicaAddress string

// StoreType names a storage engine implementation (e.g. "ssd", "memory"),
// mirroring FoundationDB's KeyValueStoreType.
type StoreType string

// ReplicaInterface bundles a replica's identity and address. It carries no
// RPC endpoint of its own; calls go through ReplicaClient, keyed by ID.
type ReplicaInterface struct {
	ID      ReplicaID
	Address ReplicaAddress
}

// ShardAssignment describes one shard's current (and, during relocation,
// pending) team of replicas.
type ShardAssignment struct {
	Range  keyspace.KeyRange
	Source []ReplicaID
	Dest   []ReplicaID
}

// IsRelocating reports whether the shard has a pending destination team.
func (a ShardAssignment) IsRelocating() bool {
	return len(a.Dest) > 0
}

// ClusterConfiguration holds the subset of cluster configuration options
// the core auditor consumes.
type ClusterConfiguration struct {
	StorageTeamSize        int
	StorageServerStoreType StoreType
	ExcludedAddresses      map[ReplicaAddress]struct{}
}

// IsExcluded reports whether addr has been administratively excluded.
func (c ClusterConfiguration) IsExcluded(addr ReplicaAddress) bool {
	_, ok := c.ExcludedAddresses[addr]
	return ok
}

// KeyValue pairs a key with its value, as served by a replica or read from
// the directory.
type KeyValue struct {
	Key   keyspace.Key
	Value []byte
}

// KeyLocation is one row of the reconstructed /keyServers/ map: the key at
// which a shard begins, and its team-encoded value (decoded by
// DecodeShardAssignmentValue into a ShardAssignment.Source/Dest pair). The
// final KeyLocation in a resolved sequence carries the terminating range
// marker with no meaningful value.
type KeyLocation struct {
	Key   keyspace.Key
	Value []byte
}

// GetKeyValuesRequest is the paginated range-read request that
// ReplicaClient.GetKeyValues accepts.
type GetKeyValuesRequest struct {
	Begin      keyspace.Key
	End        keyspace.Key
	Limit      int
	LimitBytes int
	Version    Version
}

// GetKeyValuesReply is the paginated range-read response.
type GetKeyValuesReply struct {
	Data []KeyValue
	More bool
}

// ExpectedSize approximates the serialized size of the reply, used by the
// DataDiffer to drive the RateLimiter and to report read volume.
func (r GetKeyValuesReply) ExpectedSize() int {
	n := 0
	for _, kv := range r.Data {
		n += len(kv.Key) + len(kv.Value)
	}
	return n
}

// StorageMetrics is a replica's self-reported size estimate for a range.
type StorageMetrics struct {
	Bytes int64
}

// ShardLocation is one entry of a directory getKeyServersLocations reply.
type ShardLocation struct {
	Range    keyspace.KeyRange
	Replicas []ReplicaInterface
}

// WorkerFilter selects which workers a topology query should return.
type WorkerFilter int

// Worker-list filters.
const (
	WorkerFilterAll WorkerFilter = iota
	WorkerFilterNonExcluded
)

// ProcessClass names the class a worker process was configured (or
// defaulted) to run as.
type ProcessClass string

// Recognized process classes, mirroring FoundationDB's ProcessClass::ClassType.
const (
	ProcessClassStorage           ProcessClass = "storage"
	ProcessClassTransaction       ProcessClass = "transaction"
	ProcessClassResolution        ProcessClass = "resolution"
	ProcessClassCoordinator       ProcessClass = "coordinator"
	ProcessClassClusterController ProcessClass = "cluster_controller"
	ProcessClassUnset             ProcessClass = "unset"
)

// ClusterRole names a singleton or small-cardinality cluster role that
// TopologyAuditor's class-fitness check evaluates.
type ClusterRole int

// Cluster roles evaluated by the class-fitness check.
const (
	RoleClusterController ClusterRole = iota
	RoleMaster
	RoleProxy
	RoleResolver
)

// Fitness is an ordinal rank describing how well a process class can serve
// a given cluster role. Lower is better; NeverAssign is worst, ExcludeFit a
// fallback tier used only when no non-excluded class could ever host the
// role.
type Fitness int

// Fitness tiers, best to worst.
const (
	FitnessBest Fitness = iota
	FitnessGood
	FitnessOK
	FitnessExcludeFit
	FitnessNeverAssign
)

// Worker pairs a worker's interface with its current process class.
type Worker struct {
	Address ReplicaAddress
	Class   ProcessClass
}

// classFitness is the fitness a process class yields for a given cluster
// role, mirroring FoundationDB's ProcessClass::machineClassFitness table.
// Storage-class processes never host a transaction-system singleton;
// Unset is always usable, at OK tier, since it is the default an operator
// hasn't pinned to anything.
var classFitness = map[ClusterRole]map[ProcessClass]Fitness{
	RoleClusterController: {
		ProcessClassClusterController: FitnessBest,
		ProcessClassCoordinator:       FitnessGood,
		ProcessClassTransaction:       FitnessOK,
		ProcessClassResolution:        FitnessOK,
		ProcessClassUnset:             FitnessOK,
		ProcessClassStorage:           FitnessNeverAssign,
	},
	RoleMaster: {
		ProcessClassTransaction:       FitnessBest,
		ProcessClassClusterController: FitnessGood,
		ProcessClassResolution:        FitnessOK,
		ProcessClassCoordinator:       FitnessOK,
		ProcessClassUnset:             FitnessOK,
		ProcessClassStorage:           FitnessNeverAssign,
	},
	RoleProxy: {
		ProcessClassTransaction:       FitnessBest,
		ProcessClassResolution:        FitnessGood,
		ProcessClassClusterController: FitnessOK,
		ProcessClassCoordinator:       FitnessOK,
		ProcessClassUnset:             FitnessOK,
		ProcessClassStorage:           FitnessNeverAssign,
	},
	RoleResolver: {
		ProcessClassResolution:        FitnessBest,
		ProcessClassTransaction:       FitnessGood,
		ProcessClassClusterController: FitnessOK,
		ProcessClassCoordinator:       FitnessOK,
		ProcessClassUnset:             FitnessOK,
		ProcessClassStorage:           FitnessNeverAssign,
	},
}

// ClassFitness reports how well class can serve role. An unrecognized class
// is never assignable.
func ClassFitness(class ProcessClass, role ClusterRole) Fitness {
	if f, ok := classFitness[role][class]; ok {
		return f
	}
	return FitnessNeverAssign
}

// BestAvailableFitness returns the best (lowest) fitness role can achieve
// given the set of process classes actually present in a worker pool.
func BestAvailableFitness(present map[ProcessClass]struct{}, role ClusterRole) Fitness {
	best := FitnessNeverAssign
	for class := range present {
		if f := ClassFitness(class, role); f < best {
			best = f
		}
	}
	return best
}

// ClusterInterfaceInfo exposes the live holders of the singleton cluster
// roles the class-fitness check evaluates.
type ClusterInterfaceInfo struct {
	ClusterController ReplicaAddress
	Master            ReplicaAddress
	Proxies           []ReplicaAddress
	Resolvers         []ReplicaAddress
}

// DiskStore is one on-disk store UID discovered on a worker. It records
// only the UID; which storage replica or transaction log (if any) owns it
// is determined by the caller.
type DiskStore struct {
	ID string
}

// defaultRPCTimeout is the fail-fast deadline applied to every replica RPC,
// per spec: absence of a reply before this deadline is treated as "replica
// unreachable" by the caller's quiescent/non-quiescent policy.
const defaultRPCTimeout = 2 * time.Second

// RPCTimeout returns the fail-fast deadline applied to replica RPCs.
func RPCTimeout() time.Duration { return defaultRPCTimeout }
