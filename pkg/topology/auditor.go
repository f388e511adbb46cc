// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package topology implements the quiescent structural checks that run once
// per iteration, ahead of ShardDirectory: duplicate storage addresses, wrong
// key-value store types, drained queues, storage coverage, extra data
// stores, and process-class fitness, plus a simulation-only worker-list
// agreement check.
package topology

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
	"github.com/cockroachdb/kvauditor/pkg/events"
)

// maxTLogQueueTolerance bounds the transaction-log queue check; spec.md §4.5
// notes this is a tolerance for residual logs rather than a hard zero.
const maxTLogQueueTolerance = 100_000

// Config bundles Auditor's tunables.
type Config struct {
	FailureIsError bool
}

// Auditor runs the five independent structural sub-checks of spec.md §4.5.
type Auditor struct {
	Topology  clusterapi.TopologyClient
	Replicas  clusterapi.ReplicaClient
	Simulator clusterapi.Simulator
	Cluster   clusterapi.ClusterConfiguration
	Sink      events.Sink
	Config    Config
}

// Finding is one sub-check's outcome.
type Finding struct {
	Check string
	OK    bool
	Err   error
}

func (a *Auditor) fail(ctx context.Context, name events.Name, kv ...string) {
	a.Sink.Emit(ctx, events.New(name, events.FailureSeverity(a.Config.FailureIsError), kv...))
}

// Run executes every sub-check in order, recording each independently. A
// failing sub-check does not prevent the rest from running.
func (a *Auditor) Run(ctx context.Context) []Finding {
	duplicateOK, err := a.checkForUndesirableServers(ctx)
	findings := []Finding{{Check: "undesirable-servers", OK: duplicateOK, Err: err}}

	queuesOK, err := a.checkQueuesDrained(ctx, !duplicateOK)
	findings = append(findings, Finding{Check: "queues-drained", OK: queuesOK, Err: err})

	storageOK, err := a.checkForStorage(ctx)
	findings = append(findings, Finding{Check: "storage-coverage", OK: storageOK, Err: err})

	extraOK, err := a.checkForExtraDataStores(ctx)
	findings = append(findings, Finding{Check: "no-extra-data-stores", OK: extraOK, Err: err})

	fitnessOK, err := a.checkUsingDesiredClasses(ctx)
	findings = append(findings, Finding{Check: "class-fitness", OK: fitnessOK, Err: err})

	if a.Simulator != nil && a.Simulator.IsSimulated() {
		workerListOK, err := a.checkWorkerList(ctx)
		findings = append(findings, Finding{Check: "worker-list-agreement", OK: workerListOK, Err: err})
	}

	return findings
}

// checkForUndesirableServers returns false if any two storage replicas
// share a network address, or if any replica reports the wrong key-value
// store type or is unreachable.
func (a *Auditor) checkForUndesirableServers(ctx context.Context) (bool, error) {
	servers, err := a.Topology.GetStorageServers(ctx)
	if err != nil {
		return false, errors.Wrap(err, "topology: listing storage servers")
	}

	seen := make(map[clusterapi.ReplicaAddress]clusterapi.ReplicaID, len(servers))
	ok := true
	for _, s := range servers {
		storeType, err := a.Replicas.GetKeyValueStoreType(ctx, s.ID)
		if err != nil {
			a.fail(ctx, events.NameGetDataStoreFailure, "server", string(s.ID))
			return false, nil
		}
		if storeType != a.Cluster.StorageServerStoreType {
			a.fail(ctx, events.NameWrongKeyValueStoreType,
				"server", string(s.ID), "storeType", string(storeType), "desiredType", string(a.Cluster.StorageServerStoreType))
			return false, nil
		}
		if other, dup := seen[s.Address]; dup {
			a.fail(ctx, events.NameUndesirableServer,
				"storageServer1", string(other), "storageServer2", string(s.ID), "address", string(s.Address))
			ok = false
			break
		}
		seen[s.Address] = s.ID
	}
	return ok, nil
}

// checkQueuesDrained returns false if any of the data-distribution,
// transaction-log, or storage input queues carry backlog. A storage-queue
// read that fails with ErrAttributeNotFound is tolerated iff
// duplicateAddressFailed, matching original_source's suppression rule.
func (a *Auditor) checkQueuesDrained(ctx context.Context, duplicateAddressFailed bool) (bool, error) {
	ddQueue, err := a.Topology.DataDistributionQueueSize(ctx)
	if err != nil {
		return false, errors.Wrap(err, "topology: reading data distribution queue")
	}
	if ddQueue != 0 {
		a.fail(ctx, events.NameNonZeroDataDistributionQueue, "queueSize", itoa64(ddQueue))
		return false, nil
	}

	tlogQueue, err := a.Topology.MaxTLogQueueSize(ctx)
	if err != nil {
		return false, errors.Wrap(err, "topology: reading tlog queue")
	}
	if tlogQueue > maxTLogQueueTolerance {
		a.fail(ctx, events.NameNonZeroTLogQueue, "queueSize", itoa64(tlogQueue))
		return false, nil
	}

	storageQueue, err := a.Topology.MaxStorageServerQueueSize(ctx)
	if err != nil {
		if errors.Is(err, clusterapi.ErrAttributeNotFound) && duplicateAddressFailed {
			return true, nil
		}
		a.fail(ctx, events.NameStorageQueueSizeError)
		return false, nil
	}
	if storageQueue != 0 {
		a.fail(ctx, events.NameNonZeroStorageServerQueue, "queueSize", itoa64(storageQueue))
		return false, nil
	}
	return true, nil
}

// checkForStorage returns false if any non-excluded StorageClass or
// UnsetClass worker has no matching storage replica at its address.
func (a *Auditor) checkForStorage(ctx context.Context) (bool, error) {
	workers, err := a.Topology.GetWorkers(ctx, clusterapi.WorkerFilterAll)
	if err != nil {
		return false, errors.Wrap(err, "topology: listing workers")
	}
	servers, err := a.Topology.GetStorageServers(ctx)
	if err != nil {
		return false, errors.Wrap(err, "topology: listing storage servers")
	}
	present := make(map[clusterapi.ReplicaAddress]struct{}, len(servers))
	for _, s := range servers {
		present[s.Address] = struct{}{}
	}

	for _, w := range workers {
		if a.Cluster.IsExcluded(w.Address) {
			continue
		}
		if w.Class != clusterapi.ProcessClassStorage && w.Class != clusterapi.ProcessClassUnset {
			continue
		}
		if _, ok := present[w.Address]; !ok {
			a.fail(ctx, events.NameNoStorage, "address", string(w.Address))
			return false, nil
		}
	}
	return true, nil
}

// checkForExtraDataStores returns false if any worker holds an on-disk
// store UID not claimed by a currently-registered storage replica or
// transaction log at that address. In simulation, every offending process
// is also rebooted.
func (a *Auditor) checkForExtraDataStores(ctx context.Context) (bool, error) {
	workers, err := a.Topology.GetWorkers(ctx, clusterapi.WorkerFilterAll)
	if err != nil {
		return false, errors.Wrap(err, "topology: listing workers")
	}
	servers, err := a.Topology.GetStorageServers(ctx)
	if err != nil {
		return false, errors.Wrap(err, "topology: listing storage servers")
	}
	logs, err := a.Topology.GetTransactionLogs(ctx)
	if err != nil {
		return false, errors.Wrap(err, "topology: listing transaction logs")
	}

	statefulByAddress := make(map[clusterapi.ReplicaAddress]map[string]struct{})
	addStateful := func(addr clusterapi.ReplicaAddress, id string) {
		m, ok := statefulByAddress[addr]
		if !ok {
			m = make(map[string]struct{})
			statefulByAddress[addr] = m
		}
		m[id] = struct{}{}
	}
	for _, s := range servers {
		addStateful(s.Address, string(s.ID))
	}
	for _, l := range logs {
		addStateful(l.Address, string(l.ID))
	}

	foundExtra := false
	for _, w := range workers {
		stores, err := a.Replicas.DiskStoreRequest(ctx, w.Address, false)
		if err != nil {
			a.fail(ctx, events.NameGetDataStoreFailure, "address", string(w.Address))
			return false, nil
		}
		known := statefulByAddress[w.Address]
		for _, store := range stores {
			if _, ok := known[store.ID]; ok {
				continue
			}
			a.fail(ctx, events.NameExtraDataStore, "address", string(w.Address), "dataStoreID", store.ID)
			if a.Simulator != nil && a.Simulator.IsSimulated() {
				a.fail(ctx, events.NameRebootProcess, "address", string(w.Address), "dataStoreID", store.ID)
				if err := a.Simulator.RebootProcess(ctx, w.Address); err != nil {
					return false, errors.Wrap(err, "topology: rebooting process")
				}
			}
			foundExtra = true
		}
	}
	return !foundExtra, nil
}

// checkUsingDesiredClasses returns false if any singleton cluster role's
// live holder does not have the best available process class fitness for
// that role, with a Master-specific ExcludeFit fallback per spec.md §4.5.
func (a *Auditor) checkUsingDesiredClasses(ctx context.Context) (bool, error) {
	allWorkers, err := a.Topology.GetWorkers(ctx, clusterapi.WorkerFilterAll)
	if err != nil {
		return false, errors.Wrap(err, "topology: listing workers")
	}
	nonExcluded, err := a.Topology.GetWorkers(ctx, clusterapi.WorkerFilterNonExcluded)
	if err != nil {
		return false, errors.Wrap(err, "topology: listing non-excluded workers")
	}
	iface, err := a.Topology.ClusterInterface(ctx)
	if err != nil {
		return false, errors.Wrap(err, "topology: reading cluster interface")
	}

	allClasses := classSet(allWorkers)
	nonExcludedClasses := classSet(nonExcluded)
	allByAddr := classByAddress(allWorkers)
	nonExcludedByAddr := classByAddress(nonExcluded)

	best := clusterapi.BestAvailableFitness(nonExcludedClasses, clusterapi.RoleClusterController)
	if !a.roleAtBestFitness(iface.ClusterController, clusterapi.RoleClusterController, best, nonExcludedByAddr) {
		a.fail(ctx, events.NameClusterControllerNotBest, "address", string(iface.ClusterController))
		return false, nil
	}

	masterBest := clusterapi.BestAvailableFitness(nonExcludedClasses, clusterapi.RoleMaster)
	if masterBest == clusterapi.FitnessNeverAssign {
		if clusterapi.BestAvailableFitness(allClasses, clusterapi.RoleMaster) != clusterapi.FitnessNeverAssign {
			masterBest = clusterapi.FitnessExcludeFit
		}
	}
	if !a.masterAtBestFitness(iface.Master, masterBest, allByAddr, nonExcludedByAddr) {
		a.fail(ctx, events.NameMasterNotBest, "address", string(iface.Master))
		return false, nil
	}

	proxyBest := clusterapi.BestAvailableFitness(nonExcludedClasses, clusterapi.RoleProxy)
	for _, addr := range iface.Proxies {
		if !a.roleAtBestFitness(addr, clusterapi.RoleProxy, proxyBest, nonExcludedByAddr) {
			a.fail(ctx, events.NameProxyNotBest, "address", string(addr))
			return false, nil
		}
	}

	resolverBest := clusterapi.BestAvailableFitness(nonExcludedClasses, clusterapi.RoleResolver)
	for _, addr := range iface.Resolvers {
		if !a.roleAtBestFitness(addr, clusterapi.RoleResolver, resolverBest, nonExcludedByAddr) {
			a.fail(ctx, events.NameResolverNotBest, "address", string(addr))
			return false, nil
		}
	}

	return true, nil
}

func (a *Auditor) roleAtBestFitness(addr clusterapi.ReplicaAddress, role clusterapi.ClusterRole, best clusterapi.Fitness, nonExcludedByAddr map[clusterapi.ReplicaAddress]clusterapi.ProcessClass) bool {
	class, ok := nonExcludedByAddr[addr]
	if !ok {
		return false
	}
	return clusterapi.ClassFitness(class, role) == best
}

func (a *Auditor) masterAtBestFitness(addr clusterapi.ReplicaAddress, best clusterapi.Fitness, allByAddr, nonExcludedByAddr map[clusterapi.ReplicaAddress]clusterapi.ProcessClass) bool {
	if _, ok := allByAddr[addr]; !ok {
		return false
	}
	class, nonExcluded := nonExcludedByAddr[addr]
	if !nonExcluded && best != clusterapi.FitnessExcludeFit {
		return false
	}
	if !nonExcluded {
		return true
	}
	return clusterapi.ClassFitness(class, clusterapi.RoleMaster) == best
}

// checkWorkerList returns false if the topology service's worker list
// disagrees with the simulated roster, address for address: every worker
// must correspond to a live process, and every roster process must appear
// in the worker list. It is invoked only when a.Simulator reports a
// simulated run.
func (a *Auditor) checkWorkerList(ctx context.Context) (bool, error) {
	workers, err := a.Topology.GetWorkers(ctx, clusterapi.WorkerFilterAll)
	if err != nil {
		return false, errors.Wrap(err, "topology: listing workers")
	}
	roster, err := a.Simulator.Roster(ctx)
	if err != nil {
		return false, errors.Wrap(err, "topology: reading simulated roster")
	}

	reported := make(map[clusterapi.ReplicaAddress]struct{}, len(workers))
	for _, w := range workers {
		reported[w.Address] = struct{}{}
	}
	for _, addr := range roster {
		if _, ok := reported[addr]; !ok {
			a.fail(ctx, events.NameWorkerMissingFromList, "address", string(addr))
			return false, nil
		}
	}
	live := make(map[clusterapi.ReplicaAddress]struct{}, len(roster))
	for _, addr := range roster {
		live[addr] = struct{}{}
	}
	for _, w := range workers {
		if _, ok := live[w.Address]; !ok {
			a.fail(ctx, events.NameFailedWorkerInList, "address", string(w.Address))
			return false, nil
		}
	}
	return true, nil
}

func classSet(workers []clusterapi.Worker) map[clusterapi.ProcessClass]struct{} {
	out := make(map[clusterapi.ProcessClass]struct{}, len(workers))
	for _, w := range workers {
		out[w.Class] = struct{}{}
	}
	return out
}

func classByAddress(workers []clusterapi.Worker) map[clusterapi.ReplicaAddress]clusterapi.ProcessClass {
	out := make(map[clusterapi.ReplicaAddress]clusterapi.ProcessClass, len(workers))
	for _, w := range workers {
		out[w.Address] = w.Class
	}
	return out
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
