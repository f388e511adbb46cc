// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package clusterapi

import "github.com/cockroachdb/errors"

// Sentinel errors the transactional client and replica RPCs are documented
// to return. The auditor classifies errors against these with errors.Is
// rather than string matching, following the teacher's pkg/errors idiom.
var (
	// ErrTransactionTooOld is returned when a read version has aged out of
	// the MVCC window before its reads completed.
	ErrTransactionTooOld = errors.New("transaction_too_old")
	// ErrFutureVersion is returned when a supplied read version is ahead of
	// what the cluster has committed.
	ErrFutureVersion = errors.New("future_version")
	// ErrWrongShardServer is returned by a replica that no longer (or does
	// not yet) own the requested range.
	ErrWrongShardServer = errors.New("wrong_shard_server")
	// ErrAllAlternativesFailed is returned when every candidate replica for
	// a request was unreachable.
	ErrAllAlternativesFailed = errors.New("all_alternatives_failed")
	// ErrServerRequestQueueFull is returned when a replica's request queue
	// is saturated.
	ErrServerRequestQueueFull = errors.New("server_request_queue_full")
	// ErrAttributeNotFound is returned when a queried metric or attribute
	// does not exist on the target, e.g. a storage queue-size gauge that a
	// misconfigured storage engine never registered.
	ErrAttributeNotFound = errors.New("attribute_not_found")
)

// retryable enumerates the errors spec.md §4.1 classifies as transient at
// the Orchestrator's coarse, per-iteration grain: logged and the run
// continues to the next iteration rather than being treated as a hard
// failure. ErrTransactionTooOld and ErrFutureVersion are additionally
// retried at the finer page/shard grain by LocationResolver and DataDiffer
// themselves (see IsVersionExpired); they only reach this coarse fallback
// if that local retry budget is exhausted.
var retryable = []error{
	ErrTransactionTooOld,
	ErrFutureVersion,
	ErrWrongShardServer,
	ErrAllAlternativesFailed,
	ErrServerRequestQueueFull,
}

// IsRetryable reports whether err is one of the transient RPC errors the
// Orchestrator logs-and-continues on rather than treating as a hard
// failure.
func IsRetryable(err error) bool {
	for _, r := range retryable {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

// IsVersionExpired reports whether err reflects a stale or premature read
// version, the two cases LocationResolver and DataDiffer retry the
// smallest enclosing work unit for.
func IsVersionExpired(err error) bool {
	return errors.Is(err, ErrTransactionTooOld) || errors.Is(err, ErrFutureVersion)
}
