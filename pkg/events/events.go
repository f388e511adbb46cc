// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package events defines the auditor's structured diagnostic events and the
// Sink adapter that emits them, mirroring the teacher's split between
// free-text logging and structured eventpb-style payloads.
package events

import (
	"context"
	"sort"

	"github.com/cockroachdb/kvauditor/pkg/util/log"
)

// Severity is the level a diagnostic event is emitted at.
type Severity int

// Event severities. Which of these a given Event gets is controlled by the
// Orchestrator's failureIsError option (spec.md §4.1, §7): callers pass
// Warn or Error explicitly rather than the sink deciding, so that a single
// EventSink implementation serves both quiescent and non-quiescent runs.
const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityErr
)

// Name is the well-known name of an emitted event, matching the
// ConsistencyCheck_* taxonomy of spec.md §6.
type Name string

// Event names. Every event named in spec.md §6 has a constant here.
const (
	NameStart                   Name = "ConsistencyCheck"
	NameFinishedCheck           Name = "ConsistencyCheck_FinishedCheck"
	NameRetry                   Name = "ConsistencyCheck_Retry"
	NameTestFailure             Name = "TestFailure"
	NameInconsistentKeyServers  Name = "ConsistencyCheck_InconsistentKeyServers"
	NameKeyServerUnavailable    Name = "ConsistencyCheck_KeyServerUnavailable"
	NameMasterProxyUnavailable  Name = "ConsistencyCheck_MasterProxyUnavailable"
	NameDataInconsistent        Name = "ConsistencyCheck_DataInconsistent"
	NameStorageServerUnavailable Name = "ConsistencyCheck_StorageServerUnavailable"
	NameInvalidTeamSize         Name = "ConsistencyCheck_InvalidTeamSize"
	NameIncorrectEstimate       Name = "ConsistencyCheck_IncorrectEstimate"
	NameInaccurateShardEstimate Name = "ConsistencyCheck_InaccurateShardEstimate"
	NameInvalidShardSize        Name = "ConsistencyCheck_InvalidShardSize"
	NameNonZeroDataDistributionQueue Name = "ConsistencyCheck_NonZeroDataDistributionQueue"
	NameNonZeroTLogQueue        Name = "ConsistencyCheck_NonZeroTLogQueue"
	NameNonZeroStorageServerQueue Name = "ConsistencyCheck_NonZeroStorageServerQueue"
	NameStorageQueueSizeError   Name = "ConsistencyCheck_StorageQueueSizeError"
	NameUndesirableServer       Name = "ConsistencyCheck_UndesirableServer"
	NameWrongKeyValueStoreType  Name = "ConsistencyCheck_WrongKeyValueStoreType"
	NameNoStorage               Name = "ConsistencyCheck_NoStorage"
	NameExtraDataStore          Name = "ConsistencyCheck_ExtraDataStore"
	NameRebootProcess           Name = "ConsistencyCheck_RebootProcess"
	NameGetDataStoreFailure     Name = "ConsistencyCheck_GetDataStoreFailure"
	NameClusterControllerNotBest Name = "ConsistencyCheck_ClusterControllerNotBest"
	NameMasterNotBest           Name = "ConsistencyCheck_MasterNotBest"
	NameProxyNotBest            Name = "ConsistencyCheck_ProxyNotBest"
	NameResolverNotBest         Name = "ConsistencyCheck_ResolverNotBest"
	NameWorkerMissingFromList   Name = "ConsistencyCheck_WorkerMissingFromList"
	NameFailedWorkerInList      Name = "ConsistencyCheck_FailedWorkerInList"
	NameQuietDatabaseError      Name = "ConsistencyCheck_QuietDatabaseError"
)

// Event is one structured diagnostic record.
type Event struct {
	Name     Name
	Severity Severity
	Detail   map[string]string
}

// New constructs an Event with the given name and severity, applying
// key/value detail pairs (an odd trailing key is dropped).
func New(name Name, severity Severity, kv ...string) Event {
	detail := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		detail[kv[i]] = kv[i+1]
	}
	return Event{Name: name, Severity: severity, Detail: detail}
}

// FailureSeverity maps the Orchestrator's failureIsError option to the
// severity a policy-violation event should carry, per spec.md §4.1.
func FailureSeverity(failureIsError bool) Severity {
	if failureIsError {
		return SeverityErr
	}
	return SeverityWarn
}

// Sink is where the auditor emits its diagnostic events.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// LogSink emits events through pkg/util/log, the default in production.
type LogSink struct{}

// Emit implements Sink.
func (LogSink) Emit(ctx context.Context, e Event) {
	msg := formatDetail(e)
	switch e.Severity {
	case SeverityErr:
		log.Errorf(ctx, "%s%s", e.Name, msg)
	case SeverityWarn:
		log.Warningf(ctx, "%s%s", e.Name, msg)
	default:
		log.Infof(ctx, "%s%s", e.Name, msg)
	}
}

func formatDetail(e Event) string {
	if len(e.Detail) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Detail))
	for k := range e.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for _, k := range keys {
		out += " " + k + "=" + e.Detail[k]
	}
	return out
}

// NullSink discards events; RecordingSink below is used where tests need to
// inspect what was emitted.
type NullSink struct{}

// Emit implements Sink.
func (NullSink) Emit(context.Context, Event) {}

// RecordingSink accumulates every emitted event, for test assertions.
type RecordingSink struct {
	Events []Event
}

// Emit implements Sink.
func (s *RecordingSink) Emit(_ context.Context, e Event) {
	s.Events = append(s.Events, e)
}

// Names returns the ordered event names recorded so far.
func (s *RecordingSink) Names() []Name {
	names := make([]Name, len(s.Events))
	for i, e := range s.Events {
		names[i] = e.Name
	}
	return names
}
