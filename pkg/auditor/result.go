// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package auditor

import (
	"context"

	"github.com/cockroachdb/kvauditor/pkg/events"
)

// Result accumulates one run's outcome: Success is sticky-false — once any
// component records a policy violation, it stays false for the rest of the
// run, independent of whether that violation was diagnosed at SeverityWarn
// or SeverityErr — and Events carries every diagnostic event emitted along
// the way, in emission order, mirroring the recording behavior spec.md §7
// describes for the external test harness.
type Result struct {
	Success bool
	Events  []events.Event
}

// NewResult constructs a Result that starts successful.
func NewResult() *Result {
	return &Result{Success: true}
}

// Fail marks the result unsuccessful. TopologyAuditor and DataDiffer
// report an ok bool alongside any error, while ShardDirectory and
// LocationResolver report violations as errors; the Orchestrator calls
// Fail whenever a component reports !ok or an iteration ends in a
// non-retryable error, independent of the events it already emitted.
func (r *Result) Fail() {
	r.Success = false
}

// recordingSink is an events.Sink that appends every emitted event to a
// Result's log, threaded through the components that don't themselves know
// about the aggregate result, and forwards each event through an
// underlying Sink (events.LogSink in production; tests substitute
// events.NullSink so assertions aren't drowned in log output).
type recordingSink struct {
	result   *Result
	delegate events.Sink
}

// Emit implements events.Sink.
func (s recordingSink) Emit(ctx context.Context, e events.Event) {
	s.result.Events = append(s.result.Events, e)
	s.delegate.Emit(ctx, e)
}
