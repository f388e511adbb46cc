// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package auditor

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
	"github.com/cockroachdb/kvauditor/pkg/differ"
	"github.com/cockroachdb/kvauditor/pkg/events"
	"github.com/cockroachdb/kvauditor/pkg/partition"
	"github.com/cockroachdb/kvauditor/pkg/shards"
	"github.com/cockroachdb/kvauditor/pkg/topology"
)

// Orchestrator owns one auditor client's iteration loop: quiesce (first
// client only), then repeatedly snapshot configuration, run TopologyAuditor
// (first client only, when quiescent), and run ShardDirectory ->
// LocationResolver -> DataDiffer in strict sequence, per spec.md §4.1.
type Orchestrator struct {
	Config Config

	ConfigSource clusterapi.ConfigSource
	Quiescence   clusterapi.QuiescenceDriver

	Topology  *topology.Auditor
	Directory *shards.Directory
	Resolver  *shards.Resolver
	Differ    *differ.DataDiffer

	// LogSink is where every emitted diagnostic is additionally forwarded,
	// alongside Result.Events, so a live run's inconsistencies actually
	// reach the operator rather than only accumulating silently in memory.
	// Defaults to events.LogSink{}; tests substitute events.NullSink{} to
	// keep output quiet.
	LogSink events.Sink

	// Repetitions counts completed iterations, feeding ShardOrder's seed so
	// a shuffled visitation order differs iteration to iteration while
	// staying identical across clients within the same iteration.
	Repetitions int64

	sink events.Sink
}

// Harness is the external collaborator that drives one or more
// Orchestrators, e.g. a CLI command spawning one goroutine per client.
type Harness interface {
	Run(ctx context.Context, o *Orchestrator) error
}

// Run executes the client's iteration loop to completion, returning the
// accumulated Result. It exits after one iteration unless Config.Indefinite.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	result := NewResult()
	delegate := o.LogSink
	if delegate == nil {
		delegate = events.LogSink{}
	}
	o.sink = recordingSink{result: result, delegate: delegate}

	if o.Directory != nil {
		o.Directory.Sink = o.sink
	}
	if o.Resolver != nil {
		o.Resolver.Sink = o.sink
	}
	if o.Differ != nil {
		o.Differ.Sink = o.sink
	}
	if o.Topology != nil {
		o.Topology.Sink = o.sink
	}

	o.sink.Emit(ctx, events.New(events.NameStart, events.SeverityInfo))

	performQuiescentChecks := o.Config.PerformQuiescentChecks
	if o.Config.FirstClient() && performQuiescentChecks && o.Quiescence != nil {
		qctx := ctx
		var cancel context.CancelFunc
		if o.Config.QuiescentWaitTimeout > 0 {
			qctx, cancel = context.WithTimeout(ctx, o.Config.QuiescentWaitTimeout)
			defer cancel()
		}
		if err := o.Quiescence.Quiesce(qctx); err != nil {
			o.sink.Emit(ctx, events.New(events.NameQuietDatabaseError, events.FailureSeverity(o.Config.FailureIsError)))
			result.Fail()
			performQuiescentChecks = false
			if o.Directory != nil {
				o.Directory.Config.PerformQuiescentChecks = false
			}
			if o.Resolver != nil {
				o.Resolver.Config.PerformQuiescentChecks = false
			}
			if o.Differ != nil {
				o.Differ.Config.PerformQuiescentChecks = false
			}
		}
	}

	for {
		if err := o.runIteration(ctx, result, performQuiescentChecks); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return result, ctx.Err()
			}
			if clusterapi.IsRetryable(err) {
				o.sink.Emit(ctx, events.New(events.NameRetry, events.SeverityWarn, "error", err.Error()))
			} else {
				result.Fail()
			}
		}
		o.Repetitions++

		if !o.Config.Indefinite {
			break
		}
		select {
		case <-time.After(iterationSpacing):
		case <-ctx.Done():
			return result, ctx.Err()
		}
	}

	o.sink.Emit(ctx, events.New(events.NameFinishedCheck, events.SeverityInfo))
	return result, nil
}

// runIteration performs one pass of TopologyAuditor (first client, when
// quiescent) followed by the strictly sequential
// ShardDirectory -> LocationResolver -> DataDiffer chain.
func (o *Orchestrator) runIteration(ctx context.Context, result *Result, performQuiescentChecks bool) error {
	cfg, err := o.ConfigSource.ClusterConfiguration(ctx)
	if err != nil {
		return errors.Wrap(err, "auditor: reading cluster configuration")
	}
	dbSize, err := o.ConfigSource.DatabaseSizeBytes(ctx)
	if err != nil {
		return errors.Wrap(err, "auditor: reading database size")
	}

	if o.Config.FirstClient() && performQuiescentChecks && o.Topology != nil {
		o.Topology.Cluster = cfg
		for _, finding := range o.Topology.Run(ctx) {
			if !finding.OK {
				result.Fail()
			}
			if finding.Err != nil {
				return finding.Err
			}
		}
	}

	assignments, err := o.Directory.Collect(ctx)
	if err != nil {
		return err
	}

	locations, err := o.Resolver.Resolve(ctx, assignments)
	if err != nil {
		return err
	}

	plan := partition.Plan{
		ClientID:           o.Config.ClientID,
		ClientCount:        o.Config.ClientCount,
		ShardSampleFactor:  effectiveSampleFactor(o.Config.ShardSampleFactor),
		Distributed:        o.Config.Distributed,
		FirstClient:        o.Config.FirstClient(),
		SharedRandomNumber: o.Config.sharedRandomNumber(),
		Repetitions:        o.Repetitions,
		ShuffleShards:      o.Config.ShuffleShards,
	}

	ok, err := o.Differ.Check(ctx, locations, cfg, dbSize, plan)
	if err != nil {
		return err
	}
	if !ok {
		result.Fail()
	}
	return nil
}

// effectiveSampleFactor guards against a misconfigured factor below the
// spec's documented minimum of 1.
func effectiveSampleFactor(factor int) int {
	if factor < 1 {
		return 1
	}
	return factor
}
