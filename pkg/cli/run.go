// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/kvauditor/pkg/auditor"
	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
	"github.com/cockroachdb/kvauditor/pkg/differ"
	"github.com/cockroachdb/kvauditor/pkg/events"
	"github.com/cockroachdb/kvauditor/pkg/ratelimit"
	"github.com/cockroachdb/kvauditor/pkg/shards"
	"github.com/cockroachdb/kvauditor/pkg/topology"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// runFlags collects every spec option (spec.md §4.1) as bound cobra flags.
type runFlags struct {
	clusterAddr          string
	quiescent            bool
	quiescentWaitTimeout time.Duration
	distributed          bool
	shardSampleFactor    int
	failureIsError       bool
	rateLimit            int
	shuffleShards        bool
	indefinite           bool
	clientID             int
	clientCount          int
	sharedRandomNumber   uint64
	faultInjection       bool
}

func newRunCmd(dialer Dialer) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run a consistency-check pass against a cluster",
		Long: `
Runs one auditor client's iteration loop against a running cluster: quiesce
(first client only), TopologyAuditor (first client only, when quiescent),
then ShardDirectory -> LocationResolver -> DataDiffer in sequence.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), dialer, f, cmd.OutOrStdout())
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.clusterAddr, "cluster-addr", "", "address of the cluster's control plane")
	fl.BoolVar(&f.quiescent, "quiescent", false, "perform quiescent-only structural checks")
	fl.DurationVar(&f.quiescentWaitTimeout, "quiescent-wait-timeout", 0, "how long to wait for the cluster to quiesce before downgrading to non-quiescent")
	fl.BoolVar(&f.distributed, "distributed", false, "partition shards across --client-count cooperating clients")
	fl.IntVar(&f.shardSampleFactor, "shard-sample-factor", 1, "fully diff one shard out of every this many")
	fl.BoolVar(&f.failureIsError, "failure-is-error", true, "record policy violations at error severity rather than warning")
	fl.IntVar(&f.rateLimit, "rate-limit", 0, "read-rate limit in bytes/sec, 0 for unlimited")
	fl.BoolVar(&f.shuffleShards, "shuffle-shards", false, "visit shards in a deterministic per-iteration shuffled order")
	fl.BoolVar(&f.indefinite, "indefinite", false, "loop forever instead of exiting after one iteration")
	fl.IntVar(&f.clientID, "client-id", 0, "this client's index within a distributed run")
	fl.IntVar(&f.clientCount, "client-count", 1, "the number of cooperating clients in a distributed run")
	fl.Uint64Var(&f.sharedRandomNumber, "shared-random-number", 0, "seed shared by every cooperating client's shard shuffle; 0 picks a fixed default")
	fl.BoolVar(&f.faultInjection, "fault-injection", false, "shrink ShardDirectory's batch size to exercise its retry path")

	return cmd
}

func runRun(ctx context.Context, dialer Dialer, f *runFlags, out io.Writer) error {
	cluster, err := dialer.Dial(ctx, f.clusterAddr)
	if err != nil {
		return errors.Wrap(err, "cli: dialing cluster")
	}

	cfg := auditor.Config{
		PerformQuiescentChecks: f.quiescent,
		QuiescentWaitTimeout:   f.quiescentWaitTimeout,
		Distributed:            f.distributed,
		ShardSampleFactor:      f.shardSampleFactor,
		FailureIsError:         f.failureIsError,
		RateLimit:              f.rateLimit,
		ShuffleShards:          f.shuffleShards,
		Indefinite:             f.indefinite,
		ClientID:               f.clientID,
		ClientCount:            f.clientCount,
		FaultInjection:         f.faultInjection,
		SharedRandomNumber:     f.sharedRandomNumber,
	}

	sim := cluster.Simulator
	if sim == nil {
		sim = clusterapi.NoopSimulator{}
	}

	o := &auditor.Orchestrator{
		Config:       cfg,
		ConfigSource: cluster.Config,
		Quiescence:   cluster.Quiescence,
		Topology: &topology.Auditor{
			Topology:  cluster.Topology,
			Replicas:  cluster.Replicas,
			Simulator: sim,
			Config:    topology.Config{FailureIsError: cfg.FailureIsError},
		},
		Directory: &shards.Directory{
			Client: cluster.Directory,
			Config: shards.DirectoryConfig{
				PerformQuiescentChecks: cfg.PerformQuiescentChecks,
				FaultInjection:         cfg.FaultInjection,
				FailureIsError:         cfg.FailureIsError,
			},
		},
		Resolver: &shards.Resolver{
			Txn:      cluster.Txn,
			Replicas: cluster.Replicas,
			Config: shards.ResolverConfig{
				PerformQuiescentChecks: cfg.PerformQuiescentChecks,
				FailureIsError:         cfg.FailureIsError,
			},
		},
		Differ: &differ.DataDiffer{
			Replicas: cluster.Replicas,
			Txn:      cluster.Txn,
			Limiter:  ratelimit.New(cfg.RateLimit),
			Config: differ.Config{
				PerformQuiescentChecks: cfg.PerformQuiescentChecks,
				Distributed:            cfg.Distributed,
				FailureIsError:         cfg.FailureIsError,
			},
		},
	}

	runID := uuid.New()
	events.LogSink{}.Emit(ctx, events.New(events.NameStart, events.SeverityInfo, "run_id", runID.String()))

	result, err := o.Run(ctx)
	if err != nil {
		return errors.Wrapf(err, "cli: run %s", runID)
	}

	fmt.Fprintf(out, "run %s: success=%v events=%d\n", runID, result.Success, len(result.Events))
	if !result.Success {
		// Every event was already logged through o.LogSink (events.LogSink by
		// default) as it happened; name the offending ones here too so a
		// non-zero exit is self-explanatory without scrolling back through
		// the log.
		for _, e := range result.Events {
			if e.Severity == events.SeverityInfo {
				continue
			}
			fmt.Fprintf(out, "  %s\n", e.Name)
		}
		return errRunFailed
	}
	return nil
}

// errRunFailed is returned by RunE (never wrapped with extra context) when
// the check ran and found a problem. main.go exits with status 1 for it
// and for every other error alike.
var errRunFailed = errors.New("cli: consistency check reported a failure")
