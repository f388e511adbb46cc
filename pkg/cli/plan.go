// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"fmt"
	"io"

	"github.com/cockroachdb/kvauditor/pkg/partition"
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	var (
		numShards          int
		clientID           int
		clientCount        int
		shardSampleFactor  int
		distributed        bool
		shuffleShards      bool
		sharedRandomNumber uint64
		repetitions        int64
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "print the shard-index sequence a client would visit",
		Long: `
Dry-run: prints, without touching a cluster, the shard indices a given
client-id/client-count/shard-sample-factor/shuffle-shards combination would
visit against a shard count, and which of those it would fully diff.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := partition.Plan{
				ClientID:           clientID,
				ClientCount:        clientCount,
				ShardSampleFactor:  shardSampleFactor,
				Distributed:        distributed,
				FirstClient:        clientID == 0,
				SharedRandomNumber: sharedRandomNumber,
				Repetitions:        repetitions,
				ShuffleShards:      shuffleShards,
			}
			return printPlan(cmd.OutOrStdout(), p, numShards)
		},
	}

	fl := cmd.Flags()
	fl.IntVar(&numShards, "num-shards", 1, "total shard count to plan against")
	fl.IntVar(&clientID, "client-id", 0, "this client's index within a distributed run")
	fl.IntVar(&clientCount, "client-count", 1, "the number of cooperating clients in a distributed run")
	fl.IntVar(&shardSampleFactor, "shard-sample-factor", 1, "fully diff one shard out of every this many")
	fl.BoolVar(&distributed, "distributed", false, "partition shards across --client-count cooperating clients")
	fl.BoolVar(&shuffleShards, "shuffle-shards", false, "apply the deterministic per-iteration shard shuffle")
	fl.Uint64Var(&sharedRandomNumber, "shared-random-number", 0x5eed, "seed for the shard shuffle")
	fl.Int64Var(&repetitions, "repetitions", 0, "iteration count feeding the shard-shuffle seed")

	return cmd
}

func printPlan(out io.Writer, p partition.Plan, numShards int) error {
	order := p.ShardOrder(numShards)
	for _, index := range p.Indices(numShards) {
		if index >= len(order) {
			continue
		}
		shard := order[index]
		fmt.Fprintf(out, "%d\tfullyDiff=%v\n", shard, p.ShouldFullyDiff(shard))
	}
	return nil
}
