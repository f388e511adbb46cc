// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Command kvauditor runs the distributed consistency auditor described by
// pkg/auditor against a running cluster.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cockroachdb/kvauditor/pkg/cli"
)

func main() {
	if err := cli.Run(os.Args[1:], defaultDialer); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// defaultDialer refuses every dial: this repository specifies the
// clusterapi contracts and ships in-memory fakes for them
// (pkg/clusterapi/clusterapitest) but not a production RPC transport, per
// spec.md §6's framing of TransactionClient/ReplicaClient/DirectoryClient/
// TopologyClient as external collaborators. A deployment wires its own
// Dialer and passes it to cli.Run in its own main package.
var defaultDialer = cli.DialerFunc(func(_ context.Context, addr string) (cli.Cluster, error) {
	return cli.Cluster{}, fmt.Errorf("kvauditor: no cluster transport configured for %q", addr)
})
