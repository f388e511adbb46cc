// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"context"

	"github.com/cockroachdb/kvauditor/pkg/clusterapi"
)

// Cluster bundles the live collaborators one Orchestrator needs, the
// concrete counterparts of the clusterapi contracts. Constructing one
// against a real deployment (dialing proxies, resolvers, and storage
// replicas over whatever RPC transport that deployment uses) is out of
// scope here; this repo ships the contracts and a Dialer seam so a
// deployment-specific binary can supply its own.
type Cluster struct {
	Txn        clusterapi.TransactionClient
	Replicas   clusterapi.ReplicaClient
	Directory  clusterapi.DirectoryClient
	Topology   clusterapi.TopologyClient
	Quiescence clusterapi.QuiescenceDriver
	Config     clusterapi.ConfigSource
	Simulator  clusterapi.Simulator
}

// Dialer connects to a running cluster at addr and returns the bundle of
// clients an Orchestrator drives. main.go supplies the concrete
// implementation for whatever transport a deployment actually speaks.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Cluster, error)
}

// DialerFunc adapts a plain function to a Dialer.
type DialerFunc func(ctx context.Context, addr string) (Cluster, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, addr string) (Cluster, error) {
	return f(ctx, addr)
}
