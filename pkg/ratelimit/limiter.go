// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package ratelimit paces the auditor's read traffic against a shard's
// storage replicas. It wraps golang.org/x/time/rate the way the teacher's
// kvserver.replica_proposal.go wraps a rate.Limiter for the consistency
// check's own read-rate cluster setting.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a token-bucket byte budget. A RateLimiter constructed with
// a non-positive rate is a no-op: GetAllowance returns immediately, per
// spec.md's "rateLimit = 0 must never suspend" boundary case.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New constructs a RateLimiter that admits bytesPerSecond bytes/sec.
// bytesPerSecond <= 0 disables limiting entirely.
func New(bytesPerSecond int) *RateLimiter {
	if bytesPerSecond <= 0 {
		return &RateLimiter{}
	}
	// The burst starts equal to one second's budget; GetAllowance grows it
	// on demand for any single request that exceeds that, since a shard's
	// reply can be larger than the per-second rate itself.
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)}
}

// GetAllowance blocks until n bytes of budget are available, or ctx is
// done. n <= 0 is a no-op.
func (r *RateLimiter) GetAllowance(ctx context.Context, n int) error {
	if r == nil || r.limiter == nil || n <= 0 {
		return nil
	}
	if n > r.limiter.Burst() {
		r.limiter.SetBurst(n)
	}
	return r.limiter.WaitN(ctx, n)
}
