// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log provides the leveled, context-aware logging primitives used
// throughout kvauditor. It follows the calling convention of the teacher's
// pkg/util/log package (a context.Context as the first argument to every
// call, sprintf-style formatting, severity-suffixed function names) without
// pulling in the teacher's channel/sink machinery, which this repository has
// no use for.
package log

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Severity is the level at which a message is logged.
type Severity int32

// Severity levels, ordered least to most severe.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARN"
	case SeverityError:
		return "ERROR"
	case SeverityFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

var mu sync.Mutex

func output(ctx context.Context, sev Severity, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(os.Stderr, "%s %s %s\n", time.Now().UTC().Format(time.RFC3339Nano), sev, fmt.Sprintf(format, args...))
}

// Infof logs an informational message.
func Infof(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityInfo, format, args...)
}

// Warningf logs a warning.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityWarning, format, args...)
}

// Errorf logs an error.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityError, format, args...)
}

// Fatalf logs and terminates the process, mirroring the teacher's
// log.Fatalf used for unrecoverable startup errors.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	output(ctx, SeverityFatal, format, args...)
	os.Exit(1)
}
