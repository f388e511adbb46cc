// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package differ implements the DataDiffer: the per-shard paginated range
// read, multi-replica diff, and size recomputation at the heart of the
// auditor (spec.md §4.4).
package differ

import "github.com/cockroachdb/kvauditor/pkg/clusterapi"

// AlignmentDiff is a purely functional, independently unit-testable
// two-pointer diff between two ordered (key, value) sequences, following
// spec.md §4.4's "Alignment diff" and the design note in spec.md §9 that
// this logic should live as a free function taking two slices.
type AlignmentDiff struct {
	MatchingKVPairs  int
	ValueMismatches  int
	CurrentUniques   int
	ReferenceUniques int

	CurrentUniqueKey   []byte
	ReferenceUniqueKey []byte
	ValueMismatchKey   []byte
}

// Align walks current and reference by key and produces an AlignmentDiff
// describing exactly how they differ.
func Align(current, reference []clusterapi.KeyValue) AlignmentDiff {
	var d AlignmentDiff
	i, j := 0, 0
	for i < len(current) || j < len(reference) {
		switch {
		case i >= len(current):
			d.ReferenceUniqueKey = reference[j].Key
			d.ReferenceUniques++
			j++
		case j >= len(reference):
			d.CurrentUniqueKey = current[i].Key
			d.CurrentUniques++
			i++
		default:
			c, r := current[i], reference[j]
			switch c.Key.Compare(r.Key) {
			case 0:
				if bytesEqual(c.Value, r.Value) {
					d.MatchingKVPairs++
				} else {
					d.ValueMismatchKey = c.Key
					d.ValueMismatches++
				}
				i++
				j++
			case -1:
				d.CurrentUniqueKey = c.Key
				d.CurrentUniques++
				i++
			default:
				d.ReferenceUniqueKey = r.Key
				d.ReferenceUniques++
				j++
			}
		}
	}
	return d
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
