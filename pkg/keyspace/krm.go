// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package keyspace

// KeyValue is a single (Key, Value) pair as served by a replica or the
// directory.
type KeyValue struct {
	Key   Key
	Value []byte
}

// DecodeKeyRangeMap reconstructs a key-range-map ("KRM") reply into ordered
// boundary rows over queryRange. A KRM stores, at each key k for which the
// mapped value changes, the value in force starting at k; a range read over
// [queryRange.Begin, queryRange.End) therefore returns one row per boundary
// crossed plus (implicitly) the value that was already in force at
// queryRange.Begin, which the caller is expected to have requested starting
// exactly at a prior boundary.
//
// raw holds prefix-qualified keys (prefix+relative key); DecodeKeyRangeMap
// strips prefix and, when the reply is not truncated (more is false),
// appends a terminating row at queryRange.End carrying the last known value,
// so that adjacent pairs of the returned rows form a gap-free partition of
// the requested range. When more is true the caller is expected to resume
// pagination from the last returned key, so no terminator is synthesized.
func DecodeKeyRangeMap(prefix Key, queryRange KeyRange, raw []KeyValue, more bool) []KeyValue {
	rows := make([]KeyValue, 0, len(raw)+1)
	for _, kv := range raw {
		rows = append(rows, KeyValue{Key: kv.Key.RemovePrefix(prefix), Value: kv.Value})
	}
	if !more {
		var lastValue []byte
		if len(rows) > 0 {
			lastValue = rows[len(rows)-1].Value
		}
		rows = append(rows, KeyValue{Key: queryRange.End, Value: lastValue})
	}
	return rows
}

// EncodeKeyRangeMap is the inverse of DecodeKeyRangeMap: given ordered
// boundary rows spanning [queryRange.Begin, queryRange.End) (the last row's
// Value is a terminator and carries no meaning beyond marking the end
// boundary), it produces the prefix-qualified raw rows a directory read
// would have returned for the same range, plus the "more" flag that was in
// effect. It exists chiefly to make DecodeKeyRangeMap's round-trip property
// independently testable.
func EncodeKeyRangeMap(prefix Key, rows []KeyValue) (raw []KeyValue, more bool) {
	if len(rows) == 0 {
		return nil, false
	}
	// The last row is the terminator produced by a non-paginated decode;
	// everything before it is real boundary data.
	raw = make([]KeyValue, 0, len(rows)-1)
	for _, row := range rows[:len(rows)-1] {
		raw = append(raw, KeyValue{Key: row.Key.WithPrefix(prefix), Value: row.Value})
	}
	return raw, false
}
