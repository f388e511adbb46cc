// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package keyspace models the ordered byte-key namespace the auditor reads:
// Key, the half-open KeyRange, and the well-known system prefixes the
// auditor must recognize while walking the shard→team directory. It mirrors
// the teacher's Key/Span shape (comparison, prefix arithmetic over a plain
// byte slice) generalized to the FoundationDB-shaped keyspace this auditor
// targets.
package keyspace

import "bytes"

// Key is an opaque, totally ordered (lexicographically) byte sequence.
type Key []byte

// Compare returns -1, 0, or 1 as k is less than, equal to, or greater than
// other.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k, other)
}

// Less reports whether k sorts before other.
func (k Key) Less(other Key) bool {
	return k.Compare(other) < 0
}

// Equal reports whether k and other are byte-identical.
func (k Key) Equal(other Key) bool {
	return bytes.Equal(k, other)
}

// Next returns the lexicographically smallest key strictly greater than k.
func (k Key) Next() Key {
	next := make(Key, len(k)+1)
	copy(next, k)
	return next
}

// HasPrefix reports whether k begins with prefix.
func (k Key) HasPrefix(prefix Key) bool {
	return bytes.HasPrefix(k, prefix)
}

// WithPrefix returns a copy of k with prefix prepended.
func (k Key) WithPrefix(prefix Key) Key {
	out := make(Key, 0, len(prefix)+len(k))
	out = append(out, prefix...)
	out = append(out, k...)
	return out
}

// RemovePrefix strips prefix from k. It panics if k does not carry prefix,
// mirroring the teacher's fail-fast key-arithmetic helpers.
func (k Key) RemovePrefix(prefix Key) Key {
	if !k.HasPrefix(prefix) {
		panic("keyspace: key does not have expected prefix")
	}
	return k[len(prefix):]
}

// String renders a Key for diagnostics, matching FoundationDB's convention
// of hex-escaping non-printable bytes rather than treating keys as text.
func (k Key) String() string {
	var buf bytes.Buffer
	for _, b := range k {
		if b >= 0x20 && b < 0x7f && b != '\\' {
			buf.WriteByte(b)
		} else {
			buf.WriteString("\\x")
			const hex = "0123456789abcdef"
			buf.WriteByte(hex[b>>4])
			buf.WriteByte(hex[b&0xf])
		}
	}
	return buf.String()
}

// KeyRange is a half-open range [Begin, End) over the Key order.
type KeyRange struct {
	Begin Key
	End   Key
}

// Empty reports whether the range contains no keys.
func (r KeyRange) Empty() bool {
	return !r.Begin.Less(r.End)
}

// Contains reports whether k falls within [Begin, End).
func (r KeyRange) Contains(k Key) bool {
	return !k.Less(r.Begin) && k.Less(r.End)
}

// Intersect returns the overlap of r and other, and whether it is non-empty.
func (r KeyRange) Intersect(other KeyRange) (KeyRange, bool) {
	begin := r.Begin
	if other.Begin.Compare(begin) > 0 {
		begin = other.Begin
	}
	end := r.End
	if other.End.Compare(end) < 0 {
		end = other.End
	}
	out := KeyRange{Begin: begin, End: end}
	return out, !out.Empty()
}

// Well-known system-keyspace boundaries and prefixes, following the
// FoundationDB layout the original ConsistencyCheck workload walks:
// allKeys is the full user keyspace, and keyServersPrefix namespaces the
// shard→team directory that partitions it.
var (
	// AllKeysBegin is the inclusive lower bound of the user keyspace.
	AllKeysBegin = Key{}
	// AllKeysEnd is the exclusive upper bound of the user keyspace: the
	// single 0xFF byte, below the system keyspace.
	AllKeysEnd = Key{0xff}

	// KeyServersPrefix namespaces the shard→team directory: for a shard
	// boundary key k, KeyServersPrefix+k holds the encoded team assignment
	// in force starting at k.
	KeyServersPrefix = Key("\xff/keyServers/")

	// ServerListPrefix namespaces the per-replica directory entries the
	// DataDiffer resolves ReplicaId values through.
	ServerListPrefix = Key("\xff/serverList/")

	// KeyServersKeys is the range the ShardDirectory paginates over.
	KeyServersKeys = KeyRange{Begin: KeyServersPrefix, End: AllKeysEnd.WithPrefix(KeyServersPrefix)}
)

// AllKeys is the full user keyspace, [AllKeysBegin, AllKeysEnd).
var AllKeys = KeyRange{Begin: AllKeysBegin, End: AllKeysEnd}

// ServerListKeyFor maps a replica identifier to its directory entry key.
func ServerListKeyFor(id string) Key {
	return Key(id).WithPrefix(ServerListPrefix)
}
