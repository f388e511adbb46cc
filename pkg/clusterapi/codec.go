// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package clusterapi

import "strings"

// team-value encoding: source replica ids, then a literal separator, then
// dest replica ids (empty when the shard is not relocating). This mirrors
// FoundationDB's decodeKeyServersValue, simplified to a textual encoding
// since kvauditor has no wire format of its own to match.
const teamSeparator = "|"

// EncodeShardAssignmentValue encodes a shard's source/dest replica lists
// into the /keyServers/ directory value format.
func EncodeShardAssignmentValue(source, dest []ReplicaID) []byte {
	return []byte(joinIDs(source) + teamSeparator + joinIDs(dest))
}

// DecodeShardAssignmentValue is the inverse of EncodeShardAssignmentValue.
func DecodeShardAssignmentValue(value []byte) (source, dest []ReplicaID) {
	parts := strings.SplitN(string(value), teamSeparator, 2)
	source = splitIDs(parts[0])
	if len(parts) > 1 {
		dest = splitIDs(parts[1])
	}
	return source, dest
}

func joinIDs(ids []ReplicaID) string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = string(id)
	}
	return strings.Join(strs, ",")
}

func splitIDs(s string) []ReplicaID {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ids := make([]ReplicaID, len(parts))
	for i, p := range parts {
		ids[i] = ReplicaID(p)
	}
	return ids
}

// EncodeServerListValue encodes a replica's directory entry, mirroring
// FoundationDB's serverListKeyFor/decodeServerListValue pair.
func EncodeServerListValue(iface ReplicaInterface) []byte {
	return []byte(string(iface.ID) + teamSeparator + string(iface.Address))
}

// DecodeServerListValue is the inverse of EncodeServerListValue.
func DecodeServerListValue(id ReplicaID, value []byte) ReplicaInterface {
	parts := strings.SplitN(string(value), teamSeparator, 2)
	addr := ReplicaAddress("")
	if len(parts) > 1 {
		addr = ReplicaAddress(parts[1])
	}
	return ReplicaInterface{ID: id, Address: addr}
}
