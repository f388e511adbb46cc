// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package keyspace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeKeyRangeMapRoundTrip(t *testing.T) {
	prefix := KeyServersPrefix
	rows := []KeyValue{
		{Key: Key("a"), Value: []byte("team-1")},
		{Key: Key("m"), Value: []byte("team-2")},
		{Key: Key("z"), Value: []byte("team-2")},
	}

	raw, more := EncodeKeyRangeMap(prefix, rows)
	require.False(t, more)

	decoded := DecodeKeyRangeMap(prefix, KeyRange{Begin: Key("a"), End: Key("z")}, raw, more)
	require.Equal(t, rows, decoded)
}

func TestDecodeKeyRangeMapPagination(t *testing.T) {
	prefix := KeyServersPrefix
	raw := []KeyValue{
		{Key: Key("a").WithPrefix(prefix), Value: []byte("team-1")},
		{Key: Key("m").WithPrefix(prefix), Value: []byte("team-2")},
	}

	decoded := DecodeKeyRangeMap(prefix, KeyRange{Begin: Key("a"), End: Key("z")}, raw, true)
	require.Equal(t, []KeyValue{
		{Key: Key("a"), Value: []byte("team-1")},
		{Key: Key("m"), Value: []byte("team-2")},
	}, decoded)
}

func TestDecodeKeyRangeMapEmpty(t *testing.T) {
	decoded := DecodeKeyRangeMap(KeyServersPrefix, KeyRange{Begin: Key("a"), End: Key("z")}, nil, false)
	require.Equal(t, []KeyValue{{Key: Key("z"), Value: nil}}, decoded)
}
