package raftlog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyCases(t *testing.T) {
	for _, tc := range []struct {
		name   string
		expect Kind
	}{
		{".", KindIgnore},
		{"..", KindIgnore},
		{"", KindIgnore},
		{"metadata1", KindIgnore},
		{"metadata2", KindIgnore},
		{".snapshot-1-2-3.meta.tmp", KindIgnore},
		{"raftlite-lock", KindIgnore},
		{"cluster.yaml", KindIgnore},
		{"snapshot-1-2-3", KindIgnore}, // Data files aren't candidates.
		{"snapshot-1-2-3.0", KindIgnore},
		{"snapshot-1-2-3.meta", KindSnapshot},
		{"snapshot-x.meta", KindSnapshot}, // Rejected later, by the builder.
		{"open-1", KindSegment},
		{"open-", KindSegment},
		{"0000000000000001-0000000000000010", KindSegment},
		{"1-1", KindSegment},
		{"9junk", KindSegment},
		{strings.Repeat("1", FilenameMaxLen-1), KindSegment},
		{strings.Repeat("1", FilenameMaxLen), KindIgnore},
		{"snapshot-" + strings.Repeat("1", FilenameMaxLen) + ".meta", KindIgnore},
	} {
		var c = Classify(tc.name)
		require.Equal(t, tc.expect, c.Kind, tc.name)
		require.Equal(t, tc.name, c.Name)
	}
}

func TestKindString(t *testing.T) {
	require.Equal(t, "ignore", KindIgnore.String())
	require.Equal(t, "snapshot", KindSnapshot.String())
	require.Equal(t, "segment", KindSegment.String())
	require.Equal(t, "Kind(7)", Kind(7).String())
}

func TestSnapshotNameRoundTrip(t *testing.T) {
	var key = SnapshotKey{Term: 3, Index: 1024, Timestamp: 1700000000123}

	require.Equal(t, "snapshot-3-1024-1700000000123", key.DataName())
	require.Equal(t, "snapshot-3-1024-1700000000123.meta", key.MetaName())
	require.Equal(t, "snapshot-3-1024-1700000000123.2", key.PartName(2))

	var parsed, ok = ParseSnapshotMetaName(key.MetaName())
	require.True(t, ok)
	require.Equal(t, key, parsed)

	// Leading zeros are accepted.
	parsed, ok = ParseSnapshotMetaName("snapshot-03-01024-1.meta")
	require.True(t, ok)
	require.Equal(t, SnapshotKey{Term: 3, Index: 1024, Timestamp: 1}, parsed)

	for _, bad := range []string{
		"snapshot-1-2.meta",
		"snapshot-1-2-3-4.meta",
		"snapshot-1--3.meta",
		"snapshot-a-2-3.meta",
		"snapshot-+1-2-3.meta",
		"snapshot-1-2-3",
		"snapshot-1-2-18446744073709551616.meta", // Overflows uint64.
	} {
		_, ok = ParseSnapshotMetaName(bad)
		require.False(t, ok, bad)
	}
}

func TestSnapshotKeyOrdering(t *testing.T) {
	var a = SnapshotKey{Term: 1, Index: 10, Timestamp: 5}

	require.True(t, a.Less(SnapshotKey{Term: 2, Index: 1, Timestamp: 1}))
	require.True(t, a.Less(SnapshotKey{Term: 1, Index: 11, Timestamp: 1}))
	require.True(t, a.Less(SnapshotKey{Term: 1, Index: 10, Timestamp: 6}))
	require.False(t, a.Less(a))
	require.False(t, a.Less(SnapshotKey{Term: 1, Index: 9, Timestamp: 99}))
}

func TestSegmentNameParsing(t *testing.T) {
	require.Equal(t, "0000000000000001-0000000000000100", ClosedSegmentName(1, 100))
	require.Equal(t, "open-42", OpenSegmentName(42))

	var seg, ok = ParseSegmentName(ClosedSegmentName(1, 100))
	require.True(t, ok)
	require.Equal(t, Segment{Filename: "0000000000000001-0000000000000100", First: 1, End: 100}, seg)

	seg, ok = ParseSegmentName("5-5")
	require.True(t, ok)
	require.Equal(t, uint64(1), seg.Len())

	seg, ok = ParseSegmentName("open-05")
	require.True(t, ok)
	require.Equal(t, Segment{Filename: "open-05", Open: true, First: 5}, seg)
	require.Equal(t, uint64(0), seg.Len())

	for _, bad := range []string{
		"0-10",   // First must be >= 1.
		"10-9",   // End must be >= first.
		"1-",     // Missing end.
		"1",      // Missing separator.
		"1-2-3",  // Extra separator.
		"1-2x",   // Trailing junk.
		"open-0", // First must be >= 1.
		"open-",
		"open-x",
		"open--1",
	} {
		_, ok = ParseSegmentName(bad)
		require.False(t, ok, bad)
	}
}
