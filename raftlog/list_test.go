package raftlog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.raftlite.dev/core/codecs"
)

const testDir = "/data"

func TestListEmptyDirectory(t *testing.T) {
	var fs = newTestFs(t)

	var inv, err = List(fs, testDir)
	require.NoError(t, err)
	require.Empty(t, inv.Snapshots)
	require.Empty(t, inv.Segments)
	require.NoError(t, inv.Verify())
	require.Equal(t, uint64(0), inv.LastIndex())
}

func TestListMissingDirectory(t *testing.T) {
	var _, err = List(afero.NewMemMapFs(), "/does/not/exist")
	require.Error(t, err)
	require.Contains(t, err.Error(), "scan data directory")
}

func TestListOrdersSnapshotsAndSegments(t *testing.T) {
	var fs = newTestFs(t)

	// Snapshots are written out-of-order with respect to their keys.
	var keys = []SnapshotKey{
		{Term: 2, Index: 200, Timestamp: 1},
		{Term: 1, Index: 100, Timestamp: 9},
		{Term: 2, Index: 100, Timestamp: 5},
		{Term: 2, Index: 100, Timestamp: 3},
	}
	for _, key := range keys {
		writeTestSnapshot(t, fs, key, 0)
	}
	for _, name := range []string{
		ClosedSegmentName(201, 300),
		ClosedSegmentName(1, 100),
		OpenSegmentName(301),
		ClosedSegmentName(101, 200),
		"open-05",
		"open-5",
	} {
		touch(t, fs, name, "x")
	}

	var inv, err = List(fs, testDir)
	require.NoError(t, err)

	var gotKeys []SnapshotKey
	for _, s := range inv.Snapshots {
		gotKeys = append(gotKeys, s.SnapshotKey)
	}
	require.Equal(t, []SnapshotKey{
		{Term: 1, Index: 100, Timestamp: 9},
		{Term: 2, Index: 100, Timestamp: 3},
		{Term: 2, Index: 100, Timestamp: 5},
		{Term: 2, Index: 200, Timestamp: 1},
	}, gotKeys)

	var gotNames []string
	for _, s := range inv.Segments {
		gotNames = append(gotNames, s.Filename)
	}
	require.Equal(t, []string{
		ClosedSegmentName(1, 100),
		"open-05", // Both open segments of First 5 are retained.
		"open-5",
		ClosedSegmentName(101, 200),
		ClosedSegmentName(201, 300),
		OpenSegmentName(301),
	}, gotNames)

	var latest, ok = inv.LatestSnapshot()
	require.True(t, ok)
	require.Equal(t, SnapshotKey{Term: 2, Index: 200, Timestamp: 1}, latest.SnapshotKey)
	require.Equal(t, uint64(200), inv.Baseline())
	require.Equal(t, uint64(300), inv.LastIndex())
	require.Len(t, inv.Closed(), 3)
	require.Len(t, inv.OpenSegments(), 3)
	require.NoError(t, inv.Verify())

	// Closed segments never overlap in a listed Inventory, and Segments are
	// ordered on First.
	for i := 1; i < len(inv.Segments); i++ {
		require.LessOrEqual(t, inv.Segments[i-1].First, inv.Segments[i].First)
	}

	// Scanning an unchanged directory again yields the same Inventory.
	again, err := List(fs, testDir)
	require.NoError(t, err)
	require.Equal(t, inv, again)
}

func TestListDropsIncompleteSnapshots(t *testing.T) {
	var fs = newTestFs(t)

	// Metadata without a data file.
	var meta = SnapshotMeta{Codec: codecs.NONE, ContentLength: 3}
	touch(t, fs, SnapshotKey{1, 1, 1}.MetaName(), string(meta.marshal()))

	// Metadata with an empty data file.
	touch(t, fs, SnapshotKey{1, 2, 1}.MetaName(), string(meta.marshal()))
	touch(t, fs, SnapshotKey{1, 2, 1}.DataName(), "")

	// Split metadata missing its last part.
	var split = SnapshotMeta{Codec: codecs.NONE, Parts: 3, ContentLength: 3}
	touch(t, fs, SnapshotKey{1, 3, 1}.MetaName(), string(split.marshal()))
	touch(t, fs, SnapshotKey{1, 3, 1}.PartName(0), "a")
	touch(t, fs, SnapshotKey{1, 3, 1}.PartName(1), "b")

	// Split metadata having an empty part.
	touch(t, fs, SnapshotKey{1, 4, 1}.MetaName(), string(split.marshal()))
	touch(t, fs, SnapshotKey{1, 4, 1}.PartName(0), "a")
	touch(t, fs, SnapshotKey{1, 4, 1}.PartName(1), "")
	touch(t, fs, SnapshotKey{1, 4, 1}.PartName(2), "c")

	// Split metadata alongside an unsplit data file.
	touch(t, fs, SnapshotKey{1, 5, 1}.MetaName(), string(split.marshal()))
	touch(t, fs, SnapshotKey{1, 5, 1}.DataName(), "abc")
	for i := 0; i != 3; i++ {
		touch(t, fs, SnapshotKey{1, 5, 1}.PartName(i), "x")
	}

	// Truncated metadata, as by a crash mid-write.
	touch(t, fs, SnapshotKey{1, 6, 1}.MetaName(), string(meta.marshal()[:20]))
	touch(t, fs, SnapshotKey{1, 6, 1}.DataName(), "abc")

	// Garbled metadata of the correct size.
	var garbled = meta.marshal()
	garbled[30] ^= 0xff
	touch(t, fs, SnapshotKey{1, 7, 1}.MetaName(), string(garbled))
	touch(t, fs, SnapshotKey{1, 7, 1}.DataName(), "abc")

	// Unparseable metadata name.
	touch(t, fs, "snapshot-1-x-1.meta", string(meta.marshal()))

	// A complete snapshot is still listed.
	writeTestSnapshot(t, fs, SnapshotKey{1, 8, 1}, 0)

	var inv, err = List(fs, testDir)
	require.NoError(t, err)
	require.Len(t, inv.Snapshots, 1)
	require.Equal(t, SnapshotKey{1, 8, 1}, inv.Snapshots[0].SnapshotKey)
	require.Empty(t, inv.Segments)
}

func TestListIgnoresReservedAndLongNames(t *testing.T) {
	var fs = newTestFs(t)

	var long = ClosedSegmentName(1, 2) + strings.Repeat("0", FilenameMaxLen)
	for _, name := range []string{
		MetadataFilename1,
		MetadataFilename2,
		"raftlite-lock",
		"cluster.yaml",
		".hidden",
		long,
		"0-5",
		"7-3",
		"open-0",
	} {
		touch(t, fs, name, "content")
	}
	require.NoError(t, fs.MkdirAll(filepath.Join(testDir, ClosedSegmentName(1, 1)), 0750))
	require.NoError(t, fs.MkdirAll(filepath.Join(testDir, "state"), 0750))

	var inv, err = List(fs, testDir)
	require.NoError(t, err)
	require.Empty(t, inv.Snapshots)
	require.Empty(t, inv.Segments)
}

func TestListDuplicateSnapshotKeyIsCorrupt(t *testing.T) {
	var fs = newTestFs(t)

	writeTestSnapshot(t, fs, SnapshotKey{1, 10, 1}, 0)
	// Leading zeros yield a distinct name having the same key.
	var b, err = afero.ReadFile(fs, filepath.Join(testDir, SnapshotKey{1, 10, 1}.MetaName()))
	require.NoError(t, err)
	touch(t, fs, "snapshot-01-10-1.meta", string(b))

	_, err = List(fs, testDir)
	require.ErrorIs(t, err, ErrCorrupt)
	require.Contains(t, err.Error(), "duplicate snapshot key snapshot-1-10-1")
}

func TestListPropagatesIOErrors(t *testing.T) {
	var fs = newTestFs(t)

	var key = SnapshotKey{1, 10, 1}
	writeTestSnapshot(t, fs, key, 0)
	touch(t, fs, ClosedSegmentName(1, 10), "x")

	var failing = &statFailFs{Fs: fs, name: key.DataName()}
	var inv, err = List(failing, testDir)
	require.ErrorIs(t, err, os.ErrPermission)
	require.Contains(t, err.Error(), "stat snapshot data "+key.DataName())
	require.Equal(t, Inventory{}, inv) // No partial Inventory.
}

func TestVerifyContiguity(t *testing.T) {
	var closed = func(first, end uint64) Segment {
		return Segment{Filename: ClosedSegmentName(first, end), First: first, End: end}
	}
	var snapshotAt = func(index uint64) []Snapshot {
		return []Snapshot{{SnapshotKey: SnapshotKey{Term: 1, Index: index}}}
	}

	for _, tc := range []struct {
		inv    Inventory
		expect string
	}{
		{Inventory{}, ""},
		{Inventory{Segments: []Segment{closed(1, 10), closed(11, 20)}}, ""},
		{Inventory{Segments: []Segment{closed(2, 10)}}, "missing entries 1 through 1"},
		{Inventory{Segments: []Segment{closed(1, 10), closed(12, 20)}}, "missing entries 11 through 11"},
		{Inventory{Segments: []Segment{closed(1, 10), closed(10, 20)}}, "overlaps segment"},
		// Retained trailing entries below the snapshot are permitted.
		{Inventory{Snapshots: snapshotAt(15), Segments: []Segment{closed(5, 10), closed(11, 20)}}, ""},
		{Inventory{Snapshots: snapshotAt(15), Segments: []Segment{closed(16, 20)}}, ""},
		{Inventory{Snapshots: snapshotAt(15), Segments: []Segment{closed(17, 20)}}, "missing entries 16 through 16"},
		// Closed segments must reach the snapshot.
		{Inventory{Snapshots: snapshotAt(100), Segments: []Segment{closed(1, 50)}}, "missing entries 51 through 100"},
		{Inventory{Snapshots: snapshotAt(100), Segments: []Segment{closed(1, 50), closed(51, 99)}}, "missing entries 100 through 100"},
		{Inventory{Snapshots: snapshotAt(100), Segments: []Segment{closed(1, 50), closed(51, 100)}}, ""},
		// Unless an open segment continues the log.
		{Inventory{Snapshots: snapshotAt(100), Segments: []Segment{closed(1, 50), {Filename: "open-51", Open: true, First: 51}}}, ""},
		{Inventory{Snapshots: snapshotAt(100), Segments: []Segment{closed(1, 50), {Filename: "open-60", Open: true, First: 60}}}, "missing entries 51 through 100"},
		// A snapshot with no closed segments is permitted.
		{Inventory{Snapshots: snapshotAt(100)}, ""},
		// Open segments aren't otherwise examined.
		{Inventory{Segments: []Segment{closed(1, 10), {Filename: "open-3", Open: true, First: 3}}}, ""},
	} {
		var err = tc.inv.Verify()
		if tc.expect == "" {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, ErrCorrupt)
			require.Contains(t, err.Error(), tc.expect)
		}
	}
}

func newTestFs(t *testing.T) afero.Fs {
	var fs = afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(testDir, 0750))
	return fs
}

func touch(t *testing.T, fs afero.Fs, name, content string) {
	require.NoError(t, afero.WriteFile(fs, filepath.Join(testDir, name), []byte(content), 0640))
}

func writeTestSnapshot(t *testing.T, fs afero.Fs, key SnapshotKey, partSize int64) Snapshot {
	var content = bytes.Repeat([]byte(key.String()+" content "), 10)
	var snap, err = WriteSnapshot(fs, testDir, key, bytes.NewReader(content), codecs.NONE, partSize)
	require.NoError(t, err)
	return snap
}

// statFailFs fails Stat of |name| with a permission error.
type statFailFs struct {
	afero.Fs
	name string
}

func (fs *statFailFs) Stat(path string) (os.FileInfo, error) {
	if filepath.Base(path) == fs.name {
		return nil, &os.PathError{Op: "stat", Path: path, Err: os.ErrPermission}
	}
	return fs.Fs.Stat(path)
}
