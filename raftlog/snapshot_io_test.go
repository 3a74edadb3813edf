package raftlog

import (
	"bytes"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.raftlite.dev/core/codecs"
)

func TestSnapshotRoundTripWithEachCodec(t *testing.T) {
	var content = []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 500))

	for _, codec := range []codecs.Codec{codecs.NONE, codecs.GZIP, codecs.SNAPPY, codecs.ZSTANDARD} {
		for _, partSize := range []int64{0, 64, 1 << 20} {
			var fs = newTestFs(t)
			var key = SnapshotKey{Term: 2, Index: 7, Timestamp: uint64(partSize)}

			var snap, err = WriteSnapshot(fs, testDir, key, bytes.NewReader(content), codec, partSize)
			require.NoError(t, err)
			require.Equal(t, int64(len(content)), snap.Meta.ContentLength)
			require.Equal(t, codec, snap.Meta.Codec)

			if partSize == 0 {
				require.Equal(t, 0, snap.Meta.Parts)
			} else {
				require.Equal(t, int((snap.DataSize+partSize-1)/partSize), snap.Meta.Parts)
			}

			// The scanner agrees with the written Snapshot.
			inv, err := List(fs, testDir)
			require.NoError(t, err)
			require.Equal(t, []Snapshot{snap}, inv.Snapshots)

			rc, err := OpenSnapshot(fs, testDir, snap)
			require.NoError(t, err)
			b, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			require.Equal(t, content, b, "codec %s part size %d", codec, partSize)
		}
	}
}

func TestWriteSnapshotErrors(t *testing.T) {
	var fs = newTestFs(t)
	var key = SnapshotKey{Term: 1, Index: 1, Timestamp: 1}

	var _, err = WriteSnapshot(fs, testDir, key, strings.NewReader(""), codecs.NONE, 0)
	require.EqualError(t, err, "snapshot content is empty")

	_, err = WriteSnapshot(fs, testDir, key, strings.NewReader("x"), codecs.Codec(42), 0)
	require.EqualError(t, err, "invalid codec (42)")

	_, err = WriteSnapshot(fs, testDir, key, strings.NewReader("x"), codecs.NONE, -1)
	require.EqualError(t, err, "invalid part size -1")

	// Failed writes leave nothing behind.
	infos, err := afero.ReadDir(fs, testDir)
	require.NoError(t, err)
	require.Empty(t, infos)

	// A key cannot be written twice.
	writeTestSnapshot(t, fs, key, 0)
	_, err = WriteSnapshot(fs, testDir, key, strings.NewReader("x"), codecs.NONE, 0)
	require.Error(t, err)
}

func TestCompactRemovesSegmentsAndSnapshots(t *testing.T) {
	var fs = newTestFs(t)

	for i, idx := range []uint64{10, 20, 30} {
		writeTestSnapshot(t, fs, SnapshotKey{Term: 1, Index: idx, Timestamp: uint64(i)}, 16)
	}
	writeSegmentFile(t, fs, ClosedSegmentName(1, 10), buildEntries(1, 10), 0)
	writeSegmentFile(t, fs, ClosedSegmentName(11, 20), buildEntries(11, 10), 0)
	writeSegmentFile(t, fs, ClosedSegmentName(21, 30), buildEntries(21, 10), 0)
	writeSegmentFile(t, fs, "open-31", nil, 0)

	var inv, err = List(fs, testDir)
	require.NoError(t, err)

	out, err := Compact(fs, testDir, inv, 20, 2)
	require.NoError(t, err)
	require.Len(t, out.Snapshots, 2)
	require.Equal(t, uint64(20), out.Snapshots[0].Index)
	require.Len(t, out.Segments, 2)
	require.Equal(t, ClosedSegmentName(21, 30), out.Segments[0].Filename)
	require.True(t, out.Segments[1].Open)

	again, err := List(fs, testDir)
	require.NoError(t, err)
	require.Equal(t, out, again)

	// No data files of the removed snapshot remain.
	infos, err := afero.ReadDir(fs, testDir)
	require.NoError(t, err)
	for _, info := range infos {
		require.False(t, strings.HasPrefix(info.Name(), "snapshot-1-10-"), info.Name())
	}

	// Replay from the baseline visits only entries above it.
	var indices []uint64
	require.NoError(t, Replay(fs, testDir, again, again.Baseline(), func(e Entry) error {
		indices = append(indices, e.Index)
		return nil
	}))
	require.Empty(t, indices)

	require.NoError(t, Replay(fs, testDir, again, 25, func(e Entry) error {
		indices = append(indices, e.Index)
		return nil
	}))
	require.Equal(t, []uint64{26, 27, 28, 29, 30}, indices)
}

func TestReplayDetectsCorruptSegments(t *testing.T) {
	var fs = newTestFs(t)

	// Holds fewer entries than its name claims.
	writeSegmentFile(t, fs, ClosedSegmentName(1, 5), buildEntries(1, 4), 0)

	var inv, err = List(fs, testDir)
	require.NoError(t, err)

	var noop = func(Entry) error { return nil }
	err = Replay(fs, testDir, inv, 0, noop)
	require.ErrorIs(t, err, ErrCorrupt)
	require.Contains(t, err.Error(), "holds 4 entries (expected 5)")

	// Has a torn tail.
	fs = newTestFs(t)
	writeSegmentFile(t, fs, ClosedSegmentName(1, 5), buildEntries(1, 5), 3)
	inv, err = List(fs, testDir)
	require.NoError(t, err)
	require.ErrorIs(t, Replay(fs, testDir, inv, 0, noop), ErrCorrupt)

	// Holds unexpected indices.
	fs = newTestFs(t)
	writeSegmentFile(t, fs, ClosedSegmentName(1, 2), buildEntries(2, 2), 0)
	inv, err = List(fs, testDir)
	require.NoError(t, err)
	require.ErrorIs(t, Replay(fs, testDir, inv, 0, noop), ErrCorrupt)

	// Errors of the callback are passed through.
	var cbErr = io.ErrClosedPipe
	fs = newTestFs(t)
	writeSegmentFile(t, fs, ClosedSegmentName(1, 2), buildEntries(1, 2), 0)
	inv, err = List(fs, testDir)
	require.NoError(t, err)
	require.Equal(t, cbErr, Replay(fs, testDir, inv, 0, func(Entry) error { return cbErr }))

	// The segment file is still present.
	exists, err := afero.Exists(fs, filepath.Join(testDir, ClosedSegmentName(1, 2)))
	require.NoError(t, err)
	require.True(t, exists)
}
