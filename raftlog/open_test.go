package raftlog

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestFinalizeOpenSegments(t *testing.T) {
	var fs = newTestFs(t)

	// A closed segment, followed by two open segments of First 6 (one having
	// more entries) and an empty open segment of First 20.
	writeSegmentFile(t, fs, ClosedSegmentName(1, 5), buildEntries(1, 5), 0)
	writeSegmentFile(t, fs, "open-6", buildEntries(6, 2), 0)
	writeSegmentFile(t, fs, "open-06", buildEntries(6, 4), 5) // Torn tail.
	touch(t, fs, "open-20", "")

	var inv, err = List(fs, testDir)
	require.NoError(t, err)

	resolved, err := ResolveOpenSegments(fs, testDir, inv)
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	require.Equal(t, "open-06", resolved[0].Winner.Filename)
	require.Equal(t, uint64(3), resolved[0].Entries)
	require.Len(t, resolved[0].Losers, 1)
	require.Equal(t, "open-6", resolved[0].Losers[0].Filename)
	require.Equal(t, uint64(0), resolved[1].Entries)

	out, err := FinalizeOpenSegments(fs, testDir, inv)
	require.NoError(t, err)
	require.Empty(t, out.OpenSegments())
	require.NoError(t, out.Verify())

	var names []string
	for _, s := range out.Segments {
		names = append(names, s.Filename)
	}
	require.Equal(t, []string{ClosedSegmentName(1, 5), ClosedSegmentName(6, 8)}, names)

	// The directory agrees with the returned Inventory.
	again, err := List(fs, testDir)
	require.NoError(t, err)
	require.Equal(t, out.Segments, again.Segments)

	var replayed []Entry
	require.NoError(t, Replay(fs, testDir, again, 0, func(e Entry) error {
		replayed = append(replayed, e)
		return nil
	}))
	require.Equal(t, append(buildEntries(1, 5), buildEntries(6, 4)[:3]...), replayed)
}

func TestResolveOpenSegmentsTieBreak(t *testing.T) {
	var fs = newTestFs(t)

	writeSegmentFile(t, fs, "open-3", buildEntries(3, 2), 0)
	writeSegmentFile(t, fs, "open-003", buildEntries(3, 2), 0)
	writeSegmentFile(t, fs, "open-03", buildEntries(3, 2), 0)

	var inv, err = List(fs, testDir)
	require.NoError(t, err)

	resolved, err := ResolveOpenSegments(fs, testDir, inv)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	require.Equal(t, "open-3", resolved[0].Winner.Filename)
	require.Len(t, resolved[0].Losers, 2)
}

func TestResolveOpenSegmentsDiscontinuity(t *testing.T) {
	var fs = newTestFs(t)

	var entries = buildEntries(4, 3)
	entries[2].Index = 9
	writeSegmentFile(t, fs, "open-4", entries, 0)

	var inv, err = List(fs, testDir)
	require.NoError(t, err)

	out, err := FinalizeOpenSegments(fs, testDir, inv)
	require.NoError(t, err)
	require.Len(t, out.Segments, 1)
	require.Equal(t, ClosedSegmentName(4, 5), out.Segments[0].Filename)
	require.Equal(t, segmentHeaderSize+encodedLen(entries[0])+encodedLen(entries[1]), out.Segments[0].Size)

	info, err := fs.Stat(filepath.Join(testDir, ClosedSegmentName(4, 5)))
	require.NoError(t, err)
	require.Equal(t, out.Segments[0].Size, info.Size())
}

func TestOpenSegmentCorruption(t *testing.T) {
	var fs = newTestFs(t)

	// The first entry doesn't match the file name.
	writeSegmentFile(t, fs, "open-4", buildEntries(5, 1), 0)

	var inv, err = List(fs, testDir)
	require.NoError(t, err)
	_, err = FinalizeOpenSegments(fs, testDir, inv)
	require.ErrorIs(t, err, ErrCorrupt)

	// Finalizing would clobber an existing closed segment.
	fs = newTestFs(t)
	writeSegmentFile(t, fs, ClosedSegmentName(4, 4), buildEntries(4, 1), 0)
	writeSegmentFile(t, fs, "open-4", buildEntries(4, 1), 0)

	inv, err = List(fs, testDir)
	require.NoError(t, err)
	_, err = FinalizeOpenSegments(fs, testDir, inv)
	require.ErrorIs(t, err, ErrCorrupt)
	require.Contains(t, err.Error(), "would replace existing segment")
}

// writeSegmentFile writes |entries| as segment |name|, less |trim| bytes.
func writeSegmentFile(t *testing.T, fs afero.Fs, name string, entries []Entry, trim int) {
	var b = []byte{1, 0, 0, 0, 0, 0, 0, 0}
	for _, e := range entries {
		b = appendRecord(b, e)
	}
	touch(t, fs, name, string(b[:len(b)-trim]))
}
