package raftlog

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.raftlite.dev/core/codecs"
)

func TestMetricsTrackScansAndRemovals(t *testing.T) {
	var fs = newTestFs(t)

	var scans, dropped = counterValue(t, scansTotal.WithLabelValues("ok")), counterValue(t, droppedSnapshotsTotal)
	var empty, appended = counterValue(t, removedFilesTotal.WithLabelValues("empty")), counterValue(t, appendedEntriesTotal)

	// An incomplete snapshot is dropped from the listing.
	var meta = SnapshotMeta{Codec: codecs.NONE, ContentLength: 3}
	touch(t, fs, SnapshotKey{1, 1, 1}.MetaName(), string(meta.marshal()))

	var _, err = List(fs, testDir)
	require.NoError(t, err)
	require.Equal(t, scans+1, counterValue(t, scansTotal.WithLabelValues("ok")))
	require.Equal(t, dropped+1, counterValue(t, droppedSnapshotsTotal))

	// An open segment closed without entries is removed.
	w, err := CreateOpenSegment(fs, testDir, 1, 4096)
	require.NoError(t, err)
	_, ok, err := w.Close()
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, empty+1, counterValue(t, removedFilesTotal.WithLabelValues("empty")))

	w, err = CreateOpenSegment(fs, testDir, 1, 4096)
	require.NoError(t, err)
	require.NoError(t, w.Append(buildEntries(1, 3)...))
	require.Equal(t, appended+3, counterValue(t, appendedEntriesTotal))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
