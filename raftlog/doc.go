// Package raftlog implements the on-disk representation of a Raft log as a
// directory of immutable segment files and periodic snapshots.
//
// File names are the source of truth for the log layout: closed segments
// encode the inclusive range of entry indices they hold, open segments
// encode the index of their first entry, and snapshot metadata files encode
// the (term, index, timestamp) key of the snapshot. List performs a single
// scan of a data directory and returns an Inventory of valid snapshots and
// segments, ordered for replay. Partially-written snapshots left by a crash
// are silently dropped, while I/O faults and corruption (overlapping or
// gapped segments, duplicate snapshot keys) are returned as errors.
//
// The package also provides the segment record codec, a SegmentWriter for
// appending to open segments, snapshot writing and reading with pluggable
// compression, replay of closed segments, and compaction.
package raftlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raftlite_log_scans_total",
		Help: "Cumulative number of data directory scans, by status",
	}, []string{"status"})
	droppedSnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raftlite_log_dropped_snapshots_total",
		Help: "Cumulative number of snapshot metadata files dropped for missing or malformed content",
	})
	appendedEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raftlite_log_appended_entries_total",
		Help: "Cumulative number of entries appended to open segments",
	})
	appendedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raftlite_log_appended_bytes_total",
		Help: "Cumulative number of bytes appended to open segments",
	})
	removedFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raftlite_log_removed_files_total",
		Help: "Cumulative number of segment and snapshot files removed, by reason",
	}, []string{"reason"})
)
