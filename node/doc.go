// Package node implements the lifecycle of a single raftlite Node: a SQLite
// database whose mutations are sequenced into a raftlog data directory.
//
// A Node is Created with a Config which may be further adjusted by setters,
// and then Started. Start locks the data directory, scans and verifies its
// log, rebuilds the database from the latest snapshot and the log entries
// which follow it, and begins accepting writes. Stop interrupts in-flight
// reads and writes, closes the open segment, and releases the lock. A
// Stopped Node cannot be restarted: a new Node must be created instead.
//
// Recover rewrites the persisted cluster membership of a directory which
// has previously been bootstrapped, and is used to restore a cluster which
// has lost quorum.
package node

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	startsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raftlite_node_starts_total",
		Help: "Cumulative number of node starts, by status",
	}, []string{"status"})
	stopsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raftlite_node_stops_total",
		Help: "Cumulative number of node stops",
	})
	runningNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "raftlite_node_running",
		Help: "Number of nodes currently running",
	})
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raftlite_node_writes_total",
		Help: "Cumulative number of write requests, by result code",
	}, []string{"code"})
	replayedEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raftlite_node_replayed_entries_total",
		Help: "Cumulative number of log entries replayed at start",
	})
	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "raftlite_node_snapshots_total",
		Help: "Cumulative number of snapshots taken, by status",
	}, []string{"status"})
	recoveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raftlite_node_recoveries_total",
		Help: "Cumulative number of applied cluster recoveries",
	})
)
