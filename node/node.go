package node

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.raftlite.dev/core/codecs"
	"go.raftlite.dev/core/raftlog"
	"go.raftlite.dev/core/task"
)

type lifecycle int

const (
	stateCreated lifecycle = iota
	stateRunning
	stateStopped
)

func (s lifecycle) String() string {
	switch s {
	case stateCreated:
		return "created"
	case stateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Node is a single member of a raftlite cluster.
type Node struct {
	fs      afero.Fs
	errMsg  atomic.Value // string
	failure atomic.Pointer[Error]

	mu           sync.Mutex
	cfg          Config
	blockSizeSet bool
	state        lifecycle

	// Fields below are set while running.
	lock     *dirLock
	tasks    *task.Group
	db       *sql.DB
	w        *writer
	requests chan *writeRequest
}

// New returns a Node of the Config, in its Created state. Zero-valued
// fields of the Config take default values.
func New(cfg Config) (*Node, error) {
	if cfg.Dir == "" {
		return nil, newError(CodeMisuse, nil, "expected a data directory")
	}
	cfg.applyDefaults()

	if cfg.ID == 0 {
		cfg.ID = GenerateNodeID(cfg.BindAddress)
	}
	if cfg.BlockSize != 0 {
		if err := validateBlockSize(cfg.BlockSize); err != nil {
			return nil, newError(CodeError, err, "invalid configuration")
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, newError(CodeMisuse, err, "invalid configuration")
	}

	var n = &Node{
		fs:           afero.NewOsFs(),
		cfg:          cfg,
		blockSizeSet: cfg.BlockSize != 0,
	}
	n.errMsg.Store("")
	return n, nil
}

// ID returns the ID of the Node.
func (n *Node) ID() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.cfg.ID
}

// Dir returns the data directory of the Node.
func (n *Node) Dir() string { return n.cfg.Dir }

// ErrMsg returns the message of the last failed operation of the Node,
// or "" if no operation has failed.
func (n *Node) ErrMsg() string { return n.errMsg.Load().(string) }

func (n *Node) fail(err *Error) error {
	n.errMsg.Store(err.Error())
	return err
}

// writerFailed records the failure of the log writer. Further writes fail
// with the same error. It doesn't take |mu|, which Stop holds while waiting
// on the writer.
func (n *Node) writerFailed(err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = newError(CodeIOErr, err, "log writer")
	}
	n.failure.CompareAndSwap(nil, e)
	_ = n.fail(e)

	log.WithFields(log.Fields{"dir": n.cfg.Dir, "err": err}).Error("log writer failed")
}

// setter applies |fn| if the Node has not been started.
func (n *Node) setter(name string, fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != stateCreated {
		return n.fail(newError(CodeMisuse, nil, "cannot set %s of a %s node", name, n.state))
	}
	if err := fn(); err != nil {
		if e, ok := err.(*Error); ok {
			return n.fail(e)
		}
		return n.fail(newError(CodeMisuse, err, "invalid %s", name))
	}
	return nil
}

// SetBlockSize sets the I/O block size of the Node. The block size is fixed
// once the directory is bootstrapped, and a Node will fail to start if
// explicitly set to a different size.
func (n *Node) SetBlockSize(size int) error {
	return n.setter("block size", func() error {
		if err := validateBlockSize(size); err != nil {
			return newError(CodeError, err, "invalid block size")
		}
		n.cfg.BlockSize, n.blockSizeSet = size, true
		return nil
	})
}

// SetNetworkLatency sets the expected one-way network latency.
func (n *Node) SetNetworkLatency(d time.Duration) error {
	return n.setter("network latency", func() error {
		if err := validateNetworkLatency(d); err != nil {
			return err
		}
		n.cfg.NetworkLatency = d
		return nil
	})
}

// SetNetworkLatencyMs sets the expected one-way network latency in milliseconds.
func (n *Node) SetNetworkLatencyMs(ms uint64) error {
	if ms > uint64(MaxNetworkLatency/time.Millisecond) {
		return n.setter("network latency", func() error {
			return NewValidationError("invalid network latency (%dms; expected 0 < latency <= %s)", ms, MaxNetworkLatency)
		})
	}
	return n.SetNetworkLatency(time.Duration(ms) * time.Millisecond)
}

// SetSnapshotParams sets the number of applied entries between snapshots,
// and the number of entries retained behind each snapshot.
func (n *Node) SetSnapshotParams(threshold, trailing uint64) error {
	return n.setter("snapshot params", func() error {
		if err := validateSnapshotParams(threshold, trailing); err != nil {
			return err
		}
		n.cfg.SnapshotThreshold, n.cfg.SnapshotTrailing = threshold, trailing
		return nil
	})
}

// SetSnapshotCompression sets the Codec of snapshot data.
func (n *Node) SetSnapshotCompression(codec codecs.Codec) error {
	return n.setter("snapshot compression", func() error {
		if err := codec.Validate(); err != nil {
			return err
		}
		n.cfg.SnapshotCompression = codec
		return nil
	})
}

// SetBusyTimeout sets the SQLite busy timeout in milliseconds, which also
// bounds the time Stop waits for in-flight writes.
func (n *Node) SetBusyTimeout(ms uint64) error {
	return n.setter("busy timeout", func() error {
		if ms == 0 {
			return NewValidationError("invalid busy timeout (expected > 0)")
		}
		n.cfg.BusyTimeout = time.Duration(ms) * time.Millisecond
		return nil
	})
}

// SetBindAddress sets the address advertised to cluster members.
func (n *Node) SetBindAddress(addr string) error {
	return n.setter("bind address", func() error {
		if err := validateBindAddress(addr); err != nil {
			return err
		}
		n.cfg.BindAddress = addr
		return nil
	})
}

// SetConnectHook sets a hook invoked with each new SQLite connection.
func (n *Node) SetConnectHook(fn func(*sqlite3.SQLiteConn) error) error {
	return n.setter("connect hook", func() error {
		n.cfg.ConnectHook = fn
		return nil
	})
}

// Start the Node. On failure, the directory lock is released and the Node
// remains Created.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var err = n.start()
	if err != nil {
		startsTotal.WithLabelValues("error").Inc()
		return n.fail(err)
	}
	startsTotal.WithLabelValues("ok").Inc()
	runningNodes.Inc()
	return nil
}

func (n *Node) start() *Error {
	switch n.state {
	case stateRunning:
		return newError(CodeMisuse, nil, "node is already running")
	case stateStopped:
		return newError(CodeMisuse, nil, "node is stopped")
	}
	if err := n.cfg.Validate(); err != nil {
		return newError(CodeMisuse, err, "invalid configuration")
	}
	var dir = n.cfg.Dir

	if err := n.fs.MkdirAll(dir, 0750); err != nil {
		return newError(CodeIOErr, err, "create data directory")
	}
	var lock, err = lockDir(dir)
	if err != nil {
		return newError(CodeError, err, "couldn't lock the raft directory")
	}

	if e := n.startLocked(); e != nil {
		n.teardown()
		if err := lock.release(); err != nil {
			log.WithFields(log.Fields{"dir": dir, "err": err}).Warn("failed to release directory lock")
		}
		return e
	}
	n.lock = lock
	n.state = stateRunning
	return nil
}

// startLocked performs Start while the directory lock is held. Nothing is
// persisted until the log is verified and replayed, so a directory which
// fails its first start remains un-bootstrapped.
func (n *Node) startLocked() *Error {
	var dir = n.cfg.Dir

	// Load the hard state, and determine the new term.
	var hs, found, err = loadHardState(n.fs, dir)
	if err != nil {
		return newError(CodeIOErr, err, "load metadata")
	}
	switch {
	case !found && n.cfg.BlockSize == 0:
		hs.BlockSize = DefaultBlockSize
	case !found:
		hs.BlockSize = uint64(n.cfg.BlockSize)
	case n.blockSizeSet && hs.BlockSize != uint64(n.cfg.BlockSize):
		return newError(CodeError, nil, "block size %d doesn't match bootstrapped block size %d",
			n.cfg.BlockSize, hs.BlockSize)
	}
	n.cfg.BlockSize = int(hs.BlockSize)
	hs.Term++

	// Scan, finalize, and verify the log.
	inv, err := raftlog.List(n.fs, dir)
	if err != nil {
		return newError(CodeIOErr, err, "scan data directory")
	} else if inv, err = raftlog.FinalizeOpenSegments(n.fs, dir, inv); err != nil {
		return logError(err, "finalize open segments")
	} else if err = inv.Verify(); err != nil {
		return newError(CodeError, err, "verify log")
	}

	n.tasks = task.NewGroup(context.Background())
	var ctx = n.tasks.Context()

	// Rebuild the database from the latest snapshot, and replay the log.
	var stateDir = filepath.Join(dir, stateDirname)
	var snap *raftlog.Snapshot
	if s, ok := inv.LatestSnapshot(); ok {
		snap = &s
	}
	if err = resetDatabase(n.fs, dir, stateDir, snap); err != nil {
		return newError(CodeIOErr, err, "restore database")
	}
	if n.db, err = openDatabase(filepath.Join(stateDir, databaseFilename), n.cfg.BusyTimeout, n.cfg.ConnectHook); err != nil {
		return newError(CodeEngine, err, "open database")
	}

	var baseline = inv.Baseline()
	replayed, err := replayEntries(ctx, n.db, func(fn func(raftlog.Entry) error) error {
		return raftlog.Replay(n.fs, dir, inv, baseline, fn)
	})
	if errors.Is(err, raftlog.ErrCorrupt) {
		return newError(CodeError, err, "replay log")
	} else if err != nil && isEngineError(err) {
		return newError(CodeEngine, err, "replay log")
	} else if err != nil {
		return newError(CodeIOErr, err, "replay log")
	}
	replayedEntriesTotal.Add(float64(replayed))

	// Persist the new term, and bootstrap the directory if required.
	if hs, err = storeHardState(n.fs, dir, hs); err != nil {
		return newError(CodeIOErr, err, "store metadata")
	}
	if err = writeInfo(n.fs, dir, info{
		ID:                  n.cfg.ID,
		Address:             n.cfg.BindAddress,
		BlockSize:           n.cfg.BlockSize,
		NetworkLatency:      n.cfg.NetworkLatency,
		SnapshotThreshold:   n.cfg.SnapshotThreshold,
		SnapshotTrailing:    n.cfg.SnapshotTrailing,
		SnapshotCompression: n.cfg.SnapshotCompression,
		Term:                hs.Term,
		StartedAt:           time.Now().UTC().Truncate(time.Second),
	}); err != nil {
		return newError(CodeIOErr, err, "write node info")
	}
	if _, ok, err := ReadCluster(n.fs, dir); err != nil {
		return newError(CodeIOErr, err, "read cluster")
	} else if !ok {
		if err = writeCluster(n.fs, dir, Cluster{Nodes: []NodeInfo{
			{ID: n.cfg.ID, Address: n.cfg.BindAddress, Role: Voter},
		}}); err != nil {
			return newError(CodeIOErr, err, "bootstrap cluster")
		}
	}

	// Begin a new open segment, led by a barrier of the new term.
	var last = inv.LastIndex()
	seg, err := raftlog.CreateOpenSegment(n.fs, dir, last+1, n.cfg.BlockSize)
	if err != nil {
		return newError(CodeIOErr, err, "create open segment")
	} else if err = seg.Append(raftlog.Entry{Term: hs.Term, Index: last + 1, Type: raftlog.EntryBarrier}); err != nil {
		_, _, _ = seg.Close()
		return newError(CodeIOErr, err, "append barrier")
	}

	n.requests = make(chan *writeRequest)
	n.w = &writer{
		fs:        n.fs,
		dir:       dir,
		stateDir:  stateDir,
		cfg:       n.cfg,
		term:      hs.Term,
		db:        n.db,
		seg:       seg,
		inv:       inv,
		requests:  n.requests,
		sinceSnap: last + 1 - baseline,
	}
	n.tasks.Queue("log writer", func() error {
		var err = n.w.serve(ctx)
		if err != nil {
			n.writerFailed(err)
		}
		return err
	})
	n.tasks.Start()

	log.WithFields(log.Fields{
		"dir":       dir,
		"id":        n.cfg.ID,
		"term":      hs.Term,
		"baseline":  baseline,
		"lastIndex": last,
		"replayed":  replayed,
		"segments":  len(inv.Segments),
		"snapshots": len(inv.Snapshots),
	}).Info("started node")

	return nil
}

// teardown releases resources of a partially started Node.
func (n *Node) teardown() {
	if n.tasks != nil {
		n.tasks.Cancel()
		n.tasks = nil
	}
	if n.db != nil {
		_ = n.db.Close()
		n.db = nil
	}
}

func logError(err error, msg string) *Error {
	if errors.Is(err, raftlog.ErrCorrupt) {
		return newError(CodeError, err, msg)
	}
	return newError(CodeIOErr, err, msg)
}

// Stop the Node. In-flight reads and writes are interrupted, and writes
// which were not yet applied fail with CodeStopped. Stop waits up to the
// busy timeout for the writer to exit, and then seals the log: a write
// still executing past the timeout is rolled back rather than appended.
// The open segment is closed and the directory lock released. Stopping a
// Node which isn't running returns CodeNotOpen.
func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != stateRunning {
		return n.fail(newError(CodeNotOpen, nil, "node is not running"))
	}
	n.state = stateStopped
	runningNodes.Dec()
	stopsTotal.Inc()

	n.tasks.Cancel()

	var done = make(chan error, 1)
	go func(tasks *task.Group) { done <- tasks.Wait() }(n.tasks)

	select {
	case <-done:
		// A writer failure was logged as it happened.
	case <-time.After(n.cfg.BusyTimeout):
		log.WithFields(log.Fields{"dir": n.cfg.Dir, "timeout": n.cfg.BusyTimeout}).
			Warn("timed out waiting for log writer to exit")
	}

	var firstErr *Error
	if seg, ok, err := n.w.seal(); err != nil {
		firstErr = newError(CodeIOErr, err, "close open segment")
	} else if ok {
		log.WithFields(log.Fields{"dir": n.cfg.Dir, "segment": seg.Filename}).Debug("closed open segment")
	}

	if err := n.db.Close(); err != nil && firstErr == nil {
		firstErr = newError(CodeEngine, err, "close database")
	}
	if err := n.lock.release(); err != nil && firstErr == nil {
		firstErr = newError(CodeIOErr, err, "release directory lock")
	}
	n.lock, n.db = nil, nil

	log.WithFields(log.Fields{"dir": n.cfg.Dir, "id": n.cfg.ID}).Info("stopped node")

	if firstErr != nil {
		return n.fail(firstErr)
	}
	return nil
}

// Running returns whether the Node is running, and its log writer hasn't
// failed.
func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state == stateRunning && n.failure.Load() == nil
}

// Err returns the failure of the Node's log writer, or nil.
func (n *Node) Err() error {
	if f := n.failure.Load(); f != nil {
		return f
	}
	return nil
}

// Done returns a channel which is closed when the Node begins to stop, or
// when its log writer fails. It's nil if the Node isn't running.
func (n *Node) Done() <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != stateRunning {
		return nil
	}
	return n.tasks.Context().Done()
}

// Inventory scans the data directory of the Node.
func (n *Node) Inventory() (raftlog.Inventory, error) {
	var inv, err = raftlog.List(n.fs, n.cfg.Dir)
	if err != nil {
		return raftlog.Inventory{}, n.fail(logError(err, "scan data directory"))
	}
	return inv, nil
}

// Recover rewrites the cluster membership of the Node's data directory.
// See RecoverExt.
func (n *Node) Recover(infos []NodeInfo) error {
	var ext = make([]NodeInfoExt, len(infos))
	for i, ni := range infos {
		ext[i] = NewNodeInfoExt(ni)
	}
	return n.RecoverExt(ext)
}

// RecoverExt rewrites the cluster membership of the Node's data directory.
// It's legal only for a Created Node of a directory which was bootstrapped
// by a prior start. Records are validated before any mutation, and log
// segments and snapshots are not modified.
func (n *Node) RecoverExt(infos []NodeInfoExt) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != stateCreated {
		return n.fail(newError(CodeMisuse, nil, "cannot recover a %s node", n.state))
	}
	var cluster Cluster
	for i, ne := range infos {
		if err := ne.Validate(); err != nil {
			return n.fail(newError(CodeMisuse, ExtendContext(err, "infos[%d]", i), "invalid recovery record"))
		}
		cluster.Nodes = append(cluster.Nodes, ne.NodeInfo())
	}
	if err := cluster.Validate(); err != nil {
		return n.fail(newError(CodeMisuse, err, "invalid recovery records"))
	}

	var dir = n.cfg.Dir
	if _, found, err := loadHardState(n.fs, dir); err != nil {
		return n.fail(newError(CodeIOErr, err, "load metadata"))
	} else if !found {
		return n.fail(newError(CodeMisuse, nil, "node has not been bootstrapped"))
	}

	var lock, err = lockDir(dir)
	if err != nil {
		return n.fail(newError(CodeError, err, "couldn't lock the raft directory"))
	}
	defer func() {
		if err := lock.release(); err != nil {
			log.WithFields(log.Fields{"dir": dir, "err": err}).Warn("failed to release directory lock")
		}
	}()

	if err = writeCluster(n.fs, dir, cluster); err != nil {
		return n.fail(newError(CodeIOErr, err, "write cluster"))
	}
	recoveriesTotal.Inc()

	log.WithFields(log.Fields{"dir": dir, "nodes": len(cluster.Nodes)}).Info("recovered cluster membership")
	return nil
}

// Cluster returns the persisted cluster membership of the Node's directory.
func (n *Node) Cluster() (Cluster, error) {
	var c, ok, err = ReadCluster(n.fs, n.cfg.Dir)
	if err != nil {
		return Cluster{}, n.fail(newError(CodeIOErr, err, "read cluster"))
	} else if !ok {
		return Cluster{}, n.fail(newError(CodeNotFound, nil, "cluster is not bootstrapped"))
	}
	return c, nil
}
