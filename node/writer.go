package node

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.raftlite.dev/core/raftlog"
)

const (
	// segmentBlocks is the number of blocks after which an open segment is
	// closed and a new one begun.
	segmentBlocks = 64
	// snapshotPartSize is the size of snapshot data parts.
	snapshotPartSize = 64 << 20
	// keepSnapshots is the number of snapshots retained by compaction.
	keepSnapshots = 2
)

// Result of an applied write.
type Result struct {
	// Index of the log entry of the write.
	Index        uint64
	LastInsertID int64
	RowsAffected int64
}

type writeRequest struct {
	ctx   context.Context
	query string
	resp  chan writeResponse
}

type writeResponse struct {
	result Result
	err    *Error
}

// writer is the single task which applies writes to the database, and
// sequences them into the log.
type writer struct {
	fs       afero.Fs
	dir      string
	stateDir string
	cfg      Config
	term     uint64
	db       *sql.DB
	seg      *raftlog.SegmentWriter
	inv      raftlog.Inventory
	requests <-chan *writeRequest

	// Entries appended since the last snapshot.
	sinceSnap uint64
	// failed is set if the log may be inconsistent with the database.
	failed error

	// mu guards appends to the log, and sealed.
	mu sync.Mutex
	// sealed is set by Stop. A sealed writer appends no further entries,
	// even if it hasn't yet exited.
	sealed bool
}

func (w *writer) serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-w.requests:
			var result, err = w.apply(ctx, req)
			if err != nil {
				writesTotal.WithLabelValues(err.Code.String()).Inc()
			} else {
				writesTotal.WithLabelValues("OK").Inc()
			}
			req.resp <- writeResponse{result: result, err: err}

			if w.failed != nil {
				return w.failed
			}
		}
	}
}

// apply executes |req| within a transaction, and appends its entry to the
// log prior to commit. A write is either logged and committed, or rolled
// back and absent from the log.
func (w *writer) apply(ctx context.Context, req *writeRequest) (Result, *Error) {
	if ctx.Err() != nil {
		return Result{}, newError(CodeStopped, ctx.Err(), "node is stopping")
	}
	// Execution of the statement is bounded by both the node and request
	// contexts. The transaction is not: once its entry is appended, it must
	// commit regardless of cancellation.
	var execCtx, cancel = context.WithCancel(ctx)
	defer cancel()
	var stop = context.AfterFunc(req.ctx, cancel)
	defer stop()

	var tx, err = w.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return Result{}, w.classify(ctx, req.ctx, err, "begin transaction")
	}
	res, err := tx.ExecContext(execCtx, req.query)
	if err != nil {
		_ = tx.Rollback()
		return Result{}, w.classify(ctx, req.ctx, err, "execute")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sealed || ctx.Err() != nil {
		_ = tx.Rollback()
		return Result{}, newError(CodeStopped, ctx.Err(), "node is stopping")
	} else if req.ctx.Err() != nil {
		_ = tx.Rollback()
		return Result{}, newError(CodeError, req.ctx.Err(), "request cancelled")
	}

	var entry = raftlog.Entry{
		Term:  w.term,
		Index: w.seg.Next(),
		Type:  raftlog.EntryCommand,
		Data:  []byte(req.query),
	}
	if err = w.seg.Append(entry); err != nil {
		_ = tx.Rollback()
		w.failed = newError(CodeIOErr, err, "append entry")
		return Result{}, w.failed.(*Error)
	}
	if err = tx.Commit(); err != nil {
		// The entry is durable, and is applied again when the log is replayed.
		w.failed = newError(CodeIOErr, err, "commit")
		return Result{}, w.failed.(*Error)
	}

	var out = Result{Index: entry.Index}
	out.LastInsertID, _ = res.LastInsertId()
	out.RowsAffected, _ = res.RowsAffected()

	w.sinceSnap++
	if err = w.maybeRoll(); err != nil {
		w.failed = newError(CodeIOErr, err, "roll segment")
		return out, w.failed.(*Error)
	}
	if w.sinceSnap >= w.cfg.SnapshotThreshold {
		if err = w.snapshot(ctx, entry.Index); err != nil {
			snapshotsTotal.WithLabelValues("error").Inc()
			log.WithFields(log.Fields{"dir": w.dir, "index": entry.Index, "err": err}).
				Warn("failed to take snapshot")
		}
	}
	return out, nil
}

// classify maps an error of the SQL engine to an *Error.
func (w *writer) classify(ctx, reqCtx context.Context, err error, msg string) *Error {
	if ctx.Err() != nil {
		return newError(CodeStopped, err, "node is stopping")
	} else if reqCtx.Err() != nil {
		return newError(CodeError, reqCtx.Err(), "request cancelled")
	} else if isEngineError(err) {
		return newError(CodeEngine, err, msg)
	}
	return newError(CodeIOErr, err, msg)
}

// maybeRoll closes the open segment once it reaches its size limit, and
// begins a new one.
func (w *writer) maybeRoll() error {
	if w.seg.Size() < int64(w.cfg.BlockSize)*segmentBlocks {
		return nil
	}
	var next = w.seg.Next()

	var _, _, err = w.seg.Close()
	w.seg = nil
	if err != nil {
		return err
	}
	w.seg, err = raftlog.CreateOpenSegment(w.fs, w.dir, next, w.cfg.BlockSize)
	return err
}

// seal the writer, and close its open segment. Seal waits for an
// in-progress append, but not for an executing statement.
func (w *writer) seal() (raftlog.Segment, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.sealed || w.seg == nil {
		w.sealed = true
		return raftlog.Segment{}, false, nil
	}
	w.sealed = true
	return w.seg.Close()
}

// snapshot the database at |index|, and compact the log behind it.
func (w *writer) snapshot(ctx context.Context, index uint64) error {
	var tmp = filepath.Join(w.stateDir, "snapshot.tmp")
	if err := w.fs.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return err
	}
	defer w.fs.Remove(tmp)

	if err := vacuumInto(ctx, w.db, tmp); err != nil {
		return errors.WithMessage(err, "vacuum into snapshot")
	}
	var f, err = w.fs.Open(tmp)
	if err != nil {
		return err
	}
	defer f.Close()

	var key = raftlog.SnapshotKey{Term: w.term, Index: index, Timestamp: uint64(time.Now().UnixMilli())}
	snap, err := raftlog.WriteSnapshot(w.fs, w.dir, key, f, w.cfg.SnapshotCompression, snapshotPartSize)
	if err != nil {
		return err
	}
	w.sinceSnap = 0
	snapshotsTotal.WithLabelValues("ok").Inc()

	inv, err := raftlog.List(w.fs, w.dir)
	if err != nil {
		return err
	}
	var through uint64
	if index > w.cfg.SnapshotTrailing {
		through = index - w.cfg.SnapshotTrailing
	}
	if w.inv, err = raftlog.Compact(w.fs, w.dir, inv, through, keepSnapshots); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"dir":      w.dir,
		"snapshot": snap.SnapshotKey.String(),
		"size":     snap.DataSize,
		"through":  through,
	}).Info("took snapshot")
	return nil
}

// Exec applies the SQL |query| to the database, and appends it to the log.
// Writes are applied one at a time, in order of submission.
func (n *Node) Exec(ctx context.Context, query string) (Result, error) {
	n.mu.Lock()
	if n.state != stateRunning {
		n.mu.Unlock()
		return Result{}, n.fail(newError(CodeNotOpen, nil, "node is not running"))
	}
	var requests, nodeCtx = n.requests, n.tasks.Context()
	n.mu.Unlock()

	if f := n.failure.Load(); f != nil {
		return Result{}, n.fail(f)
	}
	var req = &writeRequest{ctx: ctx, query: query, resp: make(chan writeResponse, 1)}

	select {
	case requests <- req:
	case <-nodeCtx.Done():
		if f := n.failure.Load(); f != nil {
			return Result{}, n.fail(f)
		}
		return Result{}, n.fail(newError(CodeStopped, nil, "node is stopping"))
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	// A dequeued request is always responded to.
	var resp = <-req.resp
	if resp.err != nil {
		return resp.result, n.fail(resp.err)
	}
	return resp.result, nil
}

// Rows of a Query. Rows must be closed.
type Rows struct {
	*sql.Rows
	cancel context.CancelFunc
}

// Close the Rows.
func (r *Rows) Close() error {
	var err = r.Rows.Close()
	r.cancel()
	return err
}

// Query the database. The query is interrupted if the Node stops.
func (n *Node) Query(ctx context.Context, query string, args ...interface{}) (*Rows, error) {
	n.mu.Lock()
	if n.state != stateRunning {
		n.mu.Unlock()
		return nil, n.fail(newError(CodeNotOpen, nil, "node is not running"))
	}
	var db, nodeCtx = n.db, n.tasks.Context()
	n.mu.Unlock()

	var queryCtx, cancel = context.WithCancel(nodeCtx)
	var stop = context.AfterFunc(ctx, cancel)

	var rows, err = db.QueryContext(queryCtx, query, args...)
	if err != nil {
		stop()
		cancel()
		if nodeCtx.Err() != nil {
			return nil, n.fail(newError(CodeStopped, err, "node is stopping"))
		}
		return nil, n.fail(newError(CodeEngine, err, "query"))
	}
	return &Rows{Rows: rows, cancel: func() { stop(); cancel() }}, nil
}
