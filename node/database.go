package node

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.raftlite.dev/core/raftlog"
)

const (
	// stateDirname is the subdirectory of the working database.
	stateDirname = "state"
	// databaseFilename is the working database, rebuilt at each start.
	databaseFilename = "db.sqlite3"
)

var driverSeq int64

// openDatabase opens the SQLite database at |path|. Each Node registers its
// own driver, so that its ConnectHook applies only to its connections.
func openDatabase(path string, busyTimeout time.Duration, hook func(*sqlite3.SQLiteConn) error) (*sql.DB, error) {
	var driver = fmt.Sprintf("raftlite-%d-%d", time.Now().UnixNano(), atomic.AddInt64(&driverSeq, 1))
	sql.Register(driver, &sqlite3.SQLiteDriver{ConnectHook: hook})

	var values = url.Values{
		"_busy_timeout": {strconv.FormatInt(busyTimeout.Milliseconds(), 10)},
		"_journal_mode": {"WAL"},
		"_synchronous":  {"NORMAL"},
	}
	var db, err = sql.Open(driver, "file:"+path+"?"+values.Encode())
	if err != nil {
		return nil, errors.WithMessage(err, "opening SQLite database")
	} else if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.WithMessage(err, "opening SQLite database")
	}
	return db, nil
}

// resetDatabase removes the working database of |stateDir|, and restores
// the content of |snap| in its place if |snap| is non-nil.
func resetDatabase(fs afero.Fs, dir, stateDir string, snap *raftlog.Snapshot) error {
	if err := fs.MkdirAll(stateDir, 0750); err != nil {
		return err
	}
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		var path = filepath.Join(stateDir, databaseFilename+suffix)
		if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if snap == nil {
		return nil
	}

	var r, err = raftlog.OpenSnapshot(fs, dir, *snap)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := fs.OpenFile(filepath.Join(stateDir, databaseFilename), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return err
	}
	if _, err = io.Copy(f, r); err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return errors.WithMessagef(err, "restore snapshot %s", snap.SnapshotKey)
}

// replayEntries applies the SQL of command |entries| in a single transaction.
func replayEntries(ctx context.Context, db *sql.DB, apply func(func(raftlog.Entry) error) error) (uint64, error) {
	var tx, err = db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	var count uint64

	if err = apply(func(e raftlog.Entry) error {
		count++
		if e.Type != raftlog.EntryCommand {
			return nil
		} else if _, err := tx.ExecContext(ctx, string(e.Data)); err != nil {
			return errors.WithMessagef(err, "replay entry %d", e.Index)
		}
		return nil
	}); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	return count, tx.Commit()
}

// vacuumInto writes a consistent copy of the database to |path|.
func vacuumInto(ctx context.Context, db *sql.DB, path string) error {
	var _, err = db.ExecContext(ctx, "VACUUM INTO '"+strings.ReplaceAll(path, "'", "''")+"'")
	return err
}

// isEngineError returns whether |err| originates from the SQL engine.
func isEngineError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se)
}
