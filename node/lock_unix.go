//go:build unix

package node

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// LockFilename is the name of the lock file of a data directory.
const LockFilename = "raftlite-lock"

// dirLock is an exclusive, advisory lock of a data directory, held for the
// lifetime of a running Node. Locks are held by an open file description,
// so two Nodes of one process also exclude one another.
type dirLock struct {
	file *os.File
}

func lockDir(dir string) (*dirLock, error) {
	var f, err = os.OpenFile(filepath.Join(dir, LockFilename), os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, err
	}
	if err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, &os.PathError{Op: "flock", Path: f.Name(), Err: err}
	}
	return &dirLock{file: f}, nil
}

func (l *dirLock) release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		_ = l.file.Close()
		return &os.PathError{Op: "flock", Path: l.file.Name(), Err: err}
	}
	return l.file.Close()
}
