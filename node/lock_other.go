//go:build !unix

package node

import (
	"github.com/pkg/errors"
)

// LockFilename is the name of the lock file of a data directory.
const LockFilename = "raftlite-lock"

type dirLock struct{}

func lockDir(string) (*dirLock, error) {
	return nil, errors.New("directory locking is not supported on this platform")
}

func (*dirLock) release() error { return nil }
