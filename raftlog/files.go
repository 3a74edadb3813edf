package raftlog

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// SyncDir syncs directory |dir|, making preceding creations, renames and
// removals durable.
func SyncDir(fs afero.Fs, dir string) error {
	var f, err = fs.Open(dir)
	if err != nil {
		return errors.WithMessage(err, "open directory for sync")
	}
	defer f.Close()

	if err = f.Sync(); err != nil {
		return errors.WithMessage(err, "sync directory")
	}
	return nil
}

// WriteFileSync writes |b| to |path|, truncating it if it exists, and syncs
// the file before closing it.
func WriteFileSync(fs afero.Fs, path string, b []byte) error {
	var f, err = fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return err
	}
	if _, err = f.Write(b); err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

// WriteFileAtomic writes |b| to a hidden temporary file of |dir| which is
// then renamed to |name|. Readers observe either the prior or the new content.
func WriteFileAtomic(fs afero.Fs, dir, name string, b []byte) error {
	var tmp = filepath.Join(dir, "."+name+".tmp")

	if err := WriteFileSync(fs, tmp, b); err != nil {
		_ = fs.Remove(tmp)
		return errors.WithMessagef(err, "write %s", name)
	} else if err = fs.Rename(tmp, filepath.Join(dir, name)); err != nil {
		_ = fs.Remove(tmp)
		return errors.WithMessagef(err, "rename %s", name)
	}
	return SyncDir(fs, dir)
}
