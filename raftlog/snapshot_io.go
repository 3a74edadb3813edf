package raftlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.raftlite.dev/core/codecs"
)

// WriteSnapshot writes the snapshot of |key| into |dir|, streaming |content|
// through a compressor of |codec|. Compressed data is split into parts of at
// most |partSize| bytes, or into a single unsplit file if |partSize| is zero.
// Data files are synced before the metadata file is written, and metadata
// is written to a temporary file which is then renamed into place. A crash
// at any point therefore leaves either a complete snapshot, or files which
// List drops.
func WriteSnapshot(fs afero.Fs, dir string, key SnapshotKey, content io.Reader,
	codec codecs.Codec, partSize int64) (Snapshot, error) {

	if err := codec.Validate(); err != nil {
		return Snapshot{}, err
	} else if partSize < 0 {
		return Snapshot{}, fmt.Errorf("invalid part size %d", partSize)
	}

	var pw = &partWriter{fs: fs, dir: dir, key: key, partSize: partSize}
	var snap, err = writeSnapshot(pw, content, codec)
	if err != nil {
		pw.abort()
		return Snapshot{}, err
	}

	var tmp = "." + snap.MetaFilename + ".tmp"
	if err = WriteFileSync(fs, filepath.Join(dir, tmp), snap.Meta.marshal()); err != nil {
		pw.abort()
		return Snapshot{}, errors.WithMessagef(err, "write snapshot metadata %s", tmp)
	} else if err = fs.Rename(filepath.Join(dir, tmp), filepath.Join(dir, snap.MetaFilename)); err != nil {
		_ = fs.Remove(filepath.Join(dir, tmp))
		pw.abort()
		return Snapshot{}, errors.WithMessagef(err, "rename snapshot metadata %s", tmp)
	} else if err = SyncDir(fs, dir); err != nil {
		return Snapshot{}, err
	}

	log.WithFields(log.Fields{
		"dir":      dir,
		"snapshot": key.String(),
		"codec":    codec,
		"parts":    snap.Meta.Parts,
		"length":   snap.Meta.ContentLength,
		"size":     snap.DataSize,
	}).Info("wrote snapshot")

	return snap, nil
}

func writeSnapshot(pw *partWriter, content io.Reader, codec codecs.Codec) (Snapshot, error) {
	var cw, err = codecs.NewCodecWriter(pw, codec)
	if err != nil {
		return Snapshot{}, err
	}
	length, err := io.Copy(cw, content)
	if err != nil {
		return Snapshot{}, errors.WithMessage(err, "copy snapshot content")
	} else if err = cw.Close(); err != nil {
		return Snapshot{}, errors.WithMessage(err, "close snapshot compressor")
	} else if err = pw.Close(); err != nil {
		return Snapshot{}, err
	} else if length == 0 || pw.total == 0 {
		return Snapshot{}, fmt.Errorf("snapshot content is empty")
	}

	var snap = Snapshot{
		SnapshotKey: pw.key,
		Meta: SnapshotMeta{
			Codec:         codec,
			ContentLength: length,
		},
		MetaFilename: pw.key.MetaName(),
		DataSize:     pw.total,
	}
	if pw.partSize != 0 {
		snap.Meta.Parts = len(pw.names)
	}
	return snap, nil
}

// OpenSnapshot returns a reader of the decompressed content of |snap|.
func OpenSnapshot(fs afero.Fs, dir string, snap Snapshot) (io.ReadCloser, error) {
	var files []afero.File
	var readers []io.Reader

	var closeAll = func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	for _, name := range snap.DataFilenames() {
		var f, err = fs.Open(filepath.Join(dir, name))
		if err != nil {
			closeAll()
			return nil, errors.WithMessagef(err, "open snapshot data %s", name)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	var dec, err = codecs.NewCodecReader(bufio.NewReader(io.MultiReader(readers...)), snap.Meta.Codec)
	if err != nil {
		closeAll()
		return nil, err
	}
	return &snapshotReader{Decompressor: dec, closeAll: closeAll}, nil
}

type snapshotReader struct {
	codecs.Decompressor
	closeAll func()
}

func (r *snapshotReader) Close() error {
	var err = r.Decompressor.Close()
	r.closeAll()
	return err
}

// partWriter writes a stream of snapshot data into files of a snapshot,
// rolling to a new part file each time |partSize| is reached.
type partWriter struct {
	fs       afero.Fs
	dir      string
	key      SnapshotKey
	partSize int64

	names []string
	file  afero.File
	n     int64 // Bytes written to |file|.
	total int64
}

func (w *partWriter) Write(p []byte) (int, error) {
	var written int

	for len(p) != 0 {
		if w.file == nil || (w.partSize != 0 && w.n == w.partSize) {
			if err := w.roll(); err != nil {
				return written, err
			}
		}
		var chunk = p
		if w.partSize != 0 && int64(len(chunk)) > w.partSize-w.n {
			chunk = chunk[:w.partSize-w.n]
		}
		var n, err = w.file.Write(chunk)
		written += n
		w.n += int64(n)
		w.total += int64(n)

		if err != nil {
			return written, errors.WithMessagef(err, "write snapshot data %s", w.names[len(w.names)-1])
		}
		p = p[n:]
	}
	return written, nil
}

// roll closes the current file, if any, and creates the next one.
func (w *partWriter) roll() error {
	if err := w.closeCurrent(); err != nil {
		return err
	}
	var name string
	if w.partSize == 0 {
		if len(w.names) != 0 {
			panic("unsplit snapshot data rolled")
		}
		name = w.key.DataName()
	} else {
		name = w.key.PartName(len(w.names))
	}

	var f, err = w.fs.OpenFile(filepath.Join(w.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return errors.WithMessagef(err, "create snapshot data %s", name)
	}
	w.names = append(w.names, name)
	w.file, w.n = f, 0
	return nil
}

func (w *partWriter) closeCurrent() error {
	if w.file == nil {
		return nil
	}
	var f, name = w.file, w.names[len(w.names)-1]
	w.file = nil

	var err = f.Sync()
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.WithMessagef(err, "close snapshot data %s", name)
	}
	return nil
}

func (w *partWriter) Close() error { return w.closeCurrent() }

// abort closes and removes all files written by the partWriter.
func (w *partWriter) abort() {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	for _, name := range w.names {
		if err := w.fs.Remove(filepath.Join(w.dir, name)); err != nil && !os.IsNotExist(err) {
			log.WithFields(log.Fields{"name": name, "err": err}).Warn("failed to remove snapshot data")
		}
	}
	w.names = nil
}
