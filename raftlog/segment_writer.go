package raftlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// SegmentWriter appends entries to an open segment. Entries must be
// appended with consecutive indices beginning at the segment's first index.
// SegmentWriter is not safe for concurrent use.
type SegmentWriter struct {
	fs    afero.Fs
	dir   string
	name  string
	first uint64
	next  uint64
	size  int64

	file afero.File
	bw   *bufio.Writer
	buf  []byte
}

// CreateOpenSegment creates a new, empty open segment in |dir| which will
// hold entries beginning at |first|. Writes are buffered in units of
// |blockSize|. It's an error for the segment file to already exist.
func CreateOpenSegment(fs afero.Fs, dir string, first uint64, blockSize int) (*SegmentWriter, error) {
	if first == 0 {
		return nil, fmt.Errorf("invalid first index 0")
	}
	var name = OpenSegmentName(first)

	var file, err = fs.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return nil, errors.WithMessagef(err, "create open segment %s", name)
	}
	return &SegmentWriter{
		fs:    fs,
		dir:   dir,
		name:  name,
		first: first,
		next:  first,
		file:  file,
		bw:    bufio.NewWriterSize(file, blockSize),
	}, nil
}

// First returns the index of the first entry of the segment.
func (w *SegmentWriter) First() uint64 { return w.first }

// Next returns the index which the next appended Entry must have.
func (w *SegmentWriter) Next() uint64 { return w.next }

// Size returns the number of bytes written to the segment.
func (w *SegmentWriter) Size() int64 { return w.size }

// Filename returns the current file name of the open segment.
func (w *SegmentWriter) Filename() string { return w.name }

// Append |entries| to the segment, and sync them to disk before returning.
func (w *SegmentWriter) Append(entries ...Entry) error {
	if w.file == nil {
		return fmt.Errorf("segment %s is closed", w.name)
	}
	var buf = w.buf[:0]

	if w.size == 0 {
		buf = binary.LittleEndian.AppendUint64(buf, segmentFormat)
	}
	for i, e := range entries {
		if e.Index != w.next+uint64(i) {
			return fmt.Errorf("expected entry index %d (got %d)", w.next+uint64(i), e.Index)
		}
		buf = appendRecord(buf, e)
	}
	w.buf = buf

	if _, err := w.bw.Write(buf); err != nil {
		return errors.WithMessagef(err, "write segment %s", w.name)
	} else if err = w.bw.Flush(); err != nil {
		return errors.WithMessagef(err, "flush segment %s", w.name)
	} else if err = w.file.Sync(); err != nil {
		return errors.WithMessagef(err, "sync segment %s", w.name)
	}

	w.size += int64(len(buf))
	w.next += uint64(len(entries))

	appendedEntriesTotal.Add(float64(len(entries)))
	appendedBytesTotal.Add(float64(len(buf)))
	return nil
}

// Close the SegmentWriter. If entries were appended, the segment is renamed
// to its closed segment name and its closed Segment is returned with
// |ok| true. Otherwise the empty segment file is removed.
func (w *SegmentWriter) Close() (seg Segment, ok bool, err error) {
	if w.file == nil {
		return Segment{}, false, fmt.Errorf("segment %s is already closed", w.name)
	}
	var path = filepath.Join(w.dir, w.name)

	err = w.bw.Flush()
	if closeErr := w.file.Close(); err == nil {
		err = closeErr
	}
	w.file = nil

	if err != nil {
		return Segment{}, false, errors.WithMessagef(err, "close segment %s", w.name)
	}

	if w.next == w.first {
		if err = w.fs.Remove(path); err != nil {
			return Segment{}, false, errors.WithMessagef(err, "remove empty segment %s", w.name)
		}
		removedFilesTotal.WithLabelValues("empty").Inc()
		return Segment{}, false, nil
	}

	seg = Segment{
		Filename: ClosedSegmentName(w.first, w.next-1),
		First:    w.first,
		End:      w.next - 1,
		Size:     w.size,
	}
	if err = w.fs.Rename(path, filepath.Join(w.dir, seg.Filename)); err != nil {
		return Segment{}, false, errors.WithMessagef(err, "close segment %s", w.name)
	} else if err = SyncDir(w.fs, w.dir); err != nil {
		return Segment{}, false, err
	}

	log.WithFields(log.Fields{
		"dir":     w.dir,
		"segment": seg.Filename,
		"size":    seg.Size,
	}).Debug("closed segment")

	return seg, true, nil
}
