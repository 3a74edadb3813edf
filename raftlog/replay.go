package raftlog

import (
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Replay decodes the closed segments of |inv| in order, and invokes |fn| with
// each entry having an index greater than |after|. Segments ending at or
// before |after| are not read. A closed segment must decode completely and
// hold exactly the entries its name describes, and otherwise the log is
// corrupt. An error returned by |fn| aborts the replay and is returned.
func Replay(fs afero.Fs, dir string, inv Inventory, after uint64, fn func(Entry) error) error {
	for _, seg := range inv.Closed() {
		if seg.End <= after {
			continue
		}
		var entries, err = readClosedSegment(fs, dir, seg)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.Index <= after {
				continue
			} else if err = fn(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func readClosedSegment(fs afero.Fs, dir string, seg Segment) ([]Entry, error) {
	var f, err = fs.Open(filepath.Join(dir, seg.Filename))
	if err != nil {
		return nil, errors.WithMessagef(err, "open segment %s", seg.Filename)
	}
	defer f.Close()

	entries, _, err := DecodeSegment(f)
	if err != nil {
		return nil, errors.WithMessagef(ErrCorrupt, "segment %s: %s", seg.Filename, err)
	} else if uint64(len(entries)) != seg.Len() {
		return nil, errors.WithMessagef(ErrCorrupt,
			"segment %s holds %d entries (expected %d)", seg.Filename, len(entries), seg.Len())
	}
	for i, e := range entries {
		if e.Index != seg.First+uint64(i) {
			return nil, errors.WithMessagef(ErrCorrupt,
				"segment %s has entry index %d at offset %d", seg.Filename, e.Index, i)
		}
	}
	return entries, nil
}
