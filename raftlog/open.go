package raftlog

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// OpenResolution is the outcome of resolving open segments which share a
// First index. Exactly one Winner is chosen per First.
type OpenResolution struct {
	Winner Segment
	// Entries is the number of valid, consecutive entries of the Winner.
	Entries uint64
	// Valid is the byte length of the Winner's valid prefix.
	Valid int64
	// Losers are other open segments having the same First.
	Losers []Segment
}

// ResolveOpenSegments decodes each open segment of |inv| and groups them by
// First index. Within a group the segment having the most valid entries
// wins, and ties are broken by the lexicographically larger file name. The
// valid prefix of an open segment ends at its first bad record, or at the
// first entry whose index doesn't follow its predecessor. An open segment
// whose first entry doesn't have index First is corrupt.
func ResolveOpenSegments(fs afero.Fs, dir string, inv Inventory) ([]OpenResolution, error) {
	var out []OpenResolution

	for _, seg := range inv.OpenSegments() {
		var entries, valid, err = decodeOpenSegment(fs, dir, seg)
		if err != nil {
			return nil, err
		}

		var res = OpenResolution{Winner: seg, Entries: entries, Valid: valid}
		if l := len(out); l != 0 && out[l-1].Winner.First == seg.First {
			var cur = &out[l-1]

			if res.Entries > cur.Entries ||
				(res.Entries == cur.Entries && seg.Filename > cur.Winner.Filename) {
				res.Losers = append(cur.Losers, cur.Winner)
				*cur = res
			} else {
				cur.Losers = append(cur.Losers, seg)
			}
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// decodeOpenSegment returns the count and byte length of the valid prefix
// of an open segment.
func decodeOpenSegment(fs afero.Fs, dir string, seg Segment) (uint64, int64, error) {
	var f, err = fs.Open(filepath.Join(dir, seg.Filename))
	if err != nil {
		return 0, 0, errors.WithMessagef(err, "open segment %s", seg.Filename)
	}
	defer f.Close()

	entries, valid, decodeErr := DecodeSegment(f)
	if decodeErr != nil {
		log.WithFields(log.Fields{
			"dir":     dir,
			"segment": seg.Filename,
			"valid":   valid,
			"err":     decodeErr,
		}).Warn("open segment has a torn tail")
	}
	if len(entries) == 0 {
		return 0, segmentHeaderSize, nil
	} else if entries[0].Index != seg.First {
		return 0, 0, errors.WithMessagef(ErrCorrupt,
			"open segment %s begins with index %d", seg.Filename, entries[0].Index)
	}

	// Recompute |valid| through the last consecutive entry.
	var n = 1
	valid = segmentHeaderSize + encodedLen(entries[0])

	for ; n != len(entries); n++ {
		if entries[n].Index != entries[n-1].Index+1 {
			log.WithFields(log.Fields{
				"dir":      dir,
				"segment":  seg.Filename,
				"index":    entries[n].Index,
				"expected": entries[n-1].Index + 1,
			}).Warn("open segment has a discontinuous tail")
			break
		}
		valid += encodedLen(entries[n])
	}
	return uint64(n), valid, nil
}

// FinalizeOpenSegments converts the open segments of |inv| into closed
// segments, as is required before the log is replayed. Losing and empty open
// segments are removed, and winners are truncated to their valid prefix and
// renamed to their closed segment name. The returned Inventory reflects the
// updated directory.
func FinalizeOpenSegments(fs afero.Fs, dir string, inv Inventory) (Inventory, error) {
	var resolved, err = ResolveOpenSegments(fs, dir, inv)
	if err != nil {
		return Inventory{}, err
	}
	var out = Inventory{Snapshots: inv.Snapshots, Segments: inv.Closed()}

	for _, res := range resolved {
		for _, loser := range res.Losers {
			if err = removeFile(fs, dir, loser.Filename, "superseded"); err != nil {
				return Inventory{}, err
			}
		}
		if res.Entries == 0 {
			if err = removeFile(fs, dir, res.Winner.Filename, "empty"); err != nil {
				return Inventory{}, err
			}
			continue
		}

		var seg = Segment{
			Filename: ClosedSegmentName(res.Winner.First, res.Winner.First+res.Entries-1),
			First:    res.Winner.First,
			End:      res.Winner.First + res.Entries - 1,
			Size:     res.Valid,
		}
		if _, found, err := statRegular(fs, filepath.Join(dir, seg.Filename)); err != nil {
			return Inventory{}, errors.WithMessagef(err, "stat segment %s", seg.Filename)
		} else if found {
			return Inventory{}, errors.WithMessagef(ErrCorrupt,
				"open segment %s would replace existing segment %s", res.Winner.Filename, seg.Filename)
		}

		var path = filepath.Join(dir, res.Winner.Filename)
		if res.Valid != res.Winner.Size {
			if err = truncateFile(fs, path, res.Valid); err != nil {
				return Inventory{}, errors.WithMessagef(err, "truncate segment %s", res.Winner.Filename)
			}
		}
		if err = fs.Rename(path, filepath.Join(dir, seg.Filename)); err != nil {
			return Inventory{}, errors.WithMessagef(err, "finalize segment %s", res.Winner.Filename)
		}

		log.WithFields(log.Fields{
			"dir":     dir,
			"open":    res.Winner.Filename,
			"segment": seg.Filename,
		}).Info("finalized open segment")

		out.Segments = append(out.Segments, seg)
	}

	if len(resolved) != 0 {
		if err = SyncDir(fs, dir); err != nil {
			return Inventory{}, err
		}
	}
	SortSegments(out.Segments)
	return out, nil
}

func truncateFile(fs afero.Fs, path string, size int64) error {
	var f, err = fs.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if err = f.Truncate(size); err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

func removeFile(fs afero.Fs, dir, name, reason string) error {
	if err := fs.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
		return errors.WithMessagef(err, "remove %s", name)
	}
	removedFilesTotal.WithLabelValues(reason).Inc()

	log.WithFields(log.Fields{"dir": dir, "name": name, "reason": reason}).Debug("removed file")
	return nil
}
