package raftlog

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// ErrCorrupt is the root cause of errors which indicate an inconsistent
// data directory, such as gapped or overlapping segments.
var ErrCorrupt = errors.New("raft log is corrupt")

// Inventory is the result of a data directory scan. Snapshots are ordered
// from oldest to most recent, and Segments on ascending First index.
type Inventory struct {
	Snapshots []Snapshot
	Segments  []Segment
}

// LatestSnapshot returns the most recent Snapshot, if there is one.
func (inv Inventory) LatestSnapshot() (Snapshot, bool) {
	if len(inv.Snapshots) == 0 {
		return Snapshot{}, false
	}
	return inv.Snapshots[len(inv.Snapshots)-1], true
}

// Baseline is the index of the LatestSnapshot, or zero if there is none.
func (inv Inventory) Baseline() uint64 {
	if s, ok := inv.LatestSnapshot(); ok {
		return s.Index
	}
	return 0
}

// Closed returns the closed Segments of the Inventory, in order.
func (inv Inventory) Closed() []Segment { return inv.filter(false) }

// OpenSegments returns the open Segments of the Inventory, in order.
func (inv Inventory) OpenSegments() []Segment { return inv.filter(true) }

func (inv Inventory) filter(open bool) []Segment {
	var out []Segment
	for _, s := range inv.Segments {
		if s.Open == open {
			out = append(out, s)
		}
	}
	return out
}

// LastIndex returns the largest index covered by either the latest snapshot
// or a closed segment.
func (inv Inventory) LastIndex() uint64 {
	var last = inv.Baseline()
	for _, s := range inv.Segments {
		if !s.Open && s.End > last {
			last = s.End
		}
	}
	return last
}

// Verify checks, in one pass, that closed segments are contiguous and
// cover the index following the Baseline. The first entry after the
// Baseline is index 1 if there is no snapshot. Closed segments must also
// reach the Baseline itself, unless an open segment continues from the last
// of them. Open segments are otherwise not examined.
func (inv Inventory) Verify() error {
	var baseline = inv.Baseline()
	var prev *Segment
	var openFirst uint64 // Least First of an open segment, or zero.

	for i := range inv.Segments {
		var s = &inv.Segments[i]
		if s.Open {
			if openFirst == 0 || s.First < openFirst {
				openFirst = s.First
			}
			continue
		}

		if prev == nil {
			if s.First > baseline+1 {
				return pkgerrors.WithMessagef(ErrCorrupt,
					"missing entries %d through %d before segment %s", baseline+1, s.First-1, s.Filename)
			}
		} else if s.First <= prev.End {
			return pkgerrors.WithMessagef(ErrCorrupt,
				"segment %s overlaps segment %s", s.Filename, prev.Filename)
		} else if s.First != prev.End+1 {
			return pkgerrors.WithMessagef(ErrCorrupt,
				"missing entries %d through %d between segments %s and %s",
				prev.End+1, s.First-1, prev.Filename, s.Filename)
		}
		prev = s
	}

	if prev != nil && prev.End < baseline && (openFirst == 0 || openFirst > prev.End+1) {
		return pkgerrors.WithMessagef(ErrCorrupt,
			"missing entries %d through %d between segment %s and the snapshot at %d",
			prev.End+1, baseline, prev.Filename, baseline)
	}
	return nil
}
