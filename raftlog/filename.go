package raftlog

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// FilenameMaxLen is the exclusive upper bound on the length of a file
	// name which may hold log or snapshot content. Longer names are ignored.
	FilenameMaxLen = 128
	// MetadataFilename1 and MetadataFilename2 hold the alternating hard state
	// of the node, and are never part of an Inventory.
	MetadataFilename1 = "metadata1"
	MetadataFilename2 = "metadata2"

	snapshotPrefix     = "snapshot-"
	snapshotMetaSuffix = ".meta"
	openSegmentPrefix  = "open-"
)

var ignoredFilenames = []string{".", "..", MetadataFilename1, MetadataFilename2}

// Kind is the classification of a data directory file name.
type Kind int

const (
	// KindIgnore names are skipped by the scanner.
	KindIgnore Kind = iota
	// KindSnapshot names look like snapshot metadata files.
	KindSnapshot
	// KindSegment names look like open or closed log segments.
	KindSegment
)

func (k Kind) String() string {
	switch k {
	case KindIgnore:
		return "ignore"
	case KindSnapshot:
		return "snapshot"
	case KindSegment:
		return "segment"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Candidate is the result of classifying a file name.
type Candidate struct {
	Kind Kind
	Name string
}

// Classify maps a directory entry name to its Candidate Kind. It does no
// I/O, and malformed names are classified KindIgnore.
func Classify(name string) Candidate {
	var c = Candidate{Name: name}

	switch {
	case ShouldIgnore(name):
		c.Kind = KindIgnore
	case strings.HasPrefix(name, snapshotPrefix) && strings.HasSuffix(name, snapshotMetaSuffix):
		c.Kind = KindSnapshot
	case strings.HasPrefix(name, openSegmentPrefix):
		c.Kind = KindSegment
	case name[0] >= '0' && name[0] <= '9':
		c.Kind = KindSegment
	default:
		c.Kind = KindIgnore
	}
	return c
}

// ShouldIgnore returns whether |name| is reserved, hidden, or too long to
// be a log or snapshot file.
func ShouldIgnore(name string) bool {
	if len(name) == 0 || len(name) >= FilenameMaxLen || name[0] == '.' {
		return true
	}
	for _, n := range ignoredFilenames {
		if n == name {
			return true
		}
	}
	return false
}

// SnapshotKey uniquely identifies a snapshot taken by a node.
type SnapshotKey struct {
	Term      uint64
	Index     uint64
	Timestamp uint64
}

// Less orders SnapshotKeys by term, index, and then timestamp.
func (k SnapshotKey) Less(o SnapshotKey) bool {
	if k.Term != o.Term {
		return k.Term < o.Term
	} else if k.Index != o.Index {
		return k.Index < o.Index
	}
	return k.Timestamp < o.Timestamp
}

func (k SnapshotKey) String() string {
	return fmt.Sprintf("%s%d-%d-%d", snapshotPrefix, k.Term, k.Index, k.Timestamp)
}

// MetaName returns the metadata file name of the snapshot.
func (k SnapshotKey) MetaName() string { return k.String() + snapshotMetaSuffix }

// DataName returns the file name of unsplit snapshot data.
func (k SnapshotKey) DataName() string { return k.String() }

// PartName returns the file name of the |i|'th part of split snapshot data.
func (k SnapshotKey) PartName(i int) string { return fmt.Sprintf("%s.%d", k.String(), i) }

// ParseSnapshotMetaName parses a snapshot metadata file name.
func ParseSnapshotMetaName(name string) (SnapshotKey, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotMetaSuffix) {
		return SnapshotKey{}, false
	}
	var body = name[len(snapshotPrefix) : len(name)-len(snapshotMetaSuffix)]

	var fields = strings.Split(body, "-")
	if len(fields) != 3 {
		return SnapshotKey{}, false
	}
	var out [3]uint64
	for i, f := range fields {
		var ok bool
		if out[i], ok = parseDecimal(f); !ok {
			return SnapshotKey{}, false
		}
	}
	return SnapshotKey{Term: out[0], Index: out[1], Timestamp: out[2]}, true
}

// ClosedSegmentName returns the file name of a closed segment holding
// entries [first, end].
func ClosedSegmentName(first, end uint64) string {
	return fmt.Sprintf("%016d-%016d", first, end)
}

// OpenSegmentName returns the file name of an open segment whose first
// entry has index |first|.
func OpenSegmentName(first uint64) string {
	return fmt.Sprintf("%s%d", openSegmentPrefix, first)
}

// ParseSegmentName parses an open or closed segment file name. The returned
// Segment has a zero Size.
func ParseSegmentName(name string) (Segment, bool) {
	if strings.HasPrefix(name, openSegmentPrefix) {
		var first, ok = parseDecimal(name[len(openSegmentPrefix):])
		if !ok || first == 0 {
			return Segment{}, false
		}
		return Segment{Filename: name, Open: true, First: first}, true
	}

	var left, right, ok = strings.Cut(name, "-")
	if !ok {
		return Segment{}, false
	}
	first, ok := parseDecimal(left)
	if !ok {
		return Segment{}, false
	}
	end, ok := parseDecimal(right)
	if !ok {
		return Segment{}, false
	}
	if first == 0 || end < first {
		return Segment{}, false
	}
	return Segment{Filename: name, First: first, End: end}, true
}

// parseDecimal parses a non-empty run of ASCII digits. Signs, spaces and
// other characters accepted by strconv are rejected.
func parseDecimal(s string) (uint64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	for i := 0; i != len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	var n, err = strconv.ParseUint(s, 10, 64)
	return n, err == nil
}
