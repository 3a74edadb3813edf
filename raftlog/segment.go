package raftlog

import (
	"os"
	"sort"
)

// Segment describes a log segment file. Closed segments hold exactly the
// entries [First, End]. Open segments are being (or were being) appended to,
// and hold entries beginning at First; their End is zero.
type Segment struct {
	Filename string
	Open     bool
	First    uint64
	End      uint64
	// Size of the file, in bytes, as of the directory listing.
	Size int64
}

// Len returns the number of entries of a closed Segment.
func (s Segment) Len() uint64 {
	if s.Open {
		return 0
	}
	return s.End - s.First + 1
}

// appendSegmentIfMatch appends a Segment to |segments| if |info| names an
// open or closed segment. A file's presence in the listing is sufficient:
// its content is not examined.
func appendSegmentIfMatch(info os.FileInfo, segments *[]Segment) bool {
	var seg, ok = ParseSegmentName(info.Name())
	if !ok {
		return false
	}
	seg.Size = info.Size()
	*segments = append(*segments, seg)
	return true
}

// SortSegments orders Segments on ascending First index. Closed segments
// order before open segments of the same First, and ties are broken by
// file name.
func SortSegments(s []Segment) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].First != s[j].First {
			return s[i].First < s[j].First
		} else if s[i].Open != s[j].Open {
			return !s[i].Open
		}
		return s[i].Filename < s[j].Filename
	})
}
