package raftlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// EntryType is the type of a log Entry.
type EntryType uint32

const (
	// EntryCommand entries carry a state machine command.
	EntryCommand EntryType = 1
	// EntryBarrier entries carry no data, and are written on leadership change.
	EntryBarrier EntryType = 2
)

// Entry is a single entry of the replicated log.
type Entry struct {
	Term  uint64
	Index uint64
	Type  EntryType
	Data  []byte
}

const (
	segmentFormat = 1
	// segmentHeaderSize is the size of the format header of a segment file.
	segmentHeaderSize = 8
	// recordHeaderSize is the size of a record header, which is:
	//  checksum (8) | term (8) | index (8) | data length (4) | type (4).
	// The checksum covers the remainder of the header and the data.
	recordHeaderSize = 32
	// maxEntrySize bounds the data length of a decoded record.
	maxEntrySize = 1 << 26
)

var (
	errTruncatedRecord = errors.New("truncated record")
	errRecordChecksum  = errors.New("record checksum mismatch")
)

// encodedLen returns the on-disk size of the record of Entry |e|.
func encodedLen(e Entry) int64 {
	return recordHeaderSize + int64(padded(len(e.Data)))
}

func padded(n int) int { return (n + 7) &^ 7 }

// appendRecord appends the encoding of Entry |e| to |b|.
func appendRecord(b []byte, e Entry) []byte {
	var start = len(b)
	var total = recordHeaderSize + padded(len(e.Data))

	for i := 0; i != total; i++ {
		b = append(b, 0)
	}
	var r = b[start:]

	binary.LittleEndian.PutUint64(r[8:16], e.Term)
	binary.LittleEndian.PutUint64(r[16:24], e.Index)
	binary.LittleEndian.PutUint32(r[24:28], uint32(len(e.Data)))
	binary.LittleEndian.PutUint32(r[28:32], uint32(e.Type))
	copy(r[recordHeaderSize:], e.Data)

	binary.LittleEndian.PutUint64(r[0:8], recordChecksum(r[8:recordHeaderSize], e.Data))
	return b
}

func recordChecksum(header, data []byte) uint64 {
	var d = xxhash.New()
	_, _ = d.Write(header)
	_, _ = d.Write(data)
	return d.Sum64()
}

// DecodeSegment decodes the entries of a segment file from |r|. It returns
// the longest valid prefix of entries, the number of bytes that prefix
// (and the segment header) occupies, and the error which ended decoding,
// which is nil if |r| ended cleanly on a record boundary. An empty file
// decodes as zero entries without error.
func DecodeSegment(r io.Reader) ([]Entry, int64, error) {
	var br = bufio.NewReader(r)
	var hdr [segmentHeaderSize]byte

	if n, err := io.ReadFull(br, hdr[:]); err == io.EOF {
		return nil, 0, nil
	} else if err == io.ErrUnexpectedEOF {
		return nil, 0, fmt.Errorf("segment header: %w (%d bytes)", errTruncatedRecord, n)
	} else if err != nil {
		return nil, 0, err
	} else if f := binary.LittleEndian.Uint64(hdr[:]); f != segmentFormat {
		return nil, 0, fmt.Errorf("unknown segment format %d", f)
	}

	var entries []Entry
	var valid int64 = segmentHeaderSize

	for {
		var e, n, err = decodeRecord(br)
		if err == io.EOF {
			return entries, valid, nil
		} else if err != nil {
			return entries, valid, fmt.Errorf("record at offset %d: %w", valid, err)
		}
		entries = append(entries, e)
		valid += n
	}
}

func decodeRecord(br *bufio.Reader) (Entry, int64, error) {
	var hdr [recordHeaderSize]byte

	if _, err := io.ReadFull(br, hdr[:]); err == io.ErrUnexpectedEOF {
		return Entry{}, 0, errTruncatedRecord
	} else if err != nil {
		return Entry{}, 0, err // Including a clean io.EOF.
	}

	var length = binary.LittleEndian.Uint32(hdr[24:28])
	if length > maxEntrySize {
		return Entry{}, 0, fmt.Errorf("invalid data length %d", length)
	}
	var body = make([]byte, padded(int(length)))

	if _, err := io.ReadFull(br, body); err == io.EOF || err == io.ErrUnexpectedEOF {
		return Entry{}, 0, errTruncatedRecord
	} else if err != nil {
		return Entry{}, 0, err
	}
	var data = body[:length]
	if length == 0 {
		data = nil
	}

	if sum := binary.LittleEndian.Uint64(hdr[0:8]); sum != recordChecksum(hdr[8:], data) {
		return Entry{}, 0, errRecordChecksum
	}
	return Entry{
		Term:  binary.LittleEndian.Uint64(hdr[8:16]),
		Index: binary.LittleEndian.Uint64(hdr[16:24]),
		Type:  EntryType(binary.LittleEndian.Uint32(hdr[28:32])),
		Data:  data,
	}, recordHeaderSize + int64(len(body)), nil
}
