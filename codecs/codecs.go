// Package codecs maps snapshot compression Codecs to stream readers and writers.
package codecs

import (
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
)

// Codec identifies the compression applied to snapshot data. Codec values
// are persisted within snapshot metadata and must not be renumbered.
type Codec uint64

const (
	// INVALID is the zero-valued Codec, and is never valid.
	INVALID Codec = 0
	// NONE stores content uncompressed.
	NONE Codec = 1
	// GZIP compresses content with gzip.
	GZIP Codec = 2
	// SNAPPY compresses content with the snappy framing format.
	SNAPPY Codec = 3
	// ZSTANDARD compresses content with zstandard.
	ZSTANDARD Codec = 4
)

var codecNames = map[Codec]string{
	NONE:      "NONE",
	GZIP:      "GZIP",
	SNAPPY:    "SNAPPY",
	ZSTANDARD: "ZSTANDARD",
}

func (c Codec) String() string {
	if n, ok := codecNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Codec(%d)", uint64(c))
}

// Validate returns an error if the Codec is not a known, valid value.
func (c Codec) Validate() error {
	if _, ok := codecNames[c]; !ok {
		return fmt.Errorf("invalid codec (%d)", uint64(c))
	}
	return nil
}

// ParseCodec parses a case-insensitive Codec name.
func ParseCodec(s string) (Codec, error) {
	for c, n := range codecNames {
		if strings.EqualFold(n, s) {
			return c, nil
		}
	}
	return INVALID, fmt.Errorf("%q is not a valid codec (options are NONE, GZIP, SNAPPY, ZSTANDARD)", s)
}

// MarshalYAML encodes the Codec by name.
func (c Codec) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

// UnmarshalYAML decodes a Codec name.
func (c *Codec) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var str string

	if err := unmarshal(&str); err != nil {
		return err
	}
	var parsed, err = ParseCodec(str)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalFlag encodes the Codec by name for go-flags.
func (c Codec) MarshalFlag() (string, error) { return c.String(), nil }

// UnmarshalFlag decodes a Codec name for go-flags.
func (c *Codec) UnmarshalFlag(s string) error {
	var parsed, err = ParseCodec(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Decompressor is a ReadCloser where Close closes and releases Decompressor
// state, but does not Close or affect the underlying Reader.
type Decompressor io.ReadCloser

// Compressor is a WriteCloser where Close closes and releases Compressor
// state, potentially flushing final content to the underlying Writer,
// but does not Close or otherwise affect the underlying Writer.
type Compressor io.WriteCloser

// NewCodecReader returns a Decompressor of the Reader encoded with Codec.
func NewCodecReader(r io.Reader, codec Codec) (Decompressor, error) {
	switch codec {
	case NONE:
		return io.NopCloser(r), nil
	case GZIP:
		return gzip.NewReader(r)
	case SNAPPY:
		return io.NopCloser(snappy.NewReader(r)), nil
	case ZSTANDARD:
		return zstdNewReader(r)
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec)
	}
}

// NewCodecWriter returns a Compressor wrapping the Writer encoding with Codec.
func NewCodecWriter(w io.Writer, codec Codec) (Compressor, error) {
	switch codec {
	case NONE:
		return nopWriteCloser{w}, nil
	case GZIP:
		return gzip.NewWriter(w), nil
	case SNAPPY:
		return snappy.NewBufferedWriter(w), nil
	case ZSTANDARD:
		return zstdNewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

var (
	zstdNewReader = func(io.Reader) (io.ReadCloser, error) {
		return nil, fmt.Errorf("ZSTANDARD was not enabled at compile time")
	}
	zstdNewWriter = func(io.Writer) (io.WriteCloser, error) {
		return nil, fmt.Errorf("ZSTANDARD was not enabled at compile time")
	}
)
