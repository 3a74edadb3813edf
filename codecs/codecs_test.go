package codecs

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestRoundTripOfEachCodec(t *testing.T) {
	var content = strings.Repeat("INSERT INTO foo VALUES (1);", 1000)

	for _, codec := range []Codec{NONE, GZIP, SNAPPY, ZSTANDARD} {
		var buf bytes.Buffer

		var w, err = NewCodecWriter(&buf, codec)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
		require.NoError(t, w.Close())

		if codec != NONE {
			require.Less(t, buf.Len(), len(content), codec.String())
		}

		r, err := NewCodecReader(&buf, codec)
		require.NoError(t, err)
		out, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		require.Equal(t, content, string(out), codec.String())
	}
}

func TestInvalidCodecs(t *testing.T) {
	var _, err = NewCodecWriter(io.Discard, INVALID)
	require.EqualError(t, err, "unsupported codec Codec(0)")
	_, err = NewCodecReader(strings.NewReader(""), Codec(99))
	require.EqualError(t, err, "unsupported codec Codec(99)")

	require.Error(t, INVALID.Validate())
	require.NoError(t, SNAPPY.Validate())
}

func TestParseAndYAML(t *testing.T) {
	var c, err = ParseCodec("zstandard")
	require.NoError(t, err)
	require.Equal(t, ZSTANDARD, c)

	_, err = ParseCodec("lz4")
	require.Error(t, err)

	var doc struct {
		Codec Codec `yaml:"codec"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("codec: GZIP\n"), &doc))
	require.Equal(t, GZIP, doc.Codec)

	b, err := yaml.Marshal(doc)
	require.NoError(t, err)
	require.Equal(t, "codec: GZIP\n", string(b))

	require.Error(t, yaml.Unmarshal([]byte("codec: BOGUS\n"), &doc))
}

func TestFlagMarshaling(t *testing.T) {
	var c Codec
	require.NoError(t, c.UnmarshalFlag("snappy"))
	require.Equal(t, SNAPPY, c)

	var s, err = c.MarshalFlag()
	require.NoError(t, err)
	require.Equal(t, "SNAPPY", s)

	require.Error(t, c.UnmarshalFlag("brotli"))
	require.Equal(t, SNAPPY, c) // Unchanged.
}
