package decode

import (
	"bytes"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{"data":{"user":{"result":{"timeline":{"instructions":[]}}}}}`

func encodeGzip(t *testing.T, in []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(in)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func encodeZlib(t *testing.T, in []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(in)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func encodeFlate(t *testing.T, in []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(in)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func encodeBrotli(t *testing.T, in []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write(in)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func encodeZstd(t *testing.T, in []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(in, nil)
}

func TestDecode_RoundTrips(t *testing.T) {
	in := []byte(sample)

	tests := []struct {
		encoding string
		body     []byte
	}{
		{"", in},
		{"identity", in},
		{"gzip", encodeGzip(t, in)},
		{"x-gzip", encodeGzip(t, in)},
		{"GZIP", encodeGzip(t, in)},
		{"deflate", encodeZlib(t, in)},
		{"deflate", encodeFlate(t, in)},
		{"br", encodeBrotli(t, in)},
		{"zstd", encodeZstd(t, in)},
	}

	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			text, ok := Decode(tt.encoding, tt.body)
			assert.True(t, ok)
			assert.Equal(t, sample, text)
		})
	}
}

func TestDecode_StackedEncodings(t *testing.T) {
	// Applied gzip first, then br; decoding undoes br first.
	body := encodeBrotli(t, encodeGzip(t, []byte(sample)))

	text, ok := Decode("gzip, br", body)
	require.True(t, ok)
	require.Equal(t, sample, text)
}

func TestDecode_FallsBackToRaw(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{"corrupt gzip", "gzip", []byte("not gzip at all")},
		{"corrupt zstd", "zstd", []byte{0xff, 0xfe, 0xfd, 0xfc, 0x00, 0x01}},
		{"unknown encoding", "compress", []byte("raw")},
		{"stack with one bad layer", "gzip, br", encodeBrotli(t, []byte("plain"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, ok := Decode(tt.encoding, tt.body)
			assert.False(t, ok)
			assert.Equal(t, string(tt.body), text, "raw body must be kept")
		})
	}
}

func TestDecode_EmptyBody(t *testing.T) {
	text, ok := Decode("", nil)
	assert.True(t, ok)
	assert.Empty(t, text)
}

func TestDecodeBytes_LargeBody(t *testing.T) {
	d, err := New()
	require.NoError(t, err)

	original := bytes.Repeat([]byte("abcdefghij"), 100_000)
	out, err := d.DecodeBytes("gzip", encodeGzip(t, original))
	require.NoError(t, err)
	assert.Equal(t, original, out)
}
