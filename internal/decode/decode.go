// Package decode turns a captured response body back into text according to
// its Content-Encoding header.
package decode

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// MaxDecodedSize caps a single decoded body.
const MaxDecodedSize = 64 << 20

// Decoder decodes content-encoded bodies. It is safe for concurrent use.
type Decoder struct {
	zstd *zstd.Decoder
}

// New creates a Decoder.
func New() (*Decoder, error) {
	zd, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(MaxDecodedSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Decoder{zstd: zd}, nil
}

var defaultDecoder = sync.OnceValues(New)

// Decode decodes body with the package default Decoder.
func Decode(encoding string, body []byte) (string, bool) {
	d, err := defaultDecoder()
	if err != nil {
		return string(body), false
	}
	return d.Decode(encoding, body)
}

// Decode returns the decoded text of body. Stacked encodings ("gzip, br") are
// undone right to left. On any failure it returns the raw bytes as text and
// ok=false; a body is never dropped.
func (d *Decoder) Decode(encoding string, body []byte) (text string, ok bool) {
	out, err := d.DecodeBytes(encoding, body)
	if err != nil {
		return string(body), false
	}
	return string(out), true
}

// DecodeBytes is Decode returning the error instead of falling back.
func (d *Decoder) DecodeBytes(encoding string, body []byte) ([]byte, error) {
	codings := splitEncodings(encoding)
	out := body
	for i := len(codings) - 1; i >= 0; i-- {
		var err error
		out, err = d.decodeOne(codings[i], out)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", codings[i], err)
		}
	}
	return out, nil
}

func (d *Decoder) decodeOne(coding string, body []byte) ([]byte, error) {
	switch coding {
	case "identity":
		return body, nil
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return readAllLimited(r)
	case "deflate":
		return inflate(body)
	case "br":
		return readAllLimited(brotli.NewReader(bytes.NewReader(body)))
	case "zstd":
		return d.zstd.DecodeAll(body, nil)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", coding)
	}
}

// inflate handles both framings servers send as "deflate": zlib-wrapped and
// raw DEFLATE.
func inflate(body []byte) ([]byte, error) {
	if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
		out, err := readAllLimited(zr)
		zr.Close()
		if err == nil {
			return out, nil
		}
	}

	fr := flate.NewReader(bytes.NewReader(body))
	defer fr.Close()
	return readAllLimited(fr)
}

func readAllLimited(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, MaxDecodedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxDecodedSize {
		return nil, fmt.Errorf("decoded body exceeds %d bytes", MaxDecodedSize)
	}
	return out, nil
}

func splitEncodings(header string) []string {
	var out []string
	for _, part := range strings.Split(header, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
