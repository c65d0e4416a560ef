package buffer

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/chirpkeep/internal/decode"
	"github.com/hpungsan/chirpkeep/internal/proxy"
)

func TestBuffer_ProcessedLifecycle(t *testing.T) {
	b := New()
	b.Append(Entry{ID: "a"})
	b.Append(Entry{ID: "b"})
	b.Append(Entry{ID: "c"})

	require.True(t, b.MarkProcessed("b"))
	require.False(t, b.MarkProcessed("missing"))
	require.True(t, b.IsProcessed("b"))
	require.False(t, b.IsProcessed("a"))

	processed, unprocessed := b.Counts()
	assert.Equal(t, 1, processed)
	assert.Equal(t, 2, unprocessed)

	ids := func(entries []Entry) []string {
		var out []string
		for _, e := range entries {
			out = append(out, e.ID)
		}
		return out
	}
	assert.Equal(t, []string{"a", "c"}, ids(b.Unprocessed()))

	assert.Equal(t, 1, b.ClearProcessed())
	assert.Equal(t, []string{"a", "c"}, ids(b.Snapshot()))

	b.Reset()
	assert.Zero(t, b.Len())
}

func TestBuffer_SnapshotIsACopy(t *testing.T) {
	b := New()
	b.Append(Entry{ID: "a"})

	snap := b.Snapshot()
	snap[0].Processed = true

	assert.False(t, b.IsProcessed("a"))
}

func TestBuffer_ConcurrentAppend(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Append(Entry{ID: fmt.Sprintf("e%d", i)})
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, b.Len())
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestRecorder_AssemblesAndDecodes(t *testing.T) {
	dec, err := decode.New()
	require.NoError(t, err)
	b := New()
	r := NewRecorder(b, dec, zerolog.Nop(), nil)

	body := gzipped(t, `{"data":{}}`)
	r.ConnectionOpened(proxy.ConnInfo{ID: "01", Host: "x.com", URL: "https://x.com/i/api/graphql/q/Likes", RequestBody: []byte("req")})
	r.ResponseChunk("01", body[:5])
	r.ResponseChunk("01", body[5:])
	r.ResponseChunk("unknown", []byte("ignored"))

	header := http.Header{}
	header.Set("Content-Encoding", "gzip")
	header.Set("x-rate-limit-reset", "1700000000")
	completed := time.UnixMilli(1700000000123)
	r.ResponseComplete(proxy.Exchange{ID: "01", Host: "x.com", URL: "https://x.com/i/api/graphql/q/Likes", Status: 200, Header: header, CompletedAt: completed})

	require.Zero(t, r.Pending())
	entries := b.Snapshot()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, `{"data":{}}`, e.ResponseBody)
	assert.Equal(t, "req", e.RequestBody)
	assert.Equal(t, 200, e.Status)
	assert.Equal(t, "1700000000", e.ResponseHeaders.Get("x-rate-limit-reset"))
	assert.Equal(t, int64(1700000000123), e.CapturedAt)
	assert.False(t, e.Processed)
}

func TestRecorder_KeepsRawOnDecodeFailure(t *testing.T) {
	dec, err := decode.New()
	require.NoError(t, err)
	b := New()
	r := NewRecorder(b, dec, zerolog.Nop(), nil)

	r.ConnectionOpened(proxy.ConnInfo{ID: "01"})
	r.ResponseChunk("01", []byte("plain text"))
	header := http.Header{"Content-Encoding": []string{"gzip"}}
	r.ResponseComplete(proxy.Exchange{ID: "01", Status: 200, Header: header})

	entries := b.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "plain text", entries[0].ResponseBody)
}

func TestRecorder_UnknownCompletionIgnored(t *testing.T) {
	dec, err := decode.New()
	require.NoError(t, err)
	b := New()
	r := NewRecorder(b, dec, zerolog.Nop(), nil)

	r.ResponseComplete(proxy.Exchange{ID: "nope"})
	assert.Zero(t, b.Len())
}

func TestJSONL_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec", "capture.jsonl")
	entries := []Entry{
		{ID: "1", Host: "x.com", URL: "https://x.com/a", Status: 200, ResponseBody: `{"a":1}`, Processed: true, CapturedAt: 5},
		{ID: "2", Host: "x.com", URL: "https://x.com/b", Status: 429, ResponseHeaders: http.Header{"X-Rate-Limit-Reset": {"99"}}},
	}

	require.NoError(t, SaveJSONL(path, entries))

	loaded, err := LoadJSONL(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.False(t, loaded[0].Processed, "replayed entries start unprocessed")
	assert.Equal(t, `{"a":1}`, loaded[0].ResponseBody)
	assert.Equal(t, "99", loaded[1].ResponseHeaders.Get("x-rate-limit-reset"))

	b := New()
	b.Load(loaded)
	assert.Equal(t, 2, b.Len())
}

func TestLoadJSONL_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadJSONL(filepath.Join(dir, "missing.jsonl"))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, writeFile(bad, "{\"_chirpkeep_capture\":true}\nnot json\n"))
	_, err = LoadJSONL(bad)
	require.ErrorContains(t, err, "line 2")

	noID := filepath.Join(dir, "noid.jsonl")
	require.NoError(t, writeFile(noID, "{\"url\":\"x\"}\n"))
	_, err = LoadJSONL(noID)
	require.ErrorContains(t, err, "missing id")
}

func TestLoadJSONL_DuplicateIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concat.jsonl")
	first := "{\"id\":\"dup\",\"url\":\"https://x.com/a\",\"response_body\":\"one\"}\n"
	second := "{\"id\":\"dup\",\"url\":\"https://x.com/a\",\"response_body\":\"two\"}\n"
	require.NoError(t, writeFile(path, first+second))

	loaded, err := LoadJSONL(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "one", loaded[0].ResponseBody, "the first entry wins")
}

func TestBuffer_LoadSkipsBufferedIDs(t *testing.T) {
	b := New()
	b.Append(Entry{ID: "a"})

	added := b.Load([]Entry{{ID: "a"}, {ID: "b"}, {ID: "b"}})
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, b.Len())

	require.True(t, b.MarkProcessed("b"))
	_, unprocessed := b.Counts()
	assert.Equal(t, 1, unprocessed)
}

func TestBuffer_MarkProcessedCoversRepeatedIDs(t *testing.T) {
	b := New()
	b.Append(Entry{ID: "dup"})
	b.Append(Entry{ID: "dup"})

	require.True(t, b.MarkProcessed("dup"))
	assert.Empty(t, b.Unprocessed())
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
