package buffer

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hpungsan/chirpkeep/internal/decode"
	"github.com/hpungsan/chirpkeep/internal/metrics"
	"github.com/hpungsan/chirpkeep/internal/proxy"
)

// Recorder turns proxy events into buffer entries.
type Recorder struct {
	buf     *Buffer
	dec     *decode.Decoder
	logger  zerolog.Logger
	metrics metrics.Recorder

	mu      sync.Mutex
	pending map[string]*pendingExchange
}

type pendingExchange struct {
	info proxy.ConnInfo
	body bytes.Buffer
}

var _ proxy.Observer = (*Recorder)(nil)

// NewRecorder returns a Recorder appending to buf.
func NewRecorder(buf *Buffer, dec *decode.Decoder, logger zerolog.Logger, m metrics.Recorder) *Recorder {
	if m == nil {
		m = metrics.Noop{}
	}
	return &Recorder{
		buf:     buf,
		dec:     dec,
		logger:  logger.With().Str("component", "recorder").Logger(),
		metrics: m,
		pending: make(map[string]*pendingExchange),
	}
}

func (r *Recorder) ConnectionOpened(info proxy.ConnInfo) {
	r.mu.Lock()
	r.pending[info.ID] = &pendingExchange{info: info}
	r.mu.Unlock()
}

func (r *Recorder) ResponseChunk(id string, chunk []byte) {
	r.mu.Lock()
	p, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	// Chunks of one exchange arrive on a single goroutine.
	p.body.Write(chunk)
}

// ResponseComplete decodes the accumulated body and appends the entry. It
// runs on the connection's goroutine, so decoding never blocks other
// connections.
func (r *Recorder) ResponseComplete(ex proxy.Exchange) {
	r.mu.Lock()
	p, ok := r.pending[ex.ID]
	delete(r.pending, ex.ID)
	r.mu.Unlock()
	if !ok {
		r.logger.Warn().Str("id", ex.ID).Msg("completion for unknown exchange")
		return
	}

	encoding := ex.Header.Get("Content-Encoding")
	text, decoded := r.dec.Decode(encoding, p.body.Bytes())
	if !decoded {
		r.metrics.IncDecodeFallback(encoding)
		r.logger.Warn().
			Str("id", ex.ID).
			Str("url", ex.URL).
			Str("encoding", encoding).
			Msg("could not decode response body, keeping raw bytes")
	}

	r.buf.Append(Entry{
		ID:              ex.ID,
		Host:            ex.Host,
		URL:             ex.URL,
		Status:          ex.Status,
		ResponseHeaders: ex.Header.Clone(),
		RequestBody:     string(p.info.RequestBody),
		ResponseBody:    text,
		CapturedAt:      ex.CompletedAt.UnixMilli(),
	})
	r.metrics.IncCaptured(ex.Host, ex.Status)
	r.logger.Debug().Str("id", ex.ID).Str("url", ex.URL).Int("status", ex.Status).Msg("captured response")
}

// Pending returns the number of exchanges still waiting for completion.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
