// Package metrics exposes capture and indexing counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives capture and indexing events.
type Recorder interface {
	IncCaptured(host string, status int)
	IncDecodeFallback(encoding string)
	IncDegraded(stage string)
	AddIndexed(kind string, n int)
	IncRateLimited()
	SetBuffer(processed, unprocessed int)
}

// Metrics is the Prometheus-backed Recorder.
type Metrics struct {
	registry *prometheus.Registry

	captured       *prometheus.CounterVec
	decodeFallback *prometheus.CounterVec
	degraded       *prometheus.CounterVec
	indexed        *prometheus.CounterVec
	rateLimited    prometheus.Counter
	buffer         *prometheus.GaugeVec
}

// New returns a Recorder. When disabled it returns a no-op and a nil
// registry.
func New(enabled bool) (Recorder, *prometheus.Registry) {
	if !enabled {
		return Noop{}, nil
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		captured: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chirpkeep_captured_responses_total",
			Help: "Responses captured by the proxy",
		}, []string{"host", "status"}),

		decodeFallback: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chirpkeep_decode_fallbacks_total",
			Help: "Captured bodies kept raw because decoding failed",
		}, []string{"encoding"}),

		degraded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chirpkeep_degraded_connections_total",
			Help: "Proxy connections answered with 502 or dropped",
		}, []string{"stage"}),

		indexed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chirpkeep_indexed_total",
			Help: "Entities written by the indexer",
		}, []string{"kind"}),

		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "chirpkeep_rate_limited_total",
			Help: "429 responses seen while indexing",
		}),

		buffer: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chirpkeep_buffer_entries",
			Help: "Captured responses held in memory",
		}, []string{"state"}),
	}
	return m, reg
}

func (m *Metrics) IncCaptured(host string, status int) {
	m.captured.WithLabelValues(host, statusBucket(status)).Inc()
}

func (m *Metrics) IncDecodeFallback(encoding string) {
	m.decodeFallback.WithLabelValues(encoding).Inc()
}

func (m *Metrics) IncDegraded(stage string) {
	m.degraded.WithLabelValues(stage).Inc()
}

func (m *Metrics) AddIndexed(kind string, n int) {
	if n <= 0 {
		return
	}
	m.indexed.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) IncRateLimited() {
	m.rateLimited.Inc()
}

func (m *Metrics) SetBuffer(processed, unprocessed int) {
	m.buffer.WithLabelValues("processed").Set(float64(processed))
	m.buffer.WithLabelValues("unprocessed").Set(float64(unprocessed))
}

func statusBucket(code int) string {
	switch {
	case code == 429:
		return "429"
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// Noop is a Recorder that discards everything.
type Noop struct{}

func (Noop) IncCaptured(string, int)  {}
func (Noop) IncDecodeFallback(string) {}
func (Noop) IncDegraded(string)       {}
func (Noop) AddIndexed(string, int)   {}
func (Noop) IncRateLimited()          {}
func (Noop) SetBuffer(int, int)       {}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
