package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/chirpkeep/internal/db"
	"github.com/hpungsan/chirpkeep/internal/errors"
	"github.com/hpungsan/chirpkeep/internal/index"
	"github.com/hpungsan/chirpkeep/internal/session"
	"github.com/hpungsan/chirpkeep/internal/tracker"
)

type fakeSource struct {
	progress      session.Progress
	migrations    []db.AppliedMigration
	migrationsErr error
	resets        int
}

func (f *fakeSource) AccountKey() string { return "acct" }
func (f *fakeSource) Capturing() bool    { return true }
func (f *fakeSource) Monitoring() bool   { return false }
func (f *fakeSource) ProxyAddr() string  { return "127.0.0.1:41234" }

func (f *fakeSource) Progress() session.Progress { return f.progress }

func (f *fakeSource) ResetRateLimitInfo() {
	f.resets++
	f.progress.RateLimit = tracker.Info{}
}

func (f *fakeSource) AppliedMigrations(context.Context) ([]db.AppliedMigration, error) {
	return f.migrations, f.migrationsErr
}

func newTestServer(t *testing.T, src *fakeSource, gatherer prometheus.Gatherer) *httptest.Server {
	t.Helper()
	srv, err := NewServer(src, gatherer, "test", "127.0.0.1:0", zerolog.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func sampleProgress() session.Progress {
	return session.Progress{
		Counters: index.Counters{
			Authored: 1200,
			Reposts:  19,
			Messages: 116,
		},
		MoreDataAvailable: true,
		RateLimit:         tracker.Info{IsRateLimited: true, ResetEpochSeconds: 1700000900},
		Processed:         3,
		Unprocessed:       1,
	}
}

func TestHandleStatus(t *testing.T) {
	ts := newTestServer(t, &fakeSource{progress: sampleProgress()}, nil)

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Contains(t, body, "acct")
	assert.Contains(t, body, "running on 127.0.0.1:41234")
	assert.Contains(t, body, "1,219")
	assert.Contains(t, body, "until 2023-11-14T22:28:20Z")
}

func TestHandleProgress(t *testing.T) {
	ts := newTestServer(t, &fakeSource{progress: sampleProgress()}, nil)

	resp, body := get(t, ts.URL+"/progress")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.EqualValues(t, 1200, got["authored"])
	assert.EqualValues(t, 116, got["messages"])
	assert.Equal(t, true, got["more_data_available"])
	assert.EqualValues(t, 1, got["unprocessed"])
	rl, ok := got["rate_limit"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, rl["is_rate_limited"])
}

func TestHandleMigrations(t *testing.T) {
	src := &fakeSource{migrations: []db.AppliedMigration{{Name: "20240215_initial", AppliedAt: 1700000000}}}
	ts := newTestServer(t, src, nil)

	resp, body := get(t, ts.URL+"/migrations")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "20240215_initial")
}

func TestHandleMigrations_Error(t *testing.T) {
	src := &fakeSource{migrationsErr: errors.NewNotFound("store", "acct")}
	ts := newTestServer(t, src, nil)

	resp, body := get(t, ts.URL+"/migrations")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, `"NOT_FOUND"`)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/migrations", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html")
	htmlResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer htmlResp.Body.Close()
	page, _ := io.ReadAll(htmlResp.Body)
	assert.Equal(t, http.StatusNotFound, htmlResp.StatusCode)
	assert.Contains(t, string(page), "Error 404")
}

func TestHandleRateLimitReset(t *testing.T) {
	src := &fakeSource{progress: sampleProgress()}
	ts := newTestServer(t, src, nil)

	resp, err := http.Post(ts.URL+"/ratelimit/reset", "application/json", strings.NewReader(""))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, src.resets)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"is_rate_limited":false`)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "chirpkeep_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	ts := newTestServer(t, &fakeSource{}, reg)
	resp, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "chirpkeep_test_total 1")
}

func TestMetricsDisabled(t *testing.T) {
	ts := newTestServer(t, &fakeSource{}, nil)
	resp, _ := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStaticFiles(t *testing.T) {
	ts := newTestServer(t, &fakeSource{}, nil)
	resp, body := get(t, ts.URL+"/static/style.css")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "font-family")
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	srv, err := NewServer(&fakeSource{}, nil, "test", "127.0.0.1:0", zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, srv, zerolog.Nop()) }()
	cancel()
	assert.NoError(t, <-done)
}

func TestFormatCount(t *testing.T) {
	tests := map[int]string{0: "0", 999: "999", 1000: "1,000", 1234567: "1,234,567", -4200: "-4,200"}
	for in, want := range tests {
		assert.Equal(t, want, formatCount(in))
	}
}
