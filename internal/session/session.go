// Package session is the caller-facing API of one account's capture and
// indexing session.
package session

import (
	"context"
	"crypto/x509"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/chirpkeep/internal/authority"
	"github.com/hpungsan/chirpkeep/internal/buffer"
	"github.com/hpungsan/chirpkeep/internal/certbridge"
	"github.com/hpungsan/chirpkeep/internal/config"
	"github.com/hpungsan/chirpkeep/internal/db"
	"github.com/hpungsan/chirpkeep/internal/decode"
	"github.com/hpungsan/chirpkeep/internal/index"
	"github.com/hpungsan/chirpkeep/internal/metrics"
	"github.com/hpungsan/chirpkeep/internal/proxy"
	"github.com/hpungsan/chirpkeep/internal/tracker"
)

// Directories under the base directory shared by every account.
const (
	CADirName   = "ca"
	CertDirName = "certs"
)

// Options carry the collaborators of a Session. Zero values get defaults.
type Options struct {
	// Host is the browser session routed through the proxy. Defaults to a
	// LogHost that prints the proxy address.
	Host proxy.Host

	Metrics metrics.Recorder

	// HTTPClient downloads avatars and media.
	HTTPClient *http.Client

	// ListenAddr, UpstreamRootCAs and Dial are passed to the proxy.
	ListenAddr      string
	UpstreamRootCAs *x509.CertPool
	Dial            func(ctx context.Context, network, addr string) (net.Conn, error)

	Now func() time.Time
}

// Progress is the state of the current indexing run.
type Progress struct {
	index.Counters

	MoreDataAvailable bool         `json:"more_data_available"`
	RateLimit         tracker.Info `json:"rate_limit"`

	Processed   int `json:"processed"`
	Unprocessed int `json:"unprocessed"`
}

// Session owns one account store, its capture buffer and proxy, and the
// indexing state. Its methods are meant to be driven from one goroutine;
// Progress and IsRateLimited may be read from others.
type Session struct {
	cfg        *config.Config
	logger     zerolog.Logger
	metrics    metrics.Recorder
	now        func() time.Time
	accountKey string

	db        *sql.DB
	authority *authority.Authority
	buffer    *buffer.Buffer
	recorder  *buffer.Recorder
	proxy     *proxy.Proxy
	tracker   *tracker.Tracker
	indexer   *index.Indexer
}

// Open opens (creating and migrating) the account store under baseDir and
// prepares a stopped proxy.
func Open(baseDir, accountKey string, cfg *config.Config, logger zerolog.Logger, opts Options) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger = logger.With().Str("account", accountKey).Logger()

	store, err := db.Open(baseDir, accountKey)
	if err != nil {
		return nil, err
	}
	db.ConfigurePool(store, cfg)

	ca, err := authority.LoadOrCreate(filepath.Join(baseDir, CADirName))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load CA: %w", err)
	}

	dec, err := decode.New()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create decoder: %w", err)
	}

	buf := buffer.New()
	rec := buffer.NewRecorder(buf, dec, logger, opts.Metrics)

	host := opts.Host
	if host == nil {
		host = &proxy.LogHost{Logger: logger, CACertPath: ca.CertPath()}
	}

	p, err := proxy.New(proxy.Options{
		Logger:          logger,
		Authority:       ca,
		Bridge:          certbridge.New(filepath.Join(baseDir, CertDirName)),
		Host:            host,
		Observer:        rec,
		Metrics:         opts.Metrics,
		SettleDelay:     cfg.SettleDelay(),
		ListenAddr:      opts.ListenAddr,
		UpstreamRootCAs: opts.UpstreamRootCAs,
		Dial:            opts.Dial,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	s := &Session{
		cfg:        cfg,
		logger:     logger.With().Str("component", "session").Logger(),
		metrics:    opts.Metrics,
		now:        opts.Now,
		accountKey: accountKey,
		db:         store,
		authority:  ca,
		buffer:     buf,
		recorder:   rec,
		proxy:      p,
		tracker:    tracker.NewWithClock(opts.Now),
		indexer: index.New(index.Options{
			DB:               store,
			OwnerHandle:      cfg.OwnerHandle,
			MediaDir:         db.MediaDir(baseDir, accountKey),
			HTTPClient:       opts.HTTPClient,
			FetchConcurrency: cfg.FetchConcurrency,
			Logger:           logger.With().Str("component", "index").Logger(),
			Metrics:          opts.Metrics,
			Now:              opts.Now,
		}),
	}
	return s, nil
}

// Close stops the proxy if it is running, waits for queued downloads, and
// closes the store.
func (s *Session) Close() error {
	ctx := context.Background()
	var errs []error
	if s.proxy.Running() {
		errs = append(errs, s.proxy.Stop(ctx))
	}
	errs = append(errs, s.indexer.Flush(ctx))
	errs = append(errs, s.db.Close())
	return stderrors.Join(errs...)
}

// AccountKey returns the account this session archives.
func (s *Session) AccountKey() string { return s.accountKey }

// DB returns the account store.
func (s *Session) DB() *sql.DB { return s.db }

// CACertPath is the root certificate the browser must trust.
func (s *Session) CACertPath() string { return s.authority.CertPath() }

// StartCapture starts the proxy with filters, or the configured filters when
// none are given, and returns its address.
func (s *Session) StartCapture(ctx context.Context, filters []string) (string, error) {
	if len(filters) == 0 {
		filters = s.cfg.CaptureFilters
	}
	addr, err := s.proxy.Start(ctx, filters)
	if err != nil {
		return "", err
	}
	s.logger.Info().Str("addr", addr).Strs("filters", filters).Msg("capture started")
	return addr, nil
}

// StopCapture restores direct networking and stops the proxy.
func (s *Session) StopCapture(ctx context.Context) error {
	if err := s.proxy.Stop(ctx); err != nil {
		return err
	}
	s.logger.Info().Msg("capture stopped")
	return nil
}

// Capturing reports whether the proxy is running.
func (s *Session) Capturing() bool { return s.proxy.Running() }

// ProxyAddr returns the proxy address while capturing.
func (s *Session) ProxyAddr() string { return s.proxy.Addr() }

// StartMonitoring clears the buffer and starts recording filtered exchanges.
func (s *Session) StartMonitoring() {
	s.buffer.Reset()
	s.proxy.StartMonitoring()
	s.metrics.SetBuffer(0, 0)
}

// StopMonitoring stops recording; the buffer is kept for indexing.
func (s *Session) StopMonitoring() {
	s.proxy.StopMonitoring()
}

// Monitoring reports whether exchanges are being recorded.
func (s *Session) Monitoring() bool { return s.proxy.Monitoring() }

// ClearProcessedEntries drops processed entries from the buffer and returns
// how many were dropped.
func (s *Session) ClearProcessedEntries() int {
	n := s.buffer.ClearProcessed()
	s.metrics.SetBuffer(s.buffer.Counts())
	return n
}

// LoadRecording appends the entries of a recorded capture file to the
// buffer, unprocessed. Entries already buffered are not loaded twice.
func (s *Session) LoadRecording(path string) (int, error) {
	entries, err := buffer.LoadJSONL(path)
	if err != nil {
		return 0, err
	}
	added := s.buffer.Load(entries)
	s.metrics.SetBuffer(s.buffer.Counts())
	return added, nil
}

// SaveRecording writes the buffer to path so it can be indexed later.
func (s *Session) SaveRecording(path string) error {
	return buffer.SaveJSONL(path, s.buffer.Snapshot())
}

// IsRateLimited returns the rate-limit state, clearing it once the reset
// time has passed.
func (s *Session) IsRateLimited() tracker.Info {
	return s.tracker.RateLimit()
}

// ResetRateLimitInfo forgets a recorded rate limit.
func (s *Session) ResetRateLimitInfo() {
	s.tracker.ResetRateLimit()
}

// ResetProgress starts a new indexing run.
func (s *Session) ResetProgress() {
	s.indexer.ResetCounters()
	s.tracker.StartRun()
}

// Progress returns the state of the current run.
func (s *Session) Progress() Progress {
	processed, unprocessed := s.buffer.Counts()
	return Progress{
		Counters:          s.indexer.Counters(),
		MoreDataAvailable: s.tracker.MoreDataAvailable(),
		RateLimit:         s.tracker.RateLimit(),
		Processed:         processed,
		Unprocessed:       unprocessed,
	}
}

// AppliedMigrations lists the store's migration ledger.
func (s *Session) AppliedMigrations(ctx context.Context) ([]db.AppliedMigration, error) {
	return db.AppliedMigrations(ctx, s.db)
}
