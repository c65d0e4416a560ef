// Package scheduler runs indexing passes on a cron schedule while a capture
// is in progress.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hpungsan/chirpkeep/internal/errors"
	"github.com/hpungsan/chirpkeep/internal/session"
	"github.com/hpungsan/chirpkeep/internal/tracker"
)

// Target is the part of a session the scheduler drives.
type Target interface {
	ClassifyAndIndexNext(ctx context.Context) (session.Progress, error)
	IsRateLimited() tracker.Info
	ClearProcessedEntries() int
}

// PassFunc observes the outcome of every pass that ran.
type PassFunc func(session.Progress, error)

// cronParser accepts standard 5-field expressions, 6-field expressions with
// seconds, and descriptors such as "@every 2s".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler fires index passes. Passes never overlap: a tick arriving while
// one is running is skipped. A pass that hits a response it cannot parse
// halts the scheduler; later ticks do nothing.
type Scheduler struct {
	target Target
	onPass PassFunc
	logger zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	halted  chan struct{}
	haltErr error
}

// New creates a stopped scheduler. onPass may be nil.
func New(target Target, onPass PassFunc, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		target: target,
		onPass: onPass,
		logger: logger.With().Str("component", "scheduler").Logger(),
		halted: make(chan struct{}),
	}
}

// Halted is closed once a pass returned SHAPE_MISMATCH.
func (s *Scheduler) Halted() <-chan struct{} { return s.halted }

// Err returns the error that halted the scheduler, or nil.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.haltErr
}

// halt records err and stops further ticks without waiting for the calling
// pass, which may be a cron job itself.
func (s *Scheduler) halt(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haltErr != nil {
		return
	}
	s.haltErr = err
	close(s.halted)
	if s.cron != nil {
		s.cron.Stop()
	}
	s.logger.Error().Err(err).Msg("index job halted")
}

// ValidateSchedule reports whether spec parses.
func ValidateSchedule(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid index schedule %q: %w", spec, err)
	}
	return nil
}

// Start registers the pass on schedule and starts the ticker. Passes run
// with a context derived from ctx and canceled by Stop.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	passCtx, cancel := context.WithCancel(ctx)

	if _, err := c.AddFunc(schedule, func() { s.RunOnce(passCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid index schedule %q: %w", schedule, err)
	}

	s.cron, s.cancel = c, cancel
	c.Start()
	s.logger.Info().Str("schedule", schedule).Msg("scheduled index passes")
	return nil
}

// Stop cancels a running pass and waits for it to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
}

// RunOnce runs one pass unless the target is rate limited or the scheduler
// has halted. It reports whether a pass ran.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if s.Err() != nil {
		return false
	}
	if info := s.target.IsRateLimited(); info.IsRateLimited {
		s.logger.Debug().Int64("reset_epoch", info.ResetEpochSeconds).Msg("rate limited; skipping pass")
		return false
	}

	progress, err := s.target.ClassifyAndIndexNext(ctx)
	switch {
	case errors.Is(err, errors.ErrShapeMismatch):
		s.halt(err)
	case err != nil:
		s.logger.Error().Err(err).Msg("index pass failed")
	default:
		s.target.ClearProcessedEntries()
		s.logger.Debug().
			Int("posts", progress.Posts()).
			Int("messages", progress.Messages).
			Bool("more_data", progress.MoreDataAvailable).
			Msg("index pass done")
	}
	if s.onPass != nil {
		s.onPass(progress, err)
	}
	return true
}
