// Package tracker keeps the pagination and rate-limit state of an indexing
// run.
package tracker

import (
	"sync"
	"time"
)

// Info is the rate-limit state reported to callers.
type Info struct {
	IsRateLimited     bool  `json:"is_rate_limited"`
	ResetEpochSeconds int64 `json:"reset_epoch_seconds"`
}

// Tracker records whether more pages are expected and whether the platform
// asked us to back off. It is safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	moreData bool
	limited  bool
	resetAt  int64
	now      func() time.Time
}

// New returns a tracker at the start of a run.
func New() *Tracker {
	return NewWithClock(time.Now)
}

// NewWithClock is New with an injectable clock.
func NewWithClock(now func() time.Time) *Tracker {
	return &Tracker{moreData: true, now: now}
}

// StartRun marks the beginning of a new run: more data is expected again.
func (t *Tracker) StartRun() {
	t.mu.Lock()
	t.moreData = true
	t.mu.Unlock()
}

// MoreDataAvailable reports whether the current run may still see new pages.
func (t *Tracker) MoreDataAvailable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moreData
}

// ClearMoreData records that the platform signalled the end of the data.
func (t *Tracker) ClearMoreData() {
	t.mu.Lock()
	t.moreData = false
	t.mu.Unlock()
}

// SetRateLimited records a rate limit lasting until resetEpoch (Unix seconds).
func (t *Tracker) SetRateLimited(resetEpoch int64) {
	t.mu.Lock()
	t.limited = true
	t.resetAt = resetEpoch
	t.mu.Unlock()
}

// RateLimit reports the current rate-limit state. A limit whose reset time
// has passed is cleared.
func (t *Tracker) RateLimit() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.limited && t.now().Unix() >= t.resetAt {
		t.limited = false
		t.resetAt = 0
	}
	return Info{IsRateLimited: t.limited, ResetEpochSeconds: t.resetAt}
}

// ResetRateLimit clears the rate-limit state.
func (t *Tracker) ResetRateLimit() {
	t.mu.Lock()
	t.limited = false
	t.resetAt = 0
	t.mu.Unlock()
}
