package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// maxFetchSize caps a single avatar or media download.
const maxFetchSize = 256 << 20

// ApplyFunc stores a fetched body. It runs on the goroutine calling Flush.
type ApplyFunc func(ctx context.Context, body []byte, contentType string) error

type fetchTask struct {
	kind  string
	key   string
	url   string
	apply ApplyFunc
}

type fetchResult struct {
	task        fetchTask
	body        []byte
	contentType string
	err         error
}

// FetchQueue downloads avatars and media with bounded concurrency. Downloads
// run in the background; Flush waits for them and applies their results on
// the caller's goroutine, so the store keeps a single writer.
type FetchQueue struct {
	client    *http.Client
	semaphore *semaphore.Weighted
	logger    zerolog.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	results []fetchResult
	pending int
}

// NewFetchQueue creates a queue running at most limit downloads at once.
func NewFetchQueue(client *http.Client, limit int, logger zerolog.Logger) *FetchQueue {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if limit < 1 {
		limit = 1
	}
	return &FetchQueue{
		client:    client,
		semaphore: semaphore.NewWeighted(int64(limit)),
		logger:    logger,
	}
}

// Enqueue schedules a download of url. kind and key identify the task in
// logs ("avatar"/"media" and a row ID).
func (q *FetchQueue) Enqueue(ctx context.Context, kind, key, url string, apply ApplyFunc) {
	task := fetchTask{kind: kind, key: key, url: url, apply: apply}

	q.mu.Lock()
	q.pending++
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		res := fetchResult{task: task}
		if err := q.semaphore.Acquire(ctx, 1); err != nil {
			res.err = err
		} else {
			res.body, res.contentType, res.err = q.get(ctx, url)
			q.semaphore.Release(1)
		}

		q.mu.Lock()
		q.results = append(q.results, res)
		q.pending--
		q.mu.Unlock()
	}()
}

// Pending returns the number of downloads not yet finished.
func (q *FetchQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// FlushStats summarizes one Flush.
type FlushStats struct {
	Applied map[string]int
	Failed  int
}

// Flush waits for every queued download and applies the results in
// completion order. Failed downloads are logged and counted, not returned;
// apply errors are joined and returned.
func (q *FetchQueue) Flush(ctx context.Context) (FlushStats, error) {
	q.wg.Wait()

	q.mu.Lock()
	results := q.results
	q.results = nil
	q.mu.Unlock()

	stats := FlushStats{Applied: map[string]int{}}
	var errs []error
	for _, res := range results {
		if res.err != nil {
			stats.Failed++
			q.logger.Warn().
				Err(res.err).
				Str("kind", res.task.kind).
				Str("key", res.task.key).
				Str("url", res.task.url).
				Msg("fetch failed")
			continue
		}
		if err := res.task.apply(ctx, res.body, res.contentType); err != nil {
			errs = append(errs, fmt.Errorf("apply %s %s: %w", res.task.kind, res.task.key, err))
			continue
		}
		stats.Applied[res.task.kind]++
	}
	return stats, errors.Join(errs...)
}

func (q *FetchQueue) get(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := q.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize))
	if err != nil {
		return nil, "", err
	}
	return body, resp.Header.Get("Content-Type"), nil
}
