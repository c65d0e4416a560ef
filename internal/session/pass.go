package session

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/chirpkeep/internal/buffer"
	"github.com/hpungsan/chirpkeep/internal/classify"
	"github.com/hpungsan/chirpkeep/internal/db"
	"github.com/hpungsan/chirpkeep/internal/errors"
)

// RateLimitResetHeader carries the epoch second a rate limit ends.
const RateLimitResetHeader = "x-rate-limit-reset"

const defaultRateLimitWait = 15 * time.Minute

// outcome tells the pass what to do after an entry.
type outcome int

const (
	next outcome = iota
	stop
)

// ClassifyAndIndexNext processes every unprocessed buffer entry in capture
// order, then waits for queued downloads. It stops early on a rate limit or
// an upstream error envelope, which are reported through Progress, and on a
// response it cannot parse, which is returned as a SHAPE_MISMATCH error.
func (s *Session) ClassifyAndIndexNext(ctx context.Context) (Progress, error) {
	defer func() { s.metrics.SetBuffer(s.buffer.Counts()) }()

	for _, entry := range s.buffer.Unprocessed() {
		if err := ctx.Err(); err != nil {
			return s.Progress(), err
		}
		if s.buffer.IsProcessed(entry.ID) {
			continue
		}

		out, err := s.processEntry(ctx, &entry)
		if errors.Is(err, errors.ErrShapeMismatch) {
			// Media queued by earlier entries of this pass is still fetched.
			if ferr := s.indexer.Flush(ctx); ferr != nil {
				s.logger.Warn().Err(ferr).Msg("flush downloads")
			}
			return s.Progress(), err
		}
		if err != nil {
			return s.Progress(), err
		}
		if out == stop {
			break
		}
	}

	if err := s.indexer.Flush(ctx); err != nil {
		return s.Progress(), err
	}
	return s.Progress(), nil
}

func (s *Session) processEntry(ctx context.Context, e *buffer.Entry) (outcome, error) {
	log := s.logger.With().Str("entry", e.ID).Str("url", e.URL).Logger()

	if e.Status == http.StatusTooManyRequests {
		reset := s.rateLimitReset(e.ResponseHeaders)
		s.tracker.SetRateLimited(reset)
		s.metrics.IncRateLimited()
		s.buffer.MarkProcessed(e.ID)
		log.Warn().Int64("reset_epoch", reset).Msg("rate limited")
		return stop, nil
	}

	kind, detail := classify.Match(e.URL)
	switch {
	case kind == classify.KindTimeline:
		return s.processTimeline(ctx, e)
	case kind.IsDM():
		return s.processDM(ctx, e, kind, detail)
	default:
		log.Debug().Msg("skipping unmatched response")
		s.buffer.MarkProcessed(e.ID)
		return next, nil
	}
}

func (s *Session) processTimeline(ctx context.Context, e *buffer.Entry) (outcome, error) {
	env, err := classify.ParseTimeline([]byte(e.ResponseBody))
	if err != nil {
		s.buffer.MarkProcessed(e.ID)
		return stop, errors.NewShapeMismatch(e.URL, err.Error())
	}

	switch env.Variant {
	case classify.Unrecognized:
		s.buffer.MarkProcessed(e.ID)
		return stop, errors.NewShapeMismatch(e.URL, "no known timeline envelope")

	case classify.UpstreamError:
		upstream := errors.NewUpstream(e.URL, env.ErrorMessages())
		s.logger.Error().
			Err(upstream).
			Str("entry", e.ID).
			Strs("messages", env.ErrorMessages()).
			Msg("upstream returned an error envelope")
		s.buffer.MarkProcessed(e.ID)
		return stop, nil
	}

	entries := classify.Entries(env.Instructions)
	if classify.IsTerminalCursorPair(entries) {
		s.tracker.ClearMoreData()
	}

	for i := range entries {
		for _, pair := range classify.ExtractPairs(&entries[i]) {
			if err := s.indexer.IndexPost(ctx, pair.Author, pair.Post); err != nil {
				return stop, err
			}
		}
	}

	s.buffer.MarkProcessed(e.ID)
	return next, nil
}

func (s *Session) processDM(ctx context.Context, e *buffer.Entry, kind classify.Kind, conversationID string) (outcome, error) {
	env, err := classify.ParseDM(kind, []byte(e.ResponseBody))
	if err != nil {
		s.buffer.MarkProcessed(e.ID)
		return stop, errors.NewShapeMismatch(e.URL, err.Error())
	}

	for _, id := range sortedKeys(env.Users) {
		if err := s.indexer.IndexProfile(ctx, env.Users[id]); err != nil {
			return stop, err
		}
	}
	for _, id := range sortedKeys(env.Conversations) {
		conv := env.Conversations[id]
		if conv.ConversationID == "" {
			conv.ConversationID = id
		}
		if err := s.indexer.IndexConversation(ctx, conv); err != nil {
			return stop, err
		}
	}
	for _, m := range env.Messages() {
		if m.ConversationID == "" {
			m.ConversationID = conversationID
		}
		if err := s.indexer.IndexMessage(ctx, m); err != nil {
			return stop, err
		}
	}

	if env.AtEnd() {
		s.tracker.ClearMoreData()
		if kind == classify.KindDMConversation && conversationID != "" {
			if err := db.MarkConversationIndexed(ctx, s.db, conversationID); err != nil {
				return stop, err
			}
		}
	}

	s.buffer.MarkProcessed(e.ID)
	return next, nil
}

// rateLimitReset reads the reset header, falling back to the configured
// default wait.
func (s *Session) rateLimitReset(h http.Header) int64 {
	if v := strings.TrimSpace(h.Get(RateLimitResetHeader)); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil && epoch > 0 {
			return epoch
		}
	}
	wait := s.cfg.RateLimitDefault()
	if wait <= 0 {
		wait = defaultRateLimitWait
	}
	return s.now().Add(wait).Unix()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
