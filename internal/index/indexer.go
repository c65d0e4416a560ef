// Package index writes classified posts, profiles, conversations and
// messages into an account store.
package index

import (
	"context"
	"database/sql"
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hpungsan/chirpkeep/internal/archive"
	"github.com/hpungsan/chirpkeep/internal/classify"
	"github.com/hpungsan/chirpkeep/internal/db"
	"github.com/hpungsan/chirpkeep/internal/errors"
	"github.com/hpungsan/chirpkeep/internal/metrics"
)

// Counter names, also used as metric labels.
const (
	CounterLikes         = "likes"
	CounterBookmarks     = "bookmarks"
	CounterReposts       = "reposts"
	CounterAuthored      = "authored"
	CounterUnknown       = "unknown"
	CounterProfiles      = "profiles"
	CounterConversations = "conversations"
	CounterMessages      = "messages"
	CounterMedia         = "media"
	CounterAvatars       = "avatars"
)

// Counters are the per-run indexing totals.
type Counters struct {
	Likes     int `json:"likes"`
	Bookmarks int `json:"bookmarks"`
	Reposts   int `json:"reposts"`
	Authored  int `json:"authored"`
	Unknown   int `json:"unknown"`

	Profiles      int `json:"profiles"`
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`

	MediaSaved     int `json:"media_saved"`
	AvatarsFetched int `json:"avatars_fetched"`
	FetchFailures  int `json:"fetch_failures"`
}

// Posts returns the number of posts indexed this run.
func (c Counters) Posts() int {
	return c.Likes + c.Bookmarks + c.Reposts + c.Authored + c.Unknown
}

// Options configure an Indexer.
type Options struct {
	DB          *sql.DB
	OwnerHandle string

	// MediaDir receives downloaded media. Empty disables media downloads.
	MediaDir string

	HTTPClient       *http.Client
	FetchConcurrency int

	Logger  zerolog.Logger
	Metrics metrics.Recorder
	Now     func() time.Time
}

// Indexer writes entities into one account store. Index calls come from a
// single goroutine; Counters may be read concurrently.
type Indexer struct {
	db       *sql.DB
	owner    string
	mediaDir string
	fetches  *FetchQueue
	logger   zerolog.Logger
	metrics  metrics.Recorder
	now      func() time.Time

	mu              sync.Mutex
	counters        Counters
	messageIDs      map[string]struct{}
	profileIDs      map[string]struct{}
	conversationIDs map[string]struct{}
}

// New creates an Indexer.
func New(opts Options) *Indexer {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ix := &Indexer{
		db:       opts.DB,
		owner:    strings.TrimPrefix(opts.OwnerHandle, "@"),
		mediaDir: opts.MediaDir,
		fetches:  NewFetchQueue(opts.HTTPClient, opts.FetchConcurrency, opts.Logger),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
	ix.resetLocked()
	return ix
}

// Counters returns a snapshot of this run's counters.
func (ix *Indexer) Counters() Counters {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.counters
}

// ResetCounters starts a new run: counters and distinct-ID sets are cleared.
func (ix *Indexer) ResetCounters() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.resetLocked()
}

func (ix *Indexer) resetLocked() {
	ix.counters = Counters{}
	ix.messageIDs = make(map[string]struct{})
	ix.profileIDs = make(map[string]struct{})
	ix.conversationIDs = make(map[string]struct{})
}

// IndexPost replaces the stored post with the same ID, adds media and links
// not yet stored, and increments exactly one post counter. New media are
// queued for download.
func (ix *Indexer) IndexPost(ctx context.Context, author classify.Author, t *classify.TweetLegacy) error {
	if t == nil || t.IDStr == "" {
		return errors.NewInvalidRequest("post id is required")
	}
	now := ix.now()
	post := toPost(author, t, now)

	var newMedia []*archive.Media
	err := db.WithTx(ctx, ix.db, func(tx *sql.Tx) error {
		if err := db.ReplacePost(ctx, tx, post); err != nil {
			return err
		}

		for _, m := range t.AllMedia() {
			if m.IDStr == "" {
				continue
			}
			ok, err := db.MediaExists(ctx, tx, m.IDStr)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			media := toMedia(post.PostID, m)
			if err := db.InsertMedia(ctx, tx, media); err != nil {
				return err
			}
			newMedia = append(newMedia, media)
		}

		for _, u := range t.Entities.URLs {
			if u.URL == "" {
				continue
			}
			ok, err := db.LinkExists(ctx, tx, u.URL, post.PostID)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			if err := db.InsertLink(ctx, tx, toLink(post.PostID, u)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range newMedia {
		ix.queueMedia(ctx, m)
	}

	counter := ix.classifyPost(post)
	ix.mu.Lock()
	switch counter {
	case CounterLikes:
		ix.counters.Likes++
	case CounterBookmarks:
		ix.counters.Bookmarks++
	case CounterReposts:
		ix.counters.Reposts++
	case CounterAuthored:
		ix.counters.Authored++
	default:
		ix.counters.Unknown++
	}
	ix.mu.Unlock()
	ix.metrics.AddIndexed(counter, 1)
	return nil
}

// classifyPost picks the single counter a post increments. The checks run in
// a fixed order; a liked repost counts as a like.
func (ix *Indexer) classifyPost(p *archive.Post) string {
	switch {
	case p.LikedByOwner:
		return CounterLikes
	case p.Bookmarked:
		return CounterBookmarks
	case p.IsRepost():
		return CounterReposts
	case ix.owner != "" && strings.EqualFold(p.AuthorHandle, ix.owner):
		return CounterAuthored
	default:
		return CounterUnknown
	}
}

// IndexProfile updates or inserts the user and queues an avatar re-fetch,
// so the embedded avatar follows the latest observation.
func (ix *Indexer) IndexProfile(ctx context.Context, u classify.DMUser) error {
	if u.IDStr == "" {
		return errors.NewInvalidRequest("user id is required")
	}
	p := &archive.Profile{
		UserID:    u.IDStr,
		Name:      u.Name,
		Handle:    u.ScreenName,
		AvatarURL: u.ProfileImageURLHTTPS,
		UpdatedAt: ix.now().Unix(),
	}
	if err := db.UpsertProfile(ctx, ix.db, p); err != nil {
		return err
	}

	if p.AvatarURL != "" {
		userID := p.UserID
		ix.fetches.Enqueue(ctx, CounterAvatars, userID, p.AvatarURL, func(ctx context.Context, body []byte, contentType string) error {
			return db.SetProfileAvatar(ctx, ix.db, userID, dataURI(body, contentType))
		})
	}

	ix.mu.Lock()
	_, seen := ix.profileIDs[p.UserID]
	ix.profileIDs[p.UserID] = struct{}{}
	ix.counters.Profiles = len(ix.profileIDs)
	ix.mu.Unlock()
	if !seen {
		ix.metrics.AddIndexed(CounterProfiles, 1)
	}
	return nil
}

// IndexConversation updates or inserts the conversation, clearing any
// soft-delete, and replaces its participants.
func (ix *Indexer) IndexConversation(ctx context.Context, c classify.DMConversation) error {
	if c.ConversationID == "" {
		return errors.NewInvalidRequest("conversation id is required")
	}
	conv := toConversation(c, ix.now())

	err := db.WithTx(ctx, ix.db, func(tx *sql.Tx) error {
		if _, err := db.UpsertConversation(ctx, tx, conv); err != nil {
			return err
		}
		return db.ReplaceParticipants(ctx, tx, conv.ConversationID, conv.Participants)
	})
	if err != nil {
		return err
	}

	ix.mu.Lock()
	_, seen := ix.conversationIDs[conv.ConversationID]
	ix.conversationIDs[conv.ConversationID] = struct{}{}
	ix.counters.Conversations = len(ix.conversationIDs)
	ix.mu.Unlock()
	if !seen {
		ix.metrics.AddIndexed(CounterConversations, 1)
	}
	return nil
}

// IndexMessage inserts or replaces the message. The messages counter is the
// number of distinct message IDs seen this run.
func (ix *Indexer) IndexMessage(ctx context.Context, m *classify.DMMessage) error {
	if m == nil || m.MessageID() == "" {
		return errors.NewInvalidRequest("message id is required")
	}
	msg := toMessage(m)
	if err := db.ReplaceMessage(ctx, ix.db, msg); err != nil {
		return err
	}

	ix.mu.Lock()
	_, seen := ix.messageIDs[msg.MessageID]
	ix.messageIDs[msg.MessageID] = struct{}{}
	ix.counters.Messages = len(ix.messageIDs)
	ix.mu.Unlock()
	if !seen {
		ix.metrics.AddIndexed(CounterMessages, 1)
	}
	return nil
}

// Flush waits for queued avatar and media downloads and stores them.
func (ix *Indexer) Flush(ctx context.Context) error {
	stats, err := ix.fetches.Flush(ctx)

	ix.mu.Lock()
	ix.counters.MediaSaved += stats.Applied[CounterMedia]
	ix.counters.AvatarsFetched += stats.Applied[CounterAvatars]
	ix.counters.FetchFailures += stats.Failed
	ix.mu.Unlock()

	if n := stats.Applied[CounterMedia]; n > 0 {
		ix.metrics.AddIndexed(CounterMedia, n)
	}
	if n := stats.Applied[CounterAvatars]; n > 0 {
		ix.metrics.AddIndexed(CounterAvatars, n)
	}
	return err
}

// PendingFetches returns the number of downloads still running.
func (ix *Indexer) PendingFetches() int {
	return ix.fetches.Pending()
}

func (ix *Indexer) queueMedia(ctx context.Context, m *archive.Media) {
	if ix.mediaDir == "" || m.URL == "" {
		return
	}
	dest := filepath.Join(ix.mediaDir, m.Filename)
	ix.fetches.Enqueue(ctx, CounterMedia, m.MediaID, m.URL, func(_ context.Context, body []byte, _ string) error {
		if err := os.MkdirAll(ix.mediaDir, 0700); err != nil {
			return err
		}
		return os.WriteFile(dest, body, 0600)
	})
}

// dataURI embeds body as a base64 data URI, sniffing the type when the
// server sent none.
func dataURI(body []byte, contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = http.DetectContentType(body)
		if i := strings.IndexByte(contentType, ';'); i >= 0 {
			contentType = contentType[:i]
		}
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(body)
}
