package web

import (
	"context"
	"net/http"
	"time"

	"github.com/hpungsan/chirpkeep/internal/db"
	"github.com/hpungsan/chirpkeep/internal/session"
)

// Source is the session state the server exposes.
type Source interface {
	AccountKey() string
	Capturing() bool
	Monitoring() bool
	ProxyAddr() string
	Progress() session.Progress
	ResetRateLimitInfo()
	AppliedMigrations(ctx context.Context) ([]db.AppliedMigration, error)
}

// Handlers contains HTTP route handlers for the status server.
type Handlers struct {
	src      Source
	renderer *Renderer
}

// HandleStatus handles GET / — the human-readable status page.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	progress := h.src.Progress()
	data := StatusPageData{
		PageData: PageData{
			Title:   "Status",
			Version: h.renderer.version,
		},
		Account:    h.src.AccountKey(),
		Capturing:  h.src.Capturing(),
		Monitoring: h.src.Monitoring(),
		ProxyAddr:  h.src.ProxyAddr(),
		Progress:   progress,
		Posts:      progress.Posts(),
	}
	if progress.RateLimit.IsRateLimited {
		data.ResetAt = time.Unix(progress.RateLimit.ResetEpochSeconds, 0).UTC().Format(time.RFC3339)
	}
	h.renderer.renderPage(w, r, "status", data)
}

// HandleProgress handles GET /progress — the progress snapshot as JSON.
func (h *Handlers) HandleProgress(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, h.src.Progress())
}

// HandleMigrations handles GET /migrations — the store's migration ledger.
func (h *Handlers) HandleMigrations(w http.ResponseWriter, r *http.Request) {
	applied, err := h.src.AppliedMigrations(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	items := make([]map[string]any, 0, len(applied))
	for _, m := range applied {
		items = append(items, map[string]any{"name": m.Name, "applied_at": m.AppliedAt})
	}
	renderJSON(w, http.StatusOK, map[string]any{"migrations": items})
}

// HandleRateLimitReset handles POST /ratelimit/reset — forget a recorded
// rate limit so the next pass runs.
func (h *Handlers) HandleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	h.src.ResetRateLimitInfo()
	renderJSON(w, http.StatusOK, h.src.Progress().RateLimit)
}
