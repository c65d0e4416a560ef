package mcp

import (
	"context"
	stderrors "errors"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/chirpkeep/internal/db"
	"github.com/hpungsan/chirpkeep/internal/errors"
	"github.com/hpungsan/chirpkeep/internal/session"
	"github.com/hpungsan/chirpkeep/internal/tracker"
)

// Session is the part of *session.Session the tools drive.
type Session interface {
	StartCapture(ctx context.Context, filters []string) (string, error)
	StopCapture(ctx context.Context) error
	Capturing() bool
	ProxyAddr() string
	StartMonitoring()
	StopMonitoring()
	Monitoring() bool
	ClearProcessedEntries() int
	ClassifyAndIndexNext(ctx context.Context) (session.Progress, error)
	ResetProgress()
	Progress() session.Progress
	IsRateLimited() tracker.Info
	ResetRateLimitInfo()
	AppliedMigrations(ctx context.Context) ([]db.AppliedMigration, error)
}

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	sess Session
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(sess Session) *Handlers {
	return &Handlers{sess: sess}
}

// CaptureStartRequest represents the arguments for capture_start.
type CaptureStartRequest struct {
	Filters []string `json:"filters,omitempty"`
}

// CaptureStatus is returned by the capture and monitoring tools.
type CaptureStatus struct {
	Capturing  bool   `json:"capturing"`
	Monitoring bool   `json:"monitoring"`
	ProxyAddr  string `json:"proxy_addr,omitempty"`
}

// ClearProcessedOutput is returned by buffer_clear_processed.
type ClearProcessedOutput struct {
	Cleared     int `json:"cleared"`
	Unprocessed int `json:"unprocessed"`
}

// MigrationsOutput is returned by migrations_list.
type MigrationsOutput struct {
	Migrations []db.AppliedMigration `json:"migrations"`
}

// HandleCaptureStart handles the capture_start tool call.
func (h *Handlers) HandleCaptureStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CaptureStartRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if _, err := h.sess.StartCapture(ctx, input.Filters); err != nil {
		return errorResult(err), nil
	}
	return successResult(h.status())
}

// HandleCaptureStop handles the capture_stop tool call.
func (h *Handlers) HandleCaptureStop(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.sess.StopCapture(ctx); err != nil {
		return errorResult(err), nil
	}
	return successResult(h.status())
}

// HandleMonitoringStart handles the monitoring_start tool call.
func (h *Handlers) HandleMonitoringStart(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.sess.StartMonitoring()
	return successResult(h.status())
}

// HandleMonitoringStop handles the monitoring_stop tool call.
func (h *Handlers) HandleMonitoringStop(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.sess.StopMonitoring()
	return successResult(h.status())
}

// HandleBufferClearProcessed handles the buffer_clear_processed tool call.
func (h *Handlers) HandleBufferClearProcessed(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n := h.sess.ClearProcessedEntries()
	return successResult(ClearProcessedOutput{
		Cleared:     n,
		Unprocessed: h.sess.Progress().Unprocessed,
	})
}

// HandleIndexNext handles the index_next tool call.
func (h *Handlers) HandleIndexNext(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	progress, err := h.sess.ClassifyAndIndexNext(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(progress)
}

// HandleIndexReset handles the index_reset tool call.
func (h *Handlers) HandleIndexReset(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.sess.ResetProgress()
	return successResult(h.sess.Progress())
}

// HandleRateLimitStatus handles the ratelimit_status tool call.
func (h *Handlers) HandleRateLimitStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.sess.IsRateLimited())
}

// HandleRateLimitReset handles the ratelimit_reset tool call.
func (h *Handlers) HandleRateLimitReset(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.sess.ResetRateLimitInfo()
	return successResult(h.sess.IsRateLimited())
}

// HandleMigrationsList handles the migrations_list tool call.
func (h *Handlers) HandleMigrationsList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	applied, err := h.sess.AppliedMigrations(ctx)
	if err != nil {
		return errorResult(errors.NewInternal(err)), nil
	}
	return successResult(MigrationsOutput{Migrations: applied})
}

func (h *Handlers) status() CaptureStatus {
	return CaptureStatus{
		Capturing:  h.sess.Capturing(),
		Monitoring: h.sess.Monitoring(),
		ProxyAddr:  h.sess.ProxyAddr(),
	}
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var cErr *errors.ChirpError
	if stderrors.As(err, &cErr) {
		// Keep wrapper context ("entry 01H...: ") ahead of the coded message.
		message := cErr.Message
		if prefix := strings.TrimSuffix(err.Error(), cErr.Error()); prefix != err.Error() {
			message = prefix + message
		}
		errorObj := map[string]any{
			"code":    cErr.Code,
			"message": message,
			"status":  cErr.Status,
		}
		if cErr.Code != errors.ErrInternal && cErr.Details != nil {
			errorObj["details"] = cErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
