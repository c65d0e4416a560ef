package mcp

import (
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/chirpkeep/internal/config"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"capture_start": {
		def:     captureStartToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaptureStart },
	},
	"capture_stop": {
		def:     captureStopToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCaptureStop },
	},
	"monitoring_start": {
		def:     monitoringStartToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMonitoringStart },
	},
	"monitoring_stop": {
		def:     monitoringStopToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMonitoringStop },
	},
	"buffer_clear_processed": {
		def:     bufferClearProcessedToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleBufferClearProcessed },
	},
	"index_next": {
		def:     indexNextToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIndexNext },
	},
	"index_reset": {
		def:     indexResetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleIndexReset },
	},
	"ratelimit_status": {
		def:     rateLimitStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRateLimitStatus },
	},
	"ratelimit_reset": {
		def:     rateLimitResetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRateLimitReset },
	},
	"migrations_list": {
		def:     migrationsListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMigrationsList },
	},
}

// AllToolNames returns a sorted list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with the session tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(sess Session, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"chirpkeep",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(sess)

	disabled := make(map[string]bool, len(cfg.DisabledTools))
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(sess Session, cfg *config.Config, version string) error {
	s := NewServer(sess, cfg, version)
	return server.ServeStdio(s)
}
