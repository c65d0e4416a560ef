package mcp

import "github.com/mark3labs/mcp-go/mcp"

var captureStartToolDef = mcp.NewTool("capture_start",
	mcp.WithDescription(`Start the intercepting proxy and route the browser session through it.

Filters are host/path globs ("x.com/i/api/graphql/*/UserTweets*"). Only hosts named by a filter are TLS-intercepted; other traffic is tunnelled untouched. Omit filters to use the configured set.
Returns the proxy address. Fails with CONFLICT when capture is already running.`),
	mcp.WithArray("filters",
		mcp.Description("Capture filters (host/path globs)"),
		mcp.WithStringItems(),
	),
)

var captureStopToolDef = mcp.NewTool("capture_stop",
	mcp.WithDescription("Stop the proxy and restore direct networking. Idempotent."),
)

var monitoringStartToolDef = mcp.NewTool("monitoring_start",
	mcp.WithDescription("Clear the capture buffer and start recording responses that match the capture filters."),
)

var monitoringStopToolDef = mcp.NewTool("monitoring_stop",
	mcp.WithDescription("Stop recording responses. The buffer is kept for indexing."),
)

var bufferClearProcessedToolDef = mcp.NewTool("buffer_clear_processed",
	mcp.WithDescription("Drop buffer entries that have already been indexed. Returns how many were dropped."),
)

var indexNextToolDef = mcp.NewTool("index_next",
	mcp.WithDescription(`Classify and index every unprocessed buffer entry, then wait for queued avatar and media downloads.

Returns the progress of the current run: per-kind counters, more_data_available, rate_limit and buffer counts. A 429 or an upstream error envelope stops the pass early; check rate_limit before calling again.`),
)

var indexResetToolDef = mcp.NewTool("index_reset",
	mcp.WithDescription("Start a new indexing run: zero the counters and expect more data."),
)

var rateLimitStatusToolDef = mcp.NewTool("ratelimit_status",
	mcp.WithDescription("Report whether the platform rate-limited the session and when the limit resets (epoch seconds)."),
)

var rateLimitResetToolDef = mcp.NewTool("ratelimit_reset",
	mcp.WithDescription("Forget a recorded rate limit so indexing can resume."),
)

var migrationsListToolDef = mcp.NewTool("migrations_list",
	mcp.WithDescription("List the schema migrations applied to the account store."),
)
