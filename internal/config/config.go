package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Config holds application configuration.
type Config struct {
	// OwnerHandle is the screen name of the archived account. Posts authored by
	// this handle count as "authored" when indexed.
	OwnerHandle string `json:"owner_handle,omitempty"`

	// CaptureFilters are host/path globs selecting which exchanges the proxy
	// captures (e.g. "x.com/i/api/graphql/*/UserTweets*"). Only hosts named by
	// a filter are TLS-intercepted; everything else is tunnelled untouched.
	CaptureFilters []string `json:"capture_filters,omitempty"`

	// SettleDelayMS is how long StartCapture waits after routing the session
	// through the proxy, to let asynchronous proxy configuration propagate.
	SettleDelayMS int `json:"settle_delay_ms,omitempty"`

	// FetchConcurrency bounds concurrent avatar/media downloads per pass.
	FetchConcurrency int `json:"fetch_concurrency,omitempty"`

	// RateLimitDefaultMinutes is the wait applied when a 429 carries no
	// x-rate-limit-reset header.
	RateLimitDefaultMinutes int `json:"rate_limit_default_minutes,omitempty"`

	// IndexSchedule is the cron expression used by `chirpkeep capture` to run
	// index passes while the proxy is capturing.
	IndexSchedule string `json:"index_schedule,omitempty"`

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// MetricsAddr enables the /metrics and /progress endpoints when non-empty
	// (e.g. "127.0.0.1:9464").
	MetricsAddr string `json:"metrics_addr,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultCaptureFilters covers the timeline and direct-message endpoints the
// classifier understands.
var DefaultCaptureFilters = []string{
	"x.com/i/api/graphql/*/UserTweets*",
	"x.com/i/api/graphql/*/Likes*",
	"x.com/i/api/graphql/*/Bookmarks*",
	"x.com/i/api/1.1/dm/*",
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		CaptureFilters:          append([]string(nil), DefaultCaptureFilters...),
		SettleDelayMS:           500,
		FetchConcurrency:        4,
		RateLimitDefaultMinutes: 15,
		IndexSchedule:           "@every 2s",
		LogLevel:                "info",
	}
}

// SettleDelay returns SettleDelayMS as a duration. A negative value disables
// the delay (0 means "use the default" when merging).
func (c *Config) SettleDelay() time.Duration {
	if c.SettleDelayMS < 0 {
		return 0
	}
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}

// RateLimitDefault returns RateLimitDefaultMinutes as a duration.
func (c *Config) RateLimitDefault() time.Duration {
	return time.Duration(c.RateLimitDefaultMinutes) * time.Minute
}

// Load loads configuration from baseDir/config.json and applies CHIRPKEEP_*
// environment overrides.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.chirpkeep.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return ApplyEnv(cfg), nil
}

// LoadWithRepo loads configuration from both global (~/.chirpkeep) and repo (.chirpkeep) directories.
// Repo config is found by walking upward from startDir to find the nearest .chirpkeep/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo, then environment
	return ApplyEnv(Merge(Merge(DefaultConfig(), global), repo)), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .chirpkeep/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".chirpkeep", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars. Capture filters are replaced
// wholesale when the overlay sets any; other arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.OwnerHandle = firstString(overlay.OwnerHandle, base.OwnerHandle)
	result.IndexSchedule = firstString(overlay.IndexSchedule, base.IndexSchedule)
	result.LogLevel = firstString(overlay.LogLevel, base.LogLevel)
	result.MetricsAddr = firstString(overlay.MetricsAddr, base.MetricsAddr)

	result.SettleDelayMS = firstInt(overlay.SettleDelayMS, base.SettleDelayMS)
	result.FetchConcurrency = firstInt(overlay.FetchConcurrency, base.FetchConcurrency)
	result.RateLimitDefaultMinutes = firstInt(overlay.RateLimitDefaultMinutes, base.RateLimitDefaultMinutes)
	result.DBMaxOpenConns = firstInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// A user who lists filters means exactly those filters.
	if len(overlay.CaptureFilters) > 0 {
		result.CaptureFilters = mergeStringSlice(nil, overlay.CaptureFilters)
	} else {
		result.CaptureFilters = mergeStringSlice(nil, base.CaptureFilters)
	}
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstString(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstInt(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
