package config

import (
	"strings"

	"github.com/spf13/viper"
)

// envKeys maps config keys to their CHIRPKEEP_* environment variables.
var envKeys = map[string]string{
	"owner_handle":               "CHIRPKEEP_OWNER_HANDLE",
	"capture_filters":            "CHIRPKEEP_CAPTURE_FILTERS",
	"settle_delay_ms":            "CHIRPKEEP_SETTLE_DELAY_MS",
	"fetch_concurrency":          "CHIRPKEEP_FETCH_CONCURRENCY",
	"rate_limit_default_minutes": "CHIRPKEEP_RATE_LIMIT_DEFAULT_MINUTES",
	"index_schedule":             "CHIRPKEEP_INDEX_SCHEDULE",
	"log_level":                  "CHIRPKEEP_LOG_LEVEL",
	"metrics_addr":               "CHIRPKEEP_METRICS_ADDR",
}

// ApplyEnv overlays CHIRPKEEP_* environment variables onto cfg.
// Unset variables leave the file value in place. CHIRPKEEP_CAPTURE_FILTERS is
// a comma-separated list that replaces the configured filters.
func ApplyEnv(cfg *Config) *Config {
	v := viper.New()
	for key, env := range envKeys {
		_ = v.BindEnv(key, env)
	}

	overlay := &Config{
		OwnerHandle:             v.GetString("owner_handle"),
		SettleDelayMS:           v.GetInt("settle_delay_ms"),
		FetchConcurrency:        v.GetInt("fetch_concurrency"),
		RateLimitDefaultMinutes: v.GetInt("rate_limit_default_minutes"),
		IndexSchedule:           v.GetString("index_schedule"),
		LogLevel:                v.GetString("log_level"),
		MetricsAddr:             v.GetString("metrics_addr"),
	}
	if raw := v.GetString("capture_filters"); raw != "" {
		overlay.CaptureFilters = strings.Split(raw, ",")
	}

	return Merge(cfg, overlay)
}
