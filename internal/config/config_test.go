package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.FetchConcurrency != DefaultConfig().FetchConcurrency {
		t.Fatalf("FetchConcurrency = %d, want %d", cfg.FetchConcurrency, DefaultConfig().FetchConcurrency)
	}
	if len(cfg.CaptureFilters) != len(DefaultCaptureFilters) {
		t.Fatalf("CaptureFilters = %v, want defaults", cfg.CaptureFilters)
	}
	if cfg.RateLimitDefault() != 15*time.Minute {
		t.Fatalf("RateLimitDefault() = %v, want 15m", cfg.RateLimitDefault())
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	body := `{"owner_handle": "dril", "fetch_concurrency": 8, "settle_delay_ms": 1500}`
	if err := os.WriteFile(configPath, []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OwnerHandle != "dril" {
		t.Errorf("OwnerHandle = %q, want %q", cfg.OwnerHandle, "dril")
	}
	if cfg.FetchConcurrency != 8 {
		t.Errorf("FetchConcurrency = %d, want 8", cfg.FetchConcurrency)
	}
	if cfg.SettleDelay() != 1500*time.Millisecond {
		t.Errorf("SettleDelay() = %v, want 1.5s", cfg.SettleDelay())
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_CaptureFiltersReplaceDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"capture_filters": ["example.com/api/*"]}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	require.Equal(t, []string{"example.com/api/*"}, cfg.CaptureFilters)
}

func TestLoad_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"owner_handle": "fromfile", "log_level": "warn"}`), 0600))

	t.Setenv("CHIRPKEEP_OWNER_HANDLE", "fromenv")
	t.Setenv("CHIRPKEEP_CAPTURE_FILTERS", "a.com/x/*, b.com/y/*")

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	require.Equal(t, "fromenv", cfg.OwnerHandle)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, []string{"a.com/x/*", "b.com/y/*"}, cfg.CaptureFilters)
}

func TestSettleDelay_Negative(t *testing.T) {
	cfg := &Config{SettleDelayMS: -1}
	if cfg.SettleDelay() != 0 {
		t.Errorf("SettleDelay() = %v, want 0", cfg.SettleDelay())
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	globalConfig := `{"owner_handle": "global", "fetch_concurrency": 2, "disabled_tools": ["capture_start"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	repoDir := filepath.Join(repoRoot, ".chirpkeep")
	if err := os.MkdirAll(repoDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	repoConfig := `{"owner_handle": "repo", "disabled_tools": ["ratelimit_reset", "capture_start"]}`
	if err := os.WriteFile(filepath.Join(repoDir, "config.json"), []byte(repoConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, repoRoot)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	// Repo overrides scalar
	if cfg.OwnerHandle != "repo" {
		t.Errorf("OwnerHandle = %q, want %q (repo override)", cfg.OwnerHandle, "repo")
	}
	// Global scalar survives when repo leaves it unset
	if cfg.FetchConcurrency != 2 {
		t.Errorf("FetchConcurrency = %d, want 2 (global)", cfg.FetchConcurrency)
	}
	// Arrays merged and deduplicated
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools = %v, want 2 entries", cfg.DisabledTools)
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if cfg.IndexSchedule != DefaultConfig().IndexSchedule {
		t.Errorf("IndexSchedule = %q, want default", cfg.IndexSchedule)
	}
}

func TestFindRepoConfig_WalksUpward(t *testing.T) {
	root := t.TempDir()
	repoDir := filepath.Join(root, ".chirpkeep")
	require.NoError(t, os.MkdirAll(repoDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "config.json"), []byte(`{}`), 0600))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))

	require.Equal(t, filepath.Join(repoDir, "config.json"), FindRepoConfig(nested))
}

func TestMergeStringSlice(t *testing.T) {
	got := mergeStringSlice([]string{" a ", "b"}, []string{"b", "", "c"})
	require.Equal(t, []string{"a", "b", "c"}, got)
	require.Nil(t, mergeStringSlice(nil, []string{" "}))
}
