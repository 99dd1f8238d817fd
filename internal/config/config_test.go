package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"docsync/api/internal/collab"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"API_ADDR", "PORT", "REDIS_URL", "DOCSYNC_LOAD_POLICY", "DOCSYNC_TIMEOUT_MS", "LOG_FORMAT", "DOCSYNC_RATE_LIMIT_PER_MINUTE"} {
		t.Setenv(key, "")
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":1234" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.RedisURL != "" {
		t.Errorf("RedisURL = %q, want empty", cfg.RedisURL)
	}
	if cfg.Timeout != 30*time.Second || cfg.CacheTTL != 5*time.Minute || cfg.RateLimit != 100 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.LoadPolicy != collab.PolicyOverwrite {
		t.Errorf("LoadPolicy = %q", cfg.LoadPolicy)
	}
	cc := cfg.Collab()
	if cc.Debounce != 2*time.Second || cc.MaxDebounce != 10*time.Second || cc.UnloadDelay != 2*time.Second {
		t.Errorf("collab config = %+v", cc)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("PORT", "9000")
	t.Setenv("DOCSYNC_TIMEOUT_MS", "1500")
	t.Setenv("DOCSYNC_LOAD_POLICY", "seed-if-empty")
	t.Setenv("DOCSYNC_RATE_LIMIT_PER_MINUTE", "not-a-number")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9000" || cfg.Timeout != 1500*time.Millisecond || cfg.LogFormat != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.LoadPolicy != collab.PolicySeedIfEmpty {
		t.Errorf("LoadPolicy = %q", cfg.LoadPolicy)
	}
	if cfg.RateLimit != 100 {
		t.Errorf("unparsable rate limit should fall back, got %d", cfg.RateLimit)
	}

	t.Setenv("API_ADDR", "127.0.0.1:7000")
	if cfg, _ := Load(); cfg.Addr != "127.0.0.1:7000" {
		t.Errorf("API_ADDR should win over PORT, got %q", cfg.Addr)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"DOCSYNC_LOAD_POLICY":           "merge",
		"LOG_FORMAT":                    "xml",
		"DOCSYNC_RATE_LIMIT_PER_MINUTE": "0",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("%s=%s accepted", key, value)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("DOCSYNC_TEST_FROM_FILE=file\nDOCSYNC_TEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("DOCSYNC_TEST_PRESET", "env")
	t.Setenv("DOCSYNC_TEST_FROM_FILE", "")
	os.Unsetenv("DOCSYNC_TEST_FROM_FILE")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("DOCSYNC_TEST_FROM_FILE"); got != "file" {
		t.Errorf("DOCSYNC_TEST_FROM_FILE = %q", got)
	}
	if got := os.Getenv("DOCSYNC_TEST_PRESET"); got != "env" {
		t.Errorf("existing variable overwritten: %q", got)
	}

	if err := LoadEnvFile(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("missing file: %v", err)
	}
}
