package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.UploadQuotaMB != 1024 || cfg.UploadMaxFileSizeMB != 50 {
		t.Fatalf("unexpected upload defaults: %+v", cfg)
	}
	if cfg.ViewerCacheTTL != 30*time.Second {
		t.Fatalf("expected 30s viewer ttl, got %s", cfg.ViewerCacheTTL)
	}
	if cfg.DBMaxOpenConns != 20 || cfg.DBMaxIdleConns != 10 {
		t.Fatalf("unexpected pool defaults: open=%d idle=%d", cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("UPLOAD_TOTAL_QUOTA_MB", "10")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("VIEWER_CACHE_TTL_SECONDS", "5")

	cfg := Load()
	if cfg.Addr != ":9999" {
		t.Fatalf("expected env addr, got %q", cfg.Addr)
	}
	if cfg.UploadQuotaMB != 10 {
		t.Fatalf("expected quota 10, got %d", cfg.UploadQuotaMB)
	}
	if !cfg.S3UseSSL {
		t.Fatal("expected S3_USE_SSL to be parsed")
	}
	if cfg.ViewerCacheTTL != 5*time.Second {
		t.Fatalf("expected 5s ttl, got %s", cfg.ViewerCacheTTL)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("COURSETALK_CONFIG_PROBE=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("COURSETALK_CONFIG_PROBE", "")
	if err := os.Unsetenv("COURSETALK_CONFIG_PROBE"); err != nil {
		t.Fatalf("unset: %v", err)
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("COURSETALK_CONFIG_PROBE"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
}

func TestLoadDotEnvMissingFileIsIgnored(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected nil for missing file, got %v", err)
	}
}
