package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/potlink/internal/config"
	"github.com/danmuck/potlink/internal/potlink"
	"github.com/danmuck/potlink/internal/sample"
)

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	cfg, err := loadServiceConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ID != "potlink.bench" {
		t.Fatalf("unexpected id: %q", cfg.ID)
	}
	if cfg.Mode != potlink.ModeServer {
		t.Fatalf("unexpected mode: %q", cfg.Mode)
	}
	if cfg.Client.Addr != "127.0.0.1:8080" || !cfg.Client.SkipUnchanged {
		t.Fatalf("unexpected client section: %+v", cfg.Client)
	}
	if cfg.Client.Interval != 5*time.Second {
		t.Fatalf("unexpected client interval: %v", cfg.Client.Interval)
	}
	if cfg.Client.MaxTokens != potlink.DefaultServiceConfig().Client.MaxTokens {
		t.Fatalf("undefined key should keep default, got %d", cfg.Client.MaxTokens)
	}
	if cfg.Server.Addr != ":5000" || cfg.Server.FramesPerSession != 1 || cfg.Server.MaxSessions != 1000 {
		t.Fatalf("unexpected server section: %+v", cfg.Server)
	}
	if cfg.Server.MaxFrames != 500 {
		t.Fatalf("unexpected max frames: %d", cfg.Server.MaxFrames)
	}
	if cfg.Server.IOTimeout != 30*time.Second {
		t.Fatalf("unexpected io timeout: %v", cfg.Server.IOTimeout)
	}
	if !cfg.Status.Enabled || cfg.Status.Addr != "127.0.0.1:9200" {
		t.Fatalf("unexpected status section: %+v", cfg.Status)
	}
	if len(cfg.Status.CORSOrigins) != 1 || cfg.Status.CORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins: %+v", cfg.Status.CORSOrigins)
	}
	if cfg.Status.StreamInterval != 500*time.Millisecond {
		t.Fatalf("unexpected stream interval: %v", cfg.Status.StreamInterval)
	}
	res, err := potlink.ParseResolution(cfg.Sampler.Resolution)
	if err != nil || res != sample.Resolution10 {
		t.Fatalf("unexpected resolution %q", cfg.Sampler.Resolution)
	}
	if cfg.Sampler.Initial != 512 || cfg.Sampler.Step != 16 || cfg.Sampler.Interval != 50*time.Millisecond {
		t.Fatalf("unexpected sampler section: %+v", cfg.Sampler)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("example config invalid: %v", err)
	}
}

func TestExampleConfigPassesSchema(t *testing.T) {
	if _, err := config.LoadDaemonConfig("ex.config.toml"); err != nil {
		t.Fatalf("schema: %v", err)
	}
}

func TestLoadServiceConfigIntervalMillis(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
mode = "client"

[client]
addr = "127.0.0.1:80"
interval_ms = 1200
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadServiceConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Mode != potlink.ModeClient || cfg.Client.Interval != 1200*time.Millisecond {
		t.Fatalf("unexpected config: mode=%q interval=%v", cfg.Mode, cfg.Client.Interval)
	}
}

func TestLoadServiceConfigBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[sampler]
interval = "abc"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := loadServiceConfig(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadServiceConfigInitialOutOfRange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[sampler]\ninitial = 70000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := loadServiceConfig(path); err == nil {
		t.Fatalf("expected range error")
	}
}

func TestResolveConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := resolveConfig(filepath.Join(t.TempDir(), "missing.toml"), "Client")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Mode != potlink.ModeClient {
		t.Fatalf("expected mode override, got %q", cfg.Mode)
	}
	if cfg.Server.MaxSessions != 1000 {
		t.Fatalf("expected default session bound, got %d", cfg.Server.MaxSessions)
	}
}
