package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.HTTPAddr != ":8080" || cfg.Fsync != "interval" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Defaults.MaxPayloadBytes != 64<<10 {
		t.Fatalf("payload default = %d", cfg.Defaults.MaxPayloadBytes)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tidal.yaml")
	body := `
httpAddr: ":9090"
fsync: never
defaults:
  maxConnections: 7
retention:
  interval: 30s
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":9090" || cfg.Fsync != "never" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Defaults.MaxConnections != 7 {
		t.Fatalf("maxConnections = %d", cfg.Defaults.MaxConnections)
	}
	if cfg.Retention.Interval != 30*time.Second {
		t.Fatalf("interval = %s", cfg.Retention.Interval)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
	// Untouched fields keep their defaults.
	if cfg.Defaults.MaxPayloadBytes != 64<<10 {
		t.Fatalf("payload = %d", cfg.Defaults.MaxPayloadBytes)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg != Default() {
		t.Fatal("expected defaults")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("httpAddr: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFromEnvOverlay(t *testing.T) {
	t.Setenv("TIDAL_HTTP_ADDR", ":7070")
	t.Setenv("TIDAL_DEFAULTS_MAX_CONNECTIONS", "11")
	t.Setenv("TIDAL_RETENTION_INTERVAL", "45s")
	t.Setenv("TIDAL_LOG_LEVEL", "warn")

	cfg := Default()
	if err := FromEnv(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != ":7070" || cfg.Defaults.MaxConnections != 11 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Retention.Interval != 45*time.Second {
		t.Fatalf("interval = %s", cfg.Retention.Interval)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}
