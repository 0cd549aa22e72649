package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPListen != ":8080" {
		t.Errorf("HTTPListen = %q", cfg.Server.HTTPListen)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
	if cfg.Sweep.IntervalSeconds != 30 {
		t.Errorf("sweep interval = %d", cfg.Sweep.IntervalSeconds)
	}
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	data := []byte(`
log:
  level: debug
server:
  http_listen: ":9999"
upstream:
  address: "127.0.0.1:3000"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("level = %q", cfg.Log.Level)
	}
	if cfg.Server.HTTPListen != ":9999" {
		t.Errorf("HTTPListen = %q", cfg.Server.HTTPListen)
	}
	// untouched fields keep their defaults
	if cfg.Server.AdminListen != ":9090" {
		t.Errorf("AdminListen = %q", cfg.Server.AdminListen)
	}
	if cfg.Upstream.Address != "127.0.0.1:3000" {
		t.Errorf("upstream = %q", cfg.Upstream.Address)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SHIELD_LOG_LEVEL", "error")
	t.Setenv("SHIELD_STORE_PATH", "/tmp/override.db")
	t.Setenv("SHIELD_ENABLE_TLS", "true")
	t.Setenv("SHIELD_SWEEP_INTERVAL", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("level = %q, env must win", cfg.Log.Level)
	}
	if cfg.Store.Path != "/tmp/override.db" {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if !cfg.Server.EnableTLS {
		t.Error("SHIELD_ENABLE_TLS=true ignored")
	}
	if cfg.Sweep.IntervalSeconds != 30 {
		t.Errorf("bad env int must not clobber the default, got %d", cfg.Sweep.IntervalSeconds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for a missing config path")
	}
}
