package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.AuthMode != "dev" {
		t.Fatalf("defaults: %+v", cfg)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "itinsync.yaml")
	data := []byte("port: \"9000\"\nbufferMinutes: 15\ncacheLiveSkew: 30s\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7070")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "7070" {
		t.Fatalf("env must override file: %q", cfg.Port)
	}
	if cfg.BufferMinutes != 15 || cfg.CacheLiveSkew.Std() != 30*time.Second {
		t.Fatalf("file values: %+v", cfg)
	}
}
