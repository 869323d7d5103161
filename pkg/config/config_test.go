package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 8108 {
		t.Fatalf("default port wrong: %d", cfg.Server.Port)
	}
	if cfg.Search.NumShards != 4 {
		t.Fatalf("default shard count wrong: %d", cfg.Search.NumShards)
	}
	if cfg.Store.Driver != "bolt" {
		t.Fatalf("default store driver wrong: %s", cfg.Store.Driver)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9000
store:
  driver: memory
search:
  numShards: 8
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("PRISM_SERVER_PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("env override must win, got %d", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" || cfg.Search.NumShards != 8 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging level not applied")
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("store:\n  driver: cassandra\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatalf("unknown driver must fail validation")
	}

	os.WriteFile(path, []byte("store:\n  driver: bolt\n  path: \"\"\n"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatalf("bolt without a path must fail validation")
	}
}
