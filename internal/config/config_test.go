package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"tradejournal/pkg/journal"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvDataDir, EnvDBPath, EnvDatabaseURL, EnvAPIURL, EnvToken, EnvGeminiAPIKey} {
		t.Setenv(key, "")
	}
}

func TestRuntimePort(t *testing.T) {
	orig := GetRuntimePort()
	defer SetRuntimePort(orig)

	SetRuntimePort(0)
	if got := GetRuntimePort(); got != orig {
		t.Fatalf("expected port to remain %d, got %d", orig, got)
	}

	SetRuntimePort(9090)
	if got := GetRuntimePort(); got != 9090 {
		t.Fatalf("expected port 9090, got %d", got)
	}
}

func TestRuntimeDataDirAndEnv(t *testing.T) {
	clearEnv(t)
	SetRuntimeDataDir("")
	defer SetRuntimeDataDir("")

	tmp := t.TempDir()
	SetRuntimeDataDir(tmp)
	dir, err := GetDataDir()
	if err != nil {
		t.Fatalf("GetDataDir: %v", err)
	}
	if dir != tmp {
		t.Fatalf("expected runtime dir %q, got %q", tmp, dir)
	}

	SetRuntimeDataDir("")
	tmpEnv := filepath.Join(t.TempDir(), "data")
	t.Setenv(EnvDataDir, tmpEnv)
	dir, err = GetDataDir()
	if err != nil {
		t.Fatalf("GetDataDir env: %v", err)
	}
	if dir != tmpEnv {
		t.Fatalf("expected env dir %q, got %q", tmpEnv, dir)
	}
	if info, err := os.Stat(tmpEnv); err != nil || !info.IsDir() {
		t.Fatalf("expected data dir to be created: %v", err)
	}
}

func TestGetDBPath(t *testing.T) {
	clearEnv(t)
	dataDir := t.TempDir()
	t.Setenv(EnvDataDir, dataDir)

	got, err := GetDBPath("")
	if err != nil {
		t.Fatalf("GetDBPath: %v", err)
	}
	if got != filepath.Join(dataDir, defaultDBName) {
		t.Fatalf("unexpected default path %q", got)
	}

	abs := filepath.Join(t.TempDir(), "abs.db")
	if got, _ := GetDBPath(abs); got != abs {
		t.Fatalf("expected absolute path to pass through, got %q", got)
	}

	path := filepath.Join(t.TempDir(), "db.sqlite")
	t.Setenv(EnvDBPath, path)
	if got, _ := GetDBPath("ignored.db"); got != path {
		t.Fatalf("expected env path %q, got %q", path, got)
	}
}

func TestIsMacOSWindows(t *testing.T) {
	if IsMacOS() != (runtime.GOOS == "darwin") {
		t.Fatalf("IsMacOS mismatch")
	}
	if IsWindows() != (runtime.GOOS == "windows") {
		t.Fatalf("IsWindows mismatch")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	clearEnv(t)
	for _, name := range []string{"config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Storage.Driver = DriverMemory
			cfg.Auth.Tokens = map[string]string{"secret": "alice"}
			cfg.Client.Order = "newest"

			path := filepath.Join(t.TempDir(), "nested", name)
			if err := cfg.SaveToFile(path); err != nil {
				t.Fatalf("SaveToFile: %v", err)
			}
			loaded, err := LoadFromFile(path)
			if err != nil {
				t.Fatalf("LoadFromFile: %v", err)
			}
			if loaded.Storage.Driver != DriverMemory || loaded.Auth.Tokens["secret"] != "alice" || loaded.Client.Order != "newest" {
				t.Fatalf("loaded config mismatch: %+v", loaded)
			}
		})
	}
}

func TestLoadFromFileKeepsDefaultsForMissingKeys(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "partial.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("expected port 9100, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Driver != DriverSQLite || cfg.Client.TombstoneTTL != "1m" {
		t.Fatalf("expected defaults to survive, got %+v", cfg)
	}
}

func TestLoadFromFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 {
		t.Fatalf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDatabaseURL, "postgres://u:p@db/journal")
	t.Setenv(EnvAPIURL, "https://journal.example.com")
	t.Setenv(EnvToken, "tok")
	t.Setenv(EnvGeminiAPIKey, "gem")

	cfg := Default()
	cfg.ApplyEnv()
	if cfg.Storage.Driver != DriverPostgres || cfg.Storage.PostgresURL != "postgres://u:p@db/journal" {
		t.Fatalf("expected postgres override, got %+v", cfg.Storage)
	}
	if cfg.Client.BaseURL != "https://journal.example.com" || cfg.Client.Token != "tok" {
		t.Fatalf("expected client override, got %+v", cfg.Client)
	}
	if cfg.Coach.APIKey != "gem" {
		t.Fatalf("expected coach key override")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, want: "storage.driver"},
		{name: "postgres url", mutate: func(c *Config) { c.Storage.Driver = DriverPostgres }, want: "postgres_url"},
		{name: "auth mode", mutate: func(c *Config) { c.Auth.Mode = "ldap" }, want: "auth.mode"},
		{name: "empty owner", mutate: func(c *Config) { c.Auth.Tokens = map[string]string{"t": ""} }, want: "auth.tokens"},
		{name: "order", mutate: func(c *Config) { c.Client.Order = "random" }, want: "client.order"},
		{name: "backoff", mutate: func(c *Config) { c.Client.MaxBackoff = "soon" }, want: "client.max_backoff"},
		{name: "format", mutate: func(c *Config) { c.Log.Format = "xml" }, want: "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestClientSessionOptions(t *testing.T) {
	opts := Default().Client.SessionOptions()
	if opts.Order != journal.OrderByDate {
		t.Fatalf("expected date order, got %v", opts.Order)
	}
	if opts.InitialBackoff != 500*time.Millisecond || opts.MaxBackoff != 30*time.Second || opts.TombstoneTTL != time.Minute {
		t.Fatalf("unexpected durations: %+v", opts)
	}
	if got := Default().Server.PingIntervalDuration(); got != 30*time.Second {
		t.Fatalf("expected 30s ping interval, got %v", got)
	}
}
