// Package config loads the journal configuration file shared by the server
// and the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tradejournal/pkg/journal"
)

// Environment overrides.
const (
	EnvDataDir      = "TRADEJOURNAL_DATA_DIR"
	EnvDBPath       = "TRADEJOURNAL_DB_PATH"
	EnvDatabaseURL  = "TRADEJOURNAL_DATABASE_URL"
	EnvAPIURL       = "TRADEJOURNAL_API_URL"
	EnvToken        = "TRADEJOURNAL_TOKEN"
	EnvGeminiAPIKey = "TRADEJOURNAL_GEMINI_API_KEY"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Auth modes.
const (
	AuthStatic   = "static"
	AuthFirebase = "firebase"
)

// Config is the complete configuration.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Auth    AuthConfig    `json:"auth" yaml:"auth"`
	Client  ClientConfig  `json:"client" yaml:"client"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Coach   CoachConfig   `json:"coach" yaml:"coach"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host           string   `json:"host" yaml:"host"`
	Port           int      `json:"port" yaml:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
	PingInterval   string   `json:"ping_interval,omitempty" yaml:"ping_interval,omitempty"` // e.g. "30s"
}

// StorageConfig selects and configures the trade store.
type StorageConfig struct {
	Driver      string `json:"driver" yaml:"driver"` // sqlite, postgres or memory
	SQLitePath  string `json:"sqlite_path,omitempty" yaml:"sqlite_path,omitempty"`
	PostgresURL string `json:"postgres_url,omitempty" yaml:"postgres_url,omitempty"`
	MaxConns    int32  `json:"max_conns,omitempty" yaml:"max_conns,omitempty"`
	MinConns    int32  `json:"min_conns,omitempty" yaml:"min_conns,omitempty"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Mode string `json:"mode" yaml:"mode"` // static or firebase
	// Tokens maps static bearer tokens to owner ids.
	Tokens              map[string]string `json:"tokens,omitempty" yaml:"tokens,omitempty"`
	FirebaseCredentials string            `json:"firebase_credentials,omitempty" yaml:"firebase_credentials,omitempty"`
}

// ClientConfig configures the CLI's connection to a server.
type ClientConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	Token          string `json:"token,omitempty" yaml:"token,omitempty"`
	Order          string `json:"order,omitempty" yaml:"order,omitempty"`
	InitialBackoff string `json:"initial_backoff,omitempty" yaml:"initial_backoff,omitempty"`
	MaxBackoff     string `json:"max_backoff,omitempty" yaml:"max_backoff,omitempty"`
	TombstoneTTL   string `json:"tombstone_ttl,omitempty" yaml:"tombstone_ttl,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Dir    string `json:"dir,omitempty" yaml:"dir,omitempty"`
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // text or json
}

// CoachConfig configures the LLM review.
type CoachConfig struct {
	Model  string `json:"model" yaml:"model"`
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// Default returns a configuration that runs a local sqlite server and a
// CLI pointed at it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8000,
			PingInterval: "30s",
		},
		Storage: StorageConfig{
			Driver:     DriverSQLite,
			SQLitePath: defaultDBName,
		},
		Auth: AuthConfig{
			Mode: AuthStatic,
		},
		Client: ClientConfig{
			BaseURL:        "http://127.0.0.1:8000",
			Order:          "date",
			InitialBackoff: "500ms",
			MaxBackoff:     "30s",
			TombstoneTTL:   "1m",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Coach: CoachConfig{
			Model: "gemini-2.5-flash",
		},
	}
}

// LoadFromFile reads path over Default(), applies environment overrides and
// validates the result. YAML is tried first, then JSON.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads path when it exists and falls back to Default() with
// environment overrides otherwise.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		cfg := Default()
		cfg.ApplyEnv()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromFile(path)
}

// ApplyEnv overrides fields from TRADEJOURNAL_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Storage.Driver = DriverPostgres
		c.Storage.PostgresURL = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.Client.BaseURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Client.Token = v
	}
	if v := os.Getenv(EnvGeminiAPIKey); v != "" {
		c.Coach.APIKey = v
	}
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if _, err := parseDuration("server.ping_interval", c.Server.PingInterval); err != nil {
		return err
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver must be 'sqlite', 'postgres' or 'memory'")
	}
	if c.Storage.MinConns < 0 || c.Storage.MaxConns < 0 {
		return fmt.Errorf("storage pool sizes must not be negative")
	}

	switch c.Auth.Mode {
	case AuthStatic:
		for token, owner := range c.Auth.Tokens {
			if strings.TrimSpace(token) == "" || strings.TrimSpace(owner) == "" {
				return fmt.Errorf("auth.tokens entries need a non-empty token and owner")
			}
		}
	case AuthFirebase:
	default:
		return fmt.Errorf("auth.mode must be 'static' or 'firebase'")
	}

	if c.Client.Order != "" {
		if _, ok := journal.ParseOrder(c.Client.Order); !ok {
			return fmt.Errorf("client.order must be 'insertion', 'newest' or 'date'")
		}
	}
	for name, value := range map[string]string{
		"client.initial_backoff": c.Client.InitialBackoff,
		"client.max_backoff":     c.Client.MaxBackoff,
		"client.tombstone_ttl":   c.Client.TombstoneTTL,
	} {
		if _, err := parseDuration(name, value); err != nil {
			return err
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

// SessionOptions converts the client section into journal session options.
// Unset or unparsable values keep the journal defaults.
func (c ClientConfig) SessionOptions() journal.SessionOptions {
	var opts journal.SessionOptions
	if order, ok := journal.ParseOrder(c.Order); ok {
		opts.Order = order
	}
	opts.InitialBackoff, _ = parseDuration("", c.InitialBackoff)
	opts.MaxBackoff, _ = parseDuration("", c.MaxBackoff)
	opts.TombstoneTTL, _ = parseDuration("", c.TombstoneTTL)
	return opts
}

// PingIntervalDuration returns the parsed ping interval, or 0 when unset.
func (s ServerConfig) PingIntervalDuration() time.Duration {
	d, _ := parseDuration("", s.PingInterval)
	return d
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}
