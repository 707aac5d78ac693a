// Package config provides YAML-based configuration loading for chaatu.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvAPIURL   = "CHAATU_API_URL"
	EnvWSURL    = "CHAATU_WS_URL"
	EnvUserID   = "CHAATU_USER_ID"
	EnvAPIToken = "CHAATU_API_TOKEN"
	EnvModel    = "CHAATU_MODEL"
)

// Config is the top-level chaatu configuration, loaded from chaatu.yaml.
type Config struct {
	UserID     string           `yaml:"user_id"`
	API        APIConfig        `yaml:"api"`
	Transport  TransportConfig  `yaml:"transport"`
	Chat       ChatConfig       `yaml:"chat"`
	MockServer MockServerConfig `yaml:"mock_server"`
}

// APIConfig holds the persistence API endpoint settings.
type APIConfig struct {
	BaseURL    string `yaml:"base_url"`
	WSURL      string `yaml:"ws_url"` // optional; derived from base_url when empty
	Token      string `yaml:"token"`
	TimeoutSec int    `yaml:"timeout_sec"`
	MaxRetries int    `yaml:"max_retries"` // 0 means the default, -1 disables retries
}

// TransportConfig tunes the streaming connection's reconnect policy.
type TransportConfig struct {
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms"`
}

// ChatConfig holds the default generation settings sent with each message.
type ChatConfig struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	WebSearch   bool    `yaml:"web_search"`
}

// MockServerConfig configures the development backend.
type MockServerConfig struct {
	Port                 int            `yaml:"port"`
	Database             DatabaseConfig `yaml:"database"`
	UploadDir            string         `yaml:"upload_dir"`
	UploadRetentionHours int            `yaml:"upload_retention_hours"`
	SweepCron            string         `yaml:"sweep_cron"`
	ChunkDelayMS         int            `yaml:"chunk_delay_ms"`
}

// DatabaseConfig selects the mock backend's storage.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// Load reads a YAML config file from path, applies any .env and environment
// overrides, and returns a validated Config. A missing file is not an error:
// defaults plus environment are used instead.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		data = nil
	}
	return parse(data, os.Getenv)
}

// Parse unmarshals YAML bytes into a validated Config. Environment
// overrides are not applied.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) string { return "" })
}

func parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays non-empty environment values onto the file settings.
func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := getenv(EnvWSURL); v != "" {
		c.API.WSURL = v
	}
	if v := getenv(EnvUserID); v != "" {
		c.UserID = v
	}
	if v := getenv(EnvAPIToken); v != "" {
		c.API.Token = v
	}
	if v := getenv(EnvModel); v != "" {
		c.Chat.Model = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.UserID == "" {
		c.UserID = "anonymous"
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:8000"
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.TimeoutSec == 0 {
		c.API.TimeoutSec = 30
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = 2
	}
	if c.Transport.InitialBackoffMS == 0 {
		c.Transport.InitialBackoffMS = 500
	}
	if c.Transport.MaxBackoffMS == 0 {
		c.Transport.MaxBackoffMS = 8000
	}
	if c.Chat.Model == "" {
		c.Chat.Model = "chaatu-v1.2"
	}
	if c.MockServer.Port == 0 {
		c.MockServer.Port = 8000
	}
	if c.MockServer.Database.Driver == "" {
		c.MockServer.Database.Driver = "sqlite"
	}
	if c.MockServer.Database.Driver == "sqlite" && c.MockServer.Database.Path == "" {
		c.MockServer.Database.Path = "chaatu-mock.db"
	}
	if c.MockServer.Database.Driver == "mysql" {
		if c.MockServer.Database.Host == "" {
			c.MockServer.Database.Host = "127.0.0.1"
		}
		if c.MockServer.Database.Port == 0 {
			c.MockServer.Database.Port = 3306
		}
		if c.MockServer.Database.User == "" {
			c.MockServer.Database.User = "root"
		}
		if c.MockServer.Database.Name == "" {
			c.MockServer.Database.Name = "chaatu"
		}
	}
	if c.MockServer.UploadDir == "" {
		c.MockServer.UploadDir = "uploads"
	}
	if c.MockServer.UploadRetentionHours == 0 {
		c.MockServer.UploadRetentionHours = 24
	}
	if c.MockServer.SweepCron == "" {
		c.MockServer.SweepCron = "0 * * * *"
	}
	if c.MockServer.ChunkDelayMS == 0 {
		c.MockServer.ChunkDelayMS = 50
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("api.base_url %q must be an http(s) URL", c.API.BaseURL))
	}
	if c.API.WSURL != "" {
		w, err := url.Parse(c.API.WSURL)
		if err != nil || (w.Scheme != "ws" && w.Scheme != "wss") {
			errs = append(errs, fmt.Sprintf("api.ws_url %q must be a ws(s) URL", c.API.WSURL))
		}
	}
	if c.API.TimeoutSec < 0 {
		errs = append(errs, "api.timeout_sec must not be negative")
	}
	if c.API.MaxRetries < -1 {
		errs = append(errs, "api.max_retries must be -1 (no retries) or greater")
	}
	if c.Transport.InitialBackoffMS < 0 || c.Transport.MaxBackoffMS < 0 {
		errs = append(errs, "transport backoff values must not be negative")
	} else if c.Transport.InitialBackoffMS > c.Transport.MaxBackoffMS {
		errs = append(errs, "transport.initial_backoff_ms must not exceed transport.max_backoff_ms")
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		errs = append(errs, "chat.temperature must be between 0 and 2")
	}
	switch c.MockServer.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("mock_server.database.driver %q is not supported (sqlite, mysql)", c.MockServer.Database.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// StreamBase returns the websocket base URL. An explicit ws_url wins;
// otherwise the scheme of base_url is substituted (http→ws, https→wss).
func (a APIConfig) StreamBase() string {
	if a.WSURL != "" {
		return strings.TrimRight(a.WSURL, "/")
	}
	base := strings.TrimRight(a.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// Timeout returns the per-request persistence timeout.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSec) * time.Second
}

// InitialBackoff returns the reconnect backoff floor.
func (t TransportConfig) InitialBackoff() time.Duration {
	return time.Duration(t.InitialBackoffMS) * time.Millisecond
}

// MaxBackoff returns the reconnect backoff ceiling.
func (t TransportConfig) MaxBackoff() time.Duration {
	return time.Duration(t.MaxBackoffMS) * time.Millisecond
}

// Addr returns the mock server listen address.
func (m MockServerConfig) Addr() string {
	return ":" + strconv.Itoa(m.Port)
}
