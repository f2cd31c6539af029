// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/artpar/occigate/adapters/hasher"
)

// Backend types.
const (
	BackendDummy  = "dummy"
	BackendSQLite = "sqlite"
)

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Backend    BackendConfig    `yaml:"backend"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Events     EventsConfig     `yaml:"events"`
	Extensions ExtensionsConfig `yaml:"extensions"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
	// BaseURL prefixes the locations the server renders. Derived from the
	// request when empty.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	// MaxBody limits request bodies in bytes.
	MaxBody int64 `yaml:"max_body" validate:"gte=0"`
}

// BackendConfig selects the provider that provisions resources.
type BackendConfig struct {
	Type    string        `yaml:"type" validate:"oneof=dummy sqlite"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	SQLite  SQLiteConfig  `yaml:"sqlite"`
}

// SQLiteConfig configures the sqlite inventory backend.
type SQLiteConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig configures basic authentication. Auth is enabled when both
// fields are set.
type AuthConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"` // bcrypt, see "occigate hash-password"
}

// Enabled reports whether basic auth is configured.
func (a AuthConfig) Enabled() bool {
	return a.Username != "" && a.PasswordHash != ""
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path" validate:"startswith=/"`
}

// EventsConfig configures lifecycle event delivery.
type EventsConfig struct {
	// Stream serves events as text/event-stream at /events.
	Stream bool       `yaml:"stream"`
	NATS   NATSConfig `yaml:"nats"`
}

// NATSConfig configures the NATS forwarder. Disabled when URL is empty.
type NATSConfig struct {
	URL           string `yaml:"url" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subject_prefix" validate:"omitempty,excludesall=*>"`
}

// ExtensionsConfig points at YAML category definitions loaded at startup.
type ExtensionsConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML data.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	// Fields absent from the file keep these values.
	cfg := Config{
		Metrics: MetricsConfig{Enabled: true},
		Events:  EventsConfig{Stream: true},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	OCCIGATE_SERVER_HOST        - Server host (default: 0.0.0.0)
//	OCCIGATE_SERVER_PORT        - Server port (default: 8080)
//	OCCIGATE_SERVER_BASE_URL    - Base URL of rendered locations
//	OCCIGATE_BACKEND_TYPE       - Backend: dummy or sqlite (default: dummy)
//	OCCIGATE_BACKEND_TIMEOUT    - Backend call timeout (default: 30s)
//	OCCIGATE_SQLITE_DSN         - Inventory database path (default: occigate.db)
//	OCCIGATE_AUTH_USERNAME      - Basic auth user
//	OCCIGATE_AUTH_PASSWORD_HASH - Basic auth bcrypt hash
//	OCCIGATE_LOG_LEVEL          - Log level: debug, info, warn, error (default: info)
//	OCCIGATE_LOG_FORMAT         - Log format: json or console (default: json)
//	OCCIGATE_METRICS_ENABLED    - Enable /metrics endpoint (default: true)
//	OCCIGATE_EVENTS_STREAM      - Serve events at /events (default: true)
//	OCCIGATE_NATS_URL           - Forward events to this NATS server
//	OCCIGATE_EXTENSIONS_DIR     - Directory of YAML category definitions
func LoadFromEnv() (*Config, error) {
	return Parse(nil)
}

// LoadWithFallback loads path when it exists and falls back to the
// environment otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies OCCIGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("OCCIGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("OCCIGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("OCCIGATE_SERVER_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}

	// Backend configuration
	if v := os.Getenv("OCCIGATE_BACKEND_TYPE"); v != "" {
		cfg.Backend.Type = v
	}
	if v := os.Getenv("OCCIGATE_BACKEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backend.Timeout = d
		}
	}
	if v := os.Getenv("OCCIGATE_SQLITE_DSN"); v != "" {
		cfg.Backend.SQLite.DSN = v
	}

	// Auth configuration
	if v := os.Getenv("OCCIGATE_AUTH_USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv("OCCIGATE_AUTH_PASSWORD_HASH"); v != "" {
		cfg.Auth.PasswordHash = v
	}

	// Logging configuration
	if v := os.Getenv("OCCIGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OCCIGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("OCCIGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}

	// Events configuration
	if v := os.Getenv("OCCIGATE_EVENTS_STREAM"); v != "" {
		cfg.Events.Stream = parseBool(v)
	}
	if v := os.Getenv("OCCIGATE_NATS_URL"); v != "" {
		cfg.Events.NATS.URL = v
	}

	if v := os.Getenv("OCCIGATE_EXTENSIONS_DIR"); v != "" {
		cfg.Extensions.Dir = v
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.MaxBody == 0 {
		cfg.Server.MaxBody = 1 << 20
	}

	if cfg.Backend.Type == "" {
		cfg.Backend.Type = BackendDummy
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 30 * time.Second
	}
	if cfg.Backend.SQLite.DSN == "" {
		cfg.Backend.SQLite.DSN = "occigate.db"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Events.NATS.SubjectPrefix == "" {
		cfg.Events.NATS.SubjectPrefix = "occi"
	}
}

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report yaml names so errors match the config file.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldError(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if (cfg.Auth.Username == "") != (cfg.Auth.PasswordHash == "") {
		return fmt.Errorf("auth.username and auth.password_hash must be set together")
	}
	if cfg.Auth.PasswordHash != "" {
		if err := hasher.CheckHash(cfg.Auth.PasswordHash); err != nil {
			return fmt.Errorf("auth.password_hash: %w", err)
		}
	}

	if cfg.Backend.Type == BackendSQLite && cfg.Backend.SQLite.DSN == "" {
		return fmt.Errorf("backend.sqlite.dsn is required when backend.type is 'sqlite'")
	}

	if cfg.Metrics.Enabled && (strings.HasPrefix(cfg.Metrics.Path, "/-/") || cfg.Metrics.Path == "/") {
		return fmt.Errorf("metrics.path %q collides with the OCCI interface", cfg.Metrics.Path)
	}
	if cfg.Metrics.Enabled && cfg.Events.Stream && cfg.Metrics.Path == "/events" {
		return fmt.Errorf("metrics.path %q collides with the event stream", cfg.Metrics.Path)
	}

	if cfg.Extensions.Dir != "" {
		info, err := os.Stat(cfg.Extensions.Dir)
		if err != nil {
			return fmt.Errorf("extensions.dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("extensions.dir %q is not a directory", cfg.Extensions.Dir)
		}
	}

	return nil
}

// fieldError renders e.g. "server.port must satisfy max=65535".
func fieldError(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest // drop the root struct name
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s must satisfy %s=%s, got %v", ns, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s must satisfy %s, got %v", ns, fe.Tag(), fe.Value())
}
