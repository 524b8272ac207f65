// Package config loads and writes the opsctl configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/supplyops/opsconsole/internal/common/logtrace"
	"github.com/supplyops/opsconsole/internal/storage"
)

const (
	// DefaultConfigFile is the default name of the config file
	DefaultConfigFile = "config.toml"
	// ConfigFormatVersion is the current version of the configuration file format
	ConfigFormatVersion = "0.1.0"
	// DefaultTimeout is the per-request timeout when none is configured
	DefaultTimeout = 15 * time.Second
	// DefaultLogLevel is the log level when none is configured
	DefaultLogLevel = "warn"
)

// Environment variables that override the file.
const (
	EnvServerURL      = "OPSCTL_SERVER_URL"
	EnvTimeout        = "OPSCTL_TIMEOUT"
	EnvStorageBackend = "OPSCTL_STORAGE_BACKEND"
	EnvLogLevel       = "OPSCTL_LOG_LEVEL"
)

// ErrNotConfigured is returned when no server URL is known.
var ErrNotConfigured = errors.New("server url is not configured, run `opsctl config --server URL`")

// StorageConfig selects where the session tokens live.
type StorageConfig struct {
	Backend string         `toml:"backend" validate:"omitempty,oneof=file memory redis"`
	Options map[string]any `toml:"options,omitempty"` // backend specific, see storage.Options
}

// Config holds all configuration parameters for opsctl
type Config struct {
	FormatVersion string        `toml:"format_version"`
	ServerURL     string        `toml:"server_url" validate:"required,url"`
	Timeout       time.Duration `toml:"timeout" validate:"gte=0"`
	LogLevel      string        `toml:"log_level"`
	Storage       StorageConfig `toml:"storage"`
}

var validate = validator.New()

// Default returns a configuration with every optional setting filled in.
func Default() *Config {
	return &Config{
		FormatVersion: ConfigFormatVersion,
		Timeout:       DefaultTimeout,
		LogLevel:      DefaultLogLevel,
		Storage:       StorageConfig{Backend: storage.BackendFile},
	}
}

// DefaultPath returns the default path for the config file.
// It uses the OS-specific config directory (e.g., ~/.config/opsctl on Linux)
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "opsctl", DefaultConfigFile), nil
}

// Read parses the config file without applying the environment or validating.
// A missing file yields the defaults.
func Read(file string) (*Config, error) {
	if file == "" {
		var err error
		if file, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	cfg := Default()
	content, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}
	if _, err := toml.Decode(string(content), cfg); err != nil {
		return nil, fmt.Errorf("unable to parse config file: %w", err)
	}
	return cfg, nil
}

// Load reads the config file, loads .env from the working directory, applies
// the OPSCTL_* environment overrides and validates the result.
func Load(file string) (*Config, error) {
	cfg, err := Read(file)
	if err != nil {
		return nil, err
	}
	if cwd, err := os.Getwd(); err == nil {
		_ = godotenv.Load(filepath.Join(cwd, ".env")) // no error if .env doesn't exist
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment.
func (cfg *Config) ApplyEnv() error {
	if v := os.Getenv(EnvServerURL); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTimeout, err)
		}
		cfg.Timeout = d
	}
	if v := os.Getenv(EnvStorageBackend); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	return nil
}

// Validate checks the configuration and normalizes the server URL.
func (cfg *Config) Validate() error {
	if cfg.FormatVersion != ConfigFormatVersion {
		return fmt.Errorf("unsupported config file format version: %s", cfg.FormatVersion)
	}
	if cfg.ServerURL == "" {
		return ErrNotConfigured
	}
	cfg.ServerURL = MorphServer(cfg.ServerURL)
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := logtrace.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if _, err := storage.DecodeOptions(cfg.Storage.Options); err != nil {
		return fmt.Errorf("invalid storage.options: %w", err)
	}
	return nil
}

// Origin returns the identity that namespaces this server's session.
func (cfg *Config) Origin() (string, error) {
	return storage.OriginSlug(cfg.ServerURL)
}

// RequestTimeout returns the configured timeout or DefaultTimeout.
func (cfg *Config) RequestTimeout() time.Duration {
	if cfg.Timeout <= 0 {
		return DefaultTimeout
	}
	return cfg.Timeout
}

// WriteConfig writes the configuration to file, creating its directory.
func (cfg *Config) WriteConfig(file string) error {
	if file == "" {
		return errors.New("file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}

	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(cfg); err != nil {
		return fmt.Errorf("unable to generate configuration: %w", err)
	}
	if err := os.WriteFile(file, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("unable to write config file: %w", err)
	}
	return nil
}

// MorphServer ensures the server URL is properly formatted.
// Adds https:// if no scheme is given and removes trailing slashes.
func MorphServer(server string) string {
	if server == "" {
		return server
	}
	server = strings.TrimRight(strings.TrimSpace(server), "/")
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "https://" + server
	}
	return server
}
