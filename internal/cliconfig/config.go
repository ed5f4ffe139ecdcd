// Package cliconfig loads the settings of the gallery command line tool.
package cliconfig

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/photo-gallery/backend/internal/upload"
)

//go:embed config.example.toml
var exampleConf []byte

// ErrNoOwner is returned when neither the config nor a flag names an owner.
var ErrNoOwner = errors.New("no owner configured")

// Config is the command line configuration loaded from a TOML file.
type Config struct {
	ServerURL string       `toml:"server_url"`
	Owner     string       `toml:"owner"`
	Token     string       `toml:"token"`
	Upload    UploadConfig `toml:"upload"`
}

// UploadConfig holds client side pipeline limits.
type UploadConfig struct {
	MaxBytes     int64    `toml:"max_bytes"`
	RetryFailed  bool     `toml:"retry_failed"`
	AllowedTypes []string `toml:"allowed_types"`
}

// DefaultConfig returns the embedded example configuration.
func DefaultConfig() *Config {
	var config Config
	if _, err := toml.Decode(string(exampleConf), &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// LoadConfig reads path over the defaults. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.Decode(string(data), config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// CreateConfigFile writes the example configuration to path. It refuses to
// overwrite an existing file.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.WriteFile(path, exampleConf, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the values a run depends on.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("server_url must be an http(s) URL, got %q", c.ServerURL)
	}
	if c.Upload.MaxBytes < 0 {
		return fmt.Errorf("upload.max_bytes must not be negative, got %d", c.Upload.MaxBytes)
	}
	return nil
}

// RetryPolicy maps retry_failed onto the pipeline policy.
func (c *Config) RetryPolicy() upload.RetryPolicy {
	if c.Upload.RetryFailed {
		return upload.RetryFailed
	}
	return upload.RetryNever
}

// PipelineOptions returns the options a client side pipeline runs with.
func (c *Config) PipelineOptions() []upload.Option {
	return []upload.Option{
		upload.WithMaxBytes(c.Upload.MaxBytes),
		upload.WithAllowedTypes(c.Upload.AllowedTypes...),
		upload.WithRetryPolicy(c.RetryPolicy()),
	}
}
