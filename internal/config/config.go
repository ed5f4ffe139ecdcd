// Package config provides YAML-based configuration management for the gallery server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the root YAML configuration structure
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Records  RecordsConfig  `yaml:"records"`
	Cache    CacheConfig    `yaml:"cache"`
	Events   EventsConfig   `yaml:"events"`
	Security SecurityConfig `yaml:"security"`
	Upload   UploadConfig   `yaml:"upload"`
	Advanced AdvancedConfig `yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int      `yaml:"port"`
	BindAddress  string   `yaml:"bind_address"`
	PublicURL    string   `yaml:"public_url"`
	EnableCORS   bool     `yaml:"enable_cors"`
	AllowOrigins []string `yaml:"allow_origins"`
	ReadTimeout  int      `yaml:"read_timeout_seconds"`
	WriteTimeout int      `yaml:"write_timeout_seconds"`
	IdleTimeout  int      `yaml:"idle_timeout_seconds"`
	// BodyLimit caps JSON request bodies. Upload routes enforce upload.max_bytes instead.
	BodyLimit    string   `yaml:"body_limit"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	// Backend is one of local, s3, minio, oss.
	Backend          string `yaml:"backend"`
	DataDirectory    string `yaml:"data_directory"`
	UploadsDirectory string `yaml:"uploads_directory"`
	Bucket           string `yaml:"bucket,omitempty"`
	Region           string `yaml:"region,omitempty"`
	Endpoint         string `yaml:"endpoint,omitempty"`
	UseSSL           bool   `yaml:"use_ssl"`
	PathStyle        bool   `yaml:"path_style"`
	// CredentialsSecret names a Secrets Manager secret holding access_key/secret_key.
	CredentialsSecret string `yaml:"credentials_secret,omitempty"`
	AccessKey         string `yaml:"-"`
	SecretKey         string `yaml:"-"`
	URLTTLMinutes     int    `yaml:"url_ttl_minutes"`
}

// RecordsConfig selects the metadata store.
type RecordsConfig struct {
	// Backend is one of memory, duckdb, sqlite, postgres.
	Backend     string `yaml:"backend"`
	DSN         string `yaml:"dsn"`
	Threads     int    `yaml:"duckdb_threads"`
	MemoryLimit string `yaml:"duckdb_memory_limit"`
}

// CacheConfig configures the owner listing cache.
type CacheConfig struct {
	// Backend is one of none, memory, redis.
	Backend    string `yaml:"backend"`
	Addr       string `yaml:"addr,omitempty"`
	Password   string `yaml:"-"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// EventsConfig configures gallery notifications.
type EventsConfig struct {
	// Backend is one of none, log, kafka.
	Backend string   `yaml:"backend"`
	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic"`
}

// UserConfig maps a bearer token to a gallery owner.
type UserConfig struct {
	ID    string `yaml:"id"`
	Email string `yaml:"email"`
	Token string `yaml:"token"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	AllowFileDeletion bool         `yaml:"allow_file_deletion"`
	RequireAuth       bool         `yaml:"require_authentication"`
	Users             []UserConfig `yaml:"users,omitempty"`
}

// UploadConfig contains upload pipeline settings
type UploadConfig struct {
	MaxBytes               int64    `yaml:"max_bytes"`
	AllowedTypes           []string `yaml:"allowed_types"`
	RetryPolicy            string   `yaml:"retry_policy"`
	BatchMaxAgeMinutes     int      `yaml:"batch_max_age_minutes"`
	CleanupIntervalMinutes int      `yaml:"cleanup_interval_minutes"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `yaml:"log_level"`
	Development             bool   `yaml:"development"`
	EnableRequestLogging    bool   `yaml:"enable_request_logging"`
	WebSocketMaxMessageSize int    `yaml:"websocket_max_message_size_kb"`
}

// DefaultMaxBytes is the per-file upload limit (5 MB).
const DefaultMaxBytes = 5 * 1024 * 1024

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         5000,
			BindAddress:  "0.0.0.0",
			PublicURL:    "http://localhost:5000",
			EnableCORS:   true,
			AllowOrigins: []string{"*"},
			ReadTimeout:  30,
			WriteTimeout: 60,
			IdleTimeout:  120,
			BodyLimit:    "1M",
		},
		Storage: StorageConfig{
			Backend:          "local",
			DataDirectory:    "./data",
			UploadsDirectory: "./data/images",
			Region:           "us-east-1",
			UseSSL:           true,
			URLTTLMinutes:    60,
		},
		Records: RecordsConfig{
			Backend:     "duckdb",
			DSN:         "./data/gallery.duckdb",
			Threads:     2,
			MemoryLimit: "256MB",
		},
		Cache: CacheConfig{
			Backend:    "memory",
			TTLSeconds: 300,
		},
		Events: EventsConfig{
			Backend: "log",
			Topic:   "gallery.events",
		},
		Security: SecurityConfig{
			AllowFileDeletion: true,
			RequireAuth:       false,
		},
		Upload: UploadConfig{
			MaxBytes:               DefaultMaxBytes,
			AllowedTypes:           []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
			RetryPolicy:            "never",
			BatchMaxAgeMinutes:     60,
			CleanupIntervalMinutes: 5,
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			EnableRequestLogging:    true,
			WebSocketMaxMessageSize: 64,
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file is
// created with the defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to a YAML file
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Photo gallery server configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.UploadsDirectory = filepath.Join(dataDir, "images")
	}

	if backend := os.Getenv("STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if ak := os.Getenv("STORAGE_ACCESS_KEY"); ak != "" {
		c.Storage.AccessKey = ak
	}
	if sk := os.Getenv("STORAGE_SECRET_KEY"); sk != "" {
		c.Storage.SecretKey = sk
	}

	if dsn := os.Getenv("RECORDS_DSN"); dsn != "" {
		c.Records.DSN = dsn
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Cache.Backend = "redis"
		c.Cache.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Cache.Password = pw
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Events.Backend = "kafka"
		c.Events.Brokers = strings.Split(brokers, ",")
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if !filepath.IsAbs(c.Storage.UploadsDirectory) {
		c.Storage.UploadsDirectory = filepath.Join(configDir, c.Storage.UploadsDirectory)
	}
	switch c.Records.Backend {
	case "duckdb", "sqlite":
		if c.Records.DSN != "" && c.Records.DSN != ":memory:" && !filepath.IsAbs(c.Records.DSN) {
			c.Records.DSN = filepath.Join(configDir, c.Records.DSN)
		}
	}
}

// Validate checks backend names and limits.
func (c *AppConfig) Validate() error {
	if err := oneOf("storage.backend", c.Storage.Backend, "local", "s3", "minio", "oss"); err != nil {
		return err
	}
	if err := oneOf("records.backend", c.Records.Backend, "memory", "duckdb", "sqlite", "postgres"); err != nil {
		return err
	}
	if err := oneOf("cache.backend", c.Cache.Backend, "none", "memory", "redis"); err != nil {
		return err
	}
	if err := oneOf("events.backend", c.Events.Backend, "none", "log", "kafka"); err != nil {
		return err
	}
	if c.Storage.Backend != "local" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required for backend %q", c.Storage.Backend)
	}
	if c.Upload.MaxBytes < 0 {
		return fmt.Errorf("upload.max_bytes must not be negative")
	}
	if c.Security.RequireAuth && len(c.Security.Users) == 0 {
		return fmt.Errorf("security.require_authentication needs at least one user")
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unknown value %q (want one of %s)", field, value, strings.Join(allowed, ", "))
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// URLTTL returns the lifetime of signed image URLs.
func (c *AppConfig) URLTTL() time.Duration {
	if c.Storage.URLTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.Storage.URLTTLMinutes) * time.Minute
}

// CacheTTL returns the listing cache lifetime. It never exceeds the URL TTL.
func (c *AppConfig) CacheTTL() time.Duration {
	ttl := time.Duration(c.Cache.TTLSeconds) * time.Second
	if ttl <= 0 || ttl >= c.URLTTL() {
		ttl = c.URLTTL() / 2
	}
	return ttl
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{c.Storage.DataDirectory}
	if c.Storage.Backend == "local" {
		dirs = append(dirs, c.Storage.UploadsDirectory)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
