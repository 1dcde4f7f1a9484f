package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
)

// Config represents the main configuration for fstore.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // "debug", "info" (default), "warn", "error"
	Storage    StorageConfig    `toml:"storage"`
	Quota      QuotaConfig      `toml:"quota"`
	Database   DatabaseConfig   `toml:"database"`
	Encryption EncryptionConfig `toml:"encryption"`
	Lock       LockConfig       `toml:"lock"`
	Staging    StagingConfig    `toml:"staging"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Import     ImportConfig     `toml:"import"`
}

// StorageConfig selects where blob bytes live.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StorageConfig struct {
	Type        string `toml:"type"`        // "filesystem", "memory", or "s3"
	Compression string `toml:"compression"` // "none" (default) or "zstd"

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
}

// QuotaConfig bounds the total size of stored content.
type QuotaConfig struct {
	Enabled       bool    `toml:"enabled"`
	MaxSize       string  `toml:"max_size"`       // human size, e.g. "200MB" (binary units)
	WarnThreshold float64 `toml:"warn_threshold"` // percent of max_size; 0 means the default of 90
}

// MaxSizeBytes parses MaxSize.
func (q QuotaConfig) MaxSizeBytes() (int64, error) {
	return parseSize("quota.max_size", q.MaxSize)
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory", or "postgres"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// EncryptionConfig selects at-rest encryption and holds the age key pair paths.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age", or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// LockConfig selects how concurrent admissions for the same owner are serialized.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LockConfig struct {
	Type string `toml:"type"` // "none" (default), "local", or "redis"

	// Redis-specific fields (only used when Type == "redis")
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty"`
	RedisDB       int    `toml:"redis_db,omitempty"`
	TTL           string `toml:"ttl,omitempty"` // lock lease, e.g. "30s"
}

// TTLDuration parses TTL, defaulting to 30s.
func (l LockConfig) TTLDuration() (time.Duration, error) {
	if l.TTL == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(l.TTL)
	if err != nil {
		return 0, fmt.Errorf("invalid lock.ttl %q: %w", l.TTL, err)
	}
	return d, nil
}

// StagingConfig represents configuration for the upload spool used when a
// source can only be read once (stdin).
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StagingConfig struct {
	Type    string `toml:"type"`          // "memory" or "filesystem"
	Dir     string `toml:"dir,omitempty"` // only used for type=filesystem
	MaxSize string `toml:"max_size"`      // human size; defaults to 1GB
}

// MaxSizeBytes parses MaxSize.
func (s StagingConfig) MaxSizeBytes() (int64, error) {
	return parseSize("staging.max_size", s.MaxSize)
}

// MetricsConfig holds the Prometheus exporter settings.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// ImportConfig holds settings for bulk directory imports.
type ImportConfig struct {
	Ignore []string `toml:"ignore"`
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Storage: StorageConfig{
			Type:        "filesystem",
			Compression: "none",
			Root:        filepath.Join(baseDir, "storage"),
		},
		Quota: QuotaConfig{
			Enabled:       true,
			MaxSize:       "200MB",
			WarnThreshold: 90,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "fstore.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "fstore.key"),
		},
		Lock: LockConfig{Type: "none"},
		Staging: StagingConfig{
			Type:    "filesystem",
			Dir:     filepath.Join(baseDir, "staging"),
			MaxSize: "1GB",
		},
		Metrics: MetricsConfig{Listen: ":9090"},
	}
}

// Validate checks that every tagged union names a known type and carries
// the fields that type needs.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "filesystem":
		if c.Storage.Root == "" {
			return fmt.Errorf("filesystem storage requires root to be set")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("s3 storage requires s3_bucket to be set")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage type: %q", c.Storage.Type)
	}

	switch c.Storage.Compression {
	case "", "none", "zstd":
	default:
		return fmt.Errorf("unknown compression: %q", c.Storage.Compression)
	}

	if c.Quota.Enabled {
		max, err := c.Quota.MaxSizeBytes()
		if err != nil {
			return err
		}
		if max <= 0 {
			return fmt.Errorf("quota.max_size must be positive when quota is enabled")
		}
	}
	if c.Quota.WarnThreshold < 0 || c.Quota.WarnThreshold > 100 {
		return fmt.Errorf("quota.warn_threshold must be between 0 and 100, got %v", c.Quota.WarnThreshold)
	}

	switch c.Database.Type {
	case "sqlite":
		if c.Database.DataDir == "" {
			return fmt.Errorf("sqlite database requires data_dir to be set")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("postgres database requires dsn to be set")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database type: %q", c.Database.Type)
	}

	switch c.Lock.Type {
	case "", "none", "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("redis lock requires redis_addr to be set")
		}
		if _, err := c.Lock.TTLDuration(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown lock type: %q", c.Lock.Type)
	}

	return nil
}

func parseSize(field, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	return n, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path, refusing to replace an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
