// Package config handles configuration loading, validation, and management for sessionvault.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "SESSIONVAULT_"

// Config holds the complete sessionvault configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Crypto configuration for chunk encryption.
	Crypto CryptoConfig `toml:"crypto" json:"crypto" yaml:"crypto"`

	// Storage configuration for manifests and wallet records.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Wallet configuration for key files and passphrase policy.
	Wallet WalletConfig `toml:"wallet" json:"wallet" yaml:"wallet"`

	// Ledger configuration for anchoring transport.
	Ledger LedgerConfig `toml:"ledger" json:"ledger" yaml:"ledger"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Metrics configuration.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// CryptoConfig holds chunk encryption settings.
type CryptoConfig struct {
	// MasterKeyPath is the file holding the 32-byte session master key
	// (raw bytes or 64 hex characters).
	MasterKeyPath string `toml:"master_key_path" json:"master_key_path" yaml:"master_key_path"`

	// CipherSuite selects the chunk cipher: "xchacha20poly1305-v1" (default)
	// or the legacy "xchacha20-stream-v0".
	CipherSuite string `toml:"cipher_suite" json:"cipher_suite" yaml:"cipher_suite"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// Type is the storage backend type: "sqlite", "badger" or "memory".
	Type string `toml:"type" json:"type" yaml:"type"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BadgerDir is the Badger database directory.
	BadgerDir string `toml:"badger_dir" json:"badger_dir" yaml:"badger_dir"`

	// MaxConnections is the maximum number of database connections.
	MaxConnections int `toml:"max_connections" json:"max_connections" yaml:"max_connections"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// WalletConfig holds wallet subsystem configuration.
type WalletConfig struct {
	// Dir is the directory holding wallet key files.
	Dir string `toml:"dir" json:"dir" yaml:"dir"`

	// AllowUnencrypted permits wallets whose private key is stored
	// without a passphrase.
	AllowUnencrypted bool `toml:"allow_unencrypted" json:"allow_unencrypted" yaml:"allow_unencrypted"`

	// SignerWallet is the wallet used to sign anchoring transactions.
	SignerWallet string `toml:"signer_wallet" json:"signer_wallet" yaml:"signer_wallet"`

	// MaxFileSize bounds wallet file reads in bytes.
	MaxFileSize int64 `toml:"max_file_size" json:"max_file_size" yaml:"max_file_size"`
}

// LedgerConfig holds anchoring transport configuration.
type LedgerConfig struct {
	// Backend is "memory", "http" or "amqp".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// Endpoint is the JSON-RPC URL for the http backend.
	Endpoint string `toml:"endpoint" json:"endpoint" yaml:"endpoint"`

	// APIToken is sent as a bearer token to the http backend.
	APIToken string `toml:"api_token" json:"api_token" yaml:"api_token"`

	// AMQPURL is the broker URL for the amqp backend.
	AMQPURL string `toml:"amqp_url" json:"amqp_url" yaml:"amqp_url"`

	// Exchange is the AMQP exchange anchoring requests are published to.
	Exchange string `toml:"exchange" json:"exchange" yaml:"exchange"`

	// RoutingKey is the AMQP routing key for anchoring requests.
	RoutingKey string `toml:"routing_key" json:"routing_key" yaml:"routing_key"`

	// TimeoutSec bounds a single submission.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`

	// RatePerSec limits submissions per second. Zero disables limiting.
	RatePerSec float64 `toml:"rate_per_sec" json:"rate_per_sec" yaml:"rate_per_sec"`

	// RateBurst is the limiter burst size.
	RateBurst int `toml:"rate_burst" json:"rate_burst" yaml:"rate_burst"`
}

// Timeout returns the submission timeout as a duration.
func (l LedgerConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSec) * time.Second
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log destination: "stdout", "stderr", or "file".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when output is "file".
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of rotated log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of rotated log files.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to gzip rotated log files.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`

	// AuditPath is the audit trail file. Empty disables auditing.
	AuditPath string `toml:"audit_path" json:"audit_path" yaml:"audit_path"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	// Enabled turns on metric collection.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ListenAddr is the address for the /metrics endpoint.
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`

	// Namespace prefixes every metric name.
	Namespace string `toml:"namespace" json:"namespace" yaml:"namespace"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()
	return &Config{
		Version: Version,
		Crypto: CryptoConfig{
			MasterKeyPath: filepath.Join(dir, "master.key"),
			CipherSuite:   "xchacha20poly1305-v1",
		},
		Storage: StorageConfig{
			Type:           "sqlite",
			Path:           filepath.Join(dir, "sessionvault.db"),
			BadgerDir:      filepath.Join(dir, "badger"),
			MaxConnections: 5,
			BusyTimeoutMs:  5000,
		},
		Wallet: WalletConfig{
			Dir:              filepath.Join(dir, "wallets"),
			AllowUnencrypted: false,
			MaxFileSize:      64 * 1024,
		},
		Ledger: LedgerConfig{
			Backend:    "memory",
			Exchange:   "ledger",
			RoutingKey: "anchor.submit",
			TimeoutSec: 30,
			RatePerSec: 0,
			RateBurst:  1,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "sessionvault.log"),
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9464",
			Namespace:  "sessionvault",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// DataDir returns the base sessionvault data directory.
// Uses platform-specific paths or the SESSIONVAULT_DATA_DIR override.
func DataDir() string {
	if envDir := os.Getenv(EnvPrefix + "DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all necessary directories.
func (c *Config) EnsureDirectories() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dirs := []string{
		filepath.Dir(c.Crypto.MasterKeyPath),
		c.Wallet.Dir,
	}
	switch c.Storage.Type {
	case "sqlite":
		dirs = append(dirs, filepath.Dir(c.Storage.Path))
	case "badger":
		dirs = append(dirs, c.Storage.BadgerDir)
	}
	if c.Logging.Output == "file" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with SESSIONVAULT_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Crypto overrides
	if v := os.Getenv(EnvPrefix + "MASTER_KEY_PATH"); v != "" {
		c.Crypto.MasterKeyPath = v
	}
	if v := os.Getenv(EnvPrefix + "CIPHER_SUITE"); v != "" {
		c.Crypto.CipherSuite = v
	}

	// Storage overrides
	if v := os.Getenv(EnvPrefix + "STORAGE_TYPE"); v != "" {
		c.Storage.Type = v
	}
	if v := os.Getenv(EnvPrefix + "STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv(EnvPrefix + "BADGER_DIR"); v != "" {
		c.Storage.BadgerDir = v
	}

	// Wallet overrides
	if v := os.Getenv(EnvPrefix + "WALLET_DIR"); v != "" {
		c.Wallet.Dir = v
	}
	if v := os.Getenv(EnvPrefix + "SIGNER_WALLET"); v != "" {
		c.Wallet.SignerWallet = v
	}
	if v := os.Getenv(EnvPrefix + "ALLOW_UNENCRYPTED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Wallet.AllowUnencrypted = b
		}
	}

	// Ledger overrides; credentials come from env for security
	if v := os.Getenv(EnvPrefix + "LEDGER_BACKEND"); v != "" {
		c.Ledger.Backend = v
	}
	if v := os.Getenv(EnvPrefix + "LEDGER_ENDPOINT"); v != "" {
		c.Ledger.Endpoint = v
	}
	if v := os.Getenv(EnvPrefix + "LEDGER_API_TOKEN"); v != "" {
		c.Ledger.APIToken = v
	}
	if v := os.Getenv(EnvPrefix + "AMQP_URL"); v != "" {
		c.Ledger.AMQPURL = v
	}

	// Logging overrides
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}

	// Metrics overrides
	if v := os.Getenv(EnvPrefix + "METRICS_ADDR"); v != "" {
		c.Metrics.ListenAddr = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version: c.Version,
		Crypto:  c.Crypto,
		Storage: c.Storage,
		Wallet:  c.Wallet,
		Ledger:  c.Ledger,
		Logging: c.Logging,
		Metrics: c.Metrics,
	}
}

// decodeTOML decodes TOML and rejects keys that do not map to a field.
func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown keys: %v", undecoded)
	}
	return nil
}
