package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is(err, ErrInvalidConfig) match any validation failure.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateCrypto(&c.Crypto)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateWallet(&c.Wallet)...)
	errs = append(errs, validateLedger(&c.Ledger)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateCrypto(cr *CryptoConfig) ValidationErrors {
	var errs ValidationErrors

	switch cr.CipherSuite {
	case "", "xchacha20poly1305-v1", "xchacha20-stream-v0":
	default:
		errs = append(errs, ValidationError{
			Field:   "crypto.cipher_suite",
			Message: fmt.Sprintf("unknown cipher suite: %s (valid: xchacha20poly1305-v1, xchacha20-stream-v0)", cr.CipherSuite),
		})
	}

	if cr.MasterKeyPath == "" {
		errs = append(errs, *RequiredFieldError("crypto.master_key_path"))
	}

	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	switch s.Type {
	case "sqlite":
		if s.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "storage.path",
				Message: "database path is required for sqlite storage",
			})
		}
	case "badger":
		if s.BadgerDir == "" {
			errs = append(errs, ValidationError{
				Field:   "storage.badger_dir",
				Message: "directory is required for badger storage",
			})
		}
	case "memory":
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.type",
			Message: fmt.Sprintf("invalid storage type: %s (valid: sqlite, badger, memory)", s.Type),
		})
	}

	if s.MaxConnections < 1 || s.MaxConnections > 100 {
		errs = append(errs, *RangeError("storage.max_connections", 1, 100))
	}

	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}

	return errs
}

func validateWallet(w *WalletConfig) ValidationErrors {
	var errs ValidationErrors

	if w.Dir == "" {
		errs = append(errs, *RequiredFieldError("wallet.dir"))
	} else if info, err := os.Stat(expandPath(w.Dir)); err == nil && !info.IsDir() {
		errs = append(errs, ValidationError{
			Field:   "wallet.dir",
			Message: fmt.Sprintf("%s is not a directory", w.Dir),
		})
	}

	if w.MaxFileSize < 1024 {
		errs = append(errs, ValidationError{
			Field:   "wallet.max_file_size",
			Message: "max file size must be at least 1024 bytes",
		})
	}

	return errs
}

func validateLedger(l *LedgerConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Backend {
	case "memory":
	case "http":
		if !isValidURL(l.Endpoint) {
			errs = append(errs, ValidationError{
				Field:   "ledger.endpoint",
				Message: fmt.Sprintf("invalid endpoint URL: %q", l.Endpoint),
			})
		}
	case "amqp":
		if u, err := url.Parse(l.AMQPURL); err != nil || (u.Scheme != "amqp" && u.Scheme != "amqps") {
			errs = append(errs, ValidationError{
				Field:   "ledger.amqp_url",
				Message: fmt.Sprintf("invalid AMQP URL: %q", l.AMQPURL),
			})
		}
		if l.RoutingKey == "" {
			errs = append(errs, *RequiredFieldError("ledger.routing_key"))
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "ledger.backend",
			Message: fmt.Sprintf("invalid ledger backend: %s (valid: memory, http, amqp)", l.Backend),
		})
	}

	if l.TimeoutSec < 1 || l.TimeoutSec > 600 {
		errs = append(errs, *RangeError("ledger.timeout_sec", 1, 600))
	}

	if l.RatePerSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "ledger.rate_per_sec",
			Message: "rate cannot be negative",
		})
	}
	if l.RatePerSec > 0 && l.RateBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "ledger.rate_burst",
			Message: "burst must be at least 1 when rate limiting is enabled",
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %q (valid: stdout, stderr, file)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !m.Enabled {
		return errs
	}

	if _, _, err := net.SplitHostPort(m.ListenAddr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen_addr",
			Message: fmt.Sprintf("invalid listen address %q: %v", m.ListenAddr, err),
		})
	}

	if m.Namespace != "" && strings.ContainsAny(m.Namespace, " -.") {
		errs = append(errs, ValidationError{
			Field:   "metrics.namespace",
			Message: "namespace may only contain letters, digits and underscores",
		})
	}

	return errs
}

// Helper functions

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func isValidURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsWarning returns true if this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	warningFields := []string{
		"wallet.dir", // May be created on first use
	}
	for _, f := range warningFields {
		if strings.HasPrefix(e.Field, f) {
			return true
		}
	}
	return false
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
