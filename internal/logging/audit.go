package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

// Audit event types.
const (
	AuditEventWalletCreated   AuditEventType = "wallet_created"
	AuditEventWalletLoaded    AuditEventType = "wallet_loaded"
	AuditEventWalletUnloaded  AuditEventType = "wallet_unloaded"
	AuditEventWalletDeleted   AuditEventType = "wallet_deleted"
	AuditEventSignature       AuditEventType = "signature"
	AuditEventManifestCreated AuditEventType = "manifest_created"
	AuditEventAnchor          AuditEventType = "anchor"
	AuditEventIntegrityCheck  AuditEventType = "integrity_check"
	AuditEventConfigChange    AuditEventType = "config_change"
	AuditEventStartup         AuditEventType = "startup"
	AuditEventShutdown        AuditEventType = "shutdown"
)

// Audit results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// AuditEvent represents a security-relevant event.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType AuditEventType         `json:"event_type"`
	Component string                 `json:"component"`
	SessionID string                 `json:"session_id,omitempty"`
	WalletID  string                 `json:"wallet_id,omitempty"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource,omitempty"`
	Result    string                 `json:"result"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Error     string                 `json:"error,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	// Rotation configures the audit file. Ignored when Writer is set.
	Rotation RotationConfig

	// Writer receives events instead of a rotated file.
	Writer io.Writer

	// Component is the component name for audit events.
	Component string
}

// AuditLogger writes one JSON line per security-relevant event.
// All methods are safe on a nil receiver, which disables auditing.
type AuditLogger struct {
	config  *AuditLoggerConfig
	w       io.Writer
	rotator *FileRotator
	mu      sync.Mutex
	now     func() time.Time
}

// NewAuditLogger creates a new AuditLogger.
func NewAuditLogger(cfg *AuditLoggerConfig) (*AuditLogger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("audit logger config is required")
	}
	if cfg.Component == "" {
		cfg.Component = "sessionvault"
	}

	a := &AuditLogger{config: cfg, now: time.Now}
	if cfg.Writer != nil {
		a.w = cfg.Writer
		return a, nil
	}

	rotator, err := NewFileRotator(cfg.Rotation)
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}
	a.rotator = rotator
	a.w = rotator
	return a, nil
}

// Log writes an audit event.
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if a == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = a.now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}
	for k := range event.Details {
		if shouldRedact(k) {
			event.Details[k] = RedactedValue
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	data = append(data, '\n')
	if _, err := a.w.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}

	return nil
}

func result(err error) (string, string) {
	if err != nil {
		return ResultFailure, err.Error()
	}
	return ResultSuccess, ""
}

// LogWalletCreated records creation of a wallet.
func (a *AuditLogger) LogWalletCreated(ctx context.Context, walletID, address string, encrypted bool, err error) error {
	res, msg := result(err)
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventWalletCreated,
		WalletID:  walletID,
		Action:    "create",
		Resource:  address,
		Result:    res,
		Error:     msg,
		Details:   map[string]interface{}{"encrypted": encrypted},
	})
}

// LogWalletLoaded records an attempt to load a wallet key into memory.
func (a *AuditLogger) LogWalletLoaded(ctx context.Context, walletID string, err error) error {
	res, msg := result(err)
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventWalletLoaded,
		WalletID:  walletID,
		Action:    "load",
		Result:    res,
		Error:     msg,
	})
}

// LogWalletUnloaded records removal of a key from memory.
func (a *AuditLogger) LogWalletUnloaded(ctx context.Context, walletID string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventWalletUnloaded,
		WalletID:  walletID,
		Action:    "unload",
		Result:    ResultSuccess,
	})
}

// LogWalletDeleted records permanent removal of a wallet.
func (a *AuditLogger) LogWalletDeleted(ctx context.Context, walletID string, err error) error {
	res, msg := result(err)
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventWalletDeleted,
		WalletID:  walletID,
		Action:    "delete",
		Result:    res,
		Error:     msg,
	})
}

// LogSignature records a signing request. Denied means the wallet was not loaded.
func (a *AuditLogger) LogSignature(ctx context.Context, walletID string, payloadSize int, signed bool) error {
	res := ResultSuccess
	if !signed {
		res = ResultDenied
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventSignature,
		WalletID:  walletID,
		Action:    "sign",
		Result:    res,
		Details:   map[string]interface{}{"payload_size": payloadSize},
	})
}

// LogManifestCreated records a new session manifest.
func (a *AuditLogger) LogManifestCreated(ctx context.Context, sessionID, merkleRoot string, chunkCount int, err error) error {
	res, msg := result(err)
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventManifestCreated,
		SessionID: sessionID,
		Action:    "create",
		Resource:  merkleRoot,
		Result:    res,
		Error:     msg,
		Details:   map[string]interface{}{"chunk_count": chunkCount},
	})
}

// LogAnchor records an anchoring attempt and the resulting transaction id.
func (a *AuditLogger) LogAnchor(ctx context.Context, sessionID, txid string, err error) error {
	res, msg := result(err)
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventAnchor,
		SessionID: sessionID,
		Action:    "anchor",
		Resource:  txid,
		Result:    res,
		Error:     msg,
	})
}

// LogIntegrityCheck records the outcome of a manifest integrity check.
func (a *AuditLogger) LogIntegrityCheck(ctx context.Context, sessionID string, ok bool) error {
	res := ResultSuccess
	if !ok {
		res = ResultFailure
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventIntegrityCheck,
		SessionID: sessionID,
		Action:    "verify",
		Result:    res,
	})
}

// LogConfigChange records a configuration reload.
func (a *AuditLogger) LogConfigChange(ctx context.Context, path string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventConfigChange,
		Action:    "reload",
		Resource:  path,
		Result:    ResultSuccess,
	})
}

// Close closes the audit logger.
func (a *AuditLogger) Close() error {
	if a == nil || a.rotator == nil {
		return nil
	}
	return a.rotator.Close()
}

// Sync flushes any buffered audit events.
func (a *AuditLogger) Sync() error {
	if a == nil || a.rotator == nil {
		return nil
	}
	return a.rotator.Sync()
}
