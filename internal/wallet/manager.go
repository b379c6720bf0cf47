package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"sessionvault/internal/logging"
	"sessionvault/internal/metrics"
	"sessionvault/internal/security"
)

// DefaultMaxFileSize bounds wallet file reads.
const DefaultMaxFileSize = 64 * 1024

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Dir holds one wallet file per wallet id.
	Dir string

	// AllowUnencrypted permits Unencrypted() key protection.
	AllowUnencrypted bool

	// MaxFileSize bounds wallet file reads. Zero means DefaultMaxFileSize.
	MaxFileSize int64

	// Records stores wallet Info. Nil means an in-memory store.
	Records RecordStore

	Logger  *slog.Logger
	Audit   *logging.AuditLogger
	Metrics *metrics.Metrics

	// Now overrides the clock for tests.
	Now func() time.Time
}

type activeWallet struct {
	info *Info
	key  *security.SecureBytes
}

// Manager owns the table of loaded wallets. Each Manager is independent;
// there is no process-wide wallet state.
type Manager struct {
	cfg     ManagerConfig
	records RecordStore
	logger  *slog.Logger
	audit   *logging.AuditLogger
	metrics *metrics.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	active map[string]*activeWallet
	closed bool
}

// NewManager creates a Manager, creating the wallet directory if needed.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, errors.New("wallet: directory is required")
	}
	if err := security.EnsureSecureDir(cfg.Dir); err != nil {
		return nil, fmt.Errorf("wallet: prepare directory: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}

	m := &Manager{
		cfg:     cfg,
		records: cfg.Records,
		logger:  cfg.Logger,
		audit:   cfg.Audit,
		metrics: cfg.Metrics,
		now:     cfg.Now,
		active:  make(map[string]*activeWallet),
	}
	if m.records == nil {
		m.records = NewMemoryRecords()
	}
	if m.logger == nil {
		m.logger = logging.Discard()
	}
	m.logger = m.logger.With("component", "wallet")
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// CreateWallet generates a keypair, writes the wallet file and stores the
// Info record. Only software wallets can be created.
func (m *Manager) CreateWallet(ctx context.Context, walletID string, protection KeyProtection, walletType Type) (info *Info, err error) {
	defer func() {
		address := ""
		if info != nil {
			address = info.Address
		}
		m.audit.LogWalletCreated(ctx, walletID, address, protection.Encrypted(), err)
	}()

	if err := security.ValidateIdentifier(walletID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWalletID, err)
	}
	if walletType == "" {
		walletType = TypeSoftware
	}
	if _, err := ParseType(string(walletType)); err != nil {
		return nil, err
	}
	if walletType != TypeSoftware {
		return nil, fmt.Errorf("%w: %s wallets cannot be created here", ErrUnsupportedWalletType, walletType)
	}
	switch protection.kind {
	case protectionUnset:
		return nil, ErrProtectionRequired
	case protectionPassphrase:
		if len(protection.passphrase) == 0 {
			return nil, fmt.Errorf("%w: empty passphrase", ErrProtectionRequired)
		}
	case protectionNone:
		if !m.cfg.AllowUnencrypted {
			return nil, ErrUnencryptedNotAllowed
		}
	}

	if _, err := m.records.GetWallet(ctx, walletID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrWalletExists, walletID)
	} else if !errors.Is(err, ErrWalletNotFound) {
		return nil, fmt.Errorf("wallet: check existing record: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("wallet: generate key: %w", err)
	}
	defer security.Wipe(priv)

	sealed, err := sealPrivateKey(priv, walletID, protection)
	if err != nil {
		return nil, err
	}
	pubPEM, err := EncodePublicKey(pub)
	if err != nil {
		return nil, err
	}

	f := &walletFile{
		Version:     FileVersion,
		WalletID:    walletID,
		Address:     DeriveAddress(pub),
		PublicKey:   pubPEM,
		PrivateKey:  sealed,
		CreatedAt:   m.now().UTC(),
		WalletType:  walletType,
		IsEncrypted: protection.Encrypted(),
	}
	data, err := encodeWalletFile(f)
	if err != nil {
		return nil, err
	}

	path := walletPath(m.cfg.Dir, walletID)
	if err := security.WriteSecretFile(path, data, true); err != nil {
		if errors.Is(err, security.ErrFileExists) {
			return nil, fmt.Errorf("%w: %s", ErrWalletExists, walletID)
		}
		return nil, fmt.Errorf("wallet: write file: %w", err)
	}

	info = f.info()
	if err := m.records.InsertWallet(ctx, info); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			m.logger.Warn("failed to remove wallet file after record insert failure",
				"wallet_id", walletID, "error", rmErr)
		}
		return nil, fmt.Errorf("wallet: store record: %w", err)
	}

	m.logger.Info("wallet created",
		"wallet_id", walletID,
		"address", info.Address,
		"encrypted", info.IsEncrypted,
	)
	return info, nil
}

// LoadWallet decrypts the wallet file and adds the key to the active table.
// Loading an already loaded wallet replaces its entry. Failures are
// *LoadError values.
func (m *Manager) LoadWallet(ctx context.Context, walletID string, passphrase []byte) (err error) {
	defer func() {
		m.metrics.RecordWalletLoad(err)
		m.audit.LogWalletLoaded(ctx, walletID, err)
	}()

	if err := security.ValidateIdentifier(walletID); err != nil {
		return loadErr(walletID, fmt.Errorf("%w: %v", ErrInvalidWalletID, err))
	}

	data, err := security.ReadSecretFile(walletPath(m.cfg.Dir, walletID), m.cfg.MaxFileSize)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return loadErr(walletID, ErrWalletNotFound)
		}
		return loadErr(walletID, err)
	}

	f, err := decodeWalletFile(data)
	if err != nil {
		return loadErr(walletID, err)
	}
	if f.WalletID != walletID {
		return loadErr(walletID, fmt.Errorf("%w: file belongs to %q", ErrCorruptWallet, f.WalletID))
	}

	if rec, err := m.records.GetWallet(ctx, walletID); err == nil {
		if rec.Address != f.Address {
			return loadErr(walletID, fmt.Errorf("%w: address differs from stored record", ErrCorruptWallet))
		}
	} else if !errors.Is(err, ErrWalletNotFound) {
		return loadErr(walletID, err)
	}

	priv, err := openPrivateKey(f, passphrase)
	if err != nil {
		return loadErr(walletID, err)
	}
	key := security.FromBytes(priv)
	security.Wipe(priv)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		key.Destroy()
		return loadErr(walletID, ErrClosed)
	}
	if prev, ok := m.active[walletID]; ok {
		prev.key.Destroy()
	}
	m.active[walletID] = &activeWallet{info: f.info(), key: key}
	n := len(m.active)
	m.mu.Unlock()

	m.metrics.SetLoadedWallets(n)
	m.logger.Info("wallet loaded", "wallet_id", walletID, "address", f.Address, "mlocked", key.Locked())
	return nil
}

// SignTransaction signs payload with a loaded wallet. ok is false when the
// wallet is not loaded; no error is reported in that case.
func (m *Manager) SignTransaction(walletID string, payload []byte) (sig []byte, ok bool) {
	m.mu.RLock()
	w, found := m.active[walletID]
	if found {
		sig = ed25519.Sign(ed25519.PrivateKey(w.key.Bytes()), payload)
	}
	m.mu.RUnlock()

	m.metrics.RecordSignature(found)
	m.audit.LogSignature(context.Background(), walletID, len(payload), found)
	return sig, found
}

// Identity returns the address and PEM public key of a loaded wallet.
func (m *Manager) Identity(walletID string) (address, publicKey string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, found := m.active[walletID]
	if !found {
		return "", "", false
	}
	return w.info.Address, w.info.PublicKey, true
}

// Verify checks a signature against the stored public key of walletID.
// The wallet does not need to be loaded.
func (m *Manager) Verify(ctx context.Context, walletID string, payload, sig []byte) (bool, error) {
	info, err := m.Info(ctx, walletID)
	if err != nil {
		return false, err
	}
	return VerifySignature(info.PublicKey, payload, sig)
}

// Info returns the stored record for walletID.
func (m *Manager) Info(ctx context.Context, walletID string) (*Info, error) {
	info, err := m.records.GetWallet(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("wallet %q: %w", walletID, err)
	}
	return info, nil
}

// ListWallets returns all stored wallet records.
func (m *Manager) ListWallets(ctx context.Context) ([]*Info, error) {
	return m.records.ListWallets(ctx)
}

// Loaded reports whether walletID is in the active table.
func (m *Manager) Loaded(walletID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[walletID]
	return ok
}

// LoadedIDs returns the ids of loaded wallets in sorted order.
func (m *Manager) LoadedIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Unload wipes and removes a loaded wallet. It reports whether the wallet
// was loaded.
func (m *Manager) Unload(walletID string) bool {
	m.mu.Lock()
	w, ok := m.active[walletID]
	if ok {
		w.key.Destroy()
		delete(m.active, walletID)
	}
	n := len(m.active)
	m.mu.Unlock()

	if ok {
		m.metrics.SetLoadedWallets(n)
		m.audit.LogWalletUnloaded(context.Background(), walletID)
		m.logger.Info("wallet unloaded", "wallet_id", walletID)
	}
	return ok
}

// DeleteWallet unloads walletID, removes its key file and deletes its
// record. The key cannot be recovered afterwards.
func (m *Manager) DeleteWallet(ctx context.Context, walletID string) (err error) {
	defer func() {
		m.audit.LogWalletDeleted(ctx, walletID, err)
	}()

	if err := security.ValidateIdentifier(walletID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWalletID, err)
	}
	if _, err := m.records.GetWallet(ctx, walletID); err != nil {
		return fmt.Errorf("wallet %q: %w", walletID, err)
	}

	m.Unload(walletID)

	if err := os.Remove(walletPath(m.cfg.Dir, walletID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("wallet: remove file: %w", err)
	}
	if err := m.records.DeleteWallet(ctx, walletID); err != nil {
		return fmt.Errorf("wallet: delete record: %w", err)
	}

	m.logger.Info("wallet deleted", "wallet_id", walletID)
	return nil
}

// Close wipes every loaded key. Later loads fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	for id, w := range m.active {
		w.key.Destroy()
		delete(m.active, id)
	}
	m.closed = true
	m.metrics.SetLoadedWallets(0)
	return nil
}
