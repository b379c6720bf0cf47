package manifest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"sessionvault/internal/chunkcrypt"
	"sessionvault/internal/ledger"
	"sessionvault/internal/logging"
	"sessionvault/internal/merkle"
	"sessionvault/internal/metrics"
	"sessionvault/internal/schema"
)

// DefaultAnchorTimeout bounds a single ledger submission.
const DefaultAnchorTimeout = 30 * time.Second

// Signer signs anchor payloads. wallet.Manager implements it.
type Signer interface {
	// SignTransaction returns ok=false when the wallet is not loaded.
	SignTransaction(walletID string, payload []byte) ([]byte, bool)
	// Identity returns the address and PEM public key of a loaded wallet.
	Identity(walletID string) (address, publicKey string, ok bool)
}

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Store Store

	// Signer and SignerWallet select the wallet that signs anchors.
	Signer       Signer
	SignerWallet string

	// CipherSuite is recorded on manifests that do not name one.
	CipherSuite chunkcrypt.Suite

	// AnchorTimeout bounds ledger submission. Zero means
	// DefaultAnchorTimeout.
	AnchorTimeout time.Duration

	Logger  *slog.Logger
	Audit   *logging.AuditLogger
	Metrics *metrics.Metrics

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Service creates, verifies and anchors manifests.
type Service struct {
	store         Store
	signer        Signer
	signerWallet  string
	suite         chunkcrypt.Suite
	anchorTimeout time.Duration
	logger        *slog.Logger
	audit         *logging.AuditLogger
	metrics       *metrics.Metrics
	now           func() time.Time
}

// NewService creates a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("manifest: store is required")
	}
	suite, err := chunkcrypt.ParseSuite(string(cfg.CipherSuite))
	if err != nil {
		return nil, err
	}

	s := &Service{
		store:         cfg.Store,
		signer:        cfg.Signer,
		signerWallet:  cfg.SignerWallet,
		suite:         suite,
		anchorTimeout: cfg.AnchorTimeout,
		logger:        cfg.Logger,
		audit:         cfg.Audit,
		metrics:       cfg.Metrics,
		now:           cfg.Now,
	}
	if s.anchorTimeout <= 0 {
		s.anchorTimeout = DefaultAnchorTimeout
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	s.logger = s.logger.With("component", "manifest")
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// CreateRequest describes a new manifest. ChunkHashes are 64-character hex
// BLAKE2b-256 digests of the encrypted chunks, in recording order.
type CreateRequest struct {
	SessionID          string
	ChunkHashes        []string
	TotalSize          int64
	ParticipantPubkeys []string
	CodecInfo          CodecInfo
	RecorderVersion    string
	DeviceFingerprint  string
	CipherSuite        chunkcrypt.Suite
}

// CreateManifest computes the Merkle root and persists a new manifest.
// A session that already has a manifest is rejected with ErrManifestExists.
func (s *Service) CreateManifest(ctx context.Context, req CreateRequest) (m *SessionManifest, err error) {
	defer func() {
		s.metrics.RecordManifest(err)
		root := ""
		if m != nil {
			root = m.MerkleRoot
		}
		s.audit.LogManifestCreated(ctx, req.SessionID, root, len(req.ChunkHashes), err)
	}()

	leaves, err := merkle.ParseLeaves(req.ChunkHashes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	suite := s.suite
	if req.CipherSuite != "" {
		if suite, err = chunkcrypt.ParseSuite(string(req.CipherSuite)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
	}

	m = &SessionManifest{
		SessionID:          req.SessionID,
		MerkleRoot:         merkle.ComputeRoot(leaves).String(),
		ChunkCount:         len(leaves),
		TotalSize:          req.TotalSize,
		ParticipantPubkeys: normalizePubkeys(req.ParticipantPubkeys),
		CodecInfo:          req.CodecInfo.clone(),
		RecorderVersion:    req.RecorderVersion,
		DeviceFingerprint:  req.DeviceFingerprint,
		CipherSuite:        suite,
		CreatedAt:          s.now().UTC(),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if err := schema.ValidateValue(schema.SessionManifestV1, m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	if err := s.store.Insert(ctx, m); err != nil {
		if errors.Is(err, ErrManifestExists) {
			return nil, fmt.Errorf("session %q: %w", req.SessionID, ErrManifestExists)
		}
		return nil, fmt.Errorf("manifest: insert %q: %w", req.SessionID, err)
	}

	s.logger.Info("manifest created",
		"session_id", m.SessionID,
		"merkle_root", m.MerkleRoot,
		"chunk_count", m.ChunkCount,
		"total_size", m.TotalSize,
	)
	return m, nil
}

// normalizePubkeys sorts and de-duplicates participant keys.
func normalizePubkeys(keys []string) []string {
	set := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, dup := set[k]; dup || k == "" {
			continue
		}
		set[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GetManifest loads the stored manifest for sessionID.
func (s *Service) GetManifest(ctx context.Context, sessionID string) (*SessionManifest, error) {
	m, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session %q: %w", sessionID, err)
	}
	return m, nil
}

// ListManifests lists stored manifests.
func (s *Service) ListManifests(ctx context.Context, opts ListOptions) ([]*SessionManifest, error) {
	return s.store.List(ctx, opts)
}

// AnchorManifest submits the manifest hash and Merkle root to the ledger
// and records the returned transaction id.
//
// An anchored manifest is never re-submitted: the existing txid is returned
// together with ErrAlreadyAnchored. On any other failure the manifest stays
// in StateCreated and the call can be retried. Errors are *AnchorError.
func (s *Service) AnchorManifest(ctx context.Context, m *SessionManifest, client ledger.Client) (txid string, err error) {
	start := s.now()
	defer func() {
		s.audit.LogAnchor(ctx, m.SessionID, txid, err)
		if errors.Is(err, ErrAlreadyAnchored) {
			s.logger.Info("manifest already anchored", "session_id", m.SessionID, "txid", txid)
			return
		}
		s.metrics.RecordAnchor(s.now().Sub(start), err)
		if err != nil {
			s.logger.Error("anchor failed",
				"session_id", m.SessionID,
				"retryable", ledger.IsRetryable(err),
				"error", err,
			)
		}
	}()

	fail := func(err error) (string, error) {
		return "", &AnchorError{SessionID: m.SessionID, Err: err}
	}

	if m.AnchorTxID != nil {
		return *m.AnchorTxID, &AnchorError{SessionID: m.SessionID, Err: ErrAlreadyAnchored}
	}

	stored, err := s.store.Get(ctx, m.SessionID)
	if err != nil {
		return fail(err)
	}
	if stored.AnchorTxID != nil {
		m.AnchorTxID, m.AnchoredAt = stored.AnchorTxID, stored.AnchoredAt
		return *stored.AnchorTxID, &AnchorError{SessionID: m.SessionID, Err: ErrAlreadyAnchored}
	}
	if stored.MerkleRoot != m.MerkleRoot {
		return fail(fmt.Errorf("%w: stored %s, given %s", ErrIntegrity, stored.MerkleRoot, m.MerkleRoot))
	}

	manifestHash, err := ManifestHash(stored)
	if err != nil {
		return fail(err)
	}
	if given, err := ManifestHash(m); err != nil {
		return fail(err)
	} else if given != manifestHash {
		return fail(fmt.Errorf("%w: manifest differs from stored copy", ErrIntegrity))
	}

	payload, err := s.signedPayload(stored, manifestHash)
	if err != nil {
		return fail(err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.anchorTimeout)
	txid, err = client.Submit(submitCtx, payload)
	timedOut := errors.Is(submitCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		if timedOut && !errors.Is(err, ledger.ErrSubmission) {
			err = fmt.Errorf("%w: %w", ledger.ErrSubmission, err)
		}
		return fail(err)
	}
	if txid == "" {
		return fail(fmt.Errorf("%w: empty transaction id", ledger.ErrSubmission))
	}

	at := s.now().UTC()
	if err := s.store.MarkAnchored(ctx, m.SessionID, txid, at); err != nil {
		if errors.Is(err, ErrAlreadyAnchored) {
			if current, gerr := s.store.Get(ctx, m.SessionID); gerr == nil && current.AnchorTxID != nil {
				m.AnchorTxID, m.AnchoredAt = current.AnchorTxID, current.AnchoredAt
				return *current.AnchorTxID, &AnchorError{SessionID: m.SessionID, Err: ErrAlreadyAnchored}
			}
		}
		return fail(fmt.Errorf("record txid %s: %w", txid, err))
	}

	m.AnchorTxID = &txid
	m.AnchoredAt = &at
	s.logger.Info("manifest anchored",
		"session_id", m.SessionID,
		"txid", txid,
		"manifest_hash", manifestHash,
	)
	return txid, nil
}

func (s *Service) signedPayload(m *SessionManifest, manifestHash string) (*ledger.Payload, error) {
	if s.signer == nil {
		return nil, ErrWalletNotLoaded
	}
	address, publicKey, ok := s.signer.Identity(s.signerWallet)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrWalletNotLoaded, s.signerWallet)
	}

	p := &ledger.Payload{
		RequestID:     ledger.NewRequestID(),
		SessionID:     m.SessionID,
		ManifestHash:  manifestHash,
		MerkleRoot:    m.MerkleRoot,
		ChunkCount:    m.ChunkCount,
		TotalSize:     m.TotalSize,
		SignerAddress: address,
		PublicKey:     publicKey,
		SubmittedAt:   s.now().UTC(),
	}
	sig, ok := s.signer.SignTransaction(s.signerWallet, p.SigningBytes())
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrWalletNotLoaded, s.signerWallet)
	}
	p.Signature = base64.StdEncoding.EncodeToString(sig)
	return p, nil
}

// CheckIntegrity loads the stored manifest and returns ErrIntegrity when
// hashes do not reproduce its Merkle root.
func (s *Service) CheckIntegrity(ctx context.Context, sessionID string, hashes []string) error {
	m, err := s.GetManifest(ctx, sessionID)
	if err != nil {
		return err
	}
	err = CheckIntegrity(m, hashes)
	s.metrics.RecordIntegrityCheck(err == nil)
	s.audit.LogIntegrityCheck(ctx, sessionID, err == nil)
	if err != nil {
		s.logger.Warn("integrity check failed", "session_id", sessionID, "error", err)
	}
	return err
}

// ChunkProof returns the inclusion proof for chunk index after checking
// that hashes reproduce the stored root.
func (s *Service) ChunkProof(ctx context.Context, sessionID string, hashes []string, index int) (*merkle.Proof, error) {
	m, err := s.GetManifest(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	leaves, err := merkle.ParseLeaves(hashes)
	if err != nil {
		return nil, err
	}
	tree := merkle.Build(leaves)
	if tree.Root().String() != m.MerkleRoot {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrIntegrity)
	}
	return tree.Proof(index)
}

// VerifyManifestIntegrity reports whether hashes reproduce m.MerkleRoot.
func VerifyManifestIntegrity(m *SessionManifest, hashes []string) bool {
	return CheckIntegrity(m, hashes) == nil
}

// CheckIntegrity is VerifyManifestIntegrity for callers that must abort on
// mismatch. Unparseable hashes are reported as ErrIntegrity.
func CheckIntegrity(m *SessionManifest, hashes []string) error {
	root, err := merkle.ComputeRootHex(hashes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if root != m.MerkleRoot {
		return fmt.Errorf("%w: session %q: computed %s, stored %s", ErrIntegrity, m.SessionID, root, m.MerkleRoot)
	}
	return nil
}
