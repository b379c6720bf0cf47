// Package manifest builds session manifests, hashes them canonically and
// anchors them to a ledger.
//
// A manifest summarizes a recorded session by the Merkle root over its
// ordered chunk hashes. It starts in StateCreated and moves to
// StateAnchored exactly once, when a ledger transaction id is recorded.
package manifest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/crypto/blake2b"

	"sessionvault/internal/chunkcrypt"
	"sessionvault/internal/schema"
)

// MaxSessionIDLength bounds session identifiers.
const MaxSessionIDLength = 128

// State is the anchoring state of a manifest.
type State string

const (
	StateCreated  State = "created"
	StateAnchored State = "anchored"
)

// SessionManifest is the persisted summary of one recorded session.
type SessionManifest struct {
	SessionID          string           `json:"session_id"`
	MerkleRoot         string           `json:"merkle_root"`
	ChunkCount         int              `json:"chunk_count"`
	TotalSize          int64            `json:"total_size"`
	ParticipantPubkeys []string         `json:"participant_pubkeys"`
	CodecInfo          CodecInfo        `json:"codec_info"`
	RecorderVersion    string           `json:"recorder_version"`
	DeviceFingerprint  string           `json:"device_fingerprint"`
	CipherSuite        chunkcrypt.Suite `json:"cipher_suite"`
	CreatedAt          time.Time        `json:"created_at"`
	AnchoredAt         *time.Time       `json:"anchored_at"`
	AnchorTxID         *string          `json:"anchor_txid"`
}

// State reports whether the manifest has been anchored.
func (m *SessionManifest) State() State {
	if m.AnchorTxID != nil {
		return StateAnchored
	}
	return StateCreated
}

// TxID returns the anchor transaction id or "".
func (m *SessionManifest) TxID() string {
	if m.AnchorTxID == nil {
		return ""
	}
	return *m.AnchorTxID
}

// Clone returns a deep copy.
func (m *SessionManifest) Clone() *SessionManifest {
	c := *m
	c.ParticipantPubkeys = append([]string(nil), m.ParticipantPubkeys...)
	c.CodecInfo = m.CodecInfo.clone()
	if m.AnchoredAt != nil {
		at := *m.AnchoredAt
		c.AnchoredAt = &at
	}
	if m.AnchorTxID != nil {
		txid := *m.AnchorTxID
		c.AnchorTxID = &txid
	}
	return &c
}

// Validate checks structural constraints of the manifest document.
func (m *SessionManifest) Validate() error {
	switch {
	case m.SessionID == "":
		return fmt.Errorf("%w: empty session id", ErrInvalidManifest)
	case len(m.SessionID) > MaxSessionIDLength:
		return fmt.Errorf("%w: session id longer than %d bytes", ErrInvalidManifest, MaxSessionIDLength)
	case m.ChunkCount < 0:
		return fmt.Errorf("%w: negative chunk count", ErrInvalidManifest)
	case m.TotalSize < 0:
		return fmt.Errorf("%w: negative total size", ErrInvalidManifest)
	case (m.AnchorTxID == nil) != (m.AnchoredAt == nil):
		return fmt.Errorf("%w: anchored_at and anchor_txid must be set together", ErrInvalidManifest)
	}
	if _, err := hex.DecodeString(m.MerkleRoot); err != nil || len(m.MerkleRoot) != 64 {
		return fmt.Errorf("%w: merkle root must be 64 hex characters", ErrInvalidManifest)
	}
	if _, err := chunkcrypt.ParseSuite(string(m.CipherSuite)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return m.CodecInfo.Validate()
}

// Document renders the manifest as indented JSON checked against the
// session-manifest-v1 schema.
func Document(m *SessionManifest) ([]byte, error) {
	c := m.Clone()
	if c.ParticipantPubkeys == nil {
		c.ParticipantPubkeys = []string{}
	}
	if c.CodecInfo == nil {
		c.CodecInfo = CodecInfo{}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	if err := schema.Validate(schema.SessionManifestV1, data); err != nil {
		return nil, err
	}
	return data, nil
}

// canonicalTime is the timestamp layout used for hashing and storage.
const canonicalTime = time.RFC3339Nano

// FormatTime renders t in the canonical UTC layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(canonicalTime)
}

// CanonicalBytes returns the deterministic serialization hashed by
// ManifestHash. Keys are sorted, participant keys are sorted and the anchor
// fields are excluded.
func CanonicalBytes(m *SessionManifest) ([]byte, error) {
	if err := m.CodecInfo.Validate(); err != nil {
		return nil, err
	}

	pubkeys := append([]string{}, m.ParticipantPubkeys...)
	sort.Strings(pubkeys)

	codec := make(map[string]any, len(m.CodecInfo))
	for k, v := range m.CodecInfo {
		codec[k] = v.Any()
	}

	doc := map[string]any{
		"session_id":          m.SessionID,
		"merkle_root":         m.MerkleRoot,
		"chunk_count":         m.ChunkCount,
		"total_size":          m.TotalSize,
		"participant_pubkeys": pubkeys,
		"codec_info":          codec,
		"recorder_version":    m.RecorderVersion,
		"device_fingerprint":  m.DeviceFingerprint,
		"cipher_suite":        string(m.CipherSuite),
		"created_at":          FormatTime(m.CreatedAt),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("manifest: canonicalize: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ManifestHash returns the hex BLAKE2b-256 of CanonicalBytes. Logically
// identical manifests hash equally regardless of key or participant order.
func ManifestHash(m *SessionManifest) (string, error) {
	data, err := CanonicalBytes(m)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
