// Package chunkcrypt encrypts recorded session chunks under per-chunk keys.
//
// Every chunk gets its own 32-byte key derived from a session master key:
//
//	key = HKDF-BLAKE2b-256(master, salt=nil, info="chunk:"+sessionID+":"+index)
//
// Keys are never reused across (session, index) pairs, so a fresh random
// nonce per seal is sufficient even for the legacy stream suite.
package chunkcrypt

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of master and derived keys.
	KeySize = 32

	// NonceSize is the XChaCha20 nonce length used by every suite.
	NonceSize = 24

	infoPrefix = "chunk:"
)

// Errors
var (
	// ErrEncryption is the umbrella error for every chunk crypto failure.
	ErrEncryption = errors.New("chunkcrypt: encryption error")

	ErrInvalidMasterKey = errors.New("chunkcrypt: master key must be 32 bytes")
	ErrInvalidNonce     = errors.New("chunkcrypt: nonce must be 24 bytes")
	ErrEmptySessionID   = errors.New("chunkcrypt: empty session id")
	ErrUnknownSuite     = errors.New("chunkcrypt: unknown cipher suite")
	ErrAuthFailed       = errors.New("chunkcrypt: authentication failed")
)

// encErr tags err so that errors.Is(err, ErrEncryption) holds.
func encErr(err error) error {
	return fmt.Errorf("%w: %w", ErrEncryption, err)
}

func newBlake2b256() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only reachable with a key longer than 64 bytes.
		panic(err)
	}
	return h
}

// ChunkInfo returns the HKDF info string for a chunk.
func ChunkInfo(sessionID string, index uint64) string {
	return infoPrefix + sessionID + ":" + strconv.FormatUint(index, 10)
}

// DeriveChunkKey derives the 32-byte key for chunk index of sessionID.
// The same inputs always produce the same key.
func DeriveChunkKey(master []byte, sessionID string, index uint64) ([KeySize]byte, error) {
	var key [KeySize]byte
	if len(master) != KeySize {
		return key, encErr(fmt.Errorf("%w: got %d", ErrInvalidMasterKey, len(master)))
	}
	if sessionID == "" {
		return key, encErr(ErrEmptySessionID)
	}

	reader := hkdf.New(newBlake2b256, master, nil, []byte(ChunkInfo(sessionID, index)))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return key, encErr(fmt.Errorf("key derivation failed: %w", err))
	}
	return key, nil
}

// GenerateMasterKey returns a fresh random master key.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("random generation failed: %w", err)
	}
	return key, nil
}

// LoadMasterKey reads a master key file holding either 32 raw bytes or
// 64 hex characters (surrounding whitespace ignored).
func LoadMasterKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master key: %w", err)
	}
	return ParseMasterKey(data)
}

// ParseMasterKey decodes raw or hex-encoded master key material.
func ParseMasterKey(data []byte) ([]byte, error) {
	if len(data) == KeySize {
		key := make([]byte, KeySize)
		copy(key, data)
		return key, nil
	}

	s := strings.TrimSpace(string(data))
	if len(s) == 2*KeySize {
		key, err := hex.DecodeString(s)
		if err == nil {
			return key, nil
		}
	}
	return nil, encErr(fmt.Errorf("%w: got %d bytes", ErrInvalidMasterKey, len(data)))
}
