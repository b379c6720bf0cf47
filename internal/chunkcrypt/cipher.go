package chunkcrypt

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"

	"sessionvault/internal/security"
)

// Suite identifies the construction used to seal a chunk. The tag is stored
// with every sealed chunk and on the session manifest.
type Suite string

const (
	// SuiteXChaCha20Poly1305 is authenticated encryption with the chunk
	// position bound as associated data.
	SuiteXChaCha20Poly1305 Suite = "xchacha20poly1305-v1"

	// SuiteXChaCha20Stream is the unauthenticated keystream XOR kept for
	// reading chunks produced by older recorders.
	SuiteXChaCha20Stream Suite = "xchacha20-stream-v0"

	// DefaultSuite is used when no suite is configured.
	DefaultSuite = SuiteXChaCha20Poly1305
)

// ParseSuite validates a suite tag.
func ParseSuite(s string) (Suite, error) {
	switch Suite(s) {
	case SuiteXChaCha20Poly1305, SuiteXChaCha20Stream:
		return Suite(s), nil
	case "":
		return DefaultSuite, nil
	}
	return "", encErr(fmt.Errorf("%w: %q", ErrUnknownSuite, s))
}

// Overhead returns the number of bytes a suite adds to the plaintext.
func (s Suite) Overhead() int {
	if s == SuiteXChaCha20Poly1305 {
		return chacha20poly1305.Overhead
	}
	return 0
}

// AssociatedData binds a ciphertext to its session and position.
func AssociatedData(sessionID string, index uint64) []byte {
	return []byte(ChunkInfo(sessionID, index)[len(infoPrefix):])
}

// SealedChunk is an encrypted chunk plus everything needed to open it
// except the master key.
type SealedChunk struct {
	Suite      Suite  `json:"suite"`
	SessionID  string `json:"session_id"`
	Index      uint64 `json:"index"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Hash returns the BLAKE2b-256 of the ciphertext, the value recorded as a
// Merkle leaf for this chunk.
func (c *SealedChunk) Hash() [32]byte {
	return HashChunk(c.Ciphertext)
}

// HashChunk hashes stored chunk bytes for use as a Merkle leaf.
func HashChunk(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// Cipher seals and opens chunks for sessions under one master key.
type Cipher struct {
	master *security.SecureBytes
	suite  Suite
}

// NewCipher creates a Cipher. The master key is copied into locked memory
// and the caller's slice is wiped.
func NewCipher(master []byte, suite Suite) (*Cipher, error) {
	if len(master) != KeySize {
		return nil, encErr(fmt.Errorf("%w: got %d", ErrInvalidMasterKey, len(master)))
	}
	if _, err := ParseSuite(string(suite)); err != nil {
		return nil, err
	}
	if suite == "" {
		suite = DefaultSuite
	}
	return &Cipher{master: security.FromBytes(master), suite: suite}, nil
}

// Suite returns the suite used for sealing.
func (c *Cipher) Suite() Suite {
	return c.suite
}

// Seal encrypts plaintext as chunk index of sessionID with a fresh nonce.
func (c *Cipher) Seal(sessionID string, index uint64, plaintext []byte) (*SealedChunk, error) {
	key, err := DeriveChunkKey(c.master.Bytes(), sessionID, index)
	if err != nil {
		return nil, err
	}
	defer security.WipeArray(&key)

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, encErr(fmt.Errorf("nonce generation failed: %w", err))
	}

	ct, err := seal(c.suite, key[:], nonce, plaintext, AssociatedData(sessionID, index))
	if err != nil {
		return nil, err
	}
	return &SealedChunk{
		Suite:      c.suite,
		SessionID:  sessionID,
		Index:      index,
		Nonce:      nonce,
		Ciphertext: ct,
	}, nil
}

// Open decrypts a sealed chunk using the suite recorded on it.
func (c *Cipher) Open(chunk *SealedChunk) ([]byte, error) {
	key, err := DeriveChunkKey(c.master.Bytes(), chunk.SessionID, chunk.Index)
	if err != nil {
		return nil, err
	}
	defer security.WipeArray(&key)

	return open(chunk.Suite, key[:], chunk.Nonce, chunk.Ciphertext, AssociatedData(chunk.SessionID, chunk.Index))
}

// Close wipes the master key.
func (c *Cipher) Close() {
	c.master.Destroy()
}

// EncryptChunk encrypts plaintext with a derived chunk key using the
// default suite and returns the ciphertext and the fresh nonce.
// Associated data is optional and may be nil.
func EncryptChunk(key, plaintext, ad []byte) (ciphertext, nonce []byte, err error) {
	return EncryptChunkSuite(DefaultSuite, key, plaintext, ad)
}

// EncryptChunkSuite is EncryptChunk with an explicit suite.
func EncryptChunkSuite(suite Suite, key, plaintext, ad []byte) (ciphertext, nonce []byte, err error) {
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, encErr(fmt.Errorf("nonce generation failed: %w", err))
	}
	ciphertext, err = seal(suite, key, nonce, plaintext, ad)
	if err != nil {
		return nil, nil, err
	}
	return ciphertext, nonce, nil
}

// DecryptChunk reverses EncryptChunk.
func DecryptChunk(key, ciphertext, nonce, ad []byte) ([]byte, error) {
	return DecryptChunkSuite(DefaultSuite, key, ciphertext, nonce, ad)
}

// DecryptChunkSuite is DecryptChunk with an explicit suite.
func DecryptChunkSuite(suite Suite, key, ciphertext, nonce, ad []byte) ([]byte, error) {
	return open(suite, key, nonce, ciphertext, ad)
}

func checkParams(key, nonce []byte) error {
	if len(key) != KeySize {
		return encErr(fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key)))
	}
	if len(nonce) != NonceSize {
		return encErr(fmt.Errorf("%w: got %d", ErrInvalidNonce, len(nonce)))
	}
	return nil
}

func seal(suite Suite, key, nonce, plaintext, ad []byte) ([]byte, error) {
	if err := checkParams(key, nonce); err != nil {
		return nil, err
	}

	switch suite {
	case SuiteXChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, encErr(err)
		}
		return aead.Seal(nil, nonce, plaintext, ad), nil

	case SuiteXChaCha20Stream:
		return xorStream(key, nonce, plaintext)
	}
	return nil, encErr(fmt.Errorf("%w: %q", ErrUnknownSuite, suite))
}

func open(suite Suite, key, nonce, ciphertext, ad []byte) ([]byte, error) {
	if err := checkParams(key, nonce); err != nil {
		return nil, err
	}

	switch suite {
	case SuiteXChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, encErr(err)
		}
		pt, err := aead.Open(nil, nonce, ciphertext, ad)
		if err != nil {
			return nil, encErr(ErrAuthFailed)
		}
		return pt, nil

	case SuiteXChaCha20Stream:
		return xorStream(key, nonce, ciphertext)
	}
	return nil, encErr(fmt.Errorf("%w: %q", ErrUnknownSuite, suite))
}

func xorStream(key, nonce, in []byte) ([]byte, error) {
	s, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, encErr(err)
	}
	out := make([]byte, len(in))
	s.XORKeyStream(out, in)
	return out, nil
}
