package chunkcrypt

import (
	"bytes"
	"crypto/hmac"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testMaster() []byte {
	m := make([]byte, KeySize)
	for i := range m {
		m[i] = byte(i)
	}
	return m
}

// =============================================================================
// Key Derivation Tests
// =============================================================================

func TestDeriveChunkKeyDeterministic(t *testing.T) {
	k1, err := DeriveChunkKey(testMaster(), "S", 0)
	if err != nil {
		t.Fatalf("DeriveChunkKey failed: %v", err)
	}
	k2, _ := DeriveChunkKey(testMaster(), "S", 0)
	if k1 != k2 {
		t.Error("same inputs must yield the same key")
	}

	k3, _ := DeriveChunkKey(testMaster(), "S", 1)
	if k1 == k3 {
		t.Error("different index must yield a different key")
	}

	k4, _ := DeriveChunkKey(testMaster(), "T", 0)
	if k1 == k4 {
		t.Error("different session must yield a different key")
	}
}

func TestDeriveChunkKeyMatchesHKDFDefinition(t *testing.T) {
	master := testMaster()

	// HKDF-Extract with an absent salt uses a zero key of hash length.
	ext := hmac.New(newBlake2b256, make([]byte, 32))
	ext.Write(master)
	prk := ext.Sum(nil)

	// One expand block covers the 32-byte output.
	exp := hmac.New(newBlake2b256, prk)
	exp.Write([]byte("chunk:S:7"))
	exp.Write([]byte{1})
	want := exp.Sum(nil)

	got, err := DeriveChunkKey(master, "S", 7)
	if err != nil {
		t.Fatalf("DeriveChunkKey failed: %v", err)
	}
	if !bytes.Equal(got[:], want) {
		t.Errorf("derived key = %x, want %x", got, want)
	}
}

func TestDeriveChunkKeyInvalidMaster(t *testing.T) {
	for _, n := range []int{0, 16, 31, 33, 64} {
		_, err := DeriveChunkKey(make([]byte, n), "S", 0)
		if !errors.Is(err, ErrEncryption) || !errors.Is(err, ErrInvalidMasterKey) {
			t.Errorf("len %d: expected ErrInvalidMasterKey, got %v", n, err)
		}
	}
}

func TestDeriveChunkKeyEmptySession(t *testing.T) {
	_, err := DeriveChunkKey(testMaster(), "", 0)
	if !errors.Is(err, ErrEmptySessionID) {
		t.Errorf("expected ErrEmptySessionID, got %v", err)
	}
}

func TestChunkInfo(t *testing.T) {
	if got := ChunkInfo("sess-1", 42); got != "chunk:sess-1:42" {
		t.Errorf("ChunkInfo = %q", got)
	}
}

// =============================================================================
// Encryption Tests
// =============================================================================

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, _ := DeriveChunkKey(testMaster(), "S", 3)
	plaintexts := [][]byte{
		{},
		[]byte("x"),
		bytes.Repeat([]byte("frame"), 10000),
	}

	for _, suite := range []Suite{SuiteXChaCha20Poly1305, SuiteXChaCha20Stream} {
		for _, pt := range plaintexts {
			ct, nonce, err := EncryptChunkSuite(suite, key[:], pt, nil)
			if err != nil {
				t.Fatalf("%s: encrypt failed: %v", suite, err)
			}
			if len(nonce) != NonceSize {
				t.Errorf("%s: nonce length %d", suite, len(nonce))
			}
			if len(ct) != len(pt)+suite.Overhead() {
				t.Errorf("%s: ciphertext length %d for plaintext %d", suite, len(ct), len(pt))
			}

			got, err := DecryptChunkSuite(suite, key[:], ct, nonce, nil)
			if err != nil {
				t.Fatalf("%s: decrypt failed: %v", suite, err)
			}
			if !bytes.Equal(got, pt) {
				t.Errorf("%s: round trip mismatch", suite)
			}
		}
	}
}

func TestEncryptFreshNonce(t *testing.T) {
	key, _ := DeriveChunkKey(testMaster(), "S", 0)
	ct1, n1, _ := EncryptChunk(key[:], []byte("same"), nil)
	ct2, n2, _ := EncryptChunk(key[:], []byte("same"), nil)
	if bytes.Equal(n1, n2) {
		t.Error("nonces must differ between calls")
	}
	if bytes.Equal(ct1, ct2) {
		t.Error("ciphertexts must differ between calls")
	}
}

func TestDecryptTampered(t *testing.T) {
	key, _ := DeriveChunkKey(testMaster(), "S", 0)
	ct, nonce, _ := EncryptChunk(key[:], []byte("payload"), nil)
	ct[0] ^= 0xff

	_, err := DecryptChunk(key[:], ct, nonce, nil)
	if !errors.Is(err, ErrAuthFailed) || !errors.Is(err, ErrEncryption) {
		t.Errorf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	k1, _ := DeriveChunkKey(testMaster(), "S", 0)
	k2, _ := DeriveChunkKey(testMaster(), "S", 1)
	ct, nonce, _ := EncryptChunk(k1[:], []byte("payload"), nil)

	if _, err := DecryptChunk(k2[:], ct, nonce, nil); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed with wrong key, got %v", err)
	}
}

func TestInvalidParameters(t *testing.T) {
	key, _ := DeriveChunkKey(testMaster(), "S", 0)

	if _, _, err := EncryptChunk(key[:16], []byte("x"), nil); !errors.Is(err, ErrEncryption) {
		t.Errorf("short key: expected ErrEncryption, got %v", err)
	}
	if _, err := DecryptChunk(key[:], []byte("x"), make([]byte, 12), nil); !errors.Is(err, ErrInvalidNonce) {
		t.Errorf("short nonce: expected ErrInvalidNonce, got %v", err)
	}
	if _, _, err := EncryptChunkSuite("rot13", key[:], []byte("x"), nil); !errors.Is(err, ErrUnknownSuite) {
		t.Errorf("bad suite: expected ErrUnknownSuite, got %v", err)
	}
}

// =============================================================================
// Cipher Tests
// =============================================================================

func TestCipherSealOpen(t *testing.T) {
	c, err := NewCipher(testMaster(), DefaultSuite)
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	defer c.Close()

	chunk, err := c.Seal("S", 5, []byte("chunk five"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if chunk.Suite != SuiteXChaCha20Poly1305 || chunk.Index != 5 {
		t.Errorf("unexpected sealed chunk metadata: %+v", chunk)
	}

	pt, err := c.Open(chunk)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(pt) != "chunk five" {
		t.Errorf("Open = %q", pt)
	}

	if chunk.Hash() != HashChunk(chunk.Ciphertext) {
		t.Error("Hash should hash the ciphertext")
	}
}

func TestCipherRejectsMovedChunk(t *testing.T) {
	c, _ := NewCipher(testMaster(), DefaultSuite)
	defer c.Close()

	chunk, _ := c.Seal("S", 0, []byte("first"))
	chunk.Index = 1
	if _, err := c.Open(chunk); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed for moved chunk, got %v", err)
	}
}

func TestNewCipherWipesCallerKey(t *testing.T) {
	master := testMaster()
	c, err := NewCipher(master, "")
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	defer c.Close()

	if c.Suite() != DefaultSuite {
		t.Errorf("empty suite should select default, got %s", c.Suite())
	}
	for _, b := range master {
		if b != 0 {
			t.Fatal("caller master key not wiped")
		}
	}
}

func TestCipherClosed(t *testing.T) {
	c, _ := NewCipher(testMaster(), DefaultSuite)
	c.Close()
	if _, err := c.Seal("S", 0, []byte("x")); !errors.Is(err, ErrInvalidMasterKey) {
		t.Errorf("expected ErrInvalidMasterKey after Close, got %v", err)
	}
}

// =============================================================================
// Master Key Tests
// =============================================================================

func TestLoadMasterKey(t *testing.T) {
	dir := t.TempDir()
	m := testMaster()

	raw := filepath.Join(dir, "raw.key")
	os.WriteFile(raw, m, 0600)
	got, err := LoadMasterKey(raw)
	if err != nil || !bytes.Equal(got, m) {
		t.Errorf("raw key: got %x, %v", got, err)
	}

	hexPath := filepath.Join(dir, "hex.key")
	os.WriteFile(hexPath, []byte(hex.EncodeToString(m)+"\n"), 0600)
	got, err = LoadMasterKey(hexPath)
	if err != nil || !bytes.Equal(got, m) {
		t.Errorf("hex key: got %x, %v", got, err)
	}

	bad := filepath.Join(dir, "bad.key")
	os.WriteFile(bad, []byte("short"), 0600)
	if _, err := LoadMasterKey(bad); !errors.Is(err, ErrInvalidMasterKey) {
		t.Errorf("expected ErrInvalidMasterKey, got %v", err)
	}
}

func TestGenerateMasterKey(t *testing.T) {
	a, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey failed: %v", err)
	}
	b, _ := GenerateMasterKey()
	if len(a) != KeySize || bytes.Equal(a, b) {
		t.Error("master keys should be 32 random bytes")
	}
}

func TestParseSuite(t *testing.T) {
	if s, err := ParseSuite(""); err != nil || s != DefaultSuite {
		t.Errorf("empty suite: %s, %v", s, err)
	}
	if s, err := ParseSuite("xchacha20-stream-v0"); err != nil || s != SuiteXChaCha20Stream {
		t.Errorf("stream suite: %s, %v", s, err)
	}
	if _, err := ParseSuite("aes"); !errors.Is(err, ErrUnknownSuite) {
		t.Errorf("expected ErrUnknownSuite, got %v", err)
	}
}
