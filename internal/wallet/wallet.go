// Package wallet manages signing keys for anchoring transactions.
//
// A wallet is an Ed25519 keypair persisted as one JSON file per wallet id
// plus an Info record in a RecordStore. Private keys leave disk only inside
// a loaded wallet held by a Manager, in locked memory.
package wallet

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// AddressPrefix marks ledger wallet addresses.
const AddressPrefix = "lw"

// addressLen is the number of hash bytes kept in an address.
const addressLen = 20

// Type tags a wallet's key custody model.
type Type string

const (
	TypeSoftware Type = "software"
	TypeHardware Type = "hardware"
	TypeMultisig Type = "multisig"
)

// ParseType parses a wallet type; empty means software.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case "", TypeSoftware:
		return TypeSoftware, nil
	case TypeHardware, TypeMultisig:
		return Type(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedWalletType, s)
}

// Info is the public record of a wallet.
type Info struct {
	WalletID    string    `json:"wallet_id"`
	Address     string    `json:"address"`
	PublicKey   string    `json:"public_key"`
	WalletType  Type      `json:"wallet_type"`
	IsEncrypted bool      `json:"is_encrypted"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeriveAddress returns "lw" followed by the hex of the first 20 bytes of
// BLAKE2b-256 over the raw public key.
func DeriveAddress(pub ed25519.PublicKey) string {
	sum := blake2b.Sum256(pub)
	return AddressPrefix + hex.EncodeToString(sum[:addressLen])
}

// EncodePublicKey serializes pub as a PKIX "PUBLIC KEY" PEM block.
func EncodePublicKey(pub ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("wallet: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePublicKey decodes a PEM public key produced by EncodePublicKey.
func ParsePublicKey(data string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("wallet: public key is not a PEM PUBLIC KEY block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("wallet: parse public key: %w", err)
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("wallet: unsupported public key type %T", key)
	}
	return pub, nil
}

// VerifySignature checks sig over payload against a PEM public key.
func VerifySignature(publicKeyPEM string, payload, sig []byte) (bool, error) {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return false, err
	}
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(pub, payload, sig), nil
}

type protectionKind int

const (
	protectionUnset protectionKind = iota
	protectionPassphrase
	protectionNone
)

// KeyProtection selects how a new wallet's private key is stored. The zero
// value is rejected; callers choose Passphrase or Unencrypted explicitly.
type KeyProtection struct {
	kind       protectionKind
	passphrase []byte
}

// Passphrase encrypts the private key with p.
func Passphrase(p []byte) KeyProtection {
	return KeyProtection{kind: protectionPassphrase, passphrase: p}
}

// Unencrypted stores the private key in the clear. Managers refuse it
// unless built with AllowUnencrypted.
func Unencrypted() KeyProtection {
	return KeyProtection{kind: protectionNone}
}

// Encrypted reports whether the key will be passphrase protected.
func (k KeyProtection) Encrypted() bool {
	return k.kind == protectionPassphrase
}

func (k KeyProtection) String() string {
	switch k.kind {
	case protectionPassphrase:
		return "passphrase"
	case protectionNone:
		return "unencrypted"
	}
	return "unset"
}
