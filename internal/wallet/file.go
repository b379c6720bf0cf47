package wallet

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"

	"sessionvault/internal/schema"
	"sessionvault/internal/security"
)

// FileVersion is the wallet file format version.
const FileVersion = 1

const fileSuffix = ".wallet.json"

// walletFile is the on-disk document, one per wallet id.
type walletFile struct {
	Version     int       `json:"version"`
	WalletID    string    `json:"wallet_id"`
	Address     string    `json:"address"`
	PublicKey   string    `json:"public_key"`
	PrivateKey  string    `json:"private_key"`
	CreatedAt   time.Time `json:"created_at"`
	WalletType  Type      `json:"wallet_type"`
	IsEncrypted bool      `json:"is_encrypted"`
}

func (f *walletFile) info() *Info {
	return &Info{
		WalletID:    f.WalletID,
		Address:     f.Address,
		PublicKey:   f.PublicKey,
		WalletType:  f.WalletType,
		IsEncrypted: f.IsEncrypted,
		CreatedAt:   f.CreatedAt,
	}
}

func walletPath(dir, id string) string {
	return filepath.Join(dir, id+fileSuffix)
}

// sealPrivateKey serializes priv as an OpenSSH PEM block, encrypted when
// protection carries a passphrase.
func sealPrivateKey(priv ed25519.PrivateKey, id string, protection KeyProtection) (string, error) {
	var (
		block *pem.Block
		err   error
	)
	if protection.Encrypted() {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, id, protection.passphrase)
	} else {
		block, err = ssh.MarshalPrivateKey(priv, id)
	}
	if err != nil {
		return "", fmt.Errorf("wallet: marshal private key: %w", err)
	}
	out := pem.EncodeToMemory(block)
	security.Wipe(block.Bytes)
	return string(out), nil
}

// openPrivateKey parses the wallet's private key and checks it against the
// recorded public key and address.
func openPrivateKey(f *walletFile, passphrase []byte) (ed25519.PrivateKey, error) {
	var (
		raw any
		err error
	)
	if f.IsEncrypted {
		if len(passphrase) == 0 {
			return nil, ErrPassphraseRequired
		}
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase([]byte(f.PrivateKey), passphrase)
		if errors.Is(err, x509.IncorrectPasswordError) {
			return nil, ErrBadPassphrase
		}
	} else {
		raw, err = ssh.ParseRawPrivateKey([]byte(f.PrivateKey))
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: key is encrypted but file says otherwise", ErrCorruptWallet)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptWallet, err)
	}

	var priv ed25519.PrivateKey
	switch k := raw.(type) {
	case *ed25519.PrivateKey:
		priv = *k
	case ed25519.PrivateKey:
		priv = k
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrCorruptWallet, raw)
	}

	pub, err := ParsePublicKey(f.PublicKey)
	if err != nil {
		security.Wipe(priv)
		return nil, fmt.Errorf("%w: %v", ErrCorruptWallet, err)
	}
	derived := priv.Public().(ed25519.PublicKey)
	if !security.ConstantTimeCompare(derived, pub) {
		security.Wipe(priv)
		return nil, fmt.Errorf("%w: private key does not match public key", ErrCorruptWallet)
	}
	if DeriveAddress(pub) != f.Address {
		security.Wipe(priv)
		return nil, fmt.Errorf("%w: address does not match public key", ErrCorruptWallet)
	}
	return priv, nil
}

func encodeWalletFile(f *walletFile) ([]byte, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("wallet: encode file: %w", err)
	}
	if err := schema.Validate(schema.WalletFileV1, data); err != nil {
		return nil, err
	}
	return data, nil
}

func decodeWalletFile(data []byte) (*walletFile, error) {
	if err := schema.Validate(schema.WalletFileV1, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptWallet, err)
	}
	var f walletFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptWallet, err)
	}
	return &f, nil
}
