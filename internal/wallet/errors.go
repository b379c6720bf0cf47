package wallet

import (
	"errors"
	"fmt"
)

var (
	ErrLoad                  = errors.New("wallet: load failed")
	ErrWalletNotFound        = errors.New("wallet: not found")
	ErrWalletExists          = errors.New("wallet: already exists")
	ErrBadPassphrase         = errors.New("wallet: incorrect passphrase")
	ErrPassphraseRequired    = errors.New("wallet: passphrase required")
	ErrCorruptWallet         = errors.New("wallet: corrupt wallet file")
	ErrInvalidWalletID       = errors.New("wallet: invalid wallet id")
	ErrUnsupportedWalletType = errors.New("wallet: unsupported wallet type")
	ErrProtectionRequired    = errors.New("wallet: key protection must be specified")
	ErrUnencryptedNotAllowed = errors.New("wallet: unencrypted wallets are disabled")
	ErrWalletNotLoaded       = errors.New("wallet: not loaded")
	ErrClosed                = errors.New("wallet: manager closed")
)

// LoadError reports why a wallet could not be loaded. It matches both
// ErrLoad and the specific cause under errors.Is.
type LoadError struct {
	WalletID string
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("wallet: load %q: %v", e.WalletID, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrLoad, e.Err}
}

func loadErr(id string, err error) error {
	return &LoadError{WalletID: id, Err: err}
}
