package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"sessionvault/internal/manifest"
	"sessionvault/internal/wallet"
)

// Key prefixes. Values are JSON documents.
var (
	prefixManifest = []byte("manifest/")
	prefixWallet   = []byte("wallet/")
)

// maxConflictRetries bounds retries of a conflicting update transaction.
const maxConflictRetries = 8

// BadgerOptions configures the Badger backend.
type BadgerOptions struct {
	// InMemory keeps all data in memory; Dir is ignored.
	InMemory bool
}

// Badger stores manifests and wallet records in a Badger key-value store.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens or creates a Badger database in dir.
func OpenBadger(dir string, opts BadgerOptions) (*Badger, error) {
	bopts := badger.DefaultOptions(dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create badger directory: %w", err)
	}
	bopts.Logger = nil
	bopts.SyncWrites = true

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

// Close closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}

func manifestKey(sessionID string) []byte {
	return append(append([]byte{}, prefixManifest...), sessionID...)
}

func walletKey(walletID string) []byte {
	return append(append([]byte{}, prefixWallet...), walletID...)
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (b *Badger) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// =============================================================================
// Manifests
// =============================================================================

// Insert stores a new manifest.
func (b *Badger) Insert(ctx context.Context, m *manifest.SessionManifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := manifestKey(m.SessionID)
	err := b.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return manifest.ErrManifestExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, m)
	})
	if err != nil && !errors.Is(err, manifest.ErrManifestExists) {
		return fmt.Errorf("insert manifest: %w", err)
	}
	return err
}

// Get retrieves a manifest by session id.
func (b *Badger) Get(ctx context.Context, sessionID string) (*manifest.SessionManifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var m manifest.SessionManifest
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, manifestKey(sessionID), &m)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, manifest.ErrManifestNotFound
		}
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	return &m, nil
}

// MarkAnchored sets the anchor fields inside one transaction, only if the
// manifest is not yet anchored.
func (b *Badger) MarkAnchored(ctx context.Context, sessionID, txid string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := manifestKey(sessionID)
	err := b.update(func(txn *badger.Txn) error {
		var m manifest.SessionManifest
		if err := getJSON(txn, key, &m); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return manifest.ErrManifestNotFound
			}
			return err
		}
		if m.AnchorTxID != nil {
			return manifest.ErrAlreadyAnchored
		}
		at := at.UTC()
		m.AnchorTxID = &txid
		m.AnchoredAt = &at
		return setJSON(txn, key, &m)
	})
	if err != nil && !errors.Is(err, manifest.ErrManifestNotFound) && !errors.Is(err, manifest.ErrAlreadyAnchored) {
		return fmt.Errorf("mark anchored: %w", err)
	}
	return err
}

// List returns manifests ordered by creation time.
func (b *Badger) List(ctx context.Context, opts manifest.ListOptions) ([]*manifest.SessionManifest, error) {
	var out []*manifest.SessionManifest
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefixManifest); it.ValidForPrefix(prefixManifest); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var m manifest.SessionManifest
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, &m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	manifest.SortManifests(out)
	return opts.Filter(out), nil
}

// =============================================================================
// Wallet records
// =============================================================================

// InsertWallet stores a wallet record.
func (b *Badger) InsertWallet(ctx context.Context, info *wallet.Info) error {
	key := walletKey(info.WalletID)
	err := b.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return wallet.ErrWalletExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, key, info)
	})
	if err != nil && !errors.Is(err, wallet.ErrWalletExists) {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return err
}

// GetWallet retrieves a wallet record.
func (b *Badger) GetWallet(ctx context.Context, walletID string) (*wallet.Info, error) {
	var info wallet.Info
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, walletKey(walletID), &info)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, wallet.ErrWalletNotFound
		}
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &info, nil
}

// ListWallets returns all wallet records ordered by id.
func (b *Badger) ListWallets(ctx context.Context) ([]*wallet.Info, error) {
	var out []*wallet.Info
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		// Keys sort lexically, so iteration is already ordered by wallet id.
		for it.Seek(prefixWallet); it.ValidForPrefix(prefixWallet); it.Next() {
			var info wallet.Info
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info)
			}); err != nil {
				return err
			}
			out = append(out, &info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	return out, nil
}

// DeleteWallet removes a wallet record.
func (b *Badger) DeleteWallet(ctx context.Context, walletID string) error {
	return b.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(walletKey(walletID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return wallet.ErrWalletNotFound
			}
			return err
		}
		return txn.Delete(walletKey(walletID))
	})
}
