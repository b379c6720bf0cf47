package store

import (
	"fmt"
	"io"
	"time"

	"sessionvault/internal/config"
	"sessionvault/internal/manifest"
	"sessionvault/internal/wallet"
)

// Backend persists both manifests and wallet records.
type Backend interface {
	manifest.Store
	wallet.RecordStore
	io.Closer
}

var (
	_ Backend = (*SQLite)(nil)
	_ Backend = (*Badger)(nil)
	_ Backend = (*Memory)(nil)
)

// Memory is a process-local Backend for tests and dry runs.
type Memory struct {
	*manifest.MemoryStore
	*wallet.MemoryRecords
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		MemoryStore:   manifest.NewMemoryStore(),
		MemoryRecords: wallet.NewMemoryRecords(),
	}
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Open creates the backend selected by cfg.Type.
func Open(cfg config.StorageConfig) (Backend, error) {
	switch cfg.Type {
	case "sqlite", "":
		return OpenSQLite(cfg.Path, SQLiteOptions{
			MaxConnections: cfg.MaxConnections,
			BusyTimeout:    time.Duration(cfg.BusyTimeoutMs) * time.Millisecond,
		})
	case "badger":
		return OpenBadger(cfg.BadgerDir, BadgerOptions{})
	case "memory":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("store: unknown storage type %q", cfg.Type)
}
