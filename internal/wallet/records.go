package wallet

import (
	"context"
	"sort"
	"sync"
)

// RecordStore persists wallet Info records.
type RecordStore interface {
	// InsertWallet stores a new record; ErrWalletExists if the id is taken.
	InsertWallet(ctx context.Context, info *Info) error
	// GetWallet returns ErrWalletNotFound for unknown ids.
	GetWallet(ctx context.Context, walletID string) (*Info, error)
	// ListWallets returns all records ordered by wallet id.
	ListWallets(ctx context.Context) ([]*Info, error)
	// DeleteWallet removes a record; ErrWalletNotFound for unknown ids.
	DeleteWallet(ctx context.Context, walletID string) error
}

// MemoryRecords is a RecordStore held in process memory.
type MemoryRecords struct {
	mu      sync.RWMutex
	records map[string]Info
}

// NewMemoryRecords creates an empty record store.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{records: make(map[string]Info)}
}

func (m *MemoryRecords) InsertWallet(ctx context.Context, info *Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[info.WalletID]; ok {
		return ErrWalletExists
	}
	m.records[info.WalletID] = *info
	return nil
}

func (m *MemoryRecords) GetWallet(ctx context.Context, walletID string) (*Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.records[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return &info, nil
}

func (m *MemoryRecords) ListWallets(ctx context.Context) ([]*Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Info, 0, len(m.records))
	for _, info := range m.records {
		info := info
		out = append(out, &info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WalletID < out[j].WalletID })
	return out, nil
}

func (m *MemoryRecords) DeleteWallet(ctx context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[walletID]; !ok {
		return ErrWalletNotFound
	}
	delete(m.records, walletID)
	return nil
}
