package ledger

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// MemoryLedger is an in-process ledger. Submitting the same manifest hash
// twice returns the original transaction id.
type MemoryLedger struct {
	mu      sync.Mutex
	byHash  map[string]string
	entries map[string]*Payload
	order   []string

	// fail, when set, is returned by the next Submit calls.
	fail      error
	failCount int
	closed    bool
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byHash:  make(map[string]string),
		entries: make(map[string]*Payload),
	}
}

// FailNext makes the next n submissions return err.
func (m *MemoryLedger) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
	m.failCount = n
}

// Submit records the payload and returns a deterministic txid derived from
// the manifest hash and signature.
func (m *MemoryLedger) Submit(ctx context.Context, p *Payload) (string, error) {
	if err := ctxErr(ctx, "submit"); err != nil {
		return "", err
	}
	if err := p.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", ErrClosed
	}
	if m.failCount > 0 {
		m.failCount--
		return "", m.fail
	}

	if txid, ok := m.byHash[p.ManifestHash]; ok {
		return txid, nil
	}

	sum := blake2b.Sum256([]byte(p.ManifestHash + ":" + p.Signature))
	txid := fmt.Sprintf("mem-%x", sum[:16])

	cp := *p
	m.byHash[p.ManifestHash] = txid
	m.entries[txid] = &cp
	m.order = append(m.order, txid)
	return txid, nil
}

// Lookup returns the payload recorded under txid.
func (m *MemoryLedger) Lookup(txid string) (*Payload, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.entries[txid]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Len returns the number of distinct anchors recorded.
func (m *MemoryLedger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Close marks the ledger closed.
func (m *MemoryLedger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
