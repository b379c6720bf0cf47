package manifest

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ListOptions filters List results.
type ListOptions struct {
	// State restricts results to one state; empty means all.
	State State
	// Limit caps the result count; zero means no limit.
	Limit int
}

// Store persists manifests. Implementations are safe for concurrent use.
type Store interface {
	// Insert stores a new manifest; ErrManifestExists if the session
	// already has one.
	Insert(ctx context.Context, m *SessionManifest) error
	// Get returns ErrManifestNotFound for unknown sessions.
	Get(ctx context.Context, sessionID string) (*SessionManifest, error)
	// MarkAnchored records txid only if the manifest is not yet anchored,
	// returning ErrAlreadyAnchored otherwise.
	MarkAnchored(ctx context.Context, sessionID, txid string, at time.Time) error
	// List returns manifests ordered by creation time, then session id.
	List(ctx context.Context, opts ListOptions) ([]*SessionManifest, error)
}

// SortManifests orders manifests the way List reports them.
func SortManifests(ms []*SessionManifest) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].SessionID < ms[j].SessionID
	})
}

// Filter applies opts to an already sorted slice.
func (o ListOptions) Filter(ms []*SessionManifest) []*SessionManifest {
	out := ms[:0]
	for _, m := range ms {
		if o.State != "" && m.State() != o.State {
			continue
		}
		out = append(out, m)
		if o.Limit > 0 && len(out) == o.Limit {
			break
		}
	}
	return out
}

// MemoryStore is a Store held in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	manifests map[string]*SessionManifest
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{manifests: make(map[string]*SessionManifest)}
}

func (s *MemoryStore) Insert(ctx context.Context, m *SessionManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.manifests[m.SessionID]; ok {
		return ErrManifestExists
	}
	s.manifests[m.SessionID] = m.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*SessionManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.manifests[sessionID]
	if !ok {
		return nil, ErrManifestNotFound
	}
	return m.Clone(), nil
}

func (s *MemoryStore) MarkAnchored(ctx context.Context, sessionID, txid string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manifests[sessionID]
	if !ok {
		return ErrManifestNotFound
	}
	if m.AnchorTxID != nil {
		return ErrAlreadyAnchored
	}
	at = at.UTC()
	m.AnchorTxID = &txid
	m.AnchoredAt = &at
	return nil
}

func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*SessionManifest, error) {
	s.mu.RLock()
	out := make([]*SessionManifest, 0, len(s.manifests))
	for _, m := range s.manifests {
		out = append(out, m.Clone())
	}
	s.mu.RUnlock()

	SortManifests(out)
	return opts.Filter(out), nil
}
