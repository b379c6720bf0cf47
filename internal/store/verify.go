package store

import (
	"context"
	"fmt"

	"sessionvault/internal/manifest"
)

// CorruptManifest names a stored manifest that failed validation.
type CorruptManifest struct {
	SessionID string
	Err       error
}

// VerifyManifests validates every stored manifest document and returns
// those that are structurally broken. It does not need chunk hashes; root
// recomputation is manifest.CheckIntegrity's job.
func VerifyManifests(ctx context.Context, s manifest.Store) ([]CorruptManifest, error) {
	all, err := s.List(ctx, manifest.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}

	var corrupted []CorruptManifest
	for _, m := range all {
		if err := m.Validate(); err != nil {
			corrupted = append(corrupted, CorruptManifest{SessionID: m.SessionID, Err: err})
			continue
		}
		if _, err := manifest.Document(m); err != nil {
			corrupted = append(corrupted, CorruptManifest{SessionID: m.SessionID, Err: err})
		}
	}
	return corrupted, nil
}
