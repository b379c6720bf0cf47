package manifest

import (
	"errors"
	"fmt"
)

var (
	ErrManifestNotFound = errors.New("manifest: not found")
	ErrManifestExists   = errors.New("manifest: session already has a manifest")
	ErrAlreadyAnchored  = errors.New("manifest: already anchored")
	ErrIntegrity        = errors.New("manifest: merkle root mismatch")
	ErrInvalidManifest  = errors.New("manifest: invalid manifest")
	ErrInvalidCodecInfo = errors.New("manifest: invalid codec info")
	ErrWalletNotLoaded  = errors.New("manifest: signing wallet not loaded")
)

// AnchorError carries the session id of a failed anchor attempt along with
// the underlying cause.
type AnchorError struct {
	SessionID string
	Err       error
}

func (e *AnchorError) Error() string {
	return fmt.Sprintf("anchor session %q: %v", e.SessionID, e.Err)
}

func (e *AnchorError) Unwrap() error {
	return e.Err
}
