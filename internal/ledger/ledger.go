// Package ledger submits signed manifest anchors to an external ledger.
//
// Backends:
//   - HTTPClient: JSON-RPC 2.0 "anchor_submit" over HTTP(S)
//   - AMQPClient: request/reply over RabbitMQ
//   - MemoryLedger: in-process ledger for tests and offline use
//
// Submission errors are classified so callers can decide whether to retry:
// ErrSubmission is transient (network, timeout, 5xx) and ErrRejection is
// permanent (the ledger refused the payload).
package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Errors
var (
	// ErrSubmission indicates a transient failure; the anchor may be retried.
	ErrSubmission = errors.New("ledger: submission failed")

	// ErrRejection indicates the ledger refused the payload permanently.
	ErrRejection = errors.New("ledger: submission rejected")

	// ErrInvalidPayload indicates a payload missing required fields.
	ErrInvalidPayload = errors.New("ledger: invalid payload")

	// ErrClosed indicates use of a closed client.
	ErrClosed = errors.New("ledger: client closed")
)

// IsRetryable reports whether err is a transient submission failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSubmission) && !errors.Is(err, ErrRejection)
}

// Client submits anchoring payloads and returns the ledger transaction id.
type Client interface {
	Submit(ctx context.Context, p *Payload) (txid string, err error)
	Close() error
}

// PayloadVersion tags the signing domain of anchoring payloads.
const PayloadVersion = "sessionvault-anchor-v1"

// Payload is the document written to the ledger for one session.
type Payload struct {
	RequestID     string    `json:"request_id"`
	SessionID     string    `json:"session_id"`
	ManifestHash  string    `json:"manifest_hash"`
	MerkleRoot    string    `json:"merkle_root"`
	ChunkCount    int       `json:"chunk_count"`
	TotalSize     int64     `json:"total_size"`
	SignerAddress string    `json:"signer_address"`
	PublicKey     string    `json:"public_key"`
	Signature     string    `json:"signature"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// SigningBytes returns the bytes covered by the signature: every field
// except RequestID and Signature, newline separated, behind a version tag.
func (p *Payload) SigningBytes() []byte {
	var b strings.Builder
	b.WriteString(PayloadVersion)
	for _, f := range []string{
		p.SessionID,
		p.ManifestHash,
		p.MerkleRoot,
		strconv.Itoa(p.ChunkCount),
		strconv.FormatInt(p.TotalSize, 10),
		p.SignerAddress,
		p.PublicKey,
		p.SubmittedAt.UTC().Format(time.RFC3339Nano),
	} {
		b.WriteByte('\n')
		b.WriteString(f)
	}
	return []byte(b.String())
}

// Validate checks that a payload is complete enough to submit. A malformed
// payload is a permanent rejection.
func (p *Payload) Validate() error {
	switch {
	case p.SessionID == "":
		return invalidPayload("session_id is empty")
	case len(p.ManifestHash) != 64:
		return invalidPayload("manifest_hash must be 64 hex characters")
	case len(p.MerkleRoot) != 64:
		return invalidPayload("merkle_root must be 64 hex characters")
	case p.Signature == "":
		return invalidPayload("signature is empty")
	}
	return nil
}

func invalidPayload(reason string) error {
	return fmt.Errorf("%w: %w: %s", ErrRejection, ErrInvalidPayload, reason)
}

// NewRequestID returns a lexicographically sortable request id.
func NewRequestID() string {
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String())
}

func submissionErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSubmission, fmt.Sprintf(format, args...))
}

func rejectionErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejection, fmt.Sprintf(format, args...))
}

// ctxErr maps context expiry to a retryable submission error.
func ctxErr(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubmission, op, err)
	}
	return nil
}
