package merkle

import "errors"

var (
	// ErrInvalidLeaf indicates a chunk hash that is not 64 hex characters.
	ErrInvalidLeaf = errors.New("merkle: invalid leaf")

	// ErrIndexOutOfRange indicates a proof request beyond the leaf count.
	ErrIndexOutOfRange = errors.New("merkle: index out of range")

	// ErrEmptyTree indicates a proof request on a tree without leaves.
	ErrEmptyTree = errors.New("merkle: empty tree")

	// ErrInvalidProof indicates malformed encoded proof data.
	ErrInvalidProof = errors.New("merkle: invalid proof")
)
