// Package merkle builds the binary hash tree whose root commits to the
// ordered chunk hashes of a recorded session.
//
// Nodes are BLAKE2b-256(left || right) with no domain prefix. A level with
// an odd count pairs its last node with itself. An empty leaf set hashes to
// BLAKE2b-256 of the empty string and a single leaf is its own root.
package merkle

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the size of every leaf and node in bytes.
const HashSize = 32

// Hash is a single tree node.
type Hash [HashSize]byte

// String returns the lowercase hex form.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// EmptyRoot is the root of a tree with no leaves.
var EmptyRoot = Hash(blake2b.Sum256(nil))

// HashLeafBytes hashes raw bytes the same way chunk hashes are produced.
func HashLeafBytes(data []byte) Hash {
	return blake2b.Sum256(data)
}

func hashPair(left, right Hash) Hash {
	var combined [2 * HashSize]byte
	copy(combined[:HashSize], left[:])
	copy(combined[HashSize:], right[:])
	return blake2b.Sum256(combined[:])
}

// ParseLeaf decodes a single 64-character hex chunk hash.
func ParseLeaf(s string) (Hash, error) {
	var h Hash
	if len(s) != 2*HashSize {
		return h, fmt.Errorf("%w: %q has length %d", ErrInvalidLeaf, s, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(strings.ToLower(s))); err != nil {
		return h, fmt.Errorf("%w: %q: %v", ErrInvalidLeaf, s, err)
	}
	return h, nil
}

// ParseLeaves decodes an ordered list of hex chunk hashes.
func ParseLeaves(hashes []string) ([]Hash, error) {
	leaves := make([]Hash, len(hashes))
	for i, s := range hashes {
		h, err := ParseLeaf(s)
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		leaves[i] = h
	}
	return leaves, nil
}

// ComputeRoot returns the root over leaves in order.
func ComputeRoot(leaves []Hash) Hash {
	switch len(leaves) {
	case 0:
		return EmptyRoot
	case 1:
		return leaves[0]
	}

	level := make([]Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

// ComputeRootHex parses hex chunk hashes and returns the hex root.
func ComputeRootHex(hashes []string) (string, error) {
	leaves, err := ParseLeaves(hashes)
	if err != nil {
		return "", err
	}
	return ComputeRoot(leaves).String(), nil
}

func nextLevel(level []Hash) []Hash {
	next := make([]Hash, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		right := level[i]
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, hashPair(level[i], right))
	}
	return next
}

// Tree keeps every level so inclusion proofs can be produced.
type Tree struct {
	// Levels[0] holds the leaves; the last level holds the root.
	Levels [][]Hash
}

// Build constructs a Tree over leaves.
func Build(leaves []Hash) *Tree {
	t := &Tree{}
	if len(leaves) == 0 {
		return t
	}

	level := make([]Hash, len(leaves))
	copy(level, leaves)
	t.Levels = append(t.Levels, level)

	for len(level) > 1 {
		level = nextLevel(level)
		t.Levels = append(t.Levels, level)
	}
	return t
}

// Root returns the tree root.
func (t *Tree) Root() Hash {
	if len(t.Levels) == 0 {
		return EmptyRoot
	}
	return t.Levels[len(t.Levels)-1][0]
}

// LeafCount returns the number of leaves.
func (t *Tree) LeafCount() int {
	if len(t.Levels) == 0 {
		return 0
	}
	return len(t.Levels[0])
}
