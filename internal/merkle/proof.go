package merkle

import (
	"encoding/hex"
	"fmt"
)

// Direction bytes used in the encoded proof form.
const (
	siblingLeft  byte = 0
	siblingRight byte = 1
)

// ProofStep is one sibling on the path from a leaf to the root.
type ProofStep struct {
	Sibling Hash
	// Left is true when the sibling is hashed on the left of the running node.
	Left bool
}

// Proof is an inclusion proof for a single leaf.
type Proof struct {
	Index int
	Leaf  Hash
	Steps []ProofStep
}

// Proof returns the inclusion proof for the leaf at index. For the last node
// of an odd level the sibling is the node itself, placed on the right.
func (t *Tree) Proof(index int) (*Proof, error) {
	if len(t.Levels) == 0 {
		return nil, ErrEmptyTree
	}
	if index < 0 || index >= len(t.Levels[0]) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(t.Levels[0]))
	}

	p := &Proof{Index: index, Leaf: t.Levels[0][index]}
	pos := index
	for level := 0; level < len(t.Levels)-1; level++ {
		nodes := t.Levels[level]
		if pos%2 == 0 {
			sib := pos + 1
			if sib >= len(nodes) {
				sib = pos
			}
			p.Steps = append(p.Steps, ProofStep{Sibling: nodes[sib]})
		} else {
			p.Steps = append(p.Steps, ProofStep{Sibling: nodes[pos-1], Left: true})
		}
		pos /= 2
	}
	return p, nil
}

// VerifyProof recomputes the root from leaf and proof steps.
func VerifyProof(leaf Hash, steps []ProofStep, root Hash) bool {
	current := leaf
	for _, s := range steps {
		if s.Left {
			current = hashPair(s.Sibling, current)
		} else {
			current = hashPair(current, s.Sibling)
		}
	}
	return current == root
}

// Verify checks the proof against root.
func (p *Proof) Verify(root Hash) bool {
	return VerifyProof(p.Leaf, p.Steps, root)
}

// Encode returns the proof as direction byte + 32-byte sibling per step.
func (p *Proof) Encode() [][]byte {
	out := make([][]byte, len(p.Steps))
	for i, s := range p.Steps {
		b := make([]byte, 1+HashSize)
		if s.Left {
			b[0] = siblingLeft
		} else {
			b[0] = siblingRight
		}
		copy(b[1:], s.Sibling[:])
		out[i] = b
	}
	return out
}

// DecodeSteps parses the encoded proof form.
func DecodeSteps(encoded [][]byte) ([]ProofStep, error) {
	steps := make([]ProofStep, len(encoded))
	for i, b := range encoded {
		if len(b) != 1+HashSize {
			return nil, fmt.Errorf("%w: step %d has %d bytes", ErrInvalidProof, i, len(b))
		}
		switch b[0] {
		case siblingLeft:
			steps[i].Left = true
		case siblingRight:
		default:
			return nil, fmt.Errorf("%w: step %d direction %d", ErrInvalidProof, i, b[0])
		}
		copy(steps[i].Sibling[:], b[1:])
	}
	return steps, nil
}

// HexSteps renders the proof as "L:<hex>" / "R:<hex>" strings.
func (p *Proof) HexSteps() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		side := "R"
		if s.Left {
			side = "L"
		}
		out[i] = side + ":" + hex.EncodeToString(s.Sibling[:])
	}
	return out
}
