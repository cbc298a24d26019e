package accumulator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/flightshield/flightshield/crypto"
)

// ErrMalformedProof is returned when a decoded proof is inconsistent.
var ErrMalformedProof = errors.New("accumulator: malformed proof")

// Proof is an inclusion proof for one leaf. Siblings and PathIndices are
// ordered from the leaf level upward; PathIndices[i] is 0 when the node on
// the path is a left child and 1 when it is a right child.
//
// A proof is only valid against the root that existed when it was made.
type Proof struct {
	Index       uint64
	Siblings    []fr.Element
	PathIndices []uint8
}

// Depth returns the number of levels the proof covers.
func (p *Proof) Depth() int { return len(p.Siblings) }

// ComputeRoot folds leaf up through the proof and returns the root it
// implies.
func ComputeRoot(leaf fr.Element, proof *Proof) (fr.Element, error) {
	if proof == nil || len(proof.Siblings) == 0 || len(proof.Siblings) != len(proof.PathIndices) {
		return fr.Element{}, ErrMalformedProof
	}
	current := leaf
	for i, sib := range proof.Siblings {
		switch proof.PathIndices[i] {
		case 0:
			current = crypto.H2(current, sib)
		case 1:
			current = crypto.H2(sib, current)
		default:
			return fr.Element{}, fmt.Errorf("%w: path index %d is %d", ErrMalformedProof, i, proof.PathIndices[i])
		}
	}
	return current, nil
}

// Verify recomputes the root from leaf and proof and compares it to root.
// It reads no tree state, so it can check proofs from any source.
func Verify(root, leaf fr.Element, proof *Proof) bool {
	got, err := ComputeRoot(leaf, proof)
	if err != nil {
		return false
	}
	return got.Equal(&root)
}

type proofJSON struct {
	Index       uint64   `json:"index"`
	Siblings    []string `json:"siblings"`
	PathIndices []int    `json:"pathIndices"`
}

// MarshalJSON encodes siblings as 0x-prefixed bytes32 hex.
func (p Proof) MarshalJSON() ([]byte, error) {
	enc := proofJSON{
		Index:       p.Index,
		Siblings:    make([]string, len(p.Siblings)),
		PathIndices: make([]int, len(p.PathIndices)),
	}
	for i := range p.Siblings {
		enc.Siblings[i] = crypto.FieldHex(p.Siblings[i])
	}
	for i, b := range p.PathIndices {
		enc.PathIndices[i] = int(b)
	}
	return json.Marshal(enc)
}

// UnmarshalJSON decodes a proof and rejects out-of-field siblings.
func (p *Proof) UnmarshalJSON(data []byte) error {
	var dec proofJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	if len(dec.Siblings) != len(dec.PathIndices) {
		return fmt.Errorf("%w: %d siblings, %d path indices", ErrMalformedProof, len(dec.Siblings), len(dec.PathIndices))
	}
	sibs := make([]fr.Element, len(dec.Siblings))
	for i, s := range dec.Siblings {
		e, err := crypto.FieldFromHex(s)
		if err != nil {
			return fmt.Errorf("%w: sibling %d: %v", ErrMalformedProof, i, err)
		}
		sibs[i] = e
	}
	bits := make([]uint8, len(dec.PathIndices))
	for i, b := range dec.PathIndices {
		if b != 0 && b != 1 {
			return fmt.Errorf("%w: path index %d is %d", ErrMalformedProof, i, b)
		}
		bits[i] = uint8(b)
	}
	p.Index = dec.Index
	p.Siblings = sibs
	p.PathIndices = bits
	return nil
}
