package circuit

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"

	"github.com/flightshield/flightshield/accumulator"
	"github.com/flightshield/flightshield/crypto"
	"github.com/flightshield/flightshield/policy"
)

// Witness is the full assignment for one claim, kept as field elements until
// it is handed to a prover.
type Witness struct {
	Root          fr.Element
	NullifierHash fr.Element

	PolicyID      fr.Element
	PassengerHash fr.Element
	Salt          fr.Element
	Path          *accumulator.Proof
	DelayMinutes  uint64
}

// NewWitness builds a claim witness from a note, the inclusion proof of its
// commitment and the attested delay. The root is the one the proof implies,
// so the caller must check that root is known to the pool it claims against.
func NewWitness(note *policy.Note, path *accumulator.Proof, delayMinutes uint64) (*Witness, error) {
	root, err := accumulator.ComputeRoot(note.Commitment(), path)
	if err != nil {
		return nil, err
	}
	return &Witness{
		Root:          root,
		NullifierHash: note.NullifierHash(),
		PolicyID:      note.PolicyID,
		PassengerHash: note.PassengerHash,
		Salt:          note.Salt,
		Path:          path,
		DelayMinutes:  delayMinutes,
	}, nil
}

// Depth returns the Merkle depth of the witness path.
func (w *Witness) Depth() int {
	if w.Path == nil {
		return 0
	}
	return w.Path.Depth()
}

// Public returns the public inputs in circuit order: root, nullifier hash.
func (w *Witness) Public() [2]fr.Element {
	return [2]fr.Element{w.Root, w.NullifierHash}
}

// Assignment converts the witness into a circuit assignment for params.
func (w *Witness) Assignment(params Params) (*ClaimCircuit, error) {
	if w.Depth() != params.Depth {
		return nil, fmt.Errorf("%w: witness %d, circuit %d", ErrDepthMismatch, w.Depth(), params.Depth)
	}
	a := &ClaimCircuit{
		Root:            crypto.FieldToBig(w.Root),
		NullifierHash:   crypto.FieldToBig(w.NullifierHash),
		PolicyID:        crypto.FieldToBig(w.PolicyID),
		PassengerHash:   crypto.FieldToBig(w.PassengerHash),
		Salt:            crypto.FieldToBig(w.Salt),
		PathElements:    make([]frontend.Variable, params.Depth),
		PathIndices:     make([]frontend.Variable, params.Depth),
		DelayMinutes:    w.DelayMinutes,
		MinDelayMinutes: params.MinDelayMinutes,
	}
	for i := 0; i < params.Depth; i++ {
		a.PathElements[i] = crypto.FieldToBig(w.Path.Siblings[i])
		a.PathIndices[i] = uint64(w.Path.PathIndices[i])
	}
	return a, nil
}

// PublicAssignment returns an assignment carrying only the public inputs,
// for building a verifier witness.
func PublicAssignment(params Params, root, nullifierHash fr.Element) *ClaimCircuit {
	a := NewClaimCircuit(params)
	a.Root = crypto.FieldToBig(root)
	a.NullifierHash = crypto.FieldToBig(nullifierHash)
	return a
}

// Check runs the witness through the circuit with gnark's test engine. It
// catches any drift between the off-chain derivations and the constraints
// before a proof is attempted.
func Check(params Params, w *Witness) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if w.DelayMinutes < params.MinDelayMinutes {
		return fmt.Errorf("%w: %d < %d", ErrDelayBelowMinimum, w.DelayMinutes, params.MinDelayMinutes)
	}
	if w.DelayMinutes >= 1<<DelayBits {
		return fmt.Errorf("%w: delay %d exceeds %d bits", ErrInvalidParams, w.DelayMinutes, DelayBits)
	}
	assignment, err := w.Assignment(params)
	if err != nil {
		return err
	}
	if err := test.IsSolved(NewClaimCircuit(params), assignment, ecc.BN254.ScalarField()); err != nil {
		return fmt.Errorf("%w: %v", ErrHashMismatch, err)
	}
	return nil
}
