// Package proofs wraps proving systems behind a small capability interface so
// pools and tools can prove and verify claims without knowing which backend
// is in use. The Groth16 backend is the production one; the stub backend
// checks the same relation in the clear and exists for tests.
package proofs

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/flightshield/flightshield/circuit"
	"github.com/flightshield/flightshield/crypto"
)

// Proof errors.
var (
	ErrInvalidProof   = errors.New("proofs: invalid proof")
	ErrWrongBackend   = errors.New("proofs: proof made by a different backend")
	ErrNoProvingKey   = errors.New("proofs: backend has no proving key")
	ErrProve          = errors.New("proofs: proving failed")
	ErrMissingKeyPath = errors.New("proofs: verifying key path required")
)

// PublicInputs are the circuit's public outputs, in circuit order.
type PublicInputs struct {
	Root          fr.Element
	NullifierHash fr.Element
}

// PublicInputsOf returns the public part of a witness.
func PublicInputsOf(w *circuit.Witness) PublicInputs {
	return PublicInputs{Root: w.Root, NullifierHash: w.NullifierHash}
}

// Vector returns exactly [root, nullifierHash], the order the verifier
// expects.
func (p PublicInputs) Vector() []fr.Element {
	return []fr.Element{p.Root, p.NullifierHash}
}

// Hashes returns the inputs as bytes32 values for contract calls.
func (p PublicInputs) Hashes() [2]common.Hash {
	return [2]common.Hash{crypto.FieldToHash(p.Root), crypto.FieldToHash(p.NullifierHash)}
}

// Proof is an opaque proof blob tagged with the backend that made it.
type Proof struct {
	Backend string
	Data    []byte
}

type proofJSON struct {
	Backend string        `json:"backend"`
	Data    hexutil.Bytes `json:"data"`
}

// MarshalJSON encodes the blob as 0x-hex.
func (p Proof) MarshalJSON() ([]byte, error) {
	return json.Marshal(proofJSON{Backend: p.Backend, Data: p.Data})
}

// UnmarshalJSON decodes a proof written by MarshalJSON.
func (p *Proof) UnmarshalJSON(data []byte) error {
	var dec proofJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	p.Backend, p.Data = dec.Backend, dec.Data
	return nil
}

// Prover turns a claim witness into a proof. Proving may take seconds and
// must stop when ctx is cancelled.
type Prover interface {
	Prove(ctx context.Context, w *circuit.Witness) (*Proof, error)
	Name() string
}

// Verifier checks a proof against public inputs. A nil error means the
// proof is valid.
type Verifier interface {
	Verify(proof *Proof, pub PublicInputs) error
	Name() string
}

// Backend can both prove and verify.
type Backend interface {
	Prover
	Verifier
}
