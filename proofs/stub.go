package proofs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/flightshield/flightshield/accumulator"
	"github.com/flightshield/flightshield/circuit"
	"github.com/flightshield/flightshield/crypto"
	"github.com/flightshield/flightshield/metrics"
	"github.com/flightshield/flightshield/policy"
)

// StubName identifies the stub backend.
const StubName = "stub"

// StubBackend checks the claim relation directly instead of proving it. Its
// proofs carry the whole witness in the clear, so it must never be used
// where privacy matters.
type StubBackend struct {
	params circuit.Params
}

// NewStubBackend returns a stub backend enforcing params.
func NewStubBackend(params circuit.Params) *StubBackend {
	return &StubBackend{params: params}
}

// Name implements Prover and Verifier.
func (b *StubBackend) Name() string { return StubName }

type stubBlob struct {
	PolicyID      string             `json:"policyId"`
	PassengerHash string             `json:"passengerHash"`
	Salt          string             `json:"salt"`
	Path          *accumulator.Proof `json:"path"`
	DelayMinutes  uint64             `json:"delayMinutes"`
}

// Prove implements Prover.
func (b *StubBackend) Prove(ctx context.Context, w *circuit.Witness) (*Proof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defer metrics.NewTimer(metrics.ProveTime).Stop()

	if err := b.check(w, PublicInputsOf(w)); err != nil {
		metrics.ProveFailures.Inc()
		return nil, err
	}
	data, err := json.Marshal(stubBlob{
		PolicyID:      crypto.FieldHex(w.PolicyID),
		PassengerHash: crypto.FieldHex(w.PassengerHash),
		Salt:          crypto.FieldHex(w.Salt),
		Path:          w.Path,
		DelayMinutes:  w.DelayMinutes,
	})
	if err != nil {
		return nil, err
	}
	return &Proof{Backend: StubName, Data: data}, nil
}

// Verify implements Verifier.
func (b *StubBackend) Verify(proof *Proof, pub PublicInputs) error {
	defer metrics.NewTimer(metrics.VerifyTime).Stop()

	if proof == nil {
		return ErrInvalidProof
	}
	if proof.Backend != StubName {
		return fmt.Errorf("%w: %q", ErrWrongBackend, proof.Backend)
	}
	var blob stubBlob
	if err := json.Unmarshal(proof.Data, &blob); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrInvalidProof, err)
	}
	w := &circuit.Witness{Path: blob.Path, DelayMinutes: blob.DelayMinutes}
	for _, f := range []struct {
		src string
		dst *fr.Element
	}{
		{blob.PolicyID, &w.PolicyID},
		{blob.PassengerHash, &w.PassengerHash},
		{blob.Salt, &w.Salt},
	} {
		e, err := crypto.FieldFromHex(f.src)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
		*f.dst = e
	}
	if err := b.check(w, pub); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}

// check enforces what the circuit enforces, against the given public inputs.
func (b *StubBackend) check(w *circuit.Witness, pub PublicInputs) error {
	if w.Depth() != b.params.Depth {
		return fmt.Errorf("%w: witness %d, circuit %d", circuit.ErrDepthMismatch, w.Depth(), b.params.Depth)
	}
	if w.DelayMinutes < b.params.MinDelayMinutes {
		return fmt.Errorf("%w: %d < %d", circuit.ErrDelayBelowMinimum, w.DelayMinutes, b.params.MinDelayMinutes)
	}
	if w.DelayMinutes >= 1<<circuit.DelayBits {
		return fmt.Errorf("%w: delay out of range", circuit.ErrHashMismatch)
	}
	commitment := policy.Commitment(w.PolicyID, w.PassengerHash, w.Salt)
	if !accumulator.Verify(pub.Root, commitment, w.Path) {
		return fmt.Errorf("%w: commitment not under root", circuit.ErrHashMismatch)
	}
	nh := policy.NullifierHash(policy.Nullifier(commitment, w.Salt))
	if !nh.Equal(&pub.NullifierHash) {
		return fmt.Errorf("%w: nullifier hash", circuit.ErrHashMismatch)
	}
	return nil
}
