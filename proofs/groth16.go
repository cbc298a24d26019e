package proofs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/flightshield/flightshield/circuit"
	"github.com/flightshield/flightshield/metrics"
)

// Groth16Name identifies the Groth16 backend.
const Groth16Name = "groth16"

// calldataWords is the size of an uncommitted BN254 Groth16 proof in
// uint256 words: A (2), B (4), C (2).
const calldataWords = 8

// Groth16Backend proves and verifies claims with Groth16 over BN254. A
// backend loaded without a proving key can only verify.
type Groth16Backend struct {
	params circuit.Params
	ccs    constraint.ConstraintSystem
	pk     groth16.ProvingKey
	vk     groth16.VerifyingKey
}

func compileClaim(params circuit.Params) (constraint.ConstraintSystem, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit.NewClaimCircuit(params))
	if err != nil {
		return nil, fmt.Errorf("proofs: compile claim circuit: %w", err)
	}
	return ccs, nil
}

// SetupGroth16 compiles the claim circuit and runs a fresh Groth16 setup.
// The toxic waste is discarded by gnark; keys from a single-party setup are
// for development and testing.
func SetupGroth16(params circuit.Params) (*Groth16Backend, error) {
	ccs, err := compileClaim(params)
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("proofs: groth16 setup: %w", err)
	}
	return &Groth16Backend{params: params, ccs: ccs, pk: pk, vk: vk}, nil
}

// LoadGroth16 reads keys written by WriteKeys. With an empty pkPath the
// backend is verify-only and the circuit is not compiled.
func LoadGroth16(params circuit.Params, pkPath, vkPath string) (*Groth16Backend, error) {
	if vkPath == "" {
		return nil, ErrMissingKeyPath
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	b := &Groth16Backend{params: params, vk: groth16.NewVerifyingKey(ecc.BN254)}
	if err := readKey(vkPath, b.vk); err != nil {
		return nil, err
	}
	if pkPath == "" {
		return b, nil
	}
	ccs, err := compileClaim(params)
	if err != nil {
		return nil, err
	}
	b.ccs = ccs
	b.pk = groth16.NewProvingKey(ecc.BN254)
	if err := readKey(pkPath, b.pk); err != nil {
		return nil, err
	}
	return b, nil
}

func readKey(path string, key io.ReaderFrom) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := key.ReadFrom(f); err != nil {
		return fmt.Errorf("proofs: read key %s: %w", path, err)
	}
	return nil
}

func writeKey(path string, key io.WriterTo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := key.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("proofs: write key %s: %w", path, err)
	}
	return f.Close()
}

// WriteKeys stores the proving and verifying keys.
func (b *Groth16Backend) WriteKeys(pkPath, vkPath string) error {
	if b.pk == nil {
		return ErrNoProvingKey
	}
	if err := writeKey(pkPath, b.pk); err != nil {
		return err
	}
	return writeKey(vkPath, b.vk)
}

// ExportSolidity writes a Solidity verifier contract for the verifying key.
func (b *Groth16Backend) ExportSolidity(w io.Writer) error {
	return b.vk.ExportSolidity(w)
}

// Name implements Prover and Verifier.
func (b *Groth16Backend) Name() string { return Groth16Name }

// Params returns the circuit parameters the keys were made for.
func (b *Groth16Backend) Params() circuit.Params { return b.params }

// NbConstraints returns the circuit size, or 0 for a verify-only backend.
func (b *Groth16Backend) NbConstraints() int {
	if b.ccs == nil {
		return 0
	}
	return b.ccs.GetNbConstraints()
}

// Prove implements Prover. gnark's prover does not take a context, so it
// runs in its own goroutine and Prove returns as soon as ctx is done; the
// abandoned proof is discarded when it completes.
func (b *Groth16Backend) Prove(ctx context.Context, w *circuit.Witness) (*Proof, error) {
	if b.pk == nil {
		return nil, ErrNoProvingKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if w.DelayMinutes < b.params.MinDelayMinutes {
		return nil, fmt.Errorf("%w: %d < %d", circuit.ErrDelayBelowMinimum, w.DelayMinutes, b.params.MinDelayMinutes)
	}
	assignment, err := w.Assignment(b.params)
	if err != nil {
		return nil, err
	}
	full, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("proofs: build witness: %w", err)
	}

	timer := metrics.NewTimer(metrics.ProveTime)
	type result struct {
		proof groth16.Proof
		err   error
	}
	done := make(chan result, 1)
	go func() {
		p, err := groth16.Prove(b.ccs, b.pk, full)
		done <- result{p, err}
	}()

	select {
	case <-ctx.Done():
		metrics.ProveFailures.Inc()
		return nil, ctx.Err()
	case r := <-done:
		timer.Stop()
		if r.err != nil {
			metrics.ProveFailures.Inc()
			return nil, fmt.Errorf("%w: %v", ErrProve, r.err)
		}
		var buf bytes.Buffer
		if _, err := r.proof.WriteTo(&buf); err != nil {
			return nil, fmt.Errorf("proofs: encode proof: %w", err)
		}
		return &Proof{Backend: Groth16Name, Data: buf.Bytes()}, nil
	}
}

// Verify implements Verifier.
func (b *Groth16Backend) Verify(proof *Proof, pub PublicInputs) error {
	defer metrics.NewTimer(metrics.VerifyTime).Stop()

	p, err := decodeGroth16(proof)
	if err != nil {
		return err
	}
	assignment := circuit.PublicAssignment(b.params, pub.Root, pub.NullifierHash)
	pw, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("proofs: build public witness: %w", err)
	}
	if err := groth16.Verify(p, b.vk, pw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}

func decodeGroth16(proof *Proof) (groth16.Proof, error) {
	if proof == nil {
		return nil, ErrInvalidProof
	}
	if proof.Backend != Groth16Name {
		return nil, fmt.Errorf("%w: %q", ErrWrongBackend, proof.Backend)
	}
	p := groth16.NewProof(ecc.BN254)
	if _, err := p.ReadFrom(bytes.NewReader(proof.Data)); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidProof, err)
	}
	return p, nil
}

// Calldata returns a Groth16 proof as the uint256[8] argument of the
// exported Solidity verifier.
func Calldata(proof *Proof) ([calldataWords]*big.Int, error) {
	var out [calldataWords]*big.Int
	p, err := decodeGroth16(proof)
	if err != nil {
		return out, err
	}
	bp, ok := p.(*groth16_bn254.Proof)
	if !ok {
		return out, fmt.Errorf("%w: not a bn254 proof", ErrInvalidProof)
	}
	raw := bp.MarshalSolidity()
	if len(raw) != calldataWords*32 {
		return out, fmt.Errorf("%w: solidity encoding is %d bytes", ErrInvalidProof, len(raw))
	}
	for i := range out {
		out[i] = new(big.Int).SetBytes(raw[i*32 : (i+1)*32])
	}
	return out, nil
}
