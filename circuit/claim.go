// Package circuit defines the claim circuit: knowledge of an opening of some
// leaf under a public root, the nullifier hash derived from that opening, and
// a delay above the policy threshold. Nothing else is revealed.
package circuit

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/permutation/poseidon2"

	"github.com/flightshield/flightshield/accumulator"
	"github.com/flightshield/flightshield/crypto"
)

// DelayBits bounds the delay witness so the comparison below is sound.
const DelayBits = 32

// Circuit errors.
var (
	ErrHashMismatch      = errors.New("circuit: off-chain values disagree with the circuit")
	ErrDelayBelowMinimum = errors.New("circuit: delay below policy minimum")
	ErrDepthMismatch     = errors.New("circuit: proof depth does not match circuit depth")
	ErrInvalidParams     = errors.New("circuit: invalid parameters")
)

// Params are fixed when the circuit is compiled. Changing either one needs a
// new setup and a new exported verifier.
type Params struct {
	Depth           int    `yaml:"depth" json:"depth"`
	MinDelayMinutes uint64 `yaml:"min_delay_minutes" json:"minDelayMinutes"`
}

// DefaultParams returns depth 6 and a two hour delay threshold.
func DefaultParams() Params {
	return Params{Depth: accumulator.DefaultDepth, MinDelayMinutes: 120}
}

// Validate checks the parameters are usable.
func (p Params) Validate() error {
	if p.Depth < 1 || p.Depth > accumulator.MaxDepth {
		return fmt.Errorf("%w: depth %d", ErrInvalidParams, p.Depth)
	}
	if p.MinDelayMinutes >= 1<<DelayBits {
		return fmt.Errorf("%w: min delay %d exceeds %d bits", ErrInvalidParams, p.MinDelayMinutes, DelayBits)
	}
	return nil
}

// ClaimCircuit proves a claim. Public inputs, in order: Root, NullifierHash.
type ClaimCircuit struct {
	Root          frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`

	PolicyID      frontend.Variable
	PassengerHash frontend.Variable
	Salt          frontend.Variable
	PathElements  []frontend.Variable
	PathIndices   []frontend.Variable
	DelayMinutes  frontend.Variable

	MinDelayMinutes uint64 `gnark:"-"`
}

// NewClaimCircuit returns an empty circuit shaped for params, ready to be
// compiled.
func NewClaimCircuit(params Params) *ClaimCircuit {
	return &ClaimCircuit{
		PathElements:    make([]frontend.Variable, params.Depth),
		PathIndices:     make([]frontend.Variable, params.Depth),
		MinDelayMinutes: params.MinDelayMinutes,
	}
}

// Define declares the constraints.
func (c *ClaimCircuit) Define(api frontend.API) error {
	if len(c.PathElements) == 0 || len(c.PathElements) != len(c.PathIndices) {
		return ErrDepthMismatch
	}
	h, err := newHasher(api)
	if err != nil {
		return err
	}

	commitment := h.h3(c.PolicyID, c.PassengerHash, c.Salt)

	current := commitment
	for i := range c.PathElements {
		bit := c.PathIndices[i]
		api.AssertIsBoolean(bit)
		left := api.Select(bit, c.PathElements[i], current)
		right := api.Select(bit, current, c.PathElements[i])
		current = h.h2(left, right)
	}
	api.AssertIsEqual(current, c.Root)

	nullifier := h.h2(commitment, c.Salt)
	api.AssertIsEqual(h.h1(nullifier), c.NullifierHash)

	api.ToBinary(c.DelayMinutes, DelayBits)
	api.AssertIsLessOrEqual(c.MinDelayMinutes, c.DelayMinutes)
	return nil
}

// hasher mirrors crypto.H1, H2 and H3 with the in-circuit Poseidon2
// permutation built from the same parameters.
type hasher struct {
	perm *poseidon2.Permutation
}

func newHasher(api frontend.API) (*hasher, error) {
	p, err := poseidon2.NewPoseidon2FromParameters(api, crypto.PoseidonWidth, crypto.PoseidonFullRounds, crypto.PoseidonPartialRounds)
	if err != nil {
		return nil, fmt.Errorf("circuit: poseidon2: %w", err)
	}
	return &hasher{perm: p}, nil
}

func (h *hasher) chain(iv uint64, inputs ...frontend.Variable) frontend.Variable {
	var state frontend.Variable = iv
	for _, in := range inputs {
		state = h.perm.Compress(state, in)
	}
	return state
}

func (h *hasher) h1(a frontend.Variable) frontend.Variable {
	return h.chain(crypto.IVH1, a)
}

func (h *hasher) h2(a, b frontend.Variable) frontend.Variable {
	return h.chain(crypto.IVH2, a, b)
}

func (h *hasher) h3(a, b, c frontend.Variable) frontend.Variable {
	return h.chain(crypto.IVH3, a, b, c)
}
