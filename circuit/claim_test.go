package circuit

import (
	"errors"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/test"

	"github.com/flightshield/flightshield/accumulator"
	"github.com/flightshield/flightshield/crypto"
	"github.com/flightshield/flightshield/policy"
)

// hashCircuit asserts the in-circuit hashes equal values computed off-chain.
type hashCircuit struct {
	A, B, C frontend.Variable
	Want1   frontend.Variable `gnark:",public"`
	Want2   frontend.Variable `gnark:",public"`
	Want3   frontend.Variable `gnark:",public"`
}

func (c *hashCircuit) Define(api frontend.API) error {
	h, err := newHasher(api)
	if err != nil {
		return err
	}
	api.AssertIsEqual(h.h1(c.A), c.Want1)
	api.AssertIsEqual(h.h2(c.A, c.B), c.Want2)
	api.AssertIsEqual(h.h3(c.A, c.B, c.C), c.Want3)
	return nil
}

func u(v uint64) fr.Element { return crypto.FieldFromUint64(v) }

func TestHasher_MatchesOffChain(t *testing.T) {
	inputs := [][3]fr.Element{
		{u(1), u(42), u(12345)},
		{u(0), u(0), u(0)},
		{crypto.HashStringToField("t"), crypto.HashStringToField("f"), crypto.HashStringToField("n")},
	}
	for i, in := range inputs {
		assignment := &hashCircuit{
			A:     crypto.FieldToBig(in[0]),
			B:     crypto.FieldToBig(in[1]),
			C:     crypto.FieldToBig(in[2]),
			Want1: crypto.FieldToBig(crypto.H1(in[0])),
			Want2: crypto.FieldToBig(crypto.H2(in[0], in[1])),
			Want3: crypto.FieldToBig(crypto.H3(in[0], in[1], in[2])),
		}
		if err := test.IsSolved(&hashCircuit{}, assignment, ecc.BN254.ScalarField()); err != nil {
			t.Fatalf("case %d: in-circuit hash disagrees: %v", i, err)
		}
	}
}

type claimFixture struct {
	params Params
	note   *policy.Note
	tree   *accumulator.Tree
}

func newClaimFixture(t *testing.T) *claimFixture {
	t.Helper()
	params := DefaultParams()
	tree, err := accumulator.New(params.Depth, fr.Element{}, accumulator.Arity)
	if err != nil {
		t.Fatalf("accumulator.New: %v", err)
	}
	note := &policy.Note{PoolID: "p", PolicyID: u(1), PassengerHash: u(42), Salt: u(12345)}
	idx, err := tree.Insert(note.Commitment())
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	note.SetIndex(idx)
	for i := uint64(0); i < 3; i++ {
		tree.Insert(policy.Commitment(u(10+i), u(42), u(500+i)))
	}
	return &claimFixture{params: params, note: note, tree: tree}
}

func (f *claimFixture) witness(t *testing.T, delay uint64) *Witness {
	t.Helper()
	path, err := f.tree.Prove(f.note.LeafIndex)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	w, err := NewWitness(f.note, path, delay)
	if err != nil {
		t.Fatalf("NewWitness: %v", err)
	}
	return w
}

func TestClaim_ValidWitnessSolves(t *testing.T) {
	f := newClaimFixture(t)
	w := f.witness(t, 180)
	root := f.tree.Root()
	if !w.Root.Equal(&root) {
		t.Fatal("witness root should equal the tree root")
	}
	pub := w.Public()
	nh := f.note.NullifierHash()
	if !pub[0].Equal(&root) || !pub[1].Equal(&nh) {
		t.Fatal("public inputs must be [root, nullifierHash]")
	}
	if err := Check(f.params, w); err != nil {
		t.Fatalf("Check: %v", err)
	}
	// Exactly at the threshold is accepted.
	if err := Check(f.params, f.witness(t, f.params.MinDelayMinutes)); err != nil {
		t.Fatalf("Check at threshold: %v", err)
	}
}

func TestClaim_TamperedWitnessMismatch(t *testing.T) {
	f := newClaimFixture(t)
	tests := []struct {
		name   string
		mutate func(w *Witness)
	}{
		{"salt", func(w *Witness) { w.Salt = u(1) }},
		{"policy", func(w *Witness) { w.PolicyID = u(2) }},
		{"passenger", func(w *Witness) { w.PassengerHash = u(43) }},
		{"root", func(w *Witness) { w.Root = u(7) }},
		{"nullifierHash", func(w *Witness) { w.NullifierHash = f.note.Nullifier() }},
		{"sibling", func(w *Witness) { w.Path.Siblings[2] = u(9) }},
		{"direction", func(w *Witness) { w.Path.PathIndices[0] = 1 }},
	}
	for _, tt := range tests {
		w := f.witness(t, 200)
		tt.mutate(w)
		if err := Check(f.params, w); !errors.Is(err, ErrHashMismatch) {
			t.Fatalf("%s: expected ErrHashMismatch, got %v", tt.name, err)
		}
	}
}

func TestClaim_NonBooleanPathIndexRejected(t *testing.T) {
	f := newClaimFixture(t)
	w := f.witness(t, 200)
	a, err := w.Assignment(f.params)
	if err != nil {
		t.Fatalf("Assignment: %v", err)
	}
	a.PathIndices[0] = 2
	if err := test.IsSolved(NewClaimCircuit(f.params), a, ecc.BN254.ScalarField()); err == nil {
		t.Fatal("path index 2 should not satisfy the circuit")
	}
}

func TestClaim_DelayBelowMinimum(t *testing.T) {
	f := newClaimFixture(t)
	w := f.witness(t, f.params.MinDelayMinutes-1)
	if err := Check(f.params, w); !errors.Is(err, ErrDelayBelowMinimum) {
		t.Fatalf("expected ErrDelayBelowMinimum, got %v", err)
	}
	// The circuit itself enforces the bound too.
	a, _ := w.Assignment(f.params)
	if err := test.IsSolved(NewClaimCircuit(f.params), a, ecc.BN254.ScalarField()); err == nil {
		t.Fatal("circuit accepted a delay below the minimum")
	}
}

func TestClaim_DepthMismatch(t *testing.T) {
	f := newClaimFixture(t)
	w := f.witness(t, 200)
	params := f.params
	params.Depth = 5
	if _, err := w.Assignment(params); !errors.Is(err, ErrDepthMismatch) {
		t.Fatalf("expected ErrDepthMismatch, got %v", err)
	}
}

func TestParams_Validate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("default params invalid: %v", err)
	}
	bad := []Params{{Depth: 0}, {Depth: 33}, {Depth: 6, MinDelayMinutes: 1 << 32}}
	for _, p := range bad {
		if err := p.Validate(); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("%+v: expected ErrInvalidParams, got %v", p, err)
		}
	}
}
