package crypto

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

func TestPoseidon_Deterministic(t *testing.T) {
	a, b, c := FieldFromUint64(1), FieldFromUint64(42), FieldFromUint64(12345)
	h1 := H3(a, b, c)
	h2 := H3(a, b, c)
	if !h1.Equal(&h2) {
		t.Fatal("H3 is not deterministic")
	}
	if h1.IsZero() {
		t.Fatal("H3 output should not be zero")
	}
}

func TestPoseidon_ArgumentOrderMatters(t *testing.T) {
	a, b, c := FieldFromUint64(1), FieldFromUint64(2), FieldFromUint64(3)
	abc := H3(a, b, c)
	bac := H3(b, a, c)
	if abc.Equal(&bac) {
		t.Fatal("H3 must be order sensitive")
	}
	ab := H2(a, b)
	ba := H2(b, a)
	if ab.Equal(&ba) {
		t.Fatal("H2 must be order sensitive")
	}
}

func TestPoseidon_AritiesAreSeparated(t *testing.T) {
	var zero fr.Element
	x := FieldFromUint64(7)

	h1 := H1(x)
	h2 := H2(zero, x)
	h3 := H3(zero, zero, x)
	if h1.Equal(&h2) || h2.Equal(&h3) || h1.Equal(&h3) {
		t.Fatal("H1, H2 and H3 must not collide on zero-padded inputs")
	}

	// H2 is not a prefix chain of H3.
	y := FieldFromUint64(9)
	chained := H2(H2(x, y), zero)
	direct := H3(x, y, zero)
	if chained.Equal(&direct) {
		t.Fatal("H3 should not equal nested H2")
	}
}

func TestPoseidon_CompressMatchesChain(t *testing.T) {
	x := FieldFromUint64(5)
	want := compress(FieldFromUint64(IVH1), x)
	got := H1(x)
	if !got.Equal(&want) {
		t.Fatal("H1 should be a single compression from IVH1")
	}
}

func BenchmarkPoseidon_H2(b *testing.B) {
	x, y := FieldFromUint64(1), FieldFromUint64(2)
	for i := 0; i < b.N; i++ {
		x = H2(x, y)
	}
}
