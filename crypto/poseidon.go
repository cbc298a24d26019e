// poseidon.go provides the fixed-arity hashes H1, H2 and H3 used by the
// accumulator and the commitment scheme. They are Merkle-Damgard chains over
// the Poseidon2 compression function of gnark-crypto, the same permutation
// the claim circuit instantiates through gnark's std library. The permutation
// itself is never re-implemented here.

package crypto

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
)

// Poseidon2 instance parameters. The circuit must be built with the same
// values or commitments computed off-chain will not match.
const (
	PoseidonWidth         = 2
	PoseidonFullRounds    = 6
	PoseidonPartialRounds = 50
)

// Initial chaining values. Each arity starts from its own tag so that H1, H2
// and H3 never share a prefix chain.
const (
	IVH1 uint64 = 1
	IVH2 uint64 = 2
	IVH3 uint64 = 3
)

var permutation = poseidon2.NewPermutation(PoseidonWidth, PoseidonFullRounds, PoseidonPartialRounds)

// compress applies the Poseidon2 compression function to two field elements.
// Inputs are canonical by construction, so an error means the library
// contract changed underneath us.
func compress(left, right fr.Element) fr.Element {
	l, r := left.Bytes(), right.Bytes()
	out, err := permutation.Compress(l[:], r[:])
	if err != nil {
		panic(fmt.Sprintf("crypto: poseidon2 compress: %v", err))
	}
	var e fr.Element
	if err := e.SetBytesCanonical(out); err != nil {
		panic(fmt.Sprintf("crypto: poseidon2 output: %v", err))
	}
	return e
}

func chain(iv uint64, inputs ...fr.Element) fr.Element {
	state := FieldFromUint64(iv)
	for _, in := range inputs {
		state = compress(state, in)
	}
	return state
}

// H1 hashes a single field element.
func H1(a fr.Element) fr.Element {
	return chain(IVH1, a)
}

// H2 hashes an ordered pair. It is also the internal node hash of the
// accumulator.
func H2(a, b fr.Element) fr.Element {
	return chain(IVH2, a, b)
}

// H3 hashes an ordered triple.
func H3(a, b, c fr.Element) fr.Element {
	return chain(IVH3, a, b, c)
}
