package policy

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/flightshield/flightshield/crypto"
)

func u(v uint64) fr.Element { return crypto.FieldFromUint64(v) }

func TestScheme_CommitmentDeterministic(t *testing.T) {
	c1 := Commitment(u(1), u(42), u(12345))
	c2 := Commitment(u(1), u(42), u(12345))
	if !c1.Equal(&c2) {
		t.Fatal("commitment is not deterministic")
	}
	want := crypto.H3(u(1), u(42), u(12345))
	if !c1.Equal(&want) {
		t.Fatal("commitment must be H3(policyID, passengerHash, salt)")
	}
}

func TestScheme_ArgumentOrderFixed(t *testing.T) {
	a := Commitment(u(1), u(42), u(12345))
	b := Commitment(u(42), u(1), u(12345))
	if a.Equal(&b) {
		t.Fatal("swapping policyID and passengerHash should change the commitment")
	}
	p1 := PassengerHash(u(1), u(2), u(3))
	p2 := PassengerHash(u(3), u(2), u(1))
	if p1.Equal(&p2) {
		t.Fatal("passenger hash must be order sensitive")
	}
}

func TestScheme_NullifierChain(t *testing.T) {
	c := Commitment(u(1), u(42), u(12345))
	n := Nullifier(c, u(12345))
	wantN := crypto.H2(c, u(12345))
	if !n.Equal(&wantN) {
		t.Fatal("nullifier must be H2(commitment, salt)")
	}
	nh := NullifierHash(n)
	wantNH := crypto.H1(n)
	if !nh.Equal(&wantNH) {
		t.Fatal("nullifier hash must be H1(nullifier)")
	}
	if nh.Equal(&n) || n.Equal(&c) {
		t.Fatal("chain steps should not collapse")
	}
}

func TestScheme_NullifierUniqueness(t *testing.T) {
	seen := make(map[fr.Element]bool)
	for policy := uint64(1); policy <= 8; policy++ {
		for salt := uint64(100); salt < 108; salt++ {
			c := Commitment(u(policy), u(42), u(salt))
			nh := NullifierHash(Nullifier(c, u(salt)))
			if seen[nh] {
				t.Fatalf("nullifier hash collision at policy %d salt %d", policy, salt)
			}
			seen[nh] = true
		}
	}
	// Same commitment, different salt.
	c := Commitment(u(1), u(42), u(12345))
	a := Nullifier(c, u(1))
	b := Nullifier(c, u(2))
	if a.Equal(&b) {
		t.Fatal("different salts should give different nullifiers")
	}
}

func TestPassenger_Hash(t *testing.T) {
	p := Passenger{TicketNumber: "0167412345678", FlightNumber: "BA283", Name: "JANE DOE"}
	want := PassengerHash(
		crypto.HashStringToField("0167412345678"),
		crypto.HashStringToField("BA283"),
		crypto.HashStringToField("JANE DOE"),
	)
	got := p.Hash()
	if !got.Equal(&want) {
		t.Fatal("Passenger.Hash should pre-hash each field and fold with PassengerHash")
	}
	q := p
	q.FlightNumber = "BA284"
	other := q.Hash()
	if got.Equal(&other) {
		t.Fatal("different flights should give different passenger hashes")
	}
}
