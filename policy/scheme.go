// Package policy defines how a policy registration is committed to and how
// its one-time nullifier is derived. Argument order and arity are fixed; the
// claim circuit recomputes the same chain and must agree bit for bit.
package policy

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/flightshield/flightshield/crypto"
)

// PassengerHash binds a ticket, a flight and a passenger name, each already
// pre-hashed into the field.
func PassengerHash(ticketHash, flightHash, nameHash fr.Element) fr.Element {
	return crypto.H3(ticketHash, flightHash, nameHash)
}

// Commitment is the accumulator leaf for a policy.
func Commitment(policyID, passengerHash, salt fr.Element) fr.Element {
	return crypto.H3(policyID, passengerHash, salt)
}

// Nullifier is derived from the commitment and the salt. It never leaves the
// claimant.
func Nullifier(commitment, salt fr.Element) fr.Element {
	return crypto.H2(commitment, salt)
}

// NullifierHash is the only nullifier-related value revealed at claim time.
func NullifierHash(nullifier fr.Element) fr.Element {
	return crypto.H1(nullifier)
}

// Passenger is the free-form identity behind a passenger hash.
type Passenger struct {
	TicketNumber string `json:"ticketNumber"`
	FlightNumber string `json:"flightNumber"`
	Name         string `json:"name"`
}

// Hash pre-hashes each field and folds them with PassengerHash.
func (p Passenger) Hash() fr.Element {
	return PassengerHash(
		crypto.HashStringToField(p.TicketNumber),
		crypto.HashStringToField(p.FlightNumber),
		crypto.HashStringToField(p.Name),
	)
}
