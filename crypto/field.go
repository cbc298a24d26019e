// Package crypto provides the field arithmetic and hash primitives shared by
// the accumulator, the commitment scheme and the claim circuit. All values are
// elements of the BN254 scalar field.
package crypto

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"
)

// FieldBytes is the size of a serialised field element.
const FieldBytes = fr.Bytes

// Field admission errors.
var (
	ErrNotInField    = errors.New("crypto: value is not a canonical field element")
	ErrNegativeValue = errors.New("crypto: negative value")
)

// Modulus returns a copy of the BN254 scalar field order r.
func Modulus() *big.Int {
	return fr.Modulus()
}

// FieldFromUint64 returns v as a field element. Every uint64 is below r.
func FieldFromUint64(v uint64) fr.Element {
	var e fr.Element
	e.SetUint64(v)
	return e
}

// FieldFromBig converts v into a field element. Values outside [0, r) are
// rejected rather than reduced so that off-chain inputs match what the
// circuit receives.
func FieldFromBig(v *big.Int) (fr.Element, error) {
	var e fr.Element
	if v == nil {
		return e, ErrNotInField
	}
	if v.Sign() < 0 {
		return e, ErrNegativeValue
	}
	if v.Cmp(fr.Modulus()) >= 0 {
		return e, ErrNotInField
	}
	e.SetBigInt(v)
	return e, nil
}

// FieldFromBytes decodes a 32-byte big-endian canonical encoding.
func FieldFromBytes(b []byte) (fr.Element, error) {
	var e fr.Element
	if len(b) != FieldBytes {
		return e, fmt.Errorf("%w: want %d bytes, got %d", ErrNotInField, FieldBytes, len(b))
	}
	if err := e.SetBytesCanonical(b); err != nil {
		return e, fmt.Errorf("%w: %v", ErrNotInField, err)
	}
	return e, nil
}

// FieldFromHex parses a 0x-prefixed hex string. Decimal strings are accepted
// too, since the scripts that produced policy ids print them that way.
func FieldFromHex(s string) (fr.Element, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fr.Element{}, ErrNotInField
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fr.Element{}, fmt.Errorf("%w: %q", ErrNotInField, s)
		}
		return FieldFromBig(v)
	}
	v, err := hexutil.DecodeBig(normaliseHex(s))
	if err != nil {
		return fr.Element{}, fmt.Errorf("%w: %v", ErrNotInField, err)
	}
	return FieldFromBig(v)
}

// hexutil.DecodeBig rejects leading zero digits, which show up in padded
// bytes32 values.
func normaliseHex(s string) string {
	digits := strings.TrimLeft(s[2:], "0")
	if digits == "" {
		digits = "0"
	}
	return "0x" + digits
}

// FieldToHash encodes e as a bytes32 value for contract calls.
func FieldToHash(e fr.Element) common.Hash {
	return common.Hash(e.Bytes())
}

// HashToField decodes a bytes32 value, rejecting non-canonical encodings.
func HashToField(h common.Hash) (fr.Element, error) {
	return FieldFromBytes(h[:])
}

// FieldToBig returns e as a big integer in [0, r).
func FieldToBig(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

// FieldHex returns the 0x-prefixed, 32-byte padded hex encoding of e.
func FieldHex(e fr.Element) string {
	b := e.Bytes()
	return hexutil.Encode(b[:])
}

// HashBytesToField is the one reducing entry point: the Keccak-256 digest of
// the concatenated inputs, taken mod r. It is used to pre-hash free-form
// strings (ticket numbers, flight numbers, names) before they enter the
// commitment scheme.
func HashBytesToField(data ...[]byte) fr.Element {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	v := new(big.Int).SetBytes(d.Sum(nil))
	v.Mod(v, fr.Modulus())
	var e fr.Element
	e.SetBigInt(v)
	return e
}

// HashStringToField pre-hashes a string with HashBytesToField.
func HashStringToField(s string) fr.Element {
	return HashBytesToField([]byte(s))
}

// RandomField draws a uniformly random field element from a CSPRNG.
func RandomField() (fr.Element, error) {
	var e fr.Element
	if _, err := e.SetRandom(); err != nil {
		return e, fmt.Errorf("crypto: random field element: %w", err)
	}
	return e, nil
}
