// Package payment builds EIP-3009 transferWithAuthorization payloads, the
// gasless USDC transfer a buyer signs to pay a policy premium.
package payment

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
)

// PrimaryType is the EIP-712 primary type of an authorization.
const PrimaryType = "TransferWithAuthorization"

// Authorization errors.
var (
	ErrBadSignature = errors.New("payment: signature does not match sender")
	ErrNotYetValid  = errors.New("payment: authorization not yet valid")
	ErrExpired      = errors.New("payment: authorization expired")
	ErrBadWindow    = errors.New("payment: validBefore must be after validAfter")
	ErrZeroValue    = errors.New("payment: zero transfer value")
)

var tokenABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(`[{"type":"function","name":"transferWithAuthorization",
	 "stateMutability":"nonpayable","outputs":[],"inputs":[
	  {"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},
	  {"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},
	  {"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}]}]`))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Domain is the token's EIP-712 domain. USDC uses name "USD Coin" and
// version "2".
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// USDCDomain returns the USDC domain on the given chain.
func USDCDomain(chainID *big.Int, token common.Address) Domain {
	return Domain{Name: "USD Coin", Version: "2", ChainID: chainID, VerifyingContract: token}
}

// Authorization is an unsigned transferWithAuthorization message.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *uint256.Int
	ValidAfter  uint64
	ValidBefore uint64
	Nonce       [32]byte
}

// NewAuthorization returns an authorization valid from now for ttl, with a
// random nonce.
func NewAuthorization(from, to common.Address, value *uint256.Int, now time.Time, ttl time.Duration) (*Authorization, error) {
	if value == nil || value.IsZero() {
		return nil, ErrZeroValue
	}
	a := &Authorization{
		From:        from,
		To:          to,
		Value:       new(uint256.Int).Set(value),
		ValidAfter:  uint64(now.Add(-time.Second).Unix()),
		ValidBefore: uint64(now.Add(ttl).Unix()),
	}
	if a.ValidBefore <= a.ValidAfter {
		return nil, ErrBadWindow
	}
	if _, err := rand.Read(a.Nonce[:]); err != nil {
		return nil, fmt.Errorf("payment: nonce: %w", err)
	}
	return a, nil
}

// TypedData returns the EIP-712 payload for a under d.
func (a *Authorization) TypedData(d Domain) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			PrimaryType: {
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              d.Name,
			Version:           d.Version,
			ChainId:           (*math.HexOrDecimal256)(d.ChainID),
			VerifyingContract: d.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        a.From.Hex(),
			"to":          a.To.Hex(),
			"value":       a.Value.Dec(),
			"validAfter":  new(big.Int).SetUint64(a.ValidAfter).String(),
			"validBefore": new(big.Int).SetUint64(a.ValidBefore).String(),
			"nonce":       hexutil.Encode(a.Nonce[:]),
		},
	}
}

// Hash returns the EIP-712 digest that is signed.
func (a *Authorization) Hash(d Domain) (common.Hash, error) {
	digest, _, err := apitypes.TypedDataAndHash(a.TypedData(d))
	if err != nil {
		return common.Hash{}, fmt.Errorf("payment: typed data hash: %w", err)
	}
	return common.BytesToHash(digest), nil
}

// ValidAt checks the authorization's time window. Like the token contract,
// both bounds are exclusive.
func (a *Authorization) ValidAt(t time.Time) error {
	now := uint64(t.Unix())
	if now <= a.ValidAfter {
		return ErrNotYetValid
	}
	if now >= a.ValidBefore {
		return ErrExpired
	}
	return nil
}

// SignedAuthorization is an authorization with its signature split into
// the v, r, s form the token contract takes.
type SignedAuthorization struct {
	Authorization
	V uint8
	R [32]byte
	S [32]byte
}

// Signature returns the 65-byte r || s || v signature.
func (s *SignedAuthorization) Signature() []byte {
	sig := make([]byte, 65)
	copy(sig[:32], s.R[:])
	copy(sig[32:64], s.S[:])
	sig[64] = s.V
	return sig
}

// Sign signs a with key under d.
func Sign(a *Authorization, key *ecdsa.PrivateKey, d Domain) (*SignedAuthorization, error) {
	digest, err := a.Hash(d)
	if err != nil {
		return nil, err
	}
	sig, err := ethcrypto.Sign(digest[:], key)
	if err != nil {
		return nil, fmt.Errorf("payment: sign: %w", err)
	}
	s := &SignedAuthorization{Authorization: *a, V: sig[64] + 27}
	copy(s.R[:], sig[:32])
	copy(s.S[:], sig[32:64])
	return s, nil
}

// Recover returns the address that signed s under d.
func Recover(s *SignedAuthorization, d Domain) (common.Address, error) {
	digest, err := s.Hash(d)
	if err != nil {
		return common.Address{}, err
	}
	sig := s.Signature()
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify checks that s was signed by its From address.
func Verify(s *SignedAuthorization, d Domain) error {
	signer, err := Recover(s, d)
	if err != nil {
		return err
	}
	if signer != s.From {
		return fmt.Errorf("%w: signed by %s", ErrBadSignature, signer.Hex())
	}
	return nil
}

// PackTransferWithAuthorization encodes the token call that executes s.
func PackTransferWithAuthorization(s *SignedAuthorization) ([]byte, error) {
	return tokenABI.Pack("transferWithAuthorization",
		s.From, s.To, s.Value.ToBig(),
		new(big.Int).SetUint64(s.ValidAfter), new(big.Int).SetUint64(s.ValidBefore),
		s.Nonce, s.V, s.R, s.S)
}
