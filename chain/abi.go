// Package chain encodes calls to the on-chain policy pool and its exported
// Groth16 verifier, and talks to them over JSON-RPC.
package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/flightshield/flightshield/crypto"
	"github.com/flightshield/flightshield/proofs"
)

// PoolABIJSON is the interface of the policy pool contract.
const PoolABIJSON = `[
  {"type":"function","name":"buyPolicy","stateMutability":"nonpayable",
   "inputs":[{"name":"commitment","type":"bytes32"}],
   "outputs":[{"name":"leafIndex","type":"uint32"}]},
  {"type":"function","name":"claim","stateMutability":"nonpayable",
   "inputs":[{"name":"proof","type":"uint256[8]"},{"name":"root","type":"bytes32"},
             {"name":"nullifierHash","type":"bytes32"},{"name":"recipient","type":"address"}],
   "outputs":[]},
  {"type":"function","name":"isKnownRoot","stateMutability":"view",
   "inputs":[{"name":"root","type":"bytes32"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"nullifierSpent","stateMutability":"view",
   "inputs":[{"name":"nullifierHash","type":"bytes32"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"latestRoot","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"bytes32"}]},
  {"type":"event","name":"PolicyPurchased","anonymous":false,
   "inputs":[{"name":"commitment","type":"bytes32","indexed":true},
             {"name":"leafIndex","type":"uint32","indexed":false},
             {"name":"root","type":"bytes32","indexed":false}]},
  {"type":"event","name":"ClaimPaid","anonymous":false,
   "inputs":[{"name":"nullifierHash","type":"bytes32","indexed":true},
             {"name":"recipient","type":"address","indexed":true},
             {"name":"amount","type":"uint256","indexed":false}]}
]`

// VerifierABIJSON is the interface of the exported Groth16 verifier. It
// reverts on an invalid proof.
const VerifierABIJSON = `[
  {"type":"function","name":"verifyProof","stateMutability":"view",
   "inputs":[{"name":"proof","type":"uint256[8]"},{"name":"input","type":"uint256[2]"}],
   "outputs":[]}
]`

// Parsed ABIs.
var (
	PoolABI     = mustParse(PoolABIJSON)
	VerifierABI = mustParse(VerifierABIJSON)
)

// Decoding errors.
var (
	ErrWrongEvent = errors.New("chain: log is not the expected event")
	ErrBadOutput  = errors.New("chain: unexpected call output")
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: bad abi: %v", err))
	}
	return parsed
}

func bytes32(e fr.Element) [32]byte {
	return e.Bytes()
}

// PackBuy encodes buyPolicy(commitment).
func PackBuy(commitment fr.Element) ([]byte, error) {
	return PoolABI.Pack("buyPolicy", bytes32(commitment))
}

// PackClaim encodes claim(proof, root, nullifierHash, recipient). The proof
// must come from the Groth16 backend.
func PackClaim(proof *proofs.Proof, pub proofs.PublicInputs, recipient common.Address) ([]byte, error) {
	words, err := proofs.Calldata(proof)
	if err != nil {
		return nil, err
	}
	return PoolABI.Pack("claim", words, bytes32(pub.Root), bytes32(pub.NullifierHash), recipient)
}

// PackVerify encodes verifyProof(proof, [root, nullifierHash]).
func PackVerify(proof *proofs.Proof, pub proofs.PublicInputs) ([]byte, error) {
	words, err := proofs.Calldata(proof)
	if err != nil {
		return nil, err
	}
	return packVerifyWords(words, pub)
}

func packVerifyWords(words [8]*big.Int, pub proofs.PublicInputs) ([]byte, error) {
	input := [2]*big.Int{crypto.FieldToBig(pub.Root), crypto.FieldToBig(pub.NullifierHash)}
	return VerifierABI.Pack("verifyProof", words, input)
}

// PurchasedEvent is a decoded PolicyPurchased log.
type PurchasedEvent struct {
	Commitment fr.Element
	LeafIndex  uint32
	Root       fr.Element
}

// UnpackPurchased decodes a PolicyPurchased log.
func UnpackPurchased(l types.Log) (*PurchasedEvent, error) {
	ev := PoolABI.Events["PolicyPurchased"]
	if len(l.Topics) != 2 || l.Topics[0] != ev.ID {
		return nil, ErrWrongEvent
	}
	var data struct {
		LeafIndex uint32
		Root      [32]byte
	}
	if err := PoolABI.UnpackIntoInterface(&data, "PolicyPurchased", l.Data); err != nil {
		return nil, fmt.Errorf("chain: unpack PolicyPurchased: %w", err)
	}
	commitment, err := crypto.HashToField(l.Topics[1])
	if err != nil {
		return nil, err
	}
	root, err := crypto.FieldFromBytes(data.Root[:])
	if err != nil {
		return nil, err
	}
	return &PurchasedEvent{Commitment: commitment, LeafIndex: data.LeafIndex, Root: root}, nil
}

// ClaimPaidEvent is a decoded ClaimPaid log.
type ClaimPaidEvent struct {
	NullifierHash fr.Element
	Recipient     common.Address
	Amount        *big.Int
}

// UnpackClaimPaid decodes a ClaimPaid log.
func UnpackClaimPaid(l types.Log) (*ClaimPaidEvent, error) {
	ev := PoolABI.Events["ClaimPaid"]
	if len(l.Topics) != 3 || l.Topics[0] != ev.ID {
		return nil, ErrWrongEvent
	}
	out, err := PoolABI.Unpack("ClaimPaid", l.Data)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack ClaimPaid: %w", err)
	}
	if len(out) != 1 {
		return nil, ErrBadOutput
	}
	amount, ok := out[0].(*big.Int)
	if !ok {
		return nil, ErrBadOutput
	}
	nh, err := crypto.HashToField(l.Topics[1])
	if err != nil {
		return nil, err
	}
	return &ClaimPaidEvent{
		NullifierHash: nh,
		Recipient:     common.BytesToAddress(l.Topics[2].Bytes()),
		Amount:        amount,
	}, nil
}
