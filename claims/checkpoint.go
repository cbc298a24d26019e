package claims

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/flightshield/flightshield/crypto"
)

// checkpointDomain prefixes every signed checkpoint message.
const checkpointDomain = "flightshield/checkpoint/v1"

// Checkpoint errors.
var (
	ErrNoSigner          = errors.New("claims: pool has no checkpoint signer")
	ErrBadCheckpoint     = errors.New("claims: malformed checkpoint")
	ErrCheckpointInvalid = errors.New("claims: checkpoint signature invalid")
)

// Checkpoint is an issuer's signed statement that pool had the given root
// after size insertions.
type Checkpoint struct {
	PoolID    string
	Size      uint64
	Root      fr.Element
	PublicKey []byte
	Signature []byte
}

// checkpointRLP is the storage and wire encoding of a Checkpoint.
type checkpointRLP struct {
	PoolID    string
	Size      uint64
	Root      [32]byte
	PublicKey []byte
	Signature []byte
}

// checkpointMessage is what the issuer signs.
type checkpointMessage struct {
	Domain string
	PoolID string
	Size   uint64
	Root   [32]byte
}

// SigningMessage returns the bytes covered by the signature.
func (c *Checkpoint) SigningMessage() []byte {
	msg, err := rlp.EncodeToBytes(checkpointMessage{
		Domain: checkpointDomain,
		PoolID: c.PoolID,
		Size:   c.Size,
		Root:   c.Root.Bytes(),
	})
	if err != nil {
		// Strings, integers and fixed arrays always encode.
		panic(fmt.Sprintf("claims: encode checkpoint message: %v", err))
	}
	return msg
}

// SignCheckpoint builds and signs a checkpoint.
func SignCheckpoint(signer *crypto.BLSSigner, poolID string, size uint64, root fr.Element) (*Checkpoint, error) {
	if signer == nil {
		return nil, ErrNoSigner
	}
	c := &Checkpoint{PoolID: poolID, Size: size, Root: root, PublicKey: signer.PublicKey()}
	sig, err := signer.Sign(c.SigningMessage())
	if err != nil {
		return nil, err
	}
	c.Signature = sig
	return c, nil
}

// Verify checks the signature against the embedded public key. Callers
// must separately decide whether they trust that key.
func (c *Checkpoint) Verify() error {
	if !crypto.BLSVerify(c.PublicKey, c.SigningMessage(), c.Signature) {
		return ErrCheckpointInvalid
	}
	return nil
}

// EncodeCheckpoint serialises c with RLP.
func EncodeCheckpoint(c *Checkpoint) ([]byte, error) {
	return rlp.EncodeToBytes(checkpointRLP{
		PoolID:    c.PoolID,
		Size:      c.Size,
		Root:      c.Root.Bytes(),
		PublicKey: c.PublicKey,
		Signature: c.Signature,
	})
}

// DecodeCheckpoint parses an encoded checkpoint. The root must be a
// canonical field element.
func DecodeCheckpoint(data []byte) (*Checkpoint, error) {
	var dec checkpointRLP
	if err := rlp.DecodeBytes(data, &dec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCheckpoint, err)
	}
	root, err := crypto.FieldFromBytes(dec.Root[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadCheckpoint, err)
	}
	return &Checkpoint{
		PoolID:    dec.PoolID,
		Size:      dec.Size,
		Root:      root,
		PublicKey: dec.PublicKey,
		Signature: dec.Signature,
	}, nil
}
