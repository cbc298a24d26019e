package claims

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/flightshield/flightshield/accumulator"
	"github.com/flightshield/flightshield/crypto"
)

// ErrSnapshotMismatch is returned when a snapshot's leaves do not rebuild
// its stated root.
var ErrSnapshotMismatch = errors.New("claims: snapshot leaves do not match root")

// Snapshot publishes a pool's full leaf set as a KZG-committed blob so that
// claimants can rebuild the accumulator themselves.
type Snapshot struct {
	PoolID     string
	Depth      int
	ZeroValue  fr.Element
	Size       uint64
	Root       fr.Element
	Blob       *crypto.LeafBlob
	Commitment [crypto.KZGCommitmentSize]byte
	Proof      [crypto.KZGProofSize]byte
}

type snapshotJSON struct {
	PoolID     string        `json:"poolId"`
	Depth      int           `json:"depth"`
	ZeroValue  string        `json:"zeroValue"`
	Size       uint64        `json:"size"`
	Root       string        `json:"root"`
	Blob       hexutil.Bytes `json:"blob"`
	Commitment hexutil.Bytes `json:"commitment"`
	Proof      hexutil.Bytes `json:"proof"`
}

// MarshalJSON encodes field elements and blob data as 0x-hex.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	enc := snapshotJSON{
		PoolID:     s.PoolID,
		Depth:      s.Depth,
		ZeroValue:  crypto.FieldHex(s.ZeroValue),
		Size:       s.Size,
		Root:       crypto.FieldHex(s.Root),
		Commitment: s.Commitment[:],
		Proof:      s.Proof[:],
	}
	if s.Blob != nil {
		enc.Blob = s.Blob[:]
	}
	return json.Marshal(enc)
}

// UnmarshalJSON decodes a snapshot written by MarshalJSON.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var dec snapshotJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	zero, err := crypto.FieldFromHex(dec.ZeroValue)
	if err != nil {
		return fmt.Errorf("snapshot zeroValue: %w", err)
	}
	root, err := crypto.FieldFromHex(dec.Root)
	if err != nil {
		return fmt.Errorf("snapshot root: %w", err)
	}
	blob := new(crypto.LeafBlob)
	if len(dec.Blob) != len(blob) {
		return fmt.Errorf("snapshot blob: want %d bytes, got %d", len(blob), len(dec.Blob))
	}
	if len(dec.Commitment) != crypto.KZGCommitmentSize || len(dec.Proof) != crypto.KZGProofSize {
		return errors.New("snapshot: bad kzg commitment or proof length")
	}
	copy(blob[:], dec.Blob)
	*s = Snapshot{
		PoolID:    dec.PoolID,
		Depth:     dec.Depth,
		ZeroValue: zero,
		Size:      dec.Size,
		Root:      root,
		Blob:      blob,
	}
	copy(s.Commitment[:], dec.Commitment)
	copy(s.Proof[:], dec.Proof)
	return nil
}

// newSnapshot packs leaves into a blob and commits to it.
func newSnapshot(poolID string, depth int, zero, root fr.Element, leaves []fr.Element) (*Snapshot, error) {
	blob, err := crypto.EncodeLeafBlob(leaves)
	if err != nil {
		return nil, err
	}
	kzg, err := crypto.DefaultBlobCommitter()
	if err != nil {
		return nil, err
	}
	comm, proof, err := kzg.Commit(blob)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		PoolID:     poolID,
		Depth:      depth,
		ZeroValue:  zero,
		Size:       uint64(len(leaves)),
		Root:       root,
		Blob:       blob,
		Commitment: comm,
		Proof:      proof,
	}, nil
}

// VerifySnapshot checks the blob against its KZG commitment, rebuilds the
// accumulator from the blob's leaves and checks the result against the
// snapshot's size and root. The rebuilt tree can then serve inclusion
// proofs locally.
func VerifySnapshot(s *Snapshot) (*accumulator.Tree, error) {
	if s == nil || s.Blob == nil {
		return nil, ErrSnapshotMismatch
	}
	kzg, err := crypto.DefaultBlobCommitter()
	if err != nil {
		return nil, err
	}
	if err := kzg.Verify(s.Blob, s.Commitment, s.Proof); err != nil {
		return nil, err
	}
	leaves, err := crypto.DecodeLeafBlob(s.Blob)
	if err != nil {
		return nil, err
	}
	if uint64(len(leaves)) != s.Size {
		return nil, fmt.Errorf("%w: blob holds %d leaves, snapshot says %d", ErrSnapshotMismatch, len(leaves), s.Size)
	}
	tree, err := accumulator.New(s.Depth, s.ZeroValue, accumulator.Arity)
	if err != nil {
		return nil, err
	}
	if _, err := tree.InsertBatch(leaves); err != nil {
		return nil, err
	}
	root := tree.Root()
	if !root.Equal(&s.Root) {
		return nil, ErrSnapshotMismatch
	}
	return tree, nil
}
