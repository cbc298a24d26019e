// blob.go packs an accumulator's leaf sequence into an EIP-4844 blob and
// commits to it with KZG (go-eth-kzg, Ethereum ceremony setup). Publishing
// the blob lets claimants rebuild the tree and derive their own inclusion
// proofs without trusting the issuer's API.
//
// Layout: scalar 0 holds the leaf count, scalars 1.. hold the leaves in
// insertion order, the rest is zero. BN254 scalars are below the BLS12-381
// scalar modulus, so every canonical leaf is a canonical blob scalar.

package crypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	goethkzg "github.com/crate-crypto/go-eth-kzg"
)

// MaxBlobLeaves is the number of leaves a single blob can carry.
const MaxBlobLeaves = goethkzg.ScalarsPerBlob - 1

// KZG sizes.
const (
	KZGCommitmentSize = 48
	KZGProofSize      = 48
)

// Blob errors.
var (
	ErrBlobOverflow   = errors.New("blob: too many leaves for one blob")
	ErrBlobCorrupt    = errors.New("blob: malformed leaf blob")
	ErrKZGInvalid     = errors.New("blob: kzg proof does not match blob")
	ErrKZGUnavailable = errors.New("blob: kzg context unavailable")
)

// LeafBlob is a serialised leaf sequence.
type LeafBlob goethkzg.Blob

// EncodeLeafBlob packs leaves into a blob.
func EncodeLeafBlob(leaves []fr.Element) (*LeafBlob, error) {
	if len(leaves) > MaxBlobLeaves {
		return nil, fmt.Errorf("%w: %d > %d", ErrBlobOverflow, len(leaves), MaxBlobLeaves)
	}
	blob := new(LeafBlob)
	binary.BigEndian.PutUint64(blob[FieldBytes-8:FieldBytes], uint64(len(leaves)))
	for i := range leaves {
		b := leaves[i].Bytes()
		off := (i + 1) * FieldBytes
		copy(blob[off:off+FieldBytes], b[:])
	}
	return blob, nil
}

// DecodeLeafBlob recovers the leaf sequence from a blob.
func DecodeLeafBlob(blob *LeafBlob) ([]fr.Element, error) {
	for _, b := range blob[:FieldBytes-8] {
		if b != 0 {
			return nil, ErrBlobCorrupt
		}
	}
	n := binary.BigEndian.Uint64(blob[FieldBytes-8 : FieldBytes])
	if n > MaxBlobLeaves {
		return nil, fmt.Errorf("%w: count %d", ErrBlobCorrupt, n)
	}
	leaves := make([]fr.Element, n)
	for i := range leaves {
		off := (i + 1) * FieldBytes
		e, err := FieldFromBytes(blob[off : off+FieldBytes])
		if err != nil {
			return nil, fmt.Errorf("%w: leaf %d: %v", ErrBlobCorrupt, i, err)
		}
		leaves[i] = e
	}
	return leaves, nil
}

// BlobCommitter computes and checks KZG commitments over leaf blobs.
type BlobCommitter struct {
	ctx *goethkzg.Context
}

var (
	committerOnce sync.Once
	committer     *BlobCommitter
	committerErr  error
)

// DefaultBlobCommitter returns a process-wide committer. Loading the
// trusted setup takes a few seconds, so it happens once, on first use.
func DefaultBlobCommitter() (*BlobCommitter, error) {
	committerOnce.Do(func() {
		ctx, err := goethkzg.NewContext4096Secure()
		if err != nil {
			committerErr = fmt.Errorf("%w: %v", ErrKZGUnavailable, err)
			return
		}
		committer = &BlobCommitter{ctx: ctx}
	})
	return committer, committerErr
}

// Commit returns the KZG commitment to blob and the blob proof for it.
func (c *BlobCommitter) Commit(blob *LeafBlob) (commitment [KZGCommitmentSize]byte, proof [KZGProofSize]byte, err error) {
	b := (*goethkzg.Blob)(blob)
	comm, err := c.ctx.BlobToKZGCommitment(b, 0)
	if err != nil {
		return commitment, proof, fmt.Errorf("blob: commitment: %w", err)
	}
	p, err := c.ctx.ComputeBlobKZGProof(b, comm, 0)
	if err != nil {
		return commitment, proof, fmt.Errorf("blob: proof: %w", err)
	}
	return [KZGCommitmentSize]byte(comm), [KZGProofSize]byte(p), nil
}

// Verify checks a blob against its commitment and proof.
func (c *BlobCommitter) Verify(blob *LeafBlob, commitment [KZGCommitmentSize]byte, proof [KZGProofSize]byte) error {
	err := c.ctx.VerifyBlobKZGProof((*goethkzg.Blob)(blob), goethkzg.KZGCommitment(commitment), goethkzg.KZGProof(proof))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKZGInvalid, err)
	}
	return nil
}
