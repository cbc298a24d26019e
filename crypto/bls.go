// bls.go signs and verifies published accumulator roots with BLS12-381
// (blst, MinPk: public keys in G1, signatures in G2). An issuer signs each
// checkpoint it publishes; co-issuers can aggregate signatures over the same
// checkpoint.

package crypto

import (
	"errors"

	blst "github.com/supranational/blst/bindings/go"
)

// checkpointDST is the domain separation tag for root checkpoint signatures.
var checkpointDST = []byte("FLIGHTSHIELD_CHECKPOINT_BLS12381G2_XMD:SHA-256_SSWU_RO_POP_")

// BLS key and signature sizes (compressed encodings).
const (
	BLSPublicKeySize = 48
	BLSSignatureSize = 96
	BLSSecretKeySize = 32
)

// BLS errors.
var (
	ErrBLSShortIKM         = errors.New("bls: key material must be at least 32 bytes")
	ErrBLSKeyGen           = errors.New("bls: key generation failed")
	ErrBLSInvalidSecretKey = errors.New("bls: invalid secret key")
	ErrBLSSign             = errors.New("bls: signing failed")
	ErrBLSNoSignatures     = errors.New("bls: no signatures to aggregate")
	ErrBLSAggregate        = errors.New("bls: aggregation failed")
)

// BLSSigner holds an issuer's secret key.
type BLSSigner struct {
	sk *blst.SecretKey
	pk []byte
}

// NewBLSSigner derives a key pair from ikm (at least 32 bytes).
func NewBLSSigner(ikm []byte) (*BLSSigner, error) {
	if len(ikm) < 32 {
		return nil, ErrBLSShortIKM
	}
	sk := blst.KeyGen(ikm)
	if sk == nil {
		return nil, ErrBLSKeyGen
	}
	return &BLSSigner{sk: sk, pk: new(blst.P1Affine).From(sk).Compress()}, nil
}

// LoadBLSSigner restores a signer from a serialised secret key.
func LoadBLSSigner(secret []byte) (*BLSSigner, error) {
	if len(secret) != BLSSecretKeySize {
		return nil, ErrBLSInvalidSecretKey
	}
	sk := new(blst.SecretKey).Deserialize(secret)
	if sk == nil {
		return nil, ErrBLSInvalidSecretKey
	}
	return &BLSSigner{sk: sk, pk: new(blst.P1Affine).From(sk).Compress()}, nil
}

// PublicKey returns the compressed G1 public key.
func (s *BLSSigner) PublicKey() []byte {
	out := make([]byte, len(s.pk))
	copy(out, s.pk)
	return out
}

// SecretKey returns the serialised secret key.
func (s *BLSSigner) SecretKey() []byte {
	return s.sk.Serialize()
}

// Sign returns the compressed signature over msg.
func (s *BLSSigner) Sign(msg []byte) ([]byte, error) {
	sig := new(blst.P2Affine).Sign(s.sk, msg, checkpointDST)
	if sig == nil {
		return nil, ErrBLSSign
	}
	return sig.Compress(), nil
}

// BLSVerify checks a single signature. Malformed keys or signatures verify
// as false.
func BLSVerify(pubkey, msg, sig []byte) bool {
	if len(pubkey) != BLSPublicKeySize || len(sig) != BLSSignatureSize {
		return false
	}
	pk := new(blst.P1Affine).Uncompress(pubkey)
	if pk == nil {
		return false
	}
	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false
	}
	return s.Verify(true, pk, true, msg, checkpointDST)
}

// BLSAggregate combines signatures over the same checkpoint.
func BLSAggregate(sigs [][]byte) ([]byte, error) {
	if len(sigs) == 0 {
		return nil, ErrBLSNoSignatures
	}
	agg := new(blst.P2Aggregate)
	if !agg.AggregateCompressed(sigs, true) {
		return nil, ErrBLSAggregate
	}
	return agg.ToAffine().Compress(), nil
}

// BLSFastAggregateVerify checks an aggregate signature where every signer
// signed msg.
func BLSFastAggregateVerify(pubkeys [][]byte, msg, sig []byte) bool {
	if len(pubkeys) == 0 || len(sig) != BLSSignatureSize {
		return false
	}
	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false
	}
	pks := make([]*blst.P1Affine, len(pubkeys))
	for i, raw := range pubkeys {
		if pks[i] = new(blst.P1Affine).Uncompress(raw); pks[i] == nil {
			return false
		}
	}
	return s.FastAggregateVerify(true, pks, msg, checkpointDST)
}
