package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func testIKM(seed byte) []byte {
	return bytes.Repeat([]byte{seed}, 32)
}

func TestBLS_SignVerify(t *testing.T) {
	s, err := NewBLSSigner(testIKM(1))
	if err != nil {
		t.Fatalf("NewBLSSigner: %v", err)
	}
	msg := []byte("pool-a|4|root")
	sig, err := s.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != BLSSignatureSize {
		t.Fatalf("signature size %d", len(sig))
	}
	if !BLSVerify(s.PublicKey(), msg, sig) {
		t.Fatal("valid signature rejected")
	}
	if BLSVerify(s.PublicKey(), []byte("pool-a|5|root"), sig) {
		t.Fatal("signature accepted for a different message")
	}
}

func TestBLS_ShortIKM(t *testing.T) {
	if _, err := NewBLSSigner(make([]byte, 16)); !errors.Is(err, ErrBLSShortIKM) {
		t.Fatalf("expected ErrBLSShortIKM, got %v", err)
	}
}

func TestBLS_LoadSignerRoundTrip(t *testing.T) {
	s, _ := NewBLSSigner(testIKM(2))
	loaded, err := LoadBLSSigner(s.SecretKey())
	if err != nil {
		t.Fatalf("LoadBLSSigner: %v", err)
	}
	if !bytes.Equal(s.PublicKey(), loaded.PublicKey()) {
		t.Fatal("restored signer has a different public key")
	}
	if _, err := LoadBLSSigner([]byte{1, 2, 3}); !errors.Is(err, ErrBLSInvalidSecretKey) {
		t.Fatalf("expected ErrBLSInvalidSecretKey, got %v", err)
	}
}

func TestBLS_MalformedInputs(t *testing.T) {
	s, _ := NewBLSSigner(testIKM(3))
	sig, _ := s.Sign([]byte("m"))
	if BLSVerify(s.PublicKey()[:10], []byte("m"), sig) {
		t.Fatal("truncated key should not verify")
	}
	if BLSVerify(s.PublicKey(), []byte("m"), make([]byte, BLSSignatureSize)) {
		t.Fatal("zero signature should not verify")
	}
}

func TestBLS_FastAggregate(t *testing.T) {
	msg := []byte("checkpoint")
	var pks, sigs [][]byte
	for i := byte(10); i < 13; i++ {
		s, err := NewBLSSigner(testIKM(i))
		if err != nil {
			t.Fatalf("NewBLSSigner: %v", err)
		}
		sig, _ := s.Sign(msg)
		pks = append(pks, s.PublicKey())
		sigs = append(sigs, sig)
	}
	agg, err := BLSAggregate(sigs)
	if err != nil {
		t.Fatalf("BLSAggregate: %v", err)
	}
	if !BLSFastAggregateVerify(pks, msg, agg) {
		t.Fatal("aggregate signature rejected")
	}
	if BLSFastAggregateVerify(pks[:2], msg, agg) {
		t.Fatal("aggregate accepted with a missing signer")
	}
	if _, err := BLSAggregate(nil); !errors.Is(err, ErrBLSNoSignatures) {
		t.Fatalf("expected ErrBLSNoSignatures, got %v", err)
	}
}
