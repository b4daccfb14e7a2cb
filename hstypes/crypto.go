package hstypes

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/luxfi/crypto/bls"
)

// PK is the aggregatable public key identifying a committee member.
type PK = *bls.PublicKey

// SK is the private key paired with a PK.
type SK = *bls.SecretKey

// ThresholdSignature is an n-of-m aggregated signature over a certificate's
// data, together with the bitset of signers it was formed from.
type ThresholdSignature struct {
	Aggregate *bls.Signature
	Signers   *SignerBitSet
}

// Sign produces a single-signer partial signature over msg.
func Sign(sk SK, msg []byte) (*bls.Signature, error) {
	return bls.Sign(sk, msg), nil
}

// Validate verifies a single partial signature under pk.
func Validate(pk PK, msg []byte, sig *bls.Signature) bool {
	return bls.Verify(pk, sig, msg)
}

// Aggregate combines per-signer partial signatures into a ThresholdSignature
// recording which committee members (by index) contributed.
func Aggregate(sigs []*bls.Signature, signers *SignerBitSet) (ThresholdSignature, error) {
	agg, err := bls.AggregateSignatures(sigs)
	if err != nil {
		return ThresholdSignature{}, err
	}
	return ThresholdSignature{Aggregate: agg, Signers: signers}, nil
}

// IsValidCert verifies a ThresholdSignature against the set of public keys
// the signer bitset claims contributed, requiring the aggregate public key
// reconstructed from those members to validate the aggregate signature.
func (ts ThresholdSignature) IsValidCert(msg []byte, committee []PK) bool {
	if ts.Aggregate == nil || ts.Signers == nil {
		return false
	}
	signerPKs := make([]PK, 0, ts.Signers.Count())
	for i, pk := range committee {
		if ts.Signers.Has(i) {
			signerPKs = append(signerPKs, pk)
		}
	}
	if len(signerPKs) == 0 {
		return false
	}
	aggPK, err := bls.AggregatePublicKeys(signerPKs)
	if err != nil {
		return false
	}
	return bls.Verify(aggPK, ts.Aggregate, msg)
}

// SignatureToBytes serializes sig for the wire/storage layer.
func SignatureToBytes(sig *bls.Signature) []byte {
	return bls.SignatureToBytes(sig)
}

// SignatureFromBytes deserializes a wire-format partial signature.
func SignatureFromBytes(b []byte) (*bls.Signature, error) {
	return bls.SignatureFromBytes(b)
}

// NewTestKey returns a freshly generated keypair, following ids' own
// GenerateTestID/GenerateTestNodeID naming convention for test-only
// constructors.
func NewTestKey() (SK, PK) {
	sk, err := bls.NewSecretKey()
	if err != nil {
		panic(err)
	}
	return sk, bls.PublicFromSecretKey(sk)
}

// Mnemonic returns a stable short label for pk, used in logs in place of the
// full compressed key (following the pack's short-ID logging convention).
func Mnemonic(pk PK) string {
	if pk == nil {
		return "<nil>"
	}
	sum := sha256.Sum256(bls.PublicKeyToBytes(pk))
	return hex.EncodeToString(sum[:4])
}
