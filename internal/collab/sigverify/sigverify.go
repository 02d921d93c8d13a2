// Package sigverify is the reference SignatureVerifier adapter: ECDSA
// over secp256k1 for the 65-byte recoverable-signature format,
// and an explicit rejection of the 96-byte BLS format: a proof must use
// exactly one signature scheme, never a mix.
package sigverify

import (
	"crypto/sha256"
	"errors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

const (
	ecdsaSignatureLen = 65 // 64-byte compact signature + 1-byte recovery id
	blsSignatureLen   = 96
)

var (
	// ErrBLSUnsupported is returned by VerifyAggregateBLS: the reference
	// adapter refuses aggregate BLS proofs rather than guess at the
	// intended wire format.
	ErrBLSUnsupported = errors.New("sigverify: aggregate BLS verification is not implemented by this adapter")
	// ErrMixedFormat is returned when a signature's length is not that of
	// the scheme the called method verifies: 65 bytes for VerifyECDSA and
	// RecoverSigner, 96 bytes for VerifyAggregateBLS.
	ErrMixedFormat    = errors.New("sigverify: signature length does not match a single known format")
	ErrInvalidPubKey  = errors.New("sigverify: invalid public key encoding")
	ErrInvalidSigData = errors.New("sigverify: malformed compact signature")
)

// Verifier is the reference SignatureVerifier: verify_ecdsa,
// verify_aggregate_bls, recover_signer.
type Verifier struct{}

// New returns a stateless Verifier.
func New() *Verifier { return &Verifier{} }

// VerifyECDSA verifies a 65-byte compact-recoverable secp256k1 signature
// over msgHash against pubKey (33-byte compressed or 65-byte uncompressed
// SEC1 encoding).
func (v *Verifier) VerifyECDSA(msgHash, sig, pubKey []byte) (bool, error) {
	if len(sig) != ecdsaSignatureLen {
		return false, ErrMixedFormat
	}
	pub, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false, ErrInvalidPubKey
	}
	parsed, _, err := ecdsa.RecoverCompact(sig, msgHash)
	if err != nil {
		return false, ErrInvalidSigData
	}
	return parsed.IsEqual(pub), nil
}

// VerifyAggregateBLS always fails: the reference adapter does not
// implement BLS aggregation; callers needing aggregate proofs must
// supply a dedicated BLS-backed verifier.
func (v *Verifier) VerifyAggregateBLS(msgHash []byte, aggSig []byte, pubKeys [][]byte) (bool, error) {
	if len(aggSig) != blsSignatureLen {
		return false, ErrMixedFormat
	}
	return false, ErrBLSUnsupported
}

// RecoverSigner recovers the signer's compressed public key bytes from a
// 65-byte compact-recoverable signature and message hash.
func (v *Verifier) RecoverSigner(msgHash, sig []byte) ([]byte, error) {
	if len(sig) != ecdsaSignatureLen {
		return nil, ErrMixedFormat
	}
	pub, _, err := ecdsa.RecoverCompact(sig, msgHash)
	if err != nil {
		return nil, ErrInvalidSigData
	}
	return pub.SerializeCompressed(), nil
}

// Hash256 is the digest function attestations and transactions are
// signed over: double SHA-256, matching the secp256k1 ECDSA convention
// the rest of the ecosystem uses for this signature scheme.
func Hash256(msg []byte) [32]byte {
	first := sha256.Sum256(msg)
	return sha256.Sum256(first[:])
}
