package finality

import (
	"encoding/binary"

	"github.com/empower1/nodefabric/internal/collab/sigverify"
)

// PubKeyLookup resolves a validator's public key for signature
// re-verification. The reference validatorset adapter satisfies this.
type PubKeyLookup interface {
	PublicKey(id ValidatorID) ([]byte, bool)
}

// sigVerifyAdapter satisfies AttestationVerifier using the reference
// secp256k1 SignatureVerifier, re-deriving the signed message from the
// attestation's source/target fields rather than trusting any
// precomputed hash.
type sigVerifyAdapter struct {
	verifier *sigverify.Verifier
	pubkeys  PubKeyLookup
}

// NewSigVerifyAdapter adapts the reference secp256k1 verifier into an
// AttestationVerifier for the circuit breaker's zero-trust re-check.
func NewSigVerifyAdapter(verifier *sigverify.Verifier, pubkeys PubKeyLookup) AttestationVerifier {
	return &sigVerifyAdapter{verifier: verifier, pubkeys: pubkeys}
}

func (a *sigVerifyAdapter) VerifyAttestation(att Attestation, validator ValidatorID) bool {
	pub, ok := a.pubkeys.PublicKey(validator)
	if !ok {
		return false
	}
	hash := sigverify.Hash256(AttestationSigningBytes(att))
	ok, err := a.verifier.VerifyECDSA(hash[:], att.Signature, pub)
	return err == nil && ok
}

// AttestationSigningBytes is the canonical byte form an attestation's
// signature commits to: source epoch/hash then target epoch/hash, both
// fixed-width, matching the deterministic envelope encoding convention
// used for the MAC in internal/ipc.
func AttestationSigningBytes(att Attestation) []byte {
	var epochBuf [8]byte
	buf := make([]byte, 0, 8+len(att.SourceBlockHash)+8+len(att.TargetBlockHash))
	binary.BigEndian.PutUint64(epochBuf[:], att.SourceEpoch)
	buf = append(buf, epochBuf[:]...)
	buf = append(buf, att.SourceBlockHash[:]...)
	binary.BigEndian.PutUint64(epochBuf[:], att.TargetEpoch)
	buf = append(buf, epochBuf[:]...)
	buf = append(buf, att.TargetBlockHash[:]...)
	return buf
}
