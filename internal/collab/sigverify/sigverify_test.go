package sigverify

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedMessage(t *testing.T) (msgHash [32]byte, sig []byte, pub []byte) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	msgHash = Hash256([]byte("attestation payload"))
	sig = ecdsa.SignCompact(priv, msgHash[:], true)
	return msgHash, sig, priv.PubKey().SerializeCompressed()
}

func TestVerifyECDSA_RoundTrip(t *testing.T) {
	v := New()
	msgHash, sig, pub := signedMessage(t)

	ok, err := v.VerifyECDSA(msgHash[:], sig, pub)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyECDSA_WrongKeyFails(t *testing.T) {
	v := New()
	msgHash, sig, _ := signedMessage(t)

	other, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	ok, err := v.VerifyECDSA(msgHash[:], sig, other.PubKey().SerializeCompressed())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyECDSA_TamperedMessageFails(t *testing.T) {
	v := New()
	_, sig, pub := signedMessage(t)
	tampered := Hash256([]byte("different payload"))

	ok, _ := v.VerifyECDSA(tampered[:], sig, pub)
	assert.False(t, ok)
}

func TestVerifyECDSA_RejectsWrongLength(t *testing.T) {
	v := New()
	msgHash := Hash256([]byte("m"))
	_, err := v.VerifyECDSA(msgHash[:], make([]byte, 96), nil)
	assert.ErrorIs(t, err, ErrMixedFormat)
}

func TestVerifyAggregateBLS_Unsupported(t *testing.T) {
	v := New()
	msgHash := Hash256([]byte("m"))

	_, err := v.VerifyAggregateBLS(msgHash[:], make([]byte, 96), nil)
	assert.ErrorIs(t, err, ErrBLSUnsupported)

	_, err = v.VerifyAggregateBLS(msgHash[:], make([]byte, 65), nil)
	assert.ErrorIs(t, err, ErrMixedFormat)
}

func TestRecoverSigner(t *testing.T) {
	v := New()
	msgHash, sig, pub := signedMessage(t)

	recovered, err := v.RecoverSigner(msgHash[:], sig)
	require.NoError(t, err)
	assert.Equal(t, pub, recovered)

	_, err = v.RecoverSigner(msgHash[:], sig[:64])
	assert.ErrorIs(t, err, ErrMixedFormat)
}
