package ipc

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrEmptyMasterSecret guards against constructing a key provider with no
// entropy source.
var ErrEmptyMasterSecret = errors.New("ipc: master secret must not be empty")

// MasterKeyProvider derives each subsystem's per-sender shared key from a
// single master secret via HKDF-SHA256, keyed by the subsystem id. This is
// the reference KeyProvider; a production deployment may instead resolve
// keys from a secrets manager behind the same interface.
type MasterKeyProvider struct {
	secret []byte
}

// NewMasterKeyProvider builds a provider over secret, which must be
// non-empty. The secret is not copied defensively; callers own its
// lifetime.
func NewMasterKeyProvider(secret []byte) (*MasterKeyProvider, error) {
	if len(secret) == 0 {
		return nil, ErrEmptyMasterSecret
	}
	return &MasterKeyProvider{secret: secret}, nil
}

// SenderKey derives the 32-byte HMAC key for sender.
func (m *MasterKeyProvider) SenderKey(sender SubsystemID) ([]byte, error) {
	h := hkdf.New(sha256.New, m.secret, nil, []byte{byte(sender)})
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}
	return key, nil
}
