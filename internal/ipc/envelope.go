package ipc

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Supported envelope wire versions. Both bounds are hard; a message
// outside the range is rejected, not negotiated.
const (
	MinSupportedVersion uint8 = 1
	MaxSupportedVersion uint8 = 1
)

// MACSize is the width of the HMAC-SHA256 tag in bytes.
const MACSize = 32

// ReplyTo identifies the subsystem a response envelope must be addressed
// to. When present, ReplyTo.Subsystem must equal the envelope's SenderID —
// a response always returns to whoever sent the request.
type ReplyTo struct {
	Subsystem SubsystemID
	Topic     string
}

// Header carries every field that participates in envelope validation and
// MAC computation. It is split out from Envelope[T] so the validator
// never needs to know the payload type.
type Header struct {
	Version       uint8
	CorrelationID uuid.UUID
	SenderID      SubsystemID
	RecipientID   SubsystemID
	ReplyTo       *ReplyTo
	Timestamp     int64 // unix seconds
	Nonce         [16]byte
	MAC           [MACSize]byte
}

// Envelope is the authenticated wrapper around every inter-subsystem
// message. The MAC covers the version, correlation id, sender, recipient,
// timestamp and nonce; ReplyTo and Payload are not covered by the MAC,
// and Payload must not be trusted for identity claims.
type Envelope[T any] struct {
	Header
	Payload T
}

// canonicalBytes returns the exact byte sequence the MAC is computed over:
// version ‖ correlation_id ‖ sender_id ‖ recipient_id ‖ timestamp ‖ nonce.
func canonicalBytes(h Header) []byte {
	buf := make([]byte, 0, 1+16+1+1+8+16)
	buf = append(buf, h.Version)
	corr := h.CorrelationID
	buf = append(buf, corr[:]...)
	buf = append(buf, byte(h.SenderID))
	buf = append(buf, byte(h.RecipientID))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(h.Timestamp))
	buf = append(buf, ts[:]...)
	buf = append(buf, h.Nonce[:]...)
	return buf
}

// ComputeMAC derives the HMAC-SHA256 tag for h using key, the per-sender
// shared key resolved by a KeyProvider.
func ComputeMAC(key []byte, h Header) [MACSize]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(canonicalBytes(h))
	var out [MACSize]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// isZeroMAC reports whether mac is the all-zero sentinel accepted only in
// explicit test mode.
func isZeroMAC(mac [MACSize]byte) bool {
	var zero [MACSize]byte
	return mac == zero
}

// KeyProvider resolves the per-sender shared key derived from a master
// secret. Implementations typically derive per-sender keys with an HKDF
// over a master secret and the sender id; the fabric only depends on the
// contract.
type KeyProvider interface {
	SenderKey(sender SubsystemID) ([]byte, error)
}

// NewNonce generates a fresh random nonce suitable for a new envelope.
func NewNonce() [16]byte {
	id := uuid.New()
	var n [16]byte
	copy(n[:], id[:])
	return n
}

// NewCorrelationID generates a fresh 128-bit correlation id.
func NewCorrelationID() uuid.UUID {
	return uuid.New()
}

// Seal constructs and signs a new envelope, as a producer does at send
// time. The caller supplies the current time via clk so tests can control
// it precisely.
func Seal[T any](clk clock.Clock, keys KeyProvider, sender, recipient SubsystemID, replyTo *ReplyTo, payload T) (Envelope[T], error) {
	return seal(clk, keys, sender, recipient, replyTo, NewCorrelationID(), payload)
}

// SealReply constructs a response envelope carrying the originating
// request's correlation id verbatim, so the requester can pair them.
func SealReply[T any](clk clock.Clock, keys KeyProvider, sender, recipient SubsystemID, correlationID uuid.UUID, payload T) (Envelope[T], error) {
	return seal(clk, keys, sender, recipient, nil, correlationID, payload)
}

func seal[T any](clk clock.Clock, keys KeyProvider, sender, recipient SubsystemID, replyTo *ReplyTo, correlationID uuid.UUID, payload T) (Envelope[T], error) {
	key, err := keys.SenderKey(sender)
	if err != nil {
		return Envelope[T]{}, err
	}
	h := Header{
		Version:       MaxSupportedVersion,
		CorrelationID: correlationID,
		SenderID:      sender,
		RecipientID:   recipient,
		ReplyTo:       replyTo,
		Timestamp:     clk.Now().Unix(),
		Nonce:         NewNonce(),
	}
	h.MAC = ComputeMAC(key, h)
	return Envelope[T]{Header: h, Payload: payload}, nil
}
