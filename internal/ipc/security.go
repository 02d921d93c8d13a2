package ipc

import (
	"crypto/subtle"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Timestamp acceptance window: now-60s <= ts <= now+10s. Both
// bounds are hard.
const (
	MaxClockSkewPast   = 60 * time.Second
	MaxClockSkewFuture = 10 * time.Second
)

// ValidatorConfig tunes the envelope validator. AllowZeroMAC must only be
// set in test harnesses: production key providers never emit an all-zero
// MAC, so this flag exists purely to let unit tests skip real signing.
type ValidatorConfig struct {
	AllowZeroMAC bool
}

// Validator is the single point deciding whether an inbound message is to
// be processed. Every subsystem routes inbound envelopes through it before
// doing anything payload-specific.
type Validator struct {
	ourID  SubsystemID
	keys   KeyProvider
	nonces *NonceCache
	clock  clock.Clock
	cfg    ValidatorConfig
}

// NewValidator builds the canonical validator for a subsystem identified
// by ourID.
func NewValidator(ourID SubsystemID, keys KeyProvider, nonces *NonceCache, clk clock.Clock, cfg ValidatorConfig) *Validator {
	return &Validator{ourID: ourID, keys: keys, nonces: nonces, clock: clk, cfg: cfg}
}

// DefaultNonceCeiling is the nonce-cache size bound used by
// NewInboundValidator.
const DefaultNonceCeiling = 65536

// NewInboundValidator builds the Validator a subsystem attaches to its
// bus inbox. Each subscriber gets its own nonce cache: a broadcast is
// delivered once per subscription, so a shared cache would reject every
// copy after the first.
func NewInboundValidator(ourID SubsystemID, keys KeyProvider, clk clock.Clock) *Validator {
	nonces := NewNonceCache(clk, DefaultNonceCeiling, MaxClockSkewPast)
	return NewValidator(ourID, keys, nonces, clk, ValidatorConfig{})
}

// Validate runs the fixed validation order — version, recipient,
// timestamp, nonce, signature, reply-to — and returns the first
// violation encountered, or nil. Authorization (ValidateSender) is a
// separate, message-kind-specific second check performed by the
// receiving handler immediately after Validate succeeds.
func (v *Validator) Validate(h Header) error {
	return v.validate(h, false)
}

// ValidateInbound validates h as a message read off this subsystem's bus
// inbox: a unicast envelope must be addressed to us, while a multicast
// one carries the BroadcastRecipient sentinel and is accepted by every
// matching subscriber. All other checks are identical to Validate.
func (v *Validator) ValidateInbound(h Header) error {
	return v.validate(h, true)
}

func (v *Validator) validate(h Header, allowBroadcast bool) error {
	if h.Version < MinSupportedVersion || h.Version > MaxSupportedVersion {
		return ErrUnsupportedVersion
	}
	if h.RecipientID != v.ourID && !(allowBroadcast && h.RecipientID == BroadcastRecipient) {
		return ErrWrongRecipient
	}

	now := v.clock.Now()
	ts := time.Unix(h.Timestamp, 0)
	if ts.After(now.Add(MaxClockSkewFuture)) {
		return ErrMessageFromFuture
	}
	if ts.Before(now.Add(-MaxClockSkewPast)) {
		return ErrMessageExpired
	}

	if !v.nonces.CheckAndRecord(h.Nonce) {
		return ErrNonceReused
	}

	if err := v.verifySignature(h); err != nil {
		return err
	}

	if h.ReplyTo != nil && h.ReplyTo.Subsystem != h.SenderID {
		return ErrReplyToMismatch
	}
	return nil
}

func (v *Validator) verifySignature(h Header) error {
	if v.cfg.AllowZeroMAC && isZeroMAC(h.MAC) {
		return nil
	}
	key, err := v.keys.SenderKey(h.SenderID)
	if err != nil {
		return ErrInvalidSignature
	}
	expected := ComputeMAC(key, h)
	if subtle.ConstantTimeCompare(expected[:], h.MAC[:]) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// ValidateSender performs the message-kind-specific authorization check:
// the sender must be present in allowed, the IPC matrix entry for that
// inbound message kind.
func ValidateSender(sender SubsystemID, allowed []SubsystemID) error {
	for _, id := range allowed {
		if id == sender {
			return nil
		}
	}
	return ErrUnauthorizedSender
}

// matrix is the process-wide IPC authorization matrix: for each message
// Kind, the exact set of subsystem ids allowed to send it. Each owning
// subsystem package registers its own entries from an init func, keeping
// the contract next to the payload type it governs while giving every
// receiver a single place to check it.
var (
	matrixMu sync.RWMutex
	matrix   = make(map[Kind][]SubsystemID)
)

// RegisterAuthorization declares the allowed senders for kind. Intended to
// be called once, from the owning package's init().
func RegisterAuthorization(kind Kind, allowed ...SubsystemID) {
	matrixMu.Lock()
	defer matrixMu.Unlock()
	matrix[kind] = allowed
}

// AllowedSenders returns the registered senders for kind, or nil if none
// were declared.
func AllowedSenders(kind Kind) []SubsystemID {
	matrixMu.RLock()
	defer matrixMu.RUnlock()
	return matrix[kind]
}

// Authorize checks sender against the registered IPC matrix entry for
// kind.
func Authorize(sender SubsystemID, kind Kind) error {
	return ValidateSender(sender, AllowedSenders(kind))
}
