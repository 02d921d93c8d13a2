// Package sigverification is the SignatureVerification(10) subsystem: it
// consumes SubmitTransaction requests, checks the claimed signature
// against the claimed public key using the reference secp256k1
// SignatureVerifier, and publishes TransactionVerified or
// TransactionInvalid.
package sigverification

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/empower1/nodefabric/internal/collab/sigverify"
	"github.com/empower1/nodefabric/internal/ipc"
)

// Subsystem wraps a *sigverify.Verifier as a registry.Subsystem.
type Subsystem struct {
	verifier  *sigverify.Verifier
	bus       *ipc.Bus
	keys      ipc.KeyProvider
	validator *ipc.Validator
	clock     clock.Clock
	log       *zap.Logger

	sub *ipc.Subscription

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSubsystem wires verifier onto bus as the signature-verification
// subsystem.
func NewSubsystem(verifier *sigverify.Verifier, bus *ipc.Bus, keys ipc.KeyProvider, clk clock.Clock, log *zap.Logger) *Subsystem {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subsystem{
		verifier:  verifier,
		bus:       bus,
		keys:      keys,
		validator: ipc.NewInboundValidator(ipc.SubsystemSignatureVerify, keys, clk),
		clock:     clk,
		log:       log.Named("signature-verification"),
	}
}

// ID implements registry.Subsystem.
func (s *Subsystem) ID() ipc.SubsystemID { return ipc.SubsystemSignatureVerify }

// Init subscribes to the bus.
func (s *Subsystem) Init(ctx context.Context) error {
	filter := ipc.NewFilter([]ipc.Topic{ipc.TopicSignatureVerification}, nil)
	s.sub = s.bus.Subscribe(filter, ipc.DefaultQueueCapacity)
	return nil
}

// Start launches the event-dispatch loop.
func (s *Subsystem) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.dispatchLoop(runCtx)
	return nil
}

// Stop cancels the dispatch loop and unsubscribes from the bus.
func (s *Subsystem) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.sub != nil {
		s.bus.Unsubscribe(s.sub)
	}
	return nil
}

func (s *Subsystem) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.sub.C():
			if !ok {
				return
			}
			s.dispatch(event)
		}
	}
}

func (s *Subsystem) dispatch(event ipc.Event) {
	payload, ok := event.Payload.(SubmitTransactionPayload)
	if !ok {
		return
	}
	if err := s.validator.ValidateInbound(event.Header); err != nil {
		s.log.Warn("envelope rejected", zap.Error(err))
		return
	}
	if err := ipc.Authorize(event.SenderID, KindSubmitTransaction); err != nil {
		s.log.Warn("unauthorized SubmitTransaction", zap.Error(err))
		return
	}

	hash := sigverify.Hash256(SigningBytes(payload))
	ok, err := s.verifier.VerifyECDSA(hash[:], payload.Signature, payload.PublicKey)
	if err != nil || !ok {
		s.publishInvalid(payload, err)
		return
	}
	s.publishVerified(payload)
}

func (s *Subsystem) publishVerified(payload SubmitTransactionPayload) {
	out, err := ipc.NewBusEvent(s.clock, s.keys, ipc.SubsystemSignatureVerify, TransactionVerifiedPayload{
		Hash:      payload.Hash,
		Sender:    payload.Sender,
		Nonce:     payload.Nonce,
		GasPrice:  payload.GasPrice,
		GasLimit:  payload.GasLimit,
		Timestamp: payload.Timestamp,
	})
	if err != nil {
		s.log.Error("failed to seal TransactionVerified", zap.Error(err))
		return
	}
	s.bus.Publish(out)
}

func (s *Subsystem) publishInvalid(payload SubmitTransactionPayload, cause error) {
	reason := "signature did not verify"
	if cause != nil {
		reason = cause.Error()
	}
	out, err := ipc.NewBusEvent(s.clock, s.keys, ipc.SubsystemSignatureVerify, TransactionInvalidPayload{
		Hash:   payload.Hash,
		Reason: reason,
	})
	if err != nil {
		s.log.Error("failed to seal TransactionInvalid", zap.Error(err))
		return
	}
	s.bus.Publish(out)
}

// SigningBytes is the canonical byte form a transaction's signature
// commits to; submitters sign the double-SHA-256 of exactly these bytes.
func SigningBytes(p SubmitTransactionPayload) []byte {
	var word [8]byte
	buf := make([]byte, 0, len(p.Sender)+8+8+8+8)
	buf = append(buf, p.Sender...)
	binary.BigEndian.PutUint64(word[:], p.Nonce)
	buf = append(buf, word[:]...)
	binary.BigEndian.PutUint64(word[:], p.GasPrice)
	buf = append(buf, word[:]...)
	binary.BigEndian.PutUint64(word[:], p.GasLimit)
	buf = append(buf, word[:]...)
	binary.BigEndian.PutUint64(word[:], uint64(p.Timestamp))
	buf = append(buf, word[:]...)
	return buf
}
