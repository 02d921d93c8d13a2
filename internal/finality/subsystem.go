package finality

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/empower1/nodefabric/internal/blockstorage"
	"github.com/empower1/nodefabric/internal/ipc"
)

// Subsystem wraps a *Breaker as a registry.Subsystem: it consumes
// BlockStored to open checkpoint candidates, consumes SubmitAttestation
// to drive justification/finalization, and notifies BlockStorage once a
// block finalizes.
type Subsystem struct {
	breaker   *Breaker
	bus       *ipc.Bus
	keys      ipc.KeyProvider
	validator *ipc.Validator
	clock     clock.Clock
	log       *zap.Logger

	sub *ipc.Subscription

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSubsystem wires breaker onto bus as the finality subsystem.
func NewSubsystem(breaker *Breaker, bus *ipc.Bus, keys ipc.KeyProvider, clk clock.Clock, log *zap.Logger) *Subsystem {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subsystem{
		breaker:   breaker,
		bus:       bus,
		keys:      keys,
		validator: ipc.NewInboundValidator(ipc.SubsystemFinality, keys, clk),
		clock:     clk,
		log:       log.Named("finality"),
	}
}

// ID implements registry.Subsystem.
func (s *Subsystem) ID() ipc.SubsystemID { return ipc.SubsystemFinality }

// Init subscribes to the bus.
func (s *Subsystem) Init(ctx context.Context) error {
	filter := ipc.NewFilter([]ipc.Topic{ipc.TopicBlockStorage, ipc.TopicFinality}, nil)
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
	switch event.Payload.(type) {
	case blockstorage.BlockStoredPayload, SubmitAttestationPayload, SyncFailedPayload, SyncRecoveredPayload:
	default:
		return
	}
	if err := s.validator.ValidateInbound(event.Header); err != nil {
		s.log.Warn("envelope rejected", zap.Error(err))
		return
	}
	if err := ipc.Authorize(event.SenderID, event.Payload.Kind()); err != nil {
		s.log.Warn("unauthorized sender",
			zap.String("kind", string(event.Payload.Kind())), zap.Error(err))
		return
	}
	switch payload := event.Payload.(type) {
	case blockstorage.BlockStoredPayload:
		s.breaker.RegisterCheckpointCandidate(payload)
	case SubmitAttestationPayload:
		s.handleAttestation(payload)
	case SyncFailedPayload:
		s.log.Warn("sync failure reported", zap.String("reason", payload.Reason))
		s.ReportSyncFailure()
	case SyncRecoveredPayload:
		s.ReportSyncRecovered()
	}
}

func (s *Subsystem) handleAttestation(payload SubmitAttestationPayload) {
	before := s.breaker.State()
	att := Attestation{
		ValidatorID:     payload.ValidatorID,
		Signature:       payload.Signature,
		SourceEpoch:     payload.SourceEpoch,
		SourceBlockHash: payload.SourceBlockHash,
		TargetEpoch:     payload.TargetEpoch,
		TargetBlockHash: payload.TargetBlockHash,
		TargetHeight:    payload.TargetHeight,
	}
	heightBefore, hashBefore, _ := s.breaker.LastFinalized()
	if err := s.breaker.ProcessAttestation(att); err != nil {
		s.log.Warn("attestation rejected", zap.Error(err), zap.Binary("validator", payload.ValidatorID[:]))
		return
	}
	heightAfter, hashAfter, ok := s.breaker.LastFinalized()
	if ok && (heightAfter != heightBefore || hashAfter != hashBefore) {
		s.notifyFinalized(heightAfter, hashAfter)
	}
	if after := s.breaker.State(); after != before {
		s.publishStateChange(before, after)
	}
}

// notifyFinalized sends the unicast MarkFinalized request to BlockStorage.
func (s *Subsystem) notifyFinalized(height uint64, hash Hash) {
	out, err := ipc.Seal(s.clock, s.keys, ipc.SubsystemFinality, ipc.SubsystemBlockStorage, nil,
		ipc.EventPayload(blockstorage.MarkFinalizedPayload{BlockHeight: height, BlockHash: hash}))
	if err != nil {
		s.log.Error("failed to seal MarkFinalized", zap.Error(err))
		return
	}
	s.bus.Publish(out)
}

func (s *Subsystem) publishStateChange(previous, current CircuitState) {
	out, err := ipc.NewBusEvent(s.clock, s.keys, ipc.SubsystemFinality,
		CircuitStateChangedPayload{Previous: previous, Current: current})
	if err != nil {
		s.log.Error("failed to seal CircuitStateChanged", zap.Error(err))
		return
	}
	s.bus.Publish(out)
	s.log.Warn("circuit state changed", zap.String("previous", string(previous)), zap.String("current", string(current)))
}

// ReportSyncFailure and ReportSyncRecovered delegate to the breaker and
// publish a CircuitStateChanged event on transition; they are exposed for
// a peer-sync/consensus collaborator to drive the circuit breaker
// directly rather than through the bus.
func (s *Subsystem) ReportSyncFailure() {
	before := s.breaker.State()
	if after := s.breaker.ReportSyncFailure(); after != before {
		s.publishStateChange(before, after)
	}
}

func (s *Subsystem) ReportSyncRecovered() {
	before := s.breaker.State()
	if after := s.breaker.ReportSyncRecovered(); after != before {
		s.publishStateChange(before, after)
	}
}
