package blockstorage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/empower1/nodefabric/internal/ipc"
)

// gcTickDivisor bounds the GC sweep period to at most AssemblyTimeout/6,
// so a timed-out assembly is purged well within one timeout window of
// expiring.
const gcTickDivisor = 6

// Subsystem wraps a *Store as a registry.Subsystem: it subscribes to the
// bus for the three choreography inputs and a finalization confirmation
// request, and runs the periodic GC sweep.
type Subsystem struct {
	store     *Store
	bus       *ipc.Bus
	validator *ipc.Validator
	log       *zap.Logger

	sub *ipc.Subscription

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSubsystem wires store onto bus as the block-storage subsystem.
func NewSubsystem(store *Store, bus *ipc.Bus, log *zap.Logger) *Subsystem {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subsystem{
		store:     store,
		bus:       bus,
		validator: ipc.NewInboundValidator(ipc.SubsystemBlockStorage, store.keys, store.clock),
		log:       log.Named("block-storage"),
	}
}

// ID implements registry.Subsystem.
func (s *Subsystem) ID() ipc.SubsystemID { return ipc.SubsystemBlockStorage }

// Init subscribes to the bus; it does not yet process events.
func (s *Subsystem) Init(ctx context.Context) error {
	filter := ipc.NewFilter([]ipc.Topic{
		ipc.TopicConsensus,
		ipc.TopicTransactionIndexing,
		ipc.TopicStateManagement,
		ipc.TopicFinality,
		ipc.TopicAPIGateway,
	}, nil)
	s.sub = s.bus.Subscribe(filter, ipc.DefaultQueueCapacity)
	return nil
}

// Start launches the event-dispatch loop and the GC sweep ticker.
func (s *Subsystem) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.dispatchLoop(runCtx)
	go s.gcLoop(runCtx)
	return nil
}

// Stop cancels both background loops and unsubscribes from the bus. Safe
// to call after a failed Start.
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
	case BlockValidatedPayload, MerkleRootComputedPayload, StateRootComputedPayload,
		MarkFinalizedPayload, ipc.ApiQueryPayload:
	default:
		return
	}
	if err := s.validator.ValidateInbound(event.Header); err != nil {
		s.log.Warn("envelope rejected", zap.Error(err))
		return
	}
	if err := ipc.Authorize(event.SenderID, event.Payload.Kind()); err != nil {
		s.log.Warn("unauthorized sender",
			zap.String("kind", string(event.Payload.Kind())),
			zap.Stringer("sender", event.SenderID), zap.Error(err))
		return
	}
	var err error
	switch payload := event.Payload.(type) {
	case BlockValidatedPayload:
		err = s.store.OnBlockValidated(payload)
	case MerkleRootComputedPayload:
		err = s.store.OnMerkleRootComputed(payload)
	case StateRootComputedPayload:
		err = s.store.OnStateRootComputed(payload)
	case MarkFinalizedPayload:
		err = s.store.MarkFinalized(payload.BlockHeight)
	case ipc.ApiQueryPayload:
		s.handleQuery(event, payload)
		return
	default:
		return
	}
	if err != nil {
		s.log.Warn("failed to process choreography event",
			zap.String("kind", string(event.Payload.Kind())), zap.Error(err))
	}
}

func (s *Subsystem) gcLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.store.cfg.AssemblyTimeout / gcTickDivisor
	if interval <= 0 {
		interval = time.Second
	}
	ticker := s.store.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.store.RunGC()
		}
	}
}
