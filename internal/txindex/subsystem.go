package txindex

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/empower1/nodefabric/internal/blockstorage"
	"github.com/empower1/nodefabric/internal/ipc"
)

// Subsystem wraps an *Index as a registry.Subsystem: it consumes
// BlockValidated from Consensus and publishes MerkleRootComputed.
type Subsystem struct {
	index     *Index
	bus       *ipc.Bus
	keys      ipc.KeyProvider
	validator *ipc.Validator
	clock     clock.Clock
	log       *zap.Logger

	sub *ipc.Subscription

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSubsystem wires index onto bus as the transaction-indexing
// subsystem.
func NewSubsystem(index *Index, bus *ipc.Bus, keys ipc.KeyProvider, clk clock.Clock, log *zap.Logger) *Subsystem {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subsystem{
		index:     index,
		bus:       bus,
		keys:      keys,
		validator: ipc.NewInboundValidator(ipc.SubsystemTransactionIndexing, keys, clk),
		clock:     clk,
		log:       log.Named("transaction-indexing"),
	}
}

// ID implements registry.Subsystem.
func (s *Subsystem) ID() ipc.SubsystemID { return ipc.SubsystemTransactionIndexing }

// Init subscribes to the bus.
func (s *Subsystem) Init(ctx context.Context) error {
	filter := ipc.NewFilter([]ipc.Topic{ipc.TopicConsensus}, nil)
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
	payload, ok := event.Payload.(blockstorage.BlockValidatedPayload)
	if !ok {
		return
	}
	if err := s.validator.ValidateInbound(event.Header); err != nil {
		s.log.Warn("envelope rejected", zap.Error(err))
		return
	}
	if err := ipc.Authorize(event.SenderID, blockstorage.KindBlockValidated); err != nil {
		s.log.Warn("unauthorized BlockValidated", zap.Error(err))
		return
	}
	txHashes := make([]Hash, len(payload.Block.Transactions))
	for i, raw := range payload.Block.Transactions {
		var h Hash
		copy(h[:], raw)
		txHashes[i] = h
	}
	root := s.index.IndexBlock(payload.BlockHash, payload.BlockHeight, txHashes)

	out, err := ipc.NewBusEvent(s.clock, s.keys, ipc.SubsystemTransactionIndexing,
		blockstorage.MerkleRootComputedPayload{BlockHash: payload.BlockHash, MerkleRoot: root})
	if err != nil {
		s.log.Error("failed to seal MerkleRootComputed", zap.Error(err))
		return
	}
	s.bus.Publish(out)
}
