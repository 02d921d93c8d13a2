// Package statemgmt is a reference StateManagement(4) subsystem: on each
// BlockValidated it derives a deterministic state root and publishes
// StateRootComputed. A real state-transition/account-trie engine is out
// of scope (EVMExecution(11) is not a live subsystem in this module);
// this reference component exists so the choreography in
// internal/blockstorage has a genuine third producer to commit against,
// mirroring how internal/txindex is TxIndexing(3)'s producer.
package statemgmt

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/empower1/nodefabric/internal/blockstorage"
	"github.com/empower1/nodefabric/internal/ipc"
)

// Store tracks the latest computed state root per parent, so
// ComputeRoot's output for block N folds in block N-1's root, giving the
// chain of roots the genuine account-trie engine would otherwise provide.
type Store struct {
	mu       sync.Mutex
	byHeight map[uint64]blockstorage.Hash
}

// New returns an empty Store.
func New() *Store {
	return &Store{byHeight: make(map[uint64]blockstorage.Hash)}
}

// ComputeRoot derives height's state root from the prior height's root
// and the block's transaction hashes.
func (s *Store) ComputeRoot(height uint64, txHashes [][]byte) blockstorage.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := sha3.New256()
	if height > 0 {
		if prior, ok := s.byHeight[height-1]; ok {
			h.Write(prior[:])
		}
	}
	for _, tx := range txHashes {
		h.Write(tx)
	}
	var root blockstorage.Hash
	copy(root[:], h.Sum(nil))
	s.byHeight[height] = root
	return root
}

// RootAt returns the state root computed for height, if any.
func (s *Store) RootAt(height uint64) (blockstorage.Hash, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, ok := s.byHeight[height]
	return root, ok
}

// Subsystem wraps a *Store as a registry.Subsystem.
type Subsystem struct {
	store     *Store
	bus       *ipc.Bus
	keys      ipc.KeyProvider
	validator *ipc.Validator
	clock     clock.Clock
	log       *zap.Logger

	sub *ipc.Subscription

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSubsystem wires store onto bus as the state-management subsystem.
func NewSubsystem(store *Store, bus *ipc.Bus, keys ipc.KeyProvider, clk clock.Clock, log *zap.Logger) *Subsystem {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subsystem{
		store:     store,
		bus:       bus,
		keys:      keys,
		validator: ipc.NewInboundValidator(ipc.SubsystemStateManagement, keys, clk),
		clock:     clk,
		log:       log.Named("state-management"),
	}
}

// ID implements registry.Subsystem.
func (s *Subsystem) ID() ipc.SubsystemID { return ipc.SubsystemStateManagement }

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
	root := s.store.ComputeRoot(payload.BlockHeight, payload.Block.Transactions)

	out, err := ipc.NewBusEvent(s.clock, s.keys, ipc.SubsystemStateManagement,
		blockstorage.StateRootComputedPayload{BlockHash: payload.BlockHash, StateRoot: root})
	if err != nil {
		s.log.Error("failed to seal StateRootComputed", zap.Error(err))
		return
	}
	s.bus.Publish(out)
}
