package consensus

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/empower1/nodefabric/internal/blockstorage"
	"github.com/empower1/nodefabric/internal/ipc"
	"github.com/empower1/nodefabric/internal/mempool"
)

// Subsystem wraps a *Validator as a registry.Subsystem. Block production
// itself is driven externally (by the demo daemon, on a ticker, or by a
// real proposer-selection component this fabric doesn't implement);
// Subsystem only owns the bus wiring for publishing BlockValidated and
// BlockRejected.
type Subsystem struct {
	validator *Validator
	bus       *ipc.Bus
	keys      ipc.KeyProvider
	clock     clock.Clock
	log       *zap.Logger
}

// NewSubsystem wires validator onto bus as the consensus subsystem.
func NewSubsystem(validator *Validator, bus *ipc.Bus, keys ipc.KeyProvider, clk clock.Clock, log *zap.Logger) *Subsystem {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subsystem{validator: validator, bus: bus, keys: keys, clock: clk, log: log.Named("consensus")}
}

// ID implements registry.Subsystem.
func (s *Subsystem) ID() ipc.SubsystemID { return ipc.SubsystemConsensus }

// Init is a no-op: this reference component has nothing to subscribe to.
func (s *Subsystem) Init(ctx context.Context) error { return nil }

// Start is a no-op: block assembly is driven by ProposeBlock, called
// externally rather than from a background loop.
func (s *Subsystem) Start(ctx context.Context) error { return nil }

// Stop is a no-op.
func (s *Subsystem) Stop(ctx context.Context) error { return nil }

// ProposeBlock assembles and validates a block via the wrapped Validator
// and, on success, publishes BlockValidated for TxIndexing,
// StateManagement, and BlockStorage to consume.
func (s *Subsystem) ProposeBlock(parentHeight uint64, parentHash, blockHash blockstorage.Hash, timestamp int64, proposer, consensusProof []byte, isGenesis bool) error {
	now := s.clock.Now().Unix()
	block, height, err := s.validator.AssembleBlock(parentHeight, parentHash, blockHash, timestamp, proposer, consensusProof, now, isGenesis)
	if err != nil {
		return err
	}
	out, err := ipc.NewBusEvent(s.clock, s.keys, ipc.SubsystemConsensus,
		blockstorage.BlockValidatedPayload{Block: block, BlockHash: blockHash, BlockHeight: height})
	if err != nil {
		s.log.Error("failed to seal BlockValidated", zap.Error(err))
		return err
	}
	s.bus.Publish(out)
	return nil
}

// RejectBlock publishes BlockRejected so the mempool rolls the listed
// transactions back from PendingInclusion to Pending.
func (s *Subsystem) RejectBlock(blockHeight uint64, transactions [][]byte) {
	out, err := ipc.NewBusEvent(s.clock, s.keys, ipc.SubsystemConsensus,
		mempool.BlockRejectedPayload{BlockHeight: blockHeight, Transactions: transactions})
	if err != nil {
		s.log.Error("failed to seal BlockRejected", zap.Error(err))
		return
	}
	s.bus.Publish(out)
}
