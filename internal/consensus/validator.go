// Package consensus is a reference, structural-validation-only
// Consensus(8) component: it checks the block invariants the rest of the
// fabric depends on (parent exists, height/timestamp monotonicity, gas
// and transaction-count ceilings) and drives the mempool's two-phase
// commit through the MempoolGateway contract. Full PoS proposer
// selection, vote aggregation, and view-change are out of scope; see
// DESIGN.md.
package consensus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/empower1/nodefabric/internal/blockstorage"
)

// MempoolGateway is the contract this validator depends on;
// internal/collab/mempoolgw.Gateway is its reference implementation.
type MempoolGateway interface {
	GetTransactionsForBlock(maxCount int, maxGas uint64) [][]byte
	ProposeTransactions(hashes [][]byte, targetHeight uint64) error
}

// BlockReader is the read-only subset of blockstorage.Store this
// validator needs to check parent linkage.
type BlockReader interface {
	ReadBlockByHeight(height uint64) (blockstorage.StoredBlock, error)
}

// Validator performs structural block validation and transaction
// inclusion against a BlockReader and MempoolGateway.
type Validator struct {
	cfg     Config
	reader  BlockReader
	gateway MempoolGateway
	log     *zap.Logger

	mu   sync.Mutex
	seen map[blockstorage.Hash]struct{}
}

// New builds a Validator.
func New(cfg Config, reader BlockReader, gateway MempoolGateway, log *zap.Logger) *Validator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Validator{
		cfg:     cfg,
		reader:  reader,
		gateway: gateway,
		log:     log.Named("consensus"),
		seen:    make(map[blockstorage.Hash]struct{}),
	}
}

// AssembleBlock pulls candidate transactions from the mempool gateway,
// builds a ValidatedBlock at parentHeight+1 (or height 0 when isGenesis
// is set), validates it
// structurally, proposes the included hashes to the mempool, and returns
// the block ready for publication.
func (v *Validator) AssembleBlock(parentHeight uint64, parentHash blockstorage.Hash, blockHash blockstorage.Hash, timestamp int64, proposer []byte, consensusProof []byte, now int64, isGenesis bool) (blockstorage.ValidatedBlock, uint64, error) {
	height := parentHeight + 1
	if isGenesis {
		height = 0
	} else if _, err := v.reader.ReadBlockByHeight(parentHeight); err != nil {
		return blockstorage.ValidatedBlock{}, 0, ErrUnknownParent
	}

	if timestamp > now+int64(v.cfg.MaxClockDrift.Seconds()) {
		return blockstorage.ValidatedBlock{}, 0, ErrFutureTimestamp
	}
	if !isGenesis {
		parent, err := v.reader.ReadBlockByHeight(parentHeight)
		if err != nil {
			return blockstorage.ValidatedBlock{}, 0, ErrUnknownParent
		}
		if timestamp <= parent.Block.Header.Timestamp {
			return blockstorage.ValidatedBlock{}, 0, ErrInvalidTimestamp
		}
	}

	v.mu.Lock()
	if _, already := v.seen[blockHash]; already {
		v.mu.Unlock()
		return blockstorage.ValidatedBlock{}, 0, ErrAlreadyValidated
	}
	v.mu.Unlock()

	hashes := v.gateway.GetTransactionsForBlock(v.cfg.MaxTransactionsPerBlock, v.cfg.MaxGasPerBlock)
	if len(hashes) > v.cfg.MaxTransactionsPerBlock {
		return blockstorage.ValidatedBlock{}, 0, ErrTooManyTransactions
	}

	header := blockstorage.Header{
		Height:     height,
		ParentHash: parentHash,
		Timestamp:  timestamp,
		Proposer:   proposer,
		GasLimit:   v.cfg.MaxGasPerBlock,
	}
	block := blockstorage.ValidatedBlock{
		Header:         header,
		Transactions:   hashes,
		ConsensusProof: consensusProof,
	}
	if block.Header.GasUsed > block.Header.GasLimit {
		return blockstorage.ValidatedBlock{}, 0, ErrGasLimitExceeded
	}

	if err := v.gateway.ProposeTransactions(hashes, height); err != nil {
		v.log.Warn("propose_transactions reported partial failure", zap.Error(err))
	}

	v.mu.Lock()
	v.seen[blockHash] = struct{}{}
	v.mu.Unlock()

	return block, height, nil
}
