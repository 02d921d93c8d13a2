package mempool

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/empower1/nodefabric/internal/ipc"
	"github.com/empower1/nodefabric/internal/telemetry"
)

// Pool is the two-phase-commit transaction pool: by_hash, by_price, and
// by_sender indices over a bounded set of Transactions.
type Pool struct {
	cfg    Config
	clock  clock.Clock
	log    *zap.Logger
	bus    *ipc.Bus
	keys   ipc.KeyProvider
	replay *replayWindow

	mu       sync.RWMutex
	byHash   map[string]*Transaction
	bySender map[string]map[uint64]string // sender -> nonce -> hash key
	price    priceHeap
}

// New builds an empty Pool.
func New(cfg Config, clk clock.Clock, log *zap.Logger, bus *ipc.Bus, keys ipc.KeyProvider) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		cfg:      cfg,
		clock:    clk,
		log:      log.Named("mempool"),
		bus:      bus,
		keys:     keys,
		replay:   newReplayWindow(clk, cfg.ReplayWindow, cfg.ReplayWindowCeiling),
		byHash:   make(map[string]*Transaction),
		bySender: make(map[string]map[uint64]string),
	}
}

// Len reports the total number of pooled transactions (both states).
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byHash)
}

// PendingInclusionCount reports how many transactions currently sit in
// the first phase of the two-phase commit.
func (p *Pool) PendingInclusionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byHash) - len(p.price.items)
}

// AddTransaction admits tx, applying the admission checks, replace-by-fee
// rule, and eviction-under-pressure policy.
func (p *Pool) AddTransaction(tx *Transaction, signatureVerified bool) error {
	if !signatureVerified {
		return ErrSignatureNotVerified
	}
	now := p.clock.Now()
	if age := now.Sub(time.Unix(tx.Timestamp, 0)); age > p.cfg.MaxTimestampPast {
		return ErrTimestampTooOld
	}
	if time.Unix(tx.Timestamp, 0).Sub(now) > p.cfg.MaxTimestampFuture {
		return ErrTimestampTooFuture
	}
	if tx.GasPrice < p.cfg.MinGasPrice {
		return ErrGasPriceTooLow
	}
	if tx.GasLimit > p.cfg.MaxGasLimit {
		return ErrGasLimitTooHigh
	}

	hKey := hashKey(tx.Hash)
	sKey := senderKey(tx.Sender)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.replay.contains(hKey) {
		return ErrReplayDetected
	}
	if _, exists := p.byHash[hKey]; exists {
		return ErrDuplicateTransaction
	}

	senderTxs := p.bySender[sKey]
	if existingHash, ok := senderTxs[tx.Nonce]; ok {
		existing := p.byHash[existingHash]
		if existing.State == StatePendingInclusion {
			return ErrTransactionPendingInclusion
		}
		if !p.cfg.RBFEnabled {
			return ErrRbfDisabled
		}
		minBump := existing.GasPrice * (100 + p.cfg.RBFMinBumpPercent) / 100
		if tx.GasPrice < minBump {
			return ErrInsufficientFeeBump
		}
		p.removeLocked(existingHash)
	} else if len(senderTxs) >= p.cfg.MaxPerSender {
		return ErrAccountLimitReached
	}

	tx.AddedAt = now
	if len(p.byHash) >= p.cfg.Capacity {
		lowest := p.lowestPendingLocked()
		if lowest == nil || !tx.strictlyHigherPriority(lowest) {
			return ErrPoolFull
		}
		p.removeLocked(hashKey(lowest.Hash))
	}

	tx.State = StatePending
	p.insertLocked(tx, hKey, sKey)
	p.updateMetricsLocked()
	return nil
}

func (p *Pool) updateMetricsLocked() {
	pending := len(p.price.items)
	telemetry.MempoolSize.WithLabelValues("pending").Set(float64(pending))
	telemetry.MempoolSize.WithLabelValues("pending_inclusion").Set(float64(len(p.byHash) - pending))
}

func (p *Pool) insertLocked(tx *Transaction, hKey, sKey string) {
	p.byHash[hKey] = tx
	if p.bySender[sKey] == nil {
		p.bySender[sKey] = make(map[uint64]string)
	}
	p.bySender[sKey][tx.Nonce] = hKey
	heap.Push(&p.price, tx)
}

// removeLocked deletes hKey from every index, regardless of state.
func (p *Pool) removeLocked(hKey string) {
	tx, ok := p.byHash[hKey]
	if !ok {
		return
	}
	delete(p.byHash, hKey)
	if senderTxs := p.bySender[senderKey(tx.Sender)]; senderTxs != nil {
		delete(senderTxs, tx.Nonce)
		if len(senderTxs) == 0 {
			delete(p.bySender, senderKey(tx.Sender))
		}
	}
	if tx.State == StatePending && tx.index >= 0 && tx.index < len(p.price.items) && p.price.items[tx.index] == tx {
		heap.Remove(&p.price, tx.index)
	}
}

func (p *Pool) lowestPendingLocked() *Transaction {
	var lowest *Transaction
	for _, tx := range p.price.items {
		if lowest == nil || lowest.less(tx) {
			lowest = tx
		}
	}
	return lowest
}

// Propose transitions the given hashes from Pending to PendingInclusion
// for targetHeight. Unknown hashes are reported as errors and hashes
// already PendingInclusion are skipped without an error; neither blocks
// the others.
func (p *Pool) Propose(hashes [][]byte, targetHeight uint64) error {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs error
	for _, hash := range hashes {
		hKey := hashKey(hash)
		tx, ok := p.byHash[hKey]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("%w: %x", ErrUnknownTransaction, hash))
			continue
		}
		if tx.State != StatePending {
			continue
		}
		heap.Remove(&p.price, tx.index)
		tx.State = StatePendingInclusion
		tx.BlockHeight = targetHeight
		tx.ProposedAt = now
	}
	p.updateMetricsLocked()
	return errs
}

// Confirm permanently removes the given hashes: BlockStorage has durably
// committed them.
func (p *Pool) Confirm(hashes [][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hash := range hashes {
		hKey := hashKey(hash)
		p.removeLocked(hKey)
		p.replay.record(hKey)
	}
	p.updateMetricsLocked()
	return nil
}

// Rollback transitions the given hashes from PendingInclusion back to
// Pending, reinserting them into by_price.
func (p *Pool) Rollback(hashes [][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, hash := range hashes {
		p.rollbackOneLocked(hashKey(hash))
	}
	p.updateMetricsLocked()
	return nil
}

func (p *Pool) rollbackOneLocked(hKey string) {
	tx, ok := p.byHash[hKey]
	if !ok || tx.State != StatePendingInclusion {
		return
	}
	tx.State = StatePending
	tx.BlockHeight = 0
	tx.ProposedAt = time.Time{}
	heap.Push(&p.price, tx)
}

// SweepTimeouts rolls back every PendingInclusion entry older than
// PendingInclusionTimeout. A single sweep may roll back many; it
// never confirms.
func (p *Pool) SweepTimeouts() [][]byte {
	now := p.clock.Now()
	cutoff := now.Add(-p.cfg.PendingInclusionTimeout)
	p.mu.Lock()
	var expired [][]byte
	for hKey, tx := range p.byHash {
		if tx.State == StatePendingInclusion && tx.ProposedAt.Before(cutoff) {
			expired = append(expired, append([]byte(nil), tx.Hash...))
			p.rollbackOneLocked(hKey)
		}
	}
	p.updateMetricsLocked()
	p.mu.Unlock()
	return expired
}

// GetForBlock selects eligible Pending transactions for a new block: it
// iterates candidates by descending priority, admitting each only if gas
// budget allows and its nonce matches the sender's next-expected nonce.
// Skipped candidates are reconsidered across passes, since admitting a
// predecessor may unlock them within the same sweep.
func (p *Pool) GetForBlock(maxCount int, maxGas uint64) []*Transaction {
	p.mu.RLock()
	candidates := make([]*Transaction, len(p.price.items))
	copy(candidates, p.price.items)
	minNonce := make(map[string]uint64, len(p.bySender))
	for sKey, nonces := range p.bySender {
		var min uint64
		first := true
		for n := range nonces {
			if first || n < min {
				min = n
				first = false
			}
		}
		minNonce[sKey] = min
	}
	p.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].less(candidates[j]) })

	expected := make(map[string]uint64, len(minNonce))
	for s, n := range minNonce {
		expected[s] = n
	}

	var included []*Transaction
	var totalGas uint64
	remaining := candidates
	for {
		progressed := false
		var next []*Transaction
		for _, tx := range remaining {
			if maxCount > 0 && len(included) >= maxCount {
				break
			}
			if totalGas+tx.GasLimit > maxGas {
				continue
			}
			sKey := senderKey(tx.Sender)
			if tx.Nonce != expected[sKey] {
				next = append(next, tx)
				continue
			}
			included = append(included, tx)
			totalGas += tx.GasLimit
			expected[sKey] = tx.Nonce + 1
			progressed = true
		}
		remaining = next
		if !progressed || len(remaining) == 0 || (maxCount > 0 && len(included) >= maxCount) {
			break
		}
	}
	return included
}
