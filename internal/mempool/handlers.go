package mempool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/empower1/nodefabric/internal/blockstorage"
	"github.com/empower1/nodefabric/internal/ipc"
)

// sweepTickDivisor bounds the timeout-sweep period to at most a
// quarter of PendingInclusionTimeout.
const sweepTickDivisor = 4

// TransactionVerifiedPayload is the minimal shape Mempool needs from
// SignatureVerification's TransactionVerified event; the owning Kind and
// Topic constants live in the signature-verification package.
type TransactionVerifiedPayload interface {
	ipc.EventPayload
	VerifiedTransaction() AddTransactionPayload
}

// Subsystem wraps a *Pool as a registry.Subsystem: it answers unicast
// AddTransaction/GetTransactions requests over the bus and runs the
// periodic pending-inclusion timeout sweep.
type Subsystem struct {
	pool      *Pool
	bus       *ipc.Bus
	keys      ipc.KeyProvider
	validator *ipc.Validator
	log       *zap.Logger

	sub *ipc.Subscription

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSubsystem wires pool onto bus as the mempool subsystem.
func NewSubsystem(pool *Pool, bus *ipc.Bus, keys ipc.KeyProvider, log *zap.Logger) *Subsystem {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subsystem{
		pool:      pool,
		bus:       bus,
		keys:      keys,
		validator: ipc.NewInboundValidator(ipc.SubsystemMempool, keys, pool.clock),
		log:       log.Named("mempool"),
	}
}

// admit is the envelope re-verification and IPC-matrix authorization
// every inbound handler applies before touching the pool.
func (s *Subsystem) admit(event ipc.Event) bool {
	if err := s.validator.ValidateInbound(event.Header); err != nil {
		s.log.Warn("envelope rejected", zap.Error(err))
		return false
	}
	if err := ipc.Authorize(event.SenderID, event.Payload.Kind()); err != nil {
		s.log.Warn("unauthorized sender",
			zap.String("kind", string(event.Payload.Kind())), zap.Error(err))
		return false
	}
	return true
}

func (s *Subsystem) ID() ipc.SubsystemID { return ipc.SubsystemMempool }

func (s *Subsystem) Init(ctx context.Context) error {
	filter := ipc.NewFilter([]ipc.Topic{ipc.TopicMempool, ipc.TopicSignatureVerification, ipc.TopicBlockStorage}, nil)
	s.sub = s.bus.Subscribe(filter, ipc.DefaultQueueCapacity)
	return nil
}

func (s *Subsystem) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(2)
	go s.dispatchLoop(runCtx)
	go s.sweepLoop(runCtx)
	return nil
}

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
	switch payload := event.Payload.(type) {
	case AddTransactionPayload:
		if !s.admit(event) {
			return
		}
		s.handleAddTransaction(payload)
	case GetTransactionsPayload:
		if !s.admit(event) {
			return
		}
		s.handleGetTransactions(event, payload)
	case TransactionVerifiedPayload:
		if !s.admit(event) {
			return
		}
		s.handleAddTransaction(payload.VerifiedTransaction())
	case blockstorage.BlockStorageConfirmationPayload:
		if !s.admit(event) {
			return
		}
		if err := s.pool.Confirm(payload.Transactions); err != nil {
			s.log.Warn("confirm failed", zap.Error(err))
		}
	case BlockRejectedPayload:
		if !s.admit(event) {
			return
		}
		if err := s.pool.Rollback(payload.Transactions); err != nil {
			s.log.Warn("rollback failed", zap.Error(err))
		}
	}
}

func (s *Subsystem) handleAddTransaction(payload AddTransactionPayload) {
	tx := &Transaction{
		Hash:      payload.Hash,
		Sender:    payload.Sender,
		Nonce:     payload.Nonce,
		GasPrice:  payload.GasPrice,
		GasLimit:  payload.GasLimit,
		Timestamp: payload.Timestamp,
	}
	if err := s.pool.AddTransaction(tx, payload.SignatureVerified); err != nil {
		s.log.Warn("transaction rejected", zap.Error(err), zap.Binary("hash", payload.Hash))
	}
}

func (s *Subsystem) handleGetTransactions(event ipc.Event, payload GetTransactionsPayload) {
	selected := s.pool.GetForBlock(int(payload.MaxCount), payload.MaxGas)
	hashes := make([][]byte, len(selected))
	for i, tx := range selected {
		hashes[i] = tx.Hash
	}
	reply := TransactionsReplyPayload{Hashes: hashes}
	if event.ReplyTo == nil {
		return
	}
	out, err := ipc.Seal(s.pool.clock, s.keys, ipc.SubsystemMempool, event.SenderID, nil, ipc.EventPayload(reply))
	if err != nil {
		s.log.Error("failed to seal reply", zap.Error(err))
		return
	}
	s.bus.Publish(out)
}

func (s *Subsystem) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.pool.cfg.PendingInclusionTimeout / sweepTickDivisor
	if interval <= 0 {
		interval = time.Second
	}
	ticker := s.pool.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if expired := s.pool.SweepTimeouts(); len(expired) > 0 {
				s.log.Info("rolled back timed-out pending-inclusion transactions",
					zap.Int("count", len(expired)))
			}
		}
	}
}
