// Package mempool implements the Mempool Two-Phase Commit component: a
// priority-ordered, per-sender nonce-ordered transaction pool whose
// inclusion protocol (Propose/Confirm/Rollback) prevents double-inclusion
// without permanently dropping transactions on speculative failures.
package mempool

import (
	"time"
)

// State is a MempoolTransaction's position in the two-phase lifecycle.
type State int

const (
	StatePending State = iota
	StatePendingInclusion
)

func (s State) String() string {
	if s == StatePendingInclusion {
		return "pending_inclusion"
	}
	return "pending"
}

// Transaction is one pooled, signature-verified transaction.
type Transaction struct {
	Hash      []byte
	Sender    []byte
	Nonce     uint64
	GasPrice  uint64
	GasLimit  uint64
	AddedAt   time.Time
	Timestamp int64 // sender-supplied creation time, seconds since epoch

	State       State
	BlockHeight uint64    // set while PendingInclusion
	ProposedAt  time.Time // set while PendingInclusion

	index int // position in the price heap; maintained by container/heap
}

func hashKey(hash []byte) string     { return string(hash) }
func senderKey(sender []byte) string { return string(sender) }

func (s *Transaction) less(other *Transaction) bool {
	if s.GasPrice != other.GasPrice {
		return s.GasPrice > other.GasPrice
	}
	if !s.AddedAt.Equal(other.AddedAt) {
		return s.AddedAt.Before(other.AddedAt)
	}
	return hashKey(s.Hash) < hashKey(other.Hash)
}

// strictlyHigherPriority is the eviction-under-pressure comparison:
// higher gas price, or equal gas price with an earlier arrival. The hash
// tiebreak that totals the heap ordering is excluded here — it must
// never drive admission or eviction.
func (s *Transaction) strictlyHigherPriority(other *Transaction) bool {
	if s.GasPrice != other.GasPrice {
		return s.GasPrice > other.GasPrice
	}
	return s.AddedAt.Before(other.AddedAt)
}
