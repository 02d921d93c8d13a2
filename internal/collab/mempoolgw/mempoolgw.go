// Package mempoolgw adapts *mempool.Pool to the MempoolGateway contract
// Consensus depends on directly, rather than through a bus round trip:
// transaction selection and proposal are a synchronous collaborator
// interface, so this reference adapter is a thin, direct Go wrapper.
package mempoolgw

import (
	"github.com/empower1/nodefabric/internal/mempool"
)

// Gateway is the MempoolGateway contract's reference implementation.
type Gateway struct {
	pool *mempool.Pool
}

// New wraps pool as a Gateway.
func New(pool *mempool.Pool) *Gateway {
	return &Gateway{pool: pool}
}

// GetTransactionsForBlock returns up to maxCount pooled transactions'
// hashes, in priority order, whose cumulative gas stays within maxGas.
func (g *Gateway) GetTransactionsForBlock(maxCount int, maxGas uint64) [][]byte {
	selected := g.pool.GetForBlock(maxCount, maxGas)
	hashes := make([][]byte, len(selected))
	for i, tx := range selected {
		hashes[i] = tx.Hash
	}
	return hashes
}

// ProposeTransactions moves hashes from Pending to PendingInclusion for
// targetHeight, the first phase of the two-phase commit.
func (g *Gateway) ProposeTransactions(hashes [][]byte, targetHeight uint64) error {
	return g.pool.Propose(hashes, targetHeight)
}
