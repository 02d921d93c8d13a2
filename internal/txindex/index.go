package txindex

import (
	"sync"

	"go.uber.org/zap"

	"github.com/empower1/nodefabric/internal/blockstorage"
)

// Index is the Merkle Indexing Engine: it computes a Merkle root for
// every validated block, caches the tree for proof generation, and
// records each transaction's (block, index) location.
type Index struct {
	cfg Config
	log *zap.Logger

	mu        sync.RWMutex
	trees     *treeCache
	locations map[string]Location // tx hash -> location
}

// New builds an empty Index.
func New(cfg Config, log *zap.Logger) *Index {
	if log == nil {
		log = zap.NewNop()
	}
	return &Index{
		cfg:       cfg,
		log:       log.Named("transaction-indexing"),
		trees:     newTreeCache(cfg.MaxCachedTrees),
		locations: make(map[string]Location),
	}
}

// IndexBlock builds the Merkle tree for txHashes, caches it under
// blockHash, records each transaction's location, and returns the root.
func (idx *Index) IndexBlock(blockHash Hash, blockHeight uint64, txHashes []blockstorage.Hash) Hash {
	tree := Build(txHashes)

	idx.mu.Lock()
	idx.trees.add(blockHash, tree)
	for i, txHash := range txHashes {
		idx.locations[string(txHash[:])] = Location{
			BlockHeight: blockHeight,
			BlockHash:   blockHash,
			TxIndex:     i,
			MerkleRoot:  tree.Root(),
		}
	}
	idx.mu.Unlock()

	return tree.Root()
}

// CachedTreeCount reports how many trees are currently cached, for tests
// and metrics; it never exceeds Config.MaxCachedTrees.
func (idx *Index) CachedTreeCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.trees.len()
}

// Locate resolves a transaction hash to its recorded location.
func (idx *Index) Locate(txHash Hash) (Location, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	loc, ok := idx.locations[string(txHash[:])]
	return loc, ok
}

// GenerateProof builds an inclusion proof for the transaction at txIndex
// within blockHash's cached tree.
func (idx *Index) GenerateProof(blockHash Hash, txIndex int, blockHeight uint64) (Proof, error) {
	idx.mu.RLock()
	tree, ok := idx.trees.get(blockHash)
	idx.mu.RUnlock()
	if !ok {
		return Proof{}, ErrTreeNotCached
	}
	return tree.GenerateProof(txIndex, blockHeight, blockHash)
}
