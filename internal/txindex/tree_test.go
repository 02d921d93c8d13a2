package txindex

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(n uint64) Hash {
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], n)
	return sha256.Sum256(seed[:])
}

func leaves(n int) []Hash {
	out := make([]Hash, n)
	for i := range out {
		out[i] = leaf(uint64(i))
	}
	return out
}

func TestBuild_DeterministicRoot(t *testing.T) {
	txs := leaves(5)
	first := Build(txs)
	second := Build(txs)
	assert.Equal(t, first.Root(), second.Root())

	reordered := []Hash{txs[1], txs[0], txs[2], txs[3], txs[4]}
	assert.NotEqual(t, first.Root(), Build(reordered).Root(), "root depends on transaction order")
}

func TestBuild_PadsToNextPowerOfTwo(t *testing.T) {
	cases := []struct {
		txCount, wantLeaves int
	}{
		{1, 2}, // a single transaction still pads to two leaves
		{2, 2},
		{3, 4},
		{5, 8},
		{8, 8},
		{9, 16},
	}
	for _, tc := range cases {
		tree := Build(leaves(tc.txCount))
		assert.Equal(t, tc.wantLeaves, tree.LeafCount(), "txCount=%d", tc.txCount)
		assert.Equal(t, tc.txCount, tree.TransactionCount())
	}
}

func TestBuild_SingleLeafPairsWithSentinel(t *testing.T) {
	only := leaf(42)
	tree := Build([]Hash{only})
	assert.Equal(t, hashPair(only, sentinelHash), tree.Root())
}

func TestGenerateProof_VerifiesForEveryIndex(t *testing.T) {
	for _, txCount := range []int{1, 2, 3, 5, 8, 13} {
		txs := leaves(txCount)
		tree := Build(txs)
		for i := 0; i < txCount; i++ {
			proof, err := tree.GenerateProof(i, 7, leaf(999))
			require.NoError(t, err)
			assert.Equal(t, txs[i], proof.LeafHash)
			assert.True(t, VerifyProof(proof, tree.Root()), "txCount=%d index=%d", txCount, i)
		}
	}
}

func TestGenerateProof_RejectsOutOfRange(t *testing.T) {
	tree := Build(leaves(3))
	_, err := tree.GenerateProof(3, 0, Hash{})
	assert.ErrorIs(t, err, ErrInvalidIndex)
	_, err = tree.GenerateProof(-1, 0, Hash{})
	assert.ErrorIs(t, err, ErrInvalidIndex)
}

func TestVerifyProof_TamperingFails(t *testing.T) {
	tree := Build(leaves(4))
	proof, err := tree.GenerateProof(2, 0, Hash{})
	require.NoError(t, err)
	require.True(t, VerifyProof(proof, tree.Root()))

	tamperedLeaf := proof
	tamperedLeaf.LeafHash[0] ^= 0xFF
	assert.False(t, VerifyProof(tamperedLeaf, tree.Root()))

	tamperedPath := proof
	tamperedPath.Path = append([]ProofNode(nil), proof.Path...)
	tamperedPath.Path[1].Hash[0] ^= 0xFF
	assert.False(t, VerifyProof(tamperedPath, tree.Root()))

	wrongRoot := tree.Root()
	wrongRoot[0] ^= 0xFF
	assert.False(t, VerifyProof(proof, wrongRoot))
}

func TestIndex_RecordsLocationsAndServesProofs(t *testing.T) {
	idx := New(DefaultConfig(), nil)
	blockHash := leaf(1000)
	txs := leaves(3)

	root := idx.IndexBlock(blockHash, 12, txs)
	assert.Equal(t, Build(txs).Root(), root)

	loc, ok := idx.Locate(txs[2])
	require.True(t, ok)
	assert.Equal(t, uint64(12), loc.BlockHeight)
	assert.Equal(t, blockHash, loc.BlockHash)
	assert.Equal(t, 2, loc.TxIndex)
	assert.Equal(t, root, loc.MerkleRoot)

	proof, err := idx.GenerateProof(blockHash, 1, 12)
	require.NoError(t, err)
	assert.True(t, VerifyProof(proof, root))

	_, err = idx.GenerateProof(leaf(2000), 0, 0)
	assert.ErrorIs(t, err, ErrTreeNotCached)
}

func TestIndex_CacheCeiling(t *testing.T) {
	cfg := Config{MaxCachedTrees: 2}
	idx := New(cfg, nil)
	for i := 0; i < 5; i++ {
		idx.IndexBlock(leaf(uint64(3000+i)), uint64(i), leaves(2))
	}
	assert.Equal(t, 2, idx.CachedTreeCount())

	// The oldest tree was evicted; its proofs are no longer servable.
	_, err := idx.GenerateProof(leaf(3000), 0, 0)
	assert.ErrorIs(t, err, ErrTreeNotCached)
	_, err = idx.GenerateProof(leaf(3004), 0, 4)
	assert.NoError(t, err)
}
