package txindex

import (
	"golang.org/x/crypto/sha3"
)

// Tree is a binary Merkle tree built from transaction hashes, stored
// array-form (root at index 0, each parent at i with children at 2i+1
// and 2i+2) so proof generation can walk parent/sibling indices
// arithmetically instead of holding pointers.
type Tree struct {
	nodes        []Hash
	txCount      int
	paddedLeaves int
	root         Hash
}

// hashPair computes H(left ‖ right) over SHA3-256, the node operation for
// every internal node in the tree.
func hashPair(left, right Hash) Hash {
	h := sha3.New256()
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// nextPowerOfTwo returns the smallest power of two >= n, with the
// special case that a single-transaction block still pads to
// two leaves (a one-leaf tree has no sibling to prove against).
func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 2
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Build constructs a Tree from txHashes, padding to the next power of
// two with sentinelHash and hashing bottom-up; the same inputs always
// produce the same root.
func Build(txHashes []Hash) *Tree {
	txCount := len(txHashes)
	if txCount == 0 {
		return &Tree{nodes: []Hash{sentinelHash}, root: sentinelHash}
	}

	padded := nextPowerOfTwo(txCount)
	leaves := make([]Hash, padded)
	copy(leaves, txHashes)
	for i := txCount; i < padded; i++ {
		leaves[i] = sentinelHash
	}

	totalNodes := 2*padded - 1
	nodes := make([]Hash, totalNodes)
	leafStart := padded - 1
	copy(nodes[leafStart:], leaves)

	for i := leafStart - 1; i >= 0; i-- {
		left, right := 2*i+1, 2*i+2
		nodes[i] = hashPair(nodes[left], nodes[right])
	}

	return &Tree{
		nodes:        nodes,
		txCount:      txCount,
		paddedLeaves: padded,
		root:         nodes[0],
	}
}

// Root returns the tree's computed root hash.
func (t *Tree) Root() Hash { return t.root }

// TransactionCount returns the number of real (unpadded) transactions.
func (t *Tree) TransactionCount() int { return t.txCount }

// LeafCount returns the number of leaves after padding.
func (t *Tree) LeafCount() int { return t.paddedLeaves }

// GenerateProof builds an inclusion proof for the transaction at txIndex,
// walking from its leaf to the root and recording each level's sibling.
func (t *Tree) GenerateProof(txIndex int, blockHeight uint64, blockHash Hash) (Proof, error) {
	if txIndex < 0 || txIndex >= t.txCount {
		return Proof{}, ErrInvalidIndex
	}
	if t.paddedLeaves == 0 {
		return Proof{}, ErrEmptyBlock
	}

	leafStart := t.paddedLeaves - 1
	current := leafStart + txIndex
	leafHash := t.nodes[current]

	var path []ProofNode
	for current > 0 {
		var siblingIdx int
		var position SiblingPosition
		if current%2 == 0 {
			siblingIdx = current - 1
			position = SiblingLeft
		} else {
			siblingIdx = current + 1
			position = SiblingRight
		}
		path = append(path, ProofNode{Hash: t.nodes[siblingIdx], Position: position})
		current = (current - 1) / 2
	}

	return Proof{
		LeafHash:    leafHash,
		TxIndex:     txIndex,
		BlockHeight: blockHeight,
		BlockHash:   blockHash,
		Root:        t.root,
		Path:        path,
	}, nil
}

// VerifyProof recomputes the root along proof.Path from proof.LeafHash and
// compares it to the expected root. A tampered leaf, path entry, or
// expected root fails verification.
func VerifyProof(proof Proof, expectedRoot Hash) bool {
	current := proof.LeafHash
	for _, node := range proof.Path {
		switch node.Position {
		case SiblingLeft:
			current = hashPair(node.Hash, current)
		case SiblingRight:
			current = hashPair(current, node.Hash)
		}
	}
	return current == expectedRoot
}
