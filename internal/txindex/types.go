// Package txindex implements the Merkle Indexing Engine: on
// every BlockValidated it computes the Merkle root over the block's
// transaction hashes, records each transaction's (block, index) location,
// caches the tree, and publishes MerkleRootComputed.
package txindex

import (
	"github.com/empower1/nodefabric/internal/blockstorage"
)

// Hash is the 32-byte content hash shared with blockstorage: block
// hashes, transaction hashes, and Merkle roots all live in this space.
type Hash = blockstorage.Hash

// sentinelHash is the all-zero value used to pad leaves to the next
// power of two.
var sentinelHash Hash

// SiblingPosition records which side of a hash_pair a proof node's
// sibling hash occupies, so verification knows how to reconstitute
// H(left ‖ right) at each level.
type SiblingPosition int

const (
	SiblingLeft SiblingPosition = iota
	SiblingRight
)

// ProofNode is one level of a MerkleProof's path: the sibling hash at
// that level and which side it sits on.
type ProofNode struct {
	Hash     Hash
	Position SiblingPosition
}

// Proof is a cryptographic proof of transaction inclusion: the leaf
// value plus the sibling path needed to recompute the root.
type Proof struct {
	LeafHash    Hash
	TxIndex     int
	BlockHeight uint64
	BlockHash   Hash
	Root        Hash
	Path        []ProofNode
}

// Location mirrors blockstorage.TransactionLocation for the index this
// package maintains ahead of a block's commit: tx_hash -> (block, index,
// merkle_root).
type Location struct {
	BlockHeight uint64
	BlockHash   Hash
	TxIndex     int
	MerkleRoot  Hash
}
