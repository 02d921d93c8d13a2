// Package blockstorage implements the assembly choreographer: it
// buffers per-block arrivals of a validated body, a Merkle root,
// and a state root, committing atomically once all three are present, and
// serves reads of committed blocks.
package blockstorage

import (
	"time"

	"github.com/empower1/nodefabric/internal/ipc"
)

// Hash is a 32-byte content hash (block hash, parent hash, root hash).
type Hash [32]byte

// Header carries the block metadata the choreographer needs to order and
// link blocks; the transaction bodies live alongside it in
// ValidatedBlock.Transactions.
type Header struct {
	Height     uint64
	ParentHash Hash
	Timestamp  int64
	Proposer   []byte
	GasLimit   uint64
	GasUsed    uint64
}

// ValidatedBlock is the body Consensus publishes once a block has passed
// validation. It is immutable thereafter.
type ValidatedBlock struct {
	Header         Header
	Transactions   [][]byte // transaction hashes, in block order
	ConsensusProof []byte
}

// PendingAssembly is the transient state of a block awaiting all three of
// {validated body, Merkle root, state root}. At most one exists per
// BlockHash at a time.
type PendingAssembly struct {
	BlockHash   Hash
	BlockHeight uint64
	Validated   *ValidatedBlock
	MerkleRoot  *Hash
	StateRoot   *Hash
	StartedAt   time.Time
}

// Complete reports whether all three choreography inputs have arrived.
func (p *PendingAssembly) Complete() bool {
	return p.Validated != nil && p.MerkleRoot != nil && p.StateRoot != nil
}

// StoredBlock is a block after its atomic commit: the validated body plus
// both computed roots and the integrity checksum persisted alongside it.
type StoredBlock struct {
	Block      ValidatedBlock
	Hash       Hash
	MerkleRoot Hash
	StateRoot  Hash
	Checksum   uint32
	StoredAt   time.Time
}

// TransactionLocation is the record tx/<hash> resolves to: where a
// transaction lives within its committed block.
type TransactionLocation struct {
	BlockHash   Hash
	BlockHeight uint64
	TxIndex     int
	MerkleRoot  Hash
}

// Metadata is the single meta key: the highest stored height and the
// highest finalized height, which must be non-decreasing.
type Metadata struct {
	LatestHeight    uint64
	HasLatest       bool
	FinalizedHeight uint64
	HasFinalized    bool
}

// Event kinds owned by this package.
const (
	KindBlockValidated        ipc.Kind = "BlockValidated"
	KindMerkleRootComputed    ipc.Kind = "MerkleRootComputed"
	KindStateRootComputed     ipc.Kind = "StateRootComputed"
	KindBlockStored           ipc.Kind = "BlockStored"
	KindAssemblyTimeout       ipc.Kind = "AssemblyTimeout"
	KindBlockStorageConfirmed ipc.Kind = "BlockStorageConfirmation"
	KindMarkFinalized         ipc.Kind = "MarkFinalized"
)

// BlockValidatedPayload is published by Consensus once a block body has
// passed validation.
type BlockValidatedPayload struct {
	Block       ValidatedBlock
	BlockHash   Hash
	BlockHeight uint64
}

func (BlockValidatedPayload) Kind() ipc.Kind { return KindBlockValidated }
func (BlockValidatedPayload) Topic() ipc.Topic { return ipc.TopicConsensus }

// MerkleRootComputedPayload is published by TransactionIndexing.
type MerkleRootComputedPayload struct {
	BlockHash  Hash
	MerkleRoot Hash
}

func (MerkleRootComputedPayload) Kind() ipc.Kind { return KindMerkleRootComputed }
func (MerkleRootComputedPayload) Topic() ipc.Topic { return ipc.TopicTransactionIndexing }

// StateRootComputedPayload is published by StateManagement.
type StateRootComputedPayload struct {
	BlockHash Hash
	StateRoot Hash
}

func (StateRootComputedPayload) Kind() ipc.Kind { return KindStateRootComputed }
func (StateRootComputedPayload) Topic() ipc.Topic { return ipc.TopicStateManagement }

// BlockStoredPayload is published once a PendingAssembly commits; Finality
// consumes it to begin attesting to the new block.
type BlockStoredPayload struct {
	BlockHash   Hash
	BlockHeight uint64
	MerkleRoot  Hash
	StateRoot   Hash
}

func (BlockStoredPayload) Kind() ipc.Kind { return KindBlockStored }
func (BlockStoredPayload) Topic() ipc.Topic { return ipc.TopicBlockStorage }

// AssemblyTimeoutPayload is published for observability whenever the GC
// purges an incomplete assembly.
type AssemblyTimeoutPayload struct {
	BlockHash      Hash
	HadValidated   bool
	HadMerkleRoot  bool
	HadStateRoot   bool
	PendingSeconds float64
}

func (AssemblyTimeoutPayload) Kind() ipc.Kind { return KindAssemblyTimeout }
func (AssemblyTimeoutPayload) Topic() ipc.Topic { return ipc.TopicBlockStorage }

// BlockStorageConfirmationPayload is the event BlockStorage(2) publishes
// on its topic after a commit, confirming which transactions were
// permanently included; the Mempool authorizes it only from BlockStorage.
type BlockStorageConfirmationPayload struct {
	BlockHeight  uint64
	Transactions [][]byte
}

func (BlockStorageConfirmationPayload) Kind() ipc.Kind { return KindBlockStorageConfirmed }
func (BlockStorageConfirmationPayload) Topic() ipc.Topic { return ipc.TopicBlockStorage }

// MarkFinalizedPayload is the unicast request Finality(9) sends once a
// checkpoint finalizes. Some call sites describe it as the
// BlockFinalized notification; the IPC authorization matrix knows it as
// MarkFinalized. Both name the same request.
type MarkFinalizedPayload struct {
	BlockHeight uint64
	BlockHash   Hash
}

func (MarkFinalizedPayload) Kind() ipc.Kind { return KindMarkFinalized }
func (MarkFinalizedPayload) Topic() ipc.Topic { return ipc.TopicFinality }

func init() {
	ipc.RegisterAuthorization(KindBlockValidated, ipc.SubsystemConsensus)
	ipc.RegisterAuthorization(KindMerkleRootComputed, ipc.SubsystemTransactionIndexing)
	ipc.RegisterAuthorization(KindStateRootComputed, ipc.SubsystemStateManagement)
	ipc.RegisterAuthorization(KindBlockStored, ipc.SubsystemBlockStorage)
	ipc.RegisterAuthorization(KindBlockStorageConfirmed, ipc.SubsystemBlockStorage)
	ipc.RegisterAuthorization(KindMarkFinalized, ipc.SubsystemFinality)
}
