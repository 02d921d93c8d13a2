package blockstorage

import (
	"crypto/sha256"
	"encoding/binary"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/nodefabric/internal/storage"
	"github.com/empower1/nodefabric/internal/storage/memstore"
)

func testHash(seed string) Hash {
	return sha256.Sum256([]byte(seed))
}

func txHash(n uint64) []byte {
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], n)
	sum := sha256.Sum256(seed[:])
	return sum[:]
}

func testStore(t *testing.T, cfg Config) (*Store, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	store, err := NewStore(cfg, memstore.New(), FixedDiskStatter(50), clk, nil, nil, nil)
	require.NoError(t, err)
	return store, clk
}

func validated(height uint64, parent Hash, txs ...[]byte) ValidatedBlock {
	return ValidatedBlock{
		Header: Header{
			Height:     height,
			ParentHash: parent,
			Timestamp:  1_700_000_000 + int64(height),
		},
		Transactions: txs,
	}
}

// commitBlock drives all three arrivals in the given order strings
// ("block", "merkle", "state") and returns the last error.
func commitBlock(t *testing.T, s *Store, hash Hash, block ValidatedBlock, merkleRoot, stateRoot Hash, order ...string) error {
	t.Helper()
	var err error
	for _, step := range order {
		switch step {
		case "block":
			err = s.OnBlockValidated(BlockValidatedPayload{Block: block, BlockHash: hash, BlockHeight: block.Header.Height})
		case "merkle":
			err = s.OnMerkleRootComputed(MerkleRootComputedPayload{BlockHash: hash, MerkleRoot: merkleRoot})
		case "state":
			err = s.OnStateRootComputed(StateRootComputedPayload{BlockHash: hash, StateRoot: stateRoot})
		}
	}
	return err
}

func TestAssembly_ReverseOrderCommits(t *testing.T) {
	store, _ := testStore(t, DefaultConfig())
	hash := testHash("block0")
	merkleRoot := testHash("merkle-aa")
	stateRoot := testHash("state-bb")

	err := commitBlock(t, store, hash, validated(0, Hash{}, txHash(1)), merkleRoot, stateRoot,
		"state", "merkle", "block")
	require.NoError(t, err)

	stored, err := store.ReadBlockByHeight(0)
	require.NoError(t, err)
	assert.Equal(t, merkleRoot, stored.MerkleRoot)
	assert.Equal(t, stateRoot, stored.StateRoot)

	latest, ok := store.LatestHeight()
	require.True(t, ok)
	assert.Equal(t, uint64(0), latest)
}

func TestAssembly_OrderIsCommutative(t *testing.T) {
	orders := [][]string{
		{"block", "merkle", "state"},
		{"merkle", "state", "block"},
		{"state", "block", "merkle"},
	}
	var blocks []StoredBlock
	for _, order := range orders {
		store, _ := testStore(t, DefaultConfig())
		hash := testHash("block0")
		require.NoError(t, commitBlock(t, store, hash, validated(0, Hash{}, txHash(1)),
			testHash("m"), testHash("s"), order...))
		stored, err := store.ReadBlock(hash)
		require.NoError(t, err)
		blocks = append(blocks, stored)
	}
	assert.Equal(t, blocks[0], blocks[1])
	assert.Equal(t, blocks[1], blocks[2])
}

func TestAssembly_IncompleteDoesNotCommit(t *testing.T) {
	store, _ := testStore(t, DefaultConfig())
	hash := testHash("half-done")
	require.NoError(t, store.OnMerkleRootComputed(MerkleRootComputedPayload{BlockHash: hash, MerkleRoot: testHash("m")}))
	require.NoError(t, store.OnStateRootComputed(StateRootComputedPayload{BlockHash: hash, StateRoot: testHash("s")}))

	_, err := store.ReadBlock(hash)
	assert.ErrorIs(t, err, ErrBlockNotFound)
	_, ok := store.LatestHeight()
	assert.False(t, ok)
}

func TestCommit_ParentMustExist(t *testing.T) {
	store, _ := testStore(t, DefaultConfig())
	err := commitBlock(t, store, testHash("orphan"), validated(5, testHash("no-such-parent")),
		testHash("m"), testHash("s"), "block", "merkle", "state")
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestCommit_ChainedHeights(t *testing.T) {
	store, _ := testStore(t, DefaultConfig())
	genesisHash := testHash("genesis")
	require.NoError(t, commitBlock(t, store, genesisHash, validated(0, Hash{}),
		testHash("m0"), testHash("s0"), "block", "merkle", "state"))

	require.NoError(t, commitBlock(t, store, testHash("block1"), validated(1, genesisHash),
		testHash("m1"), testHash("s1"), "block", "merkle", "state"))

	latest, ok := store.LatestHeight()
	require.True(t, ok)
	assert.Equal(t, uint64(1), latest)
}

func TestCommit_DiskFloorBoundary(t *testing.T) {
	cfg := DefaultConfig()
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))

	atFloor, err := NewStore(cfg, memstore.New(), FixedDiskStatter(5), clk, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, commitBlock(t, atFloor, testHash("g"), validated(0, Hash{}),
		testHash("m"), testHash("s"), "block", "merkle", "state"),
		"5%% available meets the 5%% floor")

	belowFloor, err := NewStore(cfg, memstore.New(), FixedDiskStatter(4), clk, nil, nil, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, commitBlock(t, belowFloor, testHash("g"), validated(0, Hash{}),
		testHash("m"), testHash("s"), "block", "merkle", "state"), ErrDiskFull)
}

func TestCommit_DuplicateBlock(t *testing.T) {
	store, _ := testStore(t, DefaultConfig())
	hash := testHash("dup")
	require.NoError(t, commitBlock(t, store, hash, validated(0, Hash{}),
		testHash("m"), testHash("s"), "block", "merkle", "state"))

	err := commitBlock(t, store, hash, validated(0, Hash{}),
		testHash("m"), testHash("s"), "block", "merkle", "state")
	assert.ErrorIs(t, err, ErrBlockExists)
}

func TestCommit_BlockTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBlockSize = 64
	store, _ := testStore(t, cfg)
	err := commitBlock(t, store, testHash("big"), validated(0, Hash{}, txHash(1), txHash(2), txHash(3)),
		testHash("m"), testHash("s"), "block", "merkle", "state")
	assert.ErrorIs(t, err, ErrBlockTooLarge)
}

func TestMarkFinalized_StrictlyIncreasing(t *testing.T) {
	store, _ := testStore(t, DefaultConfig())
	require.NoError(t, store.MarkFinalized(3))
	assert.ErrorIs(t, store.MarkFinalized(3), ErrInvalidFinalization)
	assert.ErrorIs(t, store.MarkFinalized(2), ErrInvalidFinalization)
	require.NoError(t, store.MarkFinalized(4))

	height, ok := store.FinalizedHeight()
	require.True(t, ok)
	assert.Equal(t, uint64(4), height)
}

func TestReadBlock_ChecksumMismatchIsCorruption(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	kv := memstore.New()
	store, err := NewStore(DefaultConfig(), kv, FixedDiskStatter(50), clk, nil, nil, nil)
	require.NoError(t, err)

	hash := testHash("tamper")
	require.NoError(t, commitBlock(t, store, hash, validated(0, Hash{}),
		testHash("m"), testHash("s"), "block", "merkle", "state"))

	stored, err := store.ReadBlock(hash)
	require.NoError(t, err)
	stored.Checksum++
	encoded, err := encodeStoredBlock(stored)
	require.NoError(t, err)
	require.NoError(t, kv.AtomicBatchWrite([]storage.Write{{Key: blockKey(hash), Value: encoded}}))

	_, err = store.ReadBlock(hash)
	assert.ErrorIs(t, err, ErrDataCorruption)
}

func TestReadRange_CapsAtConfiguredLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RangeReadCap = 100
	store, _ := testStore(t, cfg)

	parent := Hash{}
	for height := uint64(0); height < 120; height++ {
		var seed [8]byte
		binary.BigEndian.PutUint64(seed[:], height)
		hash := Hash(sha256.Sum256(seed[:]))
		require.NoError(t, commitBlock(t, store, hash, validated(height, parent),
			testHash("m"), testHash("s"), "block", "merkle", "state"))
		parent = hash
	}

	blocks, err := store.ReadRange(0, 500)
	require.NoError(t, err)
	assert.Len(t, blocks, 100)
}

func TestLookupTransaction(t *testing.T) {
	store, _ := testStore(t, DefaultConfig())
	hash := testHash("with-txs")
	tx0, tx1 := txHash(10), txHash(11)
	merkleRoot := testHash("mr")
	require.NoError(t, commitBlock(t, store, hash, validated(0, Hash{}, tx0, tx1),
		merkleRoot, testHash("s"), "block", "merkle", "state"))

	loc, err := store.LookupTransaction(tx1)
	require.NoError(t, err)
	assert.Equal(t, hash, loc.BlockHash)
	assert.Equal(t, uint64(0), loc.BlockHeight)
	assert.Equal(t, 1, loc.TxIndex)
	assert.Equal(t, merkleRoot, loc.MerkleRoot)

	_, err = store.LookupTransaction(txHash(99))
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestAssemblyGC_TimeoutBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AssemblyTimeout = 30 * time.Second
	store, clk := testStore(t, cfg)

	hash := testHash("stale")
	require.NoError(t, store.OnMerkleRootComputed(MerkleRootComputedPayload{BlockHash: hash, MerkleRoot: testHash("m")}))

	// At exactly the timeout the assembly survives.
	clk.Add(30 * time.Second)
	store.RunGC()
	assert.Equal(t, 1, store.PendingCount())

	// Past it, the sweep purges.
	clk.Add(time.Second)
	store.RunGC()
	assert.Equal(t, 0, store.PendingCount())

	// A late completion after the purge starts a fresh assembly rather
	// than committing a half-remembered one.
	require.NoError(t, store.OnStateRootComputed(StateRootComputedPayload{BlockHash: hash, StateRoot: testHash("s")}))
	_, err := store.ReadBlock(hash)
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

func TestAssemblyBuffer_EvictsOldestWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPendingAssemblies = 2
	store, _ := testStore(t, cfg)

	oldest := testHash("oldest")
	require.NoError(t, store.OnMerkleRootComputed(MerkleRootComputedPayload{BlockHash: oldest, MerkleRoot: testHash("m")}))
	require.NoError(t, store.OnMerkleRootComputed(MerkleRootComputedPayload{BlockHash: testHash("second"), MerkleRoot: testHash("m")}))
	require.NoError(t, store.OnMerkleRootComputed(MerkleRootComputedPayload{BlockHash: testHash("third"), MerkleRoot: testHash("m")}))

	assert.Equal(t, 2, store.PendingCount())

	// Completing the evicted assembly no longer commits it.
	require.NoError(t, store.OnStateRootComputed(StateRootComputedPayload{BlockHash: oldest, StateRoot: testHash("s")}))
	require.NoError(t, store.OnBlockValidated(BlockValidatedPayload{Block: validated(0, Hash{}), BlockHash: oldest}))
	_, err := store.ReadBlock(oldest)
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

func TestStoredBlockCodec_RoundTrip(t *testing.T) {
	block := StoredBlock{
		Block:      validated(7, testHash("p"), txHash(1)),
		Hash:       testHash("b"),
		MerkleRoot: testHash("m"),
		StateRoot:  testHash("s"),
		Checksum:   checksum(testHash("p"), 7, testHash("m"), testHash("s")),
		StoredAt:   time.Unix(1_700_000_000, 0).UTC(),
	}
	encoded, err := encodeStoredBlock(block)
	require.NoError(t, err)
	decoded, err := decodeStoredBlock(encoded)
	require.NoError(t, err)
	assert.Equal(t, block, decoded)
}
