package blockstorage_test

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/nodefabric/internal/blockstorage"
	"github.com/empower1/nodefabric/internal/collab/mempoolgw"
	"github.com/empower1/nodefabric/internal/collab/sigverify"
	"github.com/empower1/nodefabric/internal/consensus"
	"github.com/empower1/nodefabric/internal/ipc"
	"github.com/empower1/nodefabric/internal/mempool"
	"github.com/empower1/nodefabric/internal/registry"
	"github.com/empower1/nodefabric/internal/sigverification"
	"github.com/empower1/nodefabric/internal/statemgmt"
	"github.com/empower1/nodefabric/internal/storage/memstore"
	"github.com/empower1/nodefabric/internal/txindex"
)

// TestPipeline_TransactionToStoredBlock drives the full choreography
// over the real bus: a signed transaction enters through signature
// verification, consensus assembles a block from the pool, indexing and
// state management race block storage with their roots, and the commit
// confirms the transaction out of the mempool.
func TestPipeline_TransactionToStoredBlock(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	keys, err := ipc.NewMasterKeyProvider([]byte("pipeline-test-secret"))
	require.NoError(t, err)
	bus := ipc.NewBus()

	store, err := blockstorage.NewStore(blockstorage.DefaultConfig(), memstore.New(),
		blockstorage.FixedDiskStatter(50), clk, nil, bus, keys)
	require.NoError(t, err)

	pool := mempool.New(mempool.DefaultConfig(), clk, nil, bus, keys)
	index := txindex.New(txindex.DefaultConfig(), nil)
	states := statemgmt.New()
	verifier := sigverify.New()
	validator := consensus.New(consensus.DefaultConfig(), store, mempoolgw.New(pool), nil)
	consensusSub := consensus.NewSubsystem(validator, bus, keys, clk, nil)

	reg := registry.New(nil)
	for _, desc := range []registry.Descriptor{
		{ID: ipc.SubsystemBlockStorage, Enabled: true, IsCore: true,
			Subsystem: blockstorage.NewSubsystem(store, bus, nil)},
		{ID: ipc.SubsystemTransactionIndexing, Enabled: true, IsCore: true,
			Subsystem: txindex.NewSubsystem(index, bus, keys, clk, nil)},
		{ID: ipc.SubsystemStateManagement, Enabled: true, IsCore: true,
			Subsystem: statemgmt.NewSubsystem(states, bus, keys, clk, nil)},
		{ID: ipc.SubsystemMempool, Enabled: true, IsCore: true,
			Subsystem: mempool.NewSubsystem(pool, bus, keys, nil)},
		{ID: ipc.SubsystemSignatureVerify, Enabled: true, IsCore: true,
			Subsystem: sigverification.NewSubsystem(verifier, bus, keys, clk, nil)},
		{ID: ipc.SubsystemConsensus, Enabled: true, IsCore: true,
			Dependencies: []ipc.SubsystemID{ipc.SubsystemBlockStorage, ipc.SubsystemMempool},
			Subsystem:    consensusSub},
	} {
		require.NoError(t, reg.Register(desc))
	}

	ctx := context.Background()
	require.NoError(t, reg.InitAll(ctx))
	require.NoError(t, reg.StartAll(ctx))
	require.True(t, reg.Healthy())
	t.Cleanup(func() {
		reg.StopAll(context.Background())
		bus.Shutdown()
	})

	// Submit a genuinely signed transaction as the API gateway would.
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	sender := priv.PubKey().SerializeCompressed()
	txPayload := sigverification.SubmitTransactionPayload{
		Sender:    sender,
		PublicKey: sender,
		Nonce:     0,
		GasPrice:  10,
		GasLimit:  21_000,
		Timestamp: clk.Now().Unix(),
	}
	txHash := sha256.Sum256(append([]byte("pipeline-tx-"), sender...))
	txPayload.Hash = txHash[:]
	digest := sigverify.Hash256(sigverification.SigningBytes(txPayload))
	txPayload.Signature = secpecdsa.SignCompact(priv, digest[:], true)

	event, err := ipc.NewBusEvent(clk, keys, ipc.SubsystemAPIGateway, txPayload)
	require.NoError(t, err)
	require.Positive(t, bus.Publish(event))

	require.Eventually(t, func() bool { return pool.Len() == 1 },
		2*time.Second, 10*time.Millisecond, "verified transaction reaches the pool")

	blockHash := blockstorage.Hash(sha256.Sum256([]byte("pipeline-block-0")))
	require.NoError(t, consensusSub.ProposeBlock(0, blockstorage.Hash{}, blockHash,
		clk.Now().Unix(), sender, nil, true))

	require.Eventually(t, func() bool {
		_, err := store.ReadBlock(blockHash)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "all three choreography inputs arrive and commit")

	stored, err := store.ReadBlockByHeight(0)
	require.NoError(t, err)
	assert.Equal(t, blockHash, stored.Hash)
	require.Len(t, stored.Block.Transactions, 1)
	assert.Equal(t, txHash[:], stored.Block.Transactions[0])

	// The merkle root matches an independent rebuild over the same leaves.
	expectedRoot := txindex.Build([]txindex.Hash{txHash}).Root()
	assert.Equal(t, expectedRoot, stored.MerkleRoot)

	stateRoot, ok := states.RootAt(0)
	require.True(t, ok)
	assert.Equal(t, stateRoot, stored.StateRoot)

	loc, err := store.LookupTransaction(txHash[:])
	require.NoError(t, err)
	assert.Equal(t, uint64(0), loc.BlockHeight)

	// The storage confirmation drained the proposed transaction.
	require.Eventually(t, func() bool { return pool.Len() == 0 },
		2*time.Second, 10*time.Millisecond, "confirmation removes the transaction for good")
}
