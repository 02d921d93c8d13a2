package blockstorage

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/nodefabric/internal/ipc"
	"github.com/empower1/nodefabric/internal/storage/memstore"
)

func startSubsystem(t *testing.T) (*Subsystem, *Store, *ipc.Bus, *ipc.MasterKeyProvider, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	keys, err := ipc.NewMasterKeyProvider([]byte("handlers-test-secret"))
	require.NoError(t, err)
	bus := ipc.NewBus()

	store, err := NewStore(DefaultConfig(), memstore.New(), FixedDiskStatter(50), clk, nil, bus, keys)
	require.NoError(t, err)
	sub := NewSubsystem(store, bus, nil)

	ctx := context.Background()
	require.NoError(t, sub.Init(ctx))
	require.NoError(t, sub.Start(ctx))
	t.Cleanup(func() {
		sub.Stop(context.Background())
		bus.Shutdown()
	})
	return sub, store, bus, keys, clk
}

func publishAs(t *testing.T, bus *ipc.Bus, keys ipc.KeyProvider, clk clock.Clock, source ipc.SubsystemID, payload ipc.EventPayload) {
	t.Helper()
	event, err := ipc.NewBusEvent(clk, keys, source, payload)
	require.NoError(t, err)
	require.Positive(t, bus.Publish(event))
}

func TestSubsystem_ChoreographyOverBus(t *testing.T) {
	_, store, bus, keys, clk := startSubsystem(t)

	hash := testHash("bus-block")
	merkleRoot := testHash("bus-merkle")
	stateRoot := testHash("bus-state")

	// Reverse order, each from its authorized producer.
	publishAs(t, bus, keys, clk, ipc.SubsystemStateManagement,
		StateRootComputedPayload{BlockHash: hash, StateRoot: stateRoot})
	publishAs(t, bus, keys, clk, ipc.SubsystemTransactionIndexing,
		MerkleRootComputedPayload{BlockHash: hash, MerkleRoot: merkleRoot})
	publishAs(t, bus, keys, clk, ipc.SubsystemConsensus,
		BlockValidatedPayload{Block: validated(0, Hash{}, txHash(1)), BlockHash: hash, BlockHeight: 0})

	require.Eventually(t, func() bool {
		_, err := store.ReadBlock(hash)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := store.ReadBlockByHeight(0)
	require.NoError(t, err)
	assert.Equal(t, merkleRoot, stored.MerkleRoot)
	assert.Equal(t, stateRoot, stored.StateRoot)
}

func TestSubsystem_WrongSenderIsDropped(t *testing.T) {
	_, store, bus, keys, clk := startSubsystem(t)

	hash := testHash("spoofed")
	// Consensus has no business publishing MerkleRootComputed; the
	// authorization matrix only admits TransactionIndexing.
	publishAs(t, bus, keys, clk, ipc.SubsystemConsensus,
		MerkleRootComputedPayload{BlockHash: hash, MerkleRoot: testHash("m")})

	assert.Never(t, func() bool {
		return store.PendingCount() != 0
	}, 300*time.Millisecond, 20*time.Millisecond, "the spoofed event must not touch the assembler")
}

func TestSubsystem_AnswersApiQueries(t *testing.T) {
	_, store, bus, keys, clk := startSubsystem(t)

	responses := bus.Subscribe(ipc.NewFilter([]ipc.Topic{ipc.TopicAPIGateway}, []ipc.SubsystemID{ipc.SubsystemBlockStorage}), 8)

	require.NoError(t, commitBlock(t, store, testHash("queried"), validated(0, Hash{}, txHash(1)),
		testHash("m"), testHash("s"), "block", "merkle", "state"))

	query, err := ipc.Seal(clk, keys, ipc.SubsystemAPIGateway, ipc.SubsystemBlockStorage, nil,
		ipc.EventPayload(ipc.ApiQueryPayload{Method: "storage_latestHeight"}))
	require.NoError(t, err)
	require.Positive(t, bus.Publish(query))

	var response ipc.Event
	select {
	case response = <-responses.C():
	case <-time.After(2 * time.Second):
		t.Fatal("no query response")
	}
	payload, ok := response.Payload.(ipc.ApiQueryResponsePayload)
	require.True(t, ok)
	require.Nil(t, payload.Error)
	assert.JSONEq(t, `{"height":0,"known":true}`, string(payload.Result))
	assert.Equal(t, query.CorrelationID, response.CorrelationID, "responses echo the request's correlation id")

	// Unknown methods come back as JSON-RPC-shaped method-not-found.
	bad, err := ipc.Seal(clk, keys, ipc.SubsystemAPIGateway, ipc.SubsystemBlockStorage, nil,
		ipc.EventPayload(ipc.ApiQueryPayload{Method: "storage_noSuchThing"}))
	require.NoError(t, err)
	bus.Publish(bad)

	select {
	case response = <-responses.C():
	case <-time.After(2 * time.Second):
		t.Fatal("no error response")
	}
	payload, ok = response.Payload.(ipc.ApiQueryResponsePayload)
	require.True(t, ok)
	require.NotNil(t, payload.Error)
	assert.Equal(t, ipc.QueryCodeMethodNotFound, payload.Error.Code)
}

func TestSubsystem_MarkFinalizedOnlyFromFinality(t *testing.T) {
	_, store, bus, keys, clk := startSubsystem(t)

	publishAs(t, bus, keys, clk, ipc.SubsystemFinality,
		MarkFinalizedPayload{BlockHeight: 9})
	require.Eventually(t, func() bool {
		height, ok := store.FinalizedHeight()
		return ok && height == 9
	}, 2*time.Second, 10*time.Millisecond)

	// A spoofed MarkFinalized from Consensus is dropped.
	publishAs(t, bus, keys, clk, ipc.SubsystemConsensus,
		MarkFinalizedPayload{BlockHeight: 50})
	assert.Never(t, func() bool {
		height, _ := store.FinalizedHeight()
		return height == 50
	}, 300*time.Millisecond, 20*time.Millisecond)
}
