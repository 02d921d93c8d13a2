package finality

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/nodefabric/internal/blockstorage"
	"github.com/empower1/nodefabric/internal/ipc"
)

func startFinality(t *testing.T, verifier AttestationVerifier, vsp ValidatorSetProvider) (*Subsystem, *Breaker, *ipc.Bus, *ipc.MasterKeyProvider, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Unix(1_700_000_000, 0))
	keys, err := ipc.NewMasterKeyProvider([]byte("finality-test-secret"))
	require.NoError(t, err)
	bus := ipc.NewBus()

	breaker := NewBreaker(DefaultConfig(), verifier, vsp, clk, nil)
	sub := NewSubsystem(breaker, bus, keys, clk, nil)

	ctx := context.Background()
	require.NoError(t, sub.Init(ctx))
	require.NoError(t, sub.Start(ctx))
	t.Cleanup(func() {
		sub.Stop(context.Background())
		bus.Shutdown()
	})
	return sub, breaker, bus, keys, clk
}

func submitAttestation(t *testing.T, bus *ipc.Bus, keys ipc.KeyProvider, clk clock.Clock, att Attestation) {
	t.Helper()
	payload := SubmitAttestationPayload{
		ValidatorID:     att.ValidatorID,
		Signature:       att.Signature,
		SourceEpoch:     att.SourceEpoch,
		SourceBlockHash: att.SourceBlockHash,
		TargetEpoch:     att.TargetEpoch,
		TargetBlockHash: att.TargetBlockHash,
		TargetHeight:    att.TargetHeight,
	}
	event, err := ipc.NewBusEvent(clk, keys, ipc.SubsystemConsensus, payload)
	require.NoError(t, err)
	require.Positive(t, bus.Publish(event))
}

func TestSubsystem_FinalizationEmitsMarkFinalized(t *testing.T) {
	_, _, bus, keys, clk := startFinality(t, acceptAllVerifier{}, threeValidators())

	requests := bus.Subscribe(ipc.NewFilter([]ipc.Topic{ipc.TopicFinality}, []ipc.SubsystemID{ipc.SubsystemFinality}), 16)

	target := blockHash("epoch5")
	submitAttestation(t, bus, keys, clk, attestation("v1", 5, target, 160))
	submitAttestation(t, bus, keys, clk, attestation("v2", 5, target, 160))
	submitAttestation(t, bus, keys, clk, attestation("v1", 6, blockHash("epoch6"), 192))
	submitAttestation(t, bus, keys, clk, attestation("v2", 6, blockHash("epoch6"), 192))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-requests.C():
			payload, ok := event.Payload.(blockstorage.MarkFinalizedPayload)
			if !ok {
				continue
			}
			assert.Equal(t, uint64(160), payload.BlockHeight)
			assert.Equal(t, target, payload.BlockHash)
			assert.Equal(t, ipc.SubsystemFinality, event.SenderID)
			assert.Equal(t, ipc.SubsystemBlockStorage, event.RecipientID)
			return
		case <-deadline:
			t.Fatal("no MarkFinalized request observed")
		}
	}
}

func TestSubsystem_UnauthorizedAttestationIsDropped(t *testing.T) {
	_, breaker, bus, keys, clk := startFinality(t, acceptAllVerifier{}, threeValidators())

	payload := SubmitAttestationPayload{ValidatorID: valID("v1"), TargetEpoch: 5,
		TargetBlockHash: blockHash("x"), TargetHeight: 160}
	// Mempool is not in SubmitAttestation's allowed-sender set.
	event, err := ipc.NewBusEvent(clk, keys, ipc.SubsystemMempool, payload)
	require.NoError(t, err)
	bus.Publish(event)

	assert.Never(t, func() bool {
		breaker.mu.Lock()
		defer breaker.mu.Unlock()
		return len(breaker.checkpoints) != 0
	}, 300*time.Millisecond, 20*time.Millisecond)
}

func TestSubsystem_SyncFailureEventsHaltCircuit(t *testing.T) {
	_, breaker, bus, keys, clk := startFinality(t, acceptAllVerifier{}, threeValidators())

	states := bus.Subscribe(ipc.NewFilter([]ipc.Topic{ipc.TopicFinality}, []ipc.SubsystemID{ipc.SubsystemFinality}), 16)

	for i := 0; i < 3; i++ {
		event, err := ipc.NewBusEvent(clk, keys, ipc.SubsystemPeerDiscovery, SyncFailedPayload{Reason: "peer timeout"})
		require.NoError(t, err)
		bus.Publish(event)
	}

	require.Eventually(t, func() bool {
		return breaker.State() == StateHaltedAwaitingIntervention
	}, 2*time.Second, 10*time.Millisecond)

	// The transitions were announced on the bus.
	var observed []CircuitState
	deadline := time.After(time.Second)
	for len(observed) < 2 {
		select {
		case event := <-states.C():
			if change, ok := event.Payload.(CircuitStateChangedPayload); ok {
				observed = append(observed, change.Current)
			}
		case <-deadline:
			t.Fatalf("expected two state changes, saw %v", observed)
		}
	}
	assert.Equal(t, []CircuitState{StateDegraded, StateHaltedAwaitingIntervention}, observed)

	err := breaker.ProcessAttestation(attestation("v1", 1, blockHash("x"), 32))
	assert.ErrorIs(t, err, ErrSystemHalted)

	breaker.ResetFromHalted()
	assert.Equal(t, StateRunning, breaker.State())
}
