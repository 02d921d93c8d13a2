package finality

import "github.com/empower1/nodefabric/internal/ipc"

// SubmitAttestationPayload is the unicast request an external attestation
// gossip/aggregation component sends into this subsystem. Attestation
// networking itself is out of scope; this fabric trusts its caller to
// have already aggregated votes and re-verifies every signature anyway.
type SubmitAttestationPayload struct {
	ValidatorID     ValidatorID
	Signature       []byte
	SourceEpoch     uint64
	SourceBlockHash Hash
	TargetEpoch     uint64
	TargetBlockHash Hash
	TargetHeight    uint64
}

func (SubmitAttestationPayload) Kind() ipc.Kind { return KindSubmitAttestation }
func (SubmitAttestationPayload) Topic() ipc.Topic { return ipc.TopicFinality }

// CircuitStateChangedPayload is published whenever the breaker's state
// transitions, so operators and dashboards can observe Degraded/Halted
// without polling.
type CircuitStateChangedPayload struct {
	Previous CircuitState
	Current  CircuitState
}

func (CircuitStateChangedPayload) Kind() ipc.Kind { return KindCircuitStateChanged }
func (CircuitStateChangedPayload) Topic() ipc.Topic { return ipc.TopicFinality }

// SyncFailedPayload reports a failed chain-sync attempt from the peer
// sync layer; MaxSyncFailures consecutive reports drive the breaker into
// HaltedAwaitingIntervention.
type SyncFailedPayload struct {
	Reason string
}

func (SyncFailedPayload) Kind() ipc.Kind { return KindSyncFailed }
func (SyncFailedPayload) Topic() ipc.Topic { return ipc.TopicFinality }

// SyncRecoveredPayload clears the failure streak; a breaker that was only
// Degraded returns to Running, a halted one stays halted.
type SyncRecoveredPayload struct{}

func (SyncRecoveredPayload) Kind() ipc.Kind { return KindSyncRecovered }
func (SyncRecoveredPayload) Topic() ipc.Topic { return ipc.TopicFinality }

const (
	KindSubmitAttestation   ipc.Kind = "SubmitAttestation"
	KindCircuitStateChanged ipc.Kind = "CircuitStateChanged"
	KindSyncFailed          ipc.Kind = "SyncFailed"
	KindSyncRecovered       ipc.Kind = "SyncRecovered"
)

func init() {
	ipc.RegisterAuthorization(KindSubmitAttestation, ipc.SubsystemPeerDiscovery, ipc.SubsystemConsensus)
	ipc.RegisterAuthorization(KindSyncFailed, ipc.SubsystemPeerDiscovery, ipc.SubsystemConsensus)
	ipc.RegisterAuthorization(KindSyncRecovered, ipc.SubsystemPeerDiscovery, ipc.SubsystemConsensus)
}
