// Package ipc implements the authenticated inter-subsystem envelope, the
// in-process publish/subscribe event bus, and the security module that
// validates every message crossing a subsystem boundary. It is the
// canonical "shared_types::security" equivalent: subsystem-local code
// calls into this package rather than re-implementing validation.
package ipc

// SubsystemID identifies one of the node's numbered subsystems. Identity in
// the fabric is exclusively this field — payload-level claims of identity
// are never authoritative.
type SubsystemID uint8

const (
	SubsystemPeerDiscovery       SubsystemID = 1
	SubsystemBlockStorage        SubsystemID = 2
	SubsystemTransactionIndexing SubsystemID = 3
	SubsystemStateManagement     SubsystemID = 4
	SubsystemSmartContracts      SubsystemID = 5
	SubsystemMempool             SubsystemID = 6
	SubsystemBloomFilters        SubsystemID = 7
	SubsystemConsensus           SubsystemID = 8
	SubsystemFinality            SubsystemID = 9
	SubsystemSignatureVerify     SubsystemID = 10
	SubsystemEVMExecution        SubsystemID = 11
	SubsystemTransactionOrdering SubsystemID = 12
	SubsystemGasMetering         SubsystemID = 13
	SubsystemWallet              SubsystemID = 14
	SubsystemTelemetry           SubsystemID = 15
	SubsystemAPIGateway          SubsystemID = 16
	SubsystemBlockProduction     SubsystemID = 17
)

var subsystemNames = map[SubsystemID]string{
	SubsystemPeerDiscovery:       "peer-discovery",
	SubsystemBlockStorage:        "block-storage",
	SubsystemTransactionIndexing: "transaction-indexing",
	SubsystemStateManagement:     "state-management",
	SubsystemSmartContracts:      "smart-contracts",
	SubsystemMempool:             "mempool",
	SubsystemBloomFilters:        "bloom-filters",
	SubsystemConsensus:           "consensus",
	SubsystemFinality:            "finality",
	SubsystemSignatureVerify:     "signature-verification",
	SubsystemEVMExecution:        "evm-execution",
	SubsystemTransactionOrdering: "transaction-ordering",
	SubsystemGasMetering:         "gas-metering",
	SubsystemWallet:              "wallet",
	SubsystemTelemetry:           "telemetry",
	SubsystemAPIGateway:          "api-gateway",
	SubsystemBlockProduction:     "block-production",
}

// String returns the canonical name for id, or "subsystem-unknown" for an
// id outside the fixed registry.
func (id SubsystemID) String() string {
	if name, ok := subsystemNames[id]; ok {
		return name
	}
	return "subsystem-unknown"
}
