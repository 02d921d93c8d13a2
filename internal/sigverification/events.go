package sigverification

import (
	"github.com/empower1/nodefabric/internal/ipc"
	"github.com/empower1/nodefabric/internal/mempool"
)

const (
	KindSubmitTransaction    ipc.Kind = "SubmitTransaction"
	KindTransactionVerified  ipc.Kind = "TransactionVerified"
	KindTransactionInvalid   ipc.Kind = "TransactionInvalid"
)

// SubmitTransactionPayload is the unicast request an ingestion path
// (API gateway, peer discovery's gossip relay) sends with an unverified
// transaction and its claimed signature.
type SubmitTransactionPayload struct {
	Hash      []byte
	Sender    []byte
	PublicKey []byte
	Signature []byte
	Nonce     uint64
	GasPrice  uint64
	GasLimit  uint64
	Timestamp int64
}

func (SubmitTransactionPayload) Kind() ipc.Kind { return KindSubmitTransaction }
func (SubmitTransactionPayload) Topic() ipc.Topic { return ipc.TopicSignatureVerification }

// TransactionVerifiedPayload satisfies mempool.TransactionVerifiedPayload:
// Mempool authorizes AddTransaction only from SignatureVerification, and
// this event carries signature_verified=true by construction.
type TransactionVerifiedPayload struct {
	Hash      []byte
	Sender    []byte
	Nonce     uint64
	GasPrice  uint64
	GasLimit  uint64
	Timestamp int64
}

func (TransactionVerifiedPayload) Kind() ipc.Kind { return KindTransactionVerified }
func (TransactionVerifiedPayload) Topic() ipc.Topic { return ipc.TopicSignatureVerification }

// VerifiedTransaction adapts this event to mempool.AddTransactionPayload.
func (p TransactionVerifiedPayload) VerifiedTransaction() mempool.AddTransactionPayload {
	return mempool.AddTransactionPayload{
		Hash:              p.Hash,
		Sender:            p.Sender,
		Nonce:             p.Nonce,
		GasPrice:          p.GasPrice,
		GasLimit:          p.GasLimit,
		Timestamp:         p.Timestamp,
		SignatureVerified: true,
	}
}

// TransactionInvalidPayload is published for observability when
// signature verification rejects a submission; nothing downstream
// currently subscribes to it.
type TransactionInvalidPayload struct {
	Hash   []byte
	Reason string
}

func (TransactionInvalidPayload) Kind() ipc.Kind { return KindTransactionInvalid }
func (TransactionInvalidPayload) Topic() ipc.Topic { return ipc.TopicSignatureVerification }

func init() {
	ipc.RegisterAuthorization(KindSubmitTransaction, ipc.SubsystemAPIGateway, ipc.SubsystemPeerDiscovery)
	ipc.RegisterAuthorization(KindTransactionVerified, ipc.SubsystemSignatureVerify)
	ipc.RegisterAuthorization(KindTransactionInvalid, ipc.SubsystemSignatureVerify)
}
