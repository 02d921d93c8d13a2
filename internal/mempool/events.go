package mempool

import "github.com/empower1/nodefabric/internal/ipc"

// Unicast request/response kinds owned by this package.
const (
	KindAddTransaction    ipc.Kind = "AddTransaction"
	KindGetTransactions   ipc.Kind = "GetTransactions"
	KindTransactionsReply ipc.Kind = "TransactionsReply"
	KindBlockRejected     ipc.Kind = "BlockRejected"
)

// AddTransactionPayload is the unicast request SignatureVerification(10)
// sends once a submitted transaction's signature has been checked.
// signature_verified must be true; the IPC matrix authorizes this
// message only from that sender, and AddTransaction rejects it unless
// the flag is set.
type AddTransactionPayload struct {
	Hash              []byte
	Sender            []byte
	Nonce             uint64
	GasPrice          uint64
	GasLimit          uint64
	Timestamp         int64
	SignatureVerified bool
}

func (AddTransactionPayload) Kind() ipc.Kind { return KindAddTransaction }
func (AddTransactionPayload) Topic() ipc.Topic { return ipc.TopicMempool }

// GetTransactionsPayload is Consensus(8)'s unicast request during block
// construction.
type GetTransactionsPayload struct {
	MaxCount uint64
	MaxGas   uint64
}

func (GetTransactionsPayload) Kind() ipc.Kind { return KindGetTransactions }
func (GetTransactionsPayload) Topic() ipc.Topic { return ipc.TopicMempool }

// TransactionsReplyPayload answers a GetTransactionsPayload request with
// the selected transaction hashes, in inclusion order.
type TransactionsReplyPayload struct {
	Hashes [][]byte
}

func (TransactionsReplyPayload) Kind() ipc.Kind { return KindTransactionsReply }
func (TransactionsReplyPayload) Topic() ipc.Topic { return ipc.TopicMempool }

// BlockRejectedPayload is the rollback trigger of the three-way
// Propose/Confirm/Rollback protocol: BlockStorage or Consensus
// sends this when a proposed block is rejected before it commits, moving
// every listed hash from PendingInclusion back to Pending.
type BlockRejectedPayload struct {
	BlockHeight  uint64
	Transactions [][]byte
}

func (BlockRejectedPayload) Kind() ipc.Kind { return KindBlockRejected }
func (BlockRejectedPayload) Topic() ipc.Topic { return ipc.TopicMempool }

func init() {
	ipc.RegisterAuthorization(KindAddTransaction, ipc.SubsystemSignatureVerify)
	ipc.RegisterAuthorization(KindGetTransactions, ipc.SubsystemConsensus)
	ipc.RegisterAuthorization(KindBlockRejected, ipc.SubsystemConsensus, ipc.SubsystemBlockStorage)
}
