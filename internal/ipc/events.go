package ipc

import "github.com/benbjohnson/clock"

// Kind discriminates an Event's payload variant (BlockValidated,
// MerkleRootComputed, ...). Each owning subsystem package declares its own
// Kind constants; the type lives here so the bus can filter without
// importing every subsystem.
type Kind string

// Topic groups events by the subsystem area that produced them. A
// subscription filter matches on Topic and, optionally, the exact
// producing SubsystemID.
type Topic string

const (
	TopicPeerDiscovery         Topic = "peer-discovery"
	TopicBlockStorage          Topic = "block-storage"
	TopicTransactionIndexing   Topic = "transaction-indexing"
	TopicStateManagement       Topic = "state-management"
	TopicMempool               Topic = "mempool"
	TopicConsensus             Topic = "consensus"
	TopicFinality              Topic = "finality"
	TopicSignatureVerification Topic = "signature-verification"
	TopicAPIGateway            Topic = "api-gateway"
)

// BroadcastRecipient is the sentinel RecipientID used by envelopes
// multicast over the bus, since no real SubsystemID is zero. Unicast
// envelopes (command/response pairs routed to exactly one subsystem) use
// the recipient's real id and are checked against it.
const BroadcastRecipient SubsystemID = 0

// EventPayload is implemented by every event variant's payload type.
// Kind and Topic are fixed per variant, not per instance: a variant
// always maps to one topic, and subscribers rely on that.
type EventPayload interface {
	Kind() Kind
	Topic() Topic
}

// Event is the authenticated envelope multicast over the bus. Its Header
// carries the producing SubsystemID as SenderID and uses BroadcastRecipient
// so every matching subscriber's Validator accepts it.
type Event = Envelope[EventPayload]

// NewBusEvent seals a new bus event from source, signed with the
// producer's key. clk supplies the timestamp so tests can control it.
func NewBusEvent(clk clock.Clock, keys KeyProvider, source SubsystemID, payload EventPayload) (Event, error) {
	return Seal(clk, keys, source, BroadcastRecipient, nil, payload)
}

// Query kinds exchanged between the API gateway adapter and the
// subsystems that answer on its behalf.
const (
	KindApiQuery         Kind = "ApiQuery"
	KindApiQueryResponse Kind = "ApiQueryResponse"
)

// JSON-RPC-shaped error codes carried in ApiQueryResponse payloads.
const (
	QueryCodeMethodNotFound       = -32601
	QueryCodeInvalidParams        = -32602
	QueryCodeInternal             = -32603
	QueryCodeSubsystemUnavailable = -32000
)

// QueryError is the JSON-RPC-shaped error object a failed query
// serializes into its response payload.
type QueryError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ApiQueryPayload is the gateway's unicast request: a method name and
// opaque JSON-encoded params. The response echoes the request
// envelope's correlation id verbatim.
type ApiQueryPayload struct {
	Method string
	Params []byte
}

func (ApiQueryPayload) Kind() Kind   { return KindApiQuery }
func (ApiQueryPayload) Topic() Topic { return TopicAPIGateway }

// ApiQueryResponsePayload carries either a JSON-encoded result or a
// QueryError, never both.
type ApiQueryResponsePayload struct {
	Result []byte
	Error  *QueryError
}

func (ApiQueryResponsePayload) Kind() Kind   { return KindApiQueryResponse }
func (ApiQueryResponsePayload) Topic() Topic { return TopicAPIGateway }

func init() {
	RegisterAuthorization(KindApiQuery, SubsystemAPIGateway)
}
