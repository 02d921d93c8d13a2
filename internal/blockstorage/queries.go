package blockstorage

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/empower1/nodefabric/internal/ipc"
)

// Query methods this subsystem answers on behalf of the API gateway.
const (
	queryLatestHeight    = "storage_latestHeight"
	queryFinalizedHeight = "storage_finalizedHeight"
	queryBlockByHeight   = "storage_blockByHeight"
)

type heightParams struct {
	Height uint64 `json:"height"`
}

type heightResult struct {
	Height uint64 `json:"height"`
	Known  bool   `json:"known"`
}

type blockResult struct {
	Hash         string `json:"hash"`
	Height       uint64 `json:"height"`
	ParentHash   string `json:"parentHash"`
	MerkleRoot   string `json:"merkleRoot"`
	StateRoot    string `json:"stateRoot"`
	Transactions int    `json:"transactions"`
}

// handleQuery answers an authenticated ApiQuery with an
// ApiQueryResponse carrying the request's correlation id verbatim.
func (s *Subsystem) handleQuery(event ipc.Event, query ipc.ApiQueryPayload) {
	response := s.answer(query)
	out, err := ipc.SealReply(s.store.clock, s.store.keys, ipc.SubsystemBlockStorage,
		event.SenderID, event.CorrelationID, ipc.EventPayload(response))
	if err != nil {
		s.log.Error("failed to seal query response", zap.Error(err))
		return
	}
	s.bus.Publish(out)
}

func (s *Subsystem) answer(query ipc.ApiQueryPayload) ipc.ApiQueryResponsePayload {
	switch query.Method {
	case queryLatestHeight:
		height, ok := s.store.LatestHeight()
		return resultOf(heightResult{Height: height, Known: ok})
	case queryFinalizedHeight:
		height, ok := s.store.FinalizedHeight()
		return resultOf(heightResult{Height: height, Known: ok})
	case queryBlockByHeight:
		var params heightParams
		if err := json.Unmarshal(query.Params, &params); err != nil {
			return errorOf(ipc.QueryCodeInvalidParams, "params must be {\"height\": n}")
		}
		stored, err := s.store.ReadBlockByHeight(params.Height)
		if errors.Is(err, ErrHeightNotFound) {
			return errorOf(ipc.QueryCodeInvalidParams, fmt.Sprintf("no block at height %d", params.Height))
		}
		if err != nil {
			return errorOf(ipc.QueryCodeInternal, err.Error())
		}
		return resultOf(blockResult{
			Hash:         fmt.Sprintf("%x", stored.Hash),
			Height:       stored.Block.Header.Height,
			ParentHash:   fmt.Sprintf("%x", stored.Block.Header.ParentHash),
			MerkleRoot:   fmt.Sprintf("%x", stored.MerkleRoot),
			StateRoot:    fmt.Sprintf("%x", stored.StateRoot),
			Transactions: len(stored.Block.Transactions),
		})
	default:
		return errorOf(ipc.QueryCodeMethodNotFound, fmt.Sprintf("unknown method %q", query.Method))
	}
}

func resultOf(v any) ipc.ApiQueryResponsePayload {
	encoded, err := json.Marshal(v)
	if err != nil {
		return errorOf(ipc.QueryCodeInternal, err.Error())
	}
	return ipc.ApiQueryResponsePayload{Result: encoded}
}

func errorOf(code int, message string) ipc.ApiQueryResponsePayload {
	return ipc.ApiQueryResponsePayload{Error: &ipc.QueryError{Code: code, Message: message}}
}
