package txindex

import "errors"

// Error taxonomy for the Merkle Indexing Engine.
var (
	ErrEmptyBlock    = errors.New("txindex: block has no transactions")
	ErrInvalidIndex  = errors.New("txindex: transaction index out of range")
	ErrTreeNotCached = errors.New("txindex: no cached tree for block hash")
)
