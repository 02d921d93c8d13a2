package consensus

import "errors"

// Consensus error taxonomy, limited to this reference validator's reduced
// scope (structural block validation, not full PoS proposer
// selection/attestation aggregation). ErrInvalidHeight is declared but
// not returned: AssembleBlock derives the height from parentHeight itself.
var (
	ErrUnknownParent      = errors.New("consensus: parent block not found")
	ErrInvalidHeight      = errors.New("consensus: height is not parent height + 1")
	ErrFutureTimestamp    = errors.New("consensus: block timestamp too far in the future")
	ErrInvalidTimestamp   = errors.New("consensus: block timestamp does not exceed parent timestamp")
	ErrGasLimitExceeded   = errors.New("consensus: block gas used exceeds its gas limit")
	ErrTooManyTransactions = errors.New("consensus: transaction count exceeds configured maximum")
	ErrAlreadyValidated   = errors.New("consensus: block hash already validated")
)
