package mempool

import "errors"

// Error taxonomy.
var (
	ErrDuplicateTransaction        = errors.New("mempool: duplicate transaction")
	ErrGasPriceTooLow              = errors.New("mempool: gas price below configured minimum")
	ErrGasLimitTooHigh             = errors.New("mempool: gas limit exceeds configured maximum")
	ErrAccountLimitReached         = errors.New("mempool: sender's queue is at its configured maximum")
	ErrPoolFull                    = errors.New("mempool: pool at capacity")
	ErrRbfDisabled                 = errors.New("mempool: replace-by-fee is disabled")
	ErrInsufficientFeeBump         = errors.New("mempool: replacement gas price does not meet the minimum bump")
	ErrTransactionPendingInclusion = errors.New("mempool: transaction is pending inclusion and cannot be replaced")
	ErrSignatureNotVerified        = errors.New("mempool: transaction has not been signature-verified")
	ErrReplayDetected              = errors.New("mempool: transaction was already confirmed")
	ErrTimestampTooOld             = errors.New("mempool: transaction timestamp too far in the past")
	ErrTimestampTooFuture          = errors.New("mempool: transaction timestamp too far in the future")
	ErrUnknownTransaction          = errors.New("mempool: no such transaction")
)
