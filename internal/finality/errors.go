package finality

import "errors"

// Error taxonomy.
var (
	ErrSystemHalted           = errors.New("finality: circuit breaker is halted")
	ErrConflictingAttestation = errors.New("finality: attestation conflicts with a prior vote by this validator")
	ErrUnknownValidator       = errors.New("finality: validator not in active set for this epoch")
	ErrInvalidSignature       = errors.New("finality: attestation signature failed re-verification")
)
