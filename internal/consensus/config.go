package consensus

import "time"

// Config tunes this reference validator's structural checks.
type Config struct {
	// MaxClockDrift bounds how far a block's timestamp may sit in the
	// future relative to the local clock.
	MaxClockDrift time.Duration
	// MaxTransactionsPerBlock bounds block_body.len().
	MaxTransactionsPerBlock int
	// MaxGasPerBlock is the hard ceiling GetTransactionsForBlock is asked
	// to respect when assembling a candidate block.
	MaxGasPerBlock uint64
}

// DefaultConfig returns conservative defaults for the reference validator.
func DefaultConfig() Config {
	return Config{
		MaxClockDrift:           10 * time.Second,
		MaxTransactionsPerBlock: 5000,
		MaxGasPerBlock:          30_000_000,
	}
}
