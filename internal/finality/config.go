package finality

import "time"

// Config tunes the circuit breaker's thresholds. There is no file/flag
// loader here; callers populate Config programmatically.
type Config struct {
	// JustificationThresholdPercent is the attested-stake percentage of
	// total stake a checkpoint needs to become Justified.
	JustificationThresholdPercent uint64
	// InactivityLeakEpochs is how many consecutive epochs without a new
	// finalization before the inactivity-leak condition is raised.
	InactivityLeakEpochs uint64
	// MaxSyncFailures is the number of consecutive SyncFailed events that
	// drives the breaker from Degraded to HaltedAwaitingIntervention.
	MaxSyncFailures int
	// AttestationHistoryCeiling bounds the per-validator attestation
	// history retained for slashing detection.
	AttestationHistoryCeiling int
	// EpochLength is the number of block heights per epoch, used to
	// resolve a block height's epoch boundary.
	EpochLength uint64
	// AttestationMaxAge is carried in the configuration only: Breaker does
	// not read it, and attestations are not filtered by age.
	AttestationMaxAge time.Duration
}

// DefaultConfig returns Casper-FFG-style defaults: a 2/3 supermajority
// threshold, a 32-height epoch, and a three-strike sync failure halt.
func DefaultConfig() Config {
	return Config{
		JustificationThresholdPercent: 67,
		InactivityLeakEpochs:          4,
		MaxSyncFailures:               3,
		AttestationHistoryCeiling:     64,
		EpochLength:                   32,
		AttestationMaxAge:             10 * time.Minute,
	}
}
