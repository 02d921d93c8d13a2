package mempool

import "time"

// Config tunes the pool's admission, pricing, and timeout thresholds.
// There is no file/flag loader here; callers populate Config
// programmatically.
type Config struct {
	Capacity                int
	MaxPerSender            int
	MinGasPrice             uint64
	MaxGasLimit             uint64
	RBFEnabled              bool
	RBFMinBumpPercent       uint64
	PendingInclusionTimeout time.Duration
	MaxTimestampPast        time.Duration
	MaxTimestampFuture      time.Duration
	ReplayWindow            time.Duration
	ReplayWindowCeiling     int
}

// DefaultConfig returns conservative defaults. MaxTimestampFuture matches
// the ipc package's 10s future skew; MaxTimestampPast (5 minutes) is
// wider than the ipc package's 60s envelope window.
func DefaultConfig() Config {
	return Config{
		Capacity:                8192,
		MaxPerSender:            64,
		MinGasPrice:             1,
		MaxGasLimit:             10_000_000,
		RBFEnabled:              true,
		RBFMinBumpPercent:       10,
		PendingInclusionTimeout: 12 * time.Second,
		MaxTimestampPast:        5 * time.Minute,
		MaxTimestampFuture:      10 * time.Second,
		ReplayWindow:            10 * time.Minute,
		ReplayWindowCeiling:     50_000,
	}
}
