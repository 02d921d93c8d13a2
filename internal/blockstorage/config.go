package blockstorage

import "time"

// Config tunes the store's resource ceilings and thresholds. There is
// no file/flag loader here — CLI/config loading is an external
// collaborator; callers populate Config programmatically.
type Config struct {
	// MaxPendingAssemblies bounds the assembly buffer.
	MaxPendingAssemblies int
	// AssemblyTimeout is how long an incomplete assembly may sit before
	// the GC purges it.
	AssemblyTimeout time.Duration
	// MaxBlockSize bounds a block's serialized size.
	MaxBlockSize int
	// DiskFloorPercent is the minimum available-disk percentage a write
	// requires.
	DiskFloorPercent float64
	// DataDir is the filesystem path DiskStatter checks.
	DataDir string
	// RangeReadCap bounds ReadRange regardless of the caller's limit.
	RangeReadCap int
}

// DefaultConfig returns the defaults: a 30s assembly timeout and a
// 100-block range-read cap.
func DefaultConfig() Config {
	return Config{
		MaxPendingAssemblies: 1024,
		AssemblyTimeout:      30 * time.Second,
		MaxBlockSize:         4 << 20, // 4 MiB
		DiskFloorPercent:     5.0,
		DataDir:              ".",
		RangeReadCap:         100,
	}
}
