package blockstorage

import "golang.org/x/sys/unix"

// DiskStatter reports the percentage of disk space still available at
// path. Writes abort when it falls below the configured floor.
type DiskStatter interface {
	AvailablePercent(path string) (float64, error)
}

// UnixDiskStatter reads real filesystem statistics via statfs(2).
type UnixDiskStatter struct{}

// AvailablePercent implements DiskStatter via statfs, through
// golang.org/x/sys/unix rather than the frozen syscall package.
func (UnixDiskStatter) AvailablePercent(path string) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	if stat.Blocks == 0 {
		return 0, nil
	}
	return float64(stat.Bavail) / float64(stat.Blocks) * 100, nil
}

// FixedDiskStatter is a test double reporting a constant percentage.
type FixedDiskStatter float64

func (f FixedDiskStatter) AvailablePercent(string) (float64, error) {
	return float64(f), nil
}
