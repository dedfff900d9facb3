// Package filesystem guards disk capacity before workers spawn
// subprocesses that write large artifacts.
package filesystem

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// DefaultReserve is the free space a volume must keep before a worker
// is allowed to start writing to it.
const DefaultReserve = 512 * 1024 * 1024

// EnsureFreeSpace verifies the volume holding dir has at least reserve
// bytes free.
func EnsureFreeSpace(dir string, reserve uint64) error {
	usage, err := disk.Usage(dir)
	if err != nil {
		return fmt.Errorf("failed to check disk space: %w", err)
	}
	if usage.Free < reserve {
		return fmt.Errorf("disk full: required %d bytes, available %d bytes", reserve, usage.Free)
	}
	return nil
}
