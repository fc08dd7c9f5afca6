// Package diskspace reports free space on the file system holding a path.
package diskspace

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// Checker reports the bytes available to unprivileged users on the file
// system containing path.
type Checker interface {
	Free(path string) (uint64, error)
}

// Disk queries the operating system.
type Disk struct{}

func (Disk) Free(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, fmt.Errorf("diskspace: usage of %s: %w", path, err)
	}
	return usage.Free, nil
}

// Fixed reports the same amount for every path. Useful when downloads go to
// an in-memory file system.
type Fixed uint64

func (f Fixed) Free(string) (uint64, error) { return uint64(f), nil }
