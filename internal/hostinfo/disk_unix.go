//go:build linux || darwin || freebsd

package hostinfo

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// GetDiskUsage reports capacity of the filesystem holding path.
func GetDiskUsage(ctx context.Context, path string) (DiskUsage, error) {
	if path == "" {
		path = "/"
	}
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return DiskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	total := uint64(st.Blocks) * bsize
	free := uint64(st.Bavail) * bsize
	used := total - uint64(st.Bfree)*bsize
	usage := DiskUsage{Path: path, Total: total, Free: free, Used: used}
	if used+free > 0 {
		usage.UsedPercent = float64(used) / float64(used+free) * 100
	}
	return usage, nil
}
