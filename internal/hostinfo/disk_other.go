//go:build !(linux || darwin || freebsd)

package hostinfo

import "context"

// GetDiskUsage reports capacity of the filesystem holding path.
func GetDiskUsage(ctx context.Context, path string) (DiskUsage, error) {
	return DiskUsage{}, ErrUnsupported
}
