//go:build !linux

package hostinfo

import "context"

func loadAverage() ([]float64, error) {
	return nil, ErrUnsupported
}

// GetMemoryInfo reports RAM and swap usage.
func GetMemoryInfo(ctx context.Context) (MemoryInfo, error) {
	return MemoryInfo{}, ErrUnsupported
}
