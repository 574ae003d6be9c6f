//go:build linux

package hostinfo

import (
	"context"

	"golang.org/x/sys/unix"
)

// Fixed-point shift of the kernel load averages.
const loadShift = 1 << 16

func loadAverage() ([]float64, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return nil, err
	}
	return []float64{
		float64(si.Loads[0]) / loadShift,
		float64(si.Loads[1]) / loadShift,
		float64(si.Loads[2]) / loadShift,
	}, nil
}

// GetMemoryInfo reports RAM and swap usage.
func GetMemoryInfo(ctx context.Context) (MemoryInfo, error) {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return MemoryInfo{}, err
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(si.Totalram) * unit
	free := (uint64(si.Freeram) + uint64(si.Bufferram)) * unit
	return MemoryInfo{
		Total:     total,
		Free:      free,
		Used:      total - free,
		SwapTotal: uint64(si.Totalswap) * unit,
		SwapFree:  uint64(si.Freeswap) * unit,
	}, nil
}
