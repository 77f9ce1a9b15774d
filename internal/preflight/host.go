package preflight

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"
)

var virtualMemory = mem.VirtualMemoryWithContext

// HostMemory is a point-in-time memory sample.
type HostMemory struct {
	Total       uint64
	Available   uint64
	UsedPercent float64
}

// SampleMemory reads host memory usage.
func SampleMemory(ctx context.Context) (HostMemory, error) {
	vm, err := virtualMemory(ctx)
	if err != nil {
		return HostMemory{}, fmt.Errorf("read memory: %w", err)
	}
	return HostMemory{Total: vm.Total, Available: vm.Available, UsedPercent: vm.UsedPercent}, nil
}
