package engine

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics is a point-in-time host resource snapshot, attached to the
// engine's periodic idle log line.
type SystemMetrics struct {
	MemoryUsedGB  float64
	MemoryTotalGB float64
	MemoryPercent float64
	CPUPercent    float64
}

// collectSystemMetrics samples memory and CPU. Failures degrade to zero
// values rather than erroring; the snapshot is informational only.
func collectSystemMetrics() SystemMetrics {
	var m SystemMetrics

	if vm, err := mem.VirtualMemory(); err == nil {
		m.MemoryUsedGB = float64(vm.Used) / (1024 * 1024 * 1024)
		m.MemoryTotalGB = float64(vm.Total) / (1024 * 1024 * 1024)
		m.MemoryPercent = vm.UsedPercent
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		m.CPUPercent = percents[0]
	}

	return m
}
