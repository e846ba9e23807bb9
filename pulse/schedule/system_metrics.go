package schedule

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/enrolpulse/errors"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`  // Workers currently running a slice
	WorkersTotal  int     `json:"workers_total"`   // Total configured workers
	InFlight      int     `json:"in_flight"`       // Jobs submitted and not yet finished
	MemoryUsedGB  float64 `json:"memory_used_gb"`  // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent"`  // Memory utilization percentage
}

// getMemoryStats returns total and available memory in bytes.
// A variable so tests can simulate memory pressure.
var getMemoryStats = func() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	wp.mu.Lock()
	defer wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive: wp.activeWorkers,
		WorkersTotal:  wp.cfg.Workers,
		InFlight:      len(wp.inflight),
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
	}
}

// checkMemoryPressure returns a warning when memory use is above the
// configured threshold, empty string if OK or unknown.
func (wp *WorkerPool) checkMemoryPressure() string {
	if wp.cfg.MemoryWarnPercent <= 0 {
		return ""
	}

	metrics := wp.GetSystemMetrics()
	if metrics.MemoryTotalGB == 0 {
		return ""
	}
	if metrics.MemoryPercent >= wp.cfg.MemoryWarnPercent {
		return fmt.Sprintf(
			"Memory use %.0f%% (%.1f/%.1fGB) is above %.0f%%. "+
				"Consider fewer workers or a smaller batch size.",
			metrics.MemoryPercent, metrics.MemoryUsedGB, metrics.MemoryTotalGB, wp.cfg.MemoryWarnPercent)
	}
	return ""
}
