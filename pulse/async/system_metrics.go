package async

import (
	"context"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/croplink/errors"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"`
	WorkersTotal  int     `json:"workers_total"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	JobsQueued    int     `json:"jobs_queued"`
	JobsRunning   int     `json:"jobs_processing"`
}

// memoryStats returns total and available memory in bytes.
type memoryStats func() (total, available uint64, err error)

func hostMemoryStats() (uint64, uint64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

func memoryPercent(stats memoryStats) (float64, error) {
	total, available, err := stats()
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, errors.New("total memory reported as zero")
	}
	return float64(total-available) / float64(total) * 100, nil
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics(ctx context.Context) SystemMetrics {
	m := SystemMetrics{
		WorkersActive: wp.ActiveWorkers(),
		WorkersTotal:  wp.workers,
	}

	if total, available, err := wp.memStats(); err == nil && total > 0 {
		const gb = 1024 * 1024 * 1024
		m.MemoryTotalGB = float64(total) / gb
		m.MemoryUsedGB = float64(total-available) / gb
		m.MemoryPercent = float64(total-available) / float64(total) * 100
	}

	// Database errors leave the counts at zero
	if counts, err := wp.queue.Stats(ctx); err == nil {
		m.JobsQueued = counts[JobStatusQueued]
		m.JobsRunning = counts[JobStatusProcessing]
	}

	return m
}
