package metrics

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics is a point-in-time resource sample of the backend.
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// SampleProcess reads resource usage of pid and updates the RSS gauge for name.
func SampleProcess(ctx context.Context, name string, pid int) (ProcessMetrics, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid)) // #nosec G115
	if err != nil {
		return ProcessMetrics{}, err
	}
	out := ProcessMetrics{PID: p.Pid, Timestamp: time.Now()}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		out.MemoryRSS = mem.RSS
		out.MemoryMB = float64(mem.RSS) / 1024 / 1024
		setRSS(name, mem.RSS)
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		out.CPUPercent = cpu
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		out.NumThreads = n
	}
	return out, nil
}
