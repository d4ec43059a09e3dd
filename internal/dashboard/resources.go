package dashboard

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
)

// Sampling functions are variables so tests can substitute deterministic
// values without touching the host.
var (
	cpuPercentFn = func() (float64, error) {
		percents, err := cpu.Percent(0, false)
		if err != nil || len(percents) == 0 {
			return 0, err
		}
		return percents[0], nil
	}

	memoryStatsFn = func() (float64, float64) {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		return float64(stats.Alloc) / 1024 / 1024, float64(stats.Sys) / 1024 / 1024
	}

	diskUsageFn = func(path string) (float64, float64, error) {
		usage, err := disk.Usage(path)
		if err != nil {
			return 0, 0, err
		}
		return float64(usage.Used) / 1024 / 1024 / 1024, float64(usage.Total) / 1024 / 1024 / 1024, nil
	}
)

type resourceSnapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	CPUPercent float64   `json:"cpu_percent"`
	MemAllocMB float64   `json:"mem_alloc_mb"`
	MemSysMB   float64   `json:"mem_sys_mb"`
	DiskUsedGB float64   `json:"disk_used_gb"`
	DiskFreeGB float64   `json:"disk_free_gb"`
	Goroutines int       `json:"goroutines"`
}

// resourceSampler periodically captures host resource usage and keeps a
// bounded history for the dashboard charts.
type resourceSampler struct {
	mu       sync.RWMutex
	items    []resourceSnapshot
	limit    int
	interval time.Duration
	diskPath string
	cancel   context.CancelFunc
	done     chan struct{}
}

func newResourceSampler(limit int, interval time.Duration) *resourceSampler {
	if limit <= 0 {
		limit = 120
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	diskPath, err := os.Getwd()
	if err != nil {
		diskPath = "/"
	}

	return &resourceSampler{
		limit:    limit,
		interval: interval,
		diskPath: diskPath,
	}
}

func (s *resourceSampler) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.sample()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

func (s *resourceSampler) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *resourceSampler) sample() {
	snap := resourceSnapshot{
		Timestamp:  time.Now(),
		Goroutines: runtime.NumGoroutine(),
	}

	if percent, err := cpuPercentFn(); err == nil {
		snap.CPUPercent = percent
	}

	snap.MemAllocMB, snap.MemSysMB = memoryStatsFn()

	if used, total, err := diskUsageFn(s.diskPath); err == nil {
		snap.DiskUsedGB = used
		snap.DiskFreeGB = total - used
	}

	s.mu.Lock()
	s.items = append(s.items, snap)
	if len(s.items) > s.limit {
		s.items = append([]resourceSnapshot(nil), s.items[len(s.items)-s.limit:]...)
	}
	s.mu.Unlock()
}

func (s *resourceSampler) snapshot() []resourceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]resourceSnapshot, len(s.items))
	copy(out, s.items)
	return out
}
