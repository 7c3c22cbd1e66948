package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics holds CPU and memory usage of the emulated game process.
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	StartedAt  time.Time `json:"started_at,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

var (
	childCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "samgo",
		Subsystem: "child",
		Name:      "cpu_percent",
		Help:      "CPU usage percentage of the emulated game process.",
	})
	childMemoryMB = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "samgo",
		Subsystem: "child",
		Name:      "memory_mb",
		Help:      "Resident memory in MB of the emulated game process.",
	})
	childNumThreads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "samgo",
		Subsystem: "child",
		Name:      "num_threads",
		Help:      "Number of threads of the emulated game process.",
	})
)

// SampleProcess reads CPU and memory usage of pid.
func SampleProcess(pid int) (*ProcessMetrics, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to create process handle: %w", err)
	}

	// CPUPercent averages over the process lifetime
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		slog.Debug("Failed to get CPU percent", "pid", pid, "error", err)
		cpuPercent = 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory info: %w", err)
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		slog.Debug("Failed to get thread count", "pid", pid, "error", err)
		numThreads = 0
	}

	m := &ProcessMetrics{
		PID:        int32(pid),
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		NumThreads: numThreads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if numFDs, err := proc.NumFDs(); err == nil {
			m.NumFDs = numFDs
		}
	}
	if ts := procStartUnix(pid); ts > 0 {
		m.StartedAt = time.Unix(ts, 0).UTC()
	}
	return m, nil
}

// Collector periodically samples the current child process into the child
// gauges.
type Collector struct {
	interval time.Duration
	pid      func() int
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector samples the pid returned by pid every interval. pid returns 0
// when no child is running.
func NewCollector(interval time.Duration, pid func() int) *Collector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Collector{interval: interval, pid: pid, stopCh: make(chan struct{})}
}

func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect()
			}
		}
	}()
}

func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) collect() {
	pid := c.pid()
	if pid <= 0 {
		setChildGauges(nil)
		return
	}
	m, err := SampleProcess(pid)
	if err != nil {
		slog.Debug("Failed to collect metrics for child", "pid", pid, "error", err)
		return
	}
	setChildGauges(m)
}

func setChildGauges(m *ProcessMetrics) {
	if !regOK.Load() {
		return
	}
	if m == nil {
		childCPUPercent.Set(0)
		childMemoryMB.Set(0)
		childNumThreads.Set(0)
		return
	}
	childCPUPercent.Set(m.CPUPercent)
	childMemoryMB.Set(m.MemoryMB)
	childNumThreads.Set(float64(m.NumThreads))
}
