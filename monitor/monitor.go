package monitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/eddielth/csv-device-split/logger"
)

// Sample is one resource reading taken during the run
type Sample struct {
	Taken      time.Time
	CPUPercent float64
	RSSBytes   uint64
	ReadBytes  uint64
	WriteBytes uint64
}

// Summary is the post-run resource report
type Summary struct {
	Duration        time.Duration `json:"duration"`
	Samples         int           `json:"samples"`
	FailedSamples   int           `json:"failed_samples"`
	AvgCPUPercent   float64       `json:"avg_cpu_percent"`
	PeakRSSBytes    uint64        `json:"peak_rss_bytes"`
	TotalReadBytes  uint64        `json:"total_read_bytes"`
	TotalWriteBytes uint64        `json:"total_write_bytes"`
}

func (s Summary) String() string {
	return fmt.Sprintf("duration=%s samples=%d avg_cpu=%.1f%% peak_rss=%.1fMB read=%.1fMB written=%.1fMB",
		s.Duration.Round(time.Millisecond), s.Samples, s.AvgCPUPercent,
		float64(s.PeakRSSBytes)/(1024*1024),
		float64(s.TotalReadBytes)/(1024*1024),
		float64(s.TotalWriteBytes)/(1024*1024))
}

// Monitor samples process CPU, resident memory and disk I/O on a fixed
// interval, concurrently with the main pass. It only reads process-level
// metrics and shares no mutable state with the pipeline; losing a sample is
// logged and skipped, never fatal.
type Monitor struct {
	interval time.Duration
	proc     *process.Process

	mu       sync.Mutex
	started  time.Time
	samples  []Sample
	failed   int
	baseline *Sample

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a monitor sampling at the given interval
func New(interval time.Duration) (*Monitor, error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to attach to own process: %v", err)
	}

	return &Monitor{
		interval: interval,
		proc:     proc,
	}, nil
}

// Start launches the background sampling loop
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = time.Now()

	// baseline reading so I/O totals can be reported as per-run deltas
	if s, err := m.sample(); err == nil {
		m.baseline = &s
	}

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s, err := m.sample()
				if err != nil {
					m.mu.Lock()
					m.failed++
					m.mu.Unlock()
					logger.Warn("resource sample lost: %v", err)
					continue
				}
				m.mu.Lock()
				m.samples = append(m.samples, s)
				m.mu.Unlock()
			}
		}
	}()
}

// sample takes one reading
func (m *Monitor) sample() (Sample, error) {
	s := Sample{Taken: time.Now()}

	cpu, err := m.proc.CPUPercent()
	if err != nil {
		return s, fmt.Errorf("cpu: %v", err)
	}
	s.CPUPercent = cpu

	mem, err := m.proc.MemoryInfo()
	if err != nil {
		return s, fmt.Errorf("memory: %v", err)
	}
	s.RSSBytes = mem.RSS

	// IOCounters is unsupported on some platforms; report zeros there
	if counters, err := m.proc.IOCounters(); err == nil {
		s.ReadBytes = counters.ReadBytes
		s.WriteBytes = counters.WriteBytes
	}

	return s, nil
}

// Stop ends sampling and returns the run summary
func (m *Monitor) Stop() Summary {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	summary := Summary{
		Duration:      time.Since(m.started),
		Samples:       len(m.samples),
		FailedSamples: m.failed,
	}

	var cpuSum float64
	for _, s := range m.samples {
		cpuSum += s.CPUPercent
		if s.RSSBytes > summary.PeakRSSBytes {
			summary.PeakRSSBytes = s.RSSBytes
		}
		summary.TotalReadBytes = s.ReadBytes
		summary.TotalWriteBytes = s.WriteBytes
	}
	if len(m.samples) > 0 {
		summary.AvgCPUPercent = cpuSum / float64(len(m.samples))
	}

	// convert cumulative process counters into per-run deltas
	if m.baseline != nil {
		if summary.TotalReadBytes >= m.baseline.ReadBytes {
			summary.TotalReadBytes -= m.baseline.ReadBytes
		}
		if summary.TotalWriteBytes >= m.baseline.WriteBytes {
			summary.TotalWriteBytes -= m.baseline.WriteBytes
		}
	}

	return summary
}
