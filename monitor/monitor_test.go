package monitor

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestMonitorStartStop(t *testing.T) {
	m, err := New(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	summary := m.Stop()

	if summary.Duration <= 0 {
		t.Errorf("Duration = %s, want > 0", summary.Duration)
	}
	if summary.Samples == 0 && summary.FailedSamples == 0 {
		t.Error("expected at least one sample attempt")
	}
}

func TestMonitorStopWithoutTicks(t *testing.T) {
	m, err := New(time.Hour)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.Start(context.Background())
	summary := m.Stop()

	if summary.Samples != 0 {
		t.Errorf("Samples = %d, want 0 before first tick", summary.Samples)
	}
	if summary.AvgCPUPercent != 0 {
		t.Errorf("AvgCPUPercent = %f, want 0 with no samples", summary.AvgCPUPercent)
	}
}

func TestMonitorDefaultInterval(t *testing.T) {
	m, err := New(0)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if m.interval != 5*time.Second {
		t.Errorf("interval = %s, want 5s default", m.interval)
	}
}

func TestSummaryString(t *testing.T) {
	s := Summary{
		Duration:      1500 * time.Millisecond,
		Samples:       3,
		AvgCPUPercent: 12.5,
		PeakRSSBytes:  64 * 1024 * 1024,
	}
	got := s.String()
	for _, want := range []string{"samples=3", "avg_cpu=12.5%", "peak_rss=64.0MB"} {
		if !strings.Contains(got, want) {
			t.Errorf("String() = %q, missing %q", got, want)
		}
	}
}
