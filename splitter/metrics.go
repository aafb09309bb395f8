package splitter

import (
	"sort"
	"time"

	"github.com/eddielth/csv-device-split/device"
	"github.com/eddielth/csv-device-split/format"
	"github.com/eddielth/csv-device-split/logger"
	"github.com/eddielth/csv-device-split/monitor"
)

// RunMetrics accumulates the counters for one extraction run. Every skipped
// row increments exactly one counter here; nothing is dropped silently.
type RunMetrics struct {
	InputPath string      `json:"input_path"`
	Format    format.Kind `json:"-"`
	Started   time.Time   `json:"started"`
	Elapsed   time.Duration `json:"elapsed"`

	TotalRows   int64 `json:"total_rows"`
	WrittenRows int64 `json:"written_rows"`

	MalformedRows     int64 `json:"malformed_rows"`
	TimestampErrors   int64 `json:"timestamp_errors"`
	DeviceErrors      int64 `json:"device_errors"`
	SchemaMismatches  int64 `json:"schema_mismatches"`
	WriteFailures     int64 `json:"write_failures"`
	TransformErrors   int64 `json:"transform_errors"`
	QualityViolations int64 `json:"quality_violations"`

	PerDevice     map[device.Key]int64  `json:"per_device"`
	FailedDevices map[device.Key]string `json:"failed_devices,omitempty"`

	Resources *monitor.Summary `json:"resources,omitempty"`
}

// NewRunMetrics starts the counters for one input file
func NewRunMetrics(inputPath string) *RunMetrics {
	return &RunMetrics{
		InputPath:     inputPath,
		Started:       time.Now(),
		PerDevice:     map[device.Key]int64{},
		FailedDevices: map[device.Key]string{},
	}
}

// SkippedRows is the total number of rows that produced no output
func (m *RunMetrics) SkippedRows() int64 {
	return m.MalformedRows + m.TimestampErrors + m.DeviceErrors + m.SchemaMismatches + m.WriteFailures
}

// Devices returns the device keys seen during the run, sorted
func (m *RunMetrics) Devices() []device.Key {
	keys := make([]device.Key, 0, len(m.PerDevice))
	for key := range m.PerDevice {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// PartialFailure reports whether some devices' files failed while others
// completed. It is a valid terminal state, reported distinctly from total
// failure.
func (m *RunMetrics) PartialFailure() bool {
	return len(m.FailedDevices) > 0
}

// LogSummary writes the end-of-run summary to the run log
func (m *RunMetrics) LogSummary() {
	logger.Info("run finished: input=%s format=%s devices=%d rows=%d written=%d skipped=%d (malformed=%d timestamp=%d device=%d schema=%d write=%d) quality_violations=%d elapsed=%s",
		m.InputPath, m.Format, len(m.PerDevice), m.TotalRows, m.WrittenRows, m.SkippedRows(),
		m.MalformedRows, m.TimestampErrors, m.DeviceErrors, m.SchemaMismatches, m.WriteFailures,
		m.QualityViolations, m.Elapsed.Round(time.Millisecond))

	for _, key := range m.Devices() {
		logger.Info("device %s: %d rows", key, m.PerDevice[key])
	}

	for key, reason := range m.FailedDevices {
		logger.Error("device %s failed: %s", key, reason)
	}

	if m.Resources != nil {
		logger.Info("resources: %s", m.Resources)
	}
}
