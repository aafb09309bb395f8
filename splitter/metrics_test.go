package splitter

import (
	"testing"

	"github.com/eddielth/csv-device-split/device"
)

func TestMetricsSkippedRows(t *testing.T) {
	m := NewRunMetrics("plant.csv")
	m.TotalRows = 10
	m.MalformedRows = 1
	m.TimestampErrors = 2
	m.DeviceErrors = 1
	m.SchemaMismatches = 1

	if got := m.SkippedRows(); got != 5 {
		t.Errorf("SkippedRows() = %d, want 5", got)
	}
}

func TestMetricsPartialFailure(t *testing.T) {
	m := NewRunMetrics("plant.csv")
	if m.PartialFailure() {
		t.Error("fresh metrics should not report partial failure")
	}

	m.FailedDevices["INV02"] = "disk full"
	if !m.PartialFailure() {
		t.Error("failed device should report partial failure")
	}
}

func TestMetricsDevicesSorted(t *testing.T) {
	m := NewRunMetrics("plant.csv")
	m.PerDevice[device.Key("INV02")] = 3
	m.PerDevice[device.Key("INV01")] = 2
	m.PerDevice[device.Key("METEO_STA_004")] = 1

	got := m.Devices()
	want := []device.Key{"INV01", "INV02", "METEO_STA_004"}
	if len(got) != len(want) {
		t.Fatalf("Devices() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Devices()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
