package format

import (
	"errors"
	"testing"
)

func TestDetectHeaderEncoded(t *testing.T) {
	header := []string{
		"Time",
		"s4DINV.EnclTmp.mag.f - 1 - TATA_ECP001_S3_SHL001Inverter01",
		"s4DINV.HeatSinkTmp.mag.f - 2 - TATA_ECP001_S3_SHL001Inverter02",
	}

	desc, err := Detect(header, Options{})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if desc.Kind != HeaderEncoded {
		t.Fatalf("Kind = %s, want %s", desc.Kind, HeaderEncoded)
	}
	if desc.TimeColumn() != "Time" {
		t.Errorf("TimeColumn() = %q, want %q", desc.TimeColumn(), "Time")
	}
	if desc.HeaderPattern == nil {
		t.Error("HeaderPattern is nil")
	}
}

func TestDetectPrefixEncoded(t *testing.T) {
	header := []string{
		"Time",
		"METEOSTA004_s4MMET.POAInsol1.mag.f",
		"METEOSTA004_s4MMET.EnvTmp1.mag.f",
	}

	desc, err := Detect(header, Options{})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if desc.Kind != PrefixEncoded {
		t.Fatalf("Kind = %s, want %s", desc.Kind, PrefixEncoded)
	}
}

func TestDetectDeviceColumn(t *testing.T) {
	header := []string{"Time", "DeviceID", "Power", "Voltage"}

	desc, err := Detect(header, Options{})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if desc.Kind != DeviceColumn {
		t.Fatalf("Kind = %s, want %s", desc.Kind, DeviceColumn)
	}
	if desc.DeviceColumn != "DeviceID" {
		t.Errorf("DeviceColumn = %q, want %q", desc.DeviceColumn, "DeviceID")
	}
}

func TestDetectDeviceColumnConfiguredName(t *testing.T) {
	header := []string{"Time", "inverter", "Power"}

	desc, err := Detect(header, Options{DeviceCol: "inverter"})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if desc.Kind != DeviceColumn {
		t.Fatalf("Kind = %s, want %s", desc.Kind, DeviceColumn)
	}
}

func TestDetectSplitTimestamp(t *testing.T) {
	header := []string{"ts", "timestamp_gmt", "Power", "Irradiance"}

	desc, err := Detect(header, Options{})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if desc.Kind != SplitTimestamp {
		t.Fatalf("Kind = %s, want %s", desc.Kind, SplitTimestamp)
	}
	if len(desc.TimeColumns) != 2 || desc.TimeColumns[0] != "ts" || desc.TimeColumns[1] != "timestamp_gmt" {
		t.Errorf("TimeColumns = %v, want [ts timestamp_gmt]", desc.TimeColumns)
	}
}

// Each sample matches exactly one rule; detection must be mutually exclusive.
func TestDetectMutualExclusivity(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		want   Kind
	}{
		{
			name:   "header separator only",
			header: []string{"Time", "s4DINV.Watt.mag.f - 1 - INV01"},
			want:   HeaderEncoded,
		},
		{
			name:   "prefix only",
			header: []string{"Time", "INV01_watt", "INV01_var"},
			want:   PrefixEncoded,
		},
		{
			name:   "device column only",
			header: []string{"Time", "DeviceID", "watt"},
			want:   DeviceColumn,
		},
		{
			name:   "split timestamp only",
			header: []string{"ts", "timestamp_gmt", "watt"},
			want:   SplitTimestamp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := Detect(tt.header, Options{})
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if desc.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", desc.Kind, tt.want)
			}
		})
	}
}

// Header-embedded identity outranks row-level identity when both are present.
func TestDetectPriority(t *testing.T) {
	header := []string{
		"Time",
		"DeviceID",
		"s4DINV.Watt.mag.f - 1 - INV01",
	}

	desc, err := Detect(header, Options{})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if desc.Kind != HeaderEncoded {
		t.Errorf("Kind = %s, want %s (rule 1 outranks rule 3)", desc.Kind, HeaderEncoded)
	}
}

func TestDetectUnrecognized(t *testing.T) {
	tests := [][]string{
		{},
		{"Time", "watt", "var"},
		{"col1", "col2"},
	}

	for _, header := range tests {
		if _, err := Detect(header, Options{}); !errors.Is(err, ErrUnrecognizedFormat) {
			t.Errorf("Detect(%v) error = %v, want ErrUnrecognizedFormat", header, err)
		}
	}
}

func TestSplitPrefix(t *testing.T) {
	tests := []struct {
		col         string
		device      string
		measurement string
		ok          bool
	}{
		{"METEOSTA004_s4MMET.POAInsol1.mag.f", "METEOSTA004", "s4MMET.POAInsol1.mag.f", true},
		{"INV01_watt", "INV01", "watt", true},
		{"watt", "", "", false},
		{"_watt", "", "", false},
		{"INV01_", "", "", false},
	}

	for _, tt := range tests {
		device, measurement, ok := SplitPrefix(tt.col)
		if device != tt.device || measurement != tt.measurement || ok != tt.ok {
			t.Errorf("SplitPrefix(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.col, device, measurement, ok, tt.device, tt.measurement, tt.ok)
		}
	}
}
