package device

import (
	"testing"

	"github.com/eddielth/csv-device-split/format"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  string
		want Key
	}{
		{"TATA_ECP001_S3_SHL001Inverter01", "TATA_ECP001_S3_SHL001Inverter01"},
		{"  INV02  ", "INV02"},
		{"METEO STA 004", "METEO_STA_004"},
		{"INV__02", "INV_02"},
		{"inv-02", "inv-02"},
		{"Device/01", "Device_01"},
		{"_INV01_", "INV01"},
		{"   ", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Normalize(tt.raw); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

// Normalization must be idempotent: applying it twice changes nothing.
func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"TATA_ECP001_S3_SHL001Inverter01",
		"  METEO STA 004  ",
		"Device/01//02",
	}

	for _, raw := range inputs {
		once := Normalize(raw)
		twice := Normalize(string(once))
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", raw, once, twice)
		}
	}
}

func TestFromRow(t *testing.T) {
	key, err := FromRow("INV02")
	if err != nil {
		t.Fatalf("FromRow() error = %v", err)
	}
	if key != "INV02" {
		t.Errorf("FromRow() = %q, want %q", key, "INV02")
	}

	if _, err := FromRow("   "); err == nil {
		t.Error("FromRow(blank) expected error")
	}
}

func TestMapColumnsHeaderEncoded(t *testing.T) {
	header := []string{
		"Time",
		"s4DINV.EnclTmp.mag.f - 1 - TATA_ECP001_S3_SHL001Inverter01",
		"s4DINV.Watt.mag.f - 1 - TATA_ECP001_S3_SHL001Inverter01",
		"s4DINV.EnclTmp.mag.f - 2 - TATA_ECP001_S3_SHL001Inverter02",
	}
	desc, err := format.Detect(header, format.Options{})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	bindings, err := MapColumns(desc, header)
	if err != nil {
		t.Fatalf("MapColumns() error = %v", err)
	}

	if len(bindings) != 3 {
		t.Fatalf("len(bindings) = %d, want 3", len(bindings))
	}

	b := bindings["s4DINV.EnclTmp.mag.f - 1 - TATA_ECP001_S3_SHL001Inverter01"]
	if b.Device != "TATA_ECP001_S3_SHL001Inverter01" {
		t.Errorf("Device = %q, want %q", b.Device, "TATA_ECP001_S3_SHL001Inverter01")
	}
	if b.Measurement != "s4DINV.EnclTmp.mag.f" {
		t.Errorf("Measurement = %q, want %q", b.Measurement, "s4DINV.EnclTmp.mag.f")
	}
}

func TestMapColumnsPrefixEncoded(t *testing.T) {
	header := []string{
		"Time",
		"METEOSTA004_s4MMET.POAInsol1.mag.f",
		"METEOSTA004_s4MMET.EnvTmp1.mag.f",
	}
	desc, err := format.Detect(header, format.Options{})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	bindings, err := MapColumns(desc, header)
	if err != nil {
		t.Fatalf("MapColumns() error = %v", err)
	}

	b := bindings["METEOSTA004_s4MMET.POAInsol1.mag.f"]
	if b.Device != "METEOSTA004" {
		t.Errorf("Device = %q, want %q", b.Device, "METEOSTA004")
	}
	if b.Measurement != "s4MMET.POAInsol1.mag.f" {
		t.Errorf("Measurement = %q, want %q", b.Measurement, "s4MMET.POAInsol1.mag.f")
	}

	// the time column never becomes a device-bearing column
	if _, ok := bindings["Time"]; ok {
		t.Error("time column must not be mapped to a device")
	}
}

// Repeated extraction over the same header yields the same keys.
func TestMapColumnsDeterministic(t *testing.T) {
	header := []string{
		"Time",
		"s4DINV.Watt.mag.f - 1 - INV01",
		"s4DINV.Var.mag.f - 1 - INV02",
	}
	desc, err := format.Detect(header, format.Options{})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	first, err := MapColumns(desc, header)
	if err != nil {
		t.Fatalf("MapColumns() error = %v", err)
	}
	second, err := MapColumns(desc, header)
	if err != nil {
		t.Fatalf("MapColumns() error = %v", err)
	}

	for col, b := range first {
		if second[col] != b {
			t.Errorf("binding for %q differs across runs: %v != %v", col, b, second[col])
		}
	}
}
