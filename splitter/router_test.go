package splitter

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/eddielth/csv-device-split/transformer"
)

func record(device, ts string, cols, vals []string, row int) transformer.CanonicalRecord {
	return transformer.CanonicalRecord{
		Device:    device,
		Timestamp: ts,
		Columns:   cols,
		Values:    vals,
		SourceRow: row,
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestRouterWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRouter(dir, "W1", "Time", 0)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	cols := []string{"watt", "var"}
	for i := 0; i < 3; i++ {
		if err := r.Write(record("INV01", "2024-05-02T06:13:20", cols, []string{"1", "2"}, i+2)); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if errs := r.Close(); len(errs) != 0 {
		t.Fatalf("Close() errors = %v", errs)
	}

	rows := readCSV(t, filepath.Join(dir, "INV01_W1.csv"))
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header + 3", len(rows))
	}
	if rows[0][0] != "Time" || rows[0][1] != "watt" || rows[0][2] != "var" {
		t.Errorf("header = %v", rows[0])
	}
}

func TestRouterOutputFileNaming(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRouter(dir, "W2", "Time", 0)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	if err := r.Write(record("TATA_ECP001_S3_SHL001Inverter01", "2024-05-02T06:13:20", []string{"watt"}, []string{"1"}, 2)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	r.Close()

	if _, err := os.Stat(filepath.Join(dir, "TATA_ECP001_S3_SHL001Inverter01_W2.csv")); err != nil {
		t.Errorf("expected output file: %v", err)
	}
}

func TestRouterSchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRouter(dir, "W1", "Time", 0)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	defer r.Close()

	if err := r.Write(record("INV01", "2024-05-02T06:13:20", []string{"watt", "var"}, []string{"1", "2"}, 2)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var mismatch *SchemaMismatchError
	err = r.Write(record("INV01", "2024-05-02T06:13:25", []string{"watt"}, []string{"1"}, 3))
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want *SchemaMismatchError", err)
	}

	// renamed column, same count
	err = r.Write(record("INV01", "2024-05-02T06:13:30", []string{"watt", "hz"}, []string{"1", "2"}, 4))
	if !errors.As(err, &mismatch) {
		t.Fatalf("error = %v, want *SchemaMismatchError", err)
	}

	// the good record after the bad ones still lands
	if err := r.Write(record("INV01", "2024-05-02T06:13:35", []string{"watt", "var"}, []string{"3", "4"}, 5)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
}

// Every row in a device's file has the same column count as its header.
func TestRouterRectangularOutput(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRouter(dir, "W1", "Time", 0)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	cols := []string{"watt", "var", "hz"}
	for i := 0; i < 5; i++ {
		r.Write(record("INV01", "2024-05-02T06:13:20", cols, []string{"1", "2", "3"}, i+2))
	}
	// mismatching rows are rejected, so they cannot break rectangularity
	r.Write(record("INV01", "2024-05-02T06:14:20", []string{"watt"}, []string{"9"}, 7))
	r.Close()

	rows := readCSV(t, filepath.Join(dir, "INV01_W1.csv"))
	width := len(rows[0])
	for i, row := range rows {
		if len(row) != width {
			t.Errorf("row %d has %d columns, header has %d", i, len(row), width)
		}
	}
}

// A tiny handle budget forces eviction and reopen; rows must survive intact
// and the header must not repeat.
func TestRouterHandleBudget(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRouter(dir, "W1", "Time", 2)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	devices := []string{"INV01", "INV02", "INV03", "INV04"}
	for round := 0; round < 3; round++ {
		for _, dev := range devices {
			if err := r.Write(record(dev, "2024-05-02T06:13:20", []string{"watt"}, []string{"1"}, round+2)); err != nil {
				t.Fatalf("Write(%s) error = %v", dev, err)
			}
		}
	}
	if errs := r.Close(); len(errs) != 0 {
		t.Fatalf("Close() errors = %v", errs)
	}

	for _, dev := range devices {
		rows := readCSV(t, filepath.Join(dir, dev+"_W1.csv"))
		if len(rows) != 4 {
			t.Errorf("%s: got %d rows, want header + 3", dev, len(rows))
		}
		headers := 0
		for _, row := range rows {
			if row[0] == "Time" {
				headers++
			}
		}
		if headers != 1 {
			t.Errorf("%s: header written %d times", dev, headers)
		}
	}
}

func TestRouterFailedDeviceStaysFailed(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRouter(dir, "W1", "Time", 0)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	defer r.Close()

	if err := r.Write(record("INV01", "2024-05-02T06:13:20", []string{"watt"}, []string{"1"}, 2)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	r.fail("INV01", errors.New("disk full"))

	var writeErr *WriteError
	err = r.Write(record("INV01", "2024-05-02T06:13:25", []string{"watt"}, []string{"2"}, 3))
	if !errors.As(err, &writeErr) {
		t.Fatalf("error = %v, want *WriteError", err)
	}

	// other devices keep processing
	if err := r.Write(record("INV02", "2024-05-02T06:13:25", []string{"watt"}, []string{"2"}, 3)); err != nil {
		t.Fatalf("Write(INV02) error = %v", err)
	}
}
