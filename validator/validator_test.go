package validator

import (
	"strings"
	"testing"

	"github.com/eddielth/csv-device-split/transformer"
)

func record(columns, values []string) *transformer.CanonicalRecord {
	return &transformer.CanonicalRecord{
		Device:    "INV01",
		Timestamp: "2024-05-02T06:13:20",
		Columns:   columns,
		Values:    values,
		SourceRow: 2,
	}
}

func TestRangeValidator(t *testing.T) {
	v := &RangeValidator{Column: "temperature", Min: -40, Max: 85}

	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"in range", "25.5", false},
		{"at lower bound", "-40", false},
		{"at upper bound", "85", false},
		{"below range", "-41.2", true},
		{"above range", "120", true},
		{"not numeric", "n/a", true},
		{"empty value", "", false},
		{"padded value", " 25.5 ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := record([]string{"temperature"}, []string{tt.value})
			err := v.Validate(rec)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestRangeValidatorMissingColumn(t *testing.T) {
	v := &RangeValidator{Column: "temperature", Min: 0, Max: 100}

	rec := record([]string{"watt"}, []string{"1500"})
	if err := v.Validate(rec); err != nil {
		t.Errorf("missing column should not be a violation, got %v", err)
	}
}

func TestChain(t *testing.T) {
	validators := []Validator{
		&RangeValidator{Column: "temperature", Min: -40, Max: 85},
		&RangeValidator{Column: "watt", Min: 0, Max: 5000},
	}

	rec := record([]string{"temperature", "watt"}, []string{"25.5", "1500"})
	if err := Chain(validators, rec); err != nil {
		t.Errorf("Chain() on valid record = %v", err)
	}

	rec = record([]string{"temperature", "watt"}, []string{"-100", "1500"})
	err := Chain(validators, rec)
	if err == nil {
		t.Fatal("Chain() expected violation for temperature")
	}
	if !strings.Contains(err.Error(), "temperature") {
		t.Errorf("violation %q should name the offending column", err)
	}
}
