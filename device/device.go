package device

import (
	"fmt"
	"strings"

	"github.com/eddielth/csv-device-split/format"
)

// Key is a normalized device identifier. It is stable for the lifetime of an
// input file and doubles as the output-routing key and filename stem, so the
// normalization applied here must be deterministic and idempotent.
type Key string

// ExtractionError marks a device identity that could not be derived from a
// header token or row field. It is row/column-local, never fatal for the run.
type ExtractionError struct {
	Column string
	Value  string
	Reason string
}

func (e *ExtractionError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("device extraction failed for column %q: %s", e.Column, e.Reason)
	}
	return fmt.Sprintf("device extraction failed for value %q: %s", e.Value, e.Reason)
}

// Normalize maps a raw device identifier to its Key form: surrounding
// whitespace trimmed, filename-unsafe characters replaced with "_", runs of
// separators collapsed to one. Case is preserved as given; downstream
// comparison is byte-for-byte.
func Normalize(raw string) Key {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	lastSep := false
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastSep = false
		default:
			// underscores and anything unsafe collapse into one "_"
			if !lastSep {
				b.WriteByte('_')
			}
			lastSep = true
		}
	}
	return Key(strings.Trim(b.String(), "_"))
}

// FromRow derives the Key for one row of a device-column or split-timestamp
// file from the device field value.
func FromRow(value string) (Key, error) {
	key := Normalize(value)
	if key == "" {
		return "", &ExtractionError{Value: value, Reason: "empty device field"}
	}
	return key, nil
}

// ColumnBinding ties one source column to the device it belongs to and the
// bare measurement name it gets in that device's output file.
type ColumnBinding struct {
	Device      Key
	Measurement string
}

// MapColumns walks the header of a header-encoded or prefix-encoded file once
// at setup time and returns the binding for every qualifying column. Columns
// that carry no device identity (time, id, status) are left out; they are
// common to every device.
func MapColumns(desc *format.Descriptor, header []string) (map[string]ColumnBinding, error) {
	bindings := make(map[string]ColumnBinding)

	for _, col := range header {
		switch desc.Kind {
		case format.HeaderEncoded:
			if !desc.HeaderPattern.MatchString(col) {
				continue
			}
			parts := desc.HeaderPattern.Split(col, -1)
			// measurement path first, device identifier last
			raw := strings.TrimSpace(parts[len(parts)-1])
			key := Normalize(raw)
			if key == "" {
				return nil, &ExtractionError{Column: col, Reason: "malformed header token, empty device part"}
			}
			bindings[col] = ColumnBinding{Device: key, Measurement: strings.TrimSpace(parts[0])}

		case format.PrefixEncoded:
			if strings.EqualFold(col, desc.TimeColumn()) {
				continue
			}
			prefix, measurement, ok := format.SplitPrefix(col)
			if !ok {
				continue
			}
			key := Normalize(prefix)
			if key == "" {
				return nil, &ExtractionError{Column: col, Reason: "empty device prefix"}
			}
			bindings[col] = ColumnBinding{Device: key, Measurement: measurement}

		default:
			return nil, fmt.Errorf("column mapping is only defined for header-encoded and prefix-encoded formats, got %s", desc.Kind)
		}
	}

	if len(bindings) == 0 {
		return nil, &ExtractionError{Reason: "no device-bearing columns found in header"}
	}
	return bindings, nil
}
