package format

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies which of the supported header/column conventions a CSV uses
type Kind int

const (
	// Unknown means detection has not run or failed
	Unknown Kind = iota
	// HeaderEncoded: column headers embed the device, e.g.
	// "s4DINV.EnclTmp.mag.f - 1 - TATA_ECP001_S3_SHL001Inverter01"
	HeaderEncoded
	// PrefixEncoded: column headers are "<deviceId>_<measurementPath>", e.g.
	// "METEOSTA004_s4MMET.POAInsol1.mag.f"
	PrefixEncoded
	// DeviceColumn: a dedicated column holds the device identifier per row
	DeviceColumn
	// SplitTimestamp: two columns ("ts" + "timestamp_gmt") jointly encode the time
	SplitTimestamp
)

var kindNames = map[Kind]string{
	Unknown:        "unknown",
	HeaderEncoded:  "header-encoded",
	PrefixEncoded:  "prefix-encoded",
	DeviceColumn:   "device-column",
	SplitTimestamp: "split-timestamp",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ErrUnrecognizedFormat is returned when no detection rule matches.
// It is fatal for the whole run: there is no safe partial interpretation.
var ErrUnrecognizedFormat = errors.New("unrecognized CSV format: no detection rule matched the header row")

// headerDevicePattern matches the separator of header-encoded columns,
// " - 1 - " or any " - <digits> - "
var headerDevicePattern = regexp.MustCompile(` - \d+ - `)

// splitTimeColumns are the two column names whose joint presence marks the
// split-timestamp convention
var splitTimeColumns = [2]string{"ts", "timestamp_gmt"}

// Options controls detection. Zero values fall back to the usual defaults.
type Options struct {
	// TimeCol is the time column name for single-column-time formats (default "Time")
	TimeCol string
	// DeviceCol is the explicit device-identifier column name (default "DeviceID")
	DeviceCol string
}

func (o Options) timeCol() string {
	if o.TimeCol == "" {
		return "Time"
	}
	return o.TimeCol
}

func (o Options) deviceCol() string {
	if o.DeviceCol == "" {
		return "DeviceID"
	}
	return o.DeviceCol
}

// Descriptor is the one-shot classification of an input file. It is computed
// once per file and never mixes formats within one file.
type Descriptor struct {
	Kind Kind

	// DeviceColumn is set for DeviceColumn and SplitTimestamp kinds when a
	// per-row device column exists
	DeviceColumn string

	// TimeColumns holds one column name, or two for SplitTimestamp
	// (date part first, time-of-day part second)
	TimeColumns []string

	// HeaderPattern is the separator pattern used to pull device IDs out of
	// header-encoded column names; nil for other kinds
	HeaderPattern *regexp.Regexp
}

// Detect classifies the header row against the four supported conventions,
// checked in priority order; the first rule that matches wins. Header-embedded
// identity (rules 1 and 2) is considered more specific than row-level identity
// (rules 3 and 4), so a file carrying both is classified by its headers.
func Detect(header []string, opts Options) (*Descriptor, error) {
	if len(header) == 0 {
		return nil, ErrUnrecognizedFormat
	}

	// rule 1: header-encoded device identity
	for _, col := range header {
		if headerDevicePattern.MatchString(col) {
			return &Descriptor{
				Kind:          HeaderEncoded,
				TimeColumns:   []string{findColumn(header, opts.timeCol())},
				HeaderPattern: headerDevicePattern,
			}, nil
		}
	}

	// rule 2: prefix-encoded device identity
	if hasRecurringPrefix(header, opts) {
		return &Descriptor{
			Kind:        PrefixEncoded,
			TimeColumns: []string{findColumn(header, opts.timeCol())},
		}, nil
	}

	// rule 3: explicit device column
	if col := findColumn(header, opts.deviceCol()); col != "" {
		return &Descriptor{
			Kind:         DeviceColumn,
			DeviceColumn: col,
			TimeColumns:  []string{findColumn(header, opts.timeCol())},
		}, nil
	}

	// rule 4: split timestamp
	dateCol := findColumn(header, splitTimeColumns[0])
	todCol := findColumn(header, splitTimeColumns[1])
	if dateCol != "" && todCol != "" {
		return &Descriptor{
			Kind:         SplitTimestamp,
			DeviceColumn: findColumn(header, opts.deviceCol()),
			TimeColumns:  []string{dateCol, todCol},
		}, nil
	}

	return nil, ErrUnrecognizedFormat
}

// TimeColumn returns the single time column name, or "" when the file has
// none (split-timestamp files use TimeColumns directly).
func (d *Descriptor) TimeColumn() string {
	if d.Kind == SplitTimestamp || len(d.TimeColumns) == 0 {
		return ""
	}
	return d.TimeColumns[0]
}

// SplitPrefix splits a prefix-encoded column name into its device token and
// bare measurement path. ok is false when the column carries no prefix.
func SplitPrefix(col string) (device, measurement string, ok bool) {
	idx := strings.Index(col, "_")
	if idx <= 0 || idx == len(col)-1 {
		return "", "", false
	}
	return col[:idx], col[idx+1:], true
}

// hasRecurringPrefix reports whether at least one leading token (up to the
// first "_") occurs on two or more columns. Time and device columns never
// count toward the prefix tally.
func hasRecurringPrefix(header []string, opts Options) bool {
	counts := make(map[string]int)
	for _, col := range header {
		if strings.EqualFold(col, opts.timeCol()) || strings.EqualFold(col, opts.deviceCol()) {
			continue
		}
		prefix, _, ok := SplitPrefix(col)
		if !ok {
			continue
		}
		counts[prefix]++
		if counts[prefix] >= 2 {
			return true
		}
	}
	return false
}

// findColumn returns the header cell matching name case-insensitively,
// preserving the file's own spelling, or "" when absent.
func findColumn(header []string, name string) string {
	for _, col := range header {
		if strings.EqualFold(col, name) {
			return col
		}
	}
	return ""
}
