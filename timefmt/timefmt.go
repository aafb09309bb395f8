package timefmt

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Layout is the canonical output form every device file shares: ISO-8601,
// local naive, second precision, no timezone suffix.
const Layout = "2006-01-02T15:04:05"

// Sanity window for epoch values. Anything outside is rejected so that a
// milliseconds value can never be misread as an implausible seconds value.
var (
	windowMin = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	windowMax = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
)

// DateOrder resolves day/month ambiguity in free-form date strings. It is
// configuration, applied uniformly for the whole run, never inferred per row.
type DateOrder int

const (
	// MonthFirst reads "05/02/2024" as May 2
	MonthFirst DateOrder = iota
	// DayFirst reads "05/02/2024" as February 5
	DayFirst
)

// ParseDateOrder maps the configured string ("MDY"/"DMY") to a DateOrder.
func ParseDateOrder(s string) (DateOrder, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "MDY", "MONTH-FIRST", "MONTHFIRST":
		return MonthFirst, nil
	case "DMY", "DAY-FIRST", "DAYFIRST":
		return DayFirst, nil
	default:
		return MonthFirst, fmt.Errorf("unknown date order %q, expected MDY or DMY", s)
	}
}

// ParseError names the value that matched no supported encoding. The row it
// came from is skipped and counted; the run continues.
type ParseError struct {
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("timestamp %q matches no supported encoding", e.Value)
}

// freeFormLayouts, per date order. Layouts are tried in sequence; the first
// that parses the whole value wins.
var monthFirstLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"01-02-2006 15:04:05",
	"01-02-2006",
	"Jan 2, 2006 15:04:05",
	"Jan 2, 2006",
}

var dayFirstLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"02-01-2006 15:04:05",
	"02-01-2006",
	"2 Jan 2006 15:04:05",
	"2 Jan 2006",
}

// timeOnlyLayouts are accepted only for the time-of-day portion of a
// split-timestamp row. A bare clock reading in a single time column carries
// no date and is unparseable there.
var timeOnlyLayouts = []string{
	"15:04:05",
	"15:04",
}

// Normalizer converts raw time values into the canonical layout. One
// Normalizer serves one run; its date order never changes mid-file.
type Normalizer struct {
	order DateOrder
}

// New returns a Normalizer resolving free-form dates under the given order.
func New(order DateOrder) *Normalizer {
	return &Normalizer{order: order}
}

// Normalize converts one raw value to the canonical ISO-8601 string. The
// supported encodings are tried in fixed order: epoch seconds, epoch
// milliseconds, scientific-notation epoch, free-form date string, and
// finally already-canonical ISO-8601 passthrough. Sub-second components are
// truncated, not rounded, for bit-exact reproducibility.
func (n *Normalizer) Normalize(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", &ParseError{Value: raw}
	}

	// 1+2: plain epoch seconds or milliseconds
	if sec, ok := parseEpochNumeric(value); ok {
		return time.Unix(sec, 0).Format(Layout), nil
	}

	// 3: scientific notation, e.g. "1.7146268e9" or "1.7146268e12"
	if isScientific(value) {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			if sec, ok := epochFromFloat(f); ok {
				return time.Unix(sec, 0).Format(Layout), nil
			}
		}
	}

	// 4: free-form date string under the configured day/month order
	layouts := monthFirstLayouts
	if n.order == DayFirst {
		layouts = dayFirstLayouts
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t.Format(Layout), nil
		}
	}

	// 5: already canonical, pass through after validation
	if canonical, ok := validateISO(value); ok {
		return canonical, nil
	}

	return "", &ParseError{Value: raw}
}

// Combine joins the date portion and time-of-day portion of a
// split-timestamp row before encoding selection, then normalizes the result.
// Either portion may be empty; both empty is a parse failure.
func (n *Normalizer) Combine(datePart, timePart string) (string, error) {
	datePart = strings.TrimSpace(datePart)
	timePart = strings.TrimSpace(timePart)

	switch {
	case datePart == "" && timePart == "":
		return "", &ParseError{Value: ""}
	case datePart == "":
		// a lone time-of-day portion is meaningful here, unlike in a
		// single time column
		for _, layout := range timeOnlyLayouts {
			if t, err := time.ParseInLocation(layout, timePart, time.Local); err == nil {
				return t.Format(Layout), nil
			}
		}
		return n.Normalize(timePart)
	case timePart == "":
		return n.Normalize(datePart)
	}
	return n.Normalize(datePart + " " + timePart)
}

// parseEpochNumeric handles integer and decimal epoch strings in either
// seconds or milliseconds. Decimals are truncated to whole seconds. Values
// outside the sanity window in both units are rejected to catch unit
// confusion.
func parseEpochNumeric(value string) (int64, bool) {
	if isScientific(value) {
		return 0, false
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return epochFromFloat(f)
}

// epochFromFloat interprets f as epoch seconds first, then as epoch
// milliseconds, accepting whichever lands inside the sanity window.
func epochFromFloat(f float64) (int64, bool) {
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	sec := int64(f) // truncate sub-seconds
	if sec >= windowMin && sec <= windowMax {
		return sec, true
	}
	ms := sec / 1000
	if ms >= windowMin && ms <= windowMax {
		return ms, true
	}
	return 0, false
}

func isScientific(value string) bool {
	if strings.ContainsAny(value, "eE") {
		// must still be numeric overall, not a date like "12 Dec"
		_, err := strconv.ParseFloat(value, 64)
		return err == nil
	}
	return false
}

// validateISO accepts an already-canonical value, with optional sub-second
// digits which are truncated away.
func validateISO(value string) (string, bool) {
	if t, err := time.ParseInLocation(Layout, value, time.Local); err == nil {
		return t.Format(Layout), true
	}
	if t, err := time.ParseInLocation(Layout+".999999999", value, time.Local); err == nil {
		return t.Format(Layout), true
	}
	return "", false
}
