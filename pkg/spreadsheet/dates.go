package spreadsheet

import (
	"strconv"
	"strings"
	"time"
)

// Excel serial day 0 is 1899-12-30 (the 1900 leap-year bug is baked into the
// epoch, matching what every spreadsheet tool emits).
var excelEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// Preferred layouts tried in order before the generic fallbacks. DD/MM/YYYY
// deliberately outranks the US ordering.
var preferredLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2/1/2006",
}

var fallbackLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02-01-2006",
	"2-Jan-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"01-02-06",
}

// parseDate coerces a cell value into a calendar day. It accepts ISO dates,
// DD/MM/YYYY, Excel serial day offsets, then a handful of generic layouts.
// Anything unrecognized yields nil.
func parseDate(raw string) *time.Time {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}

	for _, layout := range preferredLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return day(t)
		}
	}

	if serial, err := strconv.ParseFloat(value, 64); err == nil {
		return fromSerial(serial)
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return day(t)
		}
	}

	return nil
}

func fromSerial(serial float64) *time.Time {
	// Serial 1 is 1899-12-31; reject garbage magnitudes well past year 2500.
	if serial < 1 || serial > 250000 {
		return nil
	}
	t := excelEpoch.Add(time.Duration(serial * float64(24*time.Hour)))
	return day(t)
}

func day(t time.Time) *time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return &d
}

// parseFlag interprets register-flag cells leniently; unrecognized text is nil.
func parseFlag(raw string) *bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "y", "yes", "true", "1", "x":
		v := true
		return &v
	case "n", "no", "false", "0":
		v := false
		return &v
	default:
		return nil
	}
}
