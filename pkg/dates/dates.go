// Package dates converts the date representations found in the expense sheet
// into calendar dates and back to the MM/DD/YYYY display form.
package dates

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layout is the only display and input form for dates.
const Layout = "01/02/2006"

// Valid year bounds for explicit dates.
const (
	MinYear = 2020
	MaxYear = 2030
)

// ErrOutOfRange is returned by ParseInput for well-formed dates outside
// MinYear..MaxYear.
var ErrOutOfRange = fmt.Errorf("date must be between %d and %d", MinYear, MaxYear)

// epoch is day zero of spreadsheet serial dates.
var epoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// ParseError reports a value that is not a date in any accepted form.
type ParseError struct {
	Value any
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parsing date %v: %v", e.Value, e.Err)
	}
	return fmt.Sprintf("parsing date %v", e.Value)
}

func (e *ParseError) Unwrap() error { return e.Err }

var isoLayouts = []string{
	time.DateOnly,
	time.DateTime,
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// Normalize converts raw into a calendar date (midnight UTC). raw may be a
// serial day count, a MM/DD/YYYY string (ISO-8601 is accepted as a fallback)
// or a time.Time.
func Normalize(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return Day(v), nil
	case float64:
		return FromSerial(v), nil
	case float32:
		return FromSerial(float64(v)), nil
	case int:
		return FromSerial(float64(v)), nil
	case int64:
		return FromSerial(float64(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, &ParseError{Value: raw, Err: err}
		}
		return FromSerial(f), nil
	case string:
		return parseText(v)
	case nil:
		return time.Time{}, &ParseError{Value: raw, Err: errors.New("empty date")}
	default:
		return time.Time{}, &ParseError{Value: raw, Err: fmt.Errorf("unsupported type %T", raw)}
	}
}

func parseText(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, &ParseError{Value: s, Err: errors.New("empty date")}
	}

	t, err := time.Parse(Layout, s)
	if err == nil {
		return t, nil
	}
	for _, layout := range isoLayouts {
		if iso, isoErr := time.Parse(layout, s); isoErr == nil {
			return Day(iso), nil
		}
	}
	return time.Time{}, &ParseError{Value: s, Err: err}
}

// FromSerial converts a spreadsheet serial (days since 1899-12-30, fractions
// being the time of day) to its calendar date.
func FromSerial(serial float64) time.Time {
	return Day(epoch.Add(serialDuration(serial)))
}

// SerialTime converts a spreadsheet serial to a timestamp, keeping the time of
// day rounded to the second.
func SerialTime(serial float64) time.Time {
	return epoch.Add(serialDuration(serial)).Round(time.Second)
}

func serialDuration(serial float64) time.Duration {
	return time.Duration(serial * float64(24*time.Hour))
}

// ToSerial converts a calendar date to a whole spreadsheet serial.
func ToSerial(t time.Time) int {
	return int(Day(t).Sub(epoch).Hours() / 24)
}

// Format renders t as MM/DD/YYYY.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// ParseInput parses an explicit MM/DD/YYYY date supplied by a caller and
// enforces the accepted year range.
func ParseInput(s string) (time.Time, error) {
	t, err := time.Parse(Layout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, &ParseError{Value: s, Err: err}
	}
	if t.Year() < MinYear || t.Year() > MaxYear {
		return time.Time{}, ErrOutOfRange
	}
	return t, nil
}

// Day truncates t to midnight UTC of its own calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	return Day(a).Equal(Day(b))
}

// Today returns the current calendar date according to now.
func Today(now func() time.Time) time.Time {
	if now == nil {
		now = time.Now
	}
	return Day(now())
}
