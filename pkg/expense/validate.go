package expense

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ArionMiles/quina/pkg/dates"
	"github.com/ArionMiles/quina/pkg/table"
)

// Limits on stored values.
const (
	MaxNameLength  = 100
	MaxNotesLength = 500
	MaxAmount      = 100_000_000
)

// Categories is the closed set of expense categories, sorted.
var Categories = []string{
	"Bills & Utilities",
	"Charity",
	"Education",
	"Entertainment",
	"Food",
	"Health & Wellness",
	"Shopping",
	"Snack",
	"Transport",
}

// unsafeChars are stripped from free text before it reaches the sheet.
var unsafeChars = regexp.MustCompile(`[<>"'=;]`)

// ValidationError is a user-correctable input defect. Its message is meant to
// be shown as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// messageOf returns the text to report for err: the validation message, or
// fallback for anything else.
func messageOf(err error, fallback string) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return fallback
}

func sanitize(s string) string {
	return strings.TrimSpace(unsafeChars.ReplaceAllString(s, ""))
}

func validateName(s string) (string, error) {
	if s == "" {
		return "", invalid("Name is required and must be text")
	}
	if utf8.RuneCountInString(s) > MaxNameLength {
		return "", invalid("Name must be %d characters or less", MaxNameLength)
	}
	name := sanitize(s)
	if name == "" {
		return "", invalid("Name contains only invalid characters")
	}
	return name, nil
}

func validateAmount(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid("Amount must be a valid number")
	}
	if v <= 0 {
		return invalid("Amount must be positive")
	}
	if v > MaxAmount {
		return invalid("Amount exceeds maximum limit (100,000,000 IDR)")
	}
	return nil
}

func validateCategory(s string) (string, error) {
	c := strings.TrimSpace(s)
	if !slices.Contains(Categories, c) {
		return "", invalid("Invalid category '%s'. Must be one of: %s", c, strings.Join(Categories, ", "))
	}
	return c, nil
}

// validateDate accepts MM/DD/YYYY within the supported years and returns the
// canonical form.
func validateDate(s string) (string, error) {
	d, err := inputDate(s)
	if err != nil {
		return "", err
	}
	return dates.Format(d), nil
}

func inputDate(s string) (time.Time, error) {
	d, err := dates.ParseInput(s)
	if errors.Is(err, dates.ErrOutOfRange) {
		return time.Time{}, invalid("Date must be between %d and %d", dates.MinYear, dates.MaxYear)
	}
	if err != nil {
		return time.Time{}, invalid("Date must be in MM/DD/YYYY format (e.g., 01/15/2025)")
	}
	return d, nil
}

// parseFilterDate parses an optional date filter; ok is false when s is blank.
func parseFilterDate(s string) (d time.Time, ok bool, err error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, false, nil
	}
	d, err = inputDate(s)
	if err != nil {
		return time.Time{}, false, err
	}
	return d, true, nil
}

func validateNotes(s string) (string, error) {
	if utf8.RuneCountInString(s) > MaxNotesLength {
		return "", invalid("Notes must be %d characters or less", MaxNotesLength)
	}
	return sanitize(s), nil
}

// Field is a column that UpdateField can change.
type Field int

const (
	FieldName Field = iota + 1
	FieldAmount
	FieldCategory
	FieldCreated
	FieldDate
	FieldNotes
)

var fields = []Field{FieldName, FieldAmount, FieldCategory, FieldCreated, FieldDate, FieldNotes}

// Column returns the sheet column the field is stored in.
func (f Field) Column() string {
	switch f {
	case FieldName:
		return table.ColName
	case FieldAmount:
		return table.ColAmount
	case FieldCategory:
		return table.ColCategory
	case FieldCreated:
		return table.ColCreated
	case FieldDate:
		return table.ColDate
	case FieldNotes:
		return table.ColNotes
	default:
		return ""
	}
}

func (f Field) String() string { return f.Column() }

// ParseField resolves a column name regardless of case.
func ParseField(s string) (Field, error) {
	fold := cases.Fold()
	key := fold.String(strings.TrimSpace(s))
	for _, f := range fields {
		if fold.String(f.Column()) == key {
			return f, nil
		}
	}
	return 0, invalid("Invalid field '%s'. Must be one of %s", s, strings.Join(table.Columns, ", "))
}

// Normalize validates raw as a new value for f and returns what should be
// written to the cell.
func (f Field) Normalize(raw string) (any, error) {
	switch f {
	case FieldName:
		return validateName(raw)
	case FieldAmount:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, invalid("Amount must be a valid number")
		}
		if err := validateAmount(v); err != nil {
			return nil, err
		}
		return v, nil
	case FieldCategory:
		return validateCategory(raw)
	case FieldCreated:
		t, err := time.Parse(CreatedLayout, strings.TrimSpace(raw))
		if err != nil {
			return nil, invalid("Created must be in YYYY-MM-DD HH:MM:SS format")
		}
		return t.Format(CreatedLayout), nil
	case FieldDate:
		return validateDate(raw)
	case FieldNotes:
		return validateNotes(raw)
	default:
		return nil, invalid("Invalid field")
	}
}

// amountOf reads an Amount cell as a decimal.
func amountOf(v any) (decimal.Decimal, bool) {
	switch a := v.(type) {
	case float64:
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(a), true
	case float32:
		if math.IsNaN(float64(a)) || math.IsInf(float64(a), 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(a), true
	case int:
		return decimal.NewFromInt(int64(a)), true
	case int64:
		return decimal.NewFromInt(a), true
	case json.Number:
		d, err := decimal.NewFromString(a.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(a), ",", ""))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

// formatRupiah renders an amount the way confirmations show it, e.g. Rp25,000.
func formatRupiah(v float64) string {
	return message.NewPrinter(language.English).Sprintf("Rp%.0f", v)
}
