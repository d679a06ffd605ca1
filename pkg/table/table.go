// Package table defines the row-oriented store the expense engine reads and mutates.
//
// Rows are addressed 1-based. Row 1 holds the header, so the first data row is
// row 2 and the i-th element returned by ReadAll lives at row i+2.
package table

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Column names, in sheet order.
const (
	ColName     = "Name"
	ColAmount   = "Amount"
	ColCategory = "Category"
	ColCreated  = "Created"
	ColDate     = "Date"
	ColNotes    = "Notes"
)

// Columns is the header row of the expense table.
var Columns = []string{ColName, ColAmount, ColCategory, ColCreated, ColDate, ColNotes}

// FirstDataRow is the row number of the first record below the header.
const FirstDataRow = 2

// ErrUnavailable wraps every failure of the remote store.
var ErrUnavailable = errors.New("table store unavailable")

// Row maps a header name to the raw cell value. Numbers arrive as float64,
// text as string; a missing cell is absent from the map.
type Row map[string]any

// String returns the cell as trimmed text, or "" when missing.
func (r Row) String(col string) string {
	v, ok := r[col]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// CellUpdate is a single A1-addressed cell write.
type CellUpdate struct {
	Ref   string
	Value any
}

// Table is the remote table contract. Implementations must not retry at this
// level; every failure is reported wrapped in ErrUnavailable.
type Table interface {
	// ReadAll returns every data row with unformatted values.
	ReadAll(ctx context.Context) ([]Row, error)
	// Append adds one row after the last data row.
	Append(ctx context.Context, row []any) error
	// AppendMany adds rows in order with a single call.
	AppendMany(ctx context.Context, rows [][]any) error
	// UpdateCell writes one value at (row, col), both 1-based.
	UpdateCell(ctx context.Context, row, col int, value any) error
	// BatchUpdateCells writes many cells with a single call.
	BatchUpdateCells(ctx context.Context, updates []CellUpdate) error
	// DeleteRowRange removes rows start..end inclusive.
	DeleteRowRange(ctx context.Context, start, end int) error
}

// ColumnIndex returns the 1-based position of name in Columns, or 0.
func ColumnIndex(name string) int {
	for i, c := range Columns {
		if c == name {
			return i + 1
		}
	}
	return 0
}

// ColumnLetter converts a 1-based column index to its A1 letters.
func ColumnLetter(col int) string {
	var out []byte
	for col > 0 {
		col--
		out = append([]byte{byte('A' + col%26)}, out...)
		col /= 26
	}
	return string(out)
}

// CellRef returns the A1 reference for (row, col).
func CellRef(row, col int) string {
	return fmt.Sprintf("%s%d", ColumnLetter(col), row)
}

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
