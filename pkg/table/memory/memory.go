// Package memory provides an in-memory table.Table used by tests and local runs.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ArionMiles/quina/pkg/table"
)

// Op names a mutation recorded by the table.
type Op string

// Recorded operations.
const (
	OpAppend      Op = "append"
	OpAppendMany  Op = "append_many"
	OpUpdateCell  Op = "update_cell"
	OpBatchUpdate Op = "batch_update"
	OpDeleteRange Op = "delete_range"
)

// Call records one mutating call. Start and End are only set for OpDeleteRange,
// Cells only for OpBatchUpdate and OpUpdateCell.
type Call struct {
	Op    Op
	Rows  int
	Start int
	End   int
	Cells []string
}

// Table is a mutex-guarded table.Table. The zero value is not usable; call New.
type Table struct {
	mu    sync.Mutex
	rows  [][]any
	calls []Call

	// Err, when set, is returned (wrapped in table.ErrUnavailable) by every call.
	Err error
}

var _ table.Table = (*Table)(nil)

// New returns a table pre-populated with rows in table.Columns order.
func New(rows ...[]any) *Table {
	t := &Table{}
	for _, r := range rows {
		t.rows = append(t.rows, normalize(r))
	}
	return t
}

// ReadAll returns a copy of every data row keyed by header.
func (t *Table) ReadAll(_ context.Context) ([]table.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Err != nil {
		return nil, table.Unavailable("reading rows", t.Err)
	}

	out := make([]table.Row, 0, len(t.rows))
	for _, r := range t.rows {
		row := make(table.Row, len(table.Columns))
		for i, col := range table.Columns {
			if r[i] != nil {
				row[col] = r[i]
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// Append adds one row.
func (t *Table) Append(_ context.Context, row []any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Err != nil {
		return table.Unavailable("appending row", t.Err)
	}
	t.rows = append(t.rows, normalize(row))
	t.calls = append(t.calls, Call{Op: OpAppend, Rows: 1})
	return nil
}

// AppendMany adds rows in order.
func (t *Table) AppendMany(_ context.Context, rows [][]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Err != nil {
		return table.Unavailable("appending rows", t.Err)
	}
	for _, r := range rows {
		t.rows = append(t.rows, normalize(r))
	}
	t.calls = append(t.calls, Call{Op: OpAppendMany, Rows: len(rows)})
	return nil
}

// UpdateCell writes value at the 1-based (row, col).
func (t *Table) UpdateCell(_ context.Context, row, col int, value any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Err != nil {
		return table.Unavailable("updating cell", t.Err)
	}
	if err := t.set(row, col, value); err != nil {
		return err
	}
	t.calls = append(t.calls, Call{Op: OpUpdateCell, Cells: []string{table.CellRef(row, col)}})
	return nil
}

// BatchUpdateCells writes every A1-addressed cell.
func (t *Table) BatchUpdateCells(_ context.Context, updates []table.CellUpdate) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Err != nil {
		return table.Unavailable("batch updating cells", t.Err)
	}

	refs := make([]string, 0, len(updates))
	for _, u := range updates {
		row, col, err := parseRef(u.Ref)
		if err != nil {
			return err
		}
		if err := t.set(row, col, u.Value); err != nil {
			return err
		}
		refs = append(refs, u.Ref)
	}
	t.calls = append(t.calls, Call{Op: OpBatchUpdate, Cells: refs})
	return nil
}

// DeleteRowRange removes rows start..end inclusive.
func (t *Table) DeleteRowRange(_ context.Context, start, end int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Err != nil {
		return table.Unavailable("deleting rows", t.Err)
	}

	lo, hi := start-table.FirstDataRow, end-table.FirstDataRow
	if lo < 0 || hi >= len(t.rows) || lo > hi {
		return fmt.Errorf("deleting rows %d-%d: out of range", start, end)
	}
	t.rows = append(t.rows[:lo], t.rows[hi+1:]...)
	t.calls = append(t.calls, Call{Op: OpDeleteRange, Start: start, End: end})
	return nil
}

// Calls returns the recorded mutations in call order.
func (t *Table) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// Cell returns the value at the 1-based (row, col).
func (t *Table) Cell(row, col int) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := row - table.FirstDataRow
	if i < 0 || i >= len(t.rows) || col < 1 || col > len(table.Columns) {
		return nil
	}
	return t.rows[i][col-1]
}

func (t *Table) set(row, col int, value any) error {
	i := row - table.FirstDataRow
	if i < 0 || i >= len(t.rows) || col < 1 || col > len(table.Columns) {
		return fmt.Errorf("cell %s: out of range", table.CellRef(row, col))
	}
	t.rows[i][col-1] = value
	return nil
}

func normalize(r []any) []any {
	out := make([]any, len(table.Columns))
	copy(out, r)
	return out
}

func parseRef(ref string) (row, col int, err error) {
	i := strings.IndexFunc(ref, func(r rune) bool { return r >= '0' && r <= '9' })
	if i <= 0 {
		return 0, 0, fmt.Errorf("invalid cell reference %q", ref)
	}
	for _, c := range strings.ToUpper(ref[:i]) {
		col = col*26 + int(c-'A'+1)
	}
	row, err = strconv.Atoi(ref[i:])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid cell reference %q: %w", ref, err)
	}
	return row, col, nil
}
