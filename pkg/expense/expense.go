// Package expense implements the query and mutation operations over the
// expense table: find, analyze, add, update and delete.
//
// Every operation reads the whole table first and keeps nothing between calls.
// Expected failures (bad input, nothing matched, ambiguous delete) are reported
// through the Status of the returned result, never as a Go error. Store
// failures are logged and turned into a generic "try again" result.
package expense

import (
	"context"
	"log/slog"
	"time"

	"github.com/ArionMiles/quina/pkg/dates"
	"github.com/ArionMiles/quina/pkg/fuzzy"
	"github.com/ArionMiles/quina/pkg/table"
)

// Status is the outcome of an operation.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusError           Status = "error"
	StatusNotFound        Status = "not_found"
	StatusMultipleMatches Status = "multiple_matches"
)

// CreatedLayout is the layout of the Created column.
const CreatedLayout = time.DateTime

// MaxBatch is the largest accepted AddMany payload.
const MaxBatch = 50

// Record is one expense row as returned to callers, with Date in MM/DD/YYYY.
type Record struct {
	Name     string  `json:"Name"`
	Amount   float64 `json:"Amount"`
	Category string  `json:"Category"`
	Created  string  `json:"Created"`
	Date     string  `json:"Date"`
	Notes    string  `json:"Notes"`

	// Row is the 1-based sheet row the record was read from.
	Row int `json:"-"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for default dates and Created stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs expense operations against a table.
type Engine struct {
	table  table.Table
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Engine over t.
func New(t table.Table, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		table:  t,
		logger: logger.With("component", "expense"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Today returns the current calendar date.
func (e *Engine) Today() time.Time {
	return dates.Today(e.now)
}

// readRows loads the table and pairs every row with its sheet row number.
func (e *Engine) readRows(ctx context.Context) ([]sheetRow, error) {
	rows, err := e.table.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]sheetRow, len(rows))
	for i, r := range rows {
		out[i] = sheetRow{num: i + table.FirstDataRow, data: r}
	}
	return out, nil
}

// sheetRow is a data row and its 1-based position in the sheet.
type sheetRow struct {
	num  int
	data table.Row
}

func (r sheetRow) name() string {
	return r.data.String(table.ColName)
}

// date returns the normalized Date cell.
func (r sheetRow) date() (time.Time, bool) {
	raw, ok := r.data[table.ColDate]
	if !ok {
		return time.Time{}, false
	}
	d, err := dates.Normalize(raw)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func (r sheetRow) record() Record {
	rec := Record{
		Name:     r.name(),
		Category: r.data.String(table.ColCategory),
		Notes:    r.data.String(table.ColNotes),
		Row:      r.num,
	}

	if amount, ok := amountOf(r.data[table.ColAmount]); ok {
		rec.Amount = amount.InexactFloat64()
	}

	if d, ok := r.date(); ok {
		rec.Date = dates.Format(d)
	} else {
		rec.Date = r.data.String(table.ColDate)
	}

	switch v := r.data[table.ColCreated].(type) {
	case float64:
		rec.Created = dates.SerialTime(v).Format(CreatedLayout)
	default:
		rec.Created = r.data.String(table.ColCreated)
	}
	return rec
}

// names returns the trimmed names of rows, skipping blank ones. Duplicates are
// kept so the similarity stage sees the table as it is.
func names(rows []sheetRow) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if n := r.name(); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// matchSet runs the matcher and returns the matched names as a set.
func matchSet(m fuzzy.Matcher, query string, candidates []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, n := range m.Match(query, candidates) {
		set[n] = struct{}{}
	}
	return set
}
