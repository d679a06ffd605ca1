// Package sheets implements table.Table on top of a Google Sheets worksheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/quina/pkg/table"
)

// Defaults for the rate-limit retry performed by the transport.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 2 * time.Second
)

// Config holds configuration for the Sheets table.
type Config struct {
	// SpreadsheetID is the ID of an existing spreadsheet.
	SpreadsheetID string
	// SheetName is the worksheet (tab) holding the expense rows.
	SheetName string
	// RetryAttempts bounds retries of rate-limited (HTTP 429) calls.
	// Defaults to DefaultRetryAttempts.
	RetryAttempts uint
	// RetryDelay is the initial delay between rate-limited attempts.
	// Defaults to DefaultRetryDelay.
	RetryDelay time.Duration
}

// Table reads and mutates one worksheet.
type Table struct {
	client        *sheets.Service
	spreadsheetID string
	sheetName     string
	sheetID       int64
	attempts      uint
	delay         time.Duration
	logger        *slog.Logger
}

var _ table.Table = (*Table)(nil)

// New creates a Sheets table, resolving the worksheet and writing the header
// row when the sheet is empty.
func New(ctx context.Context, httpClient *http.Client, cfg Config, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SpreadsheetID == "" || cfg.SheetName == "" {
		return nil, errors.New("spreadsheet ID and sheet name are required")
	}

	client, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	return newTable(ctx, client, cfg, logger)
}

func newTable(ctx context.Context, client *sheets.Service, cfg Config, logger *slog.Logger) (*Table, error) {
	t := &Table{
		client:        client,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		attempts:      cfg.RetryAttempts,
		delay:         cfg.RetryDelay,
		logger:        logger,
	}
	if t.attempts == 0 {
		t.attempts = DefaultRetryAttempts
	}
	if t.delay <= 0 {
		t.delay = DefaultRetryDelay
	}

	if err := t.resolveSheet(ctx); err != nil {
		return nil, err
	}
	if err := t.ensureHeaders(ctx); err != nil {
		return nil, err
	}

	logger.Info("sheets table initialized",
		"spreadsheet_id", t.spreadsheetID,
		"sheet", t.sheetName,
		"sheet_id", t.sheetID,
	)
	return t, nil
}

func (t *Table) resolveSheet(ctx context.Context) error {
	var spreadsheet *sheets.Spreadsheet
	err := t.do(func() error {
		var err error
		spreadsheet, err = t.client.Spreadsheets.Get(t.spreadsheetID).
			Fields("spreadsheetId", "properties.title", "sheets.properties").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return table.Unavailable("getting spreadsheet", err)
	}

	for _, s := range spreadsheet.Sheets {
		if s.Properties != nil && s.Properties.Title == t.sheetName {
			t.sheetID = s.Properties.SheetId
			return nil
		}
	}
	return fmt.Errorf("sheet %q not found in spreadsheet %s", t.sheetName, t.spreadsheetID)
}

func (t *Table) ensureHeaders(ctx context.Context) error {
	headerRange := fmt.Sprintf("%s!A1:%s1", t.sheetName, table.ColumnLetter(len(table.Columns)))

	var current *sheets.ValueRange
	err := t.do(func() error {
		var err error
		current, err = t.client.Spreadsheets.Values.Get(t.spreadsheetID, headerRange).Context(ctx).Do()
		return err
	})
	if err != nil {
		return table.Unavailable("reading headers", err)
	}
	if len(current.Values) > 0 && len(current.Values[0]) > 0 {
		return nil
	}

	header := make([]any, len(table.Columns))
	for i, c := range table.Columns {
		header[i] = c
	}
	err = t.do(func() error {
		_, err := t.client.Spreadsheets.Values.Update(t.spreadsheetID, headerRange, &sheets.ValueRange{
			Values: [][]any{header},
		}).ValueInputOption("RAW").Context(ctx).Do()
		return err
	})
	if err != nil {
		return table.Unavailable("writing headers", err)
	}

	t.logger.Info("wrote headers to empty sheet")
	return nil
}

// ReadAll returns every data row with unformatted values, so date serials
// arrive as numbers and text dates as strings.
func (t *Table) ReadAll(ctx context.Context) ([]table.Row, error) {
	readRange := fmt.Sprintf("%s!A1:%s", t.sheetName, table.ColumnLetter(len(table.Columns)))

	var resp *sheets.ValueRange
	err := t.do(func() error {
		var err error
		resp, err = t.client.Spreadsheets.Values.Get(t.spreadsheetID, readRange).
			ValueRenderOption("UNFORMATTED_VALUE").
			DateTimeRenderOption("SERIAL_NUMBER").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return nil, table.Unavailable("reading rows", err)
	}

	return rowsFromValues(resp.Values), nil
}

// rowsFromValues keys every data row by the header row. Empty rows are kept so
// that slice positions still map to sheet rows.
func rowsFromValues(values [][]any) []table.Row {
	if len(values) == 0 {
		return nil
	}

	header := make([]string, len(values[0]))
	for i, h := range values[0] {
		header[i] = fmt.Sprint(h)
	}

	rows := make([]table.Row, 0, len(values)-1)
	for _, raw := range values[1:] {
		row := make(table.Row, len(header))
		for i, name := range header {
			if i < len(raw) && raw[i] != nil && raw[i] != "" {
				row[name] = raw[i]
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// Append adds one row after the last data row.
func (t *Table) Append(ctx context.Context, row []any) error {
	return t.AppendMany(ctx, [][]any{row})
}

// AppendMany adds rows in a single API call.
func (t *Table) AppendMany(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	writeRange := fmt.Sprintf("%s!A1", t.sheetName)
	err := t.do(func() error {
		_, err := t.client.Spreadsheets.Values.Append(t.spreadsheetID, writeRange, &sheets.ValueRange{
			Values: rows,
		}).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		return err
	})
	if err != nil {
		return table.Unavailable("appending rows", err)
	}

	t.logger.Debug("appended rows", "count", len(rows))
	return nil
}

// UpdateCell writes one value at the 1-based (row, col).
func (t *Table) UpdateCell(ctx context.Context, row, col int, value any) error {
	cell := fmt.Sprintf("%s!%s", t.sheetName, table.CellRef(row, col))
	err := t.do(func() error {
		_, err := t.client.Spreadsheets.Values.Update(t.spreadsheetID, cell, &sheets.ValueRange{
			Values: [][]any{{value}},
		}).ValueInputOption("USER_ENTERED").Context(ctx).Do()
		return err
	})
	if err != nil {
		return table.Unavailable("updating cell", err)
	}
	return nil
}

// BatchUpdateCells writes every cell in one values.batchUpdate call.
func (t *Table) BatchUpdateCells(ctx context.Context, updates []table.CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	data := make([]*sheets.ValueRange, 0, len(updates))
	for _, u := range updates {
		data = append(data, &sheets.ValueRange{
			Range:  fmt.Sprintf("%s!%s", t.sheetName, u.Ref),
			Values: [][]any{{u.Value}},
		})
	}

	err := t.do(func() error {
		_, err := t.client.Spreadsheets.Values.BatchUpdate(t.spreadsheetID, &sheets.BatchUpdateValuesRequest{
			ValueInputOption: "USER_ENTERED",
			Data:             data,
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return table.Unavailable("batch updating cells", err)
	}

	t.logger.Debug("updated cells", "count", len(updates))
	return nil
}

// DeleteRowRange removes rows start..end (1-based, inclusive).
func (t *Table) DeleteRowRange(ctx context.Context, start, end int) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    t.sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(start - 1),
					EndIndex:   int64(end),
					// The first worksheet has ID 0, which omitempty would drop.
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}

	err := t.do(func() error {
		_, err := t.client.Spreadsheets.BatchUpdate(t.spreadsheetID, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return table.Unavailable("deleting rows", err)
	}

	t.logger.Info("deleted rows", "start", start, "end", end)
	return nil
}

// do runs fn, retrying only when the API reports rate limiting.
func (t *Table) do(fn func() error) error {
	return retry.Do(
		fn,
		retry.RetryIf(func(err error) bool {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
				t.logger.Warn("rate limited, will retry", "error", err)
				return true
			}
			return false
		}),
		retry.Attempts(t.attempts),
		retry.Delay(t.delay),
		retry.LastErrorOnly(true),
	)
}
