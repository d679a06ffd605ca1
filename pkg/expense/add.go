package expense

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ArionMiles/quina/pkg/dates"
)

// Result is the outcome of a single add or an update.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// NewExpense is a record to insert. Date defaults to today when empty.
type NewExpense struct {
	Name     string
	Amount   float64
	Category string
	Date     string
	Notes    string
}

// validate checks every field and returns the row to append.
func (e *Engine) validate(in NewExpense, created, today string) ([]any, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}
	category, err := validateCategory(in.Category)
	if err != nil {
		return nil, err
	}

	date := today
	if in.Date != "" {
		if date, err = validateDate(in.Date); err != nil {
			return nil, err
		}
	}

	notes, err := validateNotes(in.Notes)
	if err != nil {
		return nil, err
	}

	return []any{name, in.Amount, category, created, date, notes}, nil
}

func (e *Engine) stamps() (created, today string) {
	now := e.now()
	return now.Format(CreatedLayout), dates.Format(e.Today())
}

// AddOne validates and appends a single record. Any invalid field rejects the
// whole call.
func (e *Engine) AddOne(ctx context.Context, in NewExpense) Result {
	created, today := e.stamps()
	row, err := e.validate(in, created, today)
	if err != nil {
		return Result{Status: StatusError, Message: messageOf(err, "Invalid transaction")}
	}

	if err := e.table.Append(ctx, row); err != nil {
		e.logger.Error("failed to add transaction", "name", row[0], "error", err)
		return Result{Status: StatusError, Message: "Failed to add transaction. Please try again."}
	}

	e.logger.Info("transaction added", "name", row[0], "category", row[2], "date", row[4])
	return Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Transaction added: %s (%s on %s)", row[0], formatRupiah(in.Amount), row[4]),
	}
}

// ItemError reports why one item of a batch was skipped.
type ItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// BatchResult is the outcome of AddMany.
type BatchResult struct {
	Status     Status      `json:"status"`
	Message    string      `json:"message"`
	AddedCount int         `json:"added_count"`
	ErrorCount int         `json:"error_count"`
	Errors     []ItemError `json:"errors"`
}

// AddMany appends every valid item of a JSON array in one call. Invalid items
// are skipped and reported by index.
func (e *Engine) AddMany(ctx context.Context, payload string) BatchResult {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return BatchResult{Status: StatusError, Message: "transactions_json must be a valid JSON array string", Errors: []ItemError{}}
	}
	if len(items) == 0 {
		return BatchResult{Status: StatusError, Message: "transactions_json must contain a non-empty JSON array", Errors: []ItemError{}}
	}
	if len(items) > MaxBatch {
		return BatchResult{Status: StatusError, Message: fmt.Sprintf("Maximum %d transactions per batch", MaxBatch), Errors: []ItemError{}}
	}

	created, today := e.stamps()
	rows := make([][]any, 0, len(items))
	errs := []ItemError{}

	for i, raw := range items {
		in, err := decodeItem(raw)
		if err == nil {
			var row []any
			row, err = e.validate(in, created, today)
			if err == nil {
				rows = append(rows, row)
				continue
			}
		}
		errs = append(errs, ItemError{Index: i, Message: messageOf(err, "Invalid transaction")})
	}

	res := BatchResult{ErrorCount: len(errs), Errors: errs}
	if len(rows) == 0 {
		res.Status = StatusError
		res.Message = "No valid transactions to add"
		return res
	}

	if err := e.table.AppendMany(ctx, rows); err != nil {
		e.logger.Error("failed to add transactions", "count", len(rows), "error", err)
		return BatchResult{Status: StatusError, Message: "Failed to add transactions. Please try again.", Errors: []ItemError{}}
	}

	e.logger.Info("transactions added", "added", len(rows), "skipped", len(errs))
	res.Status = StatusSuccess
	res.AddedCount = len(rows)
	res.Message = fmt.Sprintf("Added %d transaction(s)", len(rows))
	return res
}

// decodeItem reads one batch item. Type mismatches become validation errors
// naming the offending field.
func decodeItem(raw json.RawMessage) (NewExpense, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return NewExpense{}, invalid("Item must be an object")
	}

	var in NewExpense
	var ok bool

	if in.Name, ok = optionalString(fields, "name"); !ok || in.Name == "" {
		return NewExpense{}, invalid("Name is required and must be text")
	}

	num, isNum := fields["amount"].(json.Number)
	if !isNum {
		return NewExpense{}, invalid("Amount must be a number, got %s", jsonType(fields["amount"]))
	}
	amount, err := num.Float64()
	if err != nil {
		return NewExpense{}, invalid("Amount must be a number, got %s", num)
	}
	in.Amount = amount

	if in.Category, ok = optionalString(fields, "category"); !ok {
		return NewExpense{}, invalid("Category must be text")
	}

	date, ok := optionalString(fields, "date_str")
	if date == "" && ok {
		date, ok = optionalString(fields, "date")
	}
	if !ok {
		return NewExpense{}, invalid("Date must be in MM/DD/YYYY format")
	}
	in.Date = strings.TrimSpace(date)

	if in.Notes, ok = optionalString(fields, "notes"); !ok {
		return NewExpense{}, invalid("Notes must be text")
	}
	return in, nil
}

// optionalString returns fields[key] as a string. A missing or null key is an
// empty string; any other type is reported with ok false.
func optionalString(fields map[string]any, key string) (string, bool) {
	v, present := fields[key]
	if !present || v == nil {
		return "", true
	}
	s, ok := v.(string)
	return s, ok
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
