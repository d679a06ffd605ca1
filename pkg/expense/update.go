package expense

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ArionMiles/quina/pkg/dates"
	"github.com/ArionMiles/quina/pkg/fuzzy"
	"github.com/ArionMiles/quina/pkg/table"
)

// UpdateRequest changes one field on every row whose name matches Name.
type UpdateRequest struct {
	Name     string
	Field    string
	NewValue string
	// Date, when set, restricts the update to rows dated that day.
	Date string
}

// UpdateField sets one field on all rows matching the request, in one batch
// write. Every matching row is changed; there is no multiple-match gate.
func (e *Engine) UpdateField(ctx context.Context, req UpdateRequest) Result {
	field, err := ParseField(req.Field)
	if err != nil {
		return Result{Status: StatusError, Message: messageOf(err, "Invalid field")}
	}

	value, err := field.Normalize(req.NewValue)
	if err != nil {
		return Result{Status: StatusError, Message: messageOf(err, "Invalid value")}
	}

	if req.Name == "" || utf8.RuneCountInString(req.Name) > MaxNameLength {
		return Result{Status: StatusError, Message: fmt.Sprintf("Search name must be between 1-%d characters", MaxNameLength)}
	}

	day, byDate, err := parseFilterDate(req.Date)
	if err != nil {
		return Result{Status: StatusError, Message: messageOf(err, "Invalid date filter")}
	}

	rows, err := e.readRows(ctx)
	if err != nil {
		e.logger.Error("failed to read expenses", "op", "update", "error", err)
		return Result{Status: StatusError, Message: "Failed to update transaction. Please try again."}
	}

	matched := matchSet(fuzzy.Matcher{Limit: fuzzy.SearchLimit}, req.Name, names(rows))
	if len(matched) == 0 {
		return Result{Status: StatusNotFound, Message: fmt.Sprintf("No match found similar to '%s'", req.Name)}
	}
	matchedNames := slices.Sorted(maps.Keys(matched))

	col := table.ColumnIndex(field.Column())
	var updates []table.CellUpdate
	for _, r := range rows {
		if _, ok := matched[r.name()]; !ok {
			continue
		}
		if byDate {
			d, ok := r.date()
			if !ok || !dates.SameDay(d, day) {
				continue
			}
		}
		updates = append(updates, table.CellUpdate{Ref: table.CellRef(r.num, col), Value: value})
	}

	if len(updates) == 0 {
		return Result{
			Status:  StatusNotFound,
			Message: fmt.Sprintf("Found similar name(s): %s, but no matching date (%s)", strings.Join(matchedNames, ", "), req.Date),
		}
	}

	if err := e.table.BatchUpdateCells(ctx, updates); err != nil {
		e.logger.Error("failed to update transaction", "field", field, "rows", len(updates), "error", err)
		return Result{Status: StatusError, Message: "Failed to update transaction. Please try again."}
	}

	e.logger.Info("transactions updated", "field", field, "rows", len(updates))
	return Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Updated %d row(s): %s → %s = %v", len(updates), strings.Join(matchedNames, ", "), field, value),
	}
}
