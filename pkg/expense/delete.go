package expense

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/ArionMiles/quina/pkg/dates"
	"github.com/ArionMiles/quina/pkg/fuzzy"
	"github.com/ArionMiles/quina/pkg/table"
)

// DeleteRequest selects rows to delete.
type DeleteRequest struct {
	Name string
	// Date and Category narrow the name matches. Both are exact; Category
	// ignores case.
	Date     string
	Category string
	// Bulk allows more than one row to be deleted.
	Bulk bool
}

// DeleteResult is the outcome of Delete. Items holds the rows that were
// deleted, or the candidates when the status is StatusMultipleMatches.
type DeleteResult struct {
	Status       Status   `json:"status"`
	Message      string   `json:"message"`
	DeletedCount int      `json:"deleted_count"`
	Items        []Record `json:"deleted_items"`
	MatchesFound int      `json:"matches_found,omitempty"`
}

// RowRange is an inclusive run of consecutive sheet rows.
type RowRange struct {
	Start, End int
}

// Len returns the number of rows in the range.
func (r RowRange) Len() int { return r.End - r.Start + 1 }

// ContiguousRanges groups row numbers into maximal runs of consecutive rows,
// ordered by descending start so that deleting them in order never shifts a
// run that is still pending.
func ContiguousRanges(rows []int) []RowRange {
	if len(rows) == 0 {
		return nil
	}

	sorted := slices.Clone(rows)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	var ranges []RowRange
	cur := RowRange{Start: sorted[0], End: sorted[0]}
	for _, r := range sorted[1:] {
		if r == cur.End+1 {
			cur.End = r
			continue
		}
		ranges = append(ranges, cur)
		cur = RowRange{Start: r, End: r}
	}
	ranges = append(ranges, cur)

	slices.Reverse(ranges)
	return ranges
}

// Delete removes the rows matching req. When more than one row qualifies and
// Bulk is false nothing is deleted and the candidates are returned.
func (e *Engine) Delete(ctx context.Context, req DeleteRequest) DeleteResult {
	res := DeleteResult{Items: []Record{}}

	if strings.TrimSpace(req.Name) == "" {
		res.Status = StatusError
		res.Message = "Name is required"
		return res
	}

	day, byDate, err := parseFilterDate(req.Date)
	if err != nil {
		res.Status = StatusError
		res.Message = messageOf(err, "Invalid date filter")
		return res
	}
	category := strings.TrimSpace(req.Category)

	rows, err := e.readRows(ctx)
	if err != nil {
		e.logger.Error("failed to read expenses", "op", "delete", "error", err)
		res.Status = StatusError
		res.Message = "Failed to delete transaction. Please try again."
		return res
	}
	if len(rows) == 0 {
		res.Status = StatusError
		res.Message = "No data found in sheet"
		return res
	}

	matched := matchSet(fuzzy.Matcher{Limit: fuzzy.DeleteLimit}, req.Name, names(rows))
	if len(matched) == 0 {
		res.Status = StatusNotFound
		res.Message = fmt.Sprintf("No transactions found matching '%s'", req.Name)
		return res
	}

	var targets []int
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
		if category != "" && !strings.EqualFold(r.data.String(table.ColCategory), category) {
			continue
		}
		targets = append(targets, r.num)
		res.Items = append(res.Items, r.record())
	}

	switch {
	case len(targets) == 0:
		var filters []string
		if byDate {
			filters = append(filters, "date="+req.Date)
		}
		if category != "" {
			filters = append(filters, "category="+category)
		}
		suffix := ""
		if len(filters) > 0 {
			suffix = " with filters: " + strings.Join(filters, ", ")
		}
		res.Status = StatusNotFound
		res.Message = fmt.Sprintf("Found similar names %s but no matches%s",
			strings.Join(slices.Sorted(maps.Keys(matched)), ", "), suffix)
		return res

	case len(targets) > 1 && !req.Bulk:
		res.Status = StatusMultipleMatches
		res.MatchesFound = len(targets)
		res.Message = fmt.Sprintf("Found %d matches. Set delete_all_matches=true to delete all, or add date/category filters to narrow down.", len(targets))
		return res
	}

	for _, rng := range ContiguousRanges(targets) {
		if err := e.table.DeleteRowRange(ctx, rng.Start, rng.End); err != nil {
			e.logger.Error("failed to delete rows", "start", rng.Start, "end", rng.End, "deleted", res.DeletedCount, "error", err)
			res.Status = StatusError
			res.Message = "Failed to delete transaction. Please try again."
			if res.DeletedCount > 0 {
				res.Message = fmt.Sprintf("Deleted %d of %d transaction(s) before a failure. Please check the sheet and try again.", res.DeletedCount, len(targets))
			}
			res.Items = []Record{}
			return res
		}
		res.DeletedCount += rng.Len()
	}

	e.logger.Info("transactions deleted", "count", res.DeletedCount)
	res.Status = StatusSuccess
	res.Message = fmt.Sprintf("Successfully deleted %d transaction(s)", res.DeletedCount)
	return res
}
