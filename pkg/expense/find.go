package expense

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/quina/pkg/fuzzy"
	"github.com/ArionMiles/quina/pkg/table"
)

// FindQuery narrows the rows returned by Find. Empty fields do not filter.
type FindQuery struct {
	// Name is one or more comma-separated alternatives.
	Name     string
	Category string
	// Date selects one day. Ignored when DaysAgo is set.
	Date string
	// StartDate and EndDate select an inclusive range. Used only when both are
	// set and neither DaysAgo nor Date is.
	StartDate string
	EndDate   string
	// DaysAgo selects today-N through today and wins over every other date
	// selector.
	DaysAgo *int
}

// FiltersUsed echoes the filters a Find applied.
type FiltersUsed struct {
	Name      []string `json:"name"`
	Category  string   `json:"category"`
	Date      string   `json:"date"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	DaysAgo   *int     `json:"days_ago,omitempty"`
}

// FindResult is the outcome of Find.
type FindResult struct {
	Status      Status      `json:"status"`
	Message     string      `json:"message,omitempty"`
	Exists      bool        `json:"exists"`
	MatchCount  int         `json:"match_count"`
	Matches     []string    `json:"matches"`
	Details     []Record    `json:"details"`
	FiltersUsed FiltersUsed `json:"filters_used"`
}

// dateRange is an inclusive calendar-day window. A zero bound is open.
type dateRange struct {
	from, to time.Time
}

func (r dateRange) contains(d time.Time) bool {
	if !r.from.IsZero() && d.Before(r.from) {
		return false
	}
	if !r.to.IsZero() && d.After(r.to) {
		return false
	}
	return true
}

// Find reports whether rows matching q exist and returns them.
func (e *Engine) Find(ctx context.Context, q FindQuery) FindResult {
	res := FindResult{
		Status:  StatusSuccess,
		Matches: []string{},
		Details: []Record{},
		FiltersUsed: FiltersUsed{
			Category:  q.Category,
			Date:      q.Date,
			StartDate: q.StartDate,
			EndDate:   q.EndDate,
			DaysAgo:   q.DaysAgo,
		},
	}

	alternatives := splitNames(q.Name)
	res.FiltersUsed.Name = alternatives

	window, err := e.findWindow(q)
	if err != nil {
		res.Status = StatusError
		res.Message = messageOf(err, "Invalid date filter")
		return res
	}

	rows, err := e.readRows(ctx)
	if err != nil {
		e.logger.Error("failed to read expenses", "op", "find", "error", err)
		res.Status = StatusError
		res.Message = "Failed to search transactions. Please try again."
		return res
	}

	kept := make([]sheetRow, 0, len(rows))
	for _, r := range rows {
		d, ok := r.date()
		if !ok || !window.contains(d) {
			continue
		}
		kept = append(kept, r)
	}

	if cat := strings.TrimSpace(q.Category); cat != "" {
		kept = slices.DeleteFunc(kept, func(r sheetRow) bool {
			return !strings.EqualFold(r.data.String(table.ColCategory), cat)
		})
	}

	if len(alternatives) > 0 {
		candidates := uniqueNames(kept)
		matched := make(map[string]struct{})
		for _, alt := range alternatives {
			for n := range matchSet(fuzzy.Matcher{Limit: fuzzy.SearchLimit}, alt, candidates) {
				matched[n] = struct{}{}
			}
		}
		kept = slices.DeleteFunc(kept, func(r sheetRow) bool {
			_, ok := matched[r.name()]
			return !ok
		})
	}

	seen := make(map[string]struct{})
	for _, r := range kept {
		rec := r.record()
		res.Details = append(res.Details, rec)
		if rec.Name == "" {
			continue
		}
		if _, ok := seen[rec.Name]; !ok {
			seen[rec.Name] = struct{}{}
			res.Matches = append(res.Matches, rec.Name)
		}
	}
	slices.Sort(res.Matches)

	res.MatchCount = len(res.Details)
	res.Exists = res.MatchCount > 0
	return res
}

// findWindow resolves the date selector of q, in precedence order.
func (e *Engine) findWindow(q FindQuery) (dateRange, error) {
	switch {
	case q.DaysAgo != nil:
		if *q.DaysAgo < 0 {
			return dateRange{}, invalid("days_ago must not be negative")
		}
		today := e.Today()
		return dateRange{from: today.AddDate(0, 0, -*q.DaysAgo), to: today}, nil
	case strings.TrimSpace(q.Date) != "":
		d, err := inputDate(q.Date)
		if err != nil {
			return dateRange{}, err
		}
		return dateRange{from: d, to: d}, nil
	case strings.TrimSpace(q.StartDate) != "" && strings.TrimSpace(q.EndDate) != "":
		return inputRange(q.StartDate, q.EndDate)
	default:
		return dateRange{}, nil
	}
}

func inputRange(start, end string) (dateRange, error) {
	from, err := inputDate(start)
	if err != nil {
		return dateRange{}, err
	}
	to, err := inputDate(end)
	if err != nil {
		return dateRange{}, err
	}
	return dateRange{from: from, to: to}, nil
}

func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func uniqueNames(rows []sheetRow) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, n := range names(rows) {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Metric is an aggregate computed by Analyze.
type Metric string

const (
	MetricSum     Metric = "sum"
	MetricCount   Metric = "count"
	MetricAverage Metric = "average"
)

// ParseMetric accepts a metric name in any case, surrounded by spaces.
func ParseMetric(s string) (Metric, error) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MetricSum, MetricCount, MetricAverage:
		return m, nil
	default:
		return "", invalid("Unsupported metric '%s'. Must be one of: sum, count, average", m)
	}
}

// AnalyzeQuery selects rows to aggregate. Empty fields do not filter.
type AnalyzeQuery struct {
	Metric   string
	Category string
	// Name is a plain case-insensitive substring, not a fuzzy match.
	Name string
	// StartDate and EndDate apply only together.
	StartDate string
	EndDate   string
	// Days keeps rows dated today-N or later. Applied before the range.
	Days *int
}

// AnalyzeResult is the outcome of Analyze. Exists is false, and Value zero,
// when no row survives the filters.
type AnalyzeResult struct {
	Status   Status   `json:"status"`
	Message  string   `json:"message,omitempty"`
	Exists   bool     `json:"exists"`
	Metric   Metric   `json:"metric,omitempty"`
	Value    float64  `json:"value"`
	RowCount int      `json:"row_count"`
	Details  []Record `json:"details"`
}

// Analyze computes a sum, count or average of Amount over the matching rows.
func (e *Engine) Analyze(ctx context.Context, q AnalyzeQuery) AnalyzeResult {
	res := AnalyzeResult{Status: StatusSuccess, Details: []Record{}}

	metric, err := ParseMetric(q.Metric)
	if err != nil {
		res.Status = StatusError
		res.Message = messageOf(err, "Unsupported metric")
		return res
	}
	res.Metric = metric

	var since time.Time
	if q.Days != nil {
		if *q.Days < 0 {
			res.Status = StatusError
			res.Message = "days must not be negative"
			return res
		}
		since = e.Today().AddDate(0, 0, -*q.Days)
	}

	var window dateRange
	if strings.TrimSpace(q.StartDate) != "" && strings.TrimSpace(q.EndDate) != "" {
		window, err = inputRange(q.StartDate, q.EndDate)
		if err != nil {
			res.Status = StatusError
			res.Message = messageOf(err, "Invalid date filter")
			return res
		}
	}

	rows, err := e.readRows(ctx)
	if err != nil {
		e.logger.Error("failed to read expenses", "op", "analyze", "error", err)
		res.Status = StatusError
		res.Message = "Failed to analyze expenses. Please try again."
		return res
	}

	category := strings.ToLower(strings.TrimSpace(q.Category))
	needle := strings.ToLower(strings.TrimSpace(q.Name))

	total := decimal.Zero
	var counted int64
	for _, r := range rows {
		d, ok := r.date()
		if !ok {
			continue
		}
		if !since.IsZero() && d.Before(since) {
			continue
		}
		if !window.contains(d) {
			continue
		}
		if category != "" && strings.ToLower(r.data.String(table.ColCategory)) != category {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(r.name()), needle) {
			continue
		}

		res.Details = append(res.Details, r.record())
		amount, ok := amountOf(r.data[table.ColAmount])
		if !ok {
			e.logger.Warn("skipping non-numeric amount", "row", r.num)
			continue
		}
		total = total.Add(amount)
		counted++
	}

	res.RowCount = len(res.Details)
	if res.RowCount == 0 {
		return res
	}
	res.Exists = true

	switch metric {
	case MetricSum:
		res.Value = total.InexactFloat64()
	case MetricCount:
		res.Value = float64(counted)
	case MetricAverage:
		if counted > 0 {
			res.Value = total.Div(decimal.NewFromInt(counted)).InexactFloat64()
		}
	}
	return res
}
