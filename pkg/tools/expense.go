package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ArionMiles/quina/pkg/dates"
	"github.com/ArionMiles/quina/pkg/expense"
	"github.com/ArionMiles/quina/pkg/search"
	"github.com/ArionMiles/quina/pkg/table"
)

// Tool names as the model sees them.
const (
	AddTransaction    = "add_transaction"
	AddTransactions   = "add_transactions"
	UpdateTransaction = "update_transaction"
	DeleteTransaction = "delete_transaction"
	CheckDataExists   = "check_data_exists"
	AnalyzeExpenses   = "analyze_expenses"
	CheckTodayDate    = "check_today_date"
	WebSearch         = "web_search"
)

// Searcher runs web searches.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) search.Response
}

// Default registers every tool. A nil searcher leaves web_search out.
func Default(engine *expense.Engine, searcher Searcher) (*Registry, error) {
	reg := NewRegistry()
	list := append(Expenses(engine), Today(engine.Today))
	if searcher != nil {
		list = append(list, Search(searcher))
	}
	for _, t := range list {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func categoryList() string {
	return strings.Join(expense.Categories, ", ")
}

type addArgs struct {
	Name     string `json:"name"`
	Amount   number `json:"amount"`
	Category string `json:"category"`
	DateStr  string `json:"date_str"`
	Notes    string `json:"notes"`
}

type addManyArgs struct {
	TransactionsJSON jsonPayload `json:"transactions_json"`
}

type updateArgs struct {
	Name     string `json:"name"`
	Field    string `json:"field"`
	NewValue text   `json:"new_value"`
	DateStr  string `json:"date_str"`
}

type deleteArgs struct {
	Name             string `json:"name"`
	DateStr          string `json:"date_str"`
	Category         string `json:"category"`
	DeleteAllMatches bool   `json:"delete_all_matches"`
}

type findArgs struct {
	Name      string `json:"name"`
	Category  string `json:"category"`
	Date      string `json:"date"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	DaysAgo   optInt `json:"days_ago"`
}

type analyzeArgs struct {
	Metric    string `json:"metric"`
	Category  string `json:"category"`
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Days      optInt `json:"days"`
}

type searchArgs struct {
	Query      string `json:"query"`
	MaxResults optInt `json:"max_results"`
}

// Expenses returns the six expense tools bound to engine.
func Expenses(engine *expense.Engine) []Tool {
	return []Tool{
		New(AddTransaction,
			"Add one transaction to the expense sheet. Check for an existing similar transaction first with "+CheckDataExists+".",
			ObjectSchema(map[string]any{
				"name":     StringProperty("Item name, e.g. 'Yogurt'"),
				"amount":   NumberProperty("Amount in IDR, positive, at most 100,000,000"),
				"category": StringEnumProperty("Category", expense.Categories...),
				"date_str": StringProperty("Optional date in MM/DD/YYYY; defaults to today"),
				"notes":    StringProperty("Optional note"),
			}, "name", "amount", "category"),
			func(ctx context.Context, a addArgs) (any, error) {
				if a.Amount.invalid != "" {
					return expense.Result{Status: expense.StatusError, Message: a.Amount.invalid}, nil
				}
				return engine.AddOne(ctx, expense.NewExpense{
					Name:     a.Name,
					Amount:   a.Amount.value,
					Category: a.Category,
					Date:     a.DateStr,
					Notes:    a.Notes,
				}), nil
			}),

		New(AddTransactions,
			fmt.Sprintf("Add up to %d transactions at once. Each object has name, amount, category and optional date_str and notes. Valid items are added even when others fail.", expense.MaxBatch),
			ObjectSchema(map[string]any{
				"transactions_json": StringProperty(`JSON array string, e.g. [{"name":"Coffee","amount":25000,"category":"Food"}]`),
			}, "transactions_json"),
			func(ctx context.Context, a addManyArgs) (any, error) {
				return engine.AddMany(ctx, string(a.TransactionsJSON)), nil
			}),

		New(UpdateTransaction,
			"Change one field on every transaction whose name matches. Confirm the target with the user when ambiguous.",
			ObjectSchema(map[string]any{
				"name":      StringProperty("Item name or partial phrase, e.g. 'plane ticket'"),
				"field":     StringEnumProperty("Column to update", table.Columns...),
				"new_value": StringProperty("The new value"),
				"date_str":  StringProperty("Optional MM/DD/YYYY filter"),
			}, "name", "field", "new_value"),
			func(ctx context.Context, a updateArgs) (any, error) {
				return engine.UpdateField(ctx, expense.UpdateRequest{
					Name:     a.Name,
					Field:    a.Field,
					NewValue: string(a.NewValue),
					Date:     a.DateStr,
				}), nil
			}),

		New(DeleteTransaction,
			"Delete transactions matching a name. Deletes more than one row only when delete_all_matches is true.",
			ObjectSchema(map[string]any{
				"name":               StringProperty("Item name or partial phrase"),
				"date_str":           StringProperty("Optional MM/DD/YYYY filter"),
				"category":           StringProperty("Optional category filter"),
				"delete_all_matches": BooleanProperty("Delete every match instead of requiring a single one"),
			}, "name"),
			func(ctx context.Context, a deleteArgs) (any, error) {
				return engine.Delete(ctx, expense.DeleteRequest{
					Name:     a.Name,
					Date:     a.DateStr,
					Category: a.Category,
					Bulk:     a.DeleteAllMatches,
				}), nil
			}),

		New(CheckDataExists,
			"Search transactions by name, category and date. Use before adding to avoid duplicates.",
			ObjectSchema(map[string]any{
				"name":       StringProperty("Name or comma-separated names, e.g. 'yogurt,coffee'"),
				"category":   StringProperty("Exact category, any case. One of: " + categoryList()),
				"date":       StringProperty("Single day, MM/DD/YYYY"),
				"start_date": StringProperty("Range start, MM/DD/YYYY; needs end_date"),
				"end_date":   StringProperty("Range end, MM/DD/YYYY; needs start_date"),
				"days_ago":   StringProperty("Whole number N: from today-N through today. Wins over the other date filters"),
			}),
			func(ctx context.Context, a findArgs) (any, error) {
				if a.DaysAgo.invalid != "" {
					return expense.FindResult{Status: expense.StatusError, Message: fmt.Sprintf("days_ago must be a whole number, got '%s'", a.DaysAgo.invalid)}, nil
				}
				return engine.Find(ctx, expense.FindQuery{
					Name:      a.Name,
					Category:  a.Category,
					Date:      a.Date,
					StartDate: a.StartDate,
					EndDate:   a.EndDate,
					DaysAgo:   a.DaysAgo.value,
				}), nil
			}),

		New(AnalyzeExpenses,
			"Aggregate transactions: sum, count or average of amounts, filtered by category, name substring, date range or the last N days.",
			ObjectSchema(map[string]any{
				"metric":     StringEnumProperty("Aggregate to compute", "sum", "count", "average"),
				"category":   StringProperty("Exact category, any case"),
				"name":       StringProperty("Case-insensitive substring of the name"),
				"start_date": StringProperty("Range start, MM/DD/YYYY; needs end_date"),
				"end_date":   StringProperty("Range end, MM/DD/YYYY; needs start_date"),
				"days":       StringProperty("Whole number N: only rows dated today-N or later"),
			}, "metric"),
			func(ctx context.Context, a analyzeArgs) (any, error) {
				if a.Days.invalid != "" {
					return expense.AnalyzeResult{Status: expense.StatusError, Message: fmt.Sprintf("days must be a whole number, got '%s'", a.Days.invalid)}, nil
				}
				return engine.Analyze(ctx, expense.AnalyzeQuery{
					Metric:    a.Metric,
					Category:  a.Category,
					Name:      a.Name,
					StartDate: a.StartDate,
					EndDate:   a.EndDate,
					Days:      a.Days.value,
				}), nil
			}),
	}
}

// Today returns the check_today_date tool.
func Today(today func() time.Time) Tool {
	return New(CheckTodayDate,
		"Return today's date as (MM/DD/YYYY).",
		ObjectSchema(map[string]any{}),
		func(context.Context, struct{}) (any, error) {
			return "(" + dates.Format(today()) + ")", nil
		})
}

// Search returns the web_search tool.
func Search(s Searcher) Tool {
	return New(WebSearch,
		"Search the internet. Returns instant answers when available and web results with snippets.",
		ObjectSchema(map[string]any{
			"query":       StringProperty("The search query"),
			"max_results": IntegerProperty(fmt.Sprintf("Number of web results, 1-%d, default %d", search.MaxResults, search.DefaultMaxResults)),
		}, "query"),
		func(ctx context.Context, a searchArgs) (any, error) {
			if strings.TrimSpace(a.Query) == "" {
				return search.Response{Status: "error", Error: "query is required"}, nil
			}
			n := search.DefaultMaxResults
			if a.MaxResults.value != nil {
				n = *a.MaxResults.value
			}
			return s.Search(ctx, a.Query, n), nil
		})
}
