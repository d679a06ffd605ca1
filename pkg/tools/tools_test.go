package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/quina/pkg/expense"
	"github.com/ArionMiles/quina/pkg/search"
	"github.com/ArionMiles/quina/pkg/table"
	"github.com/ArionMiles/quina/pkg/table/memory"
)

var fixedNow = time.Date(2025, time.November, 5, 10, 0, 0, 0, time.UTC)

type fakeSearcher struct {
	query string
	max   int
}

func (f *fakeSearcher) Search(_ context.Context, query string, maxResults int) search.Response {
	f.query, f.max = query, maxResults
	return search.Response{Status: "success", Query: query}
}

func newRegistry(t *testing.T, rows ...[]any) (*Registry, *memory.Table, *fakeSearcher) {
	t.Helper()
	tbl := memory.New(rows...)
	engine := expense.New(tbl, slog.New(slog.NewTextHandler(io.Discard, nil)),
		expense.WithClock(func() time.Time { return fixedNow }))
	s := &fakeSearcher{}
	reg, err := Default(engine, s)
	require.NoError(t, err)
	return reg, tbl, s
}

func call(t *testing.T, reg *Registry, name, args string) map[string]any {
	t.Helper()
	out, err := reg.Call(context.Background(), name, json.RawMessage(args))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded), out)
	return decoded
}

func TestDefaultRegistersAllTools(t *testing.T) {
	reg, _, _ := newRegistry(t)

	var names []string
	for _, tool := range reg.List() {
		names = append(names, tool.Name())
		assert.Equal(t, "object", tool.Schema()["type"], tool.Name())
		assert.NotEmpty(t, tool.Description(), tool.Name())
	}
	assert.Equal(t, []string{
		AddTransaction, AddTransactions, UpdateTransaction, DeleteTransaction,
		CheckDataExists, AnalyzeExpenses, CheckTodayDate, WebSearch,
	}, names)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	echo := New("echo", "echo", ObjectSchema(map[string]any{"s": StringProperty("")}),
		func(_ context.Context, a struct{ S string }) (any, error) { return a, nil })

	require.NoError(t, reg.Register(echo))
	assert.Error(t, reg.Register(echo), "duplicate names are rejected")

	_, err := reg.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownTool)

	_, err = reg.Call(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)

	out, err := reg.Call(context.Background(), "echo", json.RawMessage(`{"S":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"S":"hi"}`, out)

	out, err = reg.Call(context.Background(), "echo", nil)
	require.NoError(t, err, "missing arguments decode to the zero value")
	assert.JSONEq(t, `{"S":""}`, out)

	_, err = reg.Call(context.Background(), "echo", json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestAddTransactionAcceptsNumericStrings(t *testing.T) {
	reg, tbl, _ := newRegistry(t)

	got := call(t, reg, AddTransaction, `{"name":"Coffee","amount":"25,000","category":"Food"}`)
	assert.Equal(t, "success", got["status"])
	assert.Equal(t, "Transaction added: Coffee (Rp25,000 on 11/05/2025)", got["message"])
	assert.Equal(t, 1, tbl.Len())

	got = call(t, reg, AddTransaction, `{"name":"Coffee","amount":"lots","category":"Food"}`)
	assert.Equal(t, "error", got["status"])
	assert.Equal(t, "Amount must be a number, got 'lots'", got["message"])
	assert.Equal(t, 1, tbl.Len())
}

func TestAddTransactionRejectsNonFiniteAmounts(t *testing.T) {
	for _, amount := range []string{"NaN", "Inf", "-Infinity"} {
		t.Run(amount, func(t *testing.T) {
			reg, tbl, _ := newRegistry(t)
			got := call(t, reg, AddTransaction, `{"name":"Tea","amount":"`+amount+`","category":"Food"}`)
			assert.Equal(t, "error", got["status"])
			assert.Equal(t, "Amount must be a number, got '"+amount+"'", got["message"])
			assert.Zero(t, tbl.Len())
		})
	}
}

func TestAddTransactionsPayloadForms(t *testing.T) {
	tests := []struct {
		name string
		args string
	}{
		{name: "json string", args: `{"transactions_json":"[{\"name\":\"Tea\",\"amount\":5000,\"category\":\"Food\"}]"}`},
		{name: "inline array", args: `{"transactions_json":[{"name":"Tea","amount":5000,"category":"Food"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, tbl, _ := newRegistry(t)
			got := call(t, reg, AddTransactions, tt.args)
			assert.Equal(t, "success", got["status"])
			assert.EqualValues(t, 1, got["added_count"])
			assert.Equal(t, 1, tbl.Len())
		})
	}
}

func TestUpdateTransactionAcceptsNumbers(t *testing.T) {
	reg, tbl, _ := newRegistry(t, []any{"Coffee", 25000.0, "Food", "2025-11-01 08:00:00", "11/01/2025", ""})

	got := call(t, reg, UpdateTransaction, `{"name":"coffee","field":"amount","new_value":30000}`)
	assert.Equal(t, "success", got["status"], got["message"])
	assert.Equal(t, 30000.0, tbl.Cell(table.FirstDataRow, table.ColumnIndex(table.ColAmount)))
}

func TestUpdateTransactionRejectsNaN(t *testing.T) {
	reg, tbl, _ := newRegistry(t, []any{"Coffee", 25000.0, "Food", "2025-11-01 08:00:00", "11/01/2025", ""})

	got := call(t, reg, UpdateTransaction, `{"name":"coffee","field":"amount","new_value":"NaN"}`)
	assert.Equal(t, "error", got["status"])
	assert.Equal(t, "Amount must be a valid number", got["message"])
	assert.Empty(t, tbl.Calls())
}

func TestCheckDataExistsDaysAgo(t *testing.T) {
	reg, _, _ := newRegistry(t,
		[]any{"Coffee", 25000.0, "Food", "2025-11-04 08:00:00", "11/04/2025", ""},
		[]any{"Taxi", 40000.0, "Transport", "2025-10-01 08:00:00", "10/01/2025", ""},
	)

	got := call(t, reg, CheckDataExists, `{"days_ago":"2"}`)
	assert.Equal(t, true, got["exists"])
	assert.EqualValues(t, 1, got["match_count"])

	got = call(t, reg, CheckDataExists, `{"days_ago":""}`)
	assert.EqualValues(t, 2, got["match_count"], "an empty days_ago does not filter")

	got = call(t, reg, CheckDataExists, `{"days_ago":"soon"}`)
	assert.Equal(t, "error", got["status"])
	assert.Equal(t, "days_ago must be a whole number, got 'soon'", got["message"])
}

func TestAnalyzeExpensesDays(t *testing.T) {
	reg, _, _ := newRegistry(t,
		[]any{"Coffee", 25000.0, "Food", "2025-11-04 08:00:00", "11/04/2025", ""},
		[]any{"Lunch", 50000.0, "Food", "2025-11-03 08:00:00", "11/03/2025", ""},
	)

	got := call(t, reg, AnalyzeExpenses, `{"metric":"sum","days":7}`)
	assert.Equal(t, "success", got["status"])
	assert.EqualValues(t, 75000, got["value"])
}

func TestCheckTodayDate(t *testing.T) {
	reg, _, _ := newRegistry(t)
	out, err := reg.Call(context.Background(), CheckTodayDate, json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "(11/05/2025)", out)
}

func TestWebSearch(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		wantMax int
	}{
		{name: "default count", args: `{"query":"kurs rupiah"}`, wantMax: search.DefaultMaxResults},
		{name: "explicit count", args: `{"query":"kurs rupiah","max_results":3}`, wantMax: 3},
		{name: "count as string", args: `{"query":"kurs rupiah","max_results":"4"}`, wantMax: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _, s := newRegistry(t)
			got := call(t, reg, WebSearch, tt.args)
			assert.Equal(t, "success", got["status"])
			assert.Equal(t, "kurs rupiah", s.query)
			assert.Equal(t, tt.wantMax, s.max)
		})
	}

	t.Run("empty query", func(t *testing.T) {
		reg, _, s := newRegistry(t)
		got := call(t, reg, WebSearch, `{"query":"  "}`)
		assert.Equal(t, "error", got["status"])
		assert.Empty(t, s.query)
	})
}
