package export

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/quina/pkg/expense"
)

var records = []expense.Record{
	{Name: "Coffee", Amount: 25000, Category: "Food", Created: "2025-11-04 08:00:00", Date: "11/04/2025", Row: 2},
	{Name: "Taxi, airport", Amount: 152500.5, Category: "Transport", Created: "2025-11-04 18:30:00", Date: "11/04/2025", Notes: "late \"flight\"", Row: 3},
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "csv", want: FormatCSV},
		{in: " JSON ", want: FormatJSON},
		{in: "out/expenses.csv", want: FormatCSV},
		{in: "expenses.JSON", want: FormatJSON},
		{in: "xlsx", wantErr: true},
		{in: "expenses.txt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, records))

	want := "Name,Amount,Category,Created,Date,Notes\n" +
		"Coffee,25000,Food,2025-11-04 08:00:00,11/04/2025,\n" +
		"\"Taxi, airport\",152500.5,Transport,2025-11-04 18:30:00,11/04/2025,\"late \"\"flight\"\"\"\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, records))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Coffee", got[0]["Name"])
	assert.NotContains(t, got[0], "Row")

	buf.Reset()
	require.NoError(t, Write(&buf, FormatJSON, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWriteUnknownFormat(t *testing.T) {
	assert.ErrorIs(t, Write(io.Discard, "xml", records), ErrUnknownFormat)
}

func TestWriteFileReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "expenses.csv")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, WriteFile(path, FormatCSV, records, logger))
	require.NoError(t, WriteFile(path, FormatCSV, records[:1], logger))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Name,Amount,Category,Created,Date,Notes\nCoffee,25000,Food,2025-11-04 08:00:00,11/04/2025,\n", string(data))
}
