package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/ArionMiles/quina/pkg/expense"
	"github.com/ArionMiles/quina/pkg/table"
)

func writeCSV(w io.Writer, records []expense.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Columns); err != nil {
		return fmt.Errorf("writing csv headers: %w", err)
	}

	for _, r := range records {
		record := []string{
			r.Name,
			strconv.FormatFloat(r.Amount, 'f', -1, 64),
			r.Category,
			r.Created,
			r.Date,
			r.Notes,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing csv record: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}
	return nil
}
