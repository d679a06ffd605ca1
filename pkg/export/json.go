package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ArionMiles/quina/pkg/expense"
)

func writeJSON(w io.Writer, records []expense.Record) error {
	if records == nil {
		records = []expense.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encoding json: %w", err)
	}
	return nil
}
