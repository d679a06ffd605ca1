// Package export writes expense records to CSV or JSON files.
package export

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ArionMiles/quina/pkg/expense"
)

// Format is an output encoding.
type Format string

// Formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ErrUnknownFormat is returned for formats other than csv and json.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat accepts a format name or a file name with a known extension.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if ext := filepath.Ext(s); ext != "" {
		s = ext[1:]
	}
	switch Format(s) {
	case FormatCSV, FormatJSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Write encodes records to w.
func Write(w io.Writer, format Format, records []expense.Record) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, records)
	case FormatJSON:
		return writeJSON(w, records)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// WriteFile writes records to path, replacing any existing file.
func WriteFile(path string, format Format, records []expense.Record, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening %s file: %w", format, err)
	}
	if err := Write(file, format, records); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			return fmt.Errorf("writing %s: %w (close error: %w)", format, err, closeErr)
		}
		return fmt.Errorf("writing %s: %w", format, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing %s file: %w", format, err)
	}

	logger.Info("exported records", "file", path, "format", format, "row_count", len(records))
	return nil
}
