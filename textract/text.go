package textract

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// TextExtractor handles plain text, Markdown and CSV files.
type TextExtractor struct{}

func (e *TextExtractor) Formats() []string { return []string{"txt", "md", "markdown", "csv"} }

func (e *TextExtractor) Extract(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading text file: %w", err)
	}
	if FormatOf(path) != "csv" {
		return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
	}

	r := csv.NewReader(strings.NewReader(string(data)))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("reading CSV: %w", err)
	}

	rows := make([]string, len(records))
	for i, rec := range records {
		rows[i] = tableRow(rec)
	}
	return strings.Join(rows, "\n"), nil
}
