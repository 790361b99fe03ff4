package textract

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXExtractor renders every sheet as a titled pipe table.
type XLSXExtractor struct{}

func (e *XLSXExtractor) Formats() []string { return []string{"xlsx"} }

func (e *XLSXExtractor) Extract(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	var sheets []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}

		var b strings.Builder
		b.WriteString("Sheet: " + sheet + "\n")
		for _, row := range rows {
			b.WriteString(tableRow(row))
			b.WriteString("\n")
		}
		sheets = append(sheets, b.String())
	}
	return joinBlocks(sheets), nil
}
