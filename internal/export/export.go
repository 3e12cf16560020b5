// Package export serializes completed matching results into downloadable
// tabular artifacts.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/costwise/pricematch/internal/models"
)

var header = []string{"Description", "Unit", "Quantity", "Matched Description", "Matched Rate", "Confidence (%)"}

// row renders one matched item. Confidence is reported as a percentage with
// one decimal; rates keep their full precision.
func row(item models.MatchedItem) []string {
	quantity := ""
	if item.Quantity != 0 {
		quantity = strconv.FormatFloat(item.Quantity, 'f', -1, 64)
	}
	return []string{
		item.SourceDescription,
		item.Unit,
		quantity,
		item.MatchedDescription,
		strconv.FormatFloat(item.MatchedRate, 'f', -1, 64),
		fmt.Sprintf("%.1f", item.Confidence*100),
	}
}

// CSV renders results as a rate-filled CSV file.
func CSV(results []models.MatchedItem) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, item := range results {
		if err := w.Write(row(item)); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// XLSX renders results as a rate-filled spreadsheet with a bold header row.
func XLSX(results []models.MatchedItem) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Matched Items"
	f.SetSheetName("Sheet1", sheet)

	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	for col, title := range header {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
		_ = f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	for i, item := range results {
		r := i + 2
		values := []any{
			item.SourceDescription,
			item.Unit,
			item.Quantity,
			item.MatchedDescription,
			item.MatchedRate,
			fmt.Sprintf("%.1f", item.Confidence*100),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, r)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("write row %d: %w", r, err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}
