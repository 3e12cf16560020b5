// Package parse turns uploaded Bill-of-Quantities files into inquiry items.
package parse

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/costwise/pricematch/internal/models"
)

// columns holds resolved 0-based column positions; -1 means absent.
type columns struct {
	description int
	unit        int
	quantity    int
}

// defaultColumns is the positional fallback when no recognizable header row
// exists: description, unit, quantity.
var defaultColumns = columns{description: 0, unit: 1, quantity: 2}

// BoQXLSX parses the first sheet of an xlsx workbook into inquiry items.
// Section headers, subtotal lines, and empty rows are skipped.
func BoQXLSX(r io.Reader) ([]models.InquiryItem, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open spreadsheet: %v", models.ErrValidation, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", models.ErrValidation)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return itemsFromRows(rows), nil
}

// BoQFile parses a BoQ file on disk, dispatching on its extension.
func BoQFile(path string) ([]models.InquiryItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", models.ErrValidation, filepath.Base(path), err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return BoQXLSX(f)
	case ".csv":
		return BoQCSV(f)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %s", models.ErrValidation, filepath.Ext(path))
	}
}

// BoQCSV parses comma-separated BoQ data into inquiry items.
func BoQCSV(r io.Reader) ([]models.InquiryItem, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv: %v", models.ErrValidation, err)
	}
	return itemsFromRows(rows), nil
}

func itemsFromRows(rows [][]string) []models.InquiryItem {
	cols := defaultColumns
	start := 0
	if hdr, ok := detectHeader(rows); ok {
		cols = hdr
		start = 1
	}

	if start > len(rows) {
		start = len(rows)
	}
	var items []models.InquiryItem
	for _, row := range rows[start:] {
		desc := cell(row, cols.description)
		if IsNonItem(desc) {
			continue
		}
		item := models.InquiryItem{
			Description: strings.TrimSpace(desc),
			Unit:        strings.TrimSpace(cell(row, cols.unit)),
		}
		if q := strings.TrimSpace(cell(row, cols.quantity)); q != "" {
			if v, err := strconv.ParseFloat(strings.ReplaceAll(q, ",", ""), 64); err == nil {
				item.Quantity = v
			}
		}
		items = append(items, item)
	}
	return items
}

// detectHeader inspects the first row for recognizable BoQ column names.
func detectHeader(rows [][]string) (columns, bool) {
	if len(rows) == 0 {
		return columns{}, false
	}
	cols := columns{description: -1, unit: -1, quantity: -1}
	for i, name := range rows[0] {
		switch {
		case headerIs(name, "description", "item description", "work description", "item", "particulars"):
			if cols.description == -1 {
				cols.description = i
			}
		case headerIs(name, "unit", "uom", "units"):
			if cols.unit == -1 {
				cols.unit = i
			}
		case headerIs(name, "quantity", "qty"):
			if cols.quantity == -1 {
				cols.quantity = i
			}
		}
	}
	if cols.description == -1 {
		return columns{}, false
	}
	return cols, true
}

func headerIs(name string, candidates ...string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range candidates {
		if name == c {
			return true
		}
	}
	return false
}

// nonItemPrefixes mark rows that describe document structure rather than
// priceable work.
var nonItemPrefixes = []string{
	"section", "bill no", "bill ", "total", "subtotal", "sub-total",
	"carried forward", "brought forward", "page ", "note:", "notes:",
}

// IsNonItem reports whether a description row is structural (section header,
// subtotal, continuation marker) rather than a priceable line item.
func IsNonItem(description string) bool {
	d := strings.ToLower(strings.TrimSpace(description))
	if d == "" {
		return true
	}
	for _, p := range nonItemPrefixes {
		if strings.HasPrefix(d, p) {
			return true
		}
	}
	return false
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
