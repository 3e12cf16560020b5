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

// plColumns holds resolved 0-based price-list column positions; -1 means
// absent.
type plColumns struct {
	code        int
	description int
	rate        int
	unit        int
	category    int
	keywords    int
}

// Positional fallback: code, description, rate, unit.
var defaultPLColumns = plColumns{code: 0, description: 1, rate: 2, unit: 3, category: -1, keywords: -1}

// PriceListFile parses a reference price list on disk, dispatching on its
// extension.
func PriceListFile(path string) ([]models.PriceListEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", models.ErrValidation, filepath.Base(path), err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return PriceListXLSX(f)
	case ".csv":
		return PriceListCSV(f)
	default:
		return nil, fmt.Errorf("%w: unsupported file type %s", models.ErrValidation, filepath.Ext(path))
	}
}

// PriceListXLSX parses the first sheet of an xlsx workbook into price-list
// entries.
func PriceListXLSX(r io.Reader) ([]models.PriceListEntry, error) {
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
	return entriesFromRows(rows)
}

// PriceListCSV parses comma-separated price-list data into entries.
func PriceListCSV(r io.Reader) ([]models.PriceListEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv: %v", models.ErrValidation, err)
	}
	return entriesFromRows(rows)
}

func entriesFromRows(rows [][]string) ([]models.PriceListEntry, error) {
	cols := defaultPLColumns
	start := 0
	if hdr, ok := detectPLHeader(rows); ok {
		cols = hdr
		start = 1
	}

	if start > len(rows) {
		start = len(rows)
	}
	var entries []models.PriceListEntry
	for _, row := range rows[start:] {
		desc := strings.TrimSpace(cell(row, cols.description))
		if desc == "" || IsNonItem(desc) {
			continue
		}
		entry := models.PriceListEntry{
			Code:        strings.TrimSpace(cell(row, cols.code)),
			Description: desc,
			Unit:        strings.TrimSpace(cell(row, cols.unit)),
			Category:    strings.TrimSpace(cell(row, cols.category)),
		}
		if rate := strings.TrimSpace(cell(row, cols.rate)); rate != "" {
			if v, err := strconv.ParseFloat(strings.ReplaceAll(rate, ",", ""), 64); err == nil {
				entry.Rate = v
			}
		}
		if kw := strings.TrimSpace(cell(row, cols.keywords)); kw != "" {
			for _, k := range strings.Split(kw, ";") {
				if k = strings.TrimSpace(k); k != "" {
					entry.Keywords = append(entry.Keywords, k)
				}
			}
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no price list entries found", models.ErrValidation)
	}
	return entries, nil
}

func detectPLHeader(rows [][]string) (plColumns, bool) {
	if len(rows) == 0 {
		return plColumns{}, false
	}
	cols := plColumns{code: -1, description: -1, rate: -1, unit: -1, category: -1, keywords: -1}
	for i, name := range rows[0] {
		switch {
		case headerIs(name, "code", "item code", "ref", "reference"):
			if cols.code == -1 {
				cols.code = i
			}
		case headerIs(name, "description", "item description", "work description", "item", "particulars"):
			if cols.description == -1 {
				cols.description = i
			}
		case headerIs(name, "rate", "unit rate", "price", "unit price"):
			if cols.rate == -1 {
				cols.rate = i
			}
		case headerIs(name, "unit", "uom", "units"):
			if cols.unit == -1 {
				cols.unit = i
			}
		case headerIs(name, "category", "trade", "section"):
			if cols.category == -1 {
				cols.category = i
			}
		case headerIs(name, "keywords", "tags"):
			if cols.keywords == -1 {
				cols.keywords = i
			}
		}
	}
	if cols.description == -1 || cols.rate == -1 {
		return plColumns{}, false
	}
	return cols, true
}
