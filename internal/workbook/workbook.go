// Package workbook reads source spreadsheets and profiles their columns.
//
// A Workbook is one or more named sheets, each a header row plus data rows
// with no fixed column order. Excel files keep their sheet names; a CSV
// becomes a single sheet named after the file.
package workbook

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// MaxFileSize is the maximum allowed workbook size (100MB).
var MaxFileSize int64 = 100 * 1024 * 1024

// Sheet is one named sheet: a header row plus data rows.
// Cell values are cleaned (whitespace, BOM, Excel formula artifacts).
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Workbook is a parsed source file.
type Workbook struct {
	Name   string
	Sheets []Sheet
}

// Open parses workbook bytes based on the file extension.
// Supported: .xlsx, .csv.
func Open(fileName string, data []byte) (*Workbook, error) {
	if int64(len(data)) > MaxFileSize {
		return nil, fmt.Errorf("file exceeds %dMB limit", MaxFileSize/(1024*1024))
	}

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx":
		return openExcel(fileName, data)
	case ".csv":
		return openCSV(fileName, data)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(fileName))
	}
}

func openExcel(fileName string, data []byte) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	wb := &Workbook{Name: fileName}
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			// Unreadable sheet; the analyzer reports it as a per-sheet
			// failure without aborting the other sheets.
			wb.Sheets = append(wb.Sheets, Sheet{Name: sheetName})
			continue
		}
		wb.Sheets = append(wb.Sheets, splitSheet(sheetName, cleanRecords(rows)))
	}

	if len(wb.Sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	return wb, nil
}

func openCSV(fileName string, data []byte) (*Workbook, error) {
	data = sanitizeUTF8(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	return &Workbook{
		Name:   fileName,
		Sheets: []Sheet{splitSheet(name, cleanRecords(records))},
	}, nil
}

// splitSheet takes the first non-empty row as the header and the remainder
// as data rows, dropping fully empty rows.
func splitSheet(name string, records [][]string) Sheet {
	s := Sheet{Name: name}

	start := 0
	for start < len(records) && isEmptyRow(records[start]) {
		start++
	}
	if start >= len(records) {
		return s
	}

	s.Header = records[start]
	for _, row := range records[start+1:] {
		if isEmptyRow(row) {
			continue
		}
		s.Rows = append(s.Rows, row)
	}
	return s
}

// Cell returns the cleaned cell at the given column index, or "" when the
// row is ragged and shorter than the header.
func (s Sheet) Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// ColumnIndex returns the position of a header (case-insensitive), or -1.
func (s Sheet) ColumnIndex(header string) int {
	for i, h := range s.Header {
		if strings.EqualFold(h, header) {
			return i
		}
	}
	return -1
}

func cleanRecords(records [][]string) [][]string {
	for _, row := range records {
		for i, cell := range row {
			row[i] = CleanCell(cell)
		}
	}
	return records
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
