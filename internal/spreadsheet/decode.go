// Package spreadsheet decodes uploaded workbooks into a grid of cells.
package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/textilehq/backoffice/internal/platform/httpx"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither a workbook nor CSV.
	ErrUnsupportedFormat = fmt.Errorf("spreadsheet: unsupported format: %w", httpx.ErrValidation)
	// ErrEmptyFile is returned when no bytes were uploaded.
	ErrEmptyFile = fmt.Errorf("spreadsheet: empty file: %w", httpx.ErrValidation)
)

var zipMagic = []byte("PK\x03\x04")

// Format names a supported container.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// Detect picks a format from the extension, falling back to content
// sniffing.
func Detect(fileName string, data []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return FormatXLSX, nil
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xls":
		// Legacy BIFF files are only accepted when they are really OOXML.
		if bytes.HasPrefix(data, zipMagic) {
			return FormatXLSX, nil
		}
		return "", ErrUnsupportedFormat
	}
	if bytes.HasPrefix(data, zipMagic) {
		return FormatXLSX, nil
	}
	if utf8.Valid(data) || !bytes.Contains(data, []byte{0}) {
		return FormatCSV, nil
	}
	return "", ErrUnsupportedFormat
}

// Decode reads the first worksheet (or the CSV body) into rows of cells.
// Numeric workbook cells become float64; everything else is a string.
func Decode(fileName string, data []byte) ([][]any, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	format, err := Detect(fileName, data)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatXLSX:
		return decodeWorkbook(data)
	default:
		return decodeCSV(data)
	}
}

func decodeWorkbook(data []byte) ([][]any, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("spreadsheet: open workbook: %w", errors.Join(err, httpx.ErrValidation))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("spreadsheet: workbook has no sheets: %w", httpx.ErrValidation)
	}
	sheet := sheets[0]
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("spreadsheet: read sheet %s: %w", sheet, err)
	}

	grid := make([][]any, 0, len(rows))
	for r, cols := range rows {
		out := make([]any, len(cols))
		for c, text := range cols {
			out[c] = workbookCell(f, sheet, c, r, text)
		}
		grid = append(grid, out)
	}
	return grid, nil
}

func workbookCell(f *excelize.File, sheet string, col, row int, text string) any {
	if text == "" {
		return ""
	}
	axis, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return text
	}
	kind, err := f.GetCellType(sheet, axis)
	if err != nil {
		return text
	}
	switch kind {
	case excelize.CellTypeUnset, excelize.CellTypeNumber, excelize.CellTypeDate:
		if v, err := strconv.ParseFloat(strings.TrimSpace(text), 64); err == nil {
			return v
		}
	}
	return text
}

func decodeCSV(data []byte) ([][]any, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	var src io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		src = transform.NewReader(src, charmap.Windows1252.NewDecoder())
	}
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var grid [][]any
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("spreadsheet: read csv: %w", errors.Join(err, httpx.ErrValidation))
		}
		row := make([]any, len(record))
		for i, v := range record {
			row[i] = v
		}
		grid = append(grid, row)
	}
	return grid, nil
}
