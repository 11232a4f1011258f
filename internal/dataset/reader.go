package dataset

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	apperrors "insightpipe/internal/errors"
)

// FileType identifies a supported tabular input format.
type FileType string

const (
	FileTypeCSV  FileType = "csv"
	FileTypeXLSX FileType = "xlsx"
	FileTypeXLS  FileType = "xls"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectFileType classifies path by extension, case-insensitively.
func DetectFileType(path string) (FileType, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FileTypeCSV, nil
	case ".xlsx":
		return FileTypeXLSX, nil
	case ".xls":
		return FileTypeXLS, nil
	default:
		return "", apperrors.NewValidationError(
			fmt.Sprintf("unsupported file type %q: only CSV or Excel", filepath.Ext(path)))
	}
}

// Load reads a CSV or Excel file into a Dataset.
func Load(path string) (*Dataset, error) {
	fileType, err := DetectFileType(path)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError("dataset " + path)
		}
		return nil, apperrors.NewStorageError("failed to stat dataset", err)
	}

	switch fileType {
	case FileTypeCSV:
		f, err := os.Open(path)
		if err != nil {
			return nil, apperrors.NewStorageError("failed to open dataset", err)
		}
		defer f.Close()
		return ReadCSV(f)
	case FileTypeXLSX:
		return ReadExcel(path)
	default:
		return nil, apperrors.NewValidationError("legacy .xls workbooks are not supported, save as .xlsx")
	}
}

// ReadCSV parses CSV with a header row. A leading UTF-8 BOM is skipped.
func ReadCSV(r io.Reader) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to read csv", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("malformed csv: %v", err))
	}
	if len(records) == 0 {
		return New()
	}
	return FromRecords(records[0], records[1:])
}

// ReadExcel reads the first sheet of an xlsx workbook.
func ReadExcel(path string) (*Dataset, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to open workbook", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return New()
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, apperrors.NewStorageError(fmt.Sprintf("failed to read sheet %q", sheets[0]), err)
	}
	if len(rows) == 0 {
		return New()
	}
	return FromRecords(rows[0], rows[1:])
}

// FromRecords builds a dataset from a header and string records. Blank
// header cells are named column_<n>, short rows are padded with nulls and
// fully empty rows are dropped.
func FromRecords(header []string, records [][]string) (*Dataset, error) {
	names := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		names[i] = h
	}

	cells := make([][]Cell, len(names))
	for rowNum, record := range records {
		if len(record) > len(names) {
			return nil, apperrors.NewValidationError(fmt.Sprintf(
				"row %d has %d fields, header has %d", rowNum+2, len(record), len(names)))
		}
		if isBlank(record) {
			continue
		}
		for i := range names {
			cell := NullCell()
			if i < len(record) {
				cell = ParseCell(record[i])
			}
			cells[i] = append(cells[i], cell)
		}
	}

	cols := make([]Column, len(names))
	for i, name := range names {
		cols[i] = Column{Name: name, Cells: cells[i]}
	}
	return New(cols...)
}

func isBlank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
