package exporter

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"insightpipe/internal/config"
	"insightpipe/internal/dataset"
	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/files"
)

// DataSheet is the sheet name used for exported datasets.
const DataSheet = "data"

// ExcelWriter exports datasets as xlsx workbooks.
type ExcelWriter struct {
	paths  *config.Paths
	logger *slog.Logger
}

// NewExcelWriter creates an xlsx writer. Relative targets resolve against paths.ProcessedDir.
func NewExcelWriter(paths *config.Paths, logger *slog.Logger) *ExcelWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExcelWriter{paths: paths, logger: logger.With(slog.String("component", "excel_writer"))}
}

// WriteDataset writes ds to a single-sheet workbook and returns the written path.
func (w *ExcelWriter) WriteDataset(filePath string, ds *dataset.Dataset) (string, error) {
	fullPath := resolveTarget(w.paths, filePath)

	w.logger.Info("xlsx_writing",
		slog.String("full_path", fullPath),
		slog.Int("rows", ds.NumRows()),
		slog.Int("columns", ds.NumCols()))

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", DataSheet); err != nil {
		return "", apperrors.NewStorageError("failed to name sheet", err)
	}
	if err := WriteSheet(f, DataSheet, ds); err != nil {
		return "", apperrors.NewStorageError("failed to fill sheet", err)
	}

	err := files.WriteAtomic(fullPath, 0644, func(out io.Writer) error {
		return f.Write(out)
	})
	if err != nil {
		return "", apperrors.NewStorageError("failed to write xlsx", err).WithContext("path", fullPath)
	}
	return fullPath, nil
}

// WriteSheet fills sheet with a header row followed by the dataset rows.
func WriteSheet(f *excelize.File, sheet string, ds *dataset.Dataset) error {
	for i, name := range ds.ColumnNames() {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, name); err != nil {
			return fmt.Errorf("header %q: %w", name, err)
		}
	}

	for r := 0; r < ds.NumRows(); r++ {
		for i, c := range ds.Row(r) {
			if c.IsNull() {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(i+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, cellValue(c)); err != nil {
				return fmt.Errorf("row %d: %w", r+1, err)
			}
		}
	}
	return nil
}
