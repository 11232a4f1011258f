package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"insightpipe/internal/config"
	"insightpipe/internal/dataset"
	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/files"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// resolveTarget keeps absolute names and places relative ones under the
// processed directory.
func resolveTarget(paths *config.Paths, name string) string {
	if filepath.IsAbs(name) || paths == nil {
		return name
	}
	return filepath.Join(paths.ProcessedDir, name)
}

// CSVWriter writes tables as CSV files.
type CSVWriter struct {
	paths  *config.Paths
	logger *slog.Logger
}

// NewCSVWriter returns a writer resolving relative targets against
// paths.ProcessedDir.
func NewCSVWriter(paths *config.Paths, logger *slog.Logger) *CSVWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVWriter{paths: paths, logger: logger.With(slog.String("component", "csv_writer"))}
}

// WriteOptions is one table to write. BOMPrefix prepends a UTF-8 byte order
// mark, which Excel needs to detect the encoding.
type WriteOptions struct {
	Headers   []string
	Records   [][]string
	BOMPrefix bool
}

// WriteCSV atomically replaces the target with opts and returns the
// absolute path written.
func (w *CSVWriter) WriteCSV(target string, opts WriteOptions) (string, error) {
	path := resolveTarget(w.paths, target)
	w.logger.Info("csv_writing", slog.String("path", path), slog.Int("records", len(opts.Records)))

	err := files.WriteAtomic(path, 0644, func(out io.Writer) error {
		if opts.BOMPrefix {
			if _, err := out.Write(utf8BOM); err != nil {
				return err
			}
		}
		cw := csv.NewWriter(out)
		if len(opts.Headers) > 0 {
			if err := cw.Write(opts.Headers); err != nil {
				return fmt.Errorf("header: %w", err)
			}
		}
		if err := cw.WriteAll(opts.Records); err != nil {
			return fmt.Errorf("records: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", apperrors.NewStorageError("failed to write csv", err).WithContext("path", path)
	}
	return path, nil
}

// WriteDataset writes ds with a BOM and returns the written path.
func (w *CSVWriter) WriteDataset(target string, ds *dataset.Dataset) (string, error) {
	headers, records := datasetRecords(ds)
	return w.WriteCSV(target, WriteOptions{Headers: headers, Records: records, BOMPrefix: true})
}

// SaveProcessed writes ds under the processed directory as xlsx when name
// ends in .xlsx and as CSV otherwise. An empty name uses
// processed_data.csv.
func SaveProcessed(paths *config.Paths, ds *dataset.Dataset, name string, logger *slog.Logger) (string, error) {
	if name == "" {
		name = "processed_data.csv"
	}
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return NewExcelWriter(paths, logger).WriteDataset(name, ds)
	}
	return NewCSVWriter(paths, logger).WriteDataset(name, ds)
}
