package report

import (
	"context"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	apperrors "insightpipe/internal/errors"
	"insightpipe/internal/files"
)

// Export format names.
const (
	FormatPDF   = "pdf"
	FormatExcel = "excel"
)

// Sheet names of the excel report.
const (
	MetricsSheet  = "Metrics"
	SectionsSheet = "Sections"
	MetadataSheet = "Metadata"
)

// ExcelExporter writes the metrics, sections and metadata as three sheets.
type ExcelExporter struct{}

func NewExcelExporter() *ExcelExporter { return &ExcelExporter{} }

func (e *ExcelExporter) Extension() string { return ".xlsx" }

func (e *ExcelExporter) Export(ctx context.Context, doc Document, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", MetricsSheet); err != nil {
		return apperrors.NewStorageError("failed to name sheet", err)
	}
	for _, name := range []string{SectionsSheet, MetadataSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return apperrors.NewStorageError("failed to add sheet", err).WithContext("sheet", name)
		}
	}

	metricNames := sortedKeys(doc.Metrics)
	metricRows := make([][]interface{}, len(metricNames))
	for i, k := range metricNames {
		metricRows[i] = []interface{}{k, doc.Metrics[k]}
	}
	sectionRows := make([][]interface{}, len(doc.Sections))
	for i, s := range doc.Sections {
		sectionRows[i] = []interface{}{s.Title, s.Body}
	}
	metaKeys := sortedKeys(doc.Metadata)
	metaRows := make([][]interface{}, 0, len(metaKeys)+1)
	metaRows = append(metaRows, []interface{}{"title", doc.Title})
	for _, k := range metaKeys {
		metaRows = append(metaRows, []interface{}{k, doc.Metadata[k]})
	}

	sheets := []struct {
		name   string
		header []interface{}
		rows   [][]interface{}
	}{
		{MetricsSheet, []interface{}{"Metric", "Value"}, metricRows},
		{SectionsSheet, []interface{}{"Section", "Content"}, sectionRows},
		{MetadataSheet, []interface{}{"Key", "Value"}, metaRows},
	}
	for _, s := range sheets {
		if err := writeRows(f, s.name, s.header, s.rows); err != nil {
			return apperrors.NewStorageError("failed to fill sheet", err).WithContext("sheet", s.name)
		}
	}

	err := files.WriteAtomic(path, 0644, func(out io.Writer) error {
		return f.Write(out)
	})
	if err != nil {
		return apperrors.NewStorageError("failed to write excel report", err).WithContext("path", path)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, header []interface{}, rows [][]interface{}) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
