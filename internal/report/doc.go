// Package report builds the structured insight report and exports it.
//
// A Builder accumulates metadata, titled sections, chart paths and model
// metrics into a Document. Missing metrics degrade to a placeholder
// section. Finalize hands a snapshot of the document to the exporter
// registered for each requested format; unknown formats are skipped and
// exporter failures are reported in Exported.Failed rather than as errors.
//
// Two exporters ship with the package: ExcelExporter writes Metrics,
// Sections and Metadata sheets with excelize, and PDFExporter prints an
// HTML rendering through headless Chrome.
package report
