// Package exporter writes datasets to disk as CSV (UTF-8 with BOM so Excel
// opens it cleanly) or xlsx. Every write lands atomically.
//
// Example usage:
//
//	w := exporter.NewCSVWriter(paths, logger)
//	path, err := w.WriteDataset("processed_data.csv", ds)
package exporter
