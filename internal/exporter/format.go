package exporter

import (
	"insightpipe/internal/dataset"
)

// datasetRecords renders ds as a header plus string records.
func datasetRecords(ds *dataset.Dataset) ([]string, [][]string) {
	headers := ds.ColumnNames()
	records := make([][]string, ds.NumRows())
	for r := range records {
		row := ds.Row(r)
		record := make([]string, len(row))
		for i, cell := range row {
			record[i] = cell.String()
		}
		records[r] = record
	}
	return headers, records
}

// cellValue converts a cell to the native value excelize stores.
func cellValue(c dataset.Cell) interface{} {
	switch c.Kind() {
	case dataset.KindNumber:
		v, _ := c.Number()
		return v
	case dataset.KindBool:
		v, _ := c.Bool()
		return v
	case dataset.KindNull:
		return nil
	default:
		return c.String()
	}
}
