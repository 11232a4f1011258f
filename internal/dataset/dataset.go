package dataset

import (
	"fmt"
	"math"
	"strings"

	apperrors "insightpipe/internal/errors"
)

// Column is a named sequence of cells.
type Column struct {
	Name  string
	Cells []Cell
	kind  Kind
}

// NumberColumn builds a numeric column; NaN entries become nulls.
func NumberColumn(name string, values ...float64) Column {
	cells := make([]Cell, len(values))
	for i, v := range values {
		cells[i] = NumberCell(v)
	}
	return Column{Name: name, Cells: cells}
}

// TextColumn builds a text column; empty strings become nulls.
func TextColumn(name string, values ...string) Column {
	cells := make([]Cell, len(values))
	for i, v := range values {
		if v != "" {
			cells[i] = TextCell(v)
		}
	}
	return Column{Name: name, Cells: cells}
}

// Kind returns the dominant non-null kind of the column. Columns mixing
// kinds are text; all-null columns are KindNull.
func (c Column) Kind() Kind {
	if c.kind != KindNull {
		return c.kind
	}
	return inferKind(c.Cells)
}

// IsNumeric reports whether the column takes part in numeric diagnostics.
func (c Column) IsNumeric() bool { return c.Kind() == KindNumber }

func (c Column) Len() int { return len(c.Cells) }

// NullCount returns the number of null cells.
func (c Column) NullCount() int {
	n := 0
	for _, cell := range c.Cells {
		if cell.IsNull() {
			n++
		}
	}
	return n
}

// Numbers returns the non-null numeric values in row order.
func (c Column) Numbers() []float64 {
	out := make([]float64, 0, len(c.Cells))
	for _, cell := range c.Cells {
		if v, ok := cell.Number(); ok {
			out = append(out, v)
		}
	}
	return out
}

// Floats returns one value per row with NaN for non-numeric cells.
func (c Column) Floats() []float64 {
	out := make([]float64, len(c.Cells))
	for i, cell := range c.Cells {
		if v, ok := cell.Number(); ok {
			out[i] = v
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func inferKind(cells []Cell) Kind {
	kind := KindNull
	for _, cell := range cells {
		if cell.IsNull() {
			continue
		}
		switch {
		case kind == KindNull:
			kind = cell.Kind()
		case kind != cell.Kind():
			return KindText
		}
	}
	return kind
}

// normalize rewrites non-text cells of a mixed column as text.
func normalize(c Column) Column {
	kind := inferKind(c.Cells)
	cells := make([]Cell, len(c.Cells))
	for i, cell := range c.Cells {
		if kind == KindText && !cell.IsNull() && cell.Kind() != KindText {
			cells[i] = TextCell(cell.String())
			continue
		}
		cells[i] = cell
	}
	return Column{Name: c.Name, Cells: cells, kind: kind}
}

// Dataset is an immutable table of equal-length, uniquely named columns.
// Every transform returns a new Dataset.
type Dataset struct {
	cols  []Column
	index map[string]int
	rows  int
}

// New builds a dataset, copying the given columns.
func New(cols ...Column) (*Dataset, error) {
	d := &Dataset{
		cols:  make([]Column, 0, len(cols)),
		index: make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		if i == 0 {
			d.rows = len(c.Cells)
		}
		if len(c.Cells) != d.rows {
			return nil, apperrors.NewValidationError(fmt.Sprintf(
				"column %q has %d rows, expected %d", c.Name, len(c.Cells), d.rows))
		}
		if _, dup := d.index[c.Name]; dup {
			return nil, apperrors.NewValidationError(fmt.Sprintf("duplicate column name %q", c.Name))
		}
		d.index[c.Name] = len(d.cols)
		d.cols = append(d.cols, normalize(c))
	}
	return d, nil
}

// MustNew is New for fixtures known to be well formed.
func MustNew(cols ...Column) *Dataset {
	d, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Dataset) NumRows() int { return d.rows }

func (d *Dataset) NumCols() int { return len(d.cols) }

// ColumnNames returns the names in column order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.cols))
	for i, c := range d.cols {
		names[i] = c.Name
	}
	return names
}

// NumericColumnNames returns the names of numeric columns in column order.
func (d *Dataset) NumericColumnNames() []string {
	var names []string
	for _, c := range d.cols {
		if c.IsNumeric() {
			names = append(names, c.Name)
		}
	}
	return names
}

func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Column returns a copy of the named column.
func (d *Dataset) Column(name string) (Column, bool) {
	i, ok := d.index[name]
	if !ok {
		return Column{}, false
	}
	return d.ColumnAt(i), true
}

// ColumnAt returns a copy of the i-th column.
func (d *Dataset) ColumnAt(i int) Column {
	c := d.cols[i]
	cells := make([]Cell, len(c.Cells))
	copy(cells, c.Cells)
	return Column{Name: c.Name, Cells: cells, kind: c.kind}
}

// Columns returns copies of all columns.
func (d *Dataset) Columns() []Column {
	out := make([]Column, len(d.cols))
	for i := range d.cols {
		out[i] = d.ColumnAt(i)
	}
	return out
}

// Cell returns the value at row in the named column.
func (d *Dataset) Cell(row int, name string) (Cell, bool) {
	i, ok := d.index[name]
	if !ok || row < 0 || row >= d.rows {
		return Cell{}, false
	}
	return d.cols[i].Cells[row], true
}

// Row returns the cells of one row in column order.
func (d *Dataset) Row(row int) []Cell {
	out := make([]Cell, len(d.cols))
	for i, c := range d.cols {
		out[i] = c.Cells[row]
	}
	return out
}

// RowKey identifies a row by value; equal rows share a key.
func (d *Dataset) RowKey(row int) string {
	var b strings.Builder
	for i, c := range d.cols {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(c.Cells[row].key())
	}
	return b.String()
}

// NullCount returns the number of null cells across the dataset.
func (d *Dataset) NullCount() int {
	n := 0
	for _, c := range d.cols {
		n += c.NullCount()
	}
	return n
}

// SelectRows returns a dataset holding the given rows in the given order.
func (d *Dataset) SelectRows(rows []int) *Dataset {
	out := &Dataset{
		cols:  make([]Column, len(d.cols)),
		index: d.copyIndex(),
		rows:  len(rows),
	}
	for i, c := range d.cols {
		cells := make([]Cell, len(rows))
		for j, r := range rows {
			cells[j] = c.Cells[r]
		}
		out.cols[i] = normalize(Column{Name: c.Name, Cells: cells})
	}
	return out
}

// Slice returns rows [from, to).
func (d *Dataset) Slice(from, to int) *Dataset {
	rows := make([]int, 0, to-from)
	for r := from; r < to; r++ {
		rows = append(rows, r)
	}
	return d.SelectRows(rows)
}

// WithColumn returns a dataset with col appended, or replacing the column of the same name.
func (d *Dataset) WithColumn(col Column) (*Dataset, error) {
	cols := d.Columns()
	if i, ok := d.index[col.Name]; ok {
		cols[i] = col
	} else {
		cols = append(cols, col)
	}
	return New(cols...)
}

// WithoutColumn returns a dataset without the named column.
func (d *Dataset) WithoutColumn(name string) *Dataset {
	cols := make([]Column, 0, len(d.cols))
	for i, c := range d.cols {
		if c.Name != name {
			cols = append(cols, d.ColumnAt(i))
		}
	}
	out, _ := New(cols...)
	if len(cols) == 0 {
		out.rows = 0
	}
	return out
}

// RenameColumns applies fn to every column name. Collisions are a ValidationError.
func (d *Dataset) RenameColumns(fn func(string) string) (*Dataset, error) {
	cols := d.Columns()
	for i := range cols {
		cols[i].Name = fn(cols[i].Name)
	}
	return New(cols...)
}

// Equal reports whether both datasets have the same columns and cells.
func (d *Dataset) Equal(o *Dataset) bool {
	if d.rows != o.rows || len(d.cols) != len(o.cols) {
		return false
	}
	for i, c := range d.cols {
		oc := o.cols[i]
		if c.Name != oc.Name {
			return false
		}
		for r := range c.Cells {
			if !c.Cells[r].Equal(oc.Cells[r]) {
				return false
			}
		}
	}
	return true
}

func (d *Dataset) copyIndex() map[string]int {
	idx := make(map[string]int, len(d.index))
	for k, v := range d.index {
		idx[k] = v
	}
	return idx
}
