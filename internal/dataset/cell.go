package dataset

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Kind is the type of a single cell or the dominant type of a column.
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindText
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "numeric"
	case KindText:
		return "text"
	case KindBool:
		return "boolean"
	case KindTime:
		return "temporal"
	default:
		return "null"
	}
}

// Cell is an immutable typed value. The zero value is null.
type Cell struct {
	kind Kind
	num  float64
	str  string
	b    bool
	t    time.Time
}

// NullCell returns a null cell.
func NullCell() Cell { return Cell{} }

// NumberCell returns a numeric cell. NaN is stored as null.
func NumberCell(v float64) Cell {
	if math.IsNaN(v) {
		return Cell{}
	}
	return Cell{kind: KindNumber, num: v}
}

// TextCell returns a text cell.
func TextCell(s string) Cell { return Cell{kind: KindText, str: s} }

// BoolCell returns a boolean cell.
func BoolCell(v bool) Cell { return Cell{kind: KindBool, b: v} }

// TimeCell returns a temporal cell normalized to UTC.
func TimeCell(t time.Time) Cell { return Cell{kind: KindTime, t: t.UTC()} }

func (c Cell) Kind() Kind { return c.kind }

func (c Cell) IsNull() bool { return c.kind == KindNull }

// Time returns the temporal value; zero for other kinds.
func (c Cell) Time() time.Time { return c.t }

// Number returns the numeric value and whether the cell is numeric.
func (c Cell) Number() (float64, bool) {
	if c.kind != KindNumber {
		return 0, false
	}
	return c.num, true
}

// Bool returns the boolean value and whether the cell is boolean.
func (c Cell) Bool() (bool, bool) {
	if c.kind != KindBool {
		return false, false
	}
	return c.b, true
}

// String renders the cell the way it is written to CSV. Null renders empty.
func (c Cell) String() string {
	switch c.kind {
	case KindNumber:
		return strconv.FormatFloat(c.num, 'f', -1, 64)
	case KindText:
		return c.str
	case KindBool:
		return strconv.FormatBool(c.b)
	case KindTime:
		if c.t.Hour() == 0 && c.t.Minute() == 0 && c.t.Second() == 0 && c.t.Nanosecond() == 0 {
			return c.t.Format(time.DateOnly)
		}
		return c.t.Format(time.RFC3339)
	default:
		return ""
	}
}

// Equal reports whether both cells have the same kind and value.
func (c Cell) Equal(o Cell) bool {
	if c.kind != o.kind {
		return false
	}
	switch c.kind {
	case KindNumber:
		return c.num == o.num
	case KindText:
		return c.str == o.str
	case KindBool:
		return c.b == o.b
	case KindTime:
		return c.t.Equal(o.t)
	default:
		return true
	}
}

// key is a kind-qualified rendering used for row identity.
func (c Cell) key() string {
	return strconv.Itoa(int(c.kind)) + ":" + c.String()
}

var nullTokens = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"nan":  {},
	"null": {},
	"none": {},
}

// ParseCell coerces raw text from a CSV or spreadsheet into a typed cell.
// Null tokens (empty, NA, NaN, null, None) become null; numbers, booleans and
// timestamps are recognized in that order; anything else stays text.
func ParseCell(raw string) Cell {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	if _, ok := nullTokens[lower]; ok {
		return NullCell()
	}

	if lower == "true" || lower == "false" {
		return BoolCell(cast.ToBool(lower))
	}

	if f, err := cast.ToFloat64E(s); err == nil && !math.IsInf(f, 0) {
		return NumberCell(f)
	}

	if looksTemporal(s) {
		if t, err := cast.ToTimeInDefaultLocationE(s, time.UTC); err == nil {
			return TimeCell(t)
		}
	}

	return TextCell(s)
}

// looksTemporal keeps free text such as "3:04PM special" out of time parsing.
func looksTemporal(s string) bool {
	if s == "" || s[0] < '0' || s[0] > '9' {
		return false
	}
	return strings.ContainsAny(s, "-/:")
}
