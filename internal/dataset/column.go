package dataset

import (
	"math"
	"strconv"
	"time"
)

// Kind is the value type held by a column
type Kind int

const (
	KindFloat Kind = iota
	KindTime
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindTime:
		return "time"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// Column is a homogeneous, nullable sequence of values. A cell is missing
// when its validity bit is false; the stored value is then meaningless.
type Column struct {
	name   string
	kind   Kind
	floats []float64
	times  []time.Time
	texts  []string
	valid  []bool
}

// NewFloatColumn builds a float column; NaN and infinite values are stored as missing
func NewFloatColumn(name string, values []float64) *Column {
	c := &Column{name: name, kind: KindFloat, floats: make([]float64, len(values)), valid: make([]bool, len(values))}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		c.floats[i] = v
		c.valid[i] = true
	}
	return c
}

// NewTimeColumn builds a time column; zero times are stored as missing
func NewTimeColumn(name string, values []time.Time) *Column {
	c := &Column{name: name, kind: KindTime, times: make([]time.Time, len(values)), valid: make([]bool, len(values))}
	for i, v := range values {
		if v.IsZero() {
			continue
		}
		c.times[i] = v
		c.valid[i] = true
	}
	return c
}

// NewTextColumn builds a text column; empty strings are stored as missing
func NewTextColumn(name string, values []string) *Column {
	c := &Column{name: name, kind: KindText, texts: make([]string, len(values)), valid: make([]bool, len(values))}
	for i, v := range values {
		if v == "" {
			continue
		}
		c.texts[i] = v
		c.valid[i] = true
	}
	return c
}

// EmptyFloatColumn returns a float column of n missing cells
func EmptyFloatColumn(name string, n int) *Column {
	return &Column{name: name, kind: KindFloat, floats: make([]float64, n), valid: make([]bool, n)}
}

func (c *Column) Name() string { return c.name }
func (c *Column) Kind() Kind   { return c.kind }
func (c *Column) Len() int     { return len(c.valid) }

// IsMissing reports whether row i has no value
func (c *Column) IsMissing(i int) bool { return !c.valid[i] }

// MissingCount returns the number of missing cells
func (c *Column) MissingCount() int {
	n := 0
	for _, ok := range c.valid {
		if !ok {
			n++
		}
	}
	return n
}

// Float returns the value at row i of a float column
func (c *Column) Float(i int) (float64, bool) {
	if c.kind != KindFloat || !c.valid[i] {
		return 0, false
	}
	return c.floats[i], true
}

// Time returns the value at row i of a time column
func (c *Column) Time(i int) (time.Time, bool) {
	if c.kind != KindTime || !c.valid[i] {
		return time.Time{}, false
	}
	return c.times[i], true
}

// Text returns the value at row i of a text column
func (c *Column) Text(i int) (string, bool) {
	if c.kind != KindText || !c.valid[i] {
		return "", false
	}
	return c.texts[i], true
}

// SetFloat stores v at row i; NaN or an infinity marks the cell missing
func (c *Column) SetFloat(i int, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		c.valid[i] = false
		return
	}
	c.floats[i] = v
	c.valid[i] = true
}

// SetMissing clears row i
func (c *Column) SetMissing(i int) { c.valid[i] = false }

// Floats returns the non-missing values of a float column in row order
func (c *Column) Floats() []float64 {
	out := make([]float64, 0, len(c.valid))
	for i, ok := range c.valid {
		if ok && c.kind == KindFloat {
			out = append(out, c.floats[i])
		}
	}
	return out
}

// FloatsWithIndex returns the non-missing values and their row indices
func (c *Column) FloatsWithIndex() ([]float64, []int) {
	vals := make([]float64, 0, len(c.valid))
	idx := make([]int, 0, len(c.valid))
	for i, ok := range c.valid {
		if ok && c.kind == KindFloat {
			vals = append(vals, c.floats[i])
			idx = append(idx, i)
		}
	}
	return vals, idx
}

// RawFloats returns a copy of the float cells with NaN for missing
func (c *Column) RawFloats() []float64 {
	out := make([]float64, len(c.valid))
	for i, ok := range c.valid {
		if ok && c.kind == KindFloat {
			out[i] = c.floats[i]
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// Value returns the cell as an interface value: nil when missing
func (c *Column) Value(i int) interface{} {
	if !c.valid[i] {
		return nil
	}
	switch c.kind {
	case KindFloat:
		return c.floats[i]
	case KindTime:
		return c.times[i]
	default:
		return c.texts[i]
	}
}

// String formats the cell for CSV and text output; missing is ""
func (c *Column) String(i int) string {
	if !c.valid[i] {
		return ""
	}
	switch c.kind {
	case KindFloat:
		return strconv.FormatFloat(c.floats[i], 'f', -1, 64)
	case KindTime:
		return c.times[i].Format(time.RFC3339)
	default:
		return c.texts[i]
	}
}

// Clone deep-copies the column under a (possibly new) name
func (c *Column) Clone(name string) *Column {
	out := &Column{name: name, kind: c.kind, valid: append([]bool(nil), c.valid...)}
	switch c.kind {
	case KindFloat:
		out.floats = append([]float64(nil), c.floats...)
	case KindTime:
		out.times = append([]time.Time(nil), c.times...)
	default:
		out.texts = append([]string(nil), c.texts...)
	}
	return out
}

func (c *Column) take(rows []int) *Column {
	out := &Column{name: c.name, kind: c.kind, valid: make([]bool, len(rows))}
	switch c.kind {
	case KindFloat:
		out.floats = make([]float64, len(rows))
	case KindTime:
		out.times = make([]time.Time, len(rows))
	default:
		out.texts = make([]string, len(rows))
	}
	for j, i := range rows {
		out.valid[j] = c.valid[i]
		switch c.kind {
		case KindFloat:
			out.floats[j] = c.floats[i]
		case KindTime:
			out.times[j] = c.times[i]
		default:
			out.texts[j] = c.texts[i]
		}
	}
	return out
}

// AsFloat converts a column to float kind. Text cells are parsed, cells that
// do not parse become missing. Time columns cannot be converted.
func (c *Column) AsFloat() (*Column, int) {
	if c.kind == KindFloat {
		return c.Clone(c.name), 0
	}
	out := EmptyFloatColumn(c.name, c.Len())
	failed := 0
	if c.kind != KindText {
		return out, c.Len() - c.MissingCount()
	}
	for i, ok := range c.valid {
		if !ok {
			continue
		}
		if v, ok := ParseFloat(c.texts[i]); ok {
			out.SetFloat(i, v)
		} else {
			failed++
		}
	}
	return out, failed
}

// AsTime converts a text column to time kind; unparseable cells become missing
func (c *Column) AsTime() (*Column, int) {
	if c.kind == KindTime {
		return c.Clone(c.name), 0
	}
	out := &Column{name: c.name, kind: KindTime, times: make([]time.Time, c.Len()), valid: make([]bool, c.Len())}
	failed := 0
	for i, ok := range c.valid {
		if !ok {
			continue
		}
		if c.kind != KindText {
			failed++
			continue
		}
		if t, ok := ParseTime(c.texts[i]); ok {
			out.times[i] = t
			out.valid[i] = true
		} else {
			failed++
		}
	}
	return out, failed
}
