package dataset

import (
	"fmt"
	"sort"
	"time"
)

// Table is an ordered set of named columns aligned by row index
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New builds a table from columns, which must all have the same length
func New(cols ...*Column) (*Table, error) {
	t := &Table{index: make(map[string]int)}
	for _, c := range cols {
		if err := t.Add(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustNew is New for literals in tests and fixed tables; it panics on error
func MustNew(cols ...*Column) *Table {
	t, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return t
}

// Add appends a column
func (t *Table) Add(c *Column) error {
	if _, exists := t.index[c.name]; exists {
		return fmt.Errorf("duplicate column %q", c.name)
	}
	if len(t.cols) > 0 && c.Len() != t.rows {
		return fmt.Errorf("column %q has %d rows, table has %d", c.name, c.Len(), t.rows)
	}
	if len(t.cols) == 0 {
		t.rows = c.Len()
	}
	t.index[c.name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

// Set replaces the column with the same name, or appends it
func (t *Table) Set(c *Column) error {
	if i, ok := t.index[c.name]; ok {
		if c.Len() != t.rows {
			return fmt.Errorf("column %q has %d rows, table has %d", c.name, c.Len(), t.rows)
		}
		t.cols[i] = c
		return nil
	}
	return t.Add(c)
}

// Len returns the number of rows
func (t *Table) Len() int { return t.rows }

// Width returns the number of columns
func (t *Table) Width() int { return len(t.cols) }

// Names returns the column names in order
func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.name
	}
	return names
}

// Columns returns the columns in order
func (t *Table) Columns() []*Column { return t.cols }

// Has reports whether a column named name exists
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the column named name
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// FloatColumn returns the column named name when it holds floats
func (t *Table) FloatColumn(name string) (*Column, bool) {
	c, ok := t.Column(name)
	if !ok || c.kind != KindFloat {
		return nil, false
	}
	return c, true
}

// NumericNames returns the names of float columns in order
func (t *Table) NumericNames() []string {
	var names []string
	for _, c := range t.cols {
		if c.kind == KindFloat {
			names = append(names, c.name)
		}
	}
	return names
}

// Clone deep-copies the table
func (t *Table) Clone() *Table {
	out := &Table{index: make(map[string]int, len(t.cols)), rows: t.rows}
	for i, c := range t.cols {
		out.cols = append(out.cols, c.Clone(c.name))
		out.index[c.name] = i
	}
	return out
}

// Take returns a new table holding the given rows in the given order
func (t *Table) Take(rows []int) *Table {
	out := &Table{index: make(map[string]int, len(t.cols)), rows: len(rows)}
	for i, c := range t.cols {
		out.cols = append(out.cols, c.take(rows))
		out.index[c.name] = i
	}
	return out
}

// Filter returns the rows for which keep returns true
func (t *Table) Filter(keep func(row int) bool) *Table {
	var rows []int
	for i := 0; i < t.rows; i++ {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	return t.Take(rows)
}

// Rename renames a column in place
func (t *Table) Rename(oldName, newName string) error {
	i, ok := t.index[oldName]
	if !ok {
		return fmt.Errorf("no column %q", oldName)
	}
	if oldName == newName {
		return nil
	}
	if _, exists := t.index[newName]; exists {
		return fmt.Errorf("duplicate column %q", newName)
	}
	t.cols[i].name = newName
	delete(t.index, oldName)
	t.index[newName] = i
	return nil
}

// Drop removes a column if present
func (t *Table) Drop(name string) {
	i, ok := t.index[name]
	if !ok {
		return
	}
	t.cols = append(t.cols[:i], t.cols[i+1:]...)
	delete(t.index, name)
	for j := i; j < len(t.cols); j++ {
		t.index[t.cols[j].name] = j
	}
}

// SortedByTime returns a copy ordered by the time column, stable, with
// missing timestamps last. The returned order maps new rows to old rows.
func (t *Table) SortedByTime(name string) (*Table, []int, error) {
	c, ok := t.Column(name)
	if !ok || c.kind != KindTime {
		return nil, nil, fmt.Errorf("no time column %q", name)
	}
	order := make([]int, t.rows)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		va, vb := c.valid[ia], c.valid[ib]
		if va != vb {
			return va
		}
		if !va {
			return false
		}
		return c.times[ia].Before(c.times[ib])
	})
	return t.Take(order), order, nil
}

// Paired returns the rows where both float columns have a value
func (t *Table) Paired(a, b string) (x, y []float64, rows []int) {
	ca, okA := t.FloatColumn(a)
	cb, okB := t.FloatColumn(b)
	if !okA || !okB {
		return nil, nil, nil
	}
	for i := 0; i < t.rows; i++ {
		if ca.valid[i] && cb.valid[i] {
			x = append(x, ca.floats[i])
			y = append(y, cb.floats[i])
			rows = append(rows, i)
		}
	}
	return x, y, rows
}

// GroupBy returns row indices per distinct value of a text column, with keys
// in first-seen order. Rows with a missing key are skipped.
func (t *Table) GroupBy(name string) ([]string, map[string][]int, error) {
	c, ok := t.Column(name)
	if !ok {
		return nil, nil, fmt.Errorf("no column %q", name)
	}
	var keys []string
	groups := make(map[string][]int)
	for i := 0; i < t.rows; i++ {
		if !c.valid[i] {
			continue
		}
		key := c.String(i)
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], i)
	}
	return keys, groups, nil
}

// TimeRange returns the earliest and latest timestamps of a time column
func (t *Table) TimeRange(name string) (start, end time.Time, ok bool) {
	c, exists := t.Column(name)
	if !exists || c.kind != KindTime {
		return start, end, false
	}
	for i, valid := range c.valid {
		if !valid {
			continue
		}
		ts := c.times[i]
		if !ok || ts.Before(start) {
			start = ts
		}
		if !ok || ts.After(end) {
			end = ts
		}
		ok = true
	}
	return start, end, ok
}

// MissingCells counts missing cells over the whole table
func (t *Table) MissingCells() int {
	n := 0
	for _, c := range t.cols {
		n += c.MissingCount()
	}
	return n
}

// Records returns one map per row with nil for missing cells
func (t *Table) Records() []map[string]interface{} {
	out := make([]map[string]interface{}, t.rows)
	for i := 0; i < t.rows; i++ {
		rec := make(map[string]interface{}, len(t.cols))
		for _, c := range t.cols {
			rec[c.name] = c.Value(i)
		}
		out[i] = rec
	}
	return out
}
