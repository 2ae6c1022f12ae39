package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Options control CSV ingestion
type Options struct {
	Delimiter rune
	// TextColumns are always read as text, even when every cell is numeric
	// (station codes are digits but are identifiers).
	TextColumns []string
	// MaxRows stops reading after that many data rows (0 = no limit)
	MaxRows int
}

// DefaultOptions reads comma separated files and keeps station ids as text
func DefaultOptions() Options {
	return Options{Delimiter: ',', TextColumns: []string{"estacion", "codigoestacion", "codigo", "station"}}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02/01/2006 15:04",
}

// ParseTime parses the date layouts found in open data exports
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseFloat parses a finite number, accepting a comma decimal separator.
// NaN and infinities are not values.
func ParseFloat(s string) (float64, bool) {
	v, ok := parseNumber(s)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseNumber(s string) (float64, bool) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, false
	}
	if strings.Count(raw, ",") == 1 && !strings.Contains(raw, ".") {
		raw = strings.Replace(raw, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ReadCSV reads a CSV with a header row and infers each column's kind:
// float when every non-empty cell is numeric (non-finite cells such as "Inf"
// load as missing), time when every non-empty cell
// is a date, text otherwise.
func ReadCSV(r io.Reader, opt Options) (*Table, error) {
	reader := csv.NewReader(r)
	if opt.Delimiter != 0 {
		reader.Comma = opt.Delimiter
	}
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty csv")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	cells := make([][]string, len(header))
	rows := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", rows+2, err)
		}
		for j := range header {
			v := ""
			if j < len(rec) {
				v = strings.TrimSpace(rec[j])
			}
			cells[j] = append(cells[j], v)
		}
		rows++
		if opt.MaxRows > 0 && rows >= opt.MaxRows {
			break
		}
	}

	forceText := make(map[string]bool, len(opt.TextColumns))
	for _, n := range opt.TextColumns {
		forceText[n] = true
	}

	t := &Table{index: make(map[string]int)}
	for j, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("column_%d", j+1)
		}
		col := inferColumn(name, cells[j], forceText[strings.ToLower(name)])
		if err := t.Add(col); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ReadCSVFile opens and reads a CSV file
func ReadCSVFile(path string, opt Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f, opt)
}

func inferColumn(name string, values []string, forceText bool) *Column {
	text := NewTextColumn(name, values)
	if forceText {
		return text
	}
	allFloat, allTime, seen := true, true, false
	for _, v := range values {
		if v == "" {
			continue
		}
		seen = true
		if allFloat {
			if _, ok := parseNumber(v); !ok {
				allFloat = false
			}
		}
		if allTime {
			if _, ok := ParseTime(v); !ok {
				allTime = false
			}
		}
		if !allFloat && !allTime {
			break
		}
	}
	switch {
	case !seen:
		// all-empty columns are numeric so they count as missing data
		return EmptyFloatColumn(name, len(values))
	case allFloat:
		c, _ := text.AsFloat()
		return c
	case allTime:
		c, _ := text.AsTime()
		return c
	default:
		return text
	}
}

// WriteCSV writes the table with a header row; missing cells are empty
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Names()); err != nil {
		return err
	}
	rec := make([]string, len(t.cols))
	for i := 0; i < t.rows; i++ {
		for j, c := range t.cols {
			rec[j] = c.String(i)
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// SaveCSV writes the table to path, creating parent directories
func (t *Table) SaveCSV(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := t.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
