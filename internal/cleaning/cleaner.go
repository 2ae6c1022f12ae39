// Package cleaning turns raw climate tables into analysis-ready ones:
// normalized names, typed columns, out-of-range and outlying values removed,
// gaps interpolated and temperature triples made consistent.
package cleaning

import (
	"context"
	"math"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
	"climate-analytics/internal/numeric"
	"climate-analytics/internal/outliers"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

const (
	minOutlierValues = 10
	rollingWindow    = 7
)

// Summary counts what each cleaning step changed
type Summary struct {
	RowsIn              int      `json:"rows_in"`
	RowsOut             int      `json:"rows_out"`
	RenamedColumns      []string `json:"renamed_columns,omitempty"`
	UnparseableCells    int      `json:"unparseable_cells"`
	OutOfRangeRemoved   int      `json:"out_of_range_removed"`
	OutliersRemoved     int      `json:"outliers_removed"`
	Interpolated        int      `json:"interpolated"`
	RollingFilled       int      `json:"rolling_filled"`
	TemperatureRepaired int      `json:"temperature_repaired"`
}

// Cleaner runs the cleaning pipeline and anomaly tagging
type Cleaner struct {
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
	detector outliers.Options
}

// NewCleaner creates a cleaner. opts configure the anomaly detectors.
func NewCleaner(logger *logging.StructuredLogger, metricsCollector *metrics.Collector, opts outliers.Options) *Cleaner {
	return &Cleaner{
		logger:   logger,
		metrics:  metricsCollector,
		detector: opts,
	}
}

// Clean returns a cleaned copy of t. The input table is never modified.
// Range clipping is irreversible: clipped cells are refilled from their
// neighbours, the original values are only reflected in Summary.
func (c *Cleaner) Clean(ctx context.Context, t *dataset.Table) (*dataset.Table, Summary, error) {
	timer := c.metrics.StageTimer("clean")
	defer timer.ObserveDuration()

	sum := Summary{RowsIn: t.Len()}
	c.logger.Info(ctx, "[CLEAN_START] Starting data cleaning", logging.Fields{
		"records": t.Len(),
		"columns": t.Width(),
	})

	out := t.Clone()
	renamed, err := normalizeNames(out)
	if err != nil {
		return nil, sum, err
	}
	sum.RenamedColumns = renamed

	schema := dataset.Describe(out)
	numericCols := schema.NumericAfterCoercion()

	sum.UnparseableCells = coerceTypes(out, schema)
	sum.OutOfRangeRemoved = clipRanges(out, schema.Coercible)
	sum.OutliersRemoved = removeOutliers(out, numericCols)

	if schema.HasDate {
		sorted, _, err := out.SortedByTime(models.ColDate)
		if err == nil {
			out = sorted
		}
	}
	sum.Interpolated, sum.RollingFilled = fillGaps(out, numericCols)
	if schema.TempTriple {
		sum.TemperatureRepaired = repairTemperatures(out)
	}

	sum.RowsOut = out.Len()
	c.metrics.RecordRecords("clean", out.Len())
	c.logger.Info(ctx, "[CLEAN_COMPLETE] Data cleaning completed", logging.Fields{
		"records":              out.Len(),
		"out_of_range_removed": sum.OutOfRangeRemoved,
		"outliers_removed":     sum.OutliersRemoved,
		"interpolated":         sum.Interpolated,
		"temperature_repaired": sum.TemperatureRepaired,
	})
	return out, sum, nil
}

func normalizeNames(t *dataset.Table) ([]string, error) {
	var renamed []string
	for _, name := range t.Names() {
		norm := models.NormalizeColumnName(name)
		if norm == name {
			continue
		}
		if err := t.Rename(name, norm); err != nil {
			return nil, models.NewInputError("clean", "column %q normalizes to an existing name %q", name, norm)
		}
		renamed = append(renamed, norm)
	}
	return renamed, nil
}

// coerceTypes converts the date column to times and every known variable to
// floats. Cells that do not parse become missing; the count is returned.
func coerceTypes(t *dataset.Table, schema dataset.Schema) int {
	failed := 0
	if schema.HasDate {
		if col, _ := t.Column(models.ColDate); col.Kind() != dataset.KindTime {
			tc, n := col.AsTime()
			_ = t.Set(tc)
			failed += n
		}
	}
	for _, name := range schema.Coercible {
		if schema.HasVariable(name) {
			continue
		}
		col, _ := t.Column(name)
		fc, n := col.AsFloat()
		_ = t.Set(fc)
		failed += n
	}
	return failed
}

func clipRanges(t *dataset.Table, variables []string) int {
	removed := 0
	for _, name := range variables {
		v, _ := models.LookupVariable(name)
		col, ok := t.FloatColumn(name)
		if !ok {
			continue
		}
		for i := 0; i < col.Len(); i++ {
			if x, ok := col.Float(i); ok && !v.InRange(x) {
				col.SetMissing(i)
				removed++
			}
		}
	}
	return removed
}

// removeOutliers blanks values outside the 1.5*IQR fences of the given float
// columns with at least minOutlierValues observations.
func removeOutliers(t *dataset.Table, columns []string) int {
	removed := 0
	det := outliers.IQR{Multiplier: 1.5}
	for _, name := range columns {
		col, ok := t.FloatColumn(name)
		if !ok {
			continue
		}
		values, rows := col.FloatsWithIndex()
		if len(values) < minOutlierValues {
			continue
		}
		for _, j := range det.Detect(values).Indices() {
			col.SetMissing(rows[j])
			removed++
		}
	}
	return removed
}

// fillGaps interpolates missing values linearly over row position, extending
// the nearest value at both ends, then fills what is left with a trailing
// rolling mean.
func fillGaps(t *dataset.Table, columns []string) (interpolated, rolled int) {
	for _, name := range columns {
		col, ok := t.FloatColumn(name)
		if !ok || col.MissingCount() == 0 {
			continue
		}
		interpolated += interpolate(col)
		if col.MissingCount() > 0 {
			rolled += rollingFill(col, rollingWindow)
		}
	}
	return interpolated, rolled
}

func interpolate(col *dataset.Column) int {
	values, rows := col.FloatsWithIndex()
	if len(values) == 0 {
		return 0
	}
	filled := 0
	n := col.Len()
	next := 0
	for i := 0; i < n; i++ {
		if !col.IsMissing(i) {
			continue
		}
		for next < len(rows) && rows[next] < i {
			next++
		}
		var v float64
		switch {
		case next == 0:
			v = values[0]
		case next == len(rows):
			v = values[len(values)-1]
		default:
			x0, x1 := rows[next-1], rows[next]
			y0, y1 := values[next-1], values[next]
			v = y0 + (y1-y0)*float64(i-x0)/float64(x1-x0)
		}
		col.SetFloat(i, v)
		filled++
	}
	return filled
}

// rollingFill replaces each missing value with the mean of the present values
// in the window ending at it. Means are taken over the values as they were
// before filling.
func rollingFill(col *dataset.Column, window int) int {
	raw := col.RawFloats()
	filled := 0
	for i, x := range raw {
		if !math.IsNaN(x) {
			continue
		}
		var win []float64
		for j := i - window + 1; j <= i; j++ {
			if j >= 0 && !math.IsNaN(raw[j]) {
				win = append(win, raw[j])
			}
		}
		if len(win) > 0 {
			col.SetFloat(i, numeric.Mean(win))
			filled++
		}
	}
	return filled
}

// repairTemperatures enforces min <= avg <= max. Inverted min/max pairs are
// swapped first; avg is then recomputed as the midpoint of min and max.
func repairTemperatures(t *dataset.Table) int {
	tmin, okMin := t.FloatColumn(models.ColTempMin)
	tavg, okAvg := t.FloatColumn(models.ColTempAvg)
	tmax, okMax := t.FloatColumn(models.ColTempMax)
	if !okMin || !okAvg || !okMax {
		return 0
	}
	avgVar, _ := models.LookupVariable(models.ColTempAvg)
	repaired := 0
	for i := 0; i < t.Len(); i++ {
		lo, ok1 := tmin.Float(i)
		avg, ok2 := tavg.Float(i)
		hi, ok3 := tmax.Float(i)
		if !ok1 || !ok2 || !ok3 || (lo <= avg && avg <= hi) {
			continue
		}
		if lo > hi {
			lo, hi = hi, lo
			tmin.SetFloat(i, lo)
			tmax.SetFloat(i, hi)
		}
		mid := (lo + hi) / 2
		if avgVar.InRange(mid) {
			tavg.SetFloat(i, mid)
		} else {
			tavg.SetMissing(i)
		}
		repaired++
	}
	return repaired
}
