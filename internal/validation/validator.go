// Package validation checks the structure, value ranges, temporal order and
// logical consistency of climate datasets and scores their quality.
package validation

import (
	"fmt"
	"math"
	"time"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
)

// Escalation thresholds: a check becomes an error when more than this share
// of rows violates it, a warning otherwise.
const (
	rangeErrorShare       = 0.10
	temperatureErrorShare = 0.05
	maxGapDays            = 30
)

// Result is the outcome of one validation call
type Result struct {
	IsValid      bool     `json:"is_valid"`
	Errors       []string `json:"errors"`
	Warnings     []string `json:"warnings"`
	QualityScore float64  `json:"data_quality_score"`
	Summary      Summary  `json:"validation_summary"`
}

// Summary holds dataset level counts
type Summary struct {
	TotalRecords int     `json:"total_records"`
	ValidRecords int     `json:"valid_records"`
	ErrorCount   int     `json:"error_count"`
	WarningCount int     `json:"warning_count"`
	Completeness float64 `json:"completeness"`
}

func (r *Result) errorf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) finish() Result {
	r.IsValid = len(r.Errors) == 0
	r.Summary.ErrorCount = len(r.Errors)
	r.Summary.WarningCount = len(r.Warnings)
	return *r
}

// Validator validates climate datasets against the fixed variable ranges
type Validator struct {
	variables []models.Variable
}

// NewValidator creates a validator for the known climate variables
func NewValidator() *Validator {
	return &Validator{variables: models.Variables()}
}

// Validate runs every dataset check. The input table is not modified.
func (v *Validator) Validate(t *dataset.Table) Result {
	res := &Result{Errors: []string{}, Warnings: []string{}}
	rows := t.Len()
	res.Summary.TotalRecords = rows
	if rows == 0 || t.Width() == 0 {
		res.errorf("dataset is empty")
		return res.finish()
	}

	schema := dataset.Describe(t)
	numeric := v.numericVariables(t, schema)

	v.checkStructure(t, schema, res)
	v.checkRanges(numeric, rows, res)
	v.checkTemporal(t, schema, res)
	v.checkLogic(numeric, rows, res)

	cells := float64(rows * t.Width())
	res.Summary.Completeness = (cells - float64(t.MissingCells())) / cells * 100
	res.QualityScore = v.qualityScore(t, numeric)
	res.Summary.ValidRecords = rows - len(res.Errors)
	return res.finish()
}

// numericVariables coerces every known variable column present to floats,
// so text columns with stray tokens are still range checked.
func (v *Validator) numericVariables(t *dataset.Table, schema dataset.Schema) map[string]*dataset.Column {
	out := make(map[string]*dataset.Column, len(schema.Coercible))
	for _, name := range schema.Coercible {
		c, _ := t.Column(name)
		f, _ := c.AsFloat()
		out[name] = f
	}
	return out
}

func (v *Validator) checkStructure(t *dataset.Table, schema dataset.Schema, res *Result) {
	if !schema.HasDate {
		res.errorf("required column '%s' not found", models.ColDate)
	}
	if !schema.HasStation {
		res.errorf("required column '%s' not found", models.ColStation)
	}
	if len(schema.ClimateColumns) == 0 {
		res.errorf("no climate variables found in the data")
	}
	if schema.HasDate && !schema.DateParsed {
		res.errorf("column '%s' does not contain valid dates", models.ColDate)
	}

	empty := 0
	for i := 0; i < t.Len(); i++ {
		allMissing := true
		for _, c := range t.Columns() {
			if !c.IsMissing(i) {
				allMissing = false
				break
			}
		}
		if allMissing {
			empty++
		}
	}
	if empty > 0 {
		res.warnf("found %d completely empty rows", empty)
	}
}

// timeColumn returns the date column as times, or nil when it cannot be used
func timeColumn(t *dataset.Table, schema dataset.Schema) *dataset.Column {
	if !schema.DateParsed {
		return nil
	}
	c, _ := t.Column(models.ColDate)
	tc, _ := c.AsTime()
	return tc
}

// checkRanges reports out-of-range values per variable. Negative
// precipitation and humidity outside [0,100] are left to checkLogic, which
// always reports them as errors.
func (v *Validator) checkRanges(cols map[string]*dataset.Column, rows int, res *Result) {
	for _, variable := range v.variables {
		c, ok := cols[variable.Name]
		if !ok {
			continue
		}
		count := 0
		for _, x := range c.Floats() {
			switch {
			case variable.InRange(x):
			case variable.Name == models.ColHumidity:
			case variable.Name == models.ColPrecipitation && x < 0:
			default:
				count++
			}
		}
		if count == 0 {
			continue
		}
		msg := fmt.Sprintf("column '%s': %d values outside the valid range (%g, %g)", variable.Name, count, variable.Min, variable.Max)
		if float64(count) > float64(rows)*rangeErrorShare {
			res.Errors = append(res.Errors, msg)
		} else {
			res.Warnings = append(res.Warnings, msg)
		}
	}
}

func (v *Validator) checkTemporal(t *dataset.Table, schema dataset.Schema, res *Result) {
	dates := timeColumn(t, schema)
	if dates == nil {
		return
	}

	var prev time.Time
	for i := 0; i < dates.Len(); i++ {
		ts, ok := dates.Time(i)
		if !ok {
			continue
		}
		if !prev.IsZero() && ts.Before(prev) {
			res.warnf("dates are not in chronological order")
			break
		}
		prev = ts
	}

	if !schema.HasStation {
		return
	}
	stations, _ := t.Column(models.ColStation)

	type key struct {
		station string
		nanos   int64
	}
	counts := make(map[key]int)
	for i := 0; i < t.Len(); i++ {
		ts, okT := dates.Time(i)
		if !okT || stations.IsMissing(i) {
			continue
		}
		counts[key{stations.String(i), ts.UnixNano()}]++
	}
	dup := 0
	for _, n := range counts {
		if n > 1 {
			dup++
		}
	}
	if dup > 0 {
		res.warnf("found duplicated dates in %d station-date combinations", dup)
	}

	withDates := dataset.MustNew(dates.Clone(models.ColDate), stations.Clone(models.ColStation))
	keys, groups, _ := withDates.GroupBy(models.ColStation)
	for _, code := range keys {
		sub, _, err := withDates.Take(groups[code]).SortedByTime(models.ColDate)
		if err != nil {
			continue
		}
		col, _ := sub.Column(models.ColDate)
		gaps := 0
		var last time.Time
		for i := 0; i < col.Len(); i++ {
			ts, ok := col.Time(i)
			if !ok {
				continue
			}
			if !last.IsZero() && math.Floor(ts.Sub(last).Hours()/24) > maxGapDays {
				gaps++
			}
			last = ts
		}
		if gaps > 0 {
			res.warnf("station %s: %d time gaps longer than %d days", code, gaps, maxGapDays)
		}
	}
}

// temperatureViolations counts rows where min > avg or avg > max
func temperatureViolations(cols map[string]*dataset.Column) (int, bool) {
	tmin, okMin := cols[models.ColTempMin]
	tavg, okAvg := cols[models.ColTempAvg]
	tmax, okMax := cols[models.ColTempMax]
	if !okMin || !okAvg || !okMax {
		return 0, false
	}
	n := 0
	for i := 0; i < tavg.Len(); i++ {
		avg, ok := tavg.Float(i)
		if !ok {
			continue
		}
		lo, okLo := tmin.Float(i)
		hi, okHi := tmax.Float(i)
		if (okLo && lo > avg) || (okHi && avg > hi) {
			n++
		}
	}
	return n, true
}

func (v *Validator) checkLogic(cols map[string]*dataset.Column, rows int, res *Result) {
	if n, ok := temperatureViolations(cols); ok && n > 0 {
		msg := fmt.Sprintf("found %d records with inconsistent temperatures", n)
		if float64(n) > float64(rows)*temperatureErrorShare {
			res.Errors = append(res.Errors, msg)
		} else {
			res.Warnings = append(res.Warnings, msg)
		}
	}

	if c, ok := cols[models.ColPrecipitation]; ok {
		n := 0
		for _, x := range c.Floats() {
			if x < 0 {
				n++
			}
		}
		if n > 0 {
			res.errorf("found %d records with negative precipitation", n)
		}
	}

	if c, ok := cols[models.ColHumidity]; ok {
		n := 0
		for _, x := range c.Floats() {
			if x < 0 || x > 100 {
				n++
			}
		}
		if n > 0 {
			res.errorf("found %d records with humidity outside [0, 100]", n)
		}
	}
}

// qualityScore starts at 100 and subtracts 0.5 per missing-cell percent,
// 1.0 per out-of-range-cell percent and 2.0 per inconsistent-row percent.
func (v *Validator) qualityScore(t *dataset.Table, cols map[string]*dataset.Column) float64 {
	rows := t.Len()
	cells := float64(rows * t.Width())
	if cells == 0 {
		return 0
	}
	score := 100.0
	score -= float64(t.MissingCells()) / cells * 100 * 0.5

	outOfRange := 0
	for _, variable := range v.variables {
		c, ok := cols[variable.Name]
		if !ok {
			continue
		}
		for _, x := range c.Floats() {
			if !variable.InRange(x) {
				outOfRange++
			}
		}
	}
	score -= float64(outOfRange) / cells * 100 * 1.0

	if n, ok := temperatureViolations(cols); ok {
		score -= float64(n) / float64(rows) * 100 * 2.0
	}
	return math.Max(0, score)
}
