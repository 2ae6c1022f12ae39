package analysis

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
	"climate-analytics/internal/numeric"
)

// Trend labels
const (
	Increasing = "increasing"
	Decreasing = "decreasing"
	NoTrend    = "no_trend"
)

// LinearTrend is an OLS fit of the variable against elapsed days
type LinearTrend struct {
	Slope       float64 `json:"slope"`
	Intercept   float64 `json:"intercept"`
	RSquared    float64 `json:"r_squared"`
	PValue      float64 `json:"p_value"`
	StdError    float64 `json:"std_error"`
	Direction   string  `json:"trend_direction"`
	Significant bool    `json:"trend_significance"`
}

// MannKendall is the non-parametric monotonic trend test
type MannKendall struct {
	Marker
	Statistic float64 `json:"statistic"`
	ZScore    float64 `json:"z_score"`
	PValue    float64 `json:"p_value"`
	Trend     string  `json:"trend"`
}

// MonthStats aggregates one calendar month
type MonthStats struct {
	Month int      `json:"month"`
	Count int      `json:"count"`
	Mean  float64  `json:"mean"`
	Std   *float64 `json:"std"`
	Min   float64  `json:"min"`
	Max   float64  `json:"max"`
}

// Seasonality summarizes the calendar month profile of a series
type Seasonality struct {
	Marker
	Monthly           []MonthStats `json:"monthly_statistics,omitempty"`
	PeakMonth         int          `json:"peak_month,omitempty"`
	LowestMonth       int          `json:"lowest_month,omitempty"`
	SeasonalAmplitude float64      `json:"seasonal_amplitude"`
}

// DateRange is the time span of the analysed observations
type DateRange struct {
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	DurationDays int       `json:"duration_days"`
}

// Trend is the full trend analysis of one variable
type Trend struct {
	Marker
	Variable    string       `json:"variable"`
	Linear      *LinearTrend `json:"linear_trend,omitempty"`
	MannKendall MannKendall  `json:"mann_kendall"`
	Seasonal    Seasonality  `json:"seasonal_analysis"`
	DataPoints  int          `json:"data_points"`
	DateRange   *DateRange   `json:"date_range,omitempty"`
}

// Trend analyses the variable over time. The variable must exist; a missing
// or unparseable date column and fewer than 3 dated observations degrade to
// markers.
func (a *Analyzer) Trend(t *dataset.Table, variable string) (Trend, error) {
	res := Trend{Variable: variable}
	col, ok := t.Column(variable)
	if !ok {
		return res, models.NewInputError("trend", "variable %q not found", variable)
	}
	values, _ := col.AsFloat()

	dcol, ok := t.Column(models.ColDate)
	if !ok {
		res.Marker = insufficient("a date column is required for trend analysis")
		return res, nil
	}
	dates, _ := dcol.AsTime()

	type point struct {
		at time.Time
		v  float64
	}
	var pts []point
	for i := 0; i < t.Len(); i++ {
		ts, okT := dates.Time(i)
		v, okV := values.Float(i)
		if okT && okV {
			pts = append(pts, point{ts, v})
		}
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].at.Before(pts[j].at) })
	res.DataPoints = len(pts)
	if len(pts) < 3 {
		res.Marker = insufficient("at least 3 dated observations are required")
		return res, nil
	}

	first, last := pts[0].at, pts[len(pts)-1].at
	res.DateRange = &DateRange{Start: first, End: last, DurationDays: int(last.Sub(first).Hours() / 24)}

	x := make([]float64, len(pts))
	y := make([]float64, len(pts))
	months := make([]int, len(pts))
	for i, p := range pts {
		x[i] = math.Floor(p.at.Sub(first).Hours() / 24)
		y[i] = p.v
		months[i] = int(p.at.Month())
	}

	res.Marker = computed()
	res.Linear = linearTrend(x, y)
	if res.Linear == nil {
		res.Marker = unavailable("all observations fall on the same day")
	}
	res.MannKendall = MannKendallTest(y)
	res.Seasonal = seasonality(months, y)
	return res, nil
}

func linearTrend(x, y []float64) *LinearTrend {
	n := float64(len(x))
	meanX := stat.Mean(x, nil)
	sxx := 0.0
	for _, v := range x {
		sxx += (v - meanX) * (v - meanX)
	}
	if sxx == 0 {
		return nil
	}
	intercept, slope := stat.LinearRegression(x, y, nil, false)

	sse, sst := 0.0, 0.0
	meanY := stat.Mean(y, nil)
	for i := range x {
		e := y[i] - (intercept + slope*x[i])
		sse += e * e
		sst += (y[i] - meanY) * (y[i] - meanY)
	}
	r2 := 0.0
	if sst > 0 {
		r2 = 1 - sse/sst
	}
	df := n - 2
	stderr := math.Sqrt(sse/df) / math.Sqrt(sxx)

	var p float64
	switch {
	case stderr > 0:
		p = 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Survival(math.Abs(slope/stderr))
	case slope != 0:
		p = 0
	default:
		p = 1
	}

	dir := Decreasing
	if slope > 0 {
		dir = Increasing
	}
	return &LinearTrend{
		Slope:       slope,
		Intercept:   intercept,
		RSquared:    r2,
		PValue:      p,
		StdError:    stderr,
		Direction:   dir,
		Significant: p < significanceLevel,
	}
}

// MannKendallTest computes S over all pairs, its variance n(n-1)(2n+5)/18
// without tie correction, the continuity corrected z and a two-sided p-value.
func MannKendallTest(values []float64) MannKendall {
	n := len(values)
	if n < 3 {
		return MannKendall{Marker: insufficient("at least 3 observations are required")}
	}
	s := 0.0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			switch {
			case values[j] > values[i]:
				s++
			case values[j] < values[i]:
				s--
			}
		}
	}
	fn := float64(n)
	sd := math.Sqrt(fn * (fn - 1) * (2*fn + 5) / 18)
	var z float64
	switch {
	case s > 0:
		z = (s - 1) / sd
	case s < 0:
		z = (s + 1) / sd
	}
	p := 2 * standardNormal.Survival(math.Abs(z))

	trend := NoTrend
	if p < significanceLevel {
		if s > 0 {
			trend = Increasing
		} else {
			trend = Decreasing
		}
	}
	return MannKendall{Marker: computed(), Statistic: s, ZScore: z, PValue: p, Trend: trend}
}

// seasonality groups values by calendar month. Ties for peak and lowest
// month go to the earliest month.
func seasonality(months []int, values []float64) Seasonality {
	byMonth := make(map[int][]float64)
	for i, m := range months {
		byMonth[m] = append(byMonth[m], values[i])
	}
	if len(byMonth) == 0 {
		return Seasonality{Marker: insufficient("no observations")}
	}
	res := Seasonality{Marker: computed()}
	var maxMean, minMean float64
	for m := 1; m <= 12; m++ {
		vals, ok := byMonth[m]
		if !ok {
			continue
		}
		lo, hi := numeric.MinMax(vals)
		ms := MonthStats{Month: m, Count: len(vals), Mean: stat.Mean(vals, nil), Min: lo, Max: hi}
		ms.Std = numeric.Finite(numeric.StdDev(vals))
		if len(res.Monthly) == 0 || ms.Mean > maxMean {
			maxMean, res.PeakMonth = ms.Mean, m
		}
		if len(res.Monthly) == 0 || ms.Mean < minMean {
			minMean, res.LowestMonth = ms.Mean, m
		}
		res.Monthly = append(res.Monthly, ms)
	}
	res.SeasonalAmplitude = maxMean - minMean
	return res
}
