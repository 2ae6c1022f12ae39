package exploratory

import (
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"climate-analytics/internal/analysis"
	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
	"climate-analytics/internal/numeric"
	"climate-analytics/internal/outliers"
)

// Correlation strength thresholds on |r|
const (
	moderateCorrelation  = 0.5
	strongCorrelation    = 0.7
	collinearCorrelation = 0.8
	maxStrongPairs       = 10
	topStations          = 5
	minAnomalyValues     = 10
)

// Season returns the meteorological season of a month: DJF, MAM, JJA or SON
func Season(m time.Month) string {
	switch m {
	case time.December, time.January, time.February:
		return "DJF"
	case time.March, time.April, time.May:
		return "MAM"
	case time.June, time.July, time.August:
		return "JJA"
	default:
		return "SON"
	}
}

func ok() analysis.Marker { return analysis.Marker{Status: analysis.StatusOK} }

func insufficient(reason string) analysis.Marker {
	return analysis.Marker{Status: analysis.StatusInsufficientData, Reason: reason}
}

// DateRange is the span of the date column, nil bounds when absent
type DateRange struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// ColumnInfo describes one column of the input table
type ColumnInfo struct {
	Kind         string `json:"dtype"`
	NonNullCount int    `json:"non_null_count"`
	NullCount    int    `json:"null_count"`
	UniqueValues int    `json:"unique_values"`
}

// DataSummary is the first section of the results
type DataSummary struct {
	TotalRecords          int                   `json:"total_records"`
	DateRange             DateRange             `json:"date_range"`
	StationsCount         int                   `json:"stations_count"`
	VariablesCount        int                   `json:"variables_count"`
	MissingDataPercentage float64               `json:"missing_data_percentage"`
	Columns               map[string]ColumnInfo `json:"columns_info"`
}

func missingPercentage(t *dataset.Table) float64 {
	cells := t.Len() * t.Width()
	if cells == 0 {
		return 0
	}
	return float64(t.MissingCells()) / float64(cells) * 100
}

func dateRange(t *dataset.Table) DateRange {
	start, end, found := t.TimeRange(models.ColDate)
	if !found {
		return DateRange{}
	}
	return DateRange{Start: &start, End: &end}
}

func stationCount(t *dataset.Table) int {
	keys, _, err := t.GroupBy(models.ColStation)
	if err != nil {
		return 0
	}
	return len(keys)
}

func summarize(t *dataset.Table, schema dataset.Schema) DataSummary {
	s := DataSummary{
		TotalRecords:          t.Len(),
		DateRange:             dateRange(t),
		StationsCount:         stationCount(t),
		VariablesCount:        len(schema.Numeric),
		MissingDataPercentage: missingPercentage(t),
		Columns:               make(map[string]ColumnInfo, t.Width()),
	}
	for _, c := range t.Columns() {
		seen := make(map[string]struct{})
		for i := 0; i < c.Len(); i++ {
			if !c.IsMissing(i) {
				seen[c.String(i)] = struct{}{}
			}
		}
		missing := c.MissingCount()
		s.Columns[c.Name()] = ColumnInfo{
			Kind:         c.Kind().String(),
			NonNullCount: c.Len() - missing,
			NullCount:    missing,
			UniqueValues: len(seen),
		}
	}
	return s
}

// Aggregate is the mean/std/count of one group
type Aggregate struct {
	Mean  *float64 `json:"mean"`
	Std   *float64 `json:"std"`
	Count int      `json:"count"`
}

func aggregate(vals []float64) Aggregate {
	a := Aggregate{Count: len(vals)}
	if len(vals) > 0 {
		a.Mean = numeric.Finite(stat.Mean(vals, nil))
		a.Std = numeric.Finite(numeric.StdDev(vals))
	}
	return a
}

// Coverage is the temporal extent of the data
type Coverage struct {
	YearsCovered  int `json:"years_covered"`
	MonthsCovered int `json:"months_covered"`
	DateRangeDays int `json:"date_range_days"`
}

// TemporalAnalysis aggregates every numeric column by season, month and year
type TemporalAnalysis struct {
	analysis.Marker
	Coverage Coverage                        `json:"temporal_coverage"`
	Seasonal map[string]map[string]Aggregate `json:"seasonal_patterns,omitempty"`
	Monthly  map[string]map[int]Aggregate    `json:"monthly_patterns,omitempty"`
	Yearly   map[string]map[int]Aggregate    `json:"yearly_patterns,omitempty"`
}

// dated pairs every row index with its parsed date, skipping missing dates
type dated struct {
	rows  []int
	dates []time.Time
}

func datedRows(t *dataset.Table, schema dataset.Schema) (dated, bool) {
	if !schema.HasDate {
		return dated{}, false
	}
	c, _ := t.Column(models.ColDate)
	times, _ := c.AsTime()
	var d dated
	for i := 0; i < t.Len(); i++ {
		if ts, ok := times.Time(i); ok {
			d.rows = append(d.rows, i)
			d.dates = append(d.dates, ts)
		}
	}
	return d, len(d.rows) > 0
}

func temporal(t *dataset.Table, schema dataset.Schema) TemporalAnalysis {
	d, found := datedRows(t, schema)
	if !found {
		return TemporalAnalysis{Marker: insufficient("date column not found")}
	}
	res := TemporalAnalysis{
		Marker:   ok(),
		Seasonal: make(map[string]map[string]Aggregate),
		Monthly:  make(map[string]map[int]Aggregate),
		Yearly:   make(map[string]map[int]Aggregate),
	}
	years := make(map[int]struct{})
	months := make(map[time.Month]struct{})
	first, last := d.dates[0], d.dates[0]
	for _, ts := range d.dates {
		years[ts.Year()] = struct{}{}
		months[ts.Month()] = struct{}{}
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	res.Coverage = Coverage{
		YearsCovered:  len(years),
		MonthsCovered: len(months),
		DateRangeDays: int(last.Sub(first).Hours() / 24),
	}

	for _, name := range schema.Numeric {
		col, _ := t.FloatColumn(name)
		bySeason := make(map[string][]float64)
		byMonth := make(map[int][]float64)
		byYear := make(map[int][]float64)
		for k, row := range d.rows {
			v, ok := col.Float(row)
			if !ok {
				continue
			}
			ts := d.dates[k]
			bySeason[Season(ts.Month())] = append(bySeason[Season(ts.Month())], v)
			byMonth[int(ts.Month())] = append(byMonth[int(ts.Month())], v)
			byYear[ts.Year()] = append(byYear[ts.Year()], v)
		}
		res.Seasonal[name] = make(map[string]Aggregate, len(bySeason))
		for k, v := range bySeason {
			res.Seasonal[name][k] = aggregate(v)
		}
		res.Monthly[name] = make(map[int]Aggregate, len(byMonth))
		for k, v := range byMonth {
			res.Monthly[name][k] = aggregate(v)
		}
		res.Yearly[name] = make(map[int]Aggregate, len(byYear))
		for k, v := range byYear {
			res.Yearly[name][k] = aggregate(v)
		}
	}
	return res
}

// StrongPair is a variable pair with |r| above the moderate threshold
type StrongPair struct {
	Variable1   string  `json:"variable1"`
	Variable2   string  `json:"variable2"`
	Correlation float64 `json:"correlation"`
	Strength    string  `json:"strength"`
}

// CorrelationSummary summarizes the upper triangle of the matrix
type CorrelationSummary struct {
	Mean float64 `json:"mean_correlation"`
	Max  float64 `json:"max_correlation"`
	Min  float64 `json:"min_correlation"`
}

// CorrelationAnalysis is the Pearson matrix plus its strongest pairs
type CorrelationAnalysis struct {
	analysis.Marker
	Matrix  map[string]map[string]*float64 `json:"correlation_matrix,omitempty"`
	Strong  []StrongPair                   `json:"strong_correlations"`
	Overall *CorrelationSummary            `json:"overall_correlation_summary,omitempty"`
}

func correlations(a *analysis.Analyzer, t *dataset.Table) CorrelationAnalysis {
	c, err := a.Correlation(t, nil, analysis.Pearson)
	if err != nil || !c.OK() {
		m := c.Marker
		if err != nil {
			m = analysis.Marker{Status: analysis.StatusUnavailable, Reason: err.Error()}
		}
		return CorrelationAnalysis{Marker: m, Strong: []StrongPair{}}
	}
	res := CorrelationAnalysis{Marker: ok(), Matrix: c.Matrix, Strong: []StrongPair{}}

	pairs := c.Pairs()
	if len(pairs) > 0 {
		sum := 0.0
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, p := range pairs {
			sum += p.Correlation
			lo = math.Min(lo, p.Correlation)
			hi = math.Max(hi, p.Correlation)
		}
		res.Overall = &CorrelationSummary{Mean: sum / float64(len(pairs)), Max: hi, Min: lo}
	}
	for _, p := range pairs {
		r := math.Abs(p.Correlation)
		if r <= moderateCorrelation {
			continue
		}
		strength := "moderate"
		if r > strongCorrelation {
			strength = "strong"
		}
		res.Strong = append(res.Strong, StrongPair{Variable1: p.Var1, Variable2: p.Var2, Correlation: p.Correlation, Strength: strength})
	}
	sort.SliceStable(res.Strong, func(i, j int) bool {
		return math.Abs(res.Strong[i].Correlation) > math.Abs(res.Strong[j].Correlation)
	})
	if len(res.Strong) > maxStrongPairs {
		res.Strong = res.Strong[:maxStrongPairs]
	}
	return res
}

// SeasonalTrend is the slope of the monthly means taken in month order
type SeasonalTrend struct {
	Slope     float64 `json:"trend_slope"`
	Direction string  `json:"trend_direction"`
}

// SeasonalAnalysis compares the seasons of every numeric column
type SeasonalAnalysis struct {
	analysis.Marker
	Means       map[string]map[string]float64  `json:"seasonal_means,omitempty"`
	Variability map[string]map[string]*float64 `json:"seasonal_variability,omitempty"`
	PeakSeasons map[string]string              `json:"peak_seasons,omitempty"`
	Trends      map[string]SeasonalTrend       `json:"seasonal_trends,omitempty"`
}

var seasonOrder = []string{"DJF", "MAM", "JJA", "SON"}

func seasonal(t *dataset.Table, schema dataset.Schema) SeasonalAnalysis {
	d, found := datedRows(t, schema)
	if !found {
		return SeasonalAnalysis{Marker: insufficient("date column not found")}
	}
	res := SeasonalAnalysis{
		Marker:      ok(),
		Means:       make(map[string]map[string]float64),
		Variability: make(map[string]map[string]*float64),
		PeakSeasons: make(map[string]string),
		Trends:      make(map[string]SeasonalTrend),
	}
	for _, name := range schema.Numeric {
		col, _ := t.FloatColumn(name)
		bySeason := make(map[string][]float64)
		byMonth := make(map[int][]float64)
		for k, row := range d.rows {
			if v, ok := col.Float(row); ok {
				m := d.dates[k].Month()
				bySeason[Season(m)] = append(bySeason[Season(m)], v)
				byMonth[int(m)] = append(byMonth[int(m)], v)
			}
		}
		if len(bySeason) == 0 {
			continue
		}
		means := make(map[string]float64)
		stds := make(map[string]*float64)
		peak, peakMean := "", math.Inf(-1)
		for _, s := range seasonOrder {
			vals, ok := bySeason[s]
			if !ok {
				continue
			}
			m := stat.Mean(vals, nil)
			means[s] = m
			stds[s] = numeric.Finite(numeric.StdDev(vals))
			if m > peakMean {
				peak, peakMean = s, m
			}
		}
		res.Means[name] = means
		res.Variability[name] = stds
		res.PeakSeasons[name] = peak

		var monthMeans []float64
		for m := 1; m <= 12; m++ {
			if vals, ok := byMonth[m]; ok {
				monthMeans = append(monthMeans, stat.Mean(vals, nil))
			}
		}
		if len(monthMeans) > 1 {
			x := make([]float64, len(monthMeans))
			for i := range x {
				x[i] = float64(i)
			}
			_, slope := stat.LinearRegression(x, monthMeans, nil, false)
			dir := analysis.Decreasing
			if slope > 0 {
				dir = analysis.Increasing
			}
			res.Trends[name] = SeasonalTrend{Slope: slope, Direction: dir}
		}
	}
	return res
}

// StationCount is a station with its number of records
type StationCount struct {
	Station string `json:"station"`
	Records int    `json:"records"`
}

// StationSummary ranks stations by record count
type StationSummary struct {
	TotalStations int            `json:"total_stations"`
	MostData      []StationCount `json:"stations_with_most_data"`
	LeastData     []StationCount `json:"stations_with_least_data"`
}

// StationVariable compares one variable across stations
type StationVariable struct {
	Means       map[string]*float64 `json:"means_by_station"`
	Stds        map[string]*float64 `json:"std_by_station"`
	HighestMean string              `json:"station_with_highest_mean,omitempty"`
	LowestMean  string              `json:"station_with_lowest_mean,omitempty"`
}

// StationAnalysis is the per-station section of the results
type StationAnalysis struct {
	analysis.Marker
	Summary      StationSummary             `json:"station_summary"`
	Comparison   map[string]StationVariable `json:"station_comparison,omitempty"`
	Completeness map[string]float64         `json:"data_completeness,omitempty"`
}

func stations(t *dataset.Table, schema dataset.Schema) StationAnalysis {
	if !schema.HasStation {
		return StationAnalysis{Marker: insufficient("station column not found")}
	}
	keys, groups, err := t.GroupBy(models.ColStation)
	if err != nil {
		return StationAnalysis{Marker: insufficient(err.Error())}
	}
	res := StationAnalysis{
		Marker:       ok(),
		Comparison:   make(map[string]StationVariable),
		Completeness: make(map[string]float64, len(keys)),
	}

	counts := make([]StationCount, len(keys))
	for i, k := range keys {
		counts[i] = StationCount{Station: k, Records: len(groups[k])}
	}
	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Records > counts[j].Records })
	res.Summary = StationSummary{
		TotalStations: len(keys),
		MostData:      counts[:min(topStations, len(counts))],
		LeastData:     counts[max(0, len(counts)-topStations):],
	}

	for _, name := range schema.Numeric {
		col, _ := t.FloatColumn(name)
		sv := StationVariable{Means: make(map[string]*float64), Stds: make(map[string]*float64)}
		var hi, lo float64
		for _, k := range keys {
			var vals []float64
			for _, row := range groups[k] {
				if v, ok := col.Float(row); ok {
					vals = append(vals, v)
				}
			}
			if len(vals) == 0 {
				sv.Means[k], sv.Stds[k] = nil, nil
				continue
			}
			m := stat.Mean(vals, nil)
			sv.Means[k] = numeric.Finite(m)
			sv.Stds[k] = numeric.Finite(numeric.StdDev(vals))
			if sv.HighestMean == "" || m > hi {
				sv.HighestMean, hi = k, m
			}
			if sv.LowestMean == "" || m < lo {
				sv.LowestMean, lo = k, m
			}
		}
		res.Comparison[name] = sv
	}

	for _, k := range keys {
		rows := groups[k]
		present := 0
		for _, c := range t.Columns() {
			for _, row := range rows {
				if !c.IsMissing(row) {
					present++
				}
			}
		}
		res.Completeness[k] = float64(present) / float64(len(rows)*t.Width()) * 100
	}
	return res
}

// AnomalySummary counts the IQR outliers of one column; Percentage is over
// all rows of the table
type AnomalySummary struct {
	Total      int     `json:"total_anomalies"`
	Percentage float64 `json:"anomaly_percentage"`
	Lower      float64 `json:"lower_bound"`
	Upper      float64 `json:"upper_bound"`
}

// AnomalyDetail describes the flagged values of one column
type AnomalyDetail struct {
	Min  float64 `json:"min_anomaly_value"`
	Max  float64 `json:"max_anomaly_value"`
	Mean float64 `json:"anomaly_mean"`
}

// AnomalyAnalysis is the IQR anomaly section
type AnomalyAnalysis struct {
	Summary map[string]AnomalySummary `json:"anomaly_summary"`
	Details map[string]AnomalyDetail  `json:"anomaly_details"`
}

func anomalies(t *dataset.Table, schema dataset.Schema, det outliers.Detector) AnomalyAnalysis {
	res := AnomalyAnalysis{Summary: make(map[string]AnomalySummary), Details: make(map[string]AnomalyDetail)}
	for _, name := range schema.Numeric {
		col, _ := t.FloatColumn(name)
		values := col.Floats()
		if len(values) <= minAnomalyValues {
			continue
		}
		d := det.Detect(values)
		s := AnomalySummary{Total: d.Count(), Percentage: float64(d.Count()) / float64(t.Len()) * 100}
		if d.Lower != nil && d.Upper != nil {
			s.Lower, s.Upper = *d.Lower, *d.Upper
		}
		res.Summary[name] = s

		var flagged []float64
		for _, i := range d.Indices() {
			flagged = append(flagged, values[i])
		}
		if len(flagged) > 0 {
			lo, hi := numeric.MinMax(flagged)
			res.Details[name] = AnomalyDetail{Min: lo, Max: hi, Mean: stat.Mean(flagged, nil)}
		}
	}
	return res
}

// ColumnMissing is a column with its missing cell count
type ColumnMissing struct {
	Column  string `json:"column"`
	Missing int    `json:"missing"`
}

// Completeness is the missing-data part of the quality report
type Completeness struct {
	Overall         float64         `json:"overall_completeness"`
	MissingByColumn map[string]int  `json:"missing_data_by_column"`
	MostMissing     []ColumnMissing `json:"columns_with_most_missing"`
}

// Consistency lists the plausibility problems found
type Consistency struct {
	Issues []string `json:"issues_found"`
	Score  float64  `json:"consistency_score"`
}

// QualityReport blends completeness and consistency into one score
type QualityReport struct {
	Completeness Completeness `json:"completeness"`
	Consistency  Consistency  `json:"consistency"`
	OverallScore float64      `json:"overall_quality_score"`
}

// Plausibility limits of the consistency check; wider than the variable
// ranges used by validation
const (
	minPlausibleTemp = -50.0
	maxPlausibleTemp = 60.0
)

func quality(t *dataset.Table, schema dataset.Schema) QualityReport {
	var r QualityReport
	cells := t.Len() * t.Width()
	r.Completeness.MissingByColumn = make(map[string]int, t.Width())
	var missing []ColumnMissing
	for _, c := range t.Columns() {
		n := c.MissingCount()
		r.Completeness.MissingByColumn[c.Name()] = n
		missing = append(missing, ColumnMissing{Column: c.Name(), Missing: n})
	}
	sort.SliceStable(missing, func(i, j int) bool { return missing[i].Missing > missing[j].Missing })
	r.Completeness.MostMissing = missing[:min(5, len(missing))]
	if cells > 0 {
		r.Completeness.Overall = float64(cells-t.MissingCells()) / float64(cells) * 100
	}

	issues := []string{}
	if d, found := datedRows(t, schema); found {
		for i := 1; i < len(d.dates); i++ {
			if d.dates[i].Before(d.dates[i-1]) {
				issues = append(issues, "dates are not in chronological order")
				break
			}
		}
	}
	for _, name := range schema.Numeric {
		col, _ := t.FloatColumn(name)
		values := col.Floats()
		if len(values) == 0 {
			continue
		}
		lo, hi := numeric.MinMax(values)
		lower := strings.ToLower(name)
		switch {
		case strings.Contains(lower, "temperatura"):
			if lo < minPlausibleTemp || hi > maxPlausibleTemp {
				issues = append(issues, "temperature values out of range in "+name)
			}
		case strings.Contains(lower, "humedad"):
			if lo < 0 || hi > 100 {
				issues = append(issues, "humidity values out of range in "+name)
			}
		}
	}
	r.Consistency = Consistency{Issues: issues, Score: math.Max(0, 100-10*float64(len(issues)))}
	r.OverallScore = (r.Completeness.Overall + r.Consistency.Score) / 2
	return r
}

// Recommendation texts
const (
	RecommendImputation        = "High share of missing data. Consider an imputation strategy."
	RecommendLongerPeriod      = "Limited temporal coverage. Extend the analysis period to at least one year."
	RecommendMoreStations      = "Few weather stations. Include more stations for better spatial coverage."
	RecommendMulticollinearity = "Highly correlated variables detected. Consider a multicollinearity analysis."
	RecommendContinue          = "The data shows good overall quality. Continue with more advanced analyses."
)

func recommendations(t *dataset.Table, schema dataset.Schema, corr CorrelationAnalysis) []string {
	var out []string
	if missingPercentage(t) > 20 {
		out = append(out, RecommendImputation)
	}
	if r := dateRange(t); r.Start != nil && r.End.Sub(*r.Start) < 365*24*time.Hour {
		out = append(out, RecommendLongerPeriod)
	}
	if schema.HasStation && stationCount(t) < 5 {
		out = append(out, RecommendMoreStations)
	}
	if highlyCorrelated(corr.Matrix) {
		out = append(out, RecommendMulticollinearity)
	}
	if len(out) == 0 {
		out = append(out, RecommendContinue)
	}
	return out
}

func highlyCorrelated(m map[string]map[string]*float64) bool {
	for v1, row := range m {
		for v2, r := range row {
			if v1 != v2 && r != nil && *r > collinearCorrelation {
				return true
			}
		}
	}
	return false
}
