package analysis

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
	"climate-analytics/internal/outliers"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

func newTestAnalyzer(forest bool) (*Analyzer, *metrics.Collector) {
	opts := outliers.DefaultOptions()
	opts.ForestEnabled = forest
	m := metrics.NewTestCollector()
	return NewAnalyzer(logging.NewNopLogger(), m, opts), m
}

func days(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

var jan1 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func seq(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func TestDescriptive(t *testing.T) {
	vals := seq(10, func(i int) float64 { return float64(i + 1) })
	vals = append(vals, math.NaN(), math.NaN())
	tbl := dataset.MustNew(
		dataset.NewFloatColumn("x", vals),
		dataset.NewFloatColumn("empty", seq(12, func(int) float64 { return math.NaN() })),
	)
	a, _ := newTestAnalyzer(true)

	out := a.Descriptive(tbl, nil)
	require.Contains(t, out, "x")
	d := out["x"]
	assert.True(t, d.OK())
	assert.Equal(t, 10, d.Count)
	assert.Equal(t, 2, d.MissingCount)
	assert.InDelta(t, 2.0/12*100, d.MissingPercentage, 1e-9)
	assert.InDelta(t, 5.5, *d.Mean, 1e-9)
	assert.InDelta(t, 5.5, *d.Median, 1e-9)
	assert.InDelta(t, 3.25, *d.Q25, 1e-9)
	assert.InDelta(t, 7.75, *d.Q75, 1e-9)
	assert.InDelta(t, 3.0276503540974917, *d.Std, 1e-9)
	assert.InDelta(t, 0, *d.Skewness, 1e-9)
	assert.InDelta(t, -1.2, *d.Kurtosis, 1e-9)
	assert.Equal(t, 1.0, *d.Min)
	assert.Equal(t, 10.0, *d.Max)

	e := out["empty"]
	assert.Equal(t, StatusInsufficientData, e.Status)
	assert.Nil(t, e.Mean)
	assert.Equal(t, 12, e.MissingCount)
}

func TestDescriptive_UnknownVariablesAreSkipped(t *testing.T) {
	tbl := dataset.MustNew(dataset.NewFloatColumn("x", []float64{1, 2, 3}))
	a, _ := newTestAnalyzer(true)

	out := a.Descriptive(tbl, []string{"x", "nope"})
	assert.Len(t, out, 1)
	assert.Nil(t, out["x"].Skewness, "skewness needs more than 2 values")
	assert.Nil(t, out["x"].Kurtosis)
}

func TestNormality(t *testing.T) {
	n := 40
	normal := seq(n, func(i int) float64 {
		return 20 + 2*standardNormal.Quantile((float64(i)+0.5)/float64(n))
	})
	skewed := seq(n, func(i int) float64 { return math.Exp(float64(i) / 4) })
	tbl := dataset.MustNew(
		dataset.NewFloatColumn("normal", normal),
		dataset.NewFloatColumn("skewed", skewed),
		dataset.NewFloatColumn("short", append([]float64{1, 2, 3}, seq(n-3, func(int) float64 { return math.NaN() })...)),
		dataset.NewFloatColumn("constant", seq(n, func(int) float64 { return 5 })),
	)
	a, _ := newTestAnalyzer(true)

	out := a.Normality(tbl, nil)

	nr := out["normal"]
	require.True(t, nr.OK())
	require.NotNil(t, nr.ShapiroWilk.PValue)
	assert.True(t, *nr.ShapiroWilk.IsNormal)
	assert.Greater(t, *nr.ShapiroWilk.Statistic, 0.95)
	assert.True(t, *nr.KolmogorovSmirnov.IsNormal)

	sk := out["skewed"]
	require.NotNil(t, sk.ShapiroWilk.PValue)
	assert.False(t, *sk.ShapiroWilk.IsNormal)
	assert.Less(t, *sk.ShapiroWilk.PValue, 0.01)

	assert.Equal(t, StatusInsufficientData, out["short"].Status)

	c := out["constant"]
	assert.True(t, c.OK())
	assert.Nil(t, c.ShapiroWilk.Statistic)
	assert.Nil(t, c.ShapiroWilk.PValue)
	assert.Nil(t, c.ShapiroWilk.IsNormal)
	assert.Nil(t, c.KolmogorovSmirnov.PValue)
}

func TestShapiroWilk_Bounds(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
	}{
		{"three", []float64{1, 2, 4}},
		{"five", []float64{2.1, 3.3, 1.9, 4.8, 3.0}},
		{"eleven", seq(11, func(i int) float64 { return float64(i*i) / 7 })},
		{"fifty", seq(50, func(i int) float64 { return math.Sin(float64(i)) * 10 })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, p, err := ShapiroWilk(tt.values)
			require.NoError(t, err)
			assert.True(t, w > 0 && w <= 1, "w=%v", w)
			assert.True(t, p >= 0 && p <= 1, "p=%v", p)
		})
	}

	_, _, err := ShapiroWilk([]float64{1, 2})
	assert.Error(t, err)
	_, _, err = ShapiroWilk([]float64{3, 3, 3, 3})
	assert.Error(t, err)
}

func TestCorrelation_LinearColumns(t *testing.T) {
	n := 20
	x := seq(n, func(i int) float64 { return float64(i) })
	tbl := dataset.MustNew(
		dataset.NewFloatColumn("x", x),
		dataset.NewFloatColumn("up", seq(n, func(i int) float64 { return 2*x[i] + 1 })),
		dataset.NewFloatColumn("down", seq(n, func(i int) float64 { return -3*x[i] + 7 })),
	)
	a, _ := newTestAnalyzer(true)

	for _, method := range []string{Pearson, Spearman, Kendall} {
		t.Run(method, func(t *testing.T) {
			c, err := a.Correlation(tbl, nil, method)
			require.NoError(t, err)
			require.True(t, c.OK())
			assert.InDelta(t, 1.0, *c.Matrix["x"]["up"], 1e-9)
			assert.InDelta(t, -1.0, *c.Matrix["x"]["down"], 1e-9)
			assert.InDelta(t, 1.0, *c.Matrix["x"]["x"], 1e-9)
			assert.Equal(t, c.Matrix["up"]["x"], c.Matrix["x"]["up"])
			require.NotNil(t, c.PValues["x_up"])
			assert.Less(t, *c.PValues["x_up"], 1e-6)
			assert.Len(t, c.Pairs(), 3)
		})
	}
}

func TestCorrelation_Markers(t *testing.T) {
	a, _ := newTestAnalyzer(true)
	one := dataset.MustNew(dataset.NewFloatColumn("x", []float64{1, 2, 3, 4}))

	c, err := a.Correlation(one, nil, "")
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficientVariables, c.Status)
	assert.Equal(t, Pearson, c.Method)

	_, err = a.Correlation(one, nil, "distance")
	require.Error(t, err)
	assert.True(t, models.IsInputError(err))

	nan := math.NaN()
	sparse := dataset.MustNew(
		dataset.NewFloatColumn("a", []float64{1, 2, 3, nan, 5, 6}),
		dataset.NewFloatColumn("b", []float64{2, 4, 7, 8, nan, nan}),
		dataset.NewFloatColumn("flat", []float64{1, 1, 1, 1, 1, 1}),
	)
	c, err = a.Correlation(sparse, nil, Pearson)
	require.NoError(t, err)
	assert.NotNil(t, c.Matrix["a"]["b"], "three joint rows still give a coefficient")
	assert.NotContains(t, c.PValues, "a_b", "p-values need more than three joint rows")
	assert.Nil(t, c.Matrix["a"]["flat"])
	assert.Contains(t, c.PValues, "a_flat")
	assert.Nil(t, c.PValues["a_flat"])
}

func TestKendallTauB_Ties(t *testing.T) {
	tau := kendallTauB([]float64{1, 2, 2, 3}, []float64{1, 2, 3, 4})
	// 5 concordant, 0 discordant, one tie in x
	assert.InDelta(t, 5/math.Sqrt(5*6), tau, 1e-12)
}

func trendTable(values []float64) *dataset.Table {
	return dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, days(jan1, len(values))),
		dataset.NewFloatColumn("temperatura_promedio", values),
	)
}

func TestTrend_Linear(t *testing.T) {
	a, _ := newTestAnalyzer(true)
	vals := seq(30, func(i int) float64 { return 5 + 2*float64(i) })

	tr, err := a.Trend(trendTable(vals), "temperatura_promedio")
	require.NoError(t, err)
	require.True(t, tr.OK())
	require.NotNil(t, tr.Linear)
	assert.InDelta(t, 2, tr.Linear.Slope, 1e-9)
	assert.InDelta(t, 5, tr.Linear.Intercept, 1e-9)
	assert.InDelta(t, 1, tr.Linear.RSquared, 1e-9)
	assert.Equal(t, Increasing, tr.Linear.Direction)
	assert.True(t, tr.Linear.Significant)
	assert.Equal(t, 30, tr.DataPoints)
	require.NotNil(t, tr.DateRange)
	assert.Equal(t, 29, tr.DateRange.DurationDays)
	assert.Equal(t, Increasing, tr.MannKendall.Trend)
}

func TestTrend_SortsByDateAndSkipsMissing(t *testing.T) {
	a, _ := newTestAnalyzer(true)
	dates := []time.Time{jan1.AddDate(0, 0, 3), jan1, {}, jan1.AddDate(0, 0, 1), jan1.AddDate(0, 0, 2)}
	tbl := dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, dates),
		dataset.NewFloatColumn("v", []float64{1, 4, 100, math.NaN(), 2}),
	)

	tr, err := a.Trend(tbl, "v")
	require.NoError(t, err)
	assert.Equal(t, 3, tr.DataPoints)
	assert.Equal(t, Decreasing, tr.Linear.Direction)
	assert.Equal(t, -3.0, tr.MannKendall.Statistic)
}

func TestTrend_Markers(t *testing.T) {
	a, _ := newTestAnalyzer(true)

	_, err := a.Trend(trendTable([]float64{1, 2, 3}), "nope")
	require.Error(t, err)
	assert.True(t, models.IsInputError(err))

	tr, err := a.Trend(trendTable([]float64{1, 2}), "temperatura_promedio")
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficientData, tr.Status)
	assert.Nil(t, tr.Linear)

	noDate := dataset.MustNew(dataset.NewFloatColumn("v", []float64{1, 2, 3, 4}))
	tr, err = a.Trend(noDate, "v")
	require.NoError(t, err)
	assert.Equal(t, StatusInsufficientData, tr.Status)
}

func TestMannKendall_StrictlyIncreasing(t *testing.T) {
	for n := 5; n <= 40; n++ {
		mk := MannKendallTest(seq(n, func(i int) float64 { return float64(i) * 0.7 }))
		assert.Equal(t, float64(n*(n-1)/2), mk.Statistic, "n=%d", n)
		assert.Equal(t, Increasing, mk.Trend, "n=%d", n)
		assert.Greater(t, mk.ZScore, 0.0)
	}
}

func TestMannKendall(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		s      float64
		trend  string
	}{
		{"decreasing", seq(12, func(i int) float64 { return -float64(i) }), -66, Decreasing},
		{"constant", seq(12, func(int) float64 { return 3 }), 0, NoTrend},
		{"zigzag", []float64{1, 3, 2, 4, 3, 5, 4, 2}, 9, NoTrend},
		// four strictly increasing points: z = 5/sqrt(26/3), p ~ 0.0894
		{"increasing n=4", []float64{1, 2, 3, 4}, 6, NoTrend},
		{"increasing n=6", []float64{1, 2, 3, 4, 5, 6}, 15, Increasing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mk := MannKendallTest(tt.values)
			assert.Equal(t, tt.s, mk.Statistic)
			assert.Equal(t, tt.trend, mk.Trend)
		})
	}

	mk := MannKendallTest(seq(10, func(int) float64 { return 1 }))
	assert.Equal(t, 0.0, mk.ZScore)
	assert.InDelta(t, 1.0, mk.PValue, 1e-12)
	assert.Equal(t, StatusInsufficientData, MannKendallTest([]float64{1, 2}).Status)

	mk = MannKendallTest([]float64{1, 2, 3, 4})
	assert.InDelta(t, 5/math.Sqrt(26.0/3), mk.ZScore, 1e-12)
	assert.InDelta(t, 0.0894, mk.PValue, 1e-4)
}

func TestTrend_Seasonality(t *testing.T) {
	jul1 := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	dates := append(days(jan1, 3), days(jul1, 3)...)
	tbl := dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, dates),
		dataset.NewFloatColumn("v", []float64{9, 10, 11, 19, 20, 21}),
	)
	a, _ := newTestAnalyzer(true)

	tr, err := a.Trend(tbl, "v")
	require.NoError(t, err)
	s := tr.Seasonal
	require.True(t, s.OK())
	require.Len(t, s.Monthly, 2)
	assert.Equal(t, 1, s.Monthly[0].Month)
	assert.Equal(t, 3, s.Monthly[0].Count)
	assert.InDelta(t, 10, s.Monthly[0].Mean, 1e-9)
	assert.InDelta(t, 1, *s.Monthly[0].Std, 1e-9)
	assert.Equal(t, 7, s.PeakMonth)
	assert.Equal(t, 1, s.LowestMonth)
	assert.InDelta(t, 10, s.SeasonalAmplitude, 1e-9)
}

func outlierTable() *dataset.Table {
	vals := seq(20, func(i int) float64 { return 10 + float64(i) })
	vals = append(vals, 500)
	few := append([]float64{1, 2, 3}, seq(18, func(int) float64 { return math.NaN() })...)
	return dataset.MustNew(
		dataset.NewFloatColumn("precipitacion", vals),
		dataset.NewFloatColumn("few", few),
	)
}

func TestOutliers(t *testing.T) {
	a, m := newTestAnalyzer(true)
	ctx := context.Background()

	out, err := a.Outliers(ctx, outlierTable(), nil, outliers.MethodIQR)
	require.NoError(t, err)
	p := out["precipitacion"]
	require.True(t, p.OK())
	assert.Equal(t, outliers.MethodIQR, p.Method)
	assert.Equal(t, []int{20}, p.Indices)
	assert.Equal(t, []float64{500}, p.Values)
	assert.Equal(t, 1, p.Count)
	assert.InDelta(t, 100.0/21, p.Percentage, 1e-9)
	require.NotNil(t, p.Upper)
	assert.Less(t, *p.Upper, 500.0)
	assert.Equal(t, StatusInsufficientData, out["few"].Status)

	out, err = a.Outliers(ctx, outlierTable(), []string{"precipitacion"}, outliers.MethodZScore)
	require.NoError(t, err)
	z := out["precipitacion"]
	assert.Equal(t, []int{20}, z.Indices)
	require.NotNil(t, z.Threshold)
	assert.Equal(t, 3.0, *z.Threshold)

	out, err = a.Outliers(ctx, outlierTable(), []string{"precipitacion"}, outliers.MethodIsolationForest)
	require.NoError(t, err)
	assert.Contains(t, out["precipitacion"].Indices, 20)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.OutlierFallbacksTotal))

	_, err = a.Outliers(ctx, outlierTable(), nil, "lof")
	assert.True(t, models.IsInputError(err))
}

func TestOutliers_ForestFallback(t *testing.T) {
	a, m := newTestAnalyzer(false)

	out, err := a.Outliers(context.Background(), outlierTable(), []string{"precipitacion"}, outliers.MethodIsolationForest)
	require.NoError(t, err)
	assert.Equal(t, outliers.MethodIQR, out["precipitacion"].Method)
	assert.Equal(t, []int{20}, out["precipitacion"].Indices)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutlierFallbacksTotal))
}

func stationTable(stations []string, values []float64) *dataset.Table {
	return dataset.MustNew(
		dataset.NewTextColumn(models.ColStation, stations),
		dataset.NewFloatColumn(models.ColTempAvg, values),
	)
}

func TestCompareStations_SignificantDifference(t *testing.T) {
	tbl := stationTable(
		[]string{"A", "B", "A", "B", "A", "B", "A", "B", "A", "B"},
		[]float64{17.5, 28.2, 18.3, 27.6, 18.0, 28.1, 17.8, 27.9, 18.4, 28.2},
	)
	a, _ := newTestAnalyzer(true)

	cmp, err := a.CompareStations(tbl, models.ColTempAvg)
	require.NoError(t, err)
	assert.Equal(t, 2, cmp.TotalStations)
	require.Len(t, cmp.Stations, 2)
	assert.Equal(t, "A", cmp.Stations[0].Station)
	assert.InDelta(t, 18, *cmp.Stations[0].Mean, 1e-9)
	assert.InDelta(t, 28, *cmp.Stations[1].Mean, 1e-9)
	assert.Equal(t, 5, cmp.Stations[1].Count)

	require.True(t, cmp.ANOVA.OK())
	assert.True(t, cmp.ANOVA.SignificantDifference)
	assert.Less(t, cmp.ANOVA.PValue, 0.05)
	assert.Equal(t, 2, cmp.ANOVA.Groups)
}

func TestCompareStations_Markers(t *testing.T) {
	a, _ := newTestAnalyzer(true)
	tests := []struct {
		name     string
		stations []string
		values   []float64
		status   string
	}{
		{"single station", []string{"A", "A", "A"}, []float64{1, 2, 3}, StatusSingleStation},
		{"one qualifying group", []string{"A", "A", "B"}, []float64{1, 2, 3}, StatusInsufficientData},
		{"no within-group variance", []string{"A", "A", "B", "B"}, []float64{1, 1, 2, 2}, StatusUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp, err := a.CompareStations(stationTable(tt.stations, tt.values), models.ColTempAvg)
			require.NoError(t, err)
			assert.Equal(t, tt.status, cmp.ANOVA.Status)
			assert.False(t, cmp.ANOVA.SignificantDifference)
		})
	}

	_, err := a.CompareStations(dataset.MustNew(dataset.NewFloatColumn("v", []float64{1})), "v")
	assert.True(t, models.IsInputError(err))
}

func TestOneWayANOVA(t *testing.T) {
	res := OneWayANOVA([][]float64{{1, 2, 3}, {4, 5, 6}})
	require.True(t, res.OK())
	assert.InDelta(t, 13.5, res.FStatistic, 1e-9)
	assert.True(t, res.PValue > 0.02 && res.PValue < 0.025, "p=%v", res.PValue)
	assert.True(t, res.SignificantDifference)
}

func TestReport(t *testing.T) {
	n := 15
	tbl := dataset.MustNew(
		dataset.NewFloatColumn("x", seq(n, func(i int) float64 { return float64(i) })),
		dataset.NewFloatColumn("y", seq(n, func(i int) float64 { return 3 * float64(i) })),
	)
	a, _ := newTestAnalyzer(true)

	r := a.Report(tbl, nil)
	assert.Contains(t, r, "STATISTICAL REPORT")
	assert.Contains(t, r, "1. DESCRIPTIVE STATISTICS")
	assert.Contains(t, r, "Variable: x")
	assert.Contains(t, r, "2. NORMALITY TESTS")
	assert.Contains(t, r, "3. CORRELATIONS")
	assert.Contains(t, r, "x_y: p = 0.0000")
	assert.Contains(t, r, "End of report")
}
