package exploratory

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climate-analytics/internal/analysis"
	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
	"climate-analytics/internal/outliers"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

type fakeCharts struct {
	files map[string]string
	err   error
	calls int
}

func (f *fakeCharts) Render(_ context.Context, _ *dataset.Table, dir string) (map[string]string, error) {
	f.calls++
	return f.files, f.err
}

func newTestService(charts ChartRenderer) *Service {
	m := metrics.NewTestCollector()
	a := analysis.NewAnalyzer(logging.NewNopLogger(), m, outliers.DefaultOptions())
	return NewService(a, charts, logging.NewNopLogger(), m)
}

var jan1 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

// climate builds n daily rows spread round robin over stations
func climate(n int, stations ...string) *dataset.Table {
	dates := make([]time.Time, n)
	codes := make([]string, n)
	temp := make([]float64, n)
	rain := make([]float64, n)
	for i := 0; i < n; i++ {
		dates[i] = jan1.AddDate(0, 0, i)
		codes[i] = stations[i%len(stations)]
		temp[i] = float64(10 + i%7)
		rain[i] = float64(i % 5)
	}
	return dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, dates),
		dataset.NewTextColumn(models.ColStation, codes),
		dataset.NewFloatColumn(models.ColTempAvg, temp),
		dataset.NewFloatColumn(models.ColPrecipitation, rain),
	)
}

func TestSeason(t *testing.T) {
	tests := map[time.Month]string{
		time.December:  "DJF",
		time.January:   "DJF",
		time.February:  "DJF",
		time.March:     "MAM",
		time.May:       "MAM",
		time.June:      "JJA",
		time.August:    "JJA",
		time.September: "SON",
		time.November:  "SON",
	}
	for m, want := range tests {
		assert.Equal(t, want, Season(m), m.String())
	}
}

func TestRun_NoNumericData(t *testing.T) {
	s := newTestService(nil)
	tbl := dataset.MustNew(dataset.NewTextColumn(models.ColStation, []string{"A", "B"}))

	_, err := s.Run(context.Background(), tbl, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNoNumericData))
}

func TestRun_Sections(t *testing.T) {
	s := newTestService(nil)
	tbl := climate(60, "BOG01", "SOA01")
	x := make([]float64, 60)
	for i := range x {
		x[i] = float64(i)
	}
	require.NoError(t, tbl.Add(dataset.NewFloatColumn("x", x)))
	y := make([]float64, 60)
	for i := range y {
		y[i] = 2*x[i] + 1
	}
	require.NoError(t, tbl.Add(dataset.NewFloatColumn("y", y)))

	r, err := s.Run(context.Background(), tbl, Options{})
	require.NoError(t, err)

	assert.NotEmpty(t, r.RunID)
	assert.Equal(t, 60, r.Summary.TotalRecords)
	assert.Equal(t, 2, r.Summary.StationsCount)
	assert.Equal(t, 4, r.Summary.VariablesCount)
	assert.Equal(t, 0.0, r.Summary.MissingDataPercentage)
	assert.Equal(t, 2, r.Summary.Columns[models.ColStation].UniqueValues)
	assert.Len(t, r.Statistics, 4)

	assert.True(t, r.Temporal.OK())
	assert.Equal(t, 59, r.Temporal.Coverage.DateRangeDays)
	assert.Equal(t, 3, r.Temporal.Coverage.MonthsCovered)
	assert.Equal(t, 1, r.Temporal.Coverage.YearsCovered)
	assert.Equal(t, 59, r.Temporal.Seasonal["x"]["DJF"].Count)
	assert.Equal(t, 1, r.Temporal.Seasonal["x"]["MAM"].Count)
	assert.Equal(t, 31, r.Temporal.Monthly["x"][1].Count)

	require.NotEmpty(t, r.Correlations.Strong)
	top := r.Correlations.Strong[0]
	assert.Equal(t, "x", top.Variable1)
	assert.Equal(t, "y", top.Variable2)
	assert.InDelta(t, 1.0, top.Correlation, 1e-9)
	assert.Equal(t, "strong", top.Strength)
	require.NotNil(t, r.Correlations.Overall)
	assert.InDelta(t, 1.0, r.Correlations.Overall.Max, 1e-9)

	assert.True(t, r.Seasonal.OK())
	assert.Equal(t, "MAM", r.Seasonal.PeakSeasons["x"])
	assert.Equal(t, analysis.Increasing, r.Seasonal.Trends["x"].Direction)

	assert.Equal(t, 2, r.Stations.Summary.TotalStations)
	assert.Equal(t, 100.0, r.Stations.Completeness["BOG01"])

	assert.Equal(t, 100.0, r.Quality.OverallScore)
	assert.Empty(t, r.Quality.Consistency.Issues)

	assert.Equal(t, []string{RecommendLongerPeriod, RecommendMoreStations, RecommendMulticollinearity}, r.Recommendations)
	assert.Empty(t, r.Files)
}

func TestRun_DefaultRecommendation(t *testing.T) {
	s := newTestService(nil)
	tbl := climate(400, "S1", "S2", "S3", "S4", "S5")

	r, err := s.Run(context.Background(), tbl, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{RecommendContinue}, r.Recommendations)
	assert.Empty(t, r.Correlations.Strong)
}

func TestRun_WithoutDateOrStation(t *testing.T) {
	s := newTestService(nil)
	tbl := dataset.MustNew(dataset.NewFloatColumn(models.ColTempAvg, []float64{1, 2, 3}))

	r, err := s.Run(context.Background(), tbl, Options{})
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusInsufficientData, r.Temporal.Status)
	assert.Equal(t, analysis.StatusInsufficientData, r.Seasonal.Status)
	assert.Equal(t, analysis.StatusInsufficientData, r.Stations.Status)
	assert.Equal(t, analysis.StatusInsufficientVariables, r.Correlations.Status)
	assert.Nil(t, r.Summary.DateRange.Start)
	assert.Equal(t, []string{RecommendContinue}, r.Recommendations)
}

func TestRun_SectionsFollowSchema(t *testing.T) {
	s := newTestService(nil)
	tbl := climate(20, "BOG01")
	require.NoError(t, tbl.Add(dataset.NewTextColumn("observacion", make([]string, 20))))
	schema := dataset.Describe(tbl)

	r, err := s.Run(context.Background(), tbl, Options{})
	require.NoError(t, err)

	assert.Equal(t, len(schema.Numeric), r.Summary.VariablesCount)
	assert.ElementsMatch(t, schema.Numeric, mapKeys(r.Temporal.Seasonal))
	assert.ElementsMatch(t, schema.Numeric, mapKeys(r.Stations.Comparison))
	assert.ElementsMatch(t, schema.Numeric, mapKeys(r.Anomalies.Summary))
	assert.NotContains(t, r.Temporal.Seasonal, "observacion")

	noStation := dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, []time.Time{jan1, jan1.AddDate(0, 0, 1)}),
		dataset.NewFloatColumn(models.ColTempAvg, []float64{12, 13}),
	)
	require.False(t, dataset.Describe(noStation).HasStation)
	r, err = s.Run(context.Background(), noStation, Options{})
	require.NoError(t, err)
	assert.Equal(t, analysis.StatusInsufficientData, r.Stations.Status)
	assert.True(t, r.Temporal.OK())
	assert.NotContains(t, r.Recommendations, RecommendMoreStations)
}

func mapKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestHighlyCorrelated(t *testing.T) {
	r := func(v float64) *float64 { return &v }
	tests := []struct {
		name string
		m    map[string]map[string]*float64
		want bool
	}{
		{"positive", map[string]map[string]*float64{"a": {"a": r(1), "b": r(0.85)}}, true},
		{"strong negative", map[string]map[string]*float64{"a": {"a": r(1), "b": r(-0.95)}}, false},
		{"at threshold", map[string]map[string]*float64{"a": {"b": r(0.8)}}, false},
		{"diagonal only", map[string]map[string]*float64{"a": {"a": r(1)}}, false},
		{"undefined", map[string]map[string]*float64{"a": {"b": nil}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, highlyCorrelated(tt.m))
		})
	}
}

func TestAnomalies(t *testing.T) {
	tbl := climate(30, "BOG01")
	rain, _ := tbl.FloatColumn(models.ColPrecipitation)
	rain.SetFloat(12, 500)

	a := anomalies(tbl, dataset.Describe(tbl), outliers.IQR{Multiplier: 1.5})
	require.Contains(t, a.Summary, models.ColPrecipitation)
	assert.Equal(t, 1, a.Summary[models.ColPrecipitation].Total)
	assert.InDelta(t, 100.0/30, a.Summary[models.ColPrecipitation].Percentage, 1e-9)
	assert.Equal(t, 500.0, a.Details[models.ColPrecipitation].Max)
	assert.NotContains(t, a.Details, models.ColTempAvg)
}

func TestQuality(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(t *testing.T, tbl *dataset.Table)
		issues      int
		consistency float64
	}{
		{"clean", func(*testing.T, *dataset.Table) {}, 0, 100},
		{"humidity above 100", func(t *testing.T, tbl *dataset.Table) {
			h := make([]float64, tbl.Len())
			h[3] = 120
			require.NoError(t, tbl.Add(dataset.NewFloatColumn(models.ColHumidity, h)))
		}, 1, 90},
		{"implausible temperature", func(_ *testing.T, tbl *dataset.Table) {
			c, _ := tbl.FloatColumn(models.ColTempAvg)
			c.SetFloat(0, -80)
		}, 1, 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := climate(20, "BOG01")
			tt.mutate(t, tbl)
			q := quality(tbl, dataset.Describe(tbl))
			assert.Len(t, q.Consistency.Issues, tt.issues)
			assert.Equal(t, tt.consistency, q.Consistency.Score)
			assert.Equal(t, (q.Completeness.Overall+q.Consistency.Score)/2, q.OverallScore)
		})
	}
}

func TestQuality_UnorderedDatesAndMissing(t *testing.T) {
	tbl := dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, []time.Time{jan1.AddDate(0, 0, 2), jan1, jan1.AddDate(0, 0, 1)}),
		dataset.NewFloatColumn(models.ColTempAvg, []float64{10, math.NaN(), 12}),
	)
	q := quality(tbl, dataset.Describe(tbl))
	assert.Equal(t, []string{"dates are not in chronological order"}, q.Consistency.Issues)
	assert.InDelta(t, 5.0/6*100, q.Completeness.Overall, 1e-9)
	assert.Equal(t, 1, q.Completeness.MissingByColumn[models.ColTempAvg])
	assert.Equal(t, models.ColTempAvg, q.Completeness.MostMissing[0].Column)
}

func TestStations_Ranking(t *testing.T) {
	codes := []string{"A", "A", "A", "B", "B", "C"}
	tbl := dataset.MustNew(
		dataset.NewTextColumn(models.ColStation, codes),
		dataset.NewFloatColumn(models.ColTempAvg, []float64{10, 12, math.NaN(), 20, 22, 5}),
	)
	s := stations(tbl, dataset.Describe(tbl))
	require.True(t, s.OK())
	assert.Equal(t, []StationCount{{"A", 3}, {"B", 2}, {"C", 1}}, s.Summary.MostData)
	cmp := s.Comparison[models.ColTempAvg]
	assert.Equal(t, "B", cmp.HighestMean)
	assert.Equal(t, "C", cmp.LowestMean)
	assert.InDelta(t, 11.0, *cmp.Means["A"], 1e-9)
	assert.InDelta(t, 5.0/6*100, s.Completeness["A"], 1e-9)
}

func TestRun_WritesOutputs(t *testing.T) {
	dir := t.TempDir()
	charts := &fakeCharts{files: map[string]string{"distributions": "d.png"}, err: errors.New("render box_plots: boom")}
	s := newTestService(charts)

	r, err := s.Run(context.Background(), climate(30, "BOG01"), Options{OutputDir: dir})
	require.NoError(t, err)
	assert.Equal(t, 1, charts.calls)
	assert.Equal(t, "d.png", r.Visualizations.Files["distributions"])
	assert.Contains(t, r.Visualizations.Error, "boom")

	require.Contains(t, r.Files, "results")
	assert.True(t, strings.HasPrefix(filepath.Base(r.Files["results"]), "eda_results_"))
	report, err := os.ReadFile(r.Files["report"])
	require.NoError(t, err)
	assert.Contains(t, string(report), "RECOMMENDATIONS:")
	assert.Contains(t, string(report), "- Total records: 30")
}

func TestRun_SkipCharts(t *testing.T) {
	charts := &fakeCharts{}
	s := newTestService(charts)

	_, err := s.Run(context.Background(), climate(10, "BOG01"), Options{OutputDir: t.TempDir(), SkipCharts: true})
	require.NoError(t, err)
	assert.Zero(t, charts.calls)
}

func TestSave_DoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	s := newTestService(nil)
	r, err := s.Run(context.Background(), climate(10, "BOG01"), Options{})
	require.NoError(t, err)

	j1, r1, err := s.Save(context.Background(), r, dir)
	require.NoError(t, err)
	j2, r2, err := s.Save(context.Background(), r, dir)
	require.NoError(t, err)

	assert.NotEqual(t, j1, j2)
	assert.NotEqual(t, r1, r2)
	assert.True(t, strings.HasSuffix(j2, "_1.json"))
	for _, p := range []string{j1, r1, j2, r2} {
		assert.FileExists(t, p)
	}
}

func TestStationReport(t *testing.T) {
	s := newTestService(nil)
	tbl := climate(30, "BOG01", "SOA01", "ZIP01")

	rep, err := s.StationReport(context.Background(), tbl, "SOA01")
	require.NoError(t, err)
	assert.Equal(t, 10, rep.Info.TotalRecords)
	require.NotNil(t, rep.Info.DateRange.Start)
	assert.Equal(t, jan1.AddDate(0, 0, 1), *rep.Info.DateRange.Start)
	assert.Contains(t, rep.Statistics, models.ColTempAvg)
	assert.Contains(t, rep.Render(), "STATION REPORT - SOA01")

	_, err = s.StationReport(context.Background(), tbl, "NOPE")
	assert.True(t, models.IsNotFound(err))

	noStation := dataset.MustNew(dataset.NewFloatColumn(models.ColTempAvg, []float64{1}))
	_, err = s.StationReport(context.Background(), noStation, "BOG01")
	assert.True(t, models.IsInputError(err))
}
