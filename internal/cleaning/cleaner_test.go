package cleaning

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
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

func newTestCleaner(forest bool) (*Cleaner, *metrics.Collector) {
	opts := outliers.DefaultOptions()
	opts.ForestEnabled = forest
	m := metrics.NewTestCollector()
	return NewCleaner(logging.NewNopLogger(), m, opts), m
}

func days(n int) []time.Time {
	out := make([]time.Time, n)
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

func floats(t *testing.T, tbl *dataset.Table, name string) []float64 {
	t.Helper()
	c, ok := tbl.FloatColumn(name)
	require.True(t, ok, "float column %s", name)
	return c.RawFloats()
}

func TestClean_NormalizesAndCoerces(t *testing.T) {
	tbl := dataset.MustNew(
		dataset.NewTextColumn(" Fecha ", []string{"2023-01-01", "2023-01-02", "2023-01-03"}),
		dataset.NewTextColumn("Estacion", []string{"A", "A", "A"}),
		dataset.NewTextColumn("Humedad Relativa", []string{"80", "n/a", "90"}),
	)
	c, _ := newTestCleaner(true)

	out, sum, err := c.Clean(context.Background(), tbl)
	require.NoError(t, err)

	assert.Equal(t, []string{"fecha", "estacion", "humedad_relativa"}, out.Names())
	fecha, _ := out.Column("fecha")
	assert.Equal(t, dataset.KindTime, fecha.Kind())
	assert.Equal(t, []float64{80, 85, 90}, floats(t, out, "humedad_relativa"))
	assert.Equal(t, 1, sum.UnparseableCells)
	assert.Equal(t, 1, sum.Interpolated)

	assert.Equal(t, " Fecha ", tbl.Names()[0], "input table must not change")
}

func TestClean_RejectsCollidingNames(t *testing.T) {
	tbl := dataset.MustNew(
		dataset.NewFloatColumn("precipitacion", []float64{1}),
		dataset.NewFloatColumn("Precipitacion", []float64{2}),
	)
	c, _ := newTestCleaner(true)
	_, _, err := c.Clean(context.Background(), tbl)
	require.Error(t, err)
	assert.True(t, models.IsInputError(err))
}

func TestClean_ClipsAndInterpolatesOutOfRange(t *testing.T) {
	precip := make([]float64, 100)
	for i := range precip {
		precip[i] = 2
	}
	precip[40] = 5000
	tbl := dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, days(100)),
		dataset.NewFloatColumn(models.ColPrecipitation, precip),
	)
	c, _ := newTestCleaner(true)

	out, sum, err := c.Clean(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.OutOfRangeRemoved)
	assert.Equal(t, 1, sum.Interpolated)
	assert.Equal(t, 2.0, floats(t, out, models.ColPrecipitation)[40])

	orig, _ := tbl.FloatColumn(models.ColPrecipitation)
	v, _ := orig.Float(40)
	assert.Equal(t, 5000.0, v)
}

func TestClean_RemovesIQROutliers(t *testing.T) {
	n := 12
	hum := make([]float64, n)
	for i := range hum {
		hum[i] = 70 + float64(i%3)
	}
	hum[6] = 5
	tbl := dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, days(n)),
		dataset.NewFloatColumn(models.ColHumidity, hum),
	)
	c, _ := newTestCleaner(true)

	out, sum, err := c.Clean(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.OutliersRemoved)
	// neighbours are 70+5%3=72 and 70+7%3=71
	assert.InDelta(t, 71.5, floats(t, out, models.ColHumidity)[6], 1e-12)
}

func TestClean_SortsAndInterpolatesBothDirections(t *testing.T) {
	d := days(6)
	tbl := dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, []time.Time{d[5], d[0], d[2], d[1], d[3], d[4]}),
		dataset.NewFloatColumn(models.ColPressure, []float64{math.NaN(), math.NaN(), 1002, math.NaN(), math.NaN(), 1005}),
	)
	c, _ := newTestCleaner(true)

	out, _, err := c.Clean(context.Background(), tbl)
	require.NoError(t, err)

	// sorted: d0 NaN, d1 NaN, d2 1002, d3 NaN, d4 1005, d5 NaN
	assert.Equal(t, []float64{1002, 1002, 1002, 1003.5, 1005, 1005}, floats(t, out, models.ColPressure))
	fecha, _ := out.Column(models.ColDate)
	first, _ := fecha.Time(0)
	assert.True(t, first.Equal(d[0]))
}

func TestClean_FollowsSchema(t *testing.T) {
	tbl := dataset.MustNew(
		dataset.NewTextColumn(models.ColDate, []string{"2023-01-02", "2023-01-01", "2023-01-03"}),
		dataset.NewTextColumn(models.ColTempMin, []string{"10", "9", "8"}),
		dataset.NewTextColumn(models.ColTempAvg, []string{"30", "12", "11"}),
		dataset.NewTextColumn(models.ColTempMax, []string{"20", "15", "14"}),
		dataset.NewFloatColumn("caudal", []float64{1, math.NaN(), 3}),
		dataset.NewTextColumn("observacion", []string{"a", "b", "c"}),
	)
	schema := dataset.Describe(tbl)
	require.True(t, schema.TempTriple)
	require.Empty(t, schema.Variables)

	c, _ := newTestCleaner(true)
	out, sum, err := c.Clean(context.Background(), tbl)
	require.NoError(t, err)

	assert.ElementsMatch(t, schema.NumericAfterCoercion(), out.NumericNames())
	assert.Equal(t, 1, sum.TemperatureRepaired)
	assert.Equal(t, 1, sum.Interpolated, "non-variable float columns are gap filled")
	obs, _ := out.Column("observacion")
	assert.Equal(t, dataset.KindText, obs.Kind())

	fecha, _ := out.Column(models.ColDate)
	first, _ := fecha.Time(0)
	assert.Equal(t, 1, first.Day())
	// row for 2023-01-02 moved to index 1 and had avg 30 outside [10, 20]
	assert.Equal(t, 15.0, floats(t, out, models.ColTempAvg)[1])
}

func TestClean_SkipsRepairWithoutTemperatureTriple(t *testing.T) {
	tbl := dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, days(2)),
		dataset.NewFloatColumn(models.ColTempMin, []float64{20, 21}),
		dataset.NewFloatColumn(models.ColTempMax, []float64{10, 11}),
	)
	c, _ := newTestCleaner(true)
	out, sum, err := c.Clean(context.Background(), tbl)
	require.NoError(t, err)
	assert.Zero(t, sum.TemperatureRepaired)
	assert.Equal(t, []float64{20, 21}, floats(t, out, models.ColTempMin))
}

func TestRollingFill_TrailingWindow(t *testing.T) {
	col := dataset.NewFloatColumn("x", []float64{1, 2, math.NaN(), 10, math.NaN(), math.NaN()})
	filled := rollingFill(col, 3)

	assert.Equal(t, 3, filled)
	// each gap averages the present values among itself and the two before,
	// as they were before filling
	assert.Equal(t, []float64{1, 2, 1.5, 10, 10, 10}, col.RawFloats())

	empty := dataset.NewFloatColumn("y", []float64{math.NaN(), math.NaN()})
	assert.Zero(t, rollingFill(empty, rollingWindow))
}

func TestClean_RepairsTemperatureOrder(t *testing.T) {
	tbl := dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, days(3)),
		dataset.NewFloatColumn(models.ColTempMin, []float64{10, 22, 8}),
		dataset.NewFloatColumn(models.ColTempAvg, []float64{25, 30, 12}),
		dataset.NewFloatColumn(models.ColTempMax, []float64{20, 18, 16}),
	)
	c, _ := newTestCleaner(true)

	out, sum, err := c.Clean(context.Background(), tbl)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TemperatureRepaired)
	assert.Equal(t, []float64{10, 18, 8}, floats(t, out, models.ColTempMin))
	assert.Equal(t, []float64{15, 20, 12}, floats(t, out, models.ColTempAvg))
	assert.Equal(t, []float64{20, 22, 16}, floats(t, out, models.ColTempMax))
}

func TestClean_InvariantsOnRandomData(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n := 60
	cols := map[string][]float64{}
	for _, v := range models.Variables() {
		vals := make([]float64, n)
		span := v.Max - v.Min
		for i := range vals {
			switch rng.Intn(10) {
			case 0:
				vals[i] = math.NaN()
			case 1:
				vals[i] = v.Max + span
			default:
				vals[i] = v.Min + rng.Float64()*span
			}
		}
		cols[v.Name] = vals
	}
	columns := []*dataset.Column{dataset.NewTimeColumn(models.ColDate, days(n))}
	for _, v := range models.Variables() {
		columns = append(columns, dataset.NewFloatColumn(v.Name, cols[v.Name]))
	}
	tbl := dataset.MustNew(columns...)
	c, _ := newTestCleaner(true)

	out, _, err := c.Clean(context.Background(), tbl)
	require.NoError(t, err)

	for _, v := range models.Variables() {
		col, _ := out.FloatColumn(v.Name)
		for _, x := range col.Floats() {
			assert.True(t, v.InRange(x), "%s=%v outside [%v,%v]", v.Name, x, v.Min, v.Max)
		}
	}
	tmin, _ := out.FloatColumn(models.ColTempMin)
	tavg, _ := out.FloatColumn(models.ColTempAvg)
	tmax, _ := out.FloatColumn(models.ColTempMax)
	for i := 0; i < out.Len(); i++ {
		lo, ok1 := tmin.Float(i)
		avg, ok2 := tavg.Float(i)
		hi, ok3 := tmax.Float(i)
		if ok1 && ok2 && ok3 {
			assert.LessOrEqual(t, lo, avg, "row %d", i)
			assert.LessOrEqual(t, avg, hi, "row %d", i)
		}
	}
}

func anomalyTable() *dataset.Table {
	n := 20
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = 15 + float64(i%4)*0.5
	}
	vals[10] = 39
	vals[3] = math.NaN()
	index := make([]float64, n)
	for i := range index {
		index[i] = float64(i + 1)
	}
	return dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, days(n)),
		dataset.NewFloatColumn(models.ColTempAvg, vals),
		dataset.NewFloatColumn("indice", index),
	)
}

func TestTagAnomalies_IQR(t *testing.T) {
	c, _ := newTestCleaner(true)
	out, err := c.TagAnomalies(context.Background(), anomalyTable(), outliers.MethodIQR)
	require.NoError(t, err)

	flags := floats(t, out, models.ColTempAvg+"_anomaly")
	assert.Equal(t, 1.0, flags[10])
	assert.Equal(t, 0.0, flags[3], "missing values are never flagged")
	assert.Equal(t, 0.0, flags[0])

	scores, _ := out.FloatColumn(models.ColTempAvg + "_score")
	assert.True(t, scores.IsMissing(3))
	assert.Greater(t, floats(t, out, models.ColTempAvg+"_score")[10], 0.0)
	assert.True(t, out.Has("indice_anomaly"))
}

func TestTagAnomalies_ForestFallback(t *testing.T) {
	c, m := newTestCleaner(false)
	out, err := c.TagAnomalies(context.Background(), anomalyTable(), outliers.MethodIsolationForest)
	require.NoError(t, err)
	assert.Equal(t, 1.0, floats(t, out, models.ColTempAvg+"_anomaly")[10])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OutlierFallbacksTotal))
}

func TestTagAnomalies_UnknownMethod(t *testing.T) {
	c, _ := newTestCleaner(true)
	_, err := c.TagAnomalies(context.Background(), anomalyTable(), "lof")
	require.Error(t, err)
	assert.True(t, models.IsInputError(err))
}

func stationTable() *dataset.Table {
	return dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, days(5)),
		dataset.NewTextColumn(models.ColStation, []string{"A", "B", "A", "B", "A"}),
		dataset.NewFloatColumn(models.ColTempAvg, []float64{10, 20, 12, 22, 14}),
	)
}

func TestProcessStation(t *testing.T) {
	c, _ := newTestCleaner(true)
	out, _, err := c.ProcessStation(context.Background(), stationTable(), "B")
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 22}, floats(t, out, models.ColTempAvg))

	_, _, err = c.ProcessStation(context.Background(), stationTable(), "Z")
	assert.True(t, models.IsInputError(err))
}

func TestGroupStatistics(t *testing.T) {
	groups := GroupStatistics(stationTable(), models.ColStation)
	require.Len(t, groups, 2)
	assert.Equal(t, "A", groups[0].Group)
	a := groups[0].Columns[models.ColTempAvg]
	assert.Equal(t, 3, a.Count)
	assert.InDelta(t, 12, *a.Mean, 1e-12)
	assert.InDelta(t, 2, *a.Std, 1e-12)
	assert.Nil(t, a.Q25)

	overall := GroupStatistics(stationTable(), "region")
	require.Len(t, overall, 1)
	assert.Equal(t, 5, overall[0].Records)
	assert.NotNil(t, overall[0].Columns[models.ColTempAvg].Q25)
}

func TestSaveCSV(t *testing.T) {
	c, _ := newTestCleaner(true)
	path := filepath.Join(t.TempDir(), "processed", "clean.csv")
	require.NoError(t, c.SaveCSV(context.Background(), stationTable(), path))
	back, err := dataset.ReadCSVFile(path, dataset.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 5, back.Len())
}
