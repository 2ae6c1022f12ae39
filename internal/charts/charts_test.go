package charts

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
	"climate-analytics/pkg/logging"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func climateTable(n int) *dataset.Table {
	dates := make([]time.Time, n)
	stations := make([]string, n)
	temp := make([]float64, n)
	rain := make([]float64, n)
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		dates[i] = start.AddDate(0, 0, i)
		stations[i] = []string{"BOG01", "SOA01", "ZIP01"}[i%3]
		temp[i] = 14 + 3*math.Sin(float64(i)/5)
		rain[i] = float64(i % 7)
	}
	rain[4] = math.NaN()
	return dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, dates),
		dataset.NewTextColumn(models.ColStation, stations),
		dataset.NewFloatColumn(models.ColTempAvg, temp),
		dataset.NewFloatColumn(models.ColPrecipitation, rain),
	)
}

func assertPNG(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic), "%s is not a PNG", path)
}

func TestRender_AllCharts(t *testing.T) {
	r := NewRenderer(logging.NewNopLogger())
	dir := filepath.Join(t.TempDir(), "charts")

	out, err := r.Render(context.Background(), climateTable(60), dir)
	require.NoError(t, err)

	for _, name := range []string{Distributions, CorrelationMatrix, TimeSeries, BoxPlots} {
		require.Contains(t, out, name)
		assert.Equal(t, filepath.Join(dir, name+".png"), out[name])
		assertPNG(t, out[name])
	}
}

func TestRender_SkipsCharts(t *testing.T) {
	r := NewRenderer(logging.NewNopLogger())
	tbl := dataset.MustNew(dataset.NewFloatColumn("x", []float64{1, 2, 2, 3, 5}))

	out, err := r.Render(context.Background(), tbl, t.TempDir())
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assertPNG(t, out[Distributions])
}

func TestRender_TooManyStationsForBoxPlots(t *testing.T) {
	n := 12
	stations := make([]string, n)
	for i := range stations {
		stations[i] = string(rune('A'+i)) + "01"
	}
	tbl := dataset.MustNew(
		dataset.NewTextColumn(models.ColStation, stations),
		dataset.NewFloatColumn(models.ColTempAvg, make([]float64, n)),
	)
	r := NewRenderer(logging.NewNopLogger())

	out, err := r.Render(context.Background(), tbl, t.TempDir())
	require.NoError(t, err)
	assert.NotContains(t, out, BoxPlots)
	assert.NotContains(t, out, TimeSeries)
}
