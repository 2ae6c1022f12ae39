package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climate-analytics/internal/analysis"
	"climate-analytics/internal/artifacts"
	"climate-analytics/internal/cleaning"
	"climate-analytics/internal/dataset"
	"climate-analytics/internal/exploratory"
	"climate-analytics/internal/extraction"
	"climate-analytics/internal/models"
	"climate-analytics/internal/outliers"
	"climate-analytics/internal/repository"
	"climate-analytics/internal/spatial"
	"climate-analytics/internal/validation"
	"climate-analytics/pkg/database"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

type fixture struct {
	analysis   *AnalysisService
	extraction *ExtractionService
	store      *artifacts.Store
	repo       repository.ClimateRepository
	source     *fakeSource
}

type fakeSource struct {
	raw      []models.RawObservation
	stations []models.Station
	err      error
	calls    int
}

func (f *fakeSource) Extract(ctx context.Context, q extraction.Query) ([]models.RawObservation, error) {
	f.calls++
	return f.raw, f.err
}

func (f *fakeSource) Stations(ctx context.Context, department string) ([]models.Station, error) {
	return f.stations, f.err
}

func newFixture(t *testing.T, withRepo bool) *fixture {
	t.Helper()
	logger := logging.NewNopLogger()
	m := metrics.NewTestCollector()
	opts := outliers.DefaultOptions()

	store, err := artifacts.NewStore(t.TempDir(), nil, logger, m)
	require.NoError(t, err)

	var repo repository.ClimateRepository
	if withRepo {
		db, err := database.Open(&database.Config{
			Driver:   database.DriverSQLite,
			Database: filepath.Join(t.TempDir(), "climate.db"),
		}, logger, m)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		require.NoError(t, db.Migrate(context.Background(), database.Up))
		repo = repository.NewClimateRepository(db, logger, m)
	}

	analyzer := analysis.NewAnalyzer(logger, m, opts)
	svc, err := NewAnalysisService(AnalysisDeps{
		Validator:   validation.NewValidator(),
		Cleaner:     cleaning.NewCleaner(logger, m, opts),
		Analyzer:    analyzer,
		Spatial:     spatial.NewProcessor(logger, m),
		Exploratory: exploratory.NewService(analyzer, nil, logger, m),
		Store:       store,
		Repo:        repo,
	}, CacheConfig{Size: 8, TTL: time.Minute}, logger, m)
	require.NoError(t, err)

	source := &fakeSource{}
	return &fixture{
		analysis:   svc,
		extraction: NewExtractionService(source, store, repo, logger, m),
		store:      store,
		repo:       repo,
		source:     source,
	}
}

var jan1 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func climate(n int) *dataset.Table {
	dates := make([]time.Time, n)
	codes := make([]string, n)
	lats := make([]float64, n)
	lons := make([]float64, n)
	temp := make([]float64, n)
	rain := make([]float64, n)
	for i := 0; i < n; i++ {
		dates[i] = jan1.AddDate(0, 0, i)
		if i%2 == 0 {
			codes[i], lats[i], lons[i] = "BOG01", 4.61, -74.08
		} else {
			codes[i], lats[i], lons[i] = "GIR01", 4.30, -74.80
		}
		temp[i] = 14 + float64(i%5) + 0.1*float64(i)
		rain[i] = float64(i % 4)
	}
	return dataset.MustNew(
		dataset.NewTimeColumn(models.ColDate, dates),
		dataset.NewTextColumn(models.ColStation, codes),
		dataset.NewFloatColumn(models.ColLatitude, lats),
		dataset.NewFloatColumn(models.ColLongitude, lons),
		dataset.NewFloatColumn(models.ColTempAvg, temp),
		dataset.NewFloatColumn(models.ColPrecipitation, rain),
	)
}

func TestValidate(t *testing.T) {
	f := newFixture(t, false)
	res, report := f.analysis.Validate(context.Background(), climate(20))
	assert.True(t, res.IsValid)
	assert.Contains(t, report, "Quality score")
}

func TestProcess(t *testing.T) {
	tests := []struct {
		name    string
		table   *dataset.Table
		success bool
	}{
		{name: "valid", table: climate(30), success: true},
		{
			name: "missing required columns",
			table: dataset.MustNew(
				dataset.NewFloatColumn(models.ColTempAvg, []float64{10, 11, 12}),
			),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			ctx := context.Background()

			res, err := f.analysis.Process(ctx, tt.table)
			require.NoError(t, err)
			assert.Equal(t, tt.success, res.Success)

			logs, err := f.repo.ListProcesses(ctx, 10)
			require.NoError(t, err)
			require.Len(t, logs, 1)
			assert.Equal(t, models.StatusSuccess, logs[0].Status)

			if !tt.success {
				assert.False(t, res.Validation.IsValid)
				assert.Empty(t, res.File)
				return
			}
			require.NotNil(t, res.Cleaning)
			assert.Equal(t, 30, res.DataCount)
			assert.Equal(t, 30, logs[0].RecordsProcessed)
			require.Len(t, res.Statistics, 1)
			_, err = f.store.Resolve(artifacts.KindData, res.File)
			assert.NoError(t, err)
		})
	}
}

func TestAnalyze_CachesAndPersists(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	tbl := climate(40)

	first, err := f.analysis.Analyze(ctx, tbl, AnalyzeOptions{})
	require.NoError(t, err)
	second, err := f.analysis.Analyze(ctx, tbl.Clone(), AnalyzeOptions{})
	require.NoError(t, err)
	assert.Same(t, first, second)

	for _, path := range first.Files {
		_, err := f.store.Resolve(artifacts.KindAnalysis, filepath.Base(path))
		assert.NoError(t, err)
	}

	records, err := f.analysis.Results(ctx, AnalysisEDA, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, first.RunID, records[0].ID)

	rec, err := f.analysis.Result(ctx, first.RunID)
	require.NoError(t, err)
	assert.Contains(t, string(rec.Result), first.RunID)
}

func TestAnalyze_NoNumericData(t *testing.T) {
	f := newFixture(t, false)
	tbl := dataset.MustNew(dataset.NewTextColumn(models.ColStation, []string{"a", "b"}))
	_, err := f.analysis.Analyze(context.Background(), tbl, AnalyzeOptions{})
	assert.True(t, errors.Is(err, models.ErrNoNumericData))
}

func TestTrend(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	trend, err := f.analysis.Trend(ctx, climate(30), models.ColTempAvg)
	require.NoError(t, err)
	assert.True(t, trend.OK())
	require.NotNil(t, trend.Linear)
	assert.Greater(t, trend.Linear.Slope, 0.0)

	_, err = f.analysis.Trend(ctx, climate(30), "nope")
	assert.Error(t, err)

	records, err := f.analysis.Results(ctx, AnalysisTrend, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSpatial(t *testing.T) {
	f := newFixture(t, false)
	res, err := f.analysis.Spatial(context.Background(), climate(10), models.ColTempAvg)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Summary.TotalRows)
	require.NotNil(t, res.Statistics)
	_, err = f.store.Resolve(artifacts.KindData, res.GeoJSON)
	assert.NoError(t, err)

	noCoords := dataset.MustNew(dataset.NewFloatColumn(models.ColTempAvg, []float64{1, 2}))
	_, err = f.analysis.Spatial(context.Background(), noCoords, "")
	assert.True(t, models.IsInputError(err))
}

func TestResults_WithoutRepository(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	list, err := f.analysis.Results(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.analysis.Result(ctx, "x")
	assert.True(t, models.IsNotFound(err))
}

func observation(station, at, sensor, value string) models.RawObservation {
	return models.RawObservation{
		StationCode:       station,
		ObservedAt:        at,
		Value:             value,
		StationName:       "Estacion " + station,
		Department:        "CUNDINAMARCA",
		Latitude:          "4.6097",
		Longitude:         "-74.0817",
		SensorDescription: sensor,
	}
}

func TestExtract_StoresTableAndReadings(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.source.raw = []models.RawObservation{
		observation("A1", "2024-01-01T01:00:00.000", "Precipitación", "1.5"),
		observation("A1", "2024-01-01T02:00:00.000", "Precipitación", "2.5"),
		observation("B2", "2024-01-02T01:00:00.000", "Temp Max Aire 2 m", "20"),
		observation("B2", "2024-01-02T01:00:00.000", "Sensor desconocido", "1"),
	}

	res, err := f.extraction.Extract(ctx, extraction.Query{Department: "CUNDINAMARCA"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Fetched)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, 3, res.Stored)
	_, err = f.store.Resolve(artifacts.KindData, res.File)
	assert.NoError(t, err)

	st, err := f.repo.GetStation(ctx, "A1")
	require.NoError(t, err)
	assert.NotEmpty(t, st.Location)

	_, total, err := f.repo.GetReadings(ctx, repository.ReadingFilter{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestExtract_Failures(t *testing.T) {
	tests := []struct {
		name     string
		raw      []models.RawObservation
		err      error
		notFound bool
	}{
		{name: "nothing usable", raw: []models.RawObservation{observation("A1", "bad", "Precipitación", "1")}, notFound: true},
		{name: "source error", err: errors.New("api down")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			ctx := context.Background()
			f.source.raw, f.source.err = tt.raw, tt.err

			_, err := f.extraction.Extract(ctx, extraction.Query{Department: "CUNDINAMARCA"})
			require.Error(t, err)
			assert.Equal(t, tt.notFound, models.IsNotFound(err))

			logs, err := f.repo.ListProcesses(ctx, 10)
			require.NoError(t, err)
			require.Len(t, logs, 1)
			assert.Equal(t, models.StatusError, logs[0].Status)
		})
	}
}

func TestStations(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	now := time.Now().UTC()
	f.source.stations = []models.Station{
		{Code: "A1", Name: "Bogota", Latitude: 4.61, Longitude: -74.08, CreatedAt: now, UpdatedAt: now},
		{Code: "Z9", Name: "Far away", Latitude: 10.4, Longitude: -75.5, CreatedAt: now, UpdatedAt: now},
	}

	list, err := f.extraction.Stations(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// served from the repository afterwards
	f.source.stations = nil
	list, err = f.extraction.Stations(ctx, "")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	detail, err := f.extraction.Station(ctx, "A1")
	require.NoError(t, err)
	assert.True(t, detail.Coordinates.Location.InRegion)
	assert.Equal(t, spatial.RegionName, detail.Region)

	far, err := f.extraction.Station(ctx, "Z9")
	require.NoError(t, err)
	assert.False(t, far.Coordinates.Location.InRegion)
	assert.NotEmpty(t, far.Coordinates.Warnings)

	_, err = f.extraction.Station(ctx, "nope")
	assert.True(t, models.IsNotFound(err))

	_, err = f.extraction.Station(ctx, " ")
	assert.True(t, models.IsInputError(err))
}
