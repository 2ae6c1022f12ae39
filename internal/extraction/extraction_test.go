package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climate-analytics/internal/models"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

func reading(station, at, sensor, value string) models.RawObservation {
	return models.RawObservation{
		StationCode:       station,
		ObservedAt:        at,
		Value:             value,
		StationName:       "Estacion " + station,
		Department:        "CUNDINAMARCA",
		Municipality:      "BOGOTA",
		Latitude:          "4.6097",
		Longitude:         "-74.0817",
		SensorDescription: sensor,
	}
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts Options) (*Client, *metrics.Collector) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	m := metrics.NewTestCollector()
	return NewClient(opts, logging.NewNopLogger(), m), m
}

func TestExtract_Pages(t *testing.T) {
	data := make([]models.RawObservation, 5)
	for i := range data {
		data[i] = reading("21205580", "2024-01-0"+strconv.Itoa(i+1)+"T00:00:00.000", "Precipitación", "1.5")
	}
	var calls int32
	var gotToken, gotWhere, gotPath string
	h := func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-App-Token")
		gotWhere = r.URL.Query().Get("$where")
		offset, _ := strconv.Atoi(r.URL.Query().Get("$offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("$limit"))
		end := min(offset+limit, len(data))
		json.NewEncoder(w).Encode(data[min(offset, len(data)):end])
	}
	c, m := newTestClient(t, h, Options{BatchSize: 2, AppToken: "secret"})

	out, err := c.Extract(context.Background(), Query{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Len(t, out, 5)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, "/resource/sbwg-7ju4.json", gotPath)
	assert.Equal(t, "secret", gotToken)
	assert.Equal(t, "departamento='CUNDINAMARCA' AND fechaobservacion >= '2024-01-01T00:00:00' AND fechaobservacion <= '2024-01-31T00:00:00'", gotWhere)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ExtractionRecordsTotal))
}

func TestExtract_ExactMultipleStopsOnEmptyPage(t *testing.T) {
	var calls int32
	h := func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			json.NewEncoder(w).Encode([]models.RawObservation{reading("1", "2024-01-01", "Temperatura", "10"), reading("1", "2024-01-02", "Temperatura", "11")})
			return
		}
		w.Write([]byte("[]"))
	}
	c, _ := newTestClient(t, h, Options{BatchSize: 2})

	out, err := c.Extract(context.Background(), Query{})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestExtract_Retries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		status    int
		wantErr   bool
		wantCalls int32
	}{
		{"recovers from 503", 2, http.StatusServiceUnavailable, false, 3},
		{"recovers from 429", 1, http.StatusTooManyRequests, false, 2},
		{"gives up after max retries", 10, http.StatusBadGateway, true, 4},
		{"bad request is not retried", 10, http.StatusBadRequest, true, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			h := func(w http.ResponseWriter, r *http.Request) {
				if int(atomic.AddInt32(&calls, 1)) <= tt.failures {
					w.WriteHeader(tt.status)
					w.Write([]byte(`{"message":"nope"}`))
					return
				}
				w.Write([]byte("[]"))
			}
			c, m := newTestClient(t, h, Options{MaxRetries: 3})

			_, err := c.Extract(context.Background(), Query{})
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, float64(tt.failures), testutil.ToFloat64(m.ExtractionErrorsTotal.WithLabelValues("http_"+strconv.Itoa(tt.status))))
				return
			}
			require.Error(t, err)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "nope", apiErr.Message)
		})
	}
}

func TestExtract_RejectsInvertedRange(t *testing.T) {
	c := NewClient(Options{}, logging.NewNopLogger(), metrics.NewTestCollector())
	_, err := c.Extract(context.Background(), Query{
		Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.True(t, models.IsInputError(err))
}

func TestStations_FirstOccurrence(t *testing.T) {
	rows := []models.RawObservation{
		reading("A1", "2024-01-01", "Temperatura", "10"),
		reading("B2", "2024-01-01", "Temperatura", "11"),
		reading("A1", "2024-01-02", "Temperatura", "12"),
	}
	rows[2].StationName = "renamed"
	rows[1].Latitude, rows[1].Longitude = "", ""
	var where string
	h := func(w http.ResponseWriter, r *http.Request) {
		where = r.URL.Query().Get("$where")
		assert.Equal(t, "1000", r.URL.Query().Get("$limit"))
		json.NewEncoder(w).Encode(rows)
	}
	c, _ := newTestClient(t, h, Options{})

	st, err := c.Stations(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, st, 2)
	assert.Equal(t, "departamento='CUNDINAMARCA'", where)
	assert.Equal(t, "A1", st[0].Code)
	assert.Equal(t, "Estacion A1", st[0].Name)
	assert.True(t, strings.HasPrefix(st[0].Location, "POINT"))
	assert.Empty(t, st[1].Location)
}

func TestLastDays(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.FixedZone("COT", -5*3600))
	q := LastDays(7, now)
	assert.Equal(t, time.Date(2024, 3, 3, 17, 0, 0, 0, time.UTC), q.Start)
	assert.Equal(t, time.Date(2024, 3, 10, 17, 0, 0, 0, time.UTC), q.End)
	assert.Empty(t, q.Department)
}

func TestWhereClause_Quotes(t *testing.T) {
	assert.Equal(t, "departamento='O''HIGGINS'", whereClause(Query{Department: "O'HIGGINS"}))
}

func TestPivot(t *testing.T) {
	raw := []models.RawObservation{
		reading("A1", "2024-01-01T01:00:00.000", "Precipitación", "1.5"),
		reading("A1", "2024-01-01T02:00:00.000", "Precipitación", "2.5"),
		reading("A1", "2024-01-01T03:00:00.000", "Temp Max Aire 2 m", "18"),
		reading("A1", "2024-01-01T04:00:00.000", "Temp Max Aire 2 m", "21"),
		reading("A1", "2024-01-02T01:00:00.000", "Temp Max Aire 2 m", "19"),
		reading("B2", "2024-01-01T01:00:00.000", "Humedad Relativa", "80"),
		reading("B2", "2024-01-01T02:00:00.000", "Humedad Relativa", "90"),
		reading("B2", "2024-01-01T03:00:00.000", "Sensor desconocido", "1"),
		reading("B2", "not a date", "Humedad Relativa", "1"),
		reading("B2", "2024-01-01T03:00:00.000", "Humedad Relativa", "n/a"),
	}

	tbl, sum := Pivot(raw)
	assert.Equal(t, 10, sum.Readings)
	assert.Equal(t, 3, sum.Rejected)
	assert.Equal(t, map[string]int{"descripcionsensor": 1, "fechaobservacion": 1, "valorobservado": 1}, sum.Reasons)
	assert.Equal(t, 3, sum.Rows)
	assert.Equal(t, 2, sum.Stations)

	assert.Equal(t, []string{
		models.ColDate, models.ColStation, models.ColLatitude, models.ColLongitude,
		models.ColTempMax, models.ColHumidity, models.ColPrecipitation,
	}, tbl.Names())

	rain, _ := tbl.FloatColumn(models.ColPrecipitation)
	v, ok := rain.Float(0)
	require.True(t, ok)
	assert.Equal(t, 4.0, v)
	_, ok = rain.Float(1)
	assert.False(t, ok)

	tmax, _ := tbl.FloatColumn(models.ColTempMax)
	v, _ = tmax.Float(0)
	assert.Equal(t, 21.0, v)

	hum, _ := tbl.FloatColumn(models.ColHumidity)
	v, _ = hum.Float(2)
	assert.Equal(t, 85.0, v)

	lat, _ := tbl.FloatColumn(models.ColLatitude)
	v, _ = lat.Float(2)
	assert.False(t, math.IsNaN(v))
	assert.InDelta(t, 4.6097, v, 1e-9)
}
