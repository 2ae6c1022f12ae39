package extraction

import (
	"errors"
	"math"
	"sort"
	"time"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
)

// PivotSummary counts what Pivot did with its input
type PivotSummary struct {
	Readings int            `json:"readings"`
	Rejected int            `json:"rejected"`
	Rows     int            `json:"rows"`
	Stations int            `json:"stations"`
	Reasons  map[string]int `json:"rejection_reasons,omitempty"`
}

type dayKey struct {
	station string
	day     time.Time
}

type cell struct {
	sum   float64
	count int
	min   float64
	max   float64
}

func (c *cell) add(v float64) {
	if c.count == 0 {
		c.min, c.max = v, v
	}
	c.sum += v
	c.count++
	c.min = math.Min(c.min, v)
	c.max = math.Max(c.max, v)
}

// value reduces the readings of one station-day. Precipitation is
// accumulated, maxima and minima keep their extreme, the rest is averaged.
func (c *cell) value(variable string) float64 {
	switch variable {
	case models.ColPrecipitation:
		return c.sum
	case models.ColTempMax:
		return c.max
	case models.ColTempMin:
		return c.min
	default:
		return c.sum / float64(c.count)
	}
}

// Pivot turns long-format sensor readings into the daily wide table: one row
// per station and day, one column per canonical variable found, plus the
// station coordinates. Readings with bad timestamps, values or unknown
// sensors are rejected and counted by field.
func Pivot(raw []models.RawObservation) (*dataset.Table, PivotSummary) {
	sum := PivotSummary{Readings: len(raw), Reasons: make(map[string]int)}
	cells := make(map[dayKey]map[string]*cell)
	stations := make(map[string]models.Station)
	present := make(map[string]bool)

	for i := range raw {
		r, err := raw[i].ToReading()
		if err != nil {
			sum.Rejected++
			var ve *models.ValidationError
			if errors.As(err, &ve) {
				sum.Reasons[ve.Field]++
			}
			continue
		}
		if _, ok := stations[r.StationCode]; !ok {
			stations[r.StationCode] = raw[i].ToStation()
		}
		y, m, d := r.ObservedAt.Date()
		k := dayKey{station: r.StationCode, day: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
		vars, ok := cells[k]
		if !ok {
			vars = make(map[string]*cell)
			cells[k] = vars
		}
		c, ok := vars[r.Variable]
		if !ok {
			c = &cell{}
			vars[r.Variable] = c
		}
		c.add(r.Value)
		present[r.Variable] = true
	}

	keys := make([]dayKey, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].station != keys[j].station {
			return keys[i].station < keys[j].station
		}
		return keys[i].day.Before(keys[j].day)
	})

	n := len(keys)
	dates := make([]time.Time, n)
	codes := make([]string, n)
	lats := make([]float64, n)
	lons := make([]float64, n)
	for i, k := range keys {
		dates[i] = k.day
		codes[i] = k.station
		st := stations[k.station]
		lats[i], lons[i] = st.Latitude, st.Longitude
		if st.Latitude == 0 && st.Longitude == 0 {
			lats[i], lons[i] = math.NaN(), math.NaN()
		}
	}
	cols := []*dataset.Column{
		dataset.NewTimeColumn(models.ColDate, dates),
		dataset.NewTextColumn(models.ColStation, codes),
		dataset.NewFloatColumn(models.ColLatitude, lats),
		dataset.NewFloatColumn(models.ColLongitude, lons),
	}
	for _, v := range models.Variables() {
		if !present[v.Name] {
			continue
		}
		values := make([]float64, n)
		for i, k := range keys {
			if c, ok := cells[k][v.Name]; ok {
				values[i] = c.value(v.Name)
			} else {
				values[i] = math.NaN()
			}
		}
		cols = append(cols, dataset.NewFloatColumn(v.Name, values))
	}

	sum.Rows = n
	sum.Stations = len(stations)
	return dataset.MustNew(cols...), sum
}
