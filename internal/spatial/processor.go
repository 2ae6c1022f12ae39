package spatial

import (
	"context"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
	"climate-analytics/internal/numeric"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

// Enrichment columns
const (
	ColInRegion        = "en_region"
	ColNearestPoint    = "municipio_cercano"
	ColNearestDistance = "distancia_municipio_km"
	ColCapitalDistance = "distancia_capital_km"
)

// Region filters accepted by FilterByRegion
const (
	FilterAll     = "all"
	FilterRegion  = "region"
	FilterCapital = "capital"
)

// Processor runs the table level spatial operations
type Processor struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewProcessor creates a spatial processor
func NewProcessor(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Processor {
	return &Processor{logger: logger, metrics: metricsCollector}
}

type coords struct {
	lat, lon *dataset.Column
}

func (c coords) at(i int) (lat, lon float64, ok bool) {
	lat, okLat := c.lat.Float(i)
	lon, okLon := c.lon.Float(i)
	return lat, lon, okLat && okLon
}

func coordinates(t *dataset.Table) (coords, bool) {
	lat, okLat := t.Column(models.ColLatitude)
	lon, okLon := t.Column(models.ColLongitude)
	if !okLat || !okLon {
		return coords{}, false
	}
	latF, _ := lat.AsFloat()
	lonF, _ := lon.AsFloat()
	return coords{lat: latF, lon: lonF}, true
}

func missingCoordinates(op string) error {
	return models.NewInputError(op, "columns '%s' and '%s' are required", models.ColLatitude, models.ColLongitude)
}

// Enrich returns a copy of t with region membership, nearest reference point
// and distances added to every row with coordinates. Without coordinate
// columns the copy is returned unchanged.
func (p *Processor) Enrich(ctx context.Context, t *dataset.Table) (*dataset.Table, error) {
	timer := p.metrics.StageTimer("spatial_enrich")
	defer timer.ObserveDuration()

	out := t.Clone()
	c, ok := coordinates(t)
	if !ok {
		p.logger.Warn(ctx, "[SPATIAL_SKIP] Coordinate columns not found", logging.Fields{"columns": t.Names()})
		return out, nil
	}

	n := t.Len()
	inRegion := dataset.EmptyFloatColumn(ColInRegion, n)
	nearestDist := dataset.EmptyFloatColumn(ColNearestDistance, n)
	capitalDist := dataset.EmptyFloatColumn(ColCapitalDistance, n)
	names := make([]string, n)
	located := 0
	for i := 0; i < n; i++ {
		lat, lon, ok := c.at(i)
		if !ok {
			continue
		}
		located++
		if InRegion(lat, lon) {
			inRegion.SetFloat(i, 1)
		} else {
			inRegion.SetFloat(i, 0)
		}
		ref, d := Nearest(lat, lon)
		names[i] = ref.Name
		nearestDist.SetFloat(i, d)
		capitalDist.SetFloat(i, Haversine(lat, lon, Capital.Lat, Capital.Lon))
	}
	for _, col := range []*dataset.Column{inRegion, dataset.NewTextColumn(ColNearestPoint, names), nearestDist, capitalDist} {
		if err := out.Set(col); err != nil {
			return nil, err
		}
	}

	p.logger.Info(ctx, "[SPATIAL_ENRICHED] Station locations processed", logging.Fields{
		"rows":    n,
		"located": located,
	})
	return out, nil
}

// Extent is the bounding box and centroid of a set of coordinates
type Extent struct {
	Bounds
	CenterLat float64 `json:"center_lat"`
	CenterLon float64 `json:"center_lon"`
}

// Summary counts rows by region and nearest reference point
type Summary struct {
	TotalRows         int            `json:"total_rows"`
	RowsWithoutCoords int            `json:"rows_without_coordinates"`
	InRegion          int            `json:"stations_in_region"`
	OutsideRegion     int            `json:"stations_outside_region"`
	Distribution      *Extent        `json:"spatial_distribution,omitempty"`
	MunicipioCoverage map[string]int `json:"municipality_coverage"`
}

// Summary computes the spatial summary of t. Coverage uses the enrichment
// column when present and computes the nearest point otherwise.
func (p *Processor) Summary(t *dataset.Table) (Summary, error) {
	c, ok := coordinates(t)
	if !ok {
		return Summary{}, missingCoordinates("spatial summary")
	}
	nearest, enriched := t.Column(ColNearestPoint)

	s := Summary{TotalRows: t.Len(), MunicipioCoverage: make(map[string]int)}
	var lats, lons []float64
	for i := 0; i < t.Len(); i++ {
		lat, lon, ok := c.at(i)
		if !ok {
			s.RowsWithoutCoords++
			continue
		}
		lats = append(lats, lat)
		lons = append(lons, lon)
		if InRegion(lat, lon) {
			s.InRegion++
		} else {
			s.OutsideRegion++
		}
		name := ""
		if enriched {
			name = nearest.String(i)
		} else {
			ref, _ := Nearest(lat, lon)
			name = ref.Name
		}
		if name != "" {
			s.MunicipioCoverage[name]++
		}
	}
	if len(lats) > 0 {
		minLat, maxLat := numeric.MinMax(lats)
		minLon, maxLon := numeric.MinMax(lons)
		s.Distribution = &Extent{
			Bounds:    Bounds{MinLat: minLat, MaxLat: maxLat, MinLon: minLon, MaxLon: maxLon},
			CenterLat: stat.Mean(lats, nil),
			CenterLon: stat.Mean(lons, nil),
		}
	}
	return s, nil
}

// GroupStats aggregates one spatial group
type GroupStats struct {
	Group string   `json:"group"`
	Count int      `json:"count"`
	Mean  *float64 `json:"mean"`
	Std   *float64 `json:"std"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
}

// Gradient is the correlation of a variable with each coordinate axis
type Gradient struct {
	LatitudeCorrelation  float64 `json:"latitude_correlation"`
	LongitudeCorrelation float64 `json:"longitude_correlation"`
}

// Statistics is the spatial breakdown of one variable
type Statistics struct {
	Variable  string       `json:"variable"`
	GroupedBy string       `json:"grouped_by"`
	Groups    []GroupStats `json:"groups"`
	Gradient  *Gradient    `json:"gradient,omitempty"`
}

// Statistics aggregates variable by nearest reference point when t is
// enriched, else by coordinates rounded to 0.1 degrees. The gradient is
// reported when t has more than two rows; undefined correlations are 0.
func (p *Processor) Statistics(t *dataset.Table, variable string) (Statistics, error) {
	res := Statistics{Variable: variable}
	col, ok := t.Column(variable)
	if !ok {
		return res, models.NewInputError("spatial statistics", "variable %q not found", variable)
	}
	c, ok := coordinates(t)
	if !ok {
		return res, missingCoordinates("spatial statistics")
	}
	values, _ := col.AsFloat()

	groupOf := func(i int) (string, bool) {
		lat, lon, ok := c.at(i)
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%.1f,%.1f", numeric.Round(lat, 1), numeric.Round(lon, 1)), true
	}
	res.GroupedBy = "grid_0.1"
	if nearest, ok := t.Column(ColNearestPoint); ok {
		res.GroupedBy = ColNearestPoint
		groupOf = func(i int) (string, bool) {
			name, ok := nearest.Text(i)
			return name, ok
		}
	}

	var order []string
	groups := make(map[string][]float64)
	for i := 0; i < t.Len(); i++ {
		key, ok := groupOf(i)
		if !ok {
			continue
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
			groups[key] = []float64{}
		}
		if v, ok := values.Float(i); ok {
			groups[key] = append(groups[key], v)
		}
	}
	for _, key := range order {
		res.Groups = append(res.Groups, groupStats(key, groups[key]))
	}

	if t.Len() > 2 {
		res.Gradient = &Gradient{
			LatitudeCorrelation:  axisCorrelation(values, c.lat),
			LongitudeCorrelation: axisCorrelation(values, c.lon),
		}
	}
	return res, nil
}

func groupStats(key string, vals []float64) GroupStats {
	g := GroupStats{Group: key, Count: len(vals)}
	if len(vals) == 0 {
		return g
	}
	lo, hi := numeric.MinMax(vals)
	g.Mean = numeric.Finite(stat.Mean(vals, nil))
	g.Std = numeric.Finite(numeric.StdDev(vals))
	g.Min, g.Max = numeric.Finite(lo), numeric.Finite(hi)
	return g
}

// axisCorrelation is the Pearson correlation over rows where both cells are
// present, 0 when undefined
func axisCorrelation(values, axis *dataset.Column) float64 {
	var x, y []float64
	for i := 0; i < values.Len(); i++ {
		v, okV := values.Float(i)
		a, okA := axis.Float(i)
		if okV && okA {
			x = append(x, v)
			y = append(y, a)
		}
	}
	if len(x) < 2 {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return r
}

// FilterByRegion keeps all rows, the rows inside Region, or the rows within
// FarThresholdKm of Capital. An unknown filter is an input error; tables
// without coordinates are returned unfiltered with a warning.
func (p *Processor) FilterByRegion(ctx context.Context, t *dataset.Table, region string) (*dataset.Table, error) {
	var keep func(lat, lon float64) bool
	switch strings.ToLower(region) {
	case FilterAll, "":
		return t, nil
	case FilterRegion, strings.ToLower(RegionName):
		keep = InRegion
	case FilterCapital, "bogota":
		keep = func(lat, lon float64) bool {
			return Haversine(lat, lon, Capital.Lat, Capital.Lon) <= FarThresholdKm
		}
	default:
		return nil, models.NewInputError("filter by region", "unknown region %q, expected %s, %s or %s",
			region, FilterAll, FilterRegion, FilterCapital)
	}

	c, ok := coordinates(t)
	if !ok {
		p.logger.Warn(ctx, "[SPATIAL_FILTER] Cannot filter without coordinates", logging.Fields{"region": region})
		return t, nil
	}
	return t.Filter(func(i int) bool {
		lat, lon, ok := c.at(i)
		return ok && keep(lat, lon)
	}), nil
}
