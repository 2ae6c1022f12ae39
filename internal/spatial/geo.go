// Package spatial handles station coordinates: region membership, distances
// to the reference municipalities, per-row enrichment, spatial aggregates and
// GeoJSON export.
package spatial

import (
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// EarthRadiusKm is the mean Earth radius used by Haversine
const EarthRadiusKm = 6371.0

// FarThresholdKm is the nearest-reference distance above which a location
// is reported as remote, and the radius of the capital area.
const FarThresholdKm = 50.0

// Bounds is a latitude/longitude rectangle, inclusive on every edge
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether the point lies within the bounds
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// RegionName is the department covered by Region
const RegionName = "Cundinamarca"

// Region approximates Cundinamarca
var Region = Bounds{MinLat: 3.5, MaxLat: 5.5, MinLon: -75.0, MaxLon: -73.0}

// Point is a named reference location
type Point struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// ReferencePoints are the main municipalities of the region. Order matters:
// nearest lookups keep the first point on ties.
var ReferencePoints = []Point{
	{Name: "Bogotá", Lat: 4.7110, Lon: -74.0721},
	{Name: "Soacha", Lat: 4.5794, Lon: -74.2168},
	{Name: "Girardot", Lat: 4.3036, Lon: -74.8036},
	{Name: "Facatativá", Lat: 4.8147, Lon: -74.3553},
	{Name: "Zipaquirá", Lat: 5.0221, Lon: -74.0048},
	{Name: "Chía", Lat: 4.8616, Lon: -74.0326},
	{Name: "Madrid", Lat: 4.7324, Lon: -74.2642},
	{Name: "Mosquera", Lat: 4.7059, Lon: -74.2302},
	{Name: "Funza", Lat: 4.7167, Lon: -74.2167},
	{Name: "Cajicá", Lat: 4.9186, Lon: -74.0278},
}

// Capital is the fixed reference for capital distances
var Capital = ReferencePoints[0]

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Haversine returns the great-circle distance in kilometres
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dphi := phi2 - phi1
	dlambda := radians(lon2) - radians(lon1)
	a := math.Pow(math.Sin(dphi/2), 2) + math.Cos(phi1)*math.Cos(phi2)*math.Pow(math.Sin(dlambda/2), 2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// InRegion reports whether the point lies in Region
func InRegion(lat, lon float64) bool {
	return Region.Contains(lat, lon)
}

// Nearest returns the closest reference point and its distance
func Nearest(lat, lon float64) (Point, float64) {
	best, bestDist := Point{}, math.Inf(1)
	for _, p := range ReferencePoints {
		if d := Haversine(lat, lon, p.Lat, p.Lon); d < bestDist {
			best, bestDist = p, d
		}
	}
	return best, bestDist
}

// LocationInfo describes where a coordinate pair falls
type LocationInfo struct {
	InRegion     bool     `json:"in_region"`
	Region       string   `json:"region"`
	NearestPoint string   `json:"nearest_municipality,omitempty"`
	DistanceKm   *float64 `json:"distance_to_municipality_km,omitempty"`
	Latitude     float64  `json:"latitude"`
	Longitude    float64  `json:"longitude"`
}

// CoordinateValidation is the result of ValidateCoordinates
type CoordinateValidation struct {
	IsValid  bool         `json:"is_valid"`
	Errors   []string     `json:"errors"`
	Warnings []string     `json:"warnings"`
	Location LocationInfo `json:"location_info"`
}

// ValidateCoordinates checks the global coordinate ranges and annotates the
// pair with region membership and, inside the region, the nearest reference.
func ValidateCoordinates(lat, lon float64) CoordinateValidation {
	res := CoordinateValidation{
		IsValid:  true,
		Errors:   []string{},
		Warnings: []string{},
		Location: LocationInfo{Latitude: lat, Longitude: lon},
	}
	if lat < -90 || lat > 90 || math.IsNaN(lat) {
		res.Errors = append(res.Errors, "latitude outside the valid range [-90, 90]")
	}
	if lon < -180 || lon > 180 || math.IsNaN(lon) {
		res.Errors = append(res.Errors, "longitude outside the valid range [-180, 180]")
	}
	res.IsValid = len(res.Errors) == 0

	if !InRegion(lat, lon) {
		res.Location.Region = "outside " + RegionName
		res.Warnings = append(res.Warnings, "coordinates outside "+RegionName)
		return res
	}
	res.Location.InRegion = true
	res.Location.Region = RegionName
	p, d := Nearest(lat, lon)
	res.Location.NearestPoint = p.Name
	res.Location.DistanceKm = &d
	if d > FarThresholdKm {
		res.Warnings = append(res.Warnings, fmt.Sprintf("coordinates far from the nearest municipality (%.1f km)", d))
	}
	return res
}

// PointWKT renders the coordinates as a WKT point (x = longitude)
func PointWKT(lat, lon float64) (string, error) {
	return wkt.Marshal(geom.NewPointFlat(geom.XY, []float64{lon, lat}))
}

// ParsePointWKT reads back a WKT point written by PointWKT
func ParsePointWKT(s string) (lat, lon float64, err error) {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse WKT: %w", err)
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return 0, 0, fmt.Errorf("geometry is not a Point")
	}
	return p.Y(), p.X(), nil
}
