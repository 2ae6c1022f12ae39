package spatial

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
	"climate-analytics/pkg/logging"
)

// FeatureCollection converts every row with coordinates into a Point
// feature. The remaining columns become flat properties: missing cells are
// null, float cells numbers and everything else text.
func (p *Processor) FeatureCollection(t *dataset.Table) (*geojson.FeatureCollection, error) {
	c, ok := coordinates(t)
	if !ok {
		return nil, missingCoordinates("geojson export")
	}
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	for i := 0; i < t.Len(); i++ {
		lat, lon, ok := c.at(i)
		if !ok {
			continue
		}
		props := make(map[string]interface{}, t.Width())
		for _, col := range t.Columns() {
			name := col.Name()
			if name == models.ColLatitude || name == models.ColLongitude {
				continue
			}
			props[name] = propertyValue(col, i)
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   geom.NewPointFlat(geom.XY, []float64{lon, lat}),
			Properties: props,
		})
	}
	return fc, nil
}

func propertyValue(col *dataset.Column, i int) interface{} {
	v := col.Value(i)
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// ExportGeoJSON writes the feature collection of t to path, creating parent
// directories, and returns the path written.
func (p *Processor) ExportGeoJSON(ctx context.Context, t *dataset.Table, path string) (string, error) {
	fc, err := p.FeatureCollection(t)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode GeoJSON: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write GeoJSON: %w", err)
	}

	p.logger.Info(ctx, "[GEOJSON_EXPORTED] Spatial data exported", logging.Fields{
		"path":     path,
		"features": len(fc.Features),
	})
	return path, nil
}
