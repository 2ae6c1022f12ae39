// Package charts renders the exploratory analysis figures as PNG files
package charts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
	"climate-analytics/pkg/logging"
)

// Chart names used as keys of the rendered map
const (
	Distributions     = "distributions"
	CorrelationMatrix = "correlation_matrix"
	TimeSeries        = "time_series"
	BoxPlots          = "box_plots"
)

const (
	maxDistributions = 6
	histogramBins    = 30
	maxBoxStations   = 10
)

// seriesPreference orders the variables picked for single-variable charts
var seriesPreference = []string{models.ColTempAvg, models.ColTempMax, models.ColPrecipitation}

// Renderer draws charts into an output directory
type Renderer struct {
	logger *logging.StructuredLogger
}

// NewRenderer creates a chart renderer
func NewRenderer(logger *logging.StructuredLogger) *Renderer {
	return &Renderer{logger: logger}
}

// Render draws every chart t supports into dir and returns the written file
// per chart name. Charts that do not apply (no date column, a single numeric
// column) are skipped; the first rendering failure is returned together with
// the charts already written.
func (r *Renderer) Render(ctx context.Context, t *dataset.Table, dir string) (map[string]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chart directory: %w", err)
	}
	out := make(map[string]string)

	numeric := t.NumericNames()
	if len(numeric) > maxDistributions {
		numeric = numeric[:maxDistributions]
	}
	steps := []struct {
		name string
		ok   bool
		draw func(path string) error
	}{
		{Distributions, len(numeric) > 0, func(p string) error { return r.distributions(t, numeric, p) }},
		{CorrelationMatrix, len(numeric) > 1, func(p string) error { return r.correlationMatrix(t, numeric, p) }},
		{TimeSeries, t.Has(models.ColDate) && preferred(t) != "", func(p string) error { return r.timeSeries(t, p) }},
		{BoxPlots, boxPlotsApply(t), func(p string) error { return r.boxPlots(t, p) }},
	}
	for _, s := range steps {
		if !s.ok {
			continue
		}
		path := filepath.Join(dir, s.name+".png")
		if err := s.draw(path); err != nil {
			r.logger.Error(ctx, "[CHART_ERROR] Chart rendering failed", logging.Fields{"chart": s.name}, err)
			return out, fmt.Errorf("render %s: %w", s.name, err)
		}
		out[s.name] = path
	}

	r.logger.Info(ctx, "[CHARTS_RENDERED] Charts written", logging.Fields{
		"dir":    dir,
		"charts": len(out),
	})
	return out, nil
}

func preferred(t *dataset.Table) string {
	for _, name := range seriesPreference {
		if _, ok := t.FloatColumn(name); ok {
			return name
		}
	}
	return ""
}

func boxPlotsApply(t *dataset.Table) bool {
	if preferred(t) == "" {
		return false
	}
	keys, _, err := t.GroupBy(models.ColStation)
	return err == nil && len(keys) > 0 && len(keys) <= maxBoxStations
}

func (r *Renderer) distributions(t *dataset.Table, names []string, path string) error {
	const rows, cols = 2, 3
	plots := make([][]*plot.Plot, rows)
	for i := range plots {
		plots[i] = make([]*plot.Plot, cols)
	}
	for i, name := range names {
		col, _ := t.FloatColumn(name)
		values := col.Floats()
		p := plot.New()
		p.Title.Text = "Distribution of " + name
		p.X.Label.Text = name
		p.Y.Label.Text = "Frequency"
		if len(values) > 0 {
			h, err := plotter.NewHist(plotter.Values(values), histogramBins)
			if err != nil {
				return err
			}
			p.Add(h)
		}
		plots[i/cols][i%cols] = p
	}

	img := vgimg.New(15*vg.Inch, 10*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: rows, Cols: cols, PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Points(2), PadBottom: vg.Points(2), PadLeft: vg.Points(2), PadRight: vg.Points(2)}
	canvases := plot.Align(plots, tiles, dc)
	for j := range plots {
		for i := range plots[j] {
			if plots[j][i] != nil {
				plots[j][i].Draw(canvases[j][i])
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vgimg.PngCanvas{Canvas: img}.WriteTo(f)
	return err
}

// corrGrid is a square correlation matrix laid out for plotter.HeatMap
type corrGrid struct {
	z [][]float64
}

func (g corrGrid) Dims() (c, r int) { return len(g.z), len(g.z) }
func (g corrGrid) Z(c, r int) float64 { return g.z[r][c] }
func (g corrGrid) X(c int) float64 { return float64(c) }
func (g corrGrid) Y(r int) float64 { return float64(r) }

func (r *Renderer) correlationMatrix(t *dataset.Table, names []string, path string) error {
	n := len(names)
	z := make([][]float64, n)
	for i := range z {
		z[i] = make([]float64, n)
		for j := range z[i] {
			x, y, _ := t.Paired(names[i], names[j])
			if len(x) > 1 && stat.StdDev(x, nil) > 0 && stat.StdDev(y, nil) > 0 {
				z[i][j] = stat.Correlation(x, y, nil)
			}
		}
	}

	cm := moreland.SmoothBlueRed()
	cm.SetMin(-1)
	cm.SetMax(1)
	hm := plotter.NewHeatMap(corrGrid{z: z}, cm.Palette(255))
	hm.Min, hm.Max = -1, 1

	p := plot.New()
	p.Title.Text = "Correlation matrix"
	p.Add(hm)
	p.NominalX(names...)
	p.NominalY(names...)
	return p.Save(10*vg.Inch, 8*vg.Inch, path)
}

func (r *Renderer) timeSeries(t *dataset.Table, path string) error {
	name := preferred(t)
	dcol, _ := t.Column(models.ColDate)
	dates, _ := dcol.AsTime()
	col, _ := t.FloatColumn(name)

	var pts plotter.XYs
	for i := 0; i < t.Len(); i++ {
		ts, okT := dates.Time(i)
		v, okV := col.Float(i)
		if okT && okV {
			pts = append(pts, plotter.XY{X: float64(ts.Unix()), Y: v})
		}
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].X < pts[j].X })

	p := plot.New()
	p.Title.Text = "Time series - " + name
	p.X.Label.Text = "Date"
	p.Y.Label.Text = name
	p.X.Tick.Marker = plot.TimeTicks{Format: time.DateOnly}
	p.Add(plotter.NewGrid())
	if len(pts) > 0 {
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Width = vg.Points(1)
		p.Add(line)
	}
	return p.Save(12*vg.Inch, 6*vg.Inch, path)
}

func (r *Renderer) boxPlots(t *dataset.Table, path string) error {
	name := preferred(t)
	col, _ := t.FloatColumn(name)
	keys, groups, err := t.GroupBy(models.ColStation)
	if err != nil {
		return err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Distribution of %s by station", name)
	p.Y.Label.Text = name
	width := vg.Points(20)
	for i, key := range keys {
		var vals plotter.Values
		for _, row := range groups[key] {
			if v, ok := col.Float(row); ok {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			continue
		}
		box, err := plotter.NewBoxPlot(width, float64(i), vals)
		if err != nil {
			return err
		}
		p.Add(box)
	}
	p.NominalX(keys...)
	return p.Save(12*vg.Inch, 6*vg.Inch, path)
}
