// Package exploratory runs the complete exploratory data analysis over a
// cleaned climate table and persists its results.
package exploratory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"climate-analytics/internal/analysis"
	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
	"climate-analytics/internal/outliers"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

const timestampLayout = "20060102_150405"

// ChartRenderer draws the figures of a table into a directory and returns the
// file written per chart name
type ChartRenderer interface {
	Render(ctx context.Context, t *dataset.Table, dir string) (map[string]string, error)
}

// Options control a run
type Options struct {
	// OutputDir receives the results, report and charts. Nothing is written
	// when empty.
	OutputDir string
	// ChartsDir receives the charts instead of OutputDir/charts
	ChartsDir string
	// SkipCharts disables figure generation even with an OutputDir
	SkipCharts bool
}

// Visualizations lists the chart files produced by a run
type Visualizations struct {
	Files map[string]string `json:"files"`
	Error string            `json:"error,omitempty"`
}

// Results is everything a run produced, in pipeline order
type Results struct {
	RunID           string                          `json:"run_id"`
	GeneratedAt     time.Time                       `json:"generated_at"`
	Summary         DataSummary                     `json:"data_summary"`
	Statistics      map[string]analysis.Descriptive `json:"descriptive_statistics"`
	Temporal        TemporalAnalysis                `json:"temporal_analysis"`
	Correlations    CorrelationAnalysis             `json:"correlation_analysis"`
	Seasonal        SeasonalAnalysis                `json:"seasonal_analysis"`
	Stations        StationAnalysis                 `json:"station_analysis"`
	Anomalies       AnomalyAnalysis                 `json:"anomaly_analysis"`
	Quality         QualityReport                   `json:"quality_report"`
	Visualizations  Visualizations                  `json:"visualizations"`
	Recommendations []string                        `json:"recommendations"`
	Files           map[string]string               `json:"output_files,omitempty"`
}

// Service sequences the exploratory analysis
type Service struct {
	analyzer *analysis.Analyzer
	charts   ChartRenderer
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewService creates an exploratory analysis service. charts may be nil, in
// which case no figures are produced.
func NewService(analyzer *analysis.Analyzer, charts ChartRenderer, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Service {
	return &Service{
		analyzer: analyzer,
		charts:   charts,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// Run executes every analysis step over t. A table without any numeric
// column is the only fatal condition; the steps themselves degrade to
// markers.
func (s *Service) Run(ctx context.Context, t *dataset.Table, opts Options) (*Results, error) {
	timer := s.metrics.StageTimer("eda")
	defer timer.ObserveDuration()

	schema := dataset.Describe(t)
	if len(schema.Numeric) == 0 {
		return nil, fmt.Errorf("exploratory analysis: %w", models.ErrNoNumericData)
	}

	runID := uuid.NewString()
	log := s.logger.WithFields(logging.Fields{"run_id": runID})
	log.Info(ctx, "[EDA_START] Starting exploratory analysis", logging.Fields{
		"records": t.Len(),
		"columns": t.Width(),
	})

	r := &Results{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Summary:     summarize(t, schema),
		Statistics:  make(map[string]analysis.Descriptive),
	}
	for name, d := range s.analyzer.Descriptive(t, nil) {
		if d.OK() {
			r.Statistics[name] = d
		}
	}
	r.Temporal = temporal(t, schema)
	r.Correlations = correlations(s.analyzer, t)
	r.Seasonal = seasonal(t, schema)
	r.Stations = stations(t, schema)
	r.Anomalies = anomalies(t, schema, outliers.IQR{Multiplier: outliers.DefaultOptions().IQRMultiplier})
	r.Quality = quality(t, schema)
	r.Visualizations = Visualizations{Files: map[string]string{}}

	chartsDir := opts.ChartsDir
	if chartsDir == "" && opts.OutputDir != "" {
		chartsDir = filepath.Join(opts.OutputDir, "charts")
	}
	if chartsDir != "" && !opts.SkipCharts && s.charts != nil {
		files, err := s.charts.Render(ctx, t, chartsDir)
		if files != nil {
			r.Visualizations.Files = files
		}
		if err != nil {
			r.Visualizations.Error = err.Error()
			log.Warn(ctx, "[EDA_CHARTS_FAILED] Visualization generation failed", logging.Fields{"error": err.Error()})
		}
	}
	r.Recommendations = recommendations(t, schema, r.Correlations)

	if opts.OutputDir != "" {
		jsonPath, reportPath, err := s.Save(ctx, r, opts.OutputDir)
		if err != nil {
			return r, err
		}
		r.Files = map[string]string{"results": jsonPath, "report": reportPath}
	}

	log.Info(ctx, "[EDA_COMPLETE] Exploratory analysis completed", logging.Fields{
		"quality_score":   r.Quality.OverallScore,
		"recommendations": len(r.Recommendations),
	})
	return r, nil
}

// Save writes r as eda_results_<ts>.json and its text rendering as
// eda_report_<ts>.txt under dir. Existing files are never overwritten: a
// numeric suffix is added until both names are free.
func (s *Service) Save(ctx context.Context, r *Results, dir string) (jsonPath, reportPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create output directory: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to encode results: %w", err)
	}

	stamp := r.GeneratedAt.Format(timestampLayout)
	for attempt := 0; ; attempt++ {
		suffix := stamp
		if attempt > 0 {
			suffix = fmt.Sprintf("%s_%d", stamp, attempt)
		}
		jsonPath = filepath.Join(dir, "eda_results_"+suffix+".json")
		reportPath = filepath.Join(dir, "eda_report_"+suffix+".txt")

		err = writeExclusive(jsonPath, data)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to write results: %w", err)
		}
		err = writeExclusive(reportPath, []byte(RenderReport(r)))
		if errors.Is(err, os.ErrExist) {
			os.Remove(jsonPath)
			continue
		}
		if err != nil {
			return "", "", fmt.Errorf("failed to write report: %w", err)
		}
		break
	}

	s.logger.Info(ctx, "[EDA_SAVED] Results saved", logging.Fields{
		"results": jsonPath,
		"report":  reportPath,
	})
	return jsonPath, reportPath, nil
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
