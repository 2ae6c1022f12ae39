package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"climate-analytics/internal/analysis"
	"climate-analytics/internal/artifacts"
	"climate-analytics/internal/cleaning"
	"climate-analytics/internal/dataset"
	"climate-analytics/internal/exploratory"
	"climate-analytics/internal/models"
	"climate-analytics/internal/repository"
	"climate-analytics/internal/spatial"
	"climate-analytics/internal/validation"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

const fileTimestamp = "20060102_150405"

// Analysis record types
const (
	AnalysisEDA     = "eda"
	AnalysisTrend   = "trend"
	AnalysisSpatial = "spatial"
)

// AnalysisDeps are the components the analysis service sequences
type AnalysisDeps struct {
	Validator   *validation.Validator
	Cleaner     *cleaning.Cleaner
	Analyzer    *analysis.Analyzer
	Spatial     *spatial.Processor
	Exploratory *exploratory.Service
	Store       *artifacts.Store
	// Repo persists results; nil disables persistence
	Repo repository.ClimateRepository
}

// CacheConfig sizes the result cache
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// AnalysisService runs validation, cleaning and analyses over uploaded tables
type AnalysisService struct {
	deps    AnalysisDeps
	cache   *resultCache
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(deps AnalysisDeps, cacheCfg CacheConfig, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*AnalysisService, error) {
	cache, err := newResultCache(cacheCfg.Size, cacheCfg.TTL, metricsCollector)
	if err != nil {
		return nil, err
	}
	return &AnalysisService{
		deps:    deps,
		cache:   cache,
		logger:  logger,
		metrics: metricsCollector,
	}, nil
}

// Validate checks t and reports the outcome
func (s *AnalysisService) Validate(ctx context.Context, t *dataset.Table) (validation.Result, string) {
	res := s.deps.Validator.Validate(t)
	s.metrics.RecordValidation(res.IsValid, res.QualityScore)
	s.logger.Info(ctx, "[VALIDATE_COMPLETE] Data validated", logging.Fields{
		"records":       t.Len(),
		"is_valid":      res.IsValid,
		"errors":        len(res.Errors),
		"warnings":      len(res.Warnings),
		"quality_score": res.QualityScore,
	})
	return res, validation.Report(res)
}

// ProcessResult is the outcome of validating and cleaning a table
type ProcessResult struct {
	Success    bool                  `json:"success"`
	Message    string                `json:"message"`
	Validation validation.Result     `json:"validation_results"`
	DataCount  int                   `json:"data_count"`
	Cleaning   *cleaning.Summary     `json:"cleaning_summary,omitempty"`
	Statistics []cleaning.GroupStats `json:"statistics,omitempty"`
	File       string                `json:"processed_file,omitempty"`
}

// Process validates t and, when valid, cleans it and stores the cleaned table
// as a data artifact. An invalid table is not an error: the result says why.
func (s *AnalysisService) Process(ctx context.Context, t *dataset.Table) (*ProcessResult, error) {
	plog := s.startProcess(ctx, "processing")

	res, _ := s.Validate(ctx, t)
	out := &ProcessResult{Validation: res, DataCount: t.Len()}
	if !res.IsValid {
		out.Message = "data did not pass validation"
		s.finishProcess(ctx, plog, 0, nil)
		return out, nil
	}

	cleaned, summary, err := s.deps.Cleaner.Clean(ctx, t)
	if err != nil {
		s.finishProcess(ctx, plog, 0, err)
		return nil, fmt.Errorf("clean data: %w", err)
	}

	dir, err := s.deps.Store.Dir(artifacts.KindData)
	if err != nil {
		s.finishProcess(ctx, plog, 0, err)
		return nil, err
	}
	name := fmt.Sprintf("processed_data_%s_%s.csv", time.Now().Format(fileTimestamp), shortID())
	path := filepath.Join(dir, name)
	if err := cleaned.SaveCSV(path); err != nil {
		s.finishProcess(ctx, plog, 0, err)
		return nil, fmt.Errorf("save processed data: %w", err)
	}
	if err := s.deps.Store.Publish(ctx, artifacts.KindData, path); err != nil {
		s.logger.Warn(ctx, "[PROCESS_PUBLISH_FAILED] Processed data not mirrored", logging.Fields{
			"file":  name,
			"error": err.Error(),
		})
	}

	out.Success = true
	out.Message = "data processed"
	out.DataCount = cleaned.Len()
	out.Cleaning = &summary
	out.Statistics = cleaning.GroupStatistics(cleaned, "")
	out.File = name
	s.finishProcess(ctx, plog, cleaned.Len(), nil)
	return out, nil
}

// AnalyzeOptions control an exploratory run
type AnalyzeOptions struct {
	Charts bool
}

// Analyze runs the exploratory analysis. Results of identical tables are
// served from the cache.
func (s *AnalysisService) Analyze(ctx context.Context, t *dataset.Table, opts AnalyzeOptions) (*exploratory.Results, error) {
	key, err := cacheKey(AnalysisEDA, t, fmt.Sprint(opts.Charts))
	if err != nil {
		return nil, err
	}
	if v, ok := s.cache.get(key); ok {
		s.logger.Debug(ctx, "[ANALYZE_CACHE_HIT] Serving cached analysis", logging.Fields{"key": key[:12]})
		return v.(*exploratory.Results), nil
	}

	outDir, err := s.deps.Store.Dir(artifacts.KindAnalysis)
	if err != nil {
		return nil, err
	}
	chartsDir, err := s.deps.Store.Dir(artifacts.KindVisualizations)
	if err != nil {
		return nil, err
	}

	res, err := s.deps.Exploratory.Run(ctx, t, exploratory.Options{
		OutputDir:  outDir,
		ChartsDir:  chartsDir,
		SkipCharts: !opts.Charts,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, artifacts.KindAnalysis, res.Files)
	s.publish(ctx, artifacts.KindVisualizations, res.Visualizations.Files)
	s.persist(ctx, res.RunID, AnalysisEDA, opts, res, map[string]interface{}{
		"records": t.Len(),
		"files":   res.Files,
	})
	s.cache.add(key, res)
	return res, nil
}

// Trend analyzes the temporal trend of one variable
func (s *AnalysisService) Trend(ctx context.Context, t *dataset.Table, variable string) (analysis.Trend, error) {
	key, err := cacheKey(AnalysisTrend, t, variable)
	if err != nil {
		return analysis.Trend{}, err
	}
	if v, ok := s.cache.get(key); ok {
		return v.(analysis.Trend), nil
	}

	trend, err := s.deps.Analyzer.Trend(t, variable)
	if err != nil {
		return trend, err
	}
	s.persist(ctx, uuid.NewString(), AnalysisTrend, map[string]string{"variable": variable}, trend, nil)
	s.cache.add(key, trend)
	return trend, nil
}

// SpatialResult combines the spatial views of a table
type SpatialResult struct {
	Summary    spatial.Summary     `json:"spatial_summary"`
	Statistics *spatial.Statistics `json:"spatial_statistics,omitempty"`
	GeoJSON    string              `json:"geojson_file,omitempty"`
}

// Spatial enriches t with locations, summarizes coverage, computes spatial
// statistics of variable when given and exports the rows as GeoJSON
func (s *AnalysisService) Spatial(ctx context.Context, t *dataset.Table, variable string) (*SpatialResult, error) {
	key, err := cacheKey(AnalysisSpatial, t, variable)
	if err != nil {
		return nil, err
	}
	if v, ok := s.cache.get(key); ok {
		return v.(*SpatialResult), nil
	}

	enriched, err := s.deps.Spatial.Enrich(ctx, t)
	if err != nil {
		return nil, err
	}
	summary, err := s.deps.Spatial.Summary(enriched)
	if err != nil {
		return nil, err
	}
	out := &SpatialResult{Summary: summary}
	if variable != "" {
		st, err := s.deps.Spatial.Statistics(enriched, variable)
		if err != nil {
			return nil, err
		}
		out.Statistics = &st
	}

	dir, err := s.deps.Store.Dir(artifacts.KindData)
	if err != nil {
		return nil, err
	}
	name := fmt.Sprintf("spatial_%s_%s.geojson", time.Now().Format(fileTimestamp), shortID())
	path, err := s.deps.Spatial.ExportGeoJSON(ctx, enriched, filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	out.GeoJSON = filepath.Base(path)
	s.publish(ctx, artifacts.KindData, map[string]string{"geojson": path})

	s.persist(ctx, uuid.NewString(), AnalysisSpatial, map[string]string{"variable": variable}, out, nil)
	s.cache.add(key, out)
	return out, nil
}

// StationReport builds the per-station report of code
func (s *AnalysisService) StationReport(ctx context.Context, t *dataset.Table, code string) (*exploratory.StationReport, error) {
	return s.deps.Exploratory.StationReport(ctx, t, code)
}

// Results lists persisted analyses, newest first
func (s *AnalysisService) Results(ctx context.Context, analysisType string, limit int) ([]*models.AnalysisRecord, error) {
	if s.deps.Repo == nil {
		return []*models.AnalysisRecord{}, nil
	}
	return s.deps.Repo.ListAnalyses(ctx, analysisType, limit)
}

// Result returns one persisted analysis
func (s *AnalysisService) Result(ctx context.Context, id string) (*models.AnalysisRecord, error) {
	if s.deps.Repo == nil {
		return nil, &models.NotFoundError{Resource: "analysis", ID: id}
	}
	return s.deps.Repo.GetAnalysis(ctx, id)
}

func (s *AnalysisService) publish(ctx context.Context, kind string, files map[string]string) {
	for _, path := range files {
		if err := s.deps.Store.Publish(ctx, kind, path); err != nil {
			s.logger.Warn(ctx, "[ANALYSIS_PUBLISH_FAILED] Artifact not mirrored", logging.Fields{
				"kind":  kind,
				"file":  filepath.Base(path),
				"error": err.Error(),
			})
		}
	}
}

// persist stores a result when a repository is configured. Failures are
// logged; the caller still gets its result.
func (s *AnalysisService) persist(ctx context.Context, id, analysisType string, params, result, meta interface{}) {
	if s.deps.Repo == nil {
		return
	}
	rec := &models.AnalysisRecord{ID: id, AnalysisType: analysisType, CreatedAt: time.Now().UTC()}
	var err error
	if rec.Parameters, err = json.Marshal(params); err == nil {
		if rec.Result, err = json.Marshal(result); err == nil && meta != nil {
			rec.Metadata, err = json.Marshal(meta)
		}
	}
	if err == nil {
		err = s.deps.Repo.SaveAnalysis(ctx, rec)
	}
	if err != nil {
		s.logger.Error(ctx, "[ANALYSIS_PERSIST_FAILED] Result not stored", logging.Fields{
			"analysis_type": analysisType,
			"id":            id,
		}, err)
	}
}

func (s *AnalysisService) startProcess(ctx context.Context, processType string) *models.ProcessingLog {
	return startProcess(ctx, s.deps.Repo, s.logger, processType)
}

func (s *AnalysisService) finishProcess(ctx context.Context, plog *models.ProcessingLog, records int, procErr error) {
	finishProcess(ctx, s.deps.Repo, s.logger, plog, records, procErr)
}

// startProcess opens a processing log. It returns nil without a repository
// or when the log cannot be written.
func startProcess(ctx context.Context, repo repository.ClimateRepository, logger *logging.StructuredLogger, processType string) *models.ProcessingLog {
	if repo == nil {
		return nil
	}
	plog, err := repo.StartProcess(ctx, processType)
	if err != nil {
		logger.Error(ctx, "[PROCESS_LOG_FAILED] Processing log not opened", logging.Fields{
			"process_type": processType,
		}, err)
		return nil
	}
	return plog
}

func finishProcess(ctx context.Context, repo repository.ClimateRepository, logger *logging.StructuredLogger, plog *models.ProcessingLog, records int, procErr error) {
	if repo == nil || plog == nil {
		return
	}
	if err := repo.FinishProcess(ctx, plog, records, procErr); err != nil {
		logger.Error(ctx, "[PROCESS_LOG_FAILED] Processing log not closed", logging.Fields{
			"process_id": plog.ID,
		}, err)
	}
}

func shortID() string {
	return uuid.NewString()[:8]
}
