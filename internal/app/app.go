// Package app wires the configured components shared by the server and the
// command line tools.
package app

import (
	"context"
	"fmt"

	"climate-analytics/internal/analysis"
	"climate-analytics/internal/artifacts"
	"climate-analytics/internal/charts"
	"climate-analytics/internal/cleaning"
	"climate-analytics/internal/config"
	"climate-analytics/internal/exploratory"
	"climate-analytics/internal/extraction"
	"climate-analytics/internal/outliers"
	"climate-analytics/internal/repository"
	"climate-analytics/internal/services"
	"climate-analytics/internal/spatial"
	"climate-analytics/internal/validation"
	"climate-analytics/pkg/database"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

// App holds every component built from one configuration
type App struct {
	Config *config.Config

	DB   *database.DB
	Repo repository.ClimateRepository

	Store       *artifacts.Store
	Validator   *validation.Validator
	Cleaner     *cleaning.Cleaner
	Analyzer    *analysis.Analyzer
	Spatial     *spatial.Processor
	Exploratory *exploratory.Service
	Client      *extraction.Client

	Analysis   *services.AnalysisService
	Extraction *services.ExtractionService
}

// DatabaseConfig converts the configured database section
func DatabaseConfig(c config.DatabaseConfig) *database.Config {
	return &database.Config{
		Driver:          c.Driver,
		Host:            c.Host,
		Port:            c.Port,
		User:            c.User,
		Password:        c.Password,
		Database:        c.Database,
		SSLMode:         c.SSLMode,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

// OutlierOptions applies the analysis section to the detector defaults
func OutlierOptions(c config.AnalysisConfig) outliers.Options {
	opts := outliers.DefaultOptions()
	opts.ForestEnabled = c.IsolationForestEnabled
	if c.IsolationForestTrees > 0 {
		opts.Trees = c.IsolationForestTrees
	}
	opts.Seed = c.Seed
	return opts
}

// ExtractionOptions converts the extraction section
func ExtractionOptions(c config.ExtractionConfig) extraction.Options {
	opts := extraction.DefaultOptions()
	opts.BaseURL = c.BaseURL
	opts.DatasetID = c.DatasetID
	opts.AppToken = c.AppToken
	opts.Department = c.Department
	opts.BatchSize = c.BatchSize
	opts.MaxRetries = c.MaxRetries
	opts.Timeout = c.Timeout
	return opts
}

// New builds the components. When the database is enabled it is opened and
// migrated; callers must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*App, error) {
	a := &App{Config: cfg}

	if cfg.Database.Enabled {
		db, err := database.Open(DatabaseConfig(cfg.Database), logger, metricsCollector)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if err := db.Migrate(ctx, database.Up); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		a.DB = db
		a.Repo = repository.NewClimateRepository(db, logger, metricsCollector)
	}

	var mirror artifacts.Mirror
	m, err := artifacts.NewMinioMirror(ctx, cfg.Artifacts, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("artifact mirror: %w", err)
	}
	if m != nil {
		mirror = m
	}
	a.Store, err = artifacts.NewStore(cfg.Analysis.OutputDir, mirror, logger, metricsCollector)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := OutlierOptions(cfg.Analysis)
	a.Validator = validation.NewValidator()
	a.Cleaner = cleaning.NewCleaner(logger, metricsCollector, opts)
	a.Analyzer = analysis.NewAnalyzer(logger, metricsCollector, opts)
	a.Spatial = spatial.NewProcessor(logger, metricsCollector)

	var renderer exploratory.ChartRenderer
	if cfg.Analysis.Charts {
		renderer = charts.NewRenderer(logger)
	}
	a.Exploratory = exploratory.NewService(a.Analyzer, renderer, logger, metricsCollector)
	a.Client = extraction.NewClient(ExtractionOptions(cfg.Extraction), logger, metricsCollector)

	a.Analysis, err = services.NewAnalysisService(services.AnalysisDeps{
		Validator:   a.Validator,
		Cleaner:     a.Cleaner,
		Analyzer:    a.Analyzer,
		Spatial:     a.Spatial,
		Exploratory: a.Exploratory,
		Store:       a.Store,
		Repo:        a.Repo,
	}, services.CacheConfig{Size: cfg.Analysis.CacheSize, TTL: cfg.Analysis.CacheTTL}, logger, metricsCollector)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Extraction = services.NewExtractionService(a.Client, a.Store, a.Repo, logger, metricsCollector)
	return a, nil
}

// Close releases the database connection
func (a *App) Close() error {
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
