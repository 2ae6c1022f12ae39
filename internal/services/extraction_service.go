package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"climate-analytics/internal/artifacts"
	"climate-analytics/internal/extraction"
	"climate-analytics/internal/models"
	"climate-analytics/internal/repository"
	"climate-analytics/internal/spatial"
	"climate-analytics/internal/validation"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

const storeBatchSize = 1000

// ObservationSource fetches raw observations and station listings
type ObservationSource interface {
	Extract(ctx context.Context, q extraction.Query) ([]models.RawObservation, error)
	Stations(ctx context.Context, department string) ([]models.Station, error)
}

// ExtractionService pulls observations from the open data API into the
// artifact store and, when configured, the repository
type ExtractionService struct {
	source    ObservationSource
	store     *artifacts.Store
	repo      repository.ClimateRepository
	validator *validation.Validator
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// ExtractionResult summarizes one extraction
type ExtractionResult struct {
	Fetched   int            `json:"records_fetched"`
	Readings  int            `json:"readings"`
	Rejected  int            `json:"rejected"`
	Reasons   map[string]int `json:"rejected_by_field,omitempty"`
	Rows      int            `json:"data_count"`
	Stations  int            `json:"stations"`
	Columns   []string       `json:"columns"`
	DateRange struct {
		Start time.Time `json:"start"`
		End   time.Time `json:"end"`
	} `json:"date_range"`
	File   string `json:"file"`
	Stored int    `json:"stored_readings"`
}

// NewExtractionService creates a new extraction service. repo may be nil.
func NewExtractionService(source ObservationSource, store *artifacts.Store, repo repository.ClimateRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ExtractionService {
	return &ExtractionService{
		source:    source,
		store:     store,
		repo:      repo,
		validator: validation.NewValidator(),
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// Extract fetches the observations of q, pivots them into the wide table and
// saves it as a data artifact. No usable observation is a not found error.
func (s *ExtractionService) Extract(ctx context.Context, q extraction.Query) (*ExtractionResult, error) {
	plog := startProcess(ctx, s.repo, s.logger, "extraction")
	res, err := s.extract(ctx, q)
	stored := 0
	if res != nil {
		stored = res.Stored
	}
	finishProcess(ctx, s.repo, s.logger, plog, stored, err)
	return res, err
}

func (s *ExtractionService) extract(ctx context.Context, q extraction.Query) (*ExtractionResult, error) {
	raw, err := s.source.Extract(ctx, q)
	if err != nil {
		return nil, err
	}
	table, summary := extraction.Pivot(raw)
	if table.Len() == 0 {
		return nil, &models.NotFoundError{Resource: "observations", ID: describeQuery(q)}
	}

	res := &ExtractionResult{
		Fetched:  len(raw),
		Readings: summary.Readings,
		Rejected: summary.Rejected,
		Reasons:  summary.Reasons,
		Rows:     summary.Rows,
		Stations: summary.Stations,
		Columns:  table.Names(),
	}
	if start, end, ok := table.TimeRange(models.ColDate); ok {
		res.DateRange.Start, res.DateRange.End = start, end
	}

	dir, err := s.store.Dir(artifacts.KindData)
	if err != nil {
		return nil, err
	}
	res.File = fmt.Sprintf("climate_data_%s_%s.csv", time.Now().Format(fileTimestamp), shortID())
	path := filepath.Join(dir, res.File)
	if err := table.SaveCSV(path); err != nil {
		return nil, fmt.Errorf("save extracted data: %w", err)
	}
	if err := s.store.Publish(ctx, artifacts.KindData, path); err != nil {
		s.logger.Warn(ctx, "[EXTRACT_PUBLISH_FAILED] Extracted data not mirrored", logging.Fields{
			"file":  res.File,
			"error": err.Error(),
		})
	}

	if s.repo != nil {
		if res.Stored, err = s.storeReadings(ctx, raw); err != nil {
			return res, err
		}
	}

	s.logger.Info(ctx, "[EXTRACT_SAVED] Extracted data stored", logging.Fields{
		"file":     res.File,
		"rows":     res.Rows,
		"rejected": res.Rejected,
		"stored":   res.Stored,
	})
	return res, nil
}

// storeReadings upserts every station seen and stores the parsed readings in
// batches
func (s *ExtractionService) storeReadings(ctx context.Context, raw []models.RawObservation) (int, error) {
	seen := make(map[string]bool)
	readings := make([]*models.Reading, 0, len(raw))
	for i := range raw {
		rd, err := raw[i].ToReading()
		if err != nil || rd.StationCode == "" {
			continue
		}
		if !seen[rd.StationCode] {
			seen[rd.StationCode] = true
			st := withLocation(raw[i].ToStation())
			if err := s.repo.UpsertStation(ctx, &st); err != nil {
				return 0, err
			}
		}
		readings = append(readings, rd)
	}

	stored := 0
	for start := 0; start < len(readings); start += storeBatchSize {
		end := start + storeBatchSize
		if end > len(readings) {
			end = len(readings)
		}
		if err := s.repo.CreateReadingsBatch(ctx, readings[start:end]); err != nil {
			return stored, err
		}
		stored = end
	}
	return stored, nil
}

// StationDetail is a station with its coordinate checks
type StationDetail struct {
	models.Station
	Region      string                       `json:"region"`
	Coordinates spatial.CoordinateValidation `json:"coordinates"`
	Validation  validation.Result            `json:"validation"`
}

// Stations lists known stations: the stored ones when a repository holds
// any, otherwise those discovered through the API
func (s *ExtractionService) Stations(ctx context.Context, department string) ([]models.Station, error) {
	if s.repo != nil {
		stored, err := s.repo.ListStations(ctx, 10000, 0)
		if err != nil {
			return nil, err
		}
		if len(stored) > 0 {
			out := make([]models.Station, len(stored))
			for i, st := range stored {
				out[i] = *st
			}
			return out, nil
		}
	}
	stations, err := s.source.Stations(ctx, department)
	if err != nil {
		return nil, err
	}
	if s.repo != nil {
		for i := range stations {
			if err := s.repo.UpsertStation(ctx, &stations[i]); err != nil {
				s.logger.Warn(ctx, "[STATION_STORE_FAILED] Station not stored", logging.Fields{
					"station": stations[i].Code,
					"error":   err.Error(),
				})
			}
		}
	}
	return stations, nil
}

// Station returns one station with its coordinate validation
func (s *ExtractionService) Station(ctx context.Context, code string) (*StationDetail, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, models.NewInputError("station", "station code is empty")
	}

	var found *models.Station
	if s.repo != nil {
		st, err := s.repo.GetStation(ctx, code)
		if err != nil && !models.IsNotFound(err) {
			return nil, err
		}
		found = st
	}
	if found == nil {
		stations, err := s.Stations(ctx, "")
		if err != nil {
			return nil, err
		}
		for i := range stations {
			if stations[i].Code == code {
				found = &stations[i]
				break
			}
		}
	}
	if found == nil {
		s.logger.Warn(ctx, "[STATION_NOT_FOUND] Station not found", logging.Fields{"station": code})
		return nil, &models.NotFoundError{Resource: "station", ID: code}
	}

	loc := spatial.ValidateCoordinates(found.Latitude, found.Longitude)
	return &StationDetail{
		Station:     *found,
		Region:      loc.Location.Region,
		Coordinates: loc,
		Validation:  s.validator.ValidateStation(*found),
	}, nil
}

func withLocation(st models.Station) models.Station {
	if st.Latitude == 0 && st.Longitude == 0 {
		return st
	}
	if wkt, err := spatial.PointWKT(st.Latitude, st.Longitude); err == nil {
		st.Location = wkt
	}
	return st
}

func describeQuery(q extraction.Query) string {
	parts := []string{q.Department}
	if !q.Start.IsZero() {
		parts = append(parts, q.Start.Format(time.DateOnly))
	}
	if !q.End.IsZero() {
		parts = append(parts, q.End.Format(time.DateOnly))
	}
	return strings.Join(parts, " ")
}
