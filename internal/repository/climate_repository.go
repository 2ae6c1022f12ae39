package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"climate-analytics/internal/models"
	"climate-analytics/pkg/database"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

// ClimateRepository provides data access for the bookkeeping tables
type ClimateRepository interface {
	// Station operations
	UpsertStation(ctx context.Context, station *models.Station) error
	GetStation(ctx context.Context, code string) (*models.Station, error)
	ListStations(ctx context.Context, limit, offset int) ([]*models.Station, error)

	// Reading operations
	CreateReadingsBatch(ctx context.Context, readings []*models.Reading) error
	GetReadings(ctx context.Context, filter ReadingFilter) ([]*models.Reading, int, error)
	YearlySummary(ctx context.Context, code string, year int) ([]VariableSummary, error)

	// Analysis results
	SaveAnalysis(ctx context.Context, rec *models.AnalysisRecord) error
	GetAnalysis(ctx context.Context, id string) (*models.AnalysisRecord, error)
	ListAnalyses(ctx context.Context, analysisType string, limit int) ([]*models.AnalysisRecord, error)

	// Processing logs
	StartProcess(ctx context.Context, processType string) (*models.ProcessingLog, error)
	FinishProcess(ctx context.Context, log *models.ProcessingLog, records int, procErr error) error
	ListProcesses(ctx context.Context, limit int) ([]*models.ProcessingLog, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// ReadingFilter defines filters for querying readings
type ReadingFilter struct {
	StationCode *string
	Variable    *string
	StartDate   *time.Time
	EndDate     *time.Time
	Limit       int
	Offset      int
}

// VariableSummary aggregates one variable of a station over a year
type VariableSummary struct {
	Variable string   `json:"variable" db:"variable"`
	Count    int      `json:"count" db:"reading_count"`
	Mean     *float64 `json:"mean" db:"mean_value"`
	Min      *float64 `json:"min" db:"min_value"`
	Max      *float64 `json:"max" db:"max_value"`
	Sum      *float64 `json:"sum" db:"sum_value"`
}

// climateRepository implements ClimateRepository
type climateRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewClimateRepository creates a new climate repository
func NewClimateRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ClimateRepository {
	return &climateRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// UpsertStation inserts a station or refreshes its metadata
func (r *climateRepository) UpsertStation(ctx context.Context, station *models.Station) error {
	query := `
		INSERT INTO stations (code, name, department, municipality, latitude, longitude, elevation, location_wkt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			department = EXCLUDED.department,
			municipality = EXCLUDED.municipality,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			elevation = EXCLUDED.elevation,
			location_wkt = EXCLUDED.location_wkt,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, "upsert_station", query,
		station.Code,
		station.Name,
		station.Department,
		station.Municipality,
		station.Latitude,
		station.Longitude,
		station.Elevation,
		station.Location,
		station.CreatedAt.UTC(),
		station.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert station: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_UPSERT_STATION] Station stored", logging.Fields{
		"station": station.Code,
	})
	return nil
}

const stationColumns = `code, name, department, municipality, latitude, longitude, elevation, location_wkt, created_at, updated_at`

// GetStation retrieves a station by code
func (r *climateRepository) GetStation(ctx context.Context, code string) (*models.Station, error) {
	query := `SELECT ` + stationColumns + ` FROM stations WHERE code = ?`

	var station models.Station
	err := r.db.GetContext(ctx, "get_station", &station, query, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Resource: "station", ID: code}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get station: %w", err)
	}
	return &station, nil
}

// ListStations retrieves stations ordered by code
func (r *climateRepository) ListStations(ctx context.Context, limit, offset int) ([]*models.Station, error) {
	query := `SELECT ` + stationColumns + ` FROM stations ORDER BY code LIMIT ? OFFSET ?`

	stations := []*models.Station{}
	if err := r.db.SelectContext(ctx, "list_stations", &stations, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list stations: %w", err)
	}
	return stations, nil
}

// CreateReadingsBatch stores readings in a single transaction; a reading of
// the same station, instant and variable replaces the stored value
func (r *climateRepository) CreateReadingsBatch(ctx context.Context, readings []*models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
			"count":       len(readings),
			"duration_ms": time.Since(timer).Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, r.db.Rebind(`
		INSERT INTO readings (station_code, observed_at, variable, sensor, value, unit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (station_code, observed_at, variable) DO UPDATE SET
			value = EXCLUDED.value,
			sensor = EXCLUDED.sensor,
			unit = EXCLUDED.unit
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rd := range readings {
		_, err := stmt.ExecContext(ctx,
			rd.StationCode,
			rd.ObservedAt.UTC(),
			rd.Variable,
			rd.Sensor,
			rd.Value,
			rd.Unit,
			rd.CreatedAt.UTC(),
		)
		if err != nil {
			r.metrics.RecordDBError("batch_insert_error")
			return fmt.Errorf("failed to insert reading: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.RecordRecords("store", len(readings))
	return nil
}

// GetReadings retrieves readings with filtering and pagination, newest first
func (r *climateRepository) GetReadings(ctx context.Context, filter ReadingFilter) ([]*models.Reading, int, error) {
	where := " WHERE 1=1"
	args := []interface{}{}

	if filter.StationCode != nil {
		where += " AND station_code = ?"
		args = append(args, *filter.StationCode)
	}
	if filter.Variable != nil {
		where += " AND variable = ?"
		args = append(args, *filter.Variable)
	}
	if filter.StartDate != nil {
		where += " AND observed_at >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		where += " AND observed_at <= ?"
		args = append(args, filter.EndDate.UTC())
	}

	var total int
	if err := r.db.GetContext(ctx, "count_readings", &total, "SELECT COUNT(*) FROM readings"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count readings: %w", err)
	}

	query := `SELECT id, station_code, observed_at, variable, sensor, value, unit, created_at FROM readings` +
		where + ` ORDER BY observed_at DESC, station_code, variable LIMIT ? OFFSET ?`
	args = append(args, filter.Limit, filter.Offset)

	readings := []*models.Reading{}
	if err := r.db.SelectContext(ctx, "get_readings", &readings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get readings: %w", err)
	}
	return readings, total, nil
}

// YearlySummary aggregates the readings of a station within a calendar year
// by variable
func (r *climateRepository) YearlySummary(ctx context.Context, code string, year int) ([]VariableSummary, error) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	query := `
		SELECT
			variable,
			COUNT(*) AS reading_count,
			AVG(value) AS mean_value,
			MIN(value) AS min_value,
			MAX(value) AS max_value,
			SUM(value) AS sum_value
		FROM readings
		WHERE station_code = ?
		  AND observed_at >= ?
		  AND observed_at < ?
		GROUP BY variable
		ORDER BY variable
	`

	out := []VariableSummary{}
	if err := r.db.SelectContext(ctx, "yearly_summary", &out, query, code, start, start.AddDate(1, 0, 0)); err != nil {
		return nil, fmt.Errorf("failed to summarize readings: %w", err)
	}
	return out, nil
}

// SaveAnalysis persists an analysis result
func (r *climateRepository) SaveAnalysis(ctx context.Context, rec *models.AnalysisRecord) error {
	query := `
		INSERT INTO analysis_results (id, analysis_type, parameters, result_data, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	params := string(rec.Parameters)
	if params == "" {
		params = "{}"
	}
	var metadata *string
	if len(rec.Metadata) > 0 {
		m := string(rec.Metadata)
		metadata = &m
	}

	_, err := r.db.ExecContext(ctx, "insert_analysis", query,
		rec.ID,
		rec.AnalysisType,
		params,
		string(rec.Result),
		metadata,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

const analysisColumns = `id, analysis_type, parameters, result_data, metadata, created_at`

// analysisRow scans JSON columns as text: postgres hands JSONB back as bytes
// and sqlite as strings
type analysisRow struct {
	ID           string         `db:"id"`
	AnalysisType string         `db:"analysis_type"`
	Parameters   string         `db:"parameters"`
	Result       string         `db:"result_data"`
	Metadata     sql.NullString `db:"metadata"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (a analysisRow) record() *models.AnalysisRecord {
	rec := &models.AnalysisRecord{
		ID:           a.ID,
		AnalysisType: a.AnalysisType,
		Parameters:   json.RawMessage(a.Parameters),
		Result:       json.RawMessage(a.Result),
		CreatedAt:    a.CreatedAt,
	}
	if a.Metadata.Valid {
		rec.Metadata = json.RawMessage(a.Metadata.String)
	}
	return rec
}

// GetAnalysis retrieves a stored analysis result by id
func (r *climateRepository) GetAnalysis(ctx context.Context, id string) (*models.AnalysisRecord, error) {
	var row analysisRow
	err := r.db.GetContext(ctx, "get_analysis", &row, `SELECT `+analysisColumns+` FROM analysis_results WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Resource: "analysis", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return row.record(), nil
}

// ListAnalyses returns the latest results, optionally of one type
func (r *climateRepository) ListAnalyses(ctx context.Context, analysisType string, limit int) ([]*models.AnalysisRecord, error) {
	query := `SELECT ` + analysisColumns + ` FROM analysis_results`
	args := []interface{}{}
	if analysisType != "" {
		query += ` WHERE analysis_type = ?`
		args = append(args, analysisType)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows := []analysisRow{}
	if err := r.db.SelectContext(ctx, "list_analyses", &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	out := make([]*models.AnalysisRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].record()
	}
	return out, nil
}

// StartProcess records the start of a processing run
func (r *climateRepository) StartProcess(ctx context.Context, processType string) (*models.ProcessingLog, error) {
	log := &models.ProcessingLog{
		ProcessType: processType,
		Status:      models.StatusInProgress,
		StartTime:   time.Now().UTC(),
	}
	query := `
		INSERT INTO processing_logs (process_type, status, records_processed, start_time)
		VALUES (?, ?, 0, ?)
		RETURNING id
	`
	if err := r.db.GetContext(ctx, "insert_process", &log.ID, query, log.ProcessType, log.Status, log.StartTime); err != nil {
		return nil, fmt.Errorf("failed to start process log: %w", err)
	}
	return log, nil
}

// FinishProcess closes a processing run as success, or as error when procErr
// is set
func (r *climateRepository) FinishProcess(ctx context.Context, log *models.ProcessingLog, records int, procErr error) error {
	end := time.Now().UTC()
	log.EndTime = &end
	log.RecordsProcessed = records
	log.Status = models.StatusSuccess
	log.ErrorMessage = nil
	if procErr != nil {
		msg := procErr.Error()
		log.Status = models.StatusError
		log.ErrorMessage = &msg
	}

	query := `
		UPDATE processing_logs
		SET status = ?, records_processed = ?, error_message = ?, end_time = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, "finish_process", query, log.Status, log.RecordsProcessed, log.ErrorMessage, end, log.ID)
	if err != nil {
		return fmt.Errorf("failed to finish process log: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &models.NotFoundError{Resource: "processing log", ID: fmt.Sprint(log.ID)}
	}
	return nil
}

// ListProcesses returns the most recent processing runs
func (r *climateRepository) ListProcesses(ctx context.Context, limit int) ([]*models.ProcessingLog, error) {
	query := `
		SELECT id, process_type, status, records_processed, error_message, start_time, end_time
		FROM processing_logs
		ORDER BY start_time DESC, id DESC
		LIMIT ?
	`
	out := []*models.ProcessingLog{}
	if err := r.db.SelectContext(ctx, "list_processes", &out, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list process logs: %w", err)
	}
	return out, nil
}

// HealthCheck performs a repository health check
func (r *climateRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
