package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"climate-analytics/internal/artifacts"
	"climate-analytics/internal/dataset"
	"climate-analytics/internal/extraction"
	"climate-analytics/internal/models"
	"climate-analytics/internal/services"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

const (
	apiPrefix    = "/api/v1"
	dateLayout   = "2006-01-02"
	defaultLimit = 50
	maxLimit     = 1000
)

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ClimateHandler handles the climate analysis API endpoints
type ClimateHandler struct {
	analysis   *services.AnalysisService
	extraction *services.ExtractionService
	store      *artifacts.Store
	health     HealthChecker
	maxUpload  int64
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewClimateHandler creates a new climate handler. health may be nil when no
// database is configured.
func NewClimateHandler(
	analysisService *services.AnalysisService,
	extractionService *services.ExtractionService,
	store *artifacts.Store,
	health HealthChecker,
	maxUploadBytes int64,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *ClimateHandler {
	return &ClimateHandler{
		analysis:   analysisService,
		extraction: extractionService,
		store:      store,
		health:     health,
		maxUpload:  maxUploadBytes,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// RegisterRoutes registers all API routes
func (h *ClimateHandler) RegisterRoutes(router *mux.Router) {
	router.Use(h.instrument)

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")

	api := router.PathPrefix(apiPrefix).Subrouter()
	api.HandleFunc("/validate", h.Validate).Methods("POST")
	api.HandleFunc("/process", h.Process).Methods("POST")
	api.HandleFunc("/analyze", h.Analyze).Methods("POST")
	api.HandleFunc("/trend", h.Trend).Methods("POST")
	api.HandleFunc("/spatial", h.Spatial).Methods("POST")
	api.HandleFunc("/extract", h.Extract).Methods("POST")
	api.HandleFunc("/stations", h.ListStations).Methods("GET")
	api.HandleFunc("/stations/{code}", h.GetStation).Methods("GET")
	api.HandleFunc("/stations/{code}/report", h.StationReport).Methods("POST")
	api.HandleFunc("/analyses", h.ListAnalyses).Methods("GET")
	api.HandleFunc("/analyses/{id}", h.GetAnalysis).Methods("GET")
	api.HandleFunc("/download/{type}/{filename}", h.Download).Methods("GET")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument tags every request with an id and records its duration and
// status per route template
func (h *ClimateHandler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := logging.WithRequestID(r.Context(), requestID)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		duration := time.Since(start)

		h.metrics.APIRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
		h.metrics.RecordAPIRequest(route, r.Method, strconv.Itoa(rec.status))
		h.logger.Debug(ctx, "[API_REQUEST] Request served", logging.Fields{
			"method":      r.Method,
			"route":       route,
			"status":      rec.status,
			"duration_ms": duration.Milliseconds(),
		})
	})
}

// HealthCheck handles GET /health
func (h *ClimateHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"database":  "disabled",
	}
	code := http.StatusOK
	if h.health != nil {
		status["database"] = "ok"
		if err := h.health.HealthCheck(r.Context()); err != nil {
			h.logger.Warn(r.Context(), "[HEALTH_CHECK_FAILED] Database unreachable", logging.Fields{"error": err.Error()})
			status["status"] = "degraded"
			status["database"] = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}
	h.sendJSON(w, status, code)
}

// Validate handles POST /api/v1/validate
func (h *ClimateHandler) Validate(w http.ResponseWriter, r *http.Request) {
	t, ok := h.readTable(w, r)
	if !ok {
		return
	}
	res, report := h.analysis.Validate(r.Context(), t)
	h.sendJSON(w, map[string]interface{}{
		"success":            res.IsValid,
		"validation_results": res,
		"report":             report,
		"data_count":         t.Len(),
		"quality_score":      res.QualityScore,
	}, http.StatusOK)
}

// Process handles POST /api/v1/process
func (h *ClimateHandler) Process(w http.ResponseWriter, r *http.Request) {
	t, ok := h.readTable(w, r)
	if !ok {
		return
	}
	res, err := h.analysis.Process(r.Context(), t)
	if err != nil {
		h.sendServiceError(w, r, "[API_PROCESS_ERROR] Processing failed", err)
		return
	}
	h.sendJSON(w, res, http.StatusOK)
}

// Analyze handles POST /api/v1/analyze. charts=false skips figures.
func (h *ClimateHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	t, ok := h.readTable(w, r)
	if !ok {
		return
	}
	charts := true
	if v := r.URL.Query().Get("charts"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.sendError(w, "invalid charts flag, expected true or false", http.StatusBadRequest)
			return
		}
		charts = b
	}
	res, err := h.analysis.Analyze(r.Context(), t, services.AnalyzeOptions{Charts: charts})
	if err != nil {
		h.sendServiceError(w, r, "[API_ANALYZE_ERROR] Analysis failed", err)
		return
	}
	h.sendJSON(w, map[string]interface{}{
		"success":          true,
		"message":          "analysis completed",
		"analysis_results": res,
	}, http.StatusOK)
}

// Trend handles POST /api/v1/trend?variable=...
func (h *ClimateHandler) Trend(w http.ResponseWriter, r *http.Request) {
	variable := r.URL.Query().Get("variable")
	if variable == "" {
		h.sendError(w, "variable query parameter is required", http.StatusBadRequest)
		return
	}
	t, ok := h.readTable(w, r)
	if !ok {
		return
	}
	res, err := h.analysis.Trend(r.Context(), t, variable)
	if err != nil {
		h.sendServiceError(w, r, "[API_TREND_ERROR] Trend analysis failed", err)
		return
	}
	h.sendJSON(w, res, http.StatusOK)
}

// Spatial handles POST /api/v1/spatial?variable=...
func (h *ClimateHandler) Spatial(w http.ResponseWriter, r *http.Request) {
	t, ok := h.readTable(w, r)
	if !ok {
		return
	}
	res, err := h.analysis.Spatial(r.Context(), t, r.URL.Query().Get("variable"))
	if err != nil {
		h.sendServiceError(w, r, "[API_SPATIAL_ERROR] Spatial analysis failed", err)
		return
	}
	h.sendJSON(w, res, http.StatusOK)
}

// StationReport handles POST /api/v1/stations/{code}/report
func (h *ClimateHandler) StationReport(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	t, ok := h.readTable(w, r)
	if !ok {
		return
	}
	rep, err := h.analysis.StationReport(r.Context(), t, code)
	if err != nil {
		h.sendServiceError(w, r, "[API_STATION_REPORT_ERROR] Station report failed", err)
		return
	}
	h.sendJSON(w, map[string]interface{}{
		"station": rep,
		"report":  rep.Render(),
	}, http.StatusOK)
}

// ExtractRequest is the body of POST /api/v1/extract
type ExtractRequest struct {
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Department string `json:"department,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
}

// Extract handles POST /api/v1/extract
func (h *ClimateHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		h.sendError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	q := extraction.Query{Department: req.Department, BatchSize: req.BatchSize}
	var err error
	if q.Start, err = time.Parse(dateLayout, req.StartDate); err != nil {
		h.sendError(w, "invalid start_date format, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if q.End, err = time.Parse(dateLayout, req.EndDate); err != nil {
		h.sendError(w, "invalid end_date format, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	// inclusive end day
	q.End = q.End.Add(24*time.Hour - time.Second)

	res, err := h.extraction.Extract(r.Context(), q)
	if err != nil {
		h.sendServiceError(w, r, "[API_EXTRACT_ERROR] Extraction failed", err)
		return
	}
	h.sendJSON(w, res, http.StatusOK)
}

// ListStations handles GET /api/v1/stations
func (h *ClimateHandler) ListStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.extraction.Stations(r.Context(), r.URL.Query().Get("department"))
	if err != nil {
		h.sendServiceError(w, r, "[API_STATIONS_ERROR] Failed to list stations", err)
		return
	}
	h.sendJSON(w, stations, http.StatusOK)
}

// GetStation handles GET /api/v1/stations/{code}
func (h *ClimateHandler) GetStation(w http.ResponseWriter, r *http.Request) {
	st, err := h.extraction.Station(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		h.sendServiceError(w, r, "[API_STATION_ERROR] Failed to get station", err)
		return
	}
	h.sendJSON(w, st, http.StatusOK)
}

// ListAnalyses handles GET /api/v1/analyses?type=&limit=
func (h *ClimateHandler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= maxLimit {
			limit = l
		}
	}
	list, err := h.analysis.Results(r.Context(), r.URL.Query().Get("type"), limit)
	if err != nil {
		h.sendServiceError(w, r, "[API_ANALYSES_ERROR] Failed to list analyses", err)
		return
	}
	h.sendJSON(w, list, http.StatusOK)
}

// GetAnalysis handles GET /api/v1/analyses/{id}
func (h *ClimateHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	rec, err := h.analysis.Result(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.sendServiceError(w, r, "[API_ANALYSIS_ERROR] Failed to get analysis", err)
		return
	}
	h.sendJSON(w, rec, http.StatusOK)
}

// Download handles GET /api/v1/download/{type}/{filename}
func (h *ClimateHandler) Download(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	path, err := h.store.Resolve(vars["type"], vars["filename"])
	if err != nil {
		h.sendServiceError(w, r, "[API_DOWNLOAD_ERROR] Download failed", err)
		return
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": vars["filename"]}))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, path)
}

// readTable parses the uploaded CSV, taken from the multipart field "file"
// or from the raw body. It writes the error response itself.
func (h *ClimateHandler) readTable(w http.ResponseWriter, r *http.Request) (*dataset.Table, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	var src io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		file, _, err := r.FormFile("file")
		if err != nil {
			h.sendUploadError(w, err)
			return nil, false
		}
		defer file.Close()
		src = file
	}

	t, err := dataset.ReadCSV(src, dataset.DefaultOptions())
	if err != nil {
		h.sendUploadError(w, err)
		return nil, false
	}
	return t, true
}

func (h *ClimateHandler) sendUploadError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.sendError(w, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
		return
	}
	h.sendError(w, "invalid CSV upload: "+err.Error(), http.StatusBadRequest)
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	var apiErr *extraction.APIError
	switch {
	case models.IsInputError(err), errors.Is(err, models.ErrNoNumericData):
		return http.StatusBadRequest
	case models.IsNotFound(err):
		return http.StatusNotFound
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *ClimateHandler) sendServiceError(w http.ResponseWriter, r *http.Request, tag string, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error(r.Context(), tag, logging.Fields{"path": r.URL.Path}, err)
		h.metrics.RecordAPIError("internal_error", r.URL.Path)
		message = "internal error, request id " + logging.RequestID(r.Context())
	}
	h.sendError(w, message, code)
}

// sendJSON sends a JSON response
func (h *ClimateHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *ClimateHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
	h.sendJSON(w, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}, statusCode)
}
