package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Pipeline Metrics
	PipelineStageDuration *prometheus.HistogramVec
	RecordsProcessedTotal *prometheus.CounterVec
	ValidationsTotal      *prometheus.CounterVec
	QualityScore          prometheus.Histogram
	OutlierFallbacksTotal prometheus.Counter

	// Extraction Metrics
	ExtractionRecordsTotal prometheus.Counter
	ExtractionErrorsTotal  *prometheus.CounterVec
	ExtractionBatchSize    prometheus.Histogram

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec

	// Cache Metrics
	CacheRequestsTotal *prometheus.CounterVec
}

// NewCollector registers the collectors on the default registry
func NewCollector(namespace string) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace)
}

// NewCollectorWith registers the collectors on reg. Tests pass a fresh
// registry so collectors can be created more than once per process.
func NewCollectorWith(reg prometheus.Registerer, namespace string) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		PipelineStageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_duration_seconds",
				Help:      "Duration of analysis pipeline stages in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"stage"},
		),

		RecordsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_processed_total",
				Help:      "Rows processed by pipeline stage",
			},
			[]string{"stage"},
		),

		ValidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validations_total",
				Help:      "Dataset validations by outcome",
			},
			[]string{"outcome"},
		),

		QualityScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dataset_quality_score",
				Help:      "Quality score of validated datasets",
				Buckets:   []float64{10, 25, 50, 60, 70, 80, 90, 95, 100},
			},
		),

		OutlierFallbacksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outlier_detector_fallbacks_total",
				Help:      "Times the isolation forest detector fell back to IQR",
			},
		),

		ExtractionRecordsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extraction_records_total",
				Help:      "Total number of readings fetched from the open data API",
			},
		),

		ExtractionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extraction_errors_total",
				Help:      "Total number of extraction errors by type",
			},
			[]string{"error_type"},
		),

		ExtractionBatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extraction_batch_size",
				Help:      "Number of readings per fetched page",
				Buckets:   []float64{10, 100, 1000, 5000, 10000, 25000, 50000},
			},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),

		CacheRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analysis_cache_requests_total",
				Help:      "Analysis cache lookups by result",
			},
			[]string{"result"}, // "hit", "miss"
		),
	}
}

// NewTestCollector returns a collector bound to a private registry.
func NewTestCollector() *Collector {
	return NewCollectorWith(prometheus.NewRegistry(), "test")
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// StageTimer starts a timer for one pipeline stage
func (c *Collector) StageTimer(stage string) *Timer {
	return c.NewTimer(c.PipelineStageDuration.WithLabelValues(stage))
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordValidation records one validation outcome and its quality score
func (c *Collector) RecordValidation(valid bool, score float64) {
	outcome := "invalid"
	if valid {
		outcome = "valid"
	}
	c.ValidationsTotal.WithLabelValues(outcome).Inc()
	c.QualityScore.Observe(score)
}

// RecordRecords adds n processed rows for a stage
func (c *Collector) RecordRecords(stage string, n int) {
	c.RecordsProcessedTotal.WithLabelValues(stage).Add(float64(n))
}

// RecordExtractionError increments extraction error counter
func (c *Collector) RecordExtractionError(errorType string) {
	c.ExtractionErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordCache records an analysis cache lookup
func (c *Collector) RecordCache(hit bool) {
	if hit {
		c.CacheRequestsTotal.WithLabelValues("hit").Inc()
		return
	}
	c.CacheRequestsTotal.WithLabelValues("miss").Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
