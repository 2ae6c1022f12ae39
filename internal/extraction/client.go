// Package extraction fetches IDEAM observations from the datos.gov.co
// Socrata (SODA) API and reshapes them into analysis tables.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"climate-analytics/internal/models"
	"climate-analytics/internal/spatial"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

const (
	socrataTime      = "2006-01-02T15:04:05"
	stationScanLimit = 1000
)

// Options configure the API client
type Options struct {
	BaseURL    string
	DatasetID  string
	AppToken   string
	Department string
	BatchSize  int
	MaxRetries int
	Timeout    time.Duration
	// RetryDelay is the first backoff; it doubles on every retry
	RetryDelay time.Duration
}

// DefaultOptions point at the IDEAM dataset for Cundinamarca
func DefaultOptions() Options {
	return Options{
		BaseURL:    "https://www.datos.gov.co",
		DatasetID:  "sbwg-7ju4",
		Department: "CUNDINAMARCA",
		BatchSize:  50000,
		MaxRetries: 3,
		Timeout:    30 * time.Second,
		RetryDelay: 500 * time.Millisecond,
	}
}

// APIError is a non-2xx answer from the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("soda api error: status=%d message=%s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("soda api error: status=%d", e.StatusCode)
}

// IsTransient reports whether retrying the request may succeed
func (e *APIError) IsTransient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Query selects observations of a department within [Start, End]
type Query struct {
	Department string
	Start      time.Time
	End        time.Time
	// BatchSize overrides the client page size when positive
	BatchSize int
}

// Client talks to the SODA resource endpoint of one dataset
type Client struct {
	httpClient *http.Client
	opts       Options
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// NewClient creates an API client. Zero options take their defaults, except
// MaxRetries where zero disables retrying.
func NewClient(opts Options, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Client {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.DatasetID == "" {
		opts.DatasetID = def.DatasetID
	}
	if opts.Department == "" {
		opts.Department = def.Department
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = def.MaxRetries
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		logger:     logger,
		metrics:    metricsCollector,
	}
}

// Extract pages through every observation matching q. Paging stops at the
// first page shorter than the batch size.
func (c *Client) Extract(ctx context.Context, q Query) ([]models.RawObservation, error) {
	timer := c.metrics.StageTimer("extract")
	defer timer.ObserveDuration()

	if q.Department == "" {
		q.Department = c.opts.Department
	}
	if !q.End.IsZero() && q.End.Before(q.Start) {
		return nil, models.NewInputError("extract", "end date %s is before start date %s",
			q.End.Format(time.DateOnly), q.Start.Format(time.DateOnly))
	}
	batch := c.opts.BatchSize
	if q.BatchSize > 0 {
		batch = q.BatchSize
	}
	where := whereClause(q)

	c.logger.Info(ctx, "[EXTRACT_START] Starting extraction", logging.Fields{
		"dataset":    c.opts.DatasetID,
		"department": q.Department,
		"where":      where,
		"batch_size": batch,
	})

	var all []models.RawObservation
	for offset := 0; ; offset += batch {
		page, err := c.fetch(ctx, where, batch, offset)
		if err != nil {
			c.logger.Error(ctx, "[EXTRACT_ERROR] Extraction failed", logging.Fields{
				"offset":  offset,
				"fetched": len(all),
			}, err)
			return nil, err
		}
		all = append(all, page...)
		c.metrics.ExtractionRecordsTotal.Add(float64(len(page)))
		c.metrics.ExtractionBatchSize.Observe(float64(len(page)))

		c.logger.Debug(ctx, "[EXTRACT_PAGE] Page fetched", logging.Fields{
			"offset":  offset,
			"records": len(page),
		})
		if len(page) < batch {
			break
		}
	}

	c.logger.Info(ctx, "[EXTRACT_COMPLETE] Extraction completed", logging.Fields{
		"records": len(all),
	})
	return all, nil
}

// LastDays selects the observations of the days days before now
func LastDays(days int, now time.Time) Query {
	end := now.UTC()
	return Query{Start: end.AddDate(0, 0, -days), End: end}
}

// Stations lists the stations of a department, each taken from its first
// observation in a bounded scan. Coordinates that cannot be parsed leave the
// station without a location.
func (c *Client) Stations(ctx context.Context, department string) ([]models.Station, error) {
	if department == "" {
		department = c.opts.Department
	}
	rows, err := c.fetch(ctx, "departamento="+quote(department), stationScanLimit, 0)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []models.Station
	for i := range rows {
		code := strings.TrimSpace(rows[i].StationCode)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		st := rows[i].ToStation()
		if st.Latitude != 0 || st.Longitude != 0 {
			if wkt, err := spatial.PointWKT(st.Latitude, st.Longitude); err == nil {
				st.Location = wkt
			}
		}
		out = append(out, st)
	}
	c.logger.Info(ctx, "[EXTRACT_STATIONS] Stations discovered", logging.Fields{
		"department": department,
		"stations":   len(out),
	})
	return out, nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func whereClause(q Query) string {
	parts := []string{"departamento=" + quote(q.Department)}
	if !q.Start.IsZero() {
		parts = append(parts, "fechaobservacion >= "+quote(q.Start.Format(socrataTime)))
	}
	if !q.End.IsZero() {
		parts = append(parts, "fechaobservacion <= "+quote(q.End.Format(socrataTime)))
	}
	return strings.Join(parts, " AND ")
}

func (c *Client) endpoint(where string, limit, offset int) string {
	v := url.Values{}
	v.Set("$where", where)
	v.Set("$limit", strconv.Itoa(limit))
	v.Set("$offset", strconv.Itoa(offset))
	v.Set("$order", "fechaobservacion")
	return fmt.Sprintf("%s/resource/%s.json?%s", strings.TrimRight(c.opts.BaseURL, "/"), c.opts.DatasetID, v.Encode())
}

// fetch retrieves one page, retrying network failures, 429 and 5xx answers
// with exponential backoff.
func (c *Client) fetch(ctx context.Context, where string, limit, offset int) ([]models.RawObservation, error) {
	target := c.endpoint(where, limit, offset)
	backoff := c.opts.RetryDelay

	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn(ctx, "[EXTRACT_RETRY] Retrying request", logging.Fields{
				"attempt": attempt,
				"offset":  offset,
				"error":   lastErr.Error(),
			})
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		page, err := c.get(ctx, target)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, fmt.Errorf("fetch offset %d: %w", offset, lastErr)
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsTransient()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) get(ctx context.Context, target string) ([]models.RawObservation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.AppToken != "" {
		req.Header.Set("X-App-Token", c.opts.AppToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordExtractionError("network")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &payload) == nil {
			apiErr.Message = payload.Message
		}
		c.metrics.RecordExtractionError("http_" + strconv.Itoa(resp.StatusCode))
		return nil, apiErr
	}

	var page []models.RawObservation
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		c.metrics.RecordExtractionError("decode")
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return page, nil
}
