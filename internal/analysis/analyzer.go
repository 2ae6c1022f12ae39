// Package analysis implements the statistical analyzer: descriptive
// statistics, normality tests, correlations, trends, outliers and station
// comparison. Every result carries a Marker so a statistic that cannot be
// computed degrades to an explicit status instead of failing the analysis.
package analysis

import (
	"climate-analytics/internal/dataset"
	"climate-analytics/internal/outliers"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

// Status values of a Marker
const (
	StatusOK                    = "ok"
	StatusInsufficientData      = "insufficient_data"
	StatusInsufficientVariables = "insufficient_variables"
	StatusSingleStation         = "single_station"
	StatusUnavailable           = "unavailable"
)

const significanceLevel = 0.05

// Marker tells whether a statistic was computed and why not
type Marker struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// OK reports whether the statistic was computed
func (m Marker) OK() bool { return m.Status == StatusOK }

func computed() Marker { return Marker{Status: StatusOK} }

func insufficient(reason string) Marker {
	return Marker{Status: StatusInsufficientData, Reason: reason}
}

func unavailable(reason string) Marker {
	return Marker{Status: StatusUnavailable, Reason: reason}
}

// Analyzer runs statistical analyses over cleaned tables
type Analyzer struct {
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
	detector outliers.Options
}

// NewAnalyzer creates an analyzer. opts configure outlier detection.
func NewAnalyzer(logger *logging.StructuredLogger, metricsCollector *metrics.Collector, opts outliers.Options) *Analyzer {
	return &Analyzer{
		logger:   logger,
		metrics:  metricsCollector,
		detector: opts,
	}
}

// variablesOrNumeric returns the requested variables that exist as float
// columns, or every float column when none are requested.
func variablesOrNumeric(t *dataset.Table, variables []string) []string {
	if len(variables) == 0 {
		return t.NumericNames()
	}
	var out []string
	for _, v := range variables {
		if _, ok := t.FloatColumn(v); ok {
			out = append(out, v)
		}
	}
	return out
}
