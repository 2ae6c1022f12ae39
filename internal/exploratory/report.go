package exploratory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"climate-analytics/internal/analysis"
	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
	"climate-analytics/pkg/logging"
)

const rule = "============================================================"

func formatDate(t *time.Time) string {
	if t == nil {
		return "n/a"
	}
	return t.Format(time.DateOnly)
}

// RenderReport renders the human readable companion of r
func RenderReport(r *Results) string {
	var b strings.Builder
	b.WriteString("CLIMATE DATA EXPLORATORY ANALYSIS REPORT\n")
	b.WriteString(rule + "\n\n")

	b.WriteString("GENERAL SUMMARY:\n")
	fmt.Fprintf(&b, "- Total records: %d\n", r.Summary.TotalRecords)
	fmt.Fprintf(&b, "- Date range: %s to %s\n", formatDate(r.Summary.DateRange.Start), formatDate(r.Summary.DateRange.End))
	fmt.Fprintf(&b, "- Number of stations: %d\n", r.Summary.StationsCount)
	fmt.Fprintf(&b, "- Missing data: %.2f%%\n\n", r.Summary.MissingDataPercentage)

	b.WriteString("DATA QUALITY:\n")
	fmt.Fprintf(&b, "- Overall quality score: %.2f%%\n", r.Quality.OverallScore)
	fmt.Fprintf(&b, "- Completeness: %.2f%%\n", r.Quality.Completeness.Overall)
	fmt.Fprintf(&b, "- Consistency: %.2f%%\n", r.Quality.Consistency.Score)
	for _, issue := range r.Quality.Consistency.Issues {
		fmt.Fprintf(&b, "  ! %s\n", issue)
	}
	b.WriteString("\n")

	if len(r.Correlations.Strong) > 0 {
		b.WriteString("NOTABLE CORRELATIONS:\n")
		for _, p := range r.Correlations.Strong {
			fmt.Fprintf(&b, "- %s / %s: %.3f (%s)\n", p.Variable1, p.Variable2, p.Correlation, p.Strength)
		}
		b.WriteString("\n")
	}

	b.WriteString("RECOMMENDATIONS:\n")
	for i, rec := range r.Recommendations {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rec)
	}
	return b.String()
}

// StationInfo identifies the station a report covers
type StationInfo struct {
	Code         string    `json:"code"`
	TotalRecords int       `json:"total_records"`
	DateRange    DateRange `json:"date_range"`
}

// StationReport is the exploratory summary of a single station
type StationReport struct {
	Info       StationInfo                     `json:"station_info"`
	Statistics map[string]analysis.Descriptive `json:"statistics"`
	Temporal   TemporalAnalysis                `json:"temporal_analysis"`
	Quality    QualityReport                   `json:"data_quality"`
}

// StationReport builds the report of the rows of station code. A table
// without a station column is an input error; a station with no rows is
// not found.
func (s *Service) StationReport(ctx context.Context, t *dataset.Table, code string) (*StationReport, error) {
	col, ok := t.Column(models.ColStation)
	if !ok {
		return nil, models.NewInputError("station report", "column %q not found", models.ColStation)
	}
	rows := make([]int, 0)
	for i := 0; i < t.Len(); i++ {
		if !col.IsMissing(i) && col.String(i) == code {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		err := &models.NotFoundError{Resource: "station", ID: code}
		s.logger.Warn(ctx, "[STATION_NOT_FOUND] No data for station", logging.Fields{"station": code})
		return nil, fmt.Errorf("station report: %w", err)
	}

	sub := t.Take(rows)
	schema := dataset.Describe(sub)
	rep := &StationReport{
		Info: StationInfo{
			Code:         code,
			TotalRecords: sub.Len(),
			DateRange:    dateRange(sub),
		},
		Statistics: make(map[string]analysis.Descriptive),
		Temporal:   temporal(sub, schema),
		Quality:    quality(sub, schema),
	}
	for name, d := range s.analyzer.Descriptive(sub, nil) {
		if d.OK() {
			rep.Statistics[name] = d
		}
	}
	return rep, nil
}

// Render renders the station report as text
func (r *StationReport) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "STATION REPORT - %s\n", r.Info.Code)
	b.WriteString(rule + "\n\n")
	fmt.Fprintf(&b, "- Total records: %d\n", r.Info.TotalRecords)
	fmt.Fprintf(&b, "- Date range: %s to %s\n", formatDate(r.Info.DateRange.Start), formatDate(r.Info.DateRange.End))
	if r.Temporal.OK() {
		fmt.Fprintf(&b, "- Coverage: %d days over %d months\n", r.Temporal.Coverage.DateRangeDays, r.Temporal.Coverage.MonthsCovered)
	}
	b.WriteString("\nSTATISTICS:\n")

	names := make([]string, 0, len(r.Statistics))
	for name := range r.Statistics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := r.Statistics[name]
		fmt.Fprintf(&b, "- %s: n=%d mean=%s std=%s min=%s max=%s\n", name, d.Count,
			optional(d.Mean), optional(d.Std), optional(d.Min), optional(d.Max))
	}

	b.WriteString("\nDATA QUALITY:\n")
	fmt.Fprintf(&b, "- Overall quality score: %.2f%%\n", r.Quality.OverallScore)
	fmt.Fprintf(&b, "- Completeness: %.2f%%\n", r.Quality.Completeness.Overall)
	for _, issue := range r.Quality.Consistency.Issues {
		fmt.Fprintf(&b, "  ! %s\n", issue)
	}
	return b.String()
}

func optional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}
