package cleaning

import (
	"context"
	"strings"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
	"climate-analytics/internal/outliers"
	"climate-analytics/pkg/logging"
)

const (
	anomalySuffix = "_anomaly"
	scoreSuffix   = "_score"
)

// TagAnomalies returns a copy of t where every float column with more than
// ten observations gets a companion <col>_anomaly column (1 flagged, 0 not)
// and a <col>_score column with the detector's score. Missing cells are never
// flagged. An unknown method is an input error.
func (c *Cleaner) TagAnomalies(ctx context.Context, t *dataset.Table, method string) (*dataset.Table, error) {
	det, fallback, err := outliers.New(method, c.detector)
	if err != nil {
		return nil, err
	}
	if fallback {
		c.metrics.OutlierFallbacksTotal.Inc()
		c.logger.Warn(ctx, "[ANOMALY_FALLBACK] Isolation forest disabled, using IQR", logging.Fields{
			"requested_method": method,
		})
	}

	out := t.Clone()
	tagged := 0
	for _, name := range dataset.Describe(t).Numeric {
		if strings.HasSuffix(name, anomalySuffix) || strings.HasSuffix(name, scoreSuffix) {
			continue
		}
		col, _ := t.FloatColumn(name)
		values, rows := col.FloatsWithIndex()
		if len(values) <= minOutlierValues {
			continue
		}
		d := det.Detect(values)

		flags := dataset.EmptyFloatColumn(name+anomalySuffix, t.Len())
		scores := dataset.EmptyFloatColumn(name+scoreSuffix, t.Len())
		for i := 0; i < t.Len(); i++ {
			flags.SetFloat(i, 0)
		}
		for j, row := range rows {
			if d.Flags[j] {
				flags.SetFloat(row, 1)
			}
			scores.SetFloat(row, d.Scores[j])
		}
		if err := out.Set(flags); err != nil {
			return nil, err
		}
		if err := out.Set(scores); err != nil {
			return nil, err
		}
		tagged++
	}

	c.logger.Info(ctx, "[ANOMALY_TAGGED] Anomaly columns added", logging.Fields{
		"method":  det.Name(),
		"columns": tagged,
	})
	return out, nil
}

// ProcessStation cleans the rows of a single station
func (c *Cleaner) ProcessStation(ctx context.Context, t *dataset.Table, code string) (*dataset.Table, Summary, error) {
	stations, ok := t.Column(models.ColStation)
	if !ok {
		return nil, Summary{}, models.NewInputError("process station", "column '%s' not found", models.ColStation)
	}
	sub := t.Filter(func(i int) bool { return stations.String(i) == code })
	if sub.Len() == 0 {
		return nil, Summary{}, models.NewInputError("process station", "no records for station %q", code)
	}
	return c.Clean(ctx, sub)
}

// SaveCSV writes a cleaned table to path
func (c *Cleaner) SaveCSV(ctx context.Context, t *dataset.Table, path string) error {
	if err := t.SaveCSV(path); err != nil {
		c.logger.Error(ctx, "[CLEAN_SAVE_ERROR] Failed to save processed data", logging.Fields{"path": path}, err)
		return err
	}
	c.logger.Info(ctx, "[CLEAN_SAVED] Processed data saved", logging.Fields{
		"path":    path,
		"records": t.Len(),
	})
	return nil
}
