package analysis

import (
	"context"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/outliers"
	"climate-analytics/pkg/logging"
)

const minOutlierObservations = 10

// OutlierResult lists the flagged observations of one variable. Indices are
// table row positions.
type OutlierResult struct {
	Marker
	Method     string    `json:"method,omitempty"`
	Count      int       `json:"outliers_count"`
	Percentage float64   `json:"outliers_percentage"`
	Lower      *float64  `json:"lower_bound,omitempty"`
	Upper      *float64  `json:"upper_bound,omitempty"`
	Threshold  *float64  `json:"threshold,omitempty"`
	Indices    []int     `json:"outlier_indices"`
	Values     []float64 `json:"outlier_values"`
}

// Outliers runs the detector for method over each variable (every float
// column when empty). Variables with fewer than ten observations are marked
// insufficient. An unknown method is an input error.
func (a *Analyzer) Outliers(ctx context.Context, t *dataset.Table, variables []string, method string) (map[string]OutlierResult, error) {
	det, fallback, err := outliers.New(method, a.detector)
	if err != nil {
		return nil, err
	}
	if fallback {
		a.metrics.OutlierFallbacksTotal.Inc()
		a.logger.Warn(ctx, "[OUTLIER_FALLBACK] Isolation forest disabled, using IQR", logging.Fields{
			"requested_method": method,
		})
	}

	out := make(map[string]OutlierResult)
	for _, name := range variablesOrNumeric(t, variables) {
		col, _ := t.FloatColumn(name)
		values, rows := col.FloatsWithIndex()
		if len(values) < minOutlierObservations {
			out[name] = OutlierResult{Marker: insufficient("at least 10 observations are required")}
			continue
		}
		out[name] = outlierResult(det, values, rows)
	}
	return out, nil
}

func outlierResult(det outliers.Detector, values []float64, rows []int) OutlierResult {
	d := det.Detect(values)
	res := OutlierResult{
		Marker:  computed(),
		Method:  d.Method,
		Indices: []int{},
		Values:  []float64{},
	}
	switch v := det.(type) {
	case outliers.IQR:
		res.Lower, res.Upper = d.Lower, d.Upper
	case outliers.ZScore:
		th := v.Threshold
		res.Threshold = &th
	}
	for _, j := range d.Indices() {
		res.Indices = append(res.Indices, rows[j])
		res.Values = append(res.Values, values[j])
	}
	res.Count = len(res.Indices)
	res.Percentage = float64(res.Count) / float64(len(values)) * 100
	return res
}
