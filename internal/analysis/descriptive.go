package analysis

import (
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/numeric"
)

// Descriptive holds summary statistics of one column. Skewness and kurtosis
// are the bias-corrected sample estimates; kurtosis is excess kurtosis.
type Descriptive struct {
	Marker
	Count             int      `json:"count"`
	Mean              *float64 `json:"mean"`
	Std               *float64 `json:"std"`
	Min               *float64 `json:"min"`
	Max               *float64 `json:"max"`
	Median            *float64 `json:"median"`
	Q25               *float64 `json:"q25"`
	Q75               *float64 `json:"q75"`
	Skewness          *float64 `json:"skewness"`
	Kurtosis          *float64 `json:"kurtosis"`
	MissingCount      int      `json:"missing_count"`
	MissingPercentage float64  `json:"missing_percentage"`
}

// Descriptive computes descriptive statistics for each variable, or for
// every float column when variables is empty.
func (a *Analyzer) Descriptive(t *dataset.Table, variables []string) map[string]Descriptive {
	out := make(map[string]Descriptive)
	for _, name := range variablesOrNumeric(t, variables) {
		col, _ := t.FloatColumn(name)
		out[name] = describe(col, t.Len())
	}
	return out
}

func describe(col *dataset.Column, rows int) Descriptive {
	values := col.Floats()
	d := Descriptive{Count: len(values), MissingCount: col.MissingCount()}
	if rows > 0 {
		d.MissingPercentage = float64(d.MissingCount) / float64(rows) * 100
	}
	if len(values) == 0 {
		d.Marker = insufficient("no observations")
		return d
	}
	d.Marker = computed()

	sorted := numeric.Sorted(values)
	d.Mean = numeric.Finite(stat.Mean(values, nil))
	d.Min = numeric.Finite(sorted[0])
	d.Max = numeric.Finite(sorted[len(sorted)-1])
	if median, err := stats.Median(values); err == nil {
		d.Median = numeric.Finite(median)
	}
	d.Q25 = numeric.Finite(numeric.Quantile(sorted, 0.25))
	d.Q75 = numeric.Finite(numeric.Quantile(sorted, 0.75))
	if len(values) > 1 {
		d.Std = numeric.Finite(stat.StdDev(values, nil))
	}
	if len(values) > 2 {
		d.Skewness = numeric.Finite(stat.Skew(values, nil))
	}
	if len(values) > 3 {
		d.Kurtosis = numeric.Finite(stat.ExKurtosis(values, nil))
	}
	return d
}
