package cleaning

import (
	"climate-analytics/internal/dataset"
	"climate-analytics/internal/numeric"
)

// ColumnStats are the summary statistics of one column within a group
type ColumnStats struct {
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean"`
	Std    *float64 `json:"std"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Median *float64 `json:"median"`
	Q25    *float64 `json:"q25,omitempty"`
	Q75    *float64 `json:"q75,omitempty"`
}

// GroupStats holds column statistics for one group. Group is empty for
// whole-table statistics.
type GroupStats struct {
	Group   string                 `json:"group,omitempty"`
	Records int                    `json:"records"`
	Columns map[string]ColumnStats `json:"columns"`
}

// GroupStatistics computes statistics of every float column, per distinct
// value of groupBy, in first-seen group order. When groupBy is not a column
// a single whole-table group with quartiles is returned.
func GroupStatistics(t *dataset.Table, groupBy string) []GroupStats {
	keys, groups, err := t.GroupBy(groupBy)
	if err != nil {
		return []GroupStats{{Records: t.Len(), Columns: columnStats(t, true)}}
	}
	out := make([]GroupStats, 0, len(keys))
	for _, k := range keys {
		sub := t.Take(groups[k])
		out = append(out, GroupStats{Group: k, Records: sub.Len(), Columns: columnStats(sub, false)})
	}
	return out
}

func columnStats(t *dataset.Table, quartiles bool) map[string]ColumnStats {
	out := make(map[string]ColumnStats)
	for _, name := range t.NumericNames() {
		col, _ := t.FloatColumn(name)
		values := col.Floats()
		s := ColumnStats{Count: len(values)}
		if len(values) > 0 {
			sorted := numeric.Sorted(values)
			s.Mean = numeric.Finite(numeric.Mean(values))
			s.Std = numeric.Finite(numeric.StdDev(values))
			s.Min = numeric.Finite(sorted[0])
			s.Max = numeric.Finite(sorted[len(sorted)-1])
			s.Median = numeric.Finite(numeric.Quantile(sorted, 0.5))
			if quartiles {
				s.Q25 = numeric.Finite(numeric.Quantile(sorted, 0.25))
				s.Q75 = numeric.Finite(numeric.Quantile(sorted, 0.75))
			}
		}
		out[name] = s
	}
	return out
}
