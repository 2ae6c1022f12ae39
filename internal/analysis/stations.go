package analysis

import (
	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
	"climate-analytics/internal/numeric"
)

// StationStats summarizes one station's values of the compared variable
type StationStats struct {
	Station string   `json:"station"`
	Count   int      `json:"count"`
	Mean    *float64 `json:"mean"`
	Std     *float64 `json:"std"`
	Min     *float64 `json:"min"`
	Max     *float64 `json:"max"`
	Median  *float64 `json:"median"`
}

// ANOVA is a one-way analysis of variance across station groups
type ANOVA struct {
	Marker
	FStatistic            float64 `json:"f_statistic,omitempty"`
	PValue                float64 `json:"p_value,omitempty"`
	SignificantDifference bool    `json:"significant_difference"`
	Groups                int     `json:"groups"`
}

// StationComparison holds per-station statistics and the ANOVA result
type StationComparison struct {
	Variable      string         `json:"variable"`
	TotalStations int            `json:"total_stations"`
	Stations      []StationStats `json:"station_statistics"`
	ANOVA         ANOVA          `json:"anova_test"`
}

// CompareStations compares variable across stations. Both the variable and
// the station column are required; everything else degrades to markers.
func (a *Analyzer) CompareStations(t *dataset.Table, variable string) (StationComparison, error) {
	res := StationComparison{Variable: variable}
	col, ok := t.Column(variable)
	if !ok || !t.Has(models.ColStation) {
		return res, models.NewInputError("compare stations", "columns '%s' and '%s' are required", models.ColStation, variable)
	}
	values, _ := col.AsFloat()
	keys, groups, err := t.GroupBy(models.ColStation)
	if err != nil {
		return res, err
	}
	res.TotalStations = len(keys)

	var samples [][]float64
	for _, key := range keys {
		var vals []float64
		for _, row := range groups[key] {
			if v, ok := values.Float(row); ok {
				vals = append(vals, v)
			}
		}
		res.Stations = append(res.Stations, stationStats(key, vals))
		if len(vals) > 1 {
			samples = append(samples, vals)
		}
	}

	switch {
	case len(keys) <= 1:
		res.ANOVA = ANOVA{Marker: Marker{Status: StatusSingleStation, Reason: "only one station available"}}
	case len(samples) < 2:
		res.ANOVA = ANOVA{Marker: insufficient("fewer than 2 stations have more than one observation")}
	default:
		res.ANOVA = OneWayANOVA(samples)
	}
	return res, nil
}

func stationStats(station string, vals []float64) StationStats {
	s := StationStats{Station: station, Count: len(vals)}
	if len(vals) == 0 {
		return s
	}
	lo, hi := numeric.MinMax(vals)
	s.Mean = numeric.Finite(stat.Mean(vals, nil))
	s.Min, s.Max = numeric.Finite(lo), numeric.Finite(hi)
	s.Std = numeric.Finite(numeric.StdDev(vals))
	if m, err := stats.Median(vals); err == nil {
		s.Median = numeric.Finite(m)
	}
	return s
}

// OneWayANOVA tests whether the group means differ. Groups must be non-empty.
func OneWayANOVA(groups [][]float64) ANOVA {
	k := len(groups)
	if k < 2 {
		return ANOVA{Marker: insufficient("at least 2 groups are required"), Groups: k}
	}
	var all []float64
	for _, g := range groups {
		all = append(all, g...)
	}
	n := len(all)
	if n <= k {
		return ANOVA{Marker: insufficient("not enough observations for the within-group variance"), Groups: k}
	}
	grand := stat.Mean(all, nil)

	ssb, ssw := 0.0, 0.0
	for _, g := range groups {
		m := stat.Mean(g, nil)
		ssb += float64(len(g)) * (m - grand) * (m - grand)
		for _, v := range g {
			ssw += (v - m) * (v - m)
		}
	}
	if ssw == 0 {
		return ANOVA{Marker: unavailable("zero within-group variance"), Groups: k}
	}
	dfb, dfw := float64(k-1), float64(n-k)
	f := (ssb / dfb) / (ssw / dfw)
	p := distuv.F{D1: dfb, D2: dfw}.Survival(f)
	return ANOVA{
		Marker:                computed(),
		FStatistic:            f,
		PValue:                p,
		SignificantDifference: p < significanceLevel,
		Groups:                k,
	}
}
