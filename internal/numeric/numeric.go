// Package numeric holds the small numeric helpers shared by the cleaning,
// outlier and analysis packages.
package numeric

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Sorted returns an ascending copy of values
func Sorted(values []float64) []float64 {
	out := append([]float64(nil), values...)
	sort.Float64s(out)
	return out
}

// Quantile returns the q-th quantile of ascending data using linear
// interpolation between closest ranks (the default of most dataframe tools).
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}

// IQRBounds returns Q1 - k*IQR and Q3 + k*IQR
func IQRBounds(values []float64, k float64) (lower, upper, q1, q3 float64) {
	s := Sorted(values)
	q1 = Quantile(s, 0.25)
	q3 = Quantile(s, 0.75)
	iqr := q3 - q1
	return q1 - k*iqr, q3 + k*iqr, q1, q3
}

// Mean is the arithmetic mean; NaN for empty input
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return stat.Mean(values, nil)
}

// StdDev is the sample standard deviation (n-1); NaN below two values
func StdDev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	return stat.StdDev(values, nil)
}

// MinMax returns the extremes of values
func MinMax(values []float64) (lo, hi float64) {
	if len(values) == 0 {
		return math.NaN(), math.NaN()
	}
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Ranks assigns 1-based ranks with ties sharing their average rank
func Ranks(values []float64) []float64 {
	n := len(values)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[order[j+1]] == values[order[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[order[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

// Finite replaces NaN and ±Inf with nil so results marshal cleanly to JSON
func Finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Round rounds v to the given number of decimals
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
