// Package outliers provides interchangeable outlier detectors. The detector
// is chosen once from configuration; callers only see the Detector interface.
package outliers

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"climate-analytics/internal/models"
	"climate-analytics/internal/numeric"
)

// Method names accepted by New
const (
	MethodIQR             = "iqr"
	MethodZScore          = "zscore"
	MethodIsolationForest = "isolation_forest"
)

// Detection is the outcome of running a detector over a series. Flags and
// Scores are aligned with the input values.
type Detection struct {
	Method string
	Flags  []bool
	// Scores hold the z-score, the distance outside the IQR fences or the
	// isolation anomaly score, depending on the method.
	Scores []float64
	// Lower and Upper are the acceptance bounds when the method has them
	Lower *float64
	Upper *float64
}

// Count returns the number of flagged values
func (d Detection) Count() int {
	n := 0
	for _, f := range d.Flags {
		if f {
			n++
		}
	}
	return n
}

// Indices returns the positions of flagged values
func (d Detection) Indices() []int {
	idx := make([]int, 0, d.Count())
	for i, f := range d.Flags {
		if f {
			idx = append(idx, i)
		}
	}
	return idx
}

// Detector flags outlying values of a series
type Detector interface {
	Name() string
	Detect(values []float64) Detection
}

// Options configure the detectors
type Options struct {
	IQRMultiplier float64
	ZThreshold    float64
	ForestEnabled bool
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64
}

// DefaultOptions match the thresholds used across the pipeline
func DefaultOptions() Options {
	return Options{
		IQRMultiplier: 1.5,
		ZThreshold:    3,
		ForestEnabled: true,
		Trees:         100,
		SampleSize:    256,
		Contamination: 0.1,
		Seed:          42,
	}
}

// New returns the detector for method. fallback is true when the isolation
// forest was requested but is disabled, in which case the IQR detector is
// returned instead; callers log that as a warning.
func New(method string, opt Options) (d Detector, fallback bool, err error) {
	def := DefaultOptions()
	if opt.IQRMultiplier <= 0 {
		opt.IQRMultiplier = def.IQRMultiplier
	}
	if opt.ZThreshold <= 0 {
		opt.ZThreshold = def.ZThreshold
	}

	switch method {
	case MethodIQR, "":
		return IQR{Multiplier: opt.IQRMultiplier}, false, nil
	case MethodZScore:
		return ZScore{Threshold: opt.ZThreshold}, false, nil
	case MethodIsolationForest:
		if !opt.ForestEnabled {
			return IQR{Multiplier: opt.IQRMultiplier}, true, nil
		}
		return NewIsolationForest(opt), false, nil
	default:
		return nil, false, models.NewInputError("outliers", "unknown method %q (use iqr, zscore or isolation_forest)", method)
	}
}

// IQR flags values beyond Q1 - k*IQR or Q3 + k*IQR
type IQR struct {
	Multiplier float64
}

func (IQR) Name() string { return MethodIQR }

func (d IQR) Detect(values []float64) Detection {
	out := Detection{Method: MethodIQR, Flags: make([]bool, len(values)), Scores: make([]float64, len(values))}
	if len(values) == 0 {
		return out
	}
	k := d.Multiplier
	if k <= 0 {
		k = 1.5
	}
	lower, upper, _, _ := numeric.IQRBounds(values, k)
	out.Lower, out.Upper = &lower, &upper
	for i, v := range values {
		switch {
		case v < lower:
			out.Flags[i] = true
			out.Scores[i] = lower - v
		case v > upper:
			out.Flags[i] = true
			out.Scores[i] = v - upper
		}
	}
	return out
}

// ZScore flags values whose standard score exceeds Threshold in absolute
// value, using the sample standard deviation.
type ZScore struct {
	Threshold float64
}

func (ZScore) Name() string { return MethodZScore }

func (d ZScore) Detect(values []float64) Detection {
	out := Detection{Method: MethodZScore, Flags: make([]bool, len(values)), Scores: make([]float64, len(values))}
	if len(values) < 2 {
		return out
	}
	th := d.Threshold
	if th <= 0 {
		th = 3
	}
	mean, std := stat.MeanStdDev(values, nil)
	lower, upper := mean-th*std, mean+th*std
	out.Lower, out.Upper = &lower, &upper
	if std == 0 {
		return out
	}
	for i, v := range values {
		z := (v - mean) / std
		out.Scores[i] = z
		out.Flags[i] = math.Abs(z) > th
	}
	return out
}
