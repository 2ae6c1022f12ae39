package analysis

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/numeric"
)

// TestResult is the outcome of one hypothesis test. All three fields are nil
// when the test could not be computed.
type TestResult struct {
	Statistic *float64 `json:"statistic"`
	PValue    *float64 `json:"p_value"`
	IsNormal  *bool    `json:"is_normal"`
}

func testResult(statistic, p float64, err error) TestResult {
	if err != nil || math.IsNaN(statistic) || math.IsNaN(p) {
		return TestResult{}
	}
	normal := p > significanceLevel
	return TestResult{Statistic: &statistic, PValue: &p, IsNormal: &normal}
}

// Normality holds both normality tests for one column
type Normality struct {
	Marker
	ShapiroWilk       TestResult `json:"shapiro_wilk"`
	KolmogorovSmirnov TestResult `json:"kolmogorov_smirnov"`
}

// Normality runs Shapiro-Wilk and Kolmogorov-Smirnov per variable.
// Columns with three or fewer observations are marked insufficient.
func (a *Analyzer) Normality(t *dataset.Table, variables []string) map[string]Normality {
	out := make(map[string]Normality)
	for _, name := range variablesOrNumeric(t, variables) {
		col, _ := t.FloatColumn(name)
		values := col.Floats()
		if len(values) <= 3 {
			out[name] = Normality{Marker: insufficient("normality tests need more than 3 observations")}
			continue
		}
		w, pw, err := ShapiroWilk(values)
		d, pd, errKS := KolmogorovSmirnov(values)
		out[name] = Normality{
			Marker:            computed(),
			ShapiroWilk:       testResult(w, pw, err),
			KolmogorovSmirnov: testResult(d, pd, errKS),
		}
	}
	return out
}

var (
	errTooFewValues = errors.New("too few values")
	errZeroRange    = errors.New("all values are identical")
	standardNormal  = distuv.UnitNormal
)

// poly evaluates c[0] + c[1]*x + c[2]*x^2 + ...
func poly(c []float64, x float64) float64 {
	r := 0.0
	for i := len(c) - 1; i >= 0; i-- {
		r = r*x + c[i]
	}
	return r
}

// ShapiroWilk computes the W statistic and its p-value with Royston's
// approximation (algorithm AS R94), valid for 3 <= n <= 5000.
func ShapiroWilk(values []float64) (w, p float64, err error) {
	n := len(values)
	if n < 3 {
		return 0, 0, errTooFewValues
	}
	x := numeric.Sorted(values)
	if x[n-1]-x[0] < 1e-19 {
		return 0, 0, errZeroRange
	}

	nn2 := n / 2
	a := make([]float64, nn2)
	an := float64(n)
	if n == 3 {
		a[0] = math.Sqrt(0.5)
	} else {
		c1 := []float64{0, 0.221157, -0.147981, -2.07119, 4.434685, -2.706056}
		c2 := []float64{0, 0.042981, -0.293762, -1.752461, 5.682633, -3.582633}

		m := make([]float64, nn2)
		summ2 := 0.0
		for i := range m {
			m[i] = standardNormal.Quantile((float64(i+1) - 0.375) / (an + 0.25))
			summ2 += m[i] * m[i]
		}
		summ2 *= 2
		ssumm2 := math.Sqrt(summ2)
		rsn := 1 / math.Sqrt(an)
		a1 := poly(c1, rsn) - m[0]/ssumm2

		first := 1
		var fac float64
		if n > 5 {
			first = 2
			a2 := -m[1]/ssumm2 + poly(c2, rsn)
			fac = math.Sqrt((summ2 - 2*m[0]*m[0] - 2*m[1]*m[1]) / (1 - 2*a1*a1 - 2*a2*a2))
			a[1] = a2
		} else {
			fac = math.Sqrt((summ2 - 2*m[0]*m[0]) / (1 - 2*a1*a1))
		}
		a[0] = a1
		for i := first; i < nn2; i++ {
			a[i] = -m[i] / fac
		}
	}

	mean := stat.Mean(x, nil)
	ssq := 0.0
	for _, v := range x {
		ssq += (v - mean) * (v - mean)
	}
	num := 0.0
	for i := 0; i < nn2; i++ {
		num += a[i] * (x[n-1-i] - x[i])
	}
	w = num * num / ssq
	if w > 1 {
		w = 1
	}

	if n == 3 {
		p = 6 / math.Pi * (math.Asin(math.Sqrt(w)) - math.Pi/3)
		return w, math.Max(p, 0), nil
	}
	w1 := 1 - w
	if w1 <= 0 {
		return w, 1, nil
	}
	y := math.Log(w1)
	var mu, sigma float64
	if n <= 11 {
		gamma := poly([]float64{-2.273, 0.459}, an)
		if y >= gamma {
			return w, 1e-99, nil
		}
		y = -math.Log(gamma - y)
		mu = poly([]float64{0.544, -0.39978, 0.025054, -6.714e-4}, an)
		sigma = math.Exp(poly([]float64{1.3822, -0.77857, 0.062767, -0.0020322}, an))
	} else {
		lx := math.Log(an)
		mu = poly([]float64{-1.5861, -0.31082, -0.083751, 0.0038915}, lx)
		sigma = math.Exp(poly([]float64{-0.4803, -0.082676, 0.0030302}, lx))
	}
	p = distuv.Normal{Mu: mu, Sigma: sigma}.Survival(y)
	return w, p, nil
}

// KolmogorovSmirnov tests values against a normal distribution with the
// sample mean and standard deviation. The p-value uses the asymptotic
// Kolmogorov distribution with Stephens' small sample correction.
func KolmogorovSmirnov(values []float64) (d, p float64, err error) {
	n := len(values)
	if n < 2 {
		return 0, 0, errTooFewValues
	}
	mean, std := stat.MeanStdDev(values, nil)
	if std == 0 {
		return 0, 0, errZeroRange
	}
	ref := distuv.Normal{Mu: mean, Sigma: std}
	x := numeric.Sorted(values)
	fn := float64(n)
	for i, v := range x {
		cdf := ref.CDF(v)
		d = math.Max(d, math.Max(float64(i+1)/fn-cdf, cdf-float64(i)/fn))
	}
	sq := math.Sqrt(fn)
	return d, kolmogorovSurvival((sq + 0.12 + 0.11/sq) * d), nil
}

// kolmogorovSurvival is P(K > lambda) for the Kolmogorov distribution
func kolmogorovSurvival(lambda float64) float64 {
	if lambda < 1e-3 {
		return 1
	}
	sum := 0.0
	sign := 1.0
	for k := 1; k <= 100; k++ {
		term := sign * math.Exp(-2*float64(k*k)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-12 {
			break
		}
		sign = -sign
	}
	return math.Min(1, math.Max(0, 2*sum))
}
