package analysis

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"climate-analytics/internal/dataset"
	"climate-analytics/internal/models"
	"climate-analytics/internal/numeric"
)

// Correlation methods
const (
	Pearson  = "pearson"
	Spearman = "spearman"
	Kendall  = "kendall"
)

// minPairsForPValue is the joint observation count above which a pair gets a p-value
const minPairsForPValue = 3

// Correlation is a correlation matrix over a set of variables. Matrix
// entries and p-values are nil when they cannot be computed (constant
// series, too few joint observations).
type Correlation struct {
	Marker
	Method    string                         `json:"method"`
	Variables []string                       `json:"variables"`
	Matrix    map[string]map[string]*float64 `json:"correlation_matrix,omitempty"`
	// PValues are keyed "<var1>_<var2>" for the upper triangle
	PValues map[string]*float64 `json:"p_values,omitempty"`
}

// Pair is one off-diagonal matrix entry
type Pair struct {
	Var1        string  `json:"var1"`
	Var2        string  `json:"var2"`
	Correlation float64 `json:"correlation"`
}

// Pairs returns the computed upper-triangle entries in variable order
func (c Correlation) Pairs() []Pair {
	var out []Pair
	for i, v1 := range c.Variables {
		for _, v2 := range c.Variables[i+1:] {
			if r := c.Matrix[v1][v2]; r != nil {
				out = append(out, Pair{Var1: v1, Var2: v2, Correlation: *r})
			}
		}
	}
	return out
}

// Correlation computes the correlation matrix of variables (every float
// column when empty) with pairwise complete observations. Fewer than two
// usable variables yield an insufficient-variables marker; an unknown method
// is an input error.
func (a *Analyzer) Correlation(t *dataset.Table, variables []string, method string) (Correlation, error) {
	if method == "" {
		method = Pearson
	}
	if method != Pearson && method != Spearman && method != Kendall {
		return Correlation{}, models.NewInputError("correlation", "unknown method %q (use pearson, spearman or kendall)", method)
	}
	vars := variablesOrNumeric(t, variables)
	res := Correlation{Method: method, Variables: vars}
	if len(vars) < 2 {
		res.Marker = Marker{Status: StatusInsufficientVariables, Reason: "at least 2 numeric variables are required"}
		return res, nil
	}

	res.Marker = computed()
	res.Matrix = make(map[string]map[string]*float64, len(vars))
	res.PValues = make(map[string]*float64)
	for _, v := range vars {
		res.Matrix[v] = make(map[string]*float64, len(vars))
	}
	for i, v1 := range vars {
		for j := i; j < len(vars); j++ {
			v2 := vars[j]
			x, y, _ := t.Paired(v1, v2)
			r, p := correlate(x, y, method)
			res.Matrix[v1][v2] = r
			res.Matrix[v2][v1] = r
			if i < j && len(x) > minPairsForPValue {
				res.PValues[v1+"_"+v2] = p
			}
		}
	}
	return res, nil
}

func correlate(x, y []float64, method string) (r, p *float64) {
	if len(x) < 2 {
		return nil, nil
	}
	var coef, pv float64
	switch method {
	case Spearman:
		coef = pearson(numeric.Ranks(x), numeric.Ranks(y))
		pv = tTestPValue(coef, len(x))
	case Kendall:
		coef = kendallTauB(x, y)
		pv = kendallPValue(coef, len(x))
	default:
		coef = pearson(x, y)
		pv = tTestPValue(coef, len(x))
	}
	return numeric.Finite(coef), numeric.Finite(pv)
}

// pearson returns NaN when either series is constant
func pearson(x, y []float64) float64 {
	if stat.StdDev(x, nil) == 0 || stat.StdDev(y, nil) == 0 {
		return math.NaN()
	}
	r, err := stats.Correlation(x, y)
	if err != nil {
		return math.NaN()
	}
	return math.Max(-1, math.Min(1, r))
}

// tTestPValue is the two-sided p-value of H0: rho = 0 for a coefficient r
// estimated from n pairs, using Student's t with n-2 degrees of freedom.
func tTestPValue(r float64, n int) float64 {
	if math.IsNaN(r) || n < 3 {
		return math.NaN()
	}
	if math.Abs(r) >= 1 {
		return 0
	}
	df := float64(n - 2)
	tv := r * math.Sqrt(df/(1-r*r))
	return 2 * distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Survival(math.Abs(tv))
}

// kendallTauB accounts for ties in either series
func kendallTauB(x, y []float64) float64 {
	n := len(x)
	var concordant, discordant, tiesX, tiesY float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dx := x[j] - x[i]
			dy := y[j] - y[i]
			switch {
			case dx == 0 && dy == 0:
			case dx == 0:
				tiesX++
			case dy == 0:
				tiesY++
			case (dx > 0) == (dy > 0):
				concordant++
			default:
				discordant++
			}
		}
	}
	denom := math.Sqrt((concordant + discordant + tiesX) * (concordant + discordant + tiesY))
	if denom == 0 {
		return math.NaN()
	}
	return (concordant - discordant) / denom
}

// kendallPValue uses the normal approximation of tau under H0
func kendallPValue(tau float64, n int) float64 {
	if math.IsNaN(tau) || n < 3 {
		return math.NaN()
	}
	fn := float64(n)
	z := 3 * tau * math.Sqrt(fn*(fn-1)) / math.Sqrt(2*(2*fn+5))
	return 2 * standardNormal.Survival(math.Abs(z))
}
