package analysis

import (
	"fmt"
	"sort"
	"strings"

	"climate-analytics/internal/dataset"
)

// Report renders descriptive statistics, Shapiro-Wilk results and the
// significant Pearson correlations of variables as plain text.
func (a *Analyzer) Report(t *dataset.Table, variables []string) string {
	vars := variablesOrNumeric(t, variables)
	var b strings.Builder
	b.WriteString("STATISTICAL REPORT - CLIMATE ANALYSIS\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	b.WriteString("1. DESCRIPTIVE STATISTICS\n")
	b.WriteString(strings.Repeat("-", 30) + "\n")
	desc := a.Descriptive(t, vars)
	for _, v := range vars {
		d := desc[v]
		fmt.Fprintf(&b, "\nVariable: %s\n", v)
		fmt.Fprintf(&b, "  - N: %d\n", d.Count)
		fmt.Fprintf(&b, "  - Mean: %s\n", formatOpt(d.Mean, 2))
		fmt.Fprintf(&b, "  - Std. dev.: %s\n", formatOpt(d.Std, 2))
		fmt.Fprintf(&b, "  - Min: %s\n", formatOpt(d.Min, 2))
		fmt.Fprintf(&b, "  - Max: %s\n", formatOpt(d.Max, 2))
		fmt.Fprintf(&b, "  - Missing: %.1f%%\n", d.MissingPercentage)
	}

	b.WriteString("\n\n2. NORMALITY TESTS\n")
	b.WriteString(strings.Repeat("-", 30) + "\n")
	norm := a.Normality(t, vars)
	for _, v := range vars {
		n := norm[v]
		fmt.Fprintf(&b, "\nVariable: %s\n", v)
		sw := n.ShapiroWilk
		if !n.OK() || sw.PValue == nil {
			b.WriteString("  - Shapiro-Wilk: not available\n")
			continue
		}
		fmt.Fprintf(&b, "  - Shapiro-Wilk: p = %.4f\n", *sw.PValue)
		if *sw.IsNormal {
			b.WriteString("  - Normal: yes\n")
		} else {
			b.WriteString("  - Normal: no\n")
		}
	}

	if len(vars) > 1 {
		b.WriteString("\n\n3. CORRELATIONS\n")
		b.WriteString(strings.Repeat("-", 30) + "\n")
		b.WriteString("\nSignificant correlations (p < 0.05):\n")
		corr, _ := a.Correlation(t, vars, Pearson)
		keys := make([]string, 0, len(corr.PValues))
		for k := range corr.PValues {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if p := corr.PValues[k]; p != nil && *p < significanceLevel {
				fmt.Fprintf(&b, "  - %s: p = %.4f\n", k, *p)
			}
		}
	}

	b.WriteString("\n\n" + strings.Repeat("=", 50) + "\n")
	b.WriteString("End of report")
	return b.String()
}

func formatOpt(v *float64, decimals int) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.*f", decimals, *v)
}
