package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"climate-analytics/internal/analysis"
	"climate-analytics/internal/cleaning"
	"climate-analytics/internal/dataset"
	"climate-analytics/internal/exploratory"
	"climate-analytics/internal/services"
	"climate-analytics/internal/spatial"
	"climate-analytics/internal/validation"
)

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file.csv>",
		Short: "Check structure, ranges, dates and consistency and score the data quality",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readTable(args[0])
			if err != nil {
				return err
			}
			res, report := c.app.Analysis.Validate(c.ctx(cmd), t)
			return c.print(cmd.OutOrStdout(), struct {
				Validation validation.Result `json:"validation_results"`
				Report     string            `json:"report"`
			}{res, report}, report)
		},
	}
}

func (c *cli) cleanCmd() *cobra.Command {
	var (
		out     string
		station string
		tag     string
	)
	cmd := &cobra.Command{
		Use:   "clean <file.csv>",
		Short: "Clean a table and write the result as CSV",
		Long: `clean normalizes names, coerces types, removes out of range values and
outliers, fills gaps and repairs inverted temperatures. With --station only
that station's rows are cleaned; --tag-anomalies adds per-variable anomaly
flags after cleaning.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := c.ctx(cmd)
			t, err := readTable(args[0])
			if err != nil {
				return err
			}

			var (
				cleaned *dataset.Table
				summary cleaning.Summary
			)
			if station != "" {
				cleaned, summary, err = c.app.Cleaner.ProcessStation(ctx, t, station)
			} else {
				cleaned, summary, err = c.app.Cleaner.Clean(ctx, t)
			}
			if err != nil {
				return err
			}
			if tag != "" {
				if cleaned, err = c.app.Cleaner.TagAnomalies(ctx, cleaned, tag); err != nil {
					return err
				}
			}

			if out == "" {
				ext := filepath.Ext(args[0])
				out = strings.TrimSuffix(args[0], ext) + "_clean.csv"
			}
			if err := c.app.Cleaner.SaveCSV(ctx, cleaned, out); err != nil {
				return err
			}

			text := fmt.Sprintf("Cleaned %d rows into %d, written to %s", summary.RowsIn, summary.RowsOut, out)
			return c.print(cmd.OutOrStdout(), struct {
				File    string                `json:"file"`
				Summary cleaning.Summary      `json:"cleaning_summary"`
				Stats   []cleaning.GroupStats `json:"statistics"`
			}{out, summary, cleaning.GroupStatistics(cleaned, "")}, text)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output CSV path (default <input>_clean.csv)")
	cmd.Flags().StringVar(&station, "station", "", "clean only the rows of this station code")
	cmd.Flags().StringVar(&tag, "tag-anomalies", "", "tag anomalies with this method: iqr, zscore or isolation_forest")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	var (
		variables []string
		groupBy   string
	)
	cmd := &cobra.Command{
		Use:   "stats <file.csv>",
		Short: "Descriptive statistics, normality tests and group statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readTable(args[0])
			if err != nil {
				return err
			}
			a := c.app.Analyzer
			return c.print(cmd.OutOrStdout(), struct {
				Descriptive map[string]analysis.Descriptive `json:"descriptive_statistics"`
				Normality   map[string]analysis.Normality   `json:"normality_tests"`
				Groups      []cleaning.GroupStats           `json:"group_statistics"`
			}{
				a.Descriptive(t, variables),
				a.Normality(t, variables),
				cleaning.GroupStatistics(t, groupBy),
			}, a.Report(t, variables))
		},
	}
	cmd.Flags().StringSliceVar(&variables, "variables", nil, "variables to analyse (default every numeric column)")
	cmd.Flags().StringVar(&groupBy, "group-by", "", "column to group the statistics by")
	return cmd
}

func (c *cli) outliersCmd() *cobra.Command {
	var (
		variables []string
		method    string
	)
	cmd := &cobra.Command{
		Use:   "outliers <file.csv>",
		Short: "Detect outliers per variable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readTable(args[0])
			if err != nil {
				return err
			}
			if method == "" {
				method = c.app.Config.Analysis.OutlierMethod
			}
			res, err := c.app.Analyzer.Outliers(c.ctx(cmd), t, variables, method)
			if err != nil {
				return err
			}
			var b strings.Builder
			for _, name := range sortedKeys(res) {
				r := res[name]
				if !r.OK() {
					fmt.Fprintf(&b, "%s: %s\n", name, r.Reason)
					continue
				}
				fmt.Fprintf(&b, "%s: %d outliers (%.2f%%) by %s\n", name, r.Count, r.Percentage, r.Method)
			}
			return c.print(cmd.OutOrStdout(), res, b.String())
		},
	}
	cmd.Flags().StringSliceVar(&variables, "variables", nil, "variables to analyse (default every numeric column)")
	cmd.Flags().StringVar(&method, "method", "", "iqr, zscore or isolation_forest (default analysis.outlier_method)")
	return cmd
}

func (c *cli) correlateCmd() *cobra.Command {
	var (
		variables []string
		method    string
	)
	cmd := &cobra.Command{
		Use:   "correlate <file.csv>",
		Short: "Correlation matrix with pairwise p-values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readTable(args[0])
			if err != nil {
				return err
			}
			res, err := c.app.Analyzer.Correlation(t, variables, method)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), res, "")
		},
	}
	cmd.Flags().StringSliceVar(&variables, "variables", nil, "variables to correlate (default every numeric column)")
	cmd.Flags().StringVar(&method, "method", analysis.Pearson, "pearson, spearman or kendall")
	return cmd
}

func (c *cli) compareCmd() *cobra.Command {
	var variable string
	cmd := &cobra.Command{
		Use:   "compare <file.csv>",
		Short: "Compare a variable across stations with one-way ANOVA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readTable(args[0])
			if err != nil {
				return err
			}
			res, err := c.app.Analyzer.CompareStations(t, variable)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), res, "")
		},
	}
	cmd.Flags().StringVar(&variable, "variable", "", "variable to compare")
	cmd.MarkFlagRequired("variable")
	return cmd
}

func (c *cli) trendCmd() *cobra.Command {
	var variable string
	cmd := &cobra.Command{
		Use:   "trend <file.csv>",
		Short: "Linear trend, Mann-Kendall test and monthly seasonality",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readTable(args[0])
			if err != nil {
				return err
			}
			res, err := c.app.Analysis.Trend(c.ctx(cmd), t, variable)
			if err != nil {
				return err
			}
			text := ""
			if res.OK() && res.Linear != nil {
				text = fmt.Sprintf("%s: %s trend, slope %.4f (r2 %.3f), Mann-Kendall %q over %d points",
					variable, res.Linear.Direction, res.Linear.Slope, res.Linear.RSquared, res.MannKendall.Trend, res.DataPoints)
			}
			return c.print(cmd.OutOrStdout(), res, text)
		},
	}
	cmd.Flags().StringVar(&variable, "variable", "", "variable to analyse")
	cmd.MarkFlagRequired("variable")
	return cmd
}

func (c *cli) spatialCmd() *cobra.Command {
	var (
		variable string
		region   string
	)
	cmd := &cobra.Command{
		Use:   "spatial <file.csv>",
		Short: "Region enrichment, coverage summary, spatial statistics and GeoJSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := c.ctx(cmd)
			t, err := readTable(args[0])
			if err != nil {
				return err
			}
			if t, err = c.app.Spatial.FilterByRegion(ctx, t, region); err != nil {
				return err
			}
			res, err := c.app.Analysis.Spatial(ctx, t, variable)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), res, "")
		},
	}
	cmd.Flags().StringVar(&variable, "variable", "", "variable for the spatial statistics")
	cmd.Flags().StringVar(&region, "region", spatial.FilterAll, "row filter: all, region or capital")
	return cmd
}

func (c *cli) edaCmd() *cobra.Command {
	var noCharts bool
	cmd := &cobra.Command{
		Use:   "eda <file.csv>",
		Short: "Full exploratory analysis with report and charts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readTable(args[0])
			if err != nil {
				return err
			}
			res, err := c.app.Analysis.Analyze(c.ctx(cmd), t, services.AnalyzeOptions{Charts: !noCharts})
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), res, exploratory.RenderReport(res))
		},
	}
	cmd.Flags().BoolVar(&noCharts, "no-charts", false, "skip chart rendering")
	return cmd
}

func (c *cli) stationReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "station-report <file.csv> <code>",
		Short: "Statistics, temporal coverage and quality of one station",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := readTable(args[0])
			if err != nil {
				return err
			}
			rep, err := c.app.Analysis.StationReport(c.ctx(cmd), t, args[1])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), rep, rep.Render())
		},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
