package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"climate-analytics/internal/extraction"
)

const dateLayout = "2006-01-02"

// extractQuery builds the query from either --last-days or --start/--end.
// The end day is inclusive.
func extractQuery(start, end string, lastDays int, now time.Time) (extraction.Query, error) {
	if lastDays > 0 {
		if start != "" || end != "" {
			return extraction.Query{}, fmt.Errorf("--last-days cannot be combined with --start or --end")
		}
		return extraction.LastDays(lastDays, now), nil
	}
	if start == "" || end == "" {
		return extraction.Query{}, fmt.Errorf("either --last-days or both --start and --end are required")
	}
	var (
		q   extraction.Query
		err error
	)
	if q.Start, err = time.Parse(dateLayout, start); err != nil {
		return q, fmt.Errorf("invalid --start %q, expected YYYY-MM-DD", start)
	}
	if q.End, err = time.Parse(dateLayout, end); err != nil {
		return q, fmt.Errorf("invalid --end %q, expected YYYY-MM-DD", end)
	}
	q.End = q.End.Add(24*time.Hour - time.Second)
	return q, nil
}

func (c *cli) extractCmd() *cobra.Command {
	var (
		start, end string
		lastDays   int
		department string
		batchSize  int
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Download observations from the open data API into a climate table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := extractQuery(start, end, lastDays, time.Now())
			if err != nil {
				return err
			}
			q.Department = department
			q.BatchSize = batchSize

			res, err := c.app.Extraction.Extract(c.ctx(cmd), q)
			if err != nil {
				return err
			}
			text := fmt.Sprintf("Fetched %d observations (%d rejected) into %d rows from %d stations, written to %s",
				res.Fetched, res.Rejected, res.Rows, res.Stations, res.File)
			if res.Stored > 0 {
				text += fmt.Sprintf("\nStored %d readings", res.Stored)
			}
			return c.print(cmd.OutOrStdout(), res, text)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD (inclusive)")
	cmd.Flags().IntVar(&lastDays, "last-days", 0, "extract the last N days instead of a date range")
	cmd.Flags().StringVar(&department, "department", "", "department filter (default extraction.department)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "page size (default extraction.batch_size)")
	return cmd
}

func (c *cli) stationsCmd() *cobra.Command {
	var department string
	cmd := &cobra.Command{
		Use:   "stations [code]",
		Short: "List stations, or show one station with its coordinate validation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := c.ctx(cmd)
			if len(args) == 1 {
				st, err := c.app.Extraction.Station(ctx, args[0])
				if err != nil {
					return err
				}
				return c.print(cmd.OutOrStdout(), st, "")
			}

			list, err := c.app.Extraction.Stations(ctx, department)
			if err != nil {
				return err
			}
			var b strings.Builder
			for _, s := range list {
				fmt.Fprintf(&b, "%-12s %-40s %9.4f %9.4f\n", s.Code, s.Name, s.Latitude, s.Longitude)
			}
			return c.print(cmd.OutOrStdout(), list, b.String())
		},
	}
	cmd.Flags().StringVar(&department, "department", "", "department filter")
	return cmd
}

func (c *cli) historyCmd() *cobra.Command {
	var (
		analysisType string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List persisted analysis results, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.app.Analysis.Results(c.ctx(cmd), analysisType, limit)
			if err != nil {
				return err
			}
			var b strings.Builder
			for _, r := range list {
				fmt.Fprintf(&b, "%s  %-8s  %s\n", r.CreatedAt.Format(time.RFC3339), r.AnalysisType, r.ID)
			}
			if b.Len() == 0 {
				b.WriteString("no analyses recorded")
			}
			return c.print(cmd.OutOrStdout(), list, b.String())
		},
	}
	cmd.Flags().StringVar(&analysisType, "type", "", "analysis type: eda, trend or spatial")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}
