package main

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"climate-analytics/internal/app"
	"climate-analytics/internal/config"
	"climate-analytics/internal/dataset"
	"climate-analytics/pkg/logging"
	"climate-analytics/pkg/metrics"
)

const version = "1.0.0"

// cli carries the global flags and the components built for one invocation
type cli struct {
	cfgFile   string
	output    string
	debug     bool
	outputDir string

	app    *app.App
	logger *logging.StructuredLogger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "climate",
		Short:         "Climate data analysis for Cundinamarca",
		Long:          `climate validates, cleans and analyses IDEAM climate observations from CSV files, and extracts new observations from the datos.gov.co open data API.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app != nil {
				return c.app.Close()
			}
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&c.cfgFile, "config", "", "config file (default is ./config.yaml)")
	f.StringVarP(&c.output, "output", "o", formatText, "output format: text, json or yaml")
	f.BoolVar(&c.debug, "debug", false, "enable debug logging")
	f.StringVar(&c.outputDir, "output-dir", "", "artifact directory (overrides analysis.output_dir)")

	root.AddCommand(
		c.validateCmd(),
		c.cleanCmd(),
		c.statsCmd(),
		c.outliersCmd(),
		c.correlateCmd(),
		c.compareCmd(),
		c.trendCmd(),
		c.spatialCmd(),
		c.edaCmd(),
		c.stationReportCmd(),
		c.extractCmd(),
		c.stationsCmd(),
		c.historyCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	switch c.output {
	case formatText, formatJSON, formatYAML:
	default:
		return fmt.Errorf("unsupported --output %q, expected text, json or yaml", c.output)
	}

	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return err
	}
	if c.outputDir != "" {
		cfg.Analysis.OutputDir = c.outputDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if c.debug {
		level = logging.DebugLevel
	}
	c.logger = logging.NewStructuredLogger("climate-cli", version, level)
	c.logger.SetOutput(cmd.ErrOrStderr())

	// private registry: nothing scrapes a one-shot command
	m := metrics.NewCollectorWith(prometheus.NewRegistry(), "climate_cli")
	c.app, err = app.New(cmd.Context(), cfg, c.logger, m)
	return err
}

func (c *cli) ctx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func readTable(path string) (*dataset.Table, error) {
	t, err := dataset.ReadCSVFile(path, dataset.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

func (c *cli) print(w io.Writer, v interface{}, text string) error {
	return render(w, c.output, v, text)
}
