package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepscope/stepscope/internal/chart"
	"github.com/stepscope/stepscope/internal/config"
	"github.com/stepscope/stepscope/internal/correlation"
	"github.com/stepscope/stepscope/internal/dashboard"
	"github.com/stepscope/stepscope/internal/models"
	"github.com/stepscope/stepscope/internal/profiling"
)

var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Render the utilization/step-timing correlation chart",
}

var plotRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Write the interactive chart as a standalone HTML file",
	Example: `  # From a job's profiling output
  stepscope plot render --job <job-id> --out bottleneck.html

  # From exported CSV tables
  stepscope plot render --system-csv system.csv --framework-csv framework.csv`,
	RunE: plotRender,
}

var plotServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chart as a live dashboard",
	Long: `Serve the correlation chart over HTTP, re-reading the profiling
artifacts on every view. Connected pages refresh automatically when new
artifacts appear.`,
	RunE: plotServe,
}

func init() {
	rootCmd.AddCommand(plotCmd)
	plotCmd.AddCommand(plotRenderCmd)
	plotCmd.AddCommand(plotServeCmd)

	for _, cmd := range []*cobra.Command{plotRenderCmd, plotServeCmd} {
		cmd.Flags().String("job", "", "Job ID whose profiling output to plot")
		cmd.Flags().String("path", "", "Profiling output URI (overrides --job)")
		cmd.Flags().String("system-csv", "", "Local system metrics CSV instead of an output URI")
		cmd.Flags().String("framework-csv", "", "Local framework metrics CSV instead of an output URI")
		cmd.Flags().String("dimension", correlation.DefaultDimension, "Utilization dimension to plot")
		cmd.Flags().Int64("modulus", correlation.DefaultModulus, "Hook periodicity used to color steps")
		cmd.Flags().String("title", "", "Chart title")
	}

	plotRenderCmd.Flags().String("out", "stepscope.html", "Output HTML file")
	plotServeCmd.Flags().String("addr", "127.0.0.1:8944", "Listen address")
	plotServeCmd.Flags().Duration("refresh", 5*time.Second, "Artifact re-read interval for live refresh")
	plotServeCmd.Flags().Bool("verbose", false, "Log every request")
}

// metricLoaders builds the functions both plot modes use, reading either a
// pair of CSV files or a profiling output URI. The tables function returns
// the unfiltered records; the series function correlates the utilization
// samples with the training step spans.
func metricLoaders(ctx context.Context, cfg *config.Config, cmd *cobra.Command) (dashboard.SeriesFunc, dashboard.TablesFunc, error) {
	dimension, _ := cmd.Flags().GetString("dimension")
	modulus, _ := cmd.Flags().GetInt64("modulus")
	opts := correlation.Options{Dimension: dimension, Modulus: modulus}

	var tables dashboard.TablesFunc

	systemCSV, _ := cmd.Flags().GetString("system-csv")
	frameworkCSV, _ := cmd.Flags().GetString("framework-csv")
	if systemCSV != "" || frameworkCSV != "" {
		if systemCSV == "" || frameworkCSV == "" {
			return nil, nil, fmt.Errorf("--system-csv and --framework-csv must be given together")
		}
		tables = func(context.Context) ([]models.SystemMetricRecord, []models.FrameworkMetricRecord, error) {
			system, err := readSystemCSVFile(systemCSV)
			if err != nil {
				return nil, nil, err
			}
			framework, err := readFrameworkCSVFile(frameworkCSV)
			if err != nil {
				return nil, nil, err
			}
			return system, framework, nil
		}
	} else {
		uri, err := resolveOutputURI(ctx, cfg, cmd)
		if err != nil {
			return nil, nil, err
		}
		reader, err := newProfilingReader(cfg, uri)
		if err != nil {
			return nil, nil, err
		}
		tables = func(ctx context.Context) ([]models.SystemMetricRecord, []models.FrameworkMetricRecord, error) {
			system, err := reader.SystemMetrics(ctx, uri)
			if err != nil {
				return nil, nil, err
			}
			framework, err := reader.FrameworkMetrics(ctx, uri)
			if err != nil {
				return nil, nil, err
			}
			return system, framework, nil
		}
	}

	load := func(ctx context.Context) (*correlation.Series, error) {
		system, framework, err := tables(ctx)
		if err != nil {
			return nil, err
		}
		return correlation.Correlate(system, stepRecords(framework), opts), nil
	}
	return load, tables, nil
}

// stepRecords keeps only the step spans, dropping hook-save and other
// framework events the chart does not draw.
func stepRecords(records []models.FrameworkMetricRecord) []models.FrameworkMetricRecord {
	steps := make([]models.FrameworkMetricRecord, 0, len(records))
	for _, rec := range records {
		if rec.Metric == models.FrameworkMetricStep {
			steps = append(steps, rec)
		}
	}
	return steps
}

func readSystemCSVFile(path string) ([]models.SystemMetricRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return profiling.DecodeSystemSegment(path, f)
}

func readFrameworkCSVFile(path string) ([]models.FrameworkMetricRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return profiling.DecodeFrameworkSegment(path, f)
}

func plotRender(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	ctx := context.Background()

	load, _, err := metricLoaders(ctx, cfg, cmd)
	if err != nil {
		return err
	}
	series, err := load(ctx)
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}

	title, _ := cmd.Flags().GetString("title")
	if err := chart.Render(f, series, chart.Config{Title: title}); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	fmt.Printf("Wrote %s (%d samples, %d steps)\n", out, series.SampleCount, series.StepCount)
	return nil
}

func plotServe(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	load, tables, err := metricLoaders(ctx, cfg, cmd)
	if err != nil {
		return err
	}

	title, _ := cmd.Flags().GetString("title")
	refresh, _ := cmd.Flags().GetDuration("refresh")
	verbose, _ := cmd.Flags().GetBool("verbose")
	server, err := dashboard.New(load, dashboard.Options{
		Title:   title,
		Refresh: refresh,
		Tables:  tables,
		Verbose: verbose,
	})
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("addr")
	return server.Run(ctx, addr)
}
