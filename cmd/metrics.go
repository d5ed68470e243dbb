package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepscope/stepscope/internal/config"
	"github.com/stepscope/stepscope/internal/correlation"
	"github.com/stepscope/stepscope/internal/models"
	"github.com/stepscope/stepscope/internal/platform"
	"github.com/stepscope/stepscope/internal/profiling"
	"github.com/stepscope/stepscope/internal/storage"
	"github.com/stepscope/stepscope/internal/tracking"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Read profiling metrics tables",
	Long: `Read a job's profiling artifacts into tabular form. Artifacts appear
with a delay after the job starts; reads before any are written return an
empty table, so re-run until rows show up.`,
}

var metricsSystemCmd = &cobra.Command{
	Use:   "system",
	Short: "Read system resource metrics",
	RunE:  metricsSystem,
}

var metricsFrameworkCmd = &cobra.Command{
	Use:   "framework",
	Short: "Read framework step-timing metrics",
	RunE:  metricsFramework,
}

var metricsPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish a profiling summary to a tracking run",
	Long: `Correlate a job's profiling tables and log the aggregate figures
(mean/max utilization, mean step duration, hook vs plain step cost) as
metrics on an existing tracking run.`,
	RunE: metricsPublish,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
	metricsCmd.AddCommand(metricsSystemCmd)
	metricsCmd.AddCommand(metricsFrameworkCmd)
	metricsCmd.AddCommand(metricsPublishCmd)

	for _, cmd := range []*cobra.Command{metricsSystemCmd, metricsFrameworkCmd} {
		cmd.Flags().String("job", "", "Job ID whose profiling output to read")
		cmd.Flags().String("path", "", "Profiling output URI (overrides --job)")
		cmd.Flags().String("format", "table", "Output format (table/json/csv)")
		cmd.Flags().String("out", "", "Write to file instead of stdout")
	}
	metricsSystemCmd.Flags().String("dimension", "", "Only rows of this dimension")
	metricsFrameworkCmd.Flags().StringArray("name", []string{}, "Only these metric names (e.g. step, hook_save)")

	metricsPublishCmd.Flags().String("job", "", "Job ID whose profiling output to read")
	metricsPublishCmd.Flags().String("path", "", "Profiling output URI (overrides --job)")
	metricsPublishCmd.Flags().String("run-id", "", "Tracking run to log the summary to (required)")
	metricsPublishCmd.Flags().String("dimension", correlation.DefaultDimension, "Utilization dimension to summarize")
	metricsPublishCmd.Flags().Int64("modulus", correlation.DefaultModulus, "Hook periodicity used to classify steps")
	metricsPublishCmd.MarkFlagRequired("run-id")
}

// resolveOutputURI turns --job/--path into a profiling output URI.
func resolveOutputURI(ctx context.Context, cfg *config.Config, cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("path"); path != "" {
		return path, nil
	}
	jobID, _ := cmd.Flags().GetString("job")
	if jobID == "" {
		return "", fmt.Errorf("either --job or --path is required")
	}

	client, err := platform.NewClient(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to create platform client: %w", err)
	}
	job, err := client.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.ProfilingOutputURI == "" {
		return "", fmt.Errorf("job %s has no profiling output location", jobID)
	}
	return job.ProfilingOutputURI, nil
}

func newProfilingReader(cfg *config.Config, uri string) (*profiling.Reader, error) {
	store, err := storage.ForURI(uri, storage.NewHTTPStore(cfg.HTTPTimeout))
	if err != nil {
		return nil, err
	}
	return profiling.NewReader(store), nil
}

// openOutput returns the destination writer and a close func.
func openOutput(cmd *cobra.Command) (io.Writer, func() error, error) {
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(out)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}

func metricsSystem(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	ctx := context.Background()

	uri, err := resolveOutputURI(ctx, cfg, cmd)
	if err != nil {
		return err
	}
	reader, err := newProfilingReader(cfg, uri)
	if err != nil {
		return err
	}

	records, err := reader.SystemMetrics(ctx, uri)
	if err != nil {
		return err
	}

	if dimension, _ := cmd.Flags().GetString("dimension"); dimension != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.Dimension == dimension {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	w, closeOut, err := openOutput(cmd)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "table":
		err = writeSystemTable(w, records)
	case "json":
		err = writeJSON(w, records)
	case "csv":
		err = writeSystemCSV(w, records)
	default:
		err = fmt.Errorf("unsupported format: %s (supported: table, json, csv)", format)
	}
	if err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

func metricsFramework(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	ctx := context.Background()

	uri, err := resolveOutputURI(ctx, cfg, cmd)
	if err != nil {
		return err
	}
	reader, err := newProfilingReader(cfg, uri)
	if err != nil {
		return err
	}

	names, _ := cmd.Flags().GetStringArray("name")
	records, err := reader.FrameworkMetrics(ctx, uri, names...)
	if err != nil {
		return err
	}

	w, closeOut, err := openOutput(cmd)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "table":
		err = writeFrameworkTable(w, records)
	case "json":
		err = writeJSON(w, records)
	case "csv":
		err = writeFrameworkCSV(w, records)
	default:
		err = fmt.Errorf("unsupported format: %s (supported: table, json, csv)", format)
	}
	if err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

func writeSystemTable(w io.Writer, records []models.SystemMetricRecord) error {
	fmt.Fprintf(w, "%-30s %-24s %-10s %s\n", "TIMESTAMP", "DIMENSION", "NODE", "VALUE")
	for _, rec := range records {
		fmt.Fprintf(w, "%-30s %-24s %-10s %.2f\n",
			rec.Timestamp.Format(time.RFC3339Nano), rec.Dimension, rec.Node, rec.Value)
	}
	fmt.Fprintf(w, "%d rows\n", len(records))
	return nil
}

func writeFrameworkTable(w io.Writer, records []models.FrameworkMetricRecord) error {
	fmt.Fprintf(w, "%-8s %-12s %-30s %-30s %s\n", "STEP", "METRIC", "START", "END", "DURATION")
	for _, rec := range records {
		fmt.Fprintf(w, "%-8d %-12s %-30s %-30s %s\n",
			rec.Step, rec.Metric,
			rec.StartTime.Format(time.RFC3339Nano), rec.EndTime.Format(time.RFC3339Nano),
			rec.Duration())
	}
	fmt.Fprintf(w, "%d rows\n", len(records))
	return nil
}

func writeJSON(w io.Writer, records any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// CSV output round-trips through the reader's CSV segment decoders.
func writeSystemCSV(w io.Writer, records []models.SystemMetricRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "dimension", "node", "value"}); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.Timestamp.Format(time.RFC3339Nano),
			rec.Dimension,
			rec.Node,
			strconv.FormatFloat(rec.Value, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeFrameworkCSV(w io.Writer, records []models.FrameworkMetricRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"step", "metric", "start_time", "end_time", "node"}); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.Step, 10),
			rec.Metric,
			rec.StartTime.Format(time.RFC3339Nano),
			rec.EndTime.Format(time.RFC3339Nano),
			rec.Node,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func metricsPublish(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	if !cfg.TrackingEnabled() {
		return fmt.Errorf("publishing requires a tracking URI (set STEPSCOPE_TRACKING_URI or --tracking-uri)")
	}

	ctx := context.Background()
	uri, err := resolveOutputURI(ctx, cfg, cmd)
	if err != nil {
		return err
	}
	reader, err := newProfilingReader(cfg, uri)
	if err != nil {
		return err
	}

	system, err := reader.SystemMetrics(ctx, uri)
	if err != nil {
		return err
	}
	framework, err := reader.FrameworkMetrics(ctx, uri, models.FrameworkMetricStep)
	if err != nil {
		return err
	}

	dimension, _ := cmd.Flags().GetString("dimension")
	modulus, _ := cmd.Flags().GetInt64("modulus")
	series := correlation.Correlate(system, framework, correlation.Options{
		Dimension: dimension,
		Modulus:   modulus,
	})
	summary := series.Summary()
	if summary.Samples == 0 && summary.Steps == 0 {
		return fmt.Errorf("no profiling rows at %s yet", uri)
	}

	tracker, err := tracking.NewClient(cfg)
	if err != nil {
		return err
	}

	runID, _ := cmd.Flags().GetString("run-id")
	if err := tracker.LogSeriesSummary(ctx, runID, summary); err != nil {
		return err
	}

	fmt.Printf("Published profiling summary to run %s\n", runID)
	fmt.Printf("Samples: %d (mean %s %.2f, max %.2f)\n",
		summary.Samples, series.Dimension, summary.MeanValue, summary.MaxValue)
	fmt.Printf("Steps: %d (mean %.1fms; hook steps %.1fms vs plain %.1fms)\n",
		summary.Steps, summary.MeanStepMillis, summary.MeanHookStepMillis, summary.MeanPlainStepMillis)
	if slowdown := summary.HookSlowdown(); slowdown > 0 {
		fmt.Printf("Hook slowdown: %.1fx\n", slowdown)
	}
	return nil
}
