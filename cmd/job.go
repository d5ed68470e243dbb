package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepscope/stepscope/internal/config"
	"github.com/stepscope/stepscope/internal/models"
	"github.com/stepscope/stepscope/internal/parser"
	"github.com/stepscope/stepscope/internal/platform"
	"github.com/stepscope/stepscope/internal/tracking"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and inspect training jobs",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a training job with profiling enabled",
	Long: `Assemble a job specification and submit it to the execution service.
Returns as soon as the service acknowledges the job; use --wait to block
until it finishes. Submission starts billing; a failed wait never cancels
the job.`,
	Example: `  # Profile an over-eager tensor-collection hook
  stepscope job submit --name resnet-bottleneck --entry-point train.py \
    --instance-type gpu.1x --save-interval 50 --collection gradients \
    --input training=http://127.0.0.1:8943/storage/datasets/mnist

  # Submit from a spec file, block, and mirror to MLflow
  stepscope job submit --from-file job.yaml --wait --track`,
	RunE: jobSubmit,
}

var jobStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current state of a job",
	RunE:  jobStatus,
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List submitted jobs, newest first",
	RunE:  jobList,
}

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobSubmitCmd)
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobListCmd)

	// Submit command flags
	jobSubmitCmd.Flags().String("from-file", "", "Load the job spec from a JSON/YAML file; explicit flags override")
	jobSubmitCmd.Flags().String("name", "", "Job name")
	jobSubmitCmd.Flags().String("entry-point", "", "Training entry script reference")
	jobSubmitCmd.Flags().String("source-uri", "", "Source bundle URI")
	jobSubmitCmd.Flags().String("instance-type", "", fmt.Sprintf("Instance type (%s)", strings.Join(models.ValidInstanceTypes(), ", ")))
	jobSubmitCmd.Flags().Int("instance-count", 0, "Instance count")
	jobSubmitCmd.Flags().StringArray("hyperparameter", []string{}, "Hyperparameters in key=value format")
	jobSubmitCmd.Flags().String("hyperparameters-file", "", "Load hyperparameters from a JSON/YAML file")
	jobSubmitCmd.Flags().StringArray("input", []string{}, "Input channels in channel=uri format")
	jobSubmitCmd.Flags().Int64("profile-interval-ms", 0, "System monitor sampling interval in ms (0 = service default)")
	jobSubmitCmd.Flags().Int64("profile-start-step", 0, "First step of the framework profiling window")
	jobSubmitCmd.Flags().Int64("profile-num-steps", 0, "Length of the framework profiling window in steps")
	jobSubmitCmd.Flags().Int64("save-interval", 0, "Tensor-collection hook save interval in steps (0 = no hook)")
	jobSubmitCmd.Flags().StringArray("collection", []string{}, "Hook collection names (outputs, gradients, weights, layers)")
	jobSubmitCmd.Flags().StringArray("tag", []string{}, "Job tags in key=value format")
	jobSubmitCmd.Flags().Bool("wait", false, "Block until the job reaches a terminal state")
	jobSubmitCmd.Flags().Bool("track", false, "Mirror the job to the configured tracking server")

	// Status command flags
	jobStatusCmd.Flags().String("job", "", "Job ID (required)")
	jobStatusCmd.MarkFlagRequired("job")
}

func jobSubmit(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	client, err := platform.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create platform client: %w", err)
	}

	spec, err := buildJobSpec(cmd)
	if err != nil {
		return err
	}

	inputFlags, _ := cmd.Flags().GetStringArray("input")
	inputPairs, err := parseKeyValues(inputFlags, "input")
	if err != nil {
		return err
	}
	inputs := make(map[string]models.DatasetLocation, len(inputPairs))
	for channel, uri := range inputPairs {
		inputs[channel] = models.DatasetLocation(uri)
	}

	wait, _ := cmd.Flags().GetBool("wait")
	track, _ := cmd.Flags().GetBool("track")

	ctx := context.Background()
	if err := client.CheckVersion(ctx); err != nil {
		return err
	}

	// Submit without waiting so the tracking mirror can open its run
	// before the job finishes.
	job, err := client.Submit(ctx, spec, inputs, false)
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}

	// Output only the job ID for shell scripting
	fmt.Printf("%s\n", job.ID)

	var tracker *tracking.Client
	var runID string
	if track {
		if !cfg.TrackingEnabled() {
			return fmt.Errorf("--track requires a tracking URI (set STEPSCOPE_TRACKING_URI or --tracking-uri)")
		}
		tracker, err = tracking.NewClient(cfg)
		if err != nil {
			return err
		}
		run, err := tracker.StartJobRun(ctx, job)
		if err != nil {
			return fmt.Errorf("failed to mirror job to tracking server: %w", err)
		}
		runID = run.RunID
		fmt.Fprintf(os.Stderr, "Tracking run: %s\n", runID)
	}

	if !wait {
		return nil
	}

	done, err := client.WaitForCompletion(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("failed waiting for job %s: %w", job.ID, err)
	}
	if tracker != nil {
		if err := tracker.FinishJobRun(ctx, runID, done.Status); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close tracking run: %v\n", err)
		}
	}

	fmt.Printf("Status: %s\n", done.Status)
	if done.Message != "" {
		fmt.Printf("Message: %s\n", done.Message)
	}
	fmt.Printf("Profiling output: %s\n", done.ProfilingOutputURI)

	if done.Status != models.JobStatusCompleted {
		return fmt.Errorf("job %s ended as %s", done.ID, done.Status)
	}
	return nil
}

// buildJobSpec assembles the spec from an optional file base plus flag
// overrides.
func buildJobSpec(cmd *cobra.Command) (models.JobSpec, error) {
	var spec models.JobSpec

	if fromFile, _ := cmd.Flags().GetString("from-file"); fromFile != "" {
		loaded, err := loadJobSpecFile(fromFile)
		if err != nil {
			return spec, err
		}
		spec = *loaded
	}

	if name, _ := cmd.Flags().GetString("name"); name != "" {
		spec.Name = name
	}
	if entryPoint, _ := cmd.Flags().GetString("entry-point"); entryPoint != "" {
		spec.EntryPoint = entryPoint
	}
	if sourceURI, _ := cmd.Flags().GetString("source-uri"); sourceURI != "" {
		spec.SourceURI = sourceURI
	}
	if instanceType, _ := cmd.Flags().GetString("instance-type"); instanceType != "" {
		spec.InstanceType = instanceType
	}
	if instanceCount, _ := cmd.Flags().GetInt("instance-count"); instanceCount > 0 {
		spec.InstanceCount = instanceCount
	}
	if spec.InstanceType == "" {
		spec.InstanceType = "gpu.1x"
	}
	if spec.InstanceCount == 0 {
		spec.InstanceCount = 1
	}

	hyperparams, err := collectHyperparameters(cmd)
	if err != nil {
		return spec, err
	}
	if len(hyperparams) > 0 {
		if spec.Hyperparameters == nil {
			spec.Hyperparameters = make(map[string]string)
		}
		for key, value := range hyperparams {
			spec.Hyperparameters[key] = value
		}
	}

	tagFlags, _ := cmd.Flags().GetStringArray("tag")
	tags, err := parseKeyValues(tagFlags, "tag")
	if err != nil {
		return spec, err
	}
	if len(tags) > 0 {
		if spec.Tags == nil {
			spec.Tags = make(map[string]string)
		}
		for key, value := range tags {
			spec.Tags[key] = value
		}
	}

	if interval, _ := cmd.Flags().GetInt64("profile-interval-ms"); interval > 0 {
		if spec.Profiler == nil {
			spec.Profiler = &models.ProfilerConfig{}
		}
		spec.Profiler.SystemMonitorIntervalMillis = interval
	}
	if cmd.Flags().Changed("profile-num-steps") {
		startStep, _ := cmd.Flags().GetInt64("profile-start-step")
		numSteps, _ := cmd.Flags().GetInt64("profile-num-steps")
		if spec.Profiler == nil {
			spec.Profiler = &models.ProfilerConfig{}
		}
		spec.Profiler.FrameworkProfile = &models.FrameworkProfile{
			StartStep: startStep,
			NumSteps:  numSteps,
		}
	}

	if saveInterval, _ := cmd.Flags().GetInt64("save-interval"); saveInterval > 0 {
		collections, _ := cmd.Flags().GetStringArray("collection")
		if len(collections) == 0 {
			collections = []string{"outputs"}
		}
		spec.Hook = &models.HookConfig{
			SaveIntervalSteps: saveInterval,
			Collections:       collections,
		}
	}

	return spec, nil
}

func loadJobSpecFile(path string) (*models.JobSpec, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spec file %s: %w", path, err)
	}
	defer file.Close()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return parser.ParseJSONJobSpec(file)
	case ".yaml", ".yml":
		return parser.ParseYAMLJobSpec(file)
	default:
		return nil, fmt.Errorf("unsupported spec file format: %s (supported: .json, .yaml, .yml)", ext)
	}
}

func collectHyperparameters(cmd *cobra.Command) (map[string]string, error) {
	merged := make(map[string]string)

	if fromFile, _ := cmd.Flags().GetString("hyperparameters-file"); fromFile != "" {
		file, err := os.Open(fromFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open hyperparameters file %s: %w", fromFile, err)
		}
		defer file.Close()

		var loaded map[string]string
		switch ext := strings.ToLower(filepath.Ext(fromFile)); ext {
		case ".json":
			loaded, err = parser.ParseJSONHyperparameters(file)
		case ".yaml", ".yml":
			loaded, err = parser.ParseYAMLHyperparameters(file)
		default:
			return nil, fmt.Errorf("unsupported hyperparameters file format: %s (supported: .json, .yaml, .yml)", ext)
		}
		if err != nil {
			return nil, err
		}
		for key, value := range loaded {
			merged[key] = value
		}
	}

	flagValues, _ := cmd.Flags().GetStringArray("hyperparameter")
	pairs, err := parseKeyValues(flagValues, "hyperparameter")
	if err != nil {
		return nil, err
	}
	for key, value := range pairs {
		merged[key] = value
	}
	return merged, nil
}

// parseKeyValues parses repeated key=value flags.
func parseKeyValues(values []string, flagName string) (map[string]string, error) {
	pairs := make(map[string]string)
	for _, value := range values {
		parts := strings.SplitN(value, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid %s format: %s (expected key=value)", flagName, value)
		}
		pairs[parts[0]] = parts[1]
	}
	return pairs, nil
}

func jobStatus(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	client, err := platform.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create platform client: %w", err)
	}

	jobID, _ := cmd.Flags().GetString("job")

	ctx := context.Background()
	job, err := client.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	fmt.Printf("Job ID: %s\n", job.ID)
	fmt.Printf("Name: %s\n", job.Spec.Name)
	fmt.Printf("Status: %s\n", job.Status)
	if job.Message != "" {
		fmt.Printf("Message: %s\n", job.Message)
	}
	fmt.Printf("Submitted: %s\n", job.SubmitTime.Format(time.RFC3339))
	if job.StartTime != nil {
		fmt.Printf("Started: %s\n", job.StartTime.Format(time.RFC3339))
	}
	if job.EndTime != nil {
		fmt.Printf("Ended: %s\n", job.EndTime.Format(time.RFC3339))
	}
	if job.ProfilingOutputURI != "" {
		fmt.Printf("Profiling output: %s\n", job.ProfilingOutputURI)
	}
	return nil
}

func jobList(cmd *cobra.Command, args []string) error {
	cfg := config.New()
	client, err := platform.NewClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create platform client: %w", err)
	}

	ctx := context.Background()
	jobs, err := client.ListJobs(ctx)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs submitted")
		return nil
	}

	fmt.Printf("%-38s %-10s %-22s %s\n", "JOB ID", "STATUS", "NAME", "SUBMITTED")
	for _, job := range jobs {
		fmt.Printf("%-38s %-10s %-22s %s\n",
			job.ID, job.Status, job.Spec.Name, job.SubmitTime.Format(time.RFC3339))
	}
	return nil
}
