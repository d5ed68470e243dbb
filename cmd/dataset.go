package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stepscope/stepscope/internal/config"
	"github.com/stepscope/stepscope/internal/dataset"
	"github.com/stepscope/stepscope/internal/storage"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Prepare and publish training datasets",
}

var datasetPrepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Generate the encoded training corpus",
	Long: `Write the synthetic training corpus into the data directory as
gzip-compressed JSON Lines shards plus a manifest. The corpus is
deterministic, so re-running reproduces identical shards.`,
	RunE: datasetPrepare,
}

var datasetUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Publish a prepared dataset to object storage",
	Long: `Upload every file of a prepared dataset directory to the destination
URI, preserving relative paths. Prints the published URI, which job
submissions reference as an input channel.`,
	Example: `  # Publish to the emulator's object store
  stepscope dataset upload --data-dir ./data --dest http://127.0.0.1:8943/storage/datasets/mnist

  # Publish to a local staging directory
  stepscope dataset upload --data-dir ./data --dest file:///tmp/datasets/mnist`,
	RunE: datasetUpload,
}

func init() {
	rootCmd.AddCommand(datasetCmd)
	datasetCmd.AddCommand(datasetPrepareCmd)
	datasetCmd.AddCommand(datasetUploadCmd)

	// Prepare command flags
	datasetPrepareCmd.Flags().String("data-dir", "", "Directory to write encoded files into (required)")
	datasetPrepareCmd.MarkFlagRequired("data-dir")

	// Upload command flags
	datasetUploadCmd.Flags().String("data-dir", "", "Prepared dataset directory (required)")
	datasetUploadCmd.Flags().String("dest", "", "Destination URI (required)")
	datasetUploadCmd.MarkFlagRequired("data-dir")
	datasetUploadCmd.MarkFlagRequired("dest")
}

func datasetPrepare(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")

	manifest, err := dataset.Prepare(dataDir, dataset.Options{})
	if err != nil {
		return fmt.Errorf("failed to prepare dataset: %w", err)
	}

	fmt.Printf("Prepared %s: %d records in %d shards under %s\n",
		manifest.Name, manifest.Records, len(manifest.Shards), dataDir)
	return nil
}

func datasetUpload(cmd *cobra.Command, args []string) error {
	cfg := config.New()

	dataDir, _ := cmd.Flags().GetString("data-dir")
	dest, _ := cmd.Flags().GetString("dest")

	if _, err := dataset.LoadManifest(dataDir); err != nil {
		return fmt.Errorf("dataset is not prepared (run 'stepscope dataset prepare' first): %w", err)
	}

	store, err := storage.ForURI(dest, storage.NewHTTPStore(cfg.HTTPTimeout))
	if err != nil {
		return err
	}

	ctx := context.Background()
	uri, err := store.Upload(ctx, dataDir, dest)
	if err != nil {
		return fmt.Errorf("failed to upload dataset: %w", err)
	}

	// Output only the URI for shell scripting
	fmt.Printf("%s\n", uri)
	return nil
}
