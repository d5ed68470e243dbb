package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stepscope/stepscope/internal/emulator"
)

var emulatorCmd = &cobra.Command{
	Use:   "emulator",
	Short: "Run the local training-platform emulator",
	Long: `Serve a local stand-in for the managed training platform: the job
API, an object store, and a simulated training loop whose tensor-collection
hook produces the utilization dips the workflow exists to diagnose. Point
the other commands at it via --endpoint.`,
	Example: `  # Serve with auth on the default endpoint
  STEPSCOPE_AUTH_SECRET=s3cret stepscope emulator --data-dir /tmp/stepscope

  # Open local instance with verbose request logging
  stepscope emulator --data-dir /tmp/stepscope --verbose`,
	RunE: runEmulator,
}

func init() {
	rootCmd.AddCommand(emulatorCmd)

	emulatorCmd.Flags().String("addr", "127.0.0.1:8943", "Listen address")
	emulatorCmd.Flags().String("data-dir", "", "Object store root directory (required)")
	emulatorCmd.Flags().String("public-url", "", "Base URL clients reach the storage endpoints at (default http://<addr>)")
	emulatorCmd.Flags().Int("quota", 4, "Maximum concurrent non-terminal jobs")
	emulatorCmd.Flags().Bool("verbose", false, "Log every request")
	emulatorCmd.MarkFlagRequired("data-dir")
}

func runEmulator(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	publicURL, _ := cmd.Flags().GetString("public-url")
	quota, _ := cmd.Flags().GetInt("quota")
	verbose, _ := cmd.Flags().GetBool("verbose")

	server, err := emulator.New(emulator.Options{
		DataDir:           dataDir,
		AuthSecret:        viper.GetString("auth_secret"),
		PublicURL:         publicURL,
		MaxConcurrentJobs: quota,
		Verbose:           verbose,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx, addr)
}
