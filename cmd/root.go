package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "stepscope",
	Short: "Training-step profiling workflow tool",
	Long: `Diagnoses training-performance bottlenecks on a managed ML platform.
Publishes datasets, launches remote jobs with profiling and tensor-collection
hooks enabled, reads the profiling artifacts, and renders the correlation
between resource utilization and training-step timing.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().String("endpoint", "", "Execution service endpoint (overrides STEPSCOPE_ENDPOINT)")
	rootCmd.PersistentFlags().String("tracking-uri", "", "MLflow tracking URI for run mirroring (overrides STEPSCOPE_TRACKING_URI)")
	rootCmd.PersistentFlags().String("experiment-id", "", "Tracking experiment ID (overrides STEPSCOPE_EXPERIMENT_ID)")
	viper.BindPFlag("endpoint", rootCmd.PersistentFlags().Lookup("endpoint"))
	viper.BindPFlag("tracking_uri", rootCmd.PersistentFlags().Lookup("tracking-uri"))
	viper.BindPFlag("experiment_id", rootCmd.PersistentFlags().Lookup("experiment-id"))
}

func initConfig() {
	// Environment variables
	viper.SetEnvPrefix("STEPSCOPE")
	viper.AutomaticEnv()

	// Also bind Databricks environment variables for the tracking mirror
	viper.BindEnv("databricks_host", "DATABRICKS_HOST")
	viper.BindEnv("databricks_token", "DATABRICKS_TOKEN")

	// Set defaults
	viper.SetDefault("endpoint", "http://127.0.0.1:8943")
	viper.SetDefault("principal", "stepscope")
	viper.SetDefault("poll_interval", "2s")
	viper.SetDefault("http_timeout", "30s")
}
