package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emusync/emusync/pkg/config"
	"github.com/emusync/emusync/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "emusync",
		Short: "emusync - emulator core synchronisation harness",
		Long: `emusync drives an emulator core running on its own thread from
asynchronous callers.

Features:
  - Commands that wait for the emulation state they produce
  - Video requests answered by a UI-side host
  - Scenario scripts in Starlark
  - Start/stop lifecycle with ownership checks
  - Structured logs, Prometheus metrics and OpenTelemetry traces`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}

// loadConfig reads the file named by --config, or the defaults, and applies
// the global flags on top.
func loadConfig(version string) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if version != "" {
		cfg.Telemetry.ServiceVersion = version
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Telemetry.Logging.Format = "json"
	}
	return cfg, nil
}

// applyLogLevel sets the process-wide level from config unless LOG_LEVEL
// was given explicitly.
func applyLogLevel(level string) error {
	if os.Getenv("LOG_LEVEL") != "" && !verbose {
		return nil
	}
	return telemetry.SetGlobalLevel(level)
}
