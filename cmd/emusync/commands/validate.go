package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/emusync/emusync/pkg/config"
	"github.com/emusync/emusync/pkg/script"
	"github.com/emusync/emusync/pkg/sim"
)

// scriptVars are the globals run predeclares for every scenario.
var scriptVars = []string{"session", "max_frames"}

func newValidateCommand() *cobra.Command {
	var scripts []string

	cmd := &cobra.Command{
		Use:   "validate [config]",
		Short: "Validate a configuration file and scenario scripts",
		Long: `Validate an emusync configuration file without starting a session.

This command checks:
  - YAML syntax and field constraints
  - that the configured image, if any, is a readable ROM image
  - that scenario scripts parse and only use known builtins`,
		Example: `  # Validate the file given with --config
  emusync validate -c emusync.yaml

  # Validate a config and the scripts that will run against it
  emusync validate emusync.yaml --script scenarios/pause_step.star`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}

			report := validationReport{Config: path}

			cfg := config.Default()
			if path != "" {
				loaded, err := config.Load(path)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			if cfg.Engine.Image != "" {
				data, err := os.ReadFile(cfg.Engine.Image)
				if err != nil {
					return fmt.Errorf("failed to read image: %w", err)
				}
				img, err := sim.ParseImage(data)
				if err != nil {
					return fmt.Errorf("%s: %w", cfg.Engine.Image, err)
				}
				report.ImageTitle = img.Title
			}

			for _, s := range scripts {
				src, err := os.ReadFile(s)
				if err != nil {
					return fmt.Errorf("failed to read script: %w", err)
				}
				if err := script.Check(filepath.Base(s), string(src), scriptVars...); err != nil {
					return err
				}
				report.Scripts = append(report.Scripts, s)
			}

			log.Debug().Str("config", path).Int("scripts", len(report.Scripts)).Msg("Validation passed")

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			if path == "" {
				fmt.Fprintln(out, "Default configuration is valid")
			} else {
				fmt.Fprintf(out, "%s is valid\n", path)
			}
			if report.ImageTitle != "" {
				fmt.Fprintf(out, "Image: %q\n", report.ImageTitle)
			}
			for _, s := range report.Scripts {
				fmt.Fprintf(out, "Script %s is valid\n", s)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&scripts, "script", nil, "scenario script to check (repeatable)")

	return cmd
}

type validationReport struct {
	Config     string   `json:"config,omitempty"`
	ImageTitle string   `json:"image_title,omitempty"`
	Scripts    []string `json:"scripts,omitempty"`
}
