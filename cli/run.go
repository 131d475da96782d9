package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/mykhaliev/agent-oracle/engine"
	"github.com/mykhaliev/agent-oracle/logger"
	"github.com/mykhaliev/agent-oracle/report"
	"github.com/spf13/cobra"
)

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	var (
		outputPath string
		runs       int
	)

	cmd := &cobra.Command{
		Use:   "run <config-file>",
		Short: "Run a scenario against the configured agent",
		Long: `Run the scenario named in the config file, repeating it --runs times,
and print a summary. The full result is exported as JSON to --output.

Examples:
  agent-oracle run oracle.yaml
  agent-oracle run oracle.yaml --runs 10 -o results/create-task.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := args[0]
			if err := engine.ValidateInputFile(configPath); err != nil {
				return fmt.Errorf("invalid input file: %w", err)
			}

			cfg, err := engine.ParseConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("runs") {
				cfg.Runs = runs
			}

			logger.Logger.Info("Starting application",
				"app", AppName,
				"config", configPath,
				"output", outputPath)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			result, err := engine.Run(ctx, cfg, engine.Options{OutputPath: outputPath})
			if err != nil {
				return err
			}

			report.Console(cmd.OutOrStdout(), result)
			if !result.Success {
				return ErrNotPassed
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Path of the JSON result file")
	cmd.Flags().IntVarP(&runs, "runs", "n", 0, "Number of runs, overriding the config")

	return cmd
}
