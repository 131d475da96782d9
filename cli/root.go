package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mykhaliev/agent-oracle/logger"
	"github.com/mykhaliev/agent-oracle/templates"
	"github.com/spf13/cobra"
)

const AppName = "agent-oracle"

// ErrNotPassed is returned when the scenario did not pass every run, so the
// process exits non-zero.
var ErrNotPassed = errors.New("scenario did not pass every run")

// NewRootCmd creates the root agent-oracle command
func NewRootCmd() *cobra.Command {
	var (
		logPath string
		verbose bool
		logFile io.Closer
	)

	rootCmd := &cobra.Command{
		Use:   AppName,
		Short: "Scenario oracle for AI agents",
		Long: `agent-oracle replays an agent against a scenario several times, checks tool calls,
responses and the resulting entity state, and reports pass rate, flakiness and
likely hallucinations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			w, f, err := logger.SetupLogWriter(logPath)
			if err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}
			if f != nil {
				logFile = f
			}
			logger.SetupLogger(w, verbose)
			templates.NewTemplateEngine()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logFile != nil {
				logFile.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&logPath, "log", "l", "", "Path to the log file (logs to stdout when empty)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewAggregateCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

// exitCode maps a command error to a process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotPassed):
		return 1
	default:
		return 2
	}
}

// Main runs the CLI and exits.
func Main() {
	err := Execute()
	if err != nil && !errors.Is(err, ErrNotPassed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}
