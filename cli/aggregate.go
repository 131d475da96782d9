package cli

import (
	"github.com/mykhaliev/agent-oracle/engine"
	"github.com/mykhaliev/agent-oracle/report"
	"github.com/spf13/cobra"
)

// NewAggregateCmd merges exported results of several invocations.
func NewAggregateCmd() *cobra.Command {
	var (
		outputPath string
		keywords   []string
	)

	cmd := &cobra.Command{
		Use:   "aggregate <result.json>...",
		Short: "Merge JSON results of the same scenario into one result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := engine.Aggregate(args, keywords)
			if err != nil {
				return err
			}
			if outputPath != "" {
				if err := result.WriteJSON(outputPath); err != nil {
					return err
				}
			}
			report.Console(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Path of the merged JSON result file")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "Hallucination keywords (defaults to the built-in list)")

	return cmd
}
