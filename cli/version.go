package cli

import (
	"fmt"

	"github.com/mykhaliev/agent-oracle/version"
	"github.com/spf13/cobra"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\nCommit: %s\nBuildDate: %s\n",
				version.Version, version.Commit, version.BuildDate)
			return err
		},
	}
}
