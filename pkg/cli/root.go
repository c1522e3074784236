package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root redrive command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "redrive",
		Short: "Retry harness for agent-driven code changes",
		Long: `redrive runs coding agents against workspaces and retries failed attempts.
Each attempt is verified; failures are summarized and fed back into the next
attempt's instruction until it passes or the attempt budget runs out.`,
	}

	// Add subcommands
	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewSummaryCmd())
	rootCmd.AddCommand(NewCheckCmd())
	rootCmd.AddCommand(NewDiffCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
