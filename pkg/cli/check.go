package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/redrive/redrive/pkg/results"
)

// NewCheckCmd creates the check command
func NewCheckCmd() *cobra.Command {
	var successThreshold float64
	var maxMeanAttempts float64

	cmd := &cobra.Command{
		Use:   "check <results-file>",
		Short: "Check session results meet thresholds",
		Long: `Check that session results meet minimum thresholds.

Exits with code 0 if all thresholds are met, code 1 otherwise.
Use 'redrive summary' to view detailed results.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			resultsFile := args[0]

			sessionResults, err := results.Load(resultsFile)
			if err != nil {
				return fmt.Errorf("failed to load results file: %w", err)
			}

			stats := results.CalculateStats(resultsFile, sessionResults)

			successMet := stats.SuccessRate >= successThreshold
			// A zero limit disables the mean-attempts check
			attemptsMet := maxMeanAttempts == 0 || stats.MeanAttempts <= maxMeanAttempts
			passed := successMet && attemptsMet

			outputCheckResults(stats, successThreshold, maxMeanAttempts, successMet, attemptsMet, passed)

			if !passed {
				// silent error (SilenceErrors: true), sets exit code 1
				return fmt.Errorf("thresholds not met")
			}

			return nil
		},
	}

	cmd.Flags().Float64Var(&successThreshold, "success", 0.0, "Minimum session success rate (0.0-1.0)")
	cmd.Flags().Float64Var(&maxMeanAttempts, "max-mean-attempts", 0.0, "Maximum mean attempts per session (0 = disabled)")

	return cmd
}

func outputCheckResults(stats results.Stats, successThreshold, maxMeanAttempts float64, successMet, attemptsMet, passed bool) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	bold := color.New(color.Bold)

	_, _ = bold.Println("=== Threshold Check ===")
	fmt.Println()

	if successMet {
		_, _ = green.Printf("Success Rate:  %.2f%% >= %.2f%% ✓\n",
			stats.SuccessRate*100, successThreshold*100)
	} else {
		_, _ = red.Printf("Success Rate:  %.2f%% < %.2f%% ✗\n",
			stats.SuccessRate*100, successThreshold*100)
	}

	if maxMeanAttempts == 0 {
		fmt.Println("Mean Attempts: N/A (no limit set)")
	} else if attemptsMet {
		_, _ = green.Printf("Mean Attempts: %.2f <= %.2f ✓\n",
			stats.MeanAttempts, maxMeanAttempts)
	} else {
		_, _ = red.Printf("Mean Attempts: %.2f > %.2f ✗\n",
			stats.MeanAttempts, maxMeanAttempts)
	}

	fmt.Println()
	if passed {
		_, _ = green.Println("Result: PASSED")
	} else {
		_, _ = red.Println("Result: FAILED")
	}
}
