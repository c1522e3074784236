// Package cli provides the redrive command line interface.
package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/redrive/redrive/pkg/contracts"
	"github.com/redrive/redrive/pkg/harness"
	"github.com/redrive/redrive/pkg/results"
)

// NewSummaryCmd creates the summary command for rendering saved results.
func NewSummaryCmd() *cobra.Command {
	var sessionFilter string
	var showFailures bool

	cmd := &cobra.Command{
		Use:   "summary <results-file>",
		Short: "Pretty-print session results from a JSON file",
		Long: `Render the JSON output produced by "redrive run" in a human-friendly format.

Examples:
  redrive summary redrive-nightly-out.json
  redrive summary --session fix-flaky-test redrive-nightly-out.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionResults, err := results.Load(args[0])
			if err != nil {
				return err
			}

			filtered := results.Filter(sessionResults, sessionFilter)
			if len(filtered) == 0 {
				if sessionFilter == "" {
					return errors.New("no sessions found in results")
				}
				return fmt.Errorf("no sessions matched filter %q", sessionFilter)
			}

			for idx, r := range filtered {
				if idx > 0 {
					fmt.Println()
				}
				printSessionResult(r, showFailures)
			}

			fmt.Println()
			printStats(results.CalculateStats(args[0], filtered))

			return nil
		},
	}

	cmd.Flags().StringVar(&sessionFilter, "session", "", "Only show results for sessions whose name contains this value")
	cmd.Flags().BoolVar(&showFailures, "failures", true, "Include last-attempt verification failures")

	return cmd
}

func printSessionResult(r *harness.SessionResult, showFailures bool) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	bold.Printf("Session: %s\n", r.Name)
	fmt.Printf("  Workspace: %s\n", r.Workspace)

	if r.Error != "" {
		red.Printf("  Status: ERROR\n")
		printMultilineField("Error", r.Error)
		return
	}

	switch r.Result.FinalStatus {
	case contracts.RunSucceeded:
		green.Printf("  Status: SUCCEEDED\n")
	case contracts.RunSessionFailed:
		red.Printf("  Status: SESSION FAILED (%s)\n", r.Result.SessionFailure)
	case contracts.RunRetriesExhausted:
		yellow.Printf("  Status: RETRIES EXHAUSTED\n")
	default:
		fmt.Printf("  Status: %s\n", r.Result.FinalStatus)
	}

	fmt.Printf("  Attempts: %d\n", r.Result.AttemptsUsed)
	if r.Result.ErrorMessage != "" {
		printMultilineField("Error", r.Result.ErrorMessage)
	}

	if showFailures {
		for _, failure := range results.CollectFailures(r) {
			fmt.Printf("    ✗ %s\n", failure)
		}
	}
}

func printStats(stats results.Stats) {
	bold := color.New(color.Bold)

	bold.Println("=== Overall Statistics ===")
	fmt.Printf("Total Sessions: %d\n", stats.SessionsTotal)
	fmt.Printf("Succeeded: %d\n", stats.Succeeded)
	fmt.Printf("Retries Exhausted: %d\n", stats.RetriesExhausted)
	fmt.Printf("Session Failures: %d\n", stats.SessionFailed)
	if stats.Errored > 0 {
		fmt.Printf("Errored: %d\n", stats.Errored)
	}
	fmt.Printf("Success Rate: %.2f%%\n", stats.SuccessRate*100)
	fmt.Printf("Mean Attempts: %.2f\n", stats.MeanAttempts)
}

func printMultilineField(label, value string) {
	lines := strings.Split(strings.TrimSpace(value), "\n")
	if len(lines) == 1 {
		fmt.Printf("  %s: %s\n", label, lines[0])
		return
	}

	fmt.Printf("  %s:\n", label)
	for _, line := range lines {
		fmt.Printf("    %s\n", line)
	}
}
