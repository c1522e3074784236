package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/redrive/redrive/pkg/contracts"
	"github.com/redrive/redrive/pkg/harness"
	"github.com/redrive/redrive/pkg/results"
	"github.com/redrive/redrive/pkg/util"
)

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	var outputFormat string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run [session-set-file]",
		Short: "Run a session set",
		Long:  `Run every session in the specified session set configuration file.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile := args[0]

			set, err := harness.FromFile(configFile)
			if err != nil {
				return fmt.Errorf("failed to load session set: %w", err)
			}

			runner, err := harness.NewRunner(set)
			if err != nil {
				return fmt.Errorf("failed to create runner: %w", err)
			}

			display := newProgressDisplay(verbose)

			ctx := util.WithVerbose(context.Background(), verbose)
			sessionResults, runErr := runner.RunWithProgress(ctx, display.handleProgress)

			outputFile := fmt.Sprintf("redrive-%s-out.json", set.Metadata.Name)
			if err := results.Save(outputFile, sessionResults); err != nil {
				return fmt.Errorf("failed to save results to file: %w", err)
			}
			fmt.Printf("\n📄 Results saved to: %s\n", outputFile)

			if err := displayResults(sessionResults, outputFormat); err != nil {
				return fmt.Errorf("failed to display results: %w", err)
			}

			return runErr
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format (text, json)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	return cmd
}

// progressDisplay handles interactive progress display
type progressDisplay struct {
	verbose bool
	green   *color.Color
	red     *color.Color
	yellow  *color.Color
	cyan    *color.Color
	bold    *color.Color
}

func newProgressDisplay(verbose bool) *progressDisplay {
	return &progressDisplay{
		verbose: verbose,
		green:   color.New(color.FgGreen),
		red:     color.New(color.FgRed),
		yellow:  color.New(color.FgYellow),
		cyan:    color.New(color.FgCyan),
		bold:    color.New(color.Bold),
	}
}

func (d *progressDisplay) handleProgress(event harness.ProgressEvent) {
	switch event.Type {
	case harness.EventBatchStart:
		d.bold.Println("\n=== Starting Session Set ===")

	case harness.EventSessionStart:
		fmt.Println()
		d.cyan.Printf("Session: %s\n", event.Session)

	case harness.EventAttemptStart:
		fmt.Printf("  → Attempt %d...\n", event.Attempt)

	case harness.EventVerificationComplete:
		if event.Verification.Passed {
			d.green.Printf("  ✓ Attempt %d passed verification\n", event.Attempt)
		} else {
			d.yellow.Printf("  ~ Attempt %d failed verification (%d failure(s))\n",
				event.Attempt, len(event.Verification.Failures))
			if d.verbose {
				for _, f := range event.Verification.Failures {
					fmt.Printf("      [%s] %s\n", f.Category, f.ShortSummary)
				}
			}
		}

	case harness.EventSessionComplete:
		switch event.Result.FinalStatus {
		case contracts.RunSucceeded:
			d.green.Printf("  ✓ Session succeeded after %d attempt(s)\n", event.Result.AttemptsUsed)
		case contracts.RunSessionFailed:
			d.red.Printf("  ✗ Session failed: %s\n", event.Result.SessionFailure)
			if event.Result.ErrorMessage != "" {
				fmt.Printf("    Error: %s\n", event.Result.ErrorMessage)
			}
		case contracts.RunRetriesExhausted:
			d.red.Printf("  ✗ Retries exhausted after %d attempt(s)\n", event.Result.AttemptsUsed)
		}

	case harness.EventSessionError:
		d.red.Printf("  ✗ %s\n", event.Message)

	case harness.EventPluginLog:
		if d.verbose {
			fmt.Printf("  %s\n", event.Message)
		}

	case harness.EventBatchComplete:
		fmt.Println()
		d.bold.Println("=== Session Set Complete ===")
	}
}

func displayResults(sessionResults []*harness.SessionResult, format string) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(sessionResults)

	case "text":
		return displayTextResults(sessionResults)

	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

func displayTextResults(sessionResults []*harness.SessionResult) error {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	bold := color.New(color.Bold)

	fmt.Println()
	bold.Println("=== Results Summary ===")
	fmt.Println()

	for _, r := range sessionResults {
		fmt.Printf("Session: %s\n", r.Name)
		fmt.Printf("  Workspace: %s\n", r.Workspace)

		switch {
		case r.Error != "":
			red.Printf("  Status: ERROR\n")
			fmt.Printf("  Error: %s\n", r.Error)
		case r.Result.Succeeded():
			green.Printf("  Status: SUCCEEDED (%d attempt(s))\n", r.Result.AttemptsUsed)
		default:
			red.Printf("  Status: %s (%d attempt(s))\n", r.Result.FinalStatus, r.Result.AttemptsUsed)
			if reason := results.FailureReason(r); reason != "" {
				fmt.Printf("  Reason: %s\n", reason)
			}
		}

		fmt.Println()
	}

	stats := results.CalculateStats("", sessionResults)

	bold.Println("=== Overall Statistics ===")
	fmt.Printf("Total Sessions: %d\n", stats.SessionsTotal)

	if stats.Succeeded == stats.SessionsTotal {
		green.Printf("Sessions Succeeded: %d/%d\n", stats.Succeeded, stats.SessionsTotal)
	} else {
		fmt.Printf("Sessions Succeeded: %d/%d\n", stats.Succeeded, stats.SessionsTotal)
	}
	if stats.SessionsTotal > stats.Errored {
		fmt.Printf("Mean Attempts: %.2f\n", stats.MeanAttempts)
	}

	return nil
}
