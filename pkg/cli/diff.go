package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/redrive/redrive/pkg/harness"
	"github.com/redrive/redrive/pkg/results"
)

// DiffResult holds the comparison between two session set runs
type DiffResult struct {
	BaseStats    results.Stats
	HeadStats    results.Stats
	Regressions  []SessionDiff
	Improvements []SessionDiff
	New          []SessionDiff
	Removed      []SessionDiff
}

// SessionDiff holds the diff for a single session
type SessionDiff struct {
	Name          string
	BasePassed    bool
	HeadPassed    bool
	BaseAttempts  int
	HeadAttempts  int
	FailureReason string
}

// NewDiffCmd creates the diff command
func NewDiffCmd() *cobra.Command {
	var outputFormat string
	var baseFile string
	var currentFile string

	cmd := &cobra.Command{
		Use:   "diff --base <results-file> --current <results-file>",
		Short: "Compare two session set results",
		Long: `Compare session results between two runs (e.g., main vs PR).

Shows regressions, improvements, and overall success rate changes.
Useful for posting on pull requests to show impact of changes.

Example:
  redrive diff --base results-main.json --current results-pr.json
  redrive diff --base results-main.json --current results-pr.json --output markdown`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			baseResults, err := results.Load(baseFile)
			if err != nil {
				return fmt.Errorf("failed to load base results: %w", err)
			}

			currentResults, err := results.Load(currentFile)
			if err != nil {
				return fmt.Errorf("failed to load current results: %w", err)
			}

			diff := calculateDiff(baseFile, currentFile, baseResults, currentResults)

			switch outputFormat {
			case "text":
				outputTextDiff(diff)
			case "markdown":
				outputMarkdownDiff(diff)
			default:
				return fmt.Errorf("unknown output format: %s", outputFormat)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&baseFile, "base", "", "Base results file (e.g., main branch)")
	cmd.Flags().StringVar(&currentFile, "current", "", "Current results file (e.g., PR branch)")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format (text, markdown)")

	_ = cmd.MarkFlagRequired("base")
	_ = cmd.MarkFlagRequired("current")

	return cmd
}

func sessionPassed(r *harness.SessionResult) bool {
	return r.Error == "" && r.Result != nil && r.Result.Succeeded()
}

func sessionAttempts(r *harness.SessionResult) int {
	if r.Result == nil {
		return 0
	}
	return r.Result.AttemptsUsed
}

func calculateDiff(baseFile, currentFile string, baseResults, currentResults []*harness.SessionResult) DiffResult {
	diff := DiffResult{
		BaseStats:    results.CalculateStats(baseFile, baseResults),
		HeadStats:    results.CalculateStats(currentFile, currentResults),
		Regressions:  make([]SessionDiff, 0),
		Improvements: make([]SessionDiff, 0),
		New:          make([]SessionDiff, 0),
		Removed:      make([]SessionDiff, 0),
	}

	baseMap := make(map[string]*harness.SessionResult)
	for _, r := range baseResults {
		baseMap[r.Name] = r
	}

	currentMap := make(map[string]*harness.SessionResult)
	for _, r := range currentResults {
		currentMap[r.Name] = r
	}

	for _, current := range currentResults {
		base, exists := baseMap[current.Name]
		if !exists {
			diff.New = append(diff.New, SessionDiff{
				Name:         current.Name,
				HeadPassed:   sessionPassed(current),
				HeadAttempts: sessionAttempts(current),
			})
			continue
		}

		basePassed := sessionPassed(base)
		currentPassed := sessionPassed(current)

		sessionDiff := SessionDiff{
			Name:          current.Name,
			BasePassed:    basePassed,
			HeadPassed:    currentPassed,
			BaseAttempts:  sessionAttempts(base),
			HeadAttempts:  sessionAttempts(current),
			FailureReason: results.FailureReason(current),
		}

		if basePassed && !currentPassed {
			diff.Regressions = append(diff.Regressions, sessionDiff)
		} else if !basePassed && currentPassed {
			diff.Improvements = append(diff.Improvements, sessionDiff)
		}
	}

	for _, base := range baseResults {
		if _, exists := currentMap[base.Name]; !exists {
			diff.Removed = append(diff.Removed, SessionDiff{
				Name:         base.Name,
				BasePassed:   sessionPassed(base),
				BaseAttempts: sessionAttempts(base),
			})
		}
	}

	return diff
}

func outputTextDiff(diff DiffResult) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)
	bold := color.New(color.Bold)

	_, _ = bold.Println("=== Session Set Diff ===")
	fmt.Println()

	if len(diff.Regressions) > 0 {
		_, _ = red.Printf("Regressions (%d):\n", len(diff.Regressions))
		for _, r := range diff.Regressions {
			_, _ = red.Printf("  ✗ %s: SUCCEEDED → FAILED\n", r.Name)
			if r.FailureReason != "" {
				fmt.Printf("      %s\n", r.FailureReason)
			}
		}
		fmt.Println()
	}

	if len(diff.Improvements) > 0 {
		_, _ = green.Printf("Improvements (%d):\n", len(diff.Improvements))
		for _, r := range diff.Improvements {
			_, _ = green.Printf("  ✓ %s: FAILED → SUCCEEDED\n", r.Name)
		}
		fmt.Println()
	}

	if len(diff.New) > 0 {
		_, _ = yellow.Printf("New Sessions (%d):\n", len(diff.New))
		for _, r := range diff.New {
			if r.HeadPassed {
				_, _ = green.Printf("  + %s: SUCCEEDED\n", r.Name)
			} else {
				_, _ = red.Printf("  + %s: FAILED\n", r.Name)
			}
		}
		fmt.Println()
	}

	if len(diff.Removed) > 0 {
		_, _ = yellow.Printf("Removed Sessions (%d):\n", len(diff.Removed))
		for _, r := range diff.Removed {
			fmt.Printf("  - %s\n", r.Name)
		}
		fmt.Println()
	}

	_, _ = bold.Println("=== Summary ===")
	fmt.Println()

	successChange := diff.HeadStats.SuccessRate - diff.BaseStats.SuccessRate
	attemptsChange := diff.HeadStats.MeanAttempts - diff.BaseStats.MeanAttempts

	fmt.Printf("               Base        Head        Change\n")
	fmt.Printf("Sessions:      %d/%-8d %d/%-8d ",
		diff.BaseStats.Succeeded, diff.BaseStats.SessionsTotal,
		diff.HeadStats.Succeeded, diff.HeadStats.SessionsTotal)
	printChange(successChange)

	fmt.Printf("Mean Attempts: %-10.2f %-10.2f ",
		diff.BaseStats.MeanAttempts, diff.HeadStats.MeanAttempts)
	printAttemptsChange(attemptsChange)
}

func printChange(change float64) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	if change > 0 {
		_, _ = green.Printf("+%.1f%%\n", change*100)
	} else if change < 0 {
		_, _ = red.Printf("%.1f%%\n", change*100)
	} else {
		fmt.Println("0.0%")
	}
}

func printAttemptsChange(change float64) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	// fewer attempts is better
	if change < 0 {
		_, _ = green.Printf("%.2f\n", change)
	} else if change > 0 {
		_, _ = red.Printf("+%.2f\n", change)
	} else {
		fmt.Println("0.00")
	}
}

func outputMarkdownDiff(diff DiffResult) {
	successChange := diff.HeadStats.SuccessRate - diff.BaseStats.SuccessRate

	fmt.Println("### 📊 Session Results")
	fmt.Println()
	fmt.Println("| Metric | Base | Head | Change |")
	fmt.Println("|--------|------|------|--------|")
	fmt.Printf("| Sessions | %d/%d (%.1f%%) | %d/%d (%.1f%%) | %s |\n",
		diff.BaseStats.Succeeded, diff.BaseStats.SessionsTotal, diff.BaseStats.SuccessRate*100,
		diff.HeadStats.Succeeded, diff.HeadStats.SessionsTotal, diff.HeadStats.SuccessRate*100,
		formatChangeMarkdown(successChange))
	fmt.Printf("| Mean Attempts | %.2f | %.2f | %+.2f |\n",
		diff.BaseStats.MeanAttempts, diff.HeadStats.MeanAttempts,
		diff.HeadStats.MeanAttempts-diff.BaseStats.MeanAttempts)

	if len(diff.Regressions) > 0 {
		fmt.Println()
		fmt.Printf("#### ❌ Regressions (%d)\n", len(diff.Regressions))
		fmt.Println()
		for _, r := range diff.Regressions {
			fmt.Printf("- **%s**: SUCCEEDED → FAILED", r.Name)
			if r.FailureReason != "" {
				fmt.Printf(" (%s)", r.FailureReason)
			}
			fmt.Println()
		}
	}

	if len(diff.Improvements) > 0 {
		fmt.Println()
		fmt.Printf("#### ✅ Improvements (%d)\n", len(diff.Improvements))
		fmt.Println()
		for _, r := range diff.Improvements {
			fmt.Printf("- **%s**: FAILED → SUCCEEDED\n", r.Name)
		}
	}
}

func formatChangeMarkdown(change float64) string {
	if change > 0 {
		return fmt.Sprintf("📈 +%.1f%%", change*100)
	}
	if change < 0 {
		return fmt.Sprintf("📉 %.1f%%", change*100)
	}
	return "➖ 0.0%"
}
