// Package results provides utilities for saving, loading, filtering, and
// analyzing session run results.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/redrive/redrive/pkg/contracts"
	"github.com/redrive/redrive/pkg/harness"
)

// Stats holds computed statistics from a batch of session results.
type Stats struct {
	ResultsFile      string  `json:"resultsFile"`
	SessionsTotal    int     `json:"sessionsTotal"`
	Succeeded        int     `json:"succeeded"`
	RetriesExhausted int     `json:"retriesExhausted"`
	SessionFailed    int     `json:"sessionFailed"`
	Errored          int     `json:"errored"`
	SuccessRate      float64 `json:"successRate"`
	TotalAttempts    int     `json:"totalAttempts"`
	MeanAttempts     float64 `json:"meanAttempts"`
}

// Save writes session results to a JSON file.
func Save(path string, results []*harness.SessionResult) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write results file: %w", err)
	}

	return nil
}

// Load reads a JSON results file and returns the parsed session results.
func Load(path string) ([]*harness.SessionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}

	var results []*harness.SessionResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to parse results JSON: %w", err)
	}

	return results, nil
}

// Filter returns the subset of results whose session names contain the filter substring.
func Filter(results []*harness.SessionResult, filter string) []*harness.SessionResult {
	if filter == "" {
		return results
	}

	filter = strings.ToLower(filter)
	filtered := make([]*harness.SessionResult, 0, len(results))
	for _, r := range results {
		if strings.Contains(strings.ToLower(r.Name), filter) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// CalculateStats computes statistics from session results.
func CalculateStats(resultsFile string, results []*harness.SessionResult) Stats {
	stats := Stats{
		ResultsFile:   resultsFile,
		SessionsTotal: len(results),
	}

	for _, r := range results {
		if r.Result == nil {
			stats.Errored++
			continue
		}

		stats.TotalAttempts += r.Result.AttemptsUsed

		switch r.Result.FinalStatus {
		case contracts.RunSucceeded:
			stats.Succeeded++
		case contracts.RunRetriesExhausted:
			stats.RetriesExhausted++
		case contracts.RunSessionFailed:
			stats.SessionFailed++
		}
	}

	if stats.SessionsTotal > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.SessionsTotal)
	}
	ran := stats.SessionsTotal - stats.Errored
	if ran > 0 {
		stats.MeanAttempts = float64(stats.TotalAttempts) / float64(ran)
	}

	return stats
}

// FailureReason returns a short explanation of why a session did not succeed.
func FailureReason(r *harness.SessionResult) string {
	if r.Error != "" {
		return r.Error
	}
	if r.Result == nil {
		return ""
	}

	switch r.Result.FinalStatus {
	case contracts.RunSessionFailed:
		reason := fmt.Sprintf("session failure: %s", r.Result.SessionFailure)
		if r.Result.ErrorMessage != "" {
			reason = fmt.Sprintf("%s: %s", reason, r.Result.ErrorMessage)
		}
		return reason
	case contracts.RunRetriesExhausted:
		if last := r.Result.LastVerification(); last != nil && len(last.Failures) > 0 {
			return last.Failures[0].ShortSummary
		}
		return "retries exhausted"
	default:
		return ""
	}
}

// CollectFailures returns formatted failure messages from a session's last
// verification.
func CollectFailures(r *harness.SessionResult) []string {
	if r.Result == nil {
		return nil
	}

	last := r.Result.LastVerification()
	if last == nil || last.Passed {
		return nil
	}

	failures := make([]string, 0, len(last.Failures))
	for _, f := range last.Failures {
		failures = append(failures, fmt.Sprintf("%s: %s", f.Category, f.ShortSummary))
	}

	return failures
}
