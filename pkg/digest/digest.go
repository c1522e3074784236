// Package digest turns raw verifier output into compact, agent-safe failure
// summaries. Every function is a pure transform: no I/O, deterministic on
// identical input, and never empty for a known failure.
package digest

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/redrive/redrive/pkg/contracts"
)

const (
	// MaxExamples is how many individual failure lines an extractor shows
	// before collapsing the rest into an "and N more" suffix.
	MaxExamples = 5

	// ShortSummaryLimit bounds a single agent-facing failure line.
	ShortSummaryLimit = 100

	// Ceiling is the hard byte budget for a built digest, chosen to stay
	// safely under ~500 tokens of agent context.
	Ceiling = 2000

	// TruncationMarker terminates a digest that was cut at the ceiling.
	TruncationMarker = "\n[digest truncated]"

	ellipsis = "..."
)

var (
	// file:line[:col]: message, the shape shared by compilers and linters.
	positionRx = regexp.MustCompile(`^\s*\S+?:\d+(?::\d+)?:\s*\S`)

	// "error:" / "error[E0382]:" style compiler diagnostics.
	errorCodeRx = regexp.MustCompile(`(?i)\berror(\[\w+\])?:`)

	// Per-test failure markers: go test, jest/vitest bullets, TAP.
	testMarkerRx = regexp.MustCompile(`^\s*(---\s*FAIL|FAIL\b|✕|✗|×\s|●\s|not ok\b)`)

	// Summary-count lines such as "Tests: 3 failed, 12 passed, 15 total"
	// or "2 failing".
	testCountRx = regexp.MustCompile(`(?i)\b\d+\s+fail(ed|ing|ures)?\b`)
)

// ExtractBuildFailures summarizes raw compiler output. It keeps lines with a
// file/position/message shape, falling back to the first MaxExamples lines
// that mention "error" when nothing structured matches.
func ExtractBuildFailures(raw string) string {
	matches := matchLines(raw, func(line string) bool {
		return positionRx.MatchString(line) || errorCodeRx.MatchString(line)
	})
	if len(matches) == 0 {
		matches = errorMentionLines(raw)
	}
	if len(matches) == 0 {
		return "build failed, no specific failure lines identified"
	}
	return renderSummary(fmt.Sprintf("%d build error lines", len(matches)), matches)
}

// ExtractTestFailures summarizes raw test runner output: the first
// summary-count line plus up to MaxExamples per-test failure markers.
func ExtractTestFailures(raw string) string {
	markers := matchLines(raw, testMarkerRx.MatchString)
	counts := matchLines(raw, func(line string) bool {
		return testCountRx.MatchString(line) && !testMarkerRx.MatchString(line)
	})

	if len(markers) == 0 && len(counts) == 0 {
		return "tests failed, no specific failure lines identified"
	}

	header := fmt.Sprintf("%d failing tests", len(markers))
	if len(counts) > 0 {
		header = Clip(counts[0], ShortSummaryLimit)
	}
	if len(markers) == 0 {
		return header
	}
	return renderSummary(header, markers)
}

// ExtractLintFailures summarizes raw linter output: violation count, distinct
// file count, and up to MaxExamples example lines.
func ExtractLintFailures(raw string) string {
	matches := matchLines(raw, positionRx.MatchString)
	if len(matches) == 0 {
		matches = errorMentionLines(raw)
		if len(matches) == 0 {
			return "lint failed, no specific violation lines identified"
		}
		return renderSummary(fmt.Sprintf("%d lint failure lines", len(matches)), matches)
	}

	files := make(map[string]struct{}, len(matches))
	for _, line := range matches {
		if i := strings.Index(line, ":"); i > 0 {
			files[line[:i]] = struct{}{}
		}
	}
	header := fmt.Sprintf("%d lint issues in %d files", len(matches), len(files))
	return renderSummary(header, matches)
}

// ExtractGenericFailures summarizes output from custom verifiers that have no
// structured shape of their own.
func ExtractGenericFailures(raw string) string {
	matches := errorMentionLines(raw)
	if len(matches) == 0 {
		return "verification failed, no specific failure lines identified"
	}
	return renderSummary(fmt.Sprintf("%d failure lines", len(matches)), matches)
}

// Build assembles the digest forwarded to the agent on a retry attempt. It
// skips passed outcomes, emits one "[CATEGORY] shortSummary" line per failure
// with blank lines between outcomes, and hard-truncates at Ceiling with an
// explicit marker. RawDetail never appears here.
func Build(outcomes []contracts.VerificationOutcome) string {
	blocks := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Passed {
			continue
		}
		lines := make([]string, 0, len(o.Failures))
		for _, f := range o.Failures {
			lines = append(lines, fmt.Sprintf("[%s] %s",
				strings.ToUpper(string(f.Category)),
				Clip(f.ShortSummary, ShortSummaryLimit)))
		}
		if len(lines) == 0 {
			lines = append(lines, "[CUSTOM] verification failed, no failure detail provided")
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}

	out := strings.Join(blocks, "\n\n")
	if len(out) > Ceiling {
		cut := Ceiling - len(TruncationMarker)
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + TruncationMarker
	}
	return out
}

// Lines splits an extractor summary into individual agent-safe lines, each
// clipped to ShortSummaryLimit.
func Lines(summary string) []string {
	raw := strings.Split(summary, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, Clip(line, ShortSummaryLimit))
	}
	return out
}

// Clip truncates s to at most limit bytes without splitting a rune, marking
// the cut with an ellipsis.
func Clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}

func renderSummary(header string, lines []string) string {
	parts := make([]string, 0, MaxExamples+2)
	parts = append(parts, header)

	shown := lines
	if len(shown) > MaxExamples {
		shown = shown[:MaxExamples]
	}
	for _, line := range shown {
		parts = append(parts, Clip(line, ShortSummaryLimit))
	}
	if extra := len(lines) - len(shown); extra > 0 {
		parts = append(parts, fmt.Sprintf("... and %d more", extra))
	}
	return strings.Join(parts, "\n")
}

func matchLines(raw string, match func(string) bool) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if match(line) {
			out = append(out, trimmed)
		}
	}
	return out
}

func errorMentionLines(raw string) []string {
	lines := matchLines(raw, func(line string) bool {
		return strings.Contains(strings.ToLower(line), "error")
	})
	if len(lines) > MaxExamples {
		lines = lines[:MaxExamples]
	}
	return lines
}
