package digest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redrive/redrive/pkg/contracts"
)

func TestExtractBuildFailures(t *testing.T) {
	tt := map[string]struct {
		raw      string
		contains []string
	}{
		"position-shaped compiler errors": {
			raw: "compiling...\n" +
				"src/main.go:10:5: undefined: foo\n" +
				"src/main.go:22:1: missing return\n" +
				"exit status 2\n",
			contains: []string{
				"2 build error lines",
				"src/main.go:10:5: undefined: foo",
				"src/main.go:22:1: missing return",
			},
		},
		"error code diagnostics": {
			raw:      "error[E0382]: borrow of moved value: `s`\n",
			contains: []string{"1 build error lines", "error[E0382]"},
		},
		"unstructured output falls back to error mentions": {
			raw:      "something went wrong\nlinker error: cannot find -lssl\n",
			contains: []string{"linker error: cannot find -lssl"},
		},
		"no recognizable lines": {
			raw:      "warning: deprecated flag\n",
			contains: []string{"build failed, no specific failure lines identified"},
		},
		"empty output": {
			raw:      "",
			contains: []string{"build failed, no specific failure lines identified"},
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			summary := ExtractBuildFailures(tc.raw)
			assert.NotEmpty(t, summary)
			for _, want := range tc.contains {
				assert.Contains(t, summary, want)
			}
		})
	}
}

func TestExtractBuildFailures_CollapsesExamples(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&sb, "pkg/a.go:%d:1: syntax error\n", i+1)
	}

	summary := ExtractBuildFailures(sb.String())

	assert.Contains(t, summary, "12 build error lines")
	assert.Contains(t, summary, "... and 7 more")
	// header + MaxExamples + "and N more"
	assert.Len(t, strings.Split(summary, "\n"), MaxExamples+2)
}

func TestExtractTestFailures(t *testing.T) {
	tt := map[string]struct {
		raw      string
		contains []string
	}{
		"jest-style summary with bullets": {
			raw: "● renders the header\n" +
				"● handles empty input\n" +
				"● formats dates\n" +
				"Tests: 3 failed, 12 passed, 15 total\n",
			contains: []string{
				"Tests: 3 failed, 12 passed, 15 total",
				"● renders the header",
				"● handles empty input",
				"● formats dates",
			},
		},
		"go test output": {
			raw: "--- FAIL: TestParse (0.01s)\n" +
				"    parse_test.go:42: unexpected token\n" +
				"FAIL\n",
			contains: []string{"--- FAIL: TestParse"},
		},
		"count line only": {
			raw:      "  2 failing\n",
			contains: []string{"2 failing"},
		},
		"no recognizable lines": {
			raw:      "all output eaten by reporter\n",
			contains: []string{"tests failed, no specific failure lines identified"},
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			summary := ExtractTestFailures(tc.raw)
			assert.NotEmpty(t, summary)
			for _, want := range tc.contains {
				assert.Contains(t, summary, want)
			}
		})
	}
}

func TestExtractTestFailures_SummaryLineIsHeader(t *testing.T) {
	raw := "✕ adds numbers\nTests: 1 failed, 4 passed, 5 total\n"

	summary := ExtractTestFailures(raw)

	lines := strings.Split(summary, "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "Tests: 1 failed, 4 passed, 5 total", lines[0])
}

func TestExtractLintFailures(t *testing.T) {
	raw := "pkg/a.go:3:1: exported function A should have comment\n" +
		"pkg/a.go:9:2: ineffectual assignment to err\n" +
		"pkg/b.go:14:1: cyclomatic complexity 17 is high\n"

	summary := ExtractLintFailures(raw)

	assert.Contains(t, summary, "3 lint issues in 2 files")
	assert.Contains(t, summary, "pkg/b.go:14:1")
}

func TestExtractLintFailures_Fallback(t *testing.T) {
	assert.Equal(t,
		"lint failed, no specific violation lines identified",
		ExtractLintFailures("clean exit with bad status\n"))
}

func TestExtractGenericFailures(t *testing.T) {
	tt := map[string]struct {
		raw      string
		expected string
	}{
		"error mentions collected": {
			raw:      "step 1 ok\nstep 2 error: checksum mismatch\n",
			expected: "1 failure lines\nstep 2 error: checksum mismatch",
		},
		"nothing recognizable": {
			raw:      "exit 3\n",
			expected: "verification failed, no specific failure lines identified",
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			assert.Equal(t, tc.expected, ExtractGenericFailures(tc.raw))
		})
	}
}

func TestExtractors_Deterministic(t *testing.T) {
	raw := "src/x.go:1:1: boom\nTests: 1 failed, 1 total\nerror: nope\n"

	assert.Equal(t, ExtractBuildFailures(raw), ExtractBuildFailures(raw))
	assert.Equal(t, ExtractTestFailures(raw), ExtractTestFailures(raw))
	assert.Equal(t, ExtractLintFailures(raw), ExtractLintFailures(raw))
	assert.Equal(t, ExtractGenericFailures(raw), ExtractGenericFailures(raw))
}

func TestBuild(t *testing.T) {
	outcomes := []contracts.VerificationOutcome{
		{
			Passed: false,
			Failures: []contracts.VerificationFailure{
				{Category: contracts.FailureBuild, ShortSummary: "2 build error lines", RawDetail: "never forwarded"},
				{Category: contracts.FailureBuild, ShortSummary: "src/main.go:10:5: undefined: foo"},
			},
		},
		{Passed: true, Elapsed: time.Second},
		{
			Passed: false,
			Failures: []contracts.VerificationFailure{
				{Category: contracts.FailureTest, ShortSummary: "Tests: 3 failed, 12 passed, 15 total"},
			},
		},
	}

	out := Build(outcomes)

	assert.Contains(t, out, "[BUILD] 2 build error lines")
	assert.Contains(t, out, "[BUILD] src/main.go:10:5: undefined: foo")
	assert.Contains(t, out, "[TEST] Tests: 3 failed, 12 passed, 15 total")
	assert.NotContains(t, out, "never forwarded")

	// passed outcomes contribute nothing; failed outcomes are separated by
	// a blank line
	blocks := strings.Split(out, "\n\n")
	assert.Len(t, blocks, 2)
}

func TestBuild_FailedOutcomeWithoutFailures(t *testing.T) {
	out := Build([]contracts.VerificationOutcome{{Passed: false}})

	assert.Equal(t, "[CUSTOM] verification failed, no failure detail provided", out)
}

func TestBuild_CeilingTruncation(t *testing.T) {
	failures := make([]contracts.VerificationFailure, 0, 60)
	for i := 0; i < 60; i++ {
		failures = append(failures, contracts.VerificationFailure{
			Category:     contracts.FailureLint,
			ShortSummary: fmt.Sprintf("pkg/file%02d.go:1:1: long violation message repeated here", i),
		})
	}

	out := Build([]contracts.VerificationOutcome{{Passed: false, Failures: failures}})

	assert.LessOrEqual(t, len(out), Ceiling)
	assert.True(t, strings.HasSuffix(out, TruncationMarker))
}

func TestLines(t *testing.T) {
	long := strings.Repeat("x", ShortSummaryLimit+50)
	lines := Lines("header line\n\n  " + long + "  \n")

	require.Len(t, lines, 2)
	assert.Equal(t, "header line", lines[0])
	assert.LessOrEqual(t, len(lines[1]), ShortSummaryLimit)
	assert.True(t, strings.HasSuffix(lines[1], "..."))
}

func TestClip(t *testing.T) {
	tt := map[string]struct {
		in       string
		limit    int
		expected string
	}{
		"under limit unchanged": {
			in:       "short",
			limit:    10,
			expected: "short",
		},
		"exactly at limit unchanged": {
			in:       "1234567890",
			limit:    10,
			expected: "1234567890",
		},
		"over limit gets ellipsis": {
			in:       "12345678901",
			limit:    10,
			expected: "1234567...",
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			assert.Equal(t, tc.expected, Clip(tc.in, tc.limit))
		})
	}
}

func TestClip_DoesNotSplitRunes(t *testing.T) {
	in := strings.Repeat("é", 60)

	out := Clip(in, 50)

	assert.LessOrEqual(t, len(out), 50)
	assert.True(t, strings.HasSuffix(out, "..."))
	for _, r := range out {
		assert.NotEqual(t, '�', r)
	}
}
