// Package contracts holds the data model and collaborator interfaces shared
// by the retry orchestrator, executors, verifiers, and observers.
package contracts

import "time"

// ExecutionStatus is the terminal status of one execution attempt.
type ExecutionStatus string

const (
	ExecutionSucceeded        ExecutionStatus = "succeeded"
	ExecutionFailed           ExecutionStatus = "failed"
	ExecutionTimedOut         ExecutionStatus = "timed_out"
	ExecutionTurnLimitReached ExecutionStatus = "turn_limit_reached"
)

// ExecutionOutcome is produced once per attempt and is immutable after that.
type ExecutionOutcome struct {
	Status     ExecutionStatus `json:"status"`
	Diagnostic string          `json:"diagnostic,omitempty"`
}

// FailureCategory classifies a verification failure.
type FailureCategory string

const (
	FailureBuild  FailureCategory = "build"
	FailureTest   FailureCategory = "test"
	FailureLint   FailureCategory = "lint"
	FailureCustom FailureCategory = "custom"
)

// VerificationFailure is one failure reported by a verifier. ShortSummary is
// the compact, agent-safe form; RawDetail is unbounded, exists for humans
// and observers only, and is never forwarded to the agent.
type VerificationFailure struct {
	Category     FailureCategory `json:"category"`
	ShortSummary string          `json:"shortSummary"`
	RawDetail    string          `json:"rawDetail,omitempty"`
}

// VerificationOutcome is the result of one verification pass.
type VerificationOutcome struct {
	Passed   bool                  `json:"passed"`
	Failures []VerificationFailure `json:"failures,omitempty"`
	Elapsed  time.Duration         `json:"elapsed"`
}

// RetryPolicy controls how many attempts a run is allowed and which verifier,
// if any, judges each attempt. Immutable for the duration of a run.
type RetryPolicy struct {
	// MaxAttempts is the attempt budget. Zero means the orchestrator default.
	MaxAttempts int `json:"maxAttempts,omitempty"`

	// Verifier judges the workspace after each successful execution. When
	// nil, the first successful execution ends the run.
	Verifier Verifier `json:"-"`
}

// FinalStatus is the verdict of a whole run.
type FinalStatus string

const (
	RunSucceeded        FinalStatus = "succeeded"
	RunSessionFailed    FinalStatus = "session_failed"
	RunRetriesExhausted FinalStatus = "retries_exhausted"
)

// RunResult captures everything about one run: the verdict, how many attempts
// were used, and the per-attempt outcomes in order. It is append-only while
// the run is in flight and frozen once returned.
type RunResult struct {
	FinalStatus FinalStatus `json:"finalStatus"`

	// SessionFailure holds the offending execution status when FinalStatus
	// is session_failed.
	SessionFailure ExecutionStatus `json:"sessionFailure,omitempty"`

	AttemptsUsed         int                   `json:"attemptsUsed"`
	ExecutionOutcomes    []ExecutionOutcome    `json:"executionOutcomes"`
	VerificationOutcomes []VerificationOutcome `json:"verificationOutcomes,omitempty"`
	ErrorMessage         string                `json:"errorMessage,omitempty"`
}

// Succeeded reports whether the run ended with a passing verdict.
func (r *RunResult) Succeeded() bool {
	return r.FinalStatus == RunSucceeded
}

// LastVerification returns the most recent verification outcome, or nil if
// no verification ran.
func (r *RunResult) LastVerification() *VerificationOutcome {
	if len(r.VerificationOutcomes) == 0 {
		return nil
	}
	return &r.VerificationOutcomes[len(r.VerificationOutcomes)-1]
}
