// Package session implements the retry orchestration loop: it sequences
// execution attempts and verification passes for one instruction, decides
// retry versus terminate, and assembles each retry attempt's instruction
// from the failure digest.
package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redrive/redrive/pkg/contracts"
	"github.com/redrive/redrive/pkg/digest"
)

const (
	// DefaultMaxAttempts applies when the policy leaves MaxAttempts at zero.
	DefaultMaxAttempts = 3

	// MaxAttemptCeiling is the absolute attempt budget; larger policies are
	// clamped to it.
	MaxAttemptCeiling = 10
)

// Orchestrator runs one instruction to a verdict. It holds no run-spanning
// state, so distinct Orchestrators (or distinct Run calls with distinct
// workspaces) may execute concurrently.
type Orchestrator struct {
	launcher  contracts.Launcher
	workspace string
	observer  contracts.Observer
	errLog    io.Writer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObserver routes run events to obs. Observer failures never influence
// the run's outcome.
func WithObserver(obs contracts.Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithErrorLog redirects internal warnings (resource release failures,
// observer panics) away from stderr.
func WithErrorLog(w io.Writer) Option {
	return func(o *Orchestrator) {
		if w != nil {
			o.errLog = w
		}
	}
}

// New creates an Orchestrator that launches attempts against workspace.
func New(launcher contracts.Launcher, workspace string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		launcher:  launcher,
		workspace: workspace,
		observer:  contracts.NoopObserver{},
		errLog:    os.Stderr,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes instruction under policy and returns the frozen RunResult.
// Attempts run strictly sequentially against the same workspace; changes an
// attempt makes persist into the next one, with no rollback between
// attempts. An error return means the run could not start at all; every
// condition reached after the first attempt begins is captured in the
// RunResult instead.
func (o *Orchestrator) Run(ctx context.Context, instruction string, policy contracts.RetryPolicy) (*contracts.RunResult, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, fmt.Errorf("instruction must not be empty")
	}

	maxAttempts := policy.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if maxAttempts < 1 {
		return nil, fmt.Errorf("maxAttempts must be at least 1, got %d", maxAttempts)
	}
	if maxAttempts > MaxAttemptCeiling {
		maxAttempts = MaxAttemptCeiling
	}

	result := &contracts.RunResult{}

	for i := 1; i <= maxAttempts; i++ {
		result.AttemptsUsed = i
		o.notify(func(obs contracts.Observer) { obs.AttemptStarted(i) })

		text := buildInstruction(instruction, i, result.VerificationOutcomes)
		outcome := o.executeAttempt(ctx, text)
		result.ExecutionOutcomes = append(result.ExecutionOutcomes, outcome)

		if outcome.Status != contracts.ExecutionSucceeded {
			// Budget exhaustion is a property of the task, not the attempt:
			// retrying under an identical budget reproduces the failure.
			result.FinalStatus = contracts.RunSessionFailed
			result.SessionFailure = outcome.Status
			result.ErrorMessage = fmt.Sprintf("attempt %d ended with status %s", i, outcome.Status)
			break
		}

		if policy.Verifier == nil {
			result.FinalStatus = contracts.RunSucceeded
			break
		}

		vout := o.verify(ctx, policy.Verifier)
		result.VerificationOutcomes = append(result.VerificationOutcomes, vout)
		o.notify(func(obs contracts.Observer) { obs.VerificationCompleted(vout) })

		if vout.Passed {
			result.FinalStatus = contracts.RunSucceeded
			break
		}
		if i == maxAttempts {
			result.FinalStatus = contracts.RunRetriesExhausted
			result.ErrorMessage = fmt.Sprintf("verification still failing after %d attempts", maxAttempts)
		}
	}

	o.notify(func(obs contracts.Observer) { obs.RunFinished(result) })

	return result, nil
}

// executeAttempt provisions a fresh attempt, runs it to a terminal outcome,
// and releases it on every exit path. Infrastructure errors (failed launch,
// broken attempt) are folded into a failed ExecutionOutcome so that nothing
// terminal escapes the RunResult.
func (o *Orchestrator) executeAttempt(ctx context.Context, instruction string) contracts.ExecutionOutcome {
	attempt, err := o.launcher.Launch(ctx, o.workspace)
	if err != nil {
		return contracts.ExecutionOutcome{
			Status:     contracts.ExecutionFailed,
			Diagnostic: fmt.Sprintf("failed to provision execution attempt: %v", err),
		}
	}
	defer func() {
		if cerr := attempt.Close(context.WithoutCancel(ctx)); cerr != nil {
			fmt.Fprintf(o.errLog, "redrive: failed to release attempt resources: %v\n", cerr)
		}
	}()

	outcome, err := attempt.Run(ctx, instruction)
	if err != nil {
		return contracts.ExecutionOutcome{
			Status:     contracts.ExecutionFailed,
			Diagnostic: fmt.Sprintf("execution attempt broke: %v", err),
		}
	}
	return outcome
}

// verify runs the verifier and converts verifier infrastructure errors into
// a failed outcome with a single custom failure, keeping the run retryable.
func (o *Orchestrator) verify(ctx context.Context, verifier contracts.Verifier) contracts.VerificationOutcome {
	start := time.Now()
	vout, err := verifier.Verify(ctx, o.workspace)
	if err != nil {
		return contracts.VerificationOutcome{
			Passed: false,
			Failures: []contracts.VerificationFailure{{
				Category:     contracts.FailureCustom,
				ShortSummary: digest.Clip("verifier error: "+err.Error(), digest.ShortSummaryLimit),
				RawDetail:    err.Error(),
			}},
			Elapsed: time.Since(start),
		}
	}
	if vout.Elapsed == 0 {
		vout.Elapsed = time.Since(start)
	}
	return vout
}

// notify delivers one observer event, swallowing panics so that observers
// cannot alter control flow.
func (o *Orchestrator) notify(fn func(contracts.Observer)) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(o.errLog, "redrive: observer panicked: %v\n", r)
		}
	}()
	fn(o.observer)
}
