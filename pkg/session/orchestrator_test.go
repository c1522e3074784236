package session

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redrive/redrive/pkg/contracts"
)

// fakeLauncher hands out scripted attempts in order and records every
// instruction the attempts received.
type fakeLauncher struct {
	outcomes     []contracts.ExecutionOutcome
	launchErr    error
	runErr       error
	closeErr     error
	instructions []string
	launched     int
	closed       int
}

var _ contracts.Launcher = &fakeLauncher{}

func (l *fakeLauncher) Launch(ctx context.Context, workspace string) (contracts.Attempt, error) {
	if l.launchErr != nil {
		return nil, l.launchErr
	}

	idx := l.launched
	l.launched++
	return &fakeAttempt{launcher: l, idx: idx}, nil
}

type fakeAttempt struct {
	launcher *fakeLauncher
	idx      int
}

func (a *fakeAttempt) Run(ctx context.Context, instruction string) (contracts.ExecutionOutcome, error) {
	a.launcher.instructions = append(a.launcher.instructions, instruction)
	if a.launcher.runErr != nil {
		return contracts.ExecutionOutcome{}, a.launcher.runErr
	}
	if a.idx < len(a.launcher.outcomes) {
		return a.launcher.outcomes[a.idx], nil
	}
	return contracts.ExecutionOutcome{Status: contracts.ExecutionSucceeded}, nil
}

func (a *fakeAttempt) Close(ctx context.Context) error {
	a.launcher.closed++
	return a.launcher.closeErr
}

// fakeVerifier returns scripted outcomes per call.
type fakeVerifier struct {
	outcomes []contracts.VerificationOutcome
	err      error
	calls    int
}

var _ contracts.Verifier = &fakeVerifier{}

func (v *fakeVerifier) Verify(ctx context.Context, workspace string) (contracts.VerificationOutcome, error) {
	idx := v.calls
	v.calls++
	if v.err != nil {
		return contracts.VerificationOutcome{}, v.err
	}
	if idx < len(v.outcomes) {
		return v.outcomes[idx], nil
	}
	return contracts.VerificationOutcome{Passed: true}, nil
}

func failedVerification(summary string) contracts.VerificationOutcome {
	return contracts.VerificationOutcome{
		Passed: false,
		Failures: []contracts.VerificationFailure{
			{Category: contracts.FailureTest, ShortSummary: summary, RawDetail: "raw runner output"},
		},
	}
}

func TestRun_NoVerifierSucceedsAfterFirstAttempt(t *testing.T) {
	launcher := &fakeLauncher{}
	o := New(launcher, t.TempDir())

	result, err := o.Run(context.Background(), "do the thing", contracts.RetryPolicy{})

	require.NoError(t, err)
	assert.Equal(t, contracts.RunSucceeded, result.FinalStatus)
	assert.Equal(t, 1, result.AttemptsUsed)
	assert.True(t, result.Succeeded())
	assert.Empty(t, result.VerificationOutcomes)
}

func TestRun_FirstInstructionIsVerbatim(t *testing.T) {
	instruction := "  fix the flaky test\nkeep the API stable  "
	launcher := &fakeLauncher{}
	o := New(launcher, t.TempDir())

	_, err := o.Run(context.Background(), instruction, contracts.RetryPolicy{})

	require.NoError(t, err)
	require.Len(t, launcher.instructions, 1)
	assert.Equal(t, instruction, launcher.instructions[0])
}

func TestRun_FailFailPass(t *testing.T) {
	launcher := &fakeLauncher{}
	verifier := &fakeVerifier{outcomes: []contracts.VerificationOutcome{
		failedVerification("Tests: 3 failed, 12 passed, 15 total"),
		failedVerification("Tests: 1 failed, 14 passed, 15 total"),
		{Passed: true},
	}}
	o := New(launcher, t.TempDir())

	result, err := o.Run(context.Background(), "make tests pass", contracts.RetryPolicy{Verifier: verifier})

	require.NoError(t, err)
	assert.Equal(t, contracts.RunSucceeded, result.FinalStatus)
	assert.Equal(t, 3, result.AttemptsUsed)
	assert.Len(t, result.VerificationOutcomes, 3)
	assert.Len(t, result.ExecutionOutcomes, 3)
}

func TestRun_RetryInstructionsCarryDigest(t *testing.T) {
	launcher := &fakeLauncher{}
	verifier := &fakeVerifier{outcomes: []contracts.VerificationOutcome{
		failedVerification("Tests: 3 failed, 12 passed, 15 total"),
		{Passed: true},
	}}
	o := New(launcher, t.TempDir())

	_, err := o.Run(context.Background(), "make tests pass", contracts.RetryPolicy{Verifier: verifier})

	require.NoError(t, err)
	require.Len(t, launcher.instructions, 2)

	retry := launcher.instructions[1]
	assert.True(t, strings.HasPrefix(retry, "make tests pass"))
	assert.Contains(t, retry, "PREVIOUS ATTEMPT 1 FAILED VERIFICATION")
	assert.Contains(t, retry, "[TEST] Tests: 3 failed, 12 passed, 15 total")
	assert.NotContains(t, retry, "raw runner output")
}

func TestRun_RetriesExhausted(t *testing.T) {
	launcher := &fakeLauncher{}
	verifier := &fakeVerifier{outcomes: []contracts.VerificationOutcome{
		failedVerification("a"), failedVerification("b"), failedVerification("c"),
		failedVerification("d"), failedVerification("e"),
	}}
	o := New(launcher, t.TempDir())

	result, err := o.Run(context.Background(), "hopeless task", contracts.RetryPolicy{
		MaxAttempts: 5,
		Verifier:    verifier,
	})

	require.NoError(t, err)
	assert.Equal(t, contracts.RunRetriesExhausted, result.FinalStatus)
	assert.Equal(t, 5, result.AttemptsUsed)
	assert.Len(t, result.VerificationOutcomes, 5)
	assert.Equal(t, 5, verifier.calls)
	assert.Contains(t, result.ErrorMessage, "after 5 attempts")
}

func TestRun_SessionFailureHaltsImmediately(t *testing.T) {
	tt := map[string]struct {
		status contracts.ExecutionStatus
	}{
		"failed":             {status: contracts.ExecutionFailed},
		"timed out":          {status: contracts.ExecutionTimedOut},
		"turn limit reached": {status: contracts.ExecutionTurnLimitReached},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			launcher := &fakeLauncher{outcomes: []contracts.ExecutionOutcome{
				{Status: contracts.ExecutionSucceeded},
				{Status: tc.status, Diagnostic: "boom"},
			}}
			verifier := &fakeVerifier{outcomes: []contracts.VerificationOutcome{
				failedVerification("still broken"),
			}}
			o := New(launcher, t.TempDir())

			result, err := o.Run(context.Background(), "task", contracts.RetryPolicy{
				MaxAttempts: 5,
				Verifier:    verifier,
			})

			require.NoError(t, err)
			assert.Equal(t, contracts.RunSessionFailed, result.FinalStatus)
			assert.Equal(t, tc.status, result.SessionFailure)
			assert.Equal(t, 2, result.AttemptsUsed)
			// the session-level failure is never verified or retried
			assert.Equal(t, 1, verifier.calls)
			assert.Len(t, result.VerificationOutcomes, 1)
		})
	}
}

func TestRun_EveryAttemptIsClosed(t *testing.T) {
	launcher := &fakeLauncher{}
	verifier := &fakeVerifier{outcomes: []contracts.VerificationOutcome{
		failedVerification("a"), failedVerification("b"), failedVerification("c"),
	}}
	o := New(launcher, t.TempDir())

	_, err := o.Run(context.Background(), "task", contracts.RetryPolicy{Verifier: verifier})

	require.NoError(t, err)
	assert.Equal(t, 3, launcher.launched)
	assert.Equal(t, 3, launcher.closed)
}

func TestRun_CloseErrorDoesNotAffectOutcome(t *testing.T) {
	var errLog bytes.Buffer
	launcher := &fakeLauncher{closeErr: fmt.Errorf("kill failed")}
	o := New(launcher, t.TempDir(), WithErrorLog(&errLog))

	result, err := o.Run(context.Background(), "task", contracts.RetryPolicy{})

	require.NoError(t, err)
	assert.Equal(t, contracts.RunSucceeded, result.FinalStatus)
	assert.Contains(t, errLog.String(), "kill failed")
}

func TestRun_LaunchErrorBecomesSessionFailure(t *testing.T) {
	launcher := &fakeLauncher{launchErr: fmt.Errorf("no such binary")}
	o := New(launcher, t.TempDir())

	result, err := o.Run(context.Background(), "task", contracts.RetryPolicy{})

	require.NoError(t, err)
	assert.Equal(t, contracts.RunSessionFailed, result.FinalStatus)
	assert.Equal(t, contracts.ExecutionFailed, result.SessionFailure)
	require.Len(t, result.ExecutionOutcomes, 1)
	assert.Contains(t, result.ExecutionOutcomes[0].Diagnostic, "no such binary")
}

func TestRun_VerifierErrorIsRetryable(t *testing.T) {
	launcher := &fakeLauncher{}
	verifier := &fakeVerifier{err: fmt.Errorf("judge endpoint unreachable")}
	o := New(launcher, t.TempDir())

	result, err := o.Run(context.Background(), "task", contracts.RetryPolicy{
		MaxAttempts: 2,
		Verifier:    verifier,
	})

	require.NoError(t, err)
	assert.Equal(t, contracts.RunRetriesExhausted, result.FinalStatus)
	assert.Equal(t, 2, result.AttemptsUsed)

	last := result.LastVerification()
	require.NotNil(t, last)
	require.Len(t, last.Failures, 1)
	assert.Equal(t, contracts.FailureCustom, last.Failures[0].Category)
	assert.Contains(t, last.Failures[0].ShortSummary, "verifier error")
}

func TestRun_PolicyValidation(t *testing.T) {
	tt := map[string]struct {
		instruction      string
		maxAttempts      int
		expectErr        bool
		expectedAttempts int
	}{
		"empty instruction rejected": {
			instruction: "   \n",
			maxAttempts: 1,
			expectErr:   true,
		},
		"negative maxAttempts rejected": {
			instruction: "task",
			maxAttempts: -1,
			expectErr:   true,
		},
		"zero maxAttempts uses default": {
			instruction:      "task",
			maxAttempts:      0,
			expectedAttempts: DefaultMaxAttempts,
		},
		"oversized maxAttempts clamped to ceiling": {
			instruction:      "task",
			maxAttempts:      100,
			expectedAttempts: MaxAttemptCeiling,
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			launcher := &fakeLauncher{}
			verifier := &fakeVerifier{err: fmt.Errorf("always failing")}
			o := New(launcher, t.TempDir())

			result, err := o.Run(context.Background(), tc.instruction, contracts.RetryPolicy{
				MaxAttempts: tc.maxAttempts,
				Verifier:    verifier,
			})

			if tc.expectErr {
				assert.Error(t, err)
				assert.Nil(t, result)
				assert.Zero(t, launcher.launched)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedAttempts, result.AttemptsUsed)
		})
	}
}

// panickyObserver blows up on every event.
type panickyObserver struct{}

func (panickyObserver) AttemptStarted(int) { panic("observer bug") }

func (panickyObserver) VerificationCompleted(contracts.VerificationOutcome) { panic("observer bug") }

func (panickyObserver) RunFinished(*contracts.RunResult) { panic("observer bug") }

func TestRun_ObserverPanicIsSwallowed(t *testing.T) {
	var errLog bytes.Buffer
	launcher := &fakeLauncher{}
	o := New(launcher, t.TempDir(), WithObserver(panickyObserver{}), WithErrorLog(&errLog))

	result, err := o.Run(context.Background(), "task", contracts.RetryPolicy{})

	require.NoError(t, err)
	assert.Equal(t, contracts.RunSucceeded, result.FinalStatus)
	assert.Contains(t, errLog.String(), "observer panicked")
}

// recordingObserver captures the event sequence.
type recordingObserver struct {
	events []string
}

func (r *recordingObserver) AttemptStarted(index int) {
	r.events = append(r.events, fmt.Sprintf("attempt:%d", index))
}

func (r *recordingObserver) VerificationCompleted(outcome contracts.VerificationOutcome) {
	r.events = append(r.events, fmt.Sprintf("verified:%t", outcome.Passed))
}

func (r *recordingObserver) RunFinished(result *contracts.RunResult) {
	r.events = append(r.events, fmt.Sprintf("finished:%s", result.FinalStatus))
}

func TestRun_ObserverSeesEveryEvent(t *testing.T) {
	launcher := &fakeLauncher{}
	verifier := &fakeVerifier{outcomes: []contracts.VerificationOutcome{
		failedVerification("a"),
		{Passed: true},
	}}
	obs := &recordingObserver{}
	o := New(launcher, t.TempDir(), WithObserver(obs))

	_, err := o.Run(context.Background(), "task", contracts.RetryPolicy{Verifier: verifier})

	require.NoError(t, err)
	assert.Equal(t, []string{
		"attempt:1",
		"verified:false",
		"attempt:2",
		"verified:true",
		"finished:succeeded",
	}, obs.events)
}

func TestBuildInstruction(t *testing.T) {
	history := []contracts.VerificationOutcome{
		failedVerification("Tests: 3 failed, 12 passed, 15 total"),
	}

	tt := map[string]struct {
		attempt  int
		contains []string
		exact    string
	}{
		"first attempt is the original": {
			attempt: 1,
			exact:   "original task",
		},
		"second attempt appends failure context": {
			attempt: 2,
			contains: []string{
				"original task",
				"PREVIOUS ATTEMPT 1 FAILED VERIFICATION",
				"[TEST] Tests: 3 failed, 12 passed, 15 total",
				"Fix the issues above, then complete the original task.",
			},
		},
	}

	for tn, tc := range tt {
		t.Run(tn, func(t *testing.T) {
			out := buildInstruction("original task", tc.attempt, history)
			if tc.exact != "" {
				assert.Equal(t, tc.exact, out)
				return
			}
			assert.True(t, strings.HasPrefix(out, "original task"))
			for _, want := range tc.contains {
				assert.Contains(t, out, want)
			}
		})
	}
}
