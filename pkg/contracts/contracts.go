package contracts

import "context"

// Attempt is one bounded run of the autonomous code-modification process
// against a workspace. Implementations self-enforce their own wall-clock and
// turn budgets and surface exhaustion as a terminal ExecutionStatus.
type Attempt interface {
	// Run executes the instruction to a terminal outcome. An error return
	// means the attempt infrastructure itself broke, not that the agent
	// produced a failing status.
	Run(ctx context.Context, instruction string) (ExecutionOutcome, error)

	// Close releases the attempt's resources. It must be idempotent and
	// safe to call after any outcome.
	Close(ctx context.Context) error
}

// Launcher provisions a fresh Attempt for each call. Attempts never share
// internal state; the workspace is the only thing that persists between them.
type Launcher interface {
	Launch(ctx context.Context, workspace string) (Attempt, error)
}

// Verifier judges workspace correctness after an attempt. Implementations
// must not mutate orchestration state and should bound their own runtime.
type Verifier interface {
	Verify(ctx context.Context, workspace string) (VerificationOutcome, error)
}

// Observer receives structured run events for metrics and logging. It is
// never awaited for correctness: a failing or panicking observer cannot
// change the run's control flow.
type Observer interface {
	AttemptStarted(index int)
	VerificationCompleted(outcome VerificationOutcome)
	RunFinished(result *RunResult)
}

// NoopObserver discards all events.
type NoopObserver struct{}

var _ Observer = NoopObserver{}

func (NoopObserver) AttemptStarted(int) {}
func (NoopObserver) VerificationCompleted(VerificationOutcome) {}
func (NoopObserver) RunFinished(*RunResult) {}
