package harness

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/ptr"

	"github.com/redrive/redrive/pkg/contracts"
	"github.com/redrive/redrive/pkg/executor"
	"github.com/redrive/redrive/pkg/session"
	"github.com/redrive/redrive/pkg/verify"
)

// SessionResult pairs one session's config identity with its run outcome.
// Error is set when the session could not run at all.
type SessionResult struct {
	Name      string               `json:"name"`
	Workspace string               `json:"workspace"`
	Result    *contracts.RunResult `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
}

type Runner interface {
	Run(ctx context.Context) ([]*SessionResult, error)
	RunWithProgress(ctx context.Context, callback ProgressCallback) ([]*SessionResult, error)
}

type batchRunner struct {
	set              *SessionSet
	progressCallback ProgressCallback
}

var _ Runner = &batchRunner{}

// NewRunner creates a Runner from a validated SessionSet.
func NewRunner(set *SessionSet) (Runner, error) {
	if set == nil {
		return nil, fmt.Errorf("session set cannot be nil")
	}

	return &batchRunner{
		set:              set,
		progressCallback: NoopProgressCallback,
	}, nil
}

func (r *batchRunner) Run(ctx context.Context) ([]*SessionResult, error) {
	return r.RunWithProgress(ctx, NoopProgressCallback)
}

// RunWithProgress runs every session, at most spec.parallel at a time. A
// session that cannot run is reported in its SessionResult and in the joined
// error; it does not stop the rest of the batch.
func (r *batchRunner) RunWithProgress(ctx context.Context, callback ProgressCallback) ([]*SessionResult, error) {
	r.progressCallback = callback

	r.progressCallback(ProgressEvent{
		Type:    EventBatchStart,
		Message: fmt.Sprintf("Starting session set: %s", r.set.Metadata.Name),
	})

	launcher, err := r.buildLauncher()
	if err != nil {
		return nil, fmt.Errorf("failed to build launcher: %w", err)
	}

	maxAttempts := ptr.Deref(r.set.Spec.Policy.MaxAttempts, session.DefaultMaxAttempts)

	sessions := r.set.Spec.Sessions
	results := make([]*SessionResult, len(sessions))
	errs := make([]error, len(sessions))

	parallel := r.set.Spec.Parallel
	if parallel < 1 {
		parallel = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, cfg := range sessions {
		g.Go(func() error {
			sr := &SessionResult{Name: cfg.Name, Workspace: cfg.Workspace}
			results[i] = sr

			r.progressCallback(ProgressEvent{
				Type:    EventSessionStart,
				Message: fmt.Sprintf("Starting session: %s", cfg.Name),
				Session: cfg.Name,
			})

			result, err := r.runSession(gctx, launcher, cfg, maxAttempts)
			if err != nil {
				sr.Error = err.Error()
				errs[i] = fmt.Errorf("session '%s': %w", cfg.Name, err)
				r.progressCallback(ProgressEvent{
					Type:    EventSessionError,
					Message: fmt.Sprintf("Session %s failed to run: %v", cfg.Name, err),
					Session: cfg.Name,
				})
				return nil
			}

			sr.Result = result
			return nil
		})
	}

	// goroutines report through results and errs
	_ = g.Wait()

	r.progressCallback(ProgressEvent{
		Type:    EventBatchComplete,
		Message: "Session set complete",
	})

	return results, errors.Join(errs...)
}

func (r *batchRunner) buildLauncher() (contracts.Launcher, error) {
	switch r.set.Spec.Executor.Type {
	case ExecutorCommand:
		return executor.NewCommandLauncher(*r.set.Spec.Executor.Command)
	case ExecutorAcp:
		return executor.NewAcpLauncher(*r.set.Spec.Executor.Acp)
	default:
		return nil, fmt.Errorf("unknown executor type '%s'", r.set.Spec.Executor.Type)
	}
}

func (r *batchRunner) runSession(ctx context.Context, launcher contracts.Launcher, cfg SessionConfig, maxAttempts int) (*contracts.RunResult, error) {
	instruction, err := cfg.InstructionText()
	if err != nil {
		return nil, err
	}

	obs := &progressObserver{session: cfg.Name, callback: r.progressCallback}

	verifier, cleanup, err := r.buildVerifier(ctx, cfg.Name, instruction, obs)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	orch := session.New(launcher, cfg.Workspace, session.WithObserver(obs))

	return orch.Run(ctx, instruction, contracts.RetryPolicy{
		MaxAttempts: maxAttempts,
		Verifier:    verifier,
	})
}

// buildVerifier constructs the configured verifier bound to one session. A
// plugin verifier gets its own process, started here and stopped by the
// returned cleanup.
func (r *batchRunner) buildVerifier(ctx context.Context, name, instruction string, obs *progressObserver) (contracts.Verifier, func(), error) {
	v := r.set.Spec.Verifier
	if v == nil {
		return nil, nil, nil
	}

	switch v.Type {
	case VerifierScript:
		verifier, err := verify.NewScriptVerifier(v.Script)
		return verifier, nil, err
	case VerifierJudge:
		verifier, err := verify.NewScopeJudge(v.Judge, instruction)
		return verifier, nil, err
	case VerifierPlugin:
		plugin, err := verify.NewPluginVerifier(v.Plugin, instruction, r.pluginLog(name))
		if err != nil {
			return nil, nil, err
		}
		if err := plugin.Start(ctx); err != nil {
			return nil, nil, err
		}
		obs.plugin = plugin
		cleanup := func() {
			_ = plugin.Shutdown(context.WithoutCancel(ctx))
		}
		return plugin, cleanup, nil
	default:
		return nil, nil, fmt.Errorf("unknown verifier type '%s'", v.Type)
	}
}

func (r *batchRunner) pluginLog(name string) func(level, message string, data map[string]any) {
	return func(level, message string, data map[string]any) {
		r.progressCallback(ProgressEvent{
			Type:    EventPluginLog,
			Message: fmt.Sprintf("[%s] %s", level, message),
			Session: name,
		})
	}
}

// progressObserver forwards orchestrator callbacks to the batch progress
// callback, and keeps a plugin verifier's attempt index current.
type progressObserver struct {
	session  string
	callback ProgressCallback
	plugin   *verify.PluginVerifier

	attempt int
}

var _ contracts.Observer = &progressObserver{}

func (o *progressObserver) AttemptStarted(index int) {
	o.attempt = index
	if o.plugin != nil {
		o.plugin.SetAttempt(index)
	}

	o.callback(ProgressEvent{
		Type:    EventAttemptStart,
		Message: fmt.Sprintf("Starting attempt %d", index),
		Session: o.session,
		Attempt: index,
	})
}

func (o *progressObserver) VerificationCompleted(outcome contracts.VerificationOutcome) {
	message := fmt.Sprintf("Attempt %d passed verification", o.attempt)
	if !outcome.Passed {
		message = fmt.Sprintf("Attempt %d failed verification with %d failure(s)", o.attempt, len(outcome.Failures))
	}

	o.callback(ProgressEvent{
		Type:         EventVerificationComplete,
		Message:      message,
		Session:      o.session,
		Attempt:      o.attempt,
		Verification: &outcome,
	})
}

func (o *progressObserver) RunFinished(result *contracts.RunResult) {
	o.callback(ProgressEvent{
		Type:    EventSessionComplete,
		Message: fmt.Sprintf("Session finished: %s", result.FinalStatus),
		Session: o.session,
		Attempt: o.attempt,
		Result:  result,
	})
}
