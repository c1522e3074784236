// Package executor provides Execution Attempt implementations: collaborators
// that run an autonomous coding agent once against a workspace and classify
// the terminal outcome.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/redrive/redrive/pkg/contracts"
	"github.com/redrive/redrive/pkg/util"
)

const (
	// DefaultTimeout bounds one command-based attempt's wall clock.
	DefaultTimeout = 30 * time.Minute

	// diagnosticTailBytes bounds how much command output is kept as the
	// attempt diagnostic.
	diagnosticTailBytes = 4096
)

// CommandSpec describes an agent CLI invocation.
type CommandSpec struct {
	// Command is a template for the agent invocation, run via $SHELL -c in
	// the workspace. Use {{.Prompt}} as the placeholder for the instruction.
	// Example: `my-agent --dangerously-skip-permissions -p {{.Prompt}}`
	Command string `json:"command"`

	// Timeout is the per-attempt wall-clock budget as a Go duration string.
	// Empty means DefaultTimeout.
	Timeout string `json:"timeout,omitempty"`

	// TurnLimitPattern is a regexp matched against the agent's combined
	// output; a match classifies the attempt as turn_limit_reached.
	TurnLimitPattern string `json:"turnLimitPattern,omitempty"`

	// Env is appended to the attempt's environment as KEY=VALUE pairs.
	Env []string `json:"env,omitempty"`
}

// CommandLauncher provisions one fresh command-based attempt per Launch call.
type CommandLauncher struct {
	tmpl      *template.Template
	timeout   time.Duration
	turnLimit *regexp.Regexp
	env       []string
}

var _ contracts.Launcher = &CommandLauncher{}

// NewCommandLauncher validates and compiles spec.
func NewCommandLauncher(spec CommandSpec) (*CommandLauncher, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("command must be set on a command executor")
	}

	tmpl, err := template.New("agentCommand").Parse(spec.Command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse agent command template: %w", err)
	}

	l := &CommandLauncher{
		tmpl:    tmpl,
		timeout: DefaultTimeout,
		env:     spec.Env,
	}

	if spec.Timeout != "" {
		timeout, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timeout: %w", err)
		}
		l.timeout = timeout
	}

	if spec.TurnLimitPattern != "" {
		l.turnLimit, err = regexp.Compile(spec.TurnLimitPattern)
		if err != nil {
			return nil, fmt.Errorf("failed to compile turnLimitPattern: %w", err)
		}
	}

	return l, nil
}

// Launch returns a fresh attempt value. Attempts carry no state between one
// another besides the workspace itself.
func (l *CommandLauncher) Launch(ctx context.Context, workspace string) (contracts.Attempt, error) {
	info, err := os.Stat(workspace)
	if err != nil {
		return nil, fmt.Errorf("workspace is not usable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %q is not a directory", workspace)
	}

	return &commandAttempt{
		tmpl:      l.tmpl,
		timeout:   l.timeout,
		turnLimit: l.turnLimit,
		env:       l.env,
		workspace: workspace,
	}, nil
}

type commandAttempt struct {
	tmpl      *template.Template
	timeout   time.Duration
	turnLimit *regexp.Regexp
	env       []string
	workspace string
}

var _ contracts.Attempt = &commandAttempt{}

func (a *commandAttempt) Run(ctx context.Context, instruction string) (contracts.ExecutionOutcome, error) {
	rendered := bytes.NewBuffer(nil)
	if err := a.tmpl.Execute(rendered, struct{ Prompt string }{Prompt: shellQuote(instruction)}); err != nil {
		return contracts.ExecutionOutcome{}, fmt.Errorf("failed to render agent command: %w", err)
	}

	runCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, util.GetShell(), "-c", rendered.String())
	cmd.Dir = a.workspace
	cmd.Env = append(os.Environ(), a.env...)

	out, err := cmd.CombinedOutput()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return contracts.ExecutionOutcome{
			Status:     contracts.ExecutionTimedOut,
			Diagnostic: fmt.Sprintf("attempt exceeded %s wall-clock budget\n%s", a.timeout, tail(out)),
		}, nil
	}

	if a.turnLimit != nil && a.turnLimit.Match(out) {
		return contracts.ExecutionOutcome{
			Status:     contracts.ExecutionTurnLimitReached,
			Diagnostic: tail(out),
		}, nil
	}

	if err != nil {
		return contracts.ExecutionOutcome{
			Status:     contracts.ExecutionFailed,
			Diagnostic: fmt.Sprintf("agent command failed: %v\n%s", err, tail(out)),
		}, nil
	}

	return contracts.ExecutionOutcome{
		Status:     contracts.ExecutionSucceeded,
		Diagnostic: tail(out),
	}, nil
}

// Close is a no-op: the agent process lives entirely inside Run.
func (a *commandAttempt) Close(ctx context.Context) error {
	return nil
}

func tail(out []byte) string {
	if len(out) <= diagnosticTailBytes {
		return string(out)
	}
	return string(out[len(out)-diagnosticTailBytes:])
}

// shellQuote wraps s in single quotes for safe interpolation into a shell
// command line.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
