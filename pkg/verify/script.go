// Package verify provides Verifier implementations that judge a workspace
// after an execution attempt: script commands, an LLM scope judge, and
// external plugin verifiers.
package verify

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/redrive/redrive/pkg/contracts"
	"github.com/redrive/redrive/pkg/digest"
	"github.com/redrive/redrive/pkg/util"
)

const (
	// DefaultCommandTimeout bounds one verification command.
	DefaultCommandTimeout = 5 * time.Minute
)

// CommandSpec is one verification command with its failure category.
type CommandSpec struct {
	// Category classifies failures produced by this command. Empty means
	// custom.
	Category contracts.FailureCategory `json:"category,omitempty"`

	// Run is executed via $SHELL -c in the workspace; a nonzero exit means
	// the check failed.
	Run string `json:"run"`

	// Timeout is a Go duration string. Empty means DefaultCommandTimeout.
	Timeout string `json:"timeout,omitempty"`
}

type scriptCommand struct {
	category contracts.FailureCategory
	run      string
	timeout  time.Duration
}

// ScriptVerifier runs an ordered list of commands in the workspace and
// extracts compact failures from any that fail.
type ScriptVerifier struct {
	commands []scriptCommand
}

var _ contracts.Verifier = &ScriptVerifier{}

// NewScriptVerifier validates and compiles specs.
func NewScriptVerifier(specs []CommandSpec) (*ScriptVerifier, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("at least one command must be set on a script verifier")
	}

	commands := make([]scriptCommand, 0, len(specs))
	for i, spec := range specs {
		if spec.Run == "" {
			return nil, fmt.Errorf("commands[%d]: run must not be empty", i)
		}

		c := scriptCommand{
			category: spec.Category,
			run:      spec.Run,
			timeout:  DefaultCommandTimeout,
		}
		if c.category == "" {
			c.category = contracts.FailureCustom
		}
		switch c.category {
		case contracts.FailureBuild, contracts.FailureTest, contracts.FailureLint, contracts.FailureCustom:
		default:
			return nil, fmt.Errorf("commands[%d]: unknown category '%s'", i, c.category)
		}
		if spec.Timeout != "" {
			timeout, err := time.ParseDuration(spec.Timeout)
			if err != nil {
				return nil, fmt.Errorf("commands[%d]: failed to parse timeout: %w", i, err)
			}
			c.timeout = timeout
		}

		commands = append(commands, c)
	}

	return &ScriptVerifier{commands: commands}, nil
}

// Verify runs every command sequentially. Commands only read and judge the
// workspace; a failing command contributes one VerificationFailure per
// extracted summary line, with the raw output attached to the first.
func (v *ScriptVerifier) Verify(ctx context.Context, workspace string) (contracts.VerificationOutcome, error) {
	start := time.Now()
	outcome := contracts.VerificationOutcome{Passed: true}

	for _, c := range v.commands {
		raw, failed := v.runCommand(ctx, c, workspace)
		if !failed {
			continue
		}

		outcome.Passed = false
		summary := extractorFor(c.category)(raw)
		for i, line := range digest.Lines(summary) {
			failure := contracts.VerificationFailure{
				Category:     c.category,
				ShortSummary: line,
			}
			if i == 0 {
				failure.RawDetail = raw
			}
			outcome.Failures = append(outcome.Failures, failure)
		}
	}

	outcome.Elapsed = time.Since(start)
	return outcome, nil
}

func (v *ScriptVerifier) runCommand(ctx context.Context, c scriptCommand, workspace string) (output string, failed bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, util.GetShell(), "-c", c.run)
	cmd.Dir = workspace

	raw, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Sprintf("%s\ncommand error: %v", raw, err), true
	}

	return string(raw), false
}

func extractorFor(category contracts.FailureCategory) func(string) string {
	switch category {
	case contracts.FailureBuild:
		return digest.ExtractBuildFailures
	case contracts.FailureTest:
		return digest.ExtractTestFailures
	case contracts.FailureLint:
		return digest.ExtractLintFailures
	default:
		return digest.ExtractGenericFailures
	}
}
