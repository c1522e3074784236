package executor

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/coder/acp-go-sdk"

	"github.com/redrive/redrive/pkg/contracts"
)

// AcpSpec describes an agent that speaks the Agent Client Protocol over
// stdio.
type AcpSpec struct {
	// Cmd is the agent binary.
	Cmd string `json:"cmd"`

	// Args are passed to the agent binary verbatim.
	Args []string `json:"args,omitempty"`

	// AllowedTools lists tool titles the agent may use without rejection.
	// The single entry "*" allows everything.
	AllowedTools []string `json:"allowedTools,omitempty"`

	// Env is appended to the agent's environment as KEY=VALUE pairs.
	Env []string `json:"env,omitempty"`
}

func (s *AcpSpec) Validate() error {
	if s.Cmd == "" {
		return fmt.Errorf("cmd must be set on an acp executor")
	}

	return nil
}

// AcpLauncher starts one fresh ACP agent process per Launch call, so no
// conversational context survives between attempts.
type AcpLauncher struct {
	spec AcpSpec
}

var _ contracts.Launcher = &AcpLauncher{}

func NewAcpLauncher(spec AcpSpec) (*AcpLauncher, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return &AcpLauncher{spec: spec}, nil
}

func (l *AcpLauncher) Launch(ctx context.Context, workspace string) (contracts.Attempt, error) {
	a := &acpAttempt{
		spec:      l.spec,
		workspace: workspace,
		allowed:   make(map[string]struct{}, len(l.spec.AllowedTools)),
	}
	for _, t := range l.spec.AllowedTools {
		a.allowed[t] = struct{}{}
	}

	if err := a.start(ctx); err != nil {
		return nil, err
	}

	return a, nil
}

type acpAttempt struct {
	spec      AcpSpec
	workspace string
	allowed   map[string]struct{}

	cmd  *exec.Cmd
	conn *acp.ClientSideConnection

	mu        sync.Mutex
	closed    bool
	sessionID acp.SessionId
	updates   []acp.SessionUpdate
	toolCalls map[acp.ToolCallId]*acp.SessionToolCallUpdate
}

var _ contracts.Attempt = &acpAttempt{}

func (a *acpAttempt) start(ctx context.Context) error {
	a.toolCalls = make(map[acp.ToolCallId]*acp.SessionToolCallUpdate)
	a.cmd = exec.CommandContext(ctx, a.spec.Cmd, a.spec.Args...)
	if len(a.spec.Env) > 0 {
		a.cmd.Env = append(a.cmd.Environ(), a.spec.Env...)
	}

	stdin, err := a.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe to acp agent: %w", err)
	}

	stdout, err := a.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe to acp agent: %w", err)
	}

	if err := a.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start acp agent: %w", err)
	}

	a.conn = acp.NewClientSideConnection(a, stdin, stdout)

	if _, err := a.conn.Initialize(ctx, acp.InitializeRequest{
		ProtocolVersion: acp.ProtocolVersionNumber,
		ClientCapabilities: acp.ClientCapabilities{
			Fs:       acp.FileSystemCapability{ReadTextFile: false, WriteTextFile: false},
			Terminal: false,
		},
	}); err != nil {
		_ = a.cmd.Process.Kill()
		return fmt.Errorf("failed to initialize connection to acp agent: %w", err)
	}

	return nil
}

func (a *acpAttempt) Run(ctx context.Context, instruction string) (contracts.ExecutionOutcome, error) {
	session, err := a.conn.NewSession(ctx, acp.NewSessionRequest{
		Cwd: a.workspace,
	})
	if err != nil {
		return contracts.ExecutionOutcome{}, fmt.Errorf("failed to start acp session: %w", err)
	}

	a.mu.Lock()
	a.sessionID = session.SessionId
	a.mu.Unlock()

	resp, err := a.conn.Prompt(ctx, acp.PromptRequest{
		SessionId: session.SessionId,
		Prompt:    []acp.ContentBlock{acp.TextBlock(instruction)},
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return contracts.ExecutionOutcome{
				Status:     contracts.ExecutionTimedOut,
				Diagnostic: "acp prompt aborted by wall-clock budget",
			}, nil
		}
		return contracts.ExecutionOutcome{}, fmt.Errorf("failed to prompt acp agent: %w", err)
	}

	return a.outcomeForStopReason(resp.StopReason), nil
}

// outcomeForStopReason maps the agent's self-reported stop reason onto the
// attempt's terminal status.
func (a *acpAttempt) outcomeForStopReason(reason acp.StopReason) contracts.ExecutionOutcome {
	diagnostic := a.lastAgentMessage()

	switch reason {
	case acp.StopReasonEndTurn:
		return contracts.ExecutionOutcome{Status: contracts.ExecutionSucceeded, Diagnostic: diagnostic}
	case acp.StopReasonMaxTurnRequests, acp.StopReasonMaxTokens:
		return contracts.ExecutionOutcome{Status: contracts.ExecutionTurnLimitReached, Diagnostic: diagnostic}
	case acp.StopReasonCancelled:
		return contracts.ExecutionOutcome{Status: contracts.ExecutionTimedOut, Diagnostic: diagnostic}
	case acp.StopReasonRefusal:
		return contracts.ExecutionOutcome{
			Status:     contracts.ExecutionFailed,
			Diagnostic: fmt.Sprintf("agent refused the task: %s", diagnostic),
		}
	default:
		return contracts.ExecutionOutcome{
			Status:     contracts.ExecutionFailed,
			Diagnostic: fmt.Sprintf("agent stopped with reason %q: %s", reason, diagnostic),
		}
	}
}

// lastAgentMessage returns the text of the most recent agent message chunk,
// used as the attempt diagnostic.
func (a *acpAttempt) lastAgentMessage() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := len(a.updates) - 1; i >= 0; i-- {
		chunk := a.updates[i].AgentMessageChunk
		if chunk == nil {
			continue
		}
		if text := chunk.Content.Text; text != nil {
			return text.Text
		}
	}

	return ""
}

// Close kills the agent process. Safe to call after any outcome and
// idempotent.
func (a *acpAttempt) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if a.cmd == nil || a.cmd.Process == nil {
		return nil
	}
	if a.cmd.ProcessState != nil && a.cmd.ProcessState.Exited() {
		return nil
	}

	return a.cmd.Process.Kill()
}
