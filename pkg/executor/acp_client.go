package executor

import (
	"context"
	"fmt"

	"github.com/coder/acp-go-sdk"
)

// This file implements the acp.Client interface on acpAttempt: the attempt is
// the client side of the agent's connection, deciding permissions and
// recording session updates.
var _ acp.Client = &acpAttempt{}

// RequestPermission auto-decides tool-call permissions from the configured
// allowlist: allowed titles get the best available allow option, everything
// else is rejected.
func (a *acpAttempt) RequestPermission(ctx context.Context, params acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	if len(params.Options) < 1 {
		return acp.RequestPermissionResponse{}, fmt.Errorf("at least one option is required to request permission")
	}

	a.mu.Lock()
	a.recordToolCallLocked(&acp.SessionToolCallUpdate{
		Meta:       params.ToolCall.Meta,
		Content:    params.ToolCall.Content,
		Kind:       params.ToolCall.Kind,
		Locations:  params.ToolCall.Locations,
		RawInput:   params.ToolCall.RawInput,
		RawOutput:  params.ToolCall.RawOutput,
		Status:     params.ToolCall.Status,
		Title:      params.ToolCall.Title,
		ToolCallId: params.ToolCall.ToolCallId,
	})
	allowed := a.isAllowedToolCallLocked(params.ToolCall)
	a.mu.Unlock()

	if allowed {
		// Prefer always-allow, then allow-once.
		bestOpt := params.Options[0]
		for _, opt := range params.Options {
			if opt.Kind == acp.PermissionOptionKindAllowAlways {
				bestOpt = opt
				break
			}
			if opt.Kind == acp.PermissionOptionKindAllowOnce {
				bestOpt = opt
			}
		}

		return acp.RequestPermissionResponse{
			Outcome: acp.NewRequestPermissionOutcomeSelected(bestOpt.OptionId),
		}, nil
	}

	found := false
	var bestOpt acp.PermissionOption
	for _, opt := range params.Options {
		if opt.Kind == acp.PermissionOptionKindRejectAlways {
			bestOpt = opt
			found = true
			break
		}
		if opt.Kind == acp.PermissionOptionKindRejectOnce {
			bestOpt = opt
			found = true
		}
	}

	if !found {
		return acp.RequestPermissionResponse{}, fmt.Errorf("no reject option provided")
	}

	return acp.RequestPermissionResponse{Outcome: acp.NewRequestPermissionOutcomeSelected(bestOpt.OptionId)}, nil
}

// isAllowedToolCallLocked resolves the tool call's title (falling back to an
// earlier update with the same id) and checks it against the allowlist.
// Caller must hold a.mu.
func (a *acpAttempt) isAllowedToolCallLocked(call acp.RequestPermissionToolCall) bool {
	if _, ok := a.allowed["*"]; ok {
		return true
	}

	var title string
	if call.Title != nil {
		title = *call.Title
	} else {
		curr, ok := a.toolCalls[call.ToolCallId]
		if !ok || curr.Title == nil {
			return false
		}
		title = *curr.Title
	}

	_, ok := a.allowed[title]
	return ok
}

// SessionUpdate records every update from the agent; the accumulated
// updates feed the attempt diagnostic.
func (a *acpAttempt) SessionUpdate(ctx context.Context, params acp.SessionNotification) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if params.SessionId != a.sessionID {
		return fmt.Errorf("no matching session on attempt")
	}

	a.updates = append(a.updates, params.Update)

	if params.Update.ToolCall != nil {
		a.recordToolCallLocked(&acp.SessionToolCallUpdate{
			Content:       params.Update.ToolCall.Content,
			Kind:          &params.Update.ToolCall.Kind,
			Locations:     params.Update.ToolCall.Locations,
			RawInput:      params.Update.ToolCall.RawInput,
			RawOutput:     params.Update.ToolCall.RawOutput,
			SessionUpdate: params.Update.ToolCall.SessionUpdate,
			Status:        &params.Update.ToolCall.Status,
			Title:         &params.Update.ToolCall.Title,
			ToolCallId:    params.Update.ToolCall.ToolCallId,
		})
	}
	if params.Update.ToolCallUpdate != nil {
		a.recordToolCallLocked(params.Update.ToolCallUpdate)
	}

	return nil
}

// recordToolCallLocked merges a tool-call update into the attempt's tracking
// map. Caller must hold a.mu.
func (a *acpAttempt) recordToolCallLocked(update *acp.SessionToolCallUpdate) {
	call, ok := a.toolCalls[update.ToolCallId]
	if !ok {
		a.toolCalls[update.ToolCallId] = update
		return
	}

	if update.Content != nil {
		call.Content = update.Content
	}
	if update.Kind != nil {
		call.Kind = update.Kind
	}
	if update.Locations != nil {
		call.Locations = update.Locations
	}
	if update.RawInput != nil {
		call.RawInput = update.RawInput
	}
	if update.RawOutput != nil {
		call.RawOutput = update.RawOutput
	}
	if update.Status != nil {
		call.Status = update.Status
	}
	if update.Title != nil {
		call.Title = update.Title
	}
}

// The attempt advertises no fs or terminal capabilities; the agent mutates
// the workspace through its own tools.

func (a *acpAttempt) ReadTextFile(ctx context.Context, params acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	return acp.ReadTextFileResponse{}, fmt.Errorf("no fs.readTextFile capability")
}

func (a *acpAttempt) WriteTextFile(ctx context.Context, params acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	return acp.WriteTextFileResponse{}, fmt.Errorf("no fs.writeTextFile capability")
}

func (a *acpAttempt) CreateTerminal(ctx context.Context, params acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	return acp.CreateTerminalResponse{}, fmt.Errorf("no terminal capability")
}

func (a *acpAttempt) KillTerminalCommand(ctx context.Context, params acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	return acp.KillTerminalCommandResponse{}, fmt.Errorf("no terminal capability")
}

func (a *acpAttempt) TerminalOutput(ctx context.Context, params acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	return acp.TerminalOutputResponse{}, fmt.Errorf("no terminal capability")
}

func (a *acpAttempt) ReleaseTerminal(ctx context.Context, params acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	return acp.ReleaseTerminalResponse{}, fmt.Errorf("no terminal capability")
}

func (a *acpAttempt) WaitForTerminalExit(ctx context.Context, params acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	return acp.WaitForTerminalExitResponse{}, fmt.Errorf("no terminal capability")
}
