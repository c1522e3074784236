// Package protocol defines the JSON-RPC wire contract between the host and
// external verifier plugins speaking newline-delimited JSON over stdio.
package protocol

import (
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"golang.org/x/exp/jsonrpc2"
)

const ProtocolVersion = "0.0.1"

const (
	MethodInitialize = "initialize"
	MethodVerify     = "verify"
	MethodShutdown   = "shutdown"
	MethodLog        = "log" // notification only
)

// Plugin-specific error codes (reserved range -32000 to -32099)
const (
	CodeVerifyFailed  int64 = -32000
	CodeVerifyTimeout int64 = -32001
)

// Standard JSON-RPC 2.0 error codes
const (
	CodeMethodNotFound int64 = -32601
	CodeInvalidParams  int64 = -32602
	CodeInternalError  int64 = -32603
)

func VerifyFailedError(msg string) error {
	return jsonrpc2.NewError(CodeVerifyFailed, msg)
}

func VerifyTimeoutError(msg string) error {
	return jsonrpc2.NewError(CodeVerifyTimeout, msg)
}

// InitializeParams is sent with the "initialize" method.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Config          map[string]any `json:"config,omitempty"`
}

// Manifest is returned from the "initialize" method and describes the
// plugin, including the schema its config must satisfy.
type Manifest struct {
	Name            string             `json:"name"`
	Version         string             `json:"version"`
	ProtocolVersion string             `json:"protocolVersion"`
	Description     string             `json:"description,omitempty"`
	ConfigSchema    *jsonschema.Schema `json:"configSchema,omitempty"`

	mu       sync.Mutex
	resolved *jsonschema.Resolved
}

// ValidateConfig checks config against the manifest's config schema. A
// manifest without a schema accepts anything. The resolved schema is cached
// after the first successful call; safe for concurrent use.
func (m *Manifest) ValidateConfig(config map[string]any) error {
	if m.ConfigSchema == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolved == nil {
		resolved, err := m.ConfigSchema.Resolve(nil)
		if err != nil {
			return fmt.Errorf("failed to resolve config schema: %w", err)
		}
		m.resolved = resolved
	}

	if err := m.resolved.Validate(config); err != nil {
		return fmt.Errorf("config rejected by plugin schema: %w", err)
	}

	return nil
}

// VerifyParams is sent with the "verify" method.
type VerifyParams struct {
	// Workspace is the directory the plugin inspects.
	Workspace string `json:"workspace"`

	// Instruction is the task the attempt was asked to perform.
	Instruction string `json:"instruction,omitempty"`

	// Attempt is the 1-based attempt index being verified.
	Attempt int `json:"attempt"`
}

// VerifyFailure is one failure reported by a plugin.
type VerifyFailure struct {
	Category string `json:"category,omitempty"`
	Summary  string `json:"summary"`
	Detail   string `json:"detail,omitempty"`
}

// VerifyResult is returned from the "verify" method.
type VerifyResult struct {
	Passed   bool            `json:"passed"`
	Failures []VerifyFailure `json:"failures,omitempty"`
}

// LogParams is sent as a notification with the "log" method.
type LogParams struct {
	Level   string         `json:"level"` // "debug", "info", "warn", "error"
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}
