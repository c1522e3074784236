// Package harness loads SessionSet configs and drives a batch of retry
// sessions to completion.
package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/redrive/redrive/pkg/executor"
	"github.com/redrive/redrive/pkg/util"
	"github.com/redrive/redrive/pkg/verify"
)

const (
	KindSessionSet = "SessionSet"

	ExecutorCommand = "command"
	ExecutorAcp     = "acp"

	VerifierScript = "script"
	VerifierJudge  = "judge"
	VerifierPlugin = "plugin"
)

// SessionSet is the top level config: a batch of sessions sharing an
// executor, verifier, and retry policy.
type SessionSet struct {
	util.TypeMeta `json:",inline"`

	Metadata SessionSetMetadata `json:"metadata"`
	Spec     SessionSetSpec     `json:"spec"`
}

type SessionSetMetadata struct {
	Name string `json:"name"`
}

type SessionSetSpec struct {
	Executor ExecutorConfig  `json:"executor"`
	Verifier *VerifierConfig `json:"verifier,omitempty"`
	Policy   PolicyConfig    `json:"policy,omitempty"`

	// Parallel bounds concurrently running sessions. Zero or negative
	// means sequential.
	Parallel int `json:"parallel,omitempty"`

	Sessions []SessionConfig `json:"sessions"`
}

// ExecutorConfig picks how attempts run. Exactly one of Command or Acp must
// match Type.
type ExecutorConfig struct {
	Type    string                `json:"type"`
	Command *executor.CommandSpec `json:"command,omitempty"`
	Acp     *executor.AcpSpec     `json:"acp,omitempty"`
}

// VerifierConfig picks how attempts are judged. Absent verifier means the
// first completed attempt succeeds.
type VerifierConfig struct {
	Type   string               `json:"type"`
	Script []verify.CommandSpec `json:"script,omitempty"`
	Judge  *verify.JudgeConfig  `json:"judge,omitempty"`
	Plugin *verify.PluginConfig `json:"plugin,omitempty"`
}

// PolicyConfig holds the retry policy. MaxAttempts nil means the default.
type PolicyConfig struct {
	MaxAttempts *int `json:"maxAttempts,omitempty"`
}

// SessionConfig is one task: an instruction applied to a workspace.
type SessionConfig struct {
	Name string `json:"name"`

	// Workspace is the directory attempts mutate. Relative paths resolve
	// against the config file's directory.
	Workspace string `json:"workspace"`

	// Instruction holds the task text inline or in a file.
	Instruction util.Step `json:"instruction"`
}

func (s *SessionSet) UnmarshalJSON(data []byte) error {
	type Doppleganger SessionSet

	tmp := (*Doppleganger)(s)
	return util.UnmarshalWithKind(data, tmp, KindSessionSet)
}

func (s *SessionSet) Validate() error {
	switch s.Spec.Executor.Type {
	case ExecutorCommand:
		if s.Spec.Executor.Command == nil {
			return fmt.Errorf("executor.command must be set when executor.type is '%s'", ExecutorCommand)
		}
	case ExecutorAcp:
		if s.Spec.Executor.Acp == nil {
			return fmt.Errorf("executor.acp must be set when executor.type is '%s'", ExecutorAcp)
		}
		if err := s.Spec.Executor.Acp.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown executor type '%s'", s.Spec.Executor.Type)
	}

	if v := s.Spec.Verifier; v != nil {
		switch v.Type {
		case VerifierScript:
			if len(v.Script) == 0 {
				return fmt.Errorf("verifier.script must be set when verifier.type is '%s'", VerifierScript)
			}
		case VerifierJudge:
			if v.Judge == nil {
				return fmt.Errorf("verifier.judge must be set when verifier.type is '%s'", VerifierJudge)
			}
			if err := v.Judge.Validate(); err != nil {
				return err
			}
		case VerifierPlugin:
			if v.Plugin == nil {
				return fmt.Errorf("verifier.plugin must be set when verifier.type is '%s'", VerifierPlugin)
			}
			if err := v.Plugin.Validate(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown verifier type '%s'", v.Type)
		}
	}

	if len(s.Spec.Sessions) == 0 {
		return fmt.Errorf("at least one session must be set")
	}

	names := make(map[string]bool, len(s.Spec.Sessions))
	workspaces := make(map[string]bool, len(s.Spec.Sessions))
	for i, session := range s.Spec.Sessions {
		if session.Name == "" {
			return fmt.Errorf("sessions[%d]: name must not be empty", i)
		}
		if names[session.Name] {
			return fmt.Errorf("sessions[%d]: duplicate session name '%s'", i, session.Name)
		}
		names[session.Name] = true

		if session.Workspace == "" {
			return fmt.Errorf("session '%s': workspace must not be empty", session.Name)
		}
		if workspaces[session.Workspace] {
			return fmt.Errorf("session '%s': workspace '%s' is shared with another session", session.Name, session.Workspace)
		}
		workspaces[session.Workspace] = true

		if session.Instruction.IsEmpty() {
			return fmt.Errorf("session '%s': instruction must be set", session.Name)
		}
		if err := session.Instruction.Validate(); err != nil {
			return fmt.Errorf("session '%s': invalid instruction: %w", session.Name, err)
		}
	}

	return nil
}

// InstructionText returns the session's task text, trimmed of a single trailing
// newline when it came from a file.
func (s *SessionConfig) InstructionText() (string, error) {
	text, err := s.Instruction.GetValue()
	if err != nil {
		return "", fmt.Errorf("failed to load instruction for session '%s': %w", s.Name, err)
	}
	if s.Instruction.File != "" {
		text = strings.TrimSuffix(text, "\n")
	}
	if text == "" {
		return "", fmt.Errorf("session '%s': instruction must not be empty", s.Name)
	}

	return text, nil
}

func Read(data []byte, basePath string) (*SessionSet, error) {
	set := &SessionSet{}

	err := yaml.Unmarshal(data, set)
	if err != nil {
		return nil, err
	}

	for i := range set.Spec.Sessions {
		resolveFilePath(&set.Spec.Sessions[i].Workspace, basePath)
		resolveFilePath(&set.Spec.Sessions[i].Instruction.File, basePath)
	}
	if v := set.Spec.Verifier; v != nil && v.Plugin != nil {
		resolveFilePath(&v.Plugin.BinaryPath, basePath)
	}

	if err := set.Validate(); err != nil {
		return nil, err
	}

	return set, nil
}

func resolveFilePath(filePath *string, basePath string) {
	if filePath == nil || *filePath == "" || filepath.IsAbs(*filePath) {
		return
	}

	*filePath = filepath.Join(basePath, *filePath)
}

func FromFile(path string) (*SessionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file '%s' for session set: %w", path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for '%s': %w", path, err)
	}

	return Read(data, filepath.Dir(absPath))
}
