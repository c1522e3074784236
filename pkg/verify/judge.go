package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/redrive/redrive/pkg/contracts"
	"github.com/redrive/redrive/pkg/digest"
	"github.com/redrive/redrive/pkg/util"
)

const defaultDiffCommand = "git diff HEAD"

// JudgeEnvConfig names the environment variables holding the model endpoint
// settings, so configs never embed credentials.
type JudgeEnvConfig struct {
	BaseUrlKey   string `json:"baseUrlKey"`
	ApiKeyKey    string `json:"apiKeyKey"`
	ModelNameKey string `json:"modelNameKey"`
}

// JudgeConfig configures a ScopeJudge.
type JudgeConfig struct {
	Env *JudgeEnvConfig `json:"env,omitempty"`

	// DiffCommand produces the change to judge, run via $SHELL -c in the
	// workspace. Empty means "git diff HEAD".
	DiffCommand string `json:"diffCommand,omitempty"`
}

func (cfg *JudgeConfig) Validate() error {
	if cfg.Env == nil {
		return fmt.Errorf("env must be set on a judge verifier")
	}
	if cfg.Env.BaseUrlKey == "" || cfg.Env.ApiKeyKey == "" {
		return fmt.Errorf("both baseUrlKey and apiKeyKey must be set on a judge verifier")
	}

	return nil
}

func (cfg *JudgeConfig) BaseUrl() string {
	return os.Getenv(cfg.Env.BaseUrlKey)
}

func (cfg *JudgeConfig) ApiKey() string {
	return os.Getenv(cfg.Env.ApiKeyKey)
}

func (cfg *JudgeConfig) ModelName() string {
	return os.Getenv(cfg.Env.ModelNameKey)
}

// ScopeJudge asks a chat model whether the workspace diff stays within the
// scope of the instruction that produced it.
type ScopeJudge struct {
	client      *openai.Client
	model       shared.ChatModel
	instruction string
	diffCommand string
}

var _ contracts.Verifier = &ScopeJudge{}

type judgeVerdict struct {
	Passed bool   `json:"passed"`
	Reason string `json:"reason"`
}

// NewScopeJudge builds a judge bound to one session's instruction.
func NewScopeJudge(cfg *JudgeConfig, instruction string) (*ScopeJudge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseUrl, apiKey := cfg.BaseUrl(), cfg.ApiKey()
	if baseUrl == "" || apiKey == "" {
		return nil, fmt.Errorf("both url and API key must be provided to create a scope judge")
	}

	model := shared.ChatModel(cfg.ModelName())
	if model == "" {
		model = openai.ChatModelGPT4
	}

	client := openai.NewClient(
		option.WithBaseURL(baseUrl),
		option.WithAPIKey(apiKey),
	)

	diffCommand := cfg.DiffCommand
	if diffCommand == "" {
		diffCommand = defaultDiffCommand
	}

	return &ScopeJudge{
		client:      &client,
		model:       model,
		instruction: instruction,
		diffCommand: diffCommand,
	}, nil
}

// Verify diffs the workspace and asks the model for a verdict. An empty diff
// passes without a model call.
func (j *ScopeJudge) Verify(ctx context.Context, workspace string) (contracts.VerificationOutcome, error) {
	start := time.Now()

	diff, err := j.workspaceDiff(ctx, workspace)
	if err != nil {
		return contracts.VerificationOutcome{}, err
	}
	if strings.TrimSpace(diff) == "" {
		return contracts.VerificationOutcome{Passed: true, Elapsed: time.Since(start)}, nil
	}

	if util.IsVerbose(ctx) {
		fmt.Printf("  → Scope judge '%s' is evaluating…\n", j.model)
	}

	verdict, raw, err := j.judge(ctx, diff)
	if err != nil {
		return contracts.VerificationOutcome{}, err
	}

	outcome := contracts.VerificationOutcome{
		Passed:  verdict.Passed,
		Elapsed: time.Since(start),
	}
	if !verdict.Passed {
		reason := verdict.Reason
		if reason == "" {
			reason = "change judged out of scope, no reason given"
		}
		outcome.Failures = []contracts.VerificationFailure{{
			Category:     contracts.FailureCustom,
			ShortSummary: digest.Clip(reason, digest.ShortSummaryLimit),
			RawDetail:    raw,
		}}
	}

	return outcome, nil
}

func (j *ScopeJudge) workspaceDiff(ctx context.Context, workspace string) (string, error) {
	cmd := exec.CommandContext(ctx, util.GetShell(), "-c", j.diffCommand)
	cmd.Dir = workspace

	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("failed to run diff command '%s': %w: %s", j.diffCommand, err, out)
	}

	return string(out), nil
}

func (j *ScopeJudge) judge(ctx context.Context, diff string) (judgeVerdict, string, error) {
	systemPrompt, err := buildJudgeSystemPrompt()
	if err != nil {
		return judgeVerdict{}, "", fmt.Errorf("failed to build system prompt: %w", err)
	}

	userPrompt, err := buildJudgeUserPrompt(judgeUserPromptData{
		Task: j.instruction,
		Diff: diff,
	})
	if err != nil {
		return judgeVerdict{}, "", fmt.Errorf("failed to build user prompt: %w", err)
	}

	completion, err := j.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: j.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	})
	if err != nil {
		return judgeVerdict{}, "", fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return judgeVerdict{}, "", fmt.Errorf("no completion choices returned")
	}

	content := completion.Choices[0].Message.Content
	verdict, err := parseVerdict(content)
	if err != nil {
		return judgeVerdict{}, "", err
	}

	return verdict, content, nil
}

func parseVerdict(content string) (judgeVerdict, error) {
	body := strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(body, "```json"); ok {
		body = after
	} else if after, ok := strings.CutPrefix(body, "```"); ok {
		body = after
	}
	body = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(body), "```"))

	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(body), &verdict); err != nil {
		return judgeVerdict{}, fmt.Errorf("failed to parse judge verdict '%s': %w", content, err)
	}

	return verdict, nil
}
