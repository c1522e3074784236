package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/exp/jsonrpc2"

	"github.com/redrive/redrive/pkg/contracts"
	"github.com/redrive/redrive/pkg/digest"
	"github.com/redrive/redrive/pkg/verify/protocol"
)

// PluginConfig configures an external verifier plugin.
type PluginConfig struct {
	// BinaryPath is the plugin executable, spawned once and spoken to over
	// stdio with newline-delimited JSON-RPC.
	BinaryPath string `json:"binaryPath"`

	// Env entries of the form KEY=VALUE for the plugin process.
	Env []string `json:"env,omitempty"`

	// Config is passed to the plugin on initialize and validated against
	// the schema the plugin's manifest declares.
	Config map[string]any `json:"config,omitempty"`
}

func (cfg *PluginConfig) Validate() error {
	if cfg.BinaryPath == "" {
		return fmt.Errorf("binaryPath must be set on a plugin verifier")
	}

	return nil
}

// PluginVerifier runs verification in an external process. Start it once,
// verify any number of times, then Shutdown.
type PluginVerifier struct {
	cfg      *PluginConfig
	cmd      *exec.Cmd
	conn     *jsonrpc2.Connection
	manifest *protocol.Manifest
	logFn    func(level, message string, data map[string]any)
	mux      sync.Mutex

	// instruction and attempt are forwarded on verify calls; the session
	// owner updates attempt between runs.
	instruction string
	attempt     int
}

var _ contracts.Verifier = &PluginVerifier{}

// NewPluginVerifier validates the config; the plugin process starts on Start.
func NewPluginVerifier(cfg *PluginConfig, instruction string, logFn func(level, message string, data map[string]any)) (*PluginVerifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &PluginVerifier{
		cfg:         cfg,
		logFn:       logFn,
		instruction: instruction,
	}, nil
}

// Start spawns the plugin, performs the initialize handshake, and checks the
// config against the schema the plugin declares.
func (p *PluginVerifier) Start(ctx context.Context) error {
	p.cmd = exec.CommandContext(ctx, p.cfg.BinaryPath)
	p.cmd.Env = p.cfg.Env

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err = p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start plugin: %w", err)
	}

	p.conn, err = jsonrpc2.Dial(ctx, &cmdDialer{stdin: stdin, stdout: stdout}, &jsonrpc2.ConnectionOptions{
		Handler: p,
		Framer:  protocol.NewlineFramer(),
	})
	if err != nil {
		_ = p.cmd.Process.Kill()
		return fmt.Errorf("failed to connect to plugin: %w", err)
	}

	manifest := &protocol.Manifest{}
	err = p.call(ctx, protocol.MethodInitialize, &protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Config:          p.cfg.Config,
	}, manifest)
	if err != nil {
		_ = p.cmd.Process.Kill()
		return fmt.Errorf("failed to initialize plugin: %w", err)
	}

	if err := manifest.ValidateConfig(p.cfg.Config); err != nil {
		shutdownErr := p.Shutdown(ctx)
		return errors.Join(fmt.Errorf("plugin '%s': %w", manifest.Name, err), shutdownErr)
	}

	p.manifest = manifest
	return nil
}

// Handle receives plugin-initiated messages; only log notifications are
// expected.
func (p *PluginVerifier) Handle(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	if req.Method == protocol.MethodLog && p.logFn != nil {
		var params protocol.LogParams
		if err := json.Unmarshal(req.Params, &params); err == nil {
			p.logFn(params.Level, params.Message, params.Data)
		}
	}

	return nil, nil
}

// Manifest returns the handshake result, nil before Start.
func (p *PluginVerifier) Manifest() *protocol.Manifest {
	return p.manifest
}

// SetAttempt records the attempt index forwarded on the next Verify call.
func (p *PluginVerifier) SetAttempt(attempt int) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.attempt = attempt
}

// Verify asks the plugin to judge the workspace.
func (p *PluginVerifier) Verify(ctx context.Context, workspace string) (contracts.VerificationOutcome, error) {
	start := time.Now()

	p.mux.Lock()
	params := &protocol.VerifyParams{
		Workspace:   workspace,
		Instruction: p.instruction,
		Attempt:     p.attempt,
	}
	p.mux.Unlock()

	result := &protocol.VerifyResult{}
	if err := p.call(ctx, protocol.MethodVerify, params, result); err != nil {
		return contracts.VerificationOutcome{}, fmt.Errorf("plugin verify call failed: %w", err)
	}

	outcome := contracts.VerificationOutcome{
		Passed:  result.Passed,
		Elapsed: time.Since(start),
	}
	for _, f := range result.Failures {
		summary := f.Summary
		if summary == "" {
			summary = "plugin reported a failure with no summary"
		}
		outcome.Failures = append(outcome.Failures, contracts.VerificationFailure{
			Category:     failureCategory(f.Category),
			ShortSummary: digest.Clip(summary, digest.ShortSummaryLimit),
			RawDetail:    f.Detail,
		})
	}
	if !outcome.Passed && len(outcome.Failures) == 0 {
		outcome.Failures = []contracts.VerificationFailure{{
			Category:     contracts.FailureCustom,
			ShortSummary: "verification failed, no specific failure lines identified",
		}}
	}

	return outcome, nil
}

// Shutdown asks the plugin to exit and reaps the process, killing it if it
// ignores the request or the context expires first.
func (p *PluginVerifier) Shutdown(ctx context.Context) error {
	if err := p.call(ctx, protocol.MethodShutdown, struct{}{}, nil); err != nil {
		p.closeConn()
		return errors.Join(err, p.cmd.Process.Kill())
	}

	waitDone := make(chan error, 1)
	go func() {
		waitDone <- p.cmd.Wait()
	}()

	select {
	case err := <-waitDone:
		p.closeConn()
		return err
	case <-ctx.Done():
		p.closeConn()
		return p.cmd.Process.Kill()
	}
}

func (p *PluginVerifier) closeConn() {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *PluginVerifier) call(ctx context.Context, method string, params, result any) error {
	p.mux.Lock()
	conn := p.conn
	p.mux.Unlock()
	if conn == nil {
		return fmt.Errorf("plugin is not started")
	}

	return conn.Call(ctx, method, params).Await(ctx, result)
}

func failureCategory(category string) contracts.FailureCategory {
	switch contracts.FailureCategory(category) {
	case contracts.FailureBuild, contracts.FailureTest, contracts.FailureLint:
		return contracts.FailureCategory(category)
	default:
		return contracts.FailureCustom
	}
}

type cmdDialer struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

var _ jsonrpc2.Dialer = &cmdDialer{}

func (d *cmdDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	return &stdioReadWriteCloser{stdin: d.stdin, stdout: d.stdout}, nil
}

type stdioReadWriteCloser struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

var _ io.ReadWriteCloser = &stdioReadWriteCloser{}

func (rwc *stdioReadWriteCloser) Read(data []byte) (int, error) {
	return rwc.stdout.Read(data)
}

func (rwc *stdioReadWriteCloser) Write(data []byte) (int, error) {
	return rwc.stdin.Write(data)
}

func (rwc *stdioReadWriteCloser) Close() error {
	err := rwc.stdin.Close()
	return errors.Join(err, rwc.stdout.Close())
}
