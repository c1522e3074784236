package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"golang.org/x/exp/jsonrpc2"

	"github.com/redrive/redrive/pkg/verify/protocol"
)

// Plugin is a verifier that runs as a JSON-RPC server over stdio.
type Plugin struct {
	mu           sync.RWMutex
	info         PluginInfo
	schema       *jsonschema.Schema
	onInitialize InitializeHandler
	verify       VerifyHandler

	// conn is set while the plugin is running
	conn *jsonrpc2.Connection
	// cancel interrupts the connection context on shutdown
	cancel context.CancelFunc
	// shutdown is set once shutdown has been requested
	shutdown bool
}

// PluginInfo contains metadata about the plugin.
type PluginInfo struct {
	Name        string
	Version     string
	Description string
}

// VerifyRequest carries everything the host knows about the attempt being
// verified.
type VerifyRequest struct {
	// Workspace is the directory the plugin inspects.
	Workspace string

	// Instruction is the task the attempt was asked to perform.
	Instruction string

	// Attempt is the 1-based attempt index being verified.
	Attempt int
}

// VerifyFailure is an alias for the protocol failure type.
type VerifyFailure = protocol.VerifyFailure

// VerifyResult is an alias for the protocol result type.
type VerifyResult = protocol.VerifyResult

// VerifyHandler judges one attempt. An error return means the plugin itself
// broke; the host treats it as retryable rather than a verdict.
type VerifyHandler func(ctx context.Context, req *VerifyRequest) (*VerifyResult, error)

// InitializeHandler receives the host's config during initialization.
type InitializeHandler func(config map[string]any) error

// PluginOption is a functional option for configuring a Plugin.
type PluginOption func(*Plugin)

// NewPlugin creates a new Plugin with the given info, verify handler, and
// options.
func NewPlugin(info PluginInfo, verify VerifyHandler, opts ...PluginOption) *Plugin {
	p := &Plugin{
		info:   info,
		verify: verify,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithInitializeHandler sets the handler called during initialization.
func WithInitializeHandler(handler InitializeHandler) PluginOption {
	return func(p *Plugin) {
		p.onInitialize = handler
	}
}

// WithConfigSchema declares the JSON schema the plugin's config must satisfy.
// The host validates the session set's config against it before any verify
// call.
func WithConfigSchema(schema *jsonschema.Schema) PluginOption {
	return func(p *Plugin) {
		p.schema = schema
	}
}

// Run starts the plugin, listening on stdin/stdout for JSON-RPC messages.
// This blocks until the connection is closed or an error occurs. EOF is
// treated as a clean shutdown.
func (p *Plugin) Run(ctx context.Context) error {
	if p.verify == nil {
		return fmt.Errorf("plugin has no verify handler")
	}

	// Cancellable context so shutdown can interrupt blocked reads
	connCtx, cancel := context.WithCancel(ctx)

	conn, err := jsonrpc2.Dial(connCtx, &stdioDialer{}, &jsonrpc2.ConnectionOptions{
		Handler: p,
		Framer:  protocol.NewlineFramer(),
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to start plugin: %w", err)
	}

	p.mu.Lock()
	p.conn = conn
	p.cancel = cancel
	p.mu.Unlock()

	err = conn.Wait()

	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// Handle processes incoming JSON-RPC requests.
func (p *Plugin) Handle(ctx context.Context, req *jsonrpc2.Request) (any, error) {
	switch req.Method {
	case protocol.MethodInitialize:
		return p.handleInitialize(ctx, req)
	case protocol.MethodVerify:
		return p.handleVerify(ctx, req)
	case protocol.MethodShutdown:
		return p.handleShutdown(ctx, req)
	default:
		return nil, jsonrpc2.NewError(protocol.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (p *Plugin) handleInitialize(_ context.Context, req *jsonrpc2.Request) (*protocol.Manifest, error) {
	var params protocol.InitializeParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, jsonrpc2.NewError(protocol.CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	if params.ProtocolVersion != protocol.ProtocolVersion {
		return nil, jsonrpc2.NewError(
			protocol.CodeInvalidParams,
			fmt.Sprintf("unsupported protocol version: %s (expected %s)", params.ProtocolVersion, protocol.ProtocolVersion),
		)
	}

	if p.onInitialize != nil {
		if err := p.onInitialize(params.Config); err != nil {
			return nil, jsonrpc2.NewError(protocol.CodeInternalError, fmt.Sprintf("initialization failed: %v", err))
		}
	}

	return &protocol.Manifest{
		Name:            p.info.Name,
		Version:         p.info.Version,
		ProtocolVersion: protocol.ProtocolVersion,
		Description:     p.info.Description,
		ConfigSchema:    p.schema,
	}, nil
}

func (p *Plugin) handleVerify(ctx context.Context, req *jsonrpc2.Request) (*protocol.VerifyResult, error) {
	var params protocol.VerifyParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, jsonrpc2.NewError(protocol.CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	result, err := p.verify(ctx, &VerifyRequest{
		Workspace:   params.Workspace,
		Instruction: params.Instruction,
		Attempt:     params.Attempt,
	})
	if err != nil {
		return nil, protocol.VerifyFailedError(err.Error())
	}

	return result, nil
}

func (p *Plugin) handleShutdown(_ context.Context, _ *jsonrpc2.Request) (any, error) {
	p.mu.Lock()
	p.shutdown = true
	cancel := p.cancel
	p.mu.Unlock()

	// Cancel in a goroutine so the response is sent first
	if cancel != nil {
		go cancel()
	}

	return struct{}{}, nil
}

// Log sends a log notification to the host.
func (p *Plugin) Log(ctx context.Context, level, message string, data map[string]any) error {
	p.mu.RLock()
	conn := p.conn
	shutdown := p.shutdown
	p.mu.RUnlock()

	if conn == nil || shutdown {
		return fmt.Errorf("plugin not running")
	}

	params := protocol.LogParams{
		Level:   level,
		Message: message,
		Data:    data,
	}

	return conn.Notify(ctx, protocol.MethodLog, params)
}

// LogDebug sends a debug log message.
func (p *Plugin) LogDebug(ctx context.Context, message string, data map[string]any) error {
	return p.Log(ctx, "debug", message, data)
}

// LogInfo sends an info log message.
func (p *Plugin) LogInfo(ctx context.Context, message string, data map[string]any) error {
	return p.Log(ctx, "info", message, data)
}

// LogWarn sends a warning log message.
func (p *Plugin) LogWarn(ctx context.Context, message string, data map[string]any) error {
	return p.Log(ctx, "warn", message, data)
}

// LogError sends an error log message.
func (p *Plugin) LogError(ctx context.Context, message string, data map[string]any) error {
	return p.Log(ctx, "error", message, data)
}

// stdioDialer implements jsonrpc2.Dialer for stdin/stdout communication.
type stdioDialer struct{}

var _ jsonrpc2.Dialer = &stdioDialer{}

func (d *stdioDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	return &stdioConn{}, nil
}

type stdioConn struct{}

func (c *stdioConn) Read(p []byte) (int, error) {
	return os.Stdin.Read(p)
}

func (c *stdioConn) Write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}

func (c *stdioConn) Close() error {
	stdinErr := os.Stdin.Close()
	stdoutErr := os.Stdout.Close()
	if stdinErr != nil {
		return stdinErr
	}
	return stdoutErr
}
