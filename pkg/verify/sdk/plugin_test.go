package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/jsonrpc2"

	"github.com/redrive/redrive/pkg/verify/protocol"
)

func mustNewCall(t *testing.T, method string, params any) *jsonrpc2.Request {
	t.Helper()

	req, err := jsonrpc2.NewCall(jsonrpc2.Int64ID(1), method, params)
	require.NoError(t, err)
	return req
}

func passingPlugin(opts ...PluginOption) *Plugin {
	return NewPlugin(
		PluginInfo{Name: "test-plugin", Version: "1.0.0", Description: "a test plugin"},
		func(ctx context.Context, req *VerifyRequest) (*VerifyResult, error) {
			return Pass(), nil
		},
		opts...,
	)
}

func TestHandleInitialize(t *testing.T) {
	schema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"threshold": {Type: "number"},
		},
	}

	var receivedConfig map[string]any
	plugin := passingPlugin(
		WithConfigSchema(schema),
		WithInitializeHandler(func(config map[string]any) error {
			receivedConfig = config
			return nil
		}),
	)

	req := mustNewCall(t, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Config:          map[string]any{"threshold": 0.8},
	})

	result, err := plugin.Handle(context.Background(), req)
	require.NoError(t, err)

	manifest, ok := result.(*protocol.Manifest)
	require.True(t, ok)
	assert.Equal(t, "test-plugin", manifest.Name)
	assert.Equal(t, "1.0.0", manifest.Version)
	assert.Equal(t, protocol.ProtocolVersion, manifest.ProtocolVersion)
	assert.Same(t, schema, manifest.ConfigSchema)

	assert.Equal(t, map[string]any{"threshold": 0.8}, receivedConfig)
}

func TestHandleInitialize_VersionMismatch(t *testing.T) {
	plugin := passingPlugin()

	req := mustNewCall(t, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: "99.0.0",
	})

	_, err := plugin.Handle(context.Background(), req)
	assert.ErrorContains(t, err, "unsupported protocol version")
}

func TestHandleInitialize_HandlerError(t *testing.T) {
	plugin := passingPlugin(WithInitializeHandler(func(config map[string]any) error {
		return fmt.Errorf("bad config")
	}))

	req := mustNewCall(t, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
	})

	_, err := plugin.Handle(context.Background(), req)
	assert.ErrorContains(t, err, "initialization failed: bad config")
}

func TestHandleVerify(t *testing.T) {
	var received *VerifyRequest
	plugin := NewPlugin(
		PluginInfo{Name: "test-plugin"},
		func(ctx context.Context, req *VerifyRequest) (*VerifyResult, error) {
			received = req
			return Fail(VerifyFailure{Category: "test", Summary: "TestFoo failed"}), nil
		},
	)

	req := mustNewCall(t, protocol.MethodVerify, protocol.VerifyParams{
		Workspace:   "/tmp/workspace",
		Instruction: "fix the test",
		Attempt:     2,
	})

	result, err := plugin.Handle(context.Background(), req)
	require.NoError(t, err)

	verifyResult, ok := result.(*protocol.VerifyResult)
	require.True(t, ok)
	assert.False(t, verifyResult.Passed)
	require.Len(t, verifyResult.Failures, 1)
	assert.Equal(t, "TestFoo failed", verifyResult.Failures[0].Summary)

	require.NotNil(t, received)
	assert.Equal(t, "/tmp/workspace", received.Workspace)
	assert.Equal(t, "fix the test", received.Instruction)
	assert.Equal(t, 2, received.Attempt)
}

func TestHandleVerify_HandlerError(t *testing.T) {
	plugin := NewPlugin(
		PluginInfo{Name: "test-plugin"},
		func(ctx context.Context, req *VerifyRequest) (*VerifyResult, error) {
			return nil, fmt.Errorf("workspace unreadable")
		},
	)

	req := mustNewCall(t, protocol.MethodVerify, protocol.VerifyParams{
		Workspace: "/tmp/workspace",
		Attempt:   1,
	})

	_, err := plugin.Handle(context.Background(), req)
	assert.ErrorContains(t, err, "workspace unreadable")
}

func TestHandleVerify_InvalidParams(t *testing.T) {
	plugin := passingPlugin()

	req := mustNewCall(t, protocol.MethodVerify, nil)
	req.Params = json.RawMessage(`{invalid`)

	_, err := plugin.Handle(context.Background(), req)
	assert.ErrorContains(t, err, "invalid params")
}

func TestHandleUnknownMethod(t *testing.T) {
	plugin := passingPlugin()

	req := mustNewCall(t, "reticulate", nil)

	_, err := plugin.Handle(context.Background(), req)
	assert.ErrorContains(t, err, "method not found: reticulate")
}

func TestHandleShutdown(t *testing.T) {
	plugin := passingPlugin()

	req := mustNewCall(t, protocol.MethodShutdown, nil)

	_, err := plugin.Handle(context.Background(), req)
	assert.NoError(t, err)

	// Logging after shutdown is rejected
	err = plugin.Log(context.Background(), "info", "too late", nil)
	assert.ErrorContains(t, err, "plugin not running")
}

func TestRun_RequiresVerifyHandler(t *testing.T) {
	plugin := NewPlugin(PluginInfo{Name: "broken"}, nil)

	err := plugin.Run(context.Background())
	assert.ErrorContains(t, err, "no verify handler")
}

func TestHelpers(t *testing.T) {
	assert.True(t, Pass().Passed)

	failed := FailWithSummary("coverage dropped")
	assert.False(t, failed.Passed)
	require.Len(t, failed.Failures, 1)
	assert.Equal(t, "custom", failed.Failures[0].Category)
	assert.Equal(t, "coverage dropped", failed.Failures[0].Summary)
}
