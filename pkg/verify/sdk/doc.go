// Package sdk provides a framework for building redrive verifier plugins.
//
// Plugins are JSON-RPC 2.0 servers that communicate over stdio. The host
// starts the plugin once per session, initializes it with the config from the
// session set, and calls verify after each execution attempt.
//
// # Creating a Plugin
//
// Use [NewPlugin] to create a plugin with a verify handler, then call
// [Plugin.Run] to start serving:
//
//	plugin := sdk.NewPlugin(
//	    sdk.PluginInfo{
//	        Name:        "coverage-check",
//	        Version:     "1.0.0",
//	        Description: "Fails verification when test coverage drops",
//	    },
//	    func(ctx context.Context, req *sdk.VerifyRequest) (*sdk.VerifyResult, error) {
//	        coverage, err := measureCoverage(req.Workspace)
//	        if err != nil {
//	            return nil, err
//	        }
//	        if coverage < threshold {
//	            return sdk.Fail(sdk.VerifyFailure{
//	                Category: "custom",
//	                Summary:  fmt.Sprintf("coverage %.1f%% is below %.1f%%", coverage, threshold),
//	            }), nil
//	        }
//	        return sdk.Pass(), nil
//	    },
//	)
//
//	if err := plugin.Run(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//
// # Configuration
//
// Plugins can declare a JSON schema for their config with [WithConfigSchema];
// the host validates the session set's plugin config against it. Use
// [WithInitializeHandler] to receive the config when the host initializes the
// plugin.
//
// # Logging
//
// Plugins can send log messages to the host during verification:
//
//	plugin.LogInfo(ctx, "measuring coverage", map[string]any{"workspace": req.Workspace})
package sdk
