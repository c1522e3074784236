package sdk

import "github.com/redrive/redrive/pkg/verify/protocol"

// Pass creates a passing verify result.
func Pass() *protocol.VerifyResult {
	return &protocol.VerifyResult{Passed: true}
}

// Fail creates a failing verify result with the given failures.
func Fail(failures ...protocol.VerifyFailure) *protocol.VerifyResult {
	return &protocol.VerifyResult{
		Passed:   false,
		Failures: failures,
	}
}

// FailWithSummary creates a failing verify result with a single custom
// failure.
func FailWithSummary(summary string) *protocol.VerifyResult {
	return Fail(protocol.VerifyFailure{
		Category: "custom",
		Summary:  summary,
	})
}
