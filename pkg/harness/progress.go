package harness

import "github.com/redrive/redrive/pkg/contracts"

type ProgressEventType string

const (
	EventBatchStart           ProgressEventType = "batch_start"
	EventBatchComplete        ProgressEventType = "batch_complete"
	EventSessionStart         ProgressEventType = "session_start"
	EventAttemptStart         ProgressEventType = "attempt_start"
	EventVerificationComplete ProgressEventType = "verification_complete"
	EventSessionComplete      ProgressEventType = "session_complete"
	EventSessionError         ProgressEventType = "session_error"
	EventPluginLog            ProgressEventType = "plugin_log"
)

// ProgressEvent reports batch progress to a callback. Session and Attempt
// are set on session-scoped events; Verification only on
// EventVerificationComplete; Result only on EventSessionComplete.
type ProgressEvent struct {
	Type         ProgressEventType
	Message      string
	Session      string
	Attempt      int
	Verification *contracts.VerificationOutcome
	Result       *contracts.RunResult
}

// ProgressCallback receives events from potentially concurrent sessions and
// must be safe for concurrent use.
type ProgressCallback func(event ProgressEvent)

func NoopProgressCallback(event ProgressEvent) {}
