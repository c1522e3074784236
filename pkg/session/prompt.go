package session

import (
	"fmt"
	"strings"

	"github.com/redrive/redrive/pkg/contracts"
	"github.com/redrive/redrive/pkg/digest"
)

const (
	// instructionDelimiter separates the original instruction from the
	// retry context appended on attempts after the first.
	instructionDelimiter = "\n\n----\n\n"

	retryDirective = "Fix the issues above, then complete the original task."
)

// buildInstruction assembles the instruction text for one attempt. Attempt 1
// is the original instruction verbatim. Later attempts keep the original
// first and never truncate it, followed by the failure digest over every
// failed verification so far.
func buildInstruction(original string, attempt int, history []contracts.VerificationOutcome) string {
	if attempt <= 1 {
		return original
	}

	var b strings.Builder
	b.WriteString(original)
	b.WriteString(instructionDelimiter)
	fmt.Fprintf(&b, "PREVIOUS ATTEMPT %d FAILED VERIFICATION\n\n", attempt-1)
	b.WriteString(digest.Build(history))
	b.WriteString("\n\n")
	b.WriteString(retryDirective)
	return b.String()
}
