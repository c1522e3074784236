package util

import (
	"fmt"
	"os"
)

// Step is a text source that is provided either inline or as a file path.
// Instruction text for a session is supplied this way.
type Step struct {
	Inline string `json:"inline,omitempty"`
	File   string `json:"file,omitempty"`
}

func (s *Step) IsEmpty() bool {
	if s == nil {
		return true
	}

	return s.File == "" && s.Inline == ""
}

func (s *Step) Validate() error {
	if s.Inline != "" && s.File != "" {
		return fmt.Errorf("only one of 'inline' or 'file' can be set")
	}

	return nil
}

// GetValue returns the step's text, reading the file when no inline value is
// set.
func (s *Step) GetValue() (string, error) {
	if s.Inline != "" {
		return s.Inline, nil
	}

	b, err := os.ReadFile(s.File)
	if err != nil {
		return "", err
	}

	return string(b), nil
}
