package card

import (
	"fmt"
	"strings"

	types "github.com/agentvault/agentvault-go/types"
)

// ValidationError reports every schema problem found in a card, each scoped
// to the JSON path that caused it. It is never retried.
type ValidationError struct {
	Issues []types.CardIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "agent card validation failed"
	}
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.Path + ": " + issue.Message
	}
	return "agent card validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError creates a ValidationError from a list of issues.
func NewValidationError(issues []types.CardIssue) error {
	return &ValidationError{Issues: issues}
}

// IOError wraps a local filesystem failure while reading a card.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("failed to read agent card %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// FetchError reports a failure retrieving a card over HTTP. Transport
// details are reduced to a stable reason so they do not leak into user
// facing errors.
type FetchError struct {
	URL    string
	Reason string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch agent card from %s: %s", e.URL, e.Reason)
}

func (e *FetchError) Unwrap() error { return e.Err }
