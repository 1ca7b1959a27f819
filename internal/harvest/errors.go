package harvest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRetriesExhausted is returned when MaxRetries consecutive transient
// failures occur without a page being persisted.
var ErrRetriesExhausted = errors.New("transient failures exhausted retries")

// RemoteErrorDetail is one entry of the API's structured error payload.
type RemoteErrorDetail struct {
	Type    string   `json:"type,omitempty"`
	Message string   `json:"message"`
	Path    []string `json:"path,omitempty"`
}

// RemoteError means the API rejected a well-formed request. It is not
// retryable.
type RemoteError struct {
	StatusCode int
	Details    []RemoteErrorDetail
}

func (e *RemoteError) Error() string {
	msgs := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		if d.Type != "" {
			msgs = append(msgs, d.Type+": "+d.Message)
			continue
		}
		msgs = append(msgs, d.Message)
	}
	if len(msgs) == 0 {
		return fmt.Sprintf("remote error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("remote error (status %d): %s", e.StatusCode, strings.Join(msgs, "; "))
}

// TransportError wraps a connectivity failure or a transient server response.
type TransportError struct {
	StatusCode int
	Cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error (status %d): %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("transport error: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// PersistenceError wraps a failed page write. The page was not committed.
type PersistenceError struct {
	Op    string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error {
	return e.Cause
}
