// Package faults defines the error types shared by the report pipeline.
// Each type wraps its cause so callers can match with errors.As and still
// reach the underlying error with errors.Is.
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransportError is a network, timeout or non-2xx failure calling an external API.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline rather than a refusal.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// MalformedResponseError is an external payload whose shape matched nothing
// we know how to read. Payload is kept for diagnostics.
type MalformedResponseError struct {
	Source  string
	Payload []byte
	Reason  string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed %s response: %s", e.Source, e.Reason)
}

// AnalysisParseError is LLM output that is not valid JSON or lacks required keys.
type AnalysisParseError struct {
	Raw string
	Err error
}

func (e *AnalysisParseError) Error() string {
	return fmt.Sprintf("parse analysis: %v", e.Err)
}

func (e *AnalysisParseError) Unwrap() error { return e.Err }

// PersistenceError is a filesystem or database write failure.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Kind names the taxonomy bucket of err, or "internal" when it has none.
func Kind(err error) string {
	var (
		te *TransportError
		me *MalformedResponseError
		ae *AnalysisParseError
		pe *PersistenceError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &te):
		return "transport"
	case errors.As(err, &me):
		return "malformed_response"
	case errors.As(err, &ae):
		return "analysis_parse"
	case errors.As(err, &pe):
		return "persistence"
	default:
		return "internal"
	}
}
