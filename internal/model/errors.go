package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

type ErrorKind string

const (
	KindAuth           ErrorKind = "auth"
	KindRateLimit      ErrorKind = "rate_limit"
	KindNetwork        ErrorKind = "network"
	KindMalformed      ErrorKind = "malformed"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindUnavailable    ErrorKind = "unavailable"
	KindCanceled       ErrorKind = "canceled"
	KindUnknown        ErrorKind = "unknown"
)

// ProviderError is the only error an adapter returns.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (HTTP %d): %s", e.Provider, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Provider, e.Kind, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether a caller's retry policy may resend the turn.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindNetwork, KindUnavailable:
		return true
	}
	return false
}

// KindForStatus maps an HTTP status to an error kind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimit
	case status == 408 || status >= 500:
		return KindUnavailable
	case status >= 400:
		return KindInvalidRequest
	}
	return KindUnknown
}

// ClassifyError wraps err into a ProviderError, keeping an existing one as is.
// status is the HTTP status when the caller extracted one, 0 otherwise.
func ClassifyError(provider string, status int, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	out := &ProviderError{Provider: provider, StatusCode: status, Err: err}
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		out.Kind = KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		out.Kind = KindCanceled
		out.Message = "deadline exceeded"
	case status != 0:
		out.Kind = KindForStatus(status)
	case errors.As(err, &netErr):
		out.Kind = KindNetwork
	default:
		out.Kind = KindUnknown
	}
	return out
}

// DecodeError is a malformed stream chunk or a tool call that could not be
// reconstructed. It aborts the turn.
type DecodeError struct {
	Index   int // fragment index, -1 when not tied to one
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg += ": " + e.Err.Error()
		}
	}
	if e.Index >= 0 {
		return fmt.Sprintf("decode tool call %d: %s", e.Index, msg)
	}
	return "decode: " + msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ToolValidationError rejects a call before dispatch.
type ToolValidationError struct {
	Tool    string
	Message string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("invalid call to %s: %s", e.Tool, e.Message)
}

// ToolExecutionError is a failure raised by, or a timeout of, a dispatched tool.
type ToolExecutionError struct {
	Tool    string
	Timeout time.Duration // non-zero when the call timed out
	Err     error
}

func (e *ToolExecutionError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("tool %s timed out after %s", e.Tool, e.Timeout)
	}
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

func (e *ToolExecutionError) TimedOut() bool { return e.Timeout > 0 }

// ErrLoopBoundExceeded marks a turn stopped by the tool-round limit. It is
// reported through the turn's stop reason, never returned to callers.
var ErrLoopBoundExceeded = errors.New("tool-call loop bound exceeded")
