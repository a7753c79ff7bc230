package protocol

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrConnection       = errors.New("protocol: connection error")
	ErrFatal            = errors.New("protocol: fatal error")
	ErrTrap             = errors.New("protocol: trap")
	ErrSessionClosed    = errors.New("protocol: session closed")
	ErrNotAuthenticated = errors.New("protocol: session not authenticated")
)

// ConnectionError is a socket-level failure. The session that produced it is closed.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol: connection error: %s", e.Op)
	}
	return fmt.Sprintf("protocol: connection error: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// FatalError is a framing violation, an undecodable word, or a !fatal reply.
// Attrs is nil unless the server sent a !fatal reply.
type FatalError struct {
	Reason string
	Attrs  map[string]string
	Err    error
}

func (e *FatalError) Error() string {
	switch {
	case e.Attrs != nil:
		return "protocol: fatal: " + describeAttrs(e.Attrs)
	case e.Err != nil:
		return fmt.Sprintf("protocol: fatal: %s: %v", e.Reason, e.Err)
	default:
		return "protocol: fatal: " + e.Reason
	}
}

func (e *FatalError) Unwrap() error { return e.Err }

func (e *FatalError) Is(target error) bool { return target == ErrFatal }

// Message returns the server supplied message attribute, if any.
func (e *FatalError) Message() string { return e.Attrs["message"] }

// TrapError is a !trap reply. The session stays usable.
type TrapError struct {
	Attrs map[string]string
}

func (e *TrapError) Error() string {
	return "protocol: trap: " + describeAttrs(e.Attrs)
}

func (e *TrapError) Is(target error) bool { return target == ErrTrap }

// Message returns the server supplied message attribute, if any.
func (e *TrapError) Message() string { return e.Attrs["message"] }

// Category returns the trap category attribute, if any.
func (e *TrapError) Category() string { return e.Attrs["category"] }

func NewConnectionError(op string, err error) error {
	return &ConnectionError{Op: op, Err: err}
}

func NewFatalError(reason string, err error) error {
	return &FatalError{Reason: reason, Err: err}
}

// IsRetryable reports whether err may be retried on a fresh session.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnection)
}

func describeAttrs(attrs map[string]string) string {
	if msg, ok := attrs["message"]; ok && msg != "" {
		return msg
	}
	if len(attrs) == 0 {
		return "<no attributes>"
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
