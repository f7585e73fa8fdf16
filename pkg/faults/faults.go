// Package faults defines the error taxonomy shared by the federation layer.
// Every failure surfaced to callers is a *Error carrying a Kind, the backend
// it concerns (when any) and the underlying cause, so callers can branch with
// errors.Is against the exported sentinels or with KindOf.
package faults

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a federation failure.
type Kind string

const (
	KindConnection  Kind = "connection"
	KindProtocol    Kind = "protocol"
	KindValidation  Kind = "validation"
	KindCircuitOpen Kind = "circuit_open"
	KindTimeout     Kind = "timeout"
	KindNotFound    Kind = "not_found"
)

// Sentinels usable with errors.Is. They match any *Error of the same kind.
var (
	ErrConnection  = &Error{Kind: KindConnection}
	ErrProtocol    = &Error{Kind: KindProtocol}
	ErrValidation  = &Error{Kind: KindValidation}
	ErrCircuitOpen = &Error{Kind: KindCircuitOpen}
	ErrTimeout     = &Error{Kind: KindTimeout}
	ErrNotFound    = &Error{Kind: KindNotFound}
)

// Error is the concrete error type returned by the federation packages.
type Error struct {
	Kind    Kind
	Backend string
	Op      string
	Message string
	// Code holds the JSON-RPC error code for protocol errors reported by a
	// downstream server.
	Code int64
	// RetryAfter is the remaining cooldown for circuit-open errors.
	RetryAfter time.Duration
	// Details lists structured messages, used by validation errors.
	Details []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("federation")
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Backend != "" {
		fmt.Fprintf(&b, " [%s]", e.Backend)
	}
	b.WriteString(": ")
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel (or any *Error) of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Connection reports a handshake, socket or connect-timeout failure.
func Connection(backend, op string, err error) *Error {
	return &Error{Kind: KindConnection, Backend: backend, Op: op, Err: err}
}

// ConnectionClosed reports a request abandoned because its connection ended.
func ConnectionClosed(backend string) *Error {
	return &Error{Kind: KindConnection, Backend: backend, Message: "connection closed"}
}

// Protocol reports a downstream JSON-RPC error or a malformed payload.
func Protocol(backend string, code int64, message string) *Error {
	return &Error{Kind: KindProtocol, Backend: backend, Code: code, Message: message}
}

// Validation reports argument or schema mismatches.
func Validation(tool string, details []string) *Error {
	return &Error{
		Kind:    KindValidation,
		Op:      "validate " + tool,
		Message: strings.Join(details, "; "),
		Details: append([]string(nil), details...),
	}
}

// CircuitOpen reports a fast-fail because the backend's breaker is open.
func CircuitOpen(backend string, remaining time.Duration) *Error {
	return &Error{
		Kind:       KindCircuitOpen,
		Backend:    backend,
		Message:    fmt.Sprintf("circuit open, retry in %s", remaining.Round(time.Millisecond)),
		RetryAfter: remaining,
	}
}

// Timeout reports a request that exceeded its per-request deadline.
func Timeout(backend, method string, after time.Duration) *Error {
	return &Error{
		Kind:    KindTimeout,
		Backend: backend,
		Op:      method,
		Message: fmt.Sprintf("request timed out after %s", after),
	}
}

// NotFound reports an unknown tool, resource or backend.
func NotFound(what, name string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", what, name)}
}
