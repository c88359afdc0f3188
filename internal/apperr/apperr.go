// Package apperr defines the error kinds shared by the gateway components.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure into a stable, user-visible category.
type Kind string

const (
	KindUnknown        Kind = "unknown"
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindTenant         Kind = "tenant"
	KindUpstream       Kind = "upstream"
	KindConnection     Kind = "connection"
	KindTimeout        Kind = "timeout"
	KindParse          Kind = "parse"
)

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	// Expired marks an authentication failure caused by a stale session
	// rather than bad credentials.
	Expired bool
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Op != "" && e.Status != 0:
		return fmt.Sprintf("%s: %s error (status %d): %s", e.Op, e.Kind, e.Status, msg)
	case e.Op != "":
		return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, msg)
	default:
		return fmt.Sprintf("%s error: %s", e.Kind, msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind alone, e.g. errors.Is(err, apperr.Timeout).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	Validation     = &Error{Kind: KindValidation}
	Authentication = &Error{Kind: KindAuthentication}
	Tenant         = &Error{Kind: KindTenant}
	Upstream       = &Error{Kind: KindUpstream}
	Connection     = &Error{Kind: KindConnection}
	Timeout        = &Error{Kind: KindTimeout}
	Parse          = &Error{Kind: KindParse}
)

// New creates an error of the given kind.
func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf is shorthand for a validation error.
func Validationf(op, format string, args ...interface{}) *Error {
	return New(KindValidation, op, format, args...)
}

// UpstreamStatus builds an upstream error carrying the HTTP status.
func UpstreamStatus(op string, status int, message string) *Error {
	return &Error{Kind: KindUpstream, Op: op, Status: status, Message: message}
}

// SessionExpired builds the authentication error emitted when the controller
// rejects an established session.
func SessionExpired(op string, status int) *Error {
	return &Error{
		Kind:    KindAuthentication,
		Op:      op,
		Status:  status,
		Message: "session rejected by controller",
		Expired: true,
	}
}

// KindOf returns the kind of err. Context deadline errors map to KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// IsExpired reports whether err signals a stale controller session.
func IsExpired(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindAuthentication && e.Expired
}

// FromContext converts a context error into a timeout error. Cancellation
// that is not a deadline is reported as a timeout too: the caller gave up.
func FromContext(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, Op: op, Err: err}
	}
	return err
}

// StatusOf returns the upstream status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
