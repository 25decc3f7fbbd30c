package errs

import (
	"errors"
	"fmt"
)

// Kind classifies how a caller should react to an error.
type Kind string

const (
	// KindConfiguration is fatal at construction time.
	KindConfiguration Kind = "configuration"
	// KindPolicy is a non-fatal rejection by symbol or trading policy.
	KindPolicy Kind = "policy"
	// KindValidation is a non-fatal rejection of malformed or insufficient input.
	KindValidation Kind = "validation"
	// KindRisk is a non-fatal rejection by the risk controller. Safe to retry next cycle.
	KindRisk Kind = "risk"
	// KindExternal is a failed call to the exchange or another collaborator.
	KindExternal Kind = "external"
)

var (
	ErrInsufficientData   = New(KindValidation, "insufficient indicator history")
	ErrSymbolBlocked      = New(KindPolicy, "symbol blocked by policy")
	ErrCircuitBreaker     = New(KindRisk, "circuit breaker active")
	ErrExposureCeiling    = New(KindRisk, "projected exposure exceeds ceiling")
	ErrDisallowedEndpoint = New(KindConfiguration, "exchange endpoint not in allow-list")
	ErrMissingCredentials = New(KindConfiguration, "live mode requires api credentials")
)

// Error carries a Kind plus an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by kind and message so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

// Wrap attaches a kind to an underlying error. Returns nil when err is nil.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

func Configuration(format string, a ...interface{}) *Error {
	return Newf(KindConfiguration, format, a...)
}

func Validation(format string, a ...interface{}) *Error {
	return Newf(KindValidation, format, a...)
}

func External(message string, err error) error {
	return Wrap(KindExternal, message, err)
}

// KindOf returns the kind of the first *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
