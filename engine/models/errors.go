package models

import "fmt"

// ErrorKind classifies failures per spec.md §7 so HTTP mapping and retry
// predicates can switch on kind rather than matching error strings.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindTransport  ErrorKind = "transport"
	KindTimeout    ErrorKind = "timeout"
	KindOverflow   ErrorKind = "overflow"
	KindPermanent  ErrorKind = "permanent"
)

// Error is the sealed error shape carried across every subsystem boundary.
type Error struct {
	Kind    ErrorKind
	Op      string // component/operation that raised it, e.g. "stream.Buffer.Add"
	Message string
	Err     error // wrapped cause, optional
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is comparisons against a bare *Error carrying only a
// Kind (e.g. errors.Is(err, &Error{Kind: KindNotFound})).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

func NewValidationError(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

func NewNotFoundError(op, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: message}
}

func NewTransportError(op, message string, cause error) *Error {
	return &Error{Kind: KindTransport, Op: op, Message: message, Err: cause}
}

func NewTimeoutError(op, message string) *Error {
	return &Error{Kind: KindTimeout, Op: op, Message: message}
}

func NewOverflowError(op, message string) *Error {
	return &Error{Kind: KindOverflow, Op: op, Message: message}
}

func NewPermanentError(op, message string, cause error) *Error {
	return &Error{Kind: KindPermanent, Op: op, Message: message, Err: cause}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is a
// *Error, and reports ok=false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Kind, true
}

// Retryable reports whether err's kind is retryable by default (TransportError,
// TimeoutError). ValidationError, NotFoundError and PermanentError never are;
// OverflowError is accounted as a drop counter rather than retried.
func Retryable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindTransport, KindTimeout:
		return true
	default:
		return false
	}
}
