package errors

import (
	"errors"
	"fmt"
)

// Kind classifies license management failures.
type Kind int

const (
	// KindManagement covers I/O, codec and crypto failures.
	KindManagement Kind = iota
	// KindValidation covers license terms that are not satisfied.
	KindValidation
	// KindAuthentication covers signature and key resolution failures.
	KindAuthentication
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	default:
		return "management"
	}
}

// Error is the single error type returned by license managers.
// Confidential errors must not be shown to end users verbatim.
type Error struct {
	Kind         Kind
	Op           string
	Message      string
	Confidential bool
	Err          error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " failed"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind so that sentinel comparisons like
// errors.Is(err, ErrAuthentication) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAuthentication = &Error{Kind: KindAuthentication, Confidential: true}
	ErrManagement     = &Error{Kind: KindManagement, Confidential: true}
)

// Validation creates a non-confidential validation error
func Validation(format string, args ...interface{}) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

// Authentication creates a confidential authentication error. The cause is
// kept for logging but never rendered into public messages.
func Authentication(err error) *Error {
	return &Error{
		Kind:         KindAuthentication,
		Message:      "license key authentication failed",
		Confidential: true,
		Err:          err,
	}
}

// Management creates a confidential management error for the given operation
func Management(op string, err error) *Error {
	return &Error{
		Kind:         KindManagement,
		Op:           op,
		Confidential: true,
		Err:          err,
	}
}

// Wrap normalizes err into the taxonomy: classified errors pass through,
// everything else becomes a management error.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Management(op, err)
}

// KindOf returns the kind of err, or KindManagement for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindManagement
}

// IsClassified reports whether err carries a license error classification
func IsClassified(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// IsConfidential reports whether err must be hidden from end users.
// Unclassified errors are confidential.
func IsConfidential(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Confidential
	}
	return true
}

// PublicMessage returns the text a user interface may display for err
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && !e.Confidential {
		return e.Message
	}
	return "license management failed"
}
