package license

import (
	"time"

	lerrors "github.com/christian-schlichtherle/truelicense-sub000/internal/errors"
)

// Validation rejects licenses whose terms are not satisfied. Failures are
// non-confidential validation errors.
type Validation interface {
	Validate(l *License) error
}

// ValidationFunc adapts a function to the Validation interface
type ValidationFunc func(l *License) error

// Validate calls f
func (f ValidationFunc) Validate(l *License) error { return f(l) }

// DefaultValidation checks the mandatory fields, the validity window at the
// time of clock and the subject
func DefaultValidation(subject string, clock Clock) Validation {
	return ValidationFunc(func(l *License) error {
		if l.ConsumerAmount <= 0 {
			return lerrors.Validation("consumer amount is not positive: %d", l.ConsumerAmount)
		}
		if l.ConsumerType == "" {
			return lerrors.Validation("consumer type is not set")
		}
		if l.Holder == "" {
			return lerrors.Validation("holder is not set")
		}
		if l.Issued.IsZero() {
			return lerrors.Validation("issue date is not set")
		}
		if l.Issuer == "" {
			return lerrors.Validation("issuer is not set")
		}
		now := clock.Now()
		if !l.NotAfter.IsZero() && now.After(l.NotAfter) {
			return lerrors.Validation("license has expired on %s", l.NotAfter.UTC().Format(time.RFC3339))
		}
		if !l.NotBefore.IsZero() && now.Before(l.NotBefore) {
			return lerrors.Validation("license is not yet valid before %s", l.NotBefore.UTC().Format(time.RFC3339))
		}
		if l.Subject != subject {
			return lerrors.Validation("invalid subject %q, expected %q", l.Subject, subject)
		}
		return nil
	})
}
