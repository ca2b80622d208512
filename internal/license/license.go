package license

import (
	"reflect"
	"time"
)

// DN is an X.500 distinguished name such as "CN=Acme Inc.,C=DE"
type DN string

// License carries the terms of a license key. The zero value of a field
// means it is unset. Records may be invalid while they are being built;
// only Validation enforces the terms.
type License struct {
	Subject        string    `json:"subject,omitempty" yaml:"subject,omitempty"`
	Holder         DN        `json:"holder,omitempty" yaml:"holder,omitempty"`
	Issuer         DN        `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	Issued         time.Time `json:"issued" yaml:"issued"`
	NotBefore      time.Time `json:"notBefore" yaml:"not_before"`
	NotAfter       time.Time `json:"notAfter" yaml:"not_after"`
	ConsumerType   string    `json:"consumerType,omitempty" yaml:"consumer_type,omitempty"`
	ConsumerAmount int       `json:"consumerAmount" yaml:"consumer_amount"`
	Info           string    `json:"info,omitempty" yaml:"info,omitempty"`
	Extra          any       `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// New returns an empty license for one consumer
func New() *License {
	return &License{ConsumerAmount: 1}
}

// SetTerm sets Issued to now unless it is set, and the validity window to
// the given number of days from Issued
func (l *License) SetTerm(now time.Time, days int) {
	if l.Issued.IsZero() {
		l.Issued = now
	}
	l.NotBefore = l.Issued
	l.NotAfter = l.Issued.AddDate(0, 0, days)
}

// Equal reports whether l and o carry the same terms. Timestamps compare
// as instants.
func (l *License) Equal(o *License) bool {
	if l == nil || o == nil {
		return l == o
	}
	return l.Subject == o.Subject &&
		l.Holder == o.Holder &&
		l.Issuer == o.Issuer &&
		l.Issued.Equal(o.Issued) &&
		l.NotBefore.Equal(o.NotBefore) &&
		l.NotAfter.Equal(o.NotAfter) &&
		l.ConsumerType == o.ConsumerType &&
		l.ConsumerAmount == o.ConsumerAmount &&
		l.Info == o.Info &&
		reflect.DeepEqual(l.Extra, o.Extra)
}

// Clock supplies the current time to initialization and validation.
// Replace it with a trusted time source where the system clock cannot be
// trusted.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface
type ClockFunc func() time.Time

// Now calls f
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the system clock
var SystemClock Clock = ClockFunc(time.Now)

// FixedClock always returns t
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}
