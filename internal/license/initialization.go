package license

// DefaultConsumerType is assigned to licenses without a consumer type
const DefaultConsumerType = "User"

// UnknownHolder is assigned to licenses without a holder
const UnknownHolder DN = "CN=unknown"

// Initialization fills the unset fields of a license before it is validated
// and signed. It never overwrites a set field.
type Initialization interface {
	Initialize(l *License)
}

// InitializationFunc adapts a function to the Initialization interface
type InitializationFunc func(l *License)

// Initialize calls f
func (f InitializationFunc) Initialize(l *License) { f(l) }

// DefaultInitialization assigns the default consumer amount and type, the
// unknown holder, the issue time from clock, and issuer and subject derived
// from subject
func DefaultInitialization(subject string, clock Clock) Initialization {
	return InitializationFunc(func(l *License) {
		if l.ConsumerAmount == 0 {
			l.ConsumerAmount = 1
		}
		if l.ConsumerType == "" {
			l.ConsumerType = DefaultConsumerType
		}
		if l.Holder == "" {
			l.Holder = UnknownHolder
		}
		if l.Issued.IsZero() {
			l.Issued = clock.Now()
		}
		if l.Issuer == "" {
			l.Issuer = DN("CN=" + subject)
		}
		if l.Subject == "" {
			l.Subject = subject
		}
	})
}

// TrialInitialization decorates base so that the validity window starts at
// the issue time and lasts the given number of days. The window is computed
// when the trial license is generated, not when the manager is built.
func TrialInitialization(base Initialization, days int) Initialization {
	return InitializationFunc(func(l *License) {
		base.Initialize(l)
		l.NotBefore = l.Issued
		l.NotAfter = l.Issued.AddDate(0, 0, days)
	})
}
