package license

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned by RateLimitedAuthorization when an operation
// is attempted too often
var ErrRateLimited = errors.New("too many license operations, try again later")

// Authorization clears manager operations before they run. A non-nil error
// aborts the operation before any I/O and is returned to the caller as is.
type Authorization interface {
	ClearGenerate(ctx context.Context) error
	ClearInstall(ctx context.Context) error
	ClearLoad(ctx context.Context) error
	ClearVerify(ctx context.Context) error
	ClearUninstall(ctx context.Context) error
}

// PermitAll clears every operation
type PermitAll struct{}

func (PermitAll) ClearGenerate(context.Context) error  { return nil }
func (PermitAll) ClearInstall(context.Context) error   { return nil }
func (PermitAll) ClearLoad(context.Context) error      { return nil }
func (PermitAll) ClearVerify(context.Context) error    { return nil }
func (PermitAll) ClearUninstall(context.Context) error { return nil }

// RateLimitedAuthorization throttles key generation and installation, the
// operations an attacker would repeat to probe keys or passwords. Other
// operations are delegated.
type RateLimitedAuthorization struct {
	Authorization
	limiter *rate.Limiter
}

// NewRateLimitedAuthorization allows rps generate and install operations
// per second with the given burst on top of next
func NewRateLimitedAuthorization(next Authorization, rps float64, burst int) *RateLimitedAuthorization {
	if next == nil {
		next = PermitAll{}
	}
	return &RateLimitedAuthorization{
		Authorization: next,
		limiter:       rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// ClearGenerate consumes a token, then delegates
func (a *RateLimitedAuthorization) ClearGenerate(ctx context.Context) error {
	if !a.limiter.Allow() {
		return ErrRateLimited
	}
	return a.Authorization.ClearGenerate(ctx)
}

// ClearInstall consumes a token, then delegates
func (a *RateLimitedAuthorization) ClearInstall(ctx context.Context) error {
	if !a.limiter.Allow() {
		return ErrRateLimited
	}
	return a.Authorization.ClearInstall(ctx)
}
