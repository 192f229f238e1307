package gatekeeper

import (
	"errors"
	"fmt"
	"time"
)

// Rejection kinds. Every error returned by AuthorizeIssuance matches exactly one of them with errors.Is.
var (
	// ErrUnauthorized means the session proof was missing, malformed or bound to another identity.
	ErrUnauthorized = errors.New("gatekeeper: session not authorized")
	// ErrIdentityQuotaExceeded means the caller used up its own allowance.
	ErrIdentityQuotaExceeded = errors.New("gatekeeper: identity quota exceeded")
	// ErrGlobalQuotaExceeded means the service as a whole is at capacity.
	ErrGlobalQuotaExceeded = errors.New("gatekeeper: global quota exceeded")
	// ErrIssuerFailure wraps an error from the credential issuer.
	ErrIssuerFailure = errors.New("gatekeeper: credential issuer failed")
	// ErrQuotaUnavailable wraps an error from a quota store. Issuance fails closed.
	ErrQuotaUnavailable = errors.New("gatekeeper: quota store unavailable")
)

// QuotaError is returned when a quota tier rejects a request.
// It unwraps to ErrIdentityQuotaExceeded or ErrGlobalQuotaExceeded.
type QuotaError struct {
	Tier       string
	RetryAfter time.Duration
	kind       error
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s (retry after %s)", e.kind, e.RetryAfter)
}

func (e *QuotaError) Unwrap() error { return e.kind }

// RetryAfter extracts the retry hint from a quota rejection.
func RetryAfter(err error) (time.Duration, bool) {
	var qe *QuotaError
	if errors.As(err, &qe) {
		return qe.RetryAfter, true
	}
	return 0, false
}
