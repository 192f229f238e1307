// Package issuer produces the telephony credentials handed to the browser call client.
package issuer

import (
	"context"
	"time"
)

// Issuer signs a short-lived credential for identity. The credential is
// opaque to callers; it stays valid for ttl.
type Issuer interface {
	Generate(ctx context.Context, identity string, ttl time.Duration) (string, error)
}

// Func adapts a plain function to the Issuer interface.
type Func func(ctx context.Context, identity string, ttl time.Duration) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, identity string, ttl time.Duration) (string, error) {
	return f(ctx, identity, ttl)
}
