// Package meta carries request-scoped metadata through a context.Context and
// derives a zerolog logger annotated with it.
package meta

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// metadataKey is the private key type used for context.WithValue.
type metadataKey struct{}

// Request describes the inbound request currently being handled.
type Request struct {
	ID       string    // unique per request
	Identity string    // client identity the request is attributed to
	Started  time.Time // when handling began
}

// NewRequest creates request metadata with a fresh ID.
func NewRequest(identity string) *Request {
	return &Request{
		ID:       uuid.NewString(),
		Identity: identity,
		Started:  time.Now(),
	}
}

// WithContext returns a context carrying r and a logger tagged with its ID and identity.
// If r is nil, ctx is returned unchanged.
func (r *Request) WithContext(ctx context.Context) context.Context {
	if r == nil {
		log.Warn().Msg("attempted to attach nil request metadata, returning original context")
		return ctx
	}
	if ctx == nil {
		log.Error().Msg("attempted to attach request metadata to a nil context, using background context")
		ctx = context.Background()
	}

	logger := log.With().Str("request_id", r.ID).Str("identity", r.Identity).Logger()
	ctx = logger.WithContext(ctx)
	return context.WithValue(ctx, metadataKey{}, r)
}

// Elapsed returns the time since the request started.
func (r *Request) Elapsed() time.Duration {
	return time.Since(r.Started)
}

// FromContext extracts the request metadata from ctx.
// The boolean is false when none was attached.
func FromContext(ctx context.Context) (*Request, bool) {
	if ctx == nil {
		return nil, false
	}
	r, ok := ctx.Value(metadataKey{}).(*Request)
	return r, ok && r != nil
}

// Logger returns the logger attached to ctx, falling back to the global logger.
func Logger(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if _, ok := FromContext(ctx); ok {
			return zerolog.Ctx(ctx)
		}
	}
	return &log.Logger
}
