// Package gatekeeper decides whether a caller may receive a telephony credential.
//
// Every request walks one fixed pipeline and stops at the first failure:
//
//	verify session -> consume identity quota -> consume global quota -> issue
//
// A request that fails session verification consumes no quota. A request over
// its identity quota never touches the global quota. A request rejected by the
// global quota keeps the identity unit it already spent; there is no refund.
// Nothing in the pipeline retries.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/toolink/callgate/issuer"
	"github.com/toolink/callgate/limiter"
	"github.com/toolink/callgate/meta"
	"github.com/toolink/callgate/session"
)

// Consumer is one quota tier. *limiter.Tier satisfies it; any backing store
// can be substituted behind it.
type Consumer interface {
	Consume(ctx context.Context, key string) (limiter.Decision, error)
}

// Config wires a Gatekeeper. All fields except Stats are required.
type Config struct {
	Sessions      session.Verifier
	IdentityQuota Consumer
	GlobalQuota   Consumer
	Issuer        issuer.Issuer
	// TTL is handed to the issuer and reported back unchanged with each credential.
	TTL   time.Duration
	Stats *Stats
}

// Issuance is a successfully issued credential.
type Issuance struct {
	Credential string
	Identity   string
	// TTL is how long the credential may be cached and used.
	TTL time.Duration
}

// Gatekeeper runs the issuance pipeline. It is safe for concurrent use.
type Gatekeeper struct {
	sessions      session.Verifier
	identityQuota Consumer
	globalQuota   Consumer
	issuer        issuer.Issuer
	ttl           time.Duration
	stats         *Stats

	// rejections arrive in floods during abuse; log a sample of them
	rejectSample rate.Sometimes
}

// New validates cfg and creates a Gatekeeper.
func New(cfg Config) (*Gatekeeper, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session verifier is required")
	}
	if cfg.IdentityQuota == nil || cfg.GlobalQuota == nil {
		return nil, fmt.Errorf("identity and global quota tiers are required")
	}
	if cfg.Issuer == nil {
		return nil, fmt.Errorf("credential issuer is required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("credential ttl must be positive, got %s", cfg.TTL)
	}
	if cfg.Stats == nil {
		cfg.Stats = &Stats{}
	}

	return &Gatekeeper{
		sessions:      cfg.Sessions,
		identityQuota: cfg.IdentityQuota,
		globalQuota:   cfg.GlobalQuota,
		issuer:        cfg.Issuer,
		ttl:           cfg.TTL,
		stats:         cfg.Stats,
		rejectSample:  rate.Sometimes{First: 20, Interval: time.Second},
	}, nil
}

// Stats returns the outcome counters.
func (g *Gatekeeper) Stats() *Stats { return g.stats }

// TTL returns the configured credential lifetime.
func (g *Gatekeeper) TTL() time.Duration { return g.ttl }

// AuthorizeIssuance runs the pipeline for one request and returns either the
// issued credential or an error matching one of the package's sentinel errors.
func (g *Gatekeeper) AuthorizeIssuance(ctx context.Context, identity, proof string) (Issuance, error) {
	logger := requestLogger(ctx, identity)

	if !g.sessions.Verify(identity, proof) {
		g.reject(ctx, OutcomeRejectedUnauthorized, identity, 0)
		return Issuance{}, ErrUnauthorized
	}

	dec, err := g.identityQuota.Consume(ctx, identity)
	if err != nil {
		g.stats.Record(OutcomeQuotaUnavailable)
		logger.Error().Err(err).Str("tier", limiter.TierIdentity).Msg("identity quota check failed")
		return Issuance{}, fmt.Errorf("%w: %w", ErrQuotaUnavailable, err)
	}
	if !dec.Allowed {
		g.reject(ctx, OutcomeRejectedIdentityQuota, identity, dec.RetryAfter)
		return Issuance{}, &QuotaError{Tier: limiter.TierIdentity, RetryAfter: dec.RetryAfter, kind: ErrIdentityQuotaExceeded}
	}

	// the identity unit above is kept even if the global tier rejects
	dec, err = g.globalQuota.Consume(ctx, limiter.GlobalKey)
	if err != nil {
		g.stats.Record(OutcomeQuotaUnavailable)
		logger.Error().Err(err).Str("tier", limiter.TierGlobal).Msg("global quota check failed")
		return Issuance{}, fmt.Errorf("%w: %w", ErrQuotaUnavailable, err)
	}
	if !dec.Allowed {
		g.reject(ctx, OutcomeRejectedGlobalQuota, identity, dec.RetryAfter)
		return Issuance{}, &QuotaError{Tier: limiter.TierGlobal, RetryAfter: dec.RetryAfter, kind: ErrGlobalQuotaExceeded}
	}

	credential, err := g.issuer.Generate(ctx, identity, g.ttl)
	if err != nil {
		g.stats.Record(OutcomeIssuerFailure)
		logger.Error().Err(err).Msg("credential issuer failed")
		return Issuance{}, fmt.Errorf("%w: %w", ErrIssuerFailure, err)
	}

	g.stats.Record(OutcomeIssued)
	logger.Info().Dur("ttl", g.ttl).Msg("credential issued")
	return Issuance{Credential: credential, Identity: identity, TTL: g.ttl}, nil
}

func (g *Gatekeeper) reject(ctx context.Context, outcome Outcome, identity string, retryAfter time.Duration) {
	g.stats.Record(outcome)
	g.rejectSample.Do(func() {
		logger := requestLogger(ctx, identity)
		logger.Warn().
			Str("outcome", string(outcome)).
			Dur("retry_after", retryAfter).
			Msg("credential request rejected")
	})
}

// requestLogger returns the request logger, which already carries the
// identity, or a global child logger tagged with identity when ctx has no
// request metadata.
func requestLogger(ctx context.Context, identity string) *zerolog.Logger {
	if _, ok := meta.FromContext(ctx); ok {
		return meta.Logger(ctx)
	}
	l := meta.Logger(ctx).With().Str("identity", identity).Logger()
	return &l
}

// OutcomeOf maps an AuthorizeIssuance error to its outcome. A nil error is OutcomeIssued.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeIssued
	case errors.Is(err, ErrUnauthorized):
		return OutcomeRejectedUnauthorized
	case errors.Is(err, ErrIdentityQuotaExceeded):
		return OutcomeRejectedIdentityQuota
	case errors.Is(err, ErrGlobalQuotaExceeded):
		return OutcomeRejectedGlobalQuota
	case errors.Is(err, ErrQuotaUnavailable):
		return OutcomeQuotaUnavailable
	default:
		return OutcomeIssuerFailure
	}
}
