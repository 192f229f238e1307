// Package limiter implements fixed-window quota tiers over a pluggable Store.
//
// A Tier pairs a limit and a window with a Store. All consumptions for a key
// inside [windowStart, windowStart+window) share one counter; the first
// consumption after the window ends restarts it at that moment.
//
// Fixed windows allow up to 2*limit consumptions in a short span straddling a
// window boundary (limit at the very end of one window, limit more at the start
// of the next). That approximation is accepted here; a sliding window or token
// bucket would be stricter.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Tier is one independently configured quota scope, such as per identity or global.
type Tier struct {
	name   string
	limit  int
	window time.Duration
	store  Store
}

// NewTier creates a quota tier. Keys are namespaced by name inside the store,
// so several tiers may share one Store.
func NewTier(name string, limit int, window time.Duration, store Store) (*Tier, error) {
	if name == "" {
		return nil, fmt.Errorf("tier name is required")
	}
	if store == nil {
		return nil, fmt.Errorf("tier %s: store is required", name)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("tier %s has invalid limit: %d, must be positive", name, limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("tier %s has invalid window: %s, must be positive", name, window)
	}
	return &Tier{name: name, limit: limit, window: window, store: store}, nil
}

// Name returns the tier name.
func (t *Tier) Name() string { return t.name }

// Limit returns the number of consumptions permitted per window.
func (t *Tier) Limit() int { return t.limit }

// Window returns the window length.
func (t *Tier) Window() time.Duration { return t.window }

// Consume records one consumption for key if the tier still has quota in the current window.
func (t *Tier) Consume(ctx context.Context, key string) (Decision, error) {
	dec, err := t.store.Consume(ctx, storeKey(t.name, key), t.limit, t.window)
	if err != nil {
		return Decision{}, fmt.Errorf("tier %s: %w", t.name, err)
	}
	if !dec.Allowed {
		log.Debug().Str("tier", t.name).Str("key", key).Dur("retry_after", dec.RetryAfter).Msg("quota exceeded")
	}
	return dec, nil
}

// storeKey creates the store key for a tier and caller key.
// Format: <tier>|<key>
func storeKey(tier, key string) string {
	return tier + "|" + key
}
