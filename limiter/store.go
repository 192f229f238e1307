package limiter

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidLimit is returned when a store is asked to count against a non-positive limit or window.
var ErrInvalidLimit = errors.New("limiter: limit and window must be positive")

// Store defines the interface for fixed-window quota counters.
type Store interface {
	// Consume checks the fixed-window bucket for key and, if fewer than limit
	// consumptions were recorded in the current window, records one more.
	// The check and the increment must be atomic with respect to concurrent
	// Consume calls for the same key. A rejected call must not change the bucket.
	//
	// The window starts at the first consumption after the previous window
	// expired (lazy reset), not at a multiple of window.
	Consume(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Decision is the outcome of a single Consume call.
type Decision struct {
	Allowed bool
	// Remaining is the number of consumptions left in the current window after this call.
	Remaining int
	// RetryAfter is 0 when allowed; when denied it is the time until the current window ends.
	RetryAfter time.Duration
	// ResetAt is when the current window ends.
	ResetAt time.Time
}

// bucket holds the fixed-window state for one key in the memory store.
type bucket struct {
	count       int           // consumptions recorded in the current window
	windowStart time.Time     // start of the current window
	window      time.Duration // window length the bucket was last counted against
}

// windowEnd returns the instant at which the bucket's current window expires.
func (b *bucket) windowEnd() time.Time {
	return b.windowStart.Add(b.window)
}
