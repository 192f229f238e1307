package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// defaultIdleWindows is how many whole windows a bucket may sit expired before Sweep drops it.
	defaultIdleWindows = 2
)

// MemoryStore implements the Store interface using an in-memory map.
//
// A single mutex guards every bucket. Each Consume is a handful of map and
// time operations, so one coarse lock is enough and keeps check-then-increment
// trivially atomic.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	now         func() time.Time
	idleWindows int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIdleWindows sets how many expired windows a bucket is kept before Sweep removes it.
// Default is 2.
func WithIdleWindows(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.idleWindows = n
		} else {
			log.Warn().Int("invalid_idle_windows", n).Msg("ignoring non-positive idle windows option")
		}
	}
}

// NewMemoryStore creates a new in-memory quota store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		buckets:     make(map[string]*bucket),
		now:         time.Now,
		idleWindows: defaultIdleWindows,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Consume implements the Store interface for memory storage.
func (s *MemoryStore) Consume(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{}, ErrInvalidLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, exists := s.buckets[key]
	if !exists {
		// first consumption for this key opens its first window
		b = &bucket{windowStart: now, window: window}
		s.buckets[key] = b
		log.Trace().Str("key", key).Int("limit", limit).Dur("window", window).Msg("bucket created")
	} else if !now.Before(b.windowStart.Add(window)) {
		// window expired: restart it at the current time
		b.count = 0
		b.windowStart = now
		log.Trace().Str("key", key).Msg("bucket window reset")
	}
	b.window = window

	resetAt := b.windowEnd()
	if b.count >= limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: resetAt.Sub(now),
			ResetAt:    resetAt,
		}, nil
	}

	b.count++
	return Decision{
		Allowed:   true,
		Remaining: limit - b.count,
		ResetAt:   resetAt,
	}, nil
}

// Sweep removes buckets whose window ended more than the configured number of
// idle windows before now. Only expired buckets are removed, and an expired
// bucket would be reset on its next access anyway, so sweeping never changes
// an admission decision. It returns the number of buckets removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, b := range s.buckets {
		cutoff := b.windowEnd().Add(time.Duration(s.idleWindows) * b.window)
		if now.After(cutoff) {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked buckets.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// StartJanitor runs Sweep every interval until ctx is done.
// It returns immediately; the sweeping happens on its own goroutine.
func (s *MemoryStore) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		log.Debug().Msg("quota janitor disabled")
		return
	}

	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Debug().Msg("quota janitor stopped")
				return
			case <-ticker.C:
				if removed := s.Sweep(s.now()); removed > 0 {
					log.Debug().Int("removed", removed).Int("remaining", s.Len()).Msg("idle quota buckets swept")
				}
			}
		}
	}()
}
