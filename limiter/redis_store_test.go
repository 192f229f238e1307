package limiter

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping integration test: Redis not available (%v)", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStore_Integration(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()
	prefix := fmt.Sprintf("callgate_test_%d", time.Now().UnixNano())
	store := NewRedisStore(client, prefix)

	t.Run("LimitThenReject", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			dec, err := store.Consume(ctx, "basic", 2, time.Minute)
			if err != nil {
				t.Fatalf("redis error: %v", err)
			}
			if !dec.Allowed {
				t.Fatalf("expected consume %d to be allowed", i+1)
			}
		}

		dec, err := store.Consume(ctx, "basic", 2, time.Minute)
		if err != nil {
			t.Fatalf("redis error: %v", err)
		}
		if dec.Allowed {
			t.Fatalf("expected third consume to be rejected")
		}
		if dec.RetryAfter <= 0 {
			t.Fatalf("expected positive RetryAfter on rejection, got %s", dec.RetryAfter)
		}

		count, err := client.Get(ctx, prefix+":quota:basic").Int()
		if err != nil {
			t.Fatalf("redis get failed: %v", err)
		}
		if count != 2 {
			t.Fatalf("expected rejected consume to leave count at 2, got %d", count)
		}
	})

	t.Run("WindowReset", func(t *testing.T) {
		if dec, _ := store.Consume(ctx, "reset", 1, 50*time.Millisecond); !dec.Allowed {
			t.Fatalf("expected first consume to be allowed")
		}
		if dec, _ := store.Consume(ctx, "reset", 1, 50*time.Millisecond); dec.Allowed {
			t.Fatalf("expected second consume to be rejected")
		}
		time.Sleep(80 * time.Millisecond)
		if dec, _ := store.Consume(ctx, "reset", 1, 50*time.Millisecond); !dec.Allowed {
			t.Fatalf("expected consume after the window to be allowed")
		}
	})

	t.Run("ConcurrentExactlyLimit", func(t *testing.T) {
		const workers, limit = 50, 7
		var (
			wg      sync.WaitGroup
			allowed atomic.Int64
		)
		wg.Add(workers)
		for range workers {
			go func() {
				defer wg.Done()
				dec, err := store.Consume(ctx, "hot", limit, time.Minute)
				if err != nil {
					t.Errorf("redis error: %v", err)
					return
				}
				if dec.Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		if allowed.Load() != limit {
			t.Fatalf("expected exactly %d admissions, got %d", limit, allowed.Load())
		}
	})
}

func TestRedisStore_ContextCancellation(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisStore(client, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := store.Consume(ctx, "cancelled", 1, time.Second); err == nil {
		t.Fatalf("expected an error for a cancelled context")
	}
}
