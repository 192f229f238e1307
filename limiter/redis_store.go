package limiter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// fixedWindowScript counts one consumption against a fixed window.
// KEYS[1]: the bucket key
// ARGV[1]: limit
// ARGV[2]: window in milliseconds
// Returns {allowed (1/0), count, pttl}. A rejected call leaves the key untouched.
// The first INCR of a window sets its expiry, so the window restarts lazily on
// the first consumption after the previous one expired.
const fixedWindowScript = `
local limit = tonumber(ARGV[1])
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= limit then
	return {0, current, redis.call("PTTL", KEYS[1])}
end
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, count, redis.call("PTTL", KEYS[1])}
`

var redisScript = redis.NewScript(fixedWindowScript)

const defaultRedisPrefix = "callgate"

// redisStore implements the Store interface using Redis.
type redisStore struct {
	client redis.Cmdable // Cmdable keeps ClusterClient and friends usable
	prefix string
}

// NewRedisStore creates a Redis backed quota store. Keys are written as
// "<prefix>:quota:<key>". An empty prefix falls back to "callgate".
func NewRedisStore(client redis.Cmdable, prefix string) Store {
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &redisStore{
		client: client,
		prefix: prefix,
	}
}

// Consume implements the Store interface using a Lua script for atomicity.
func (s *redisStore) Consume(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 || window <= 0 {
		return Decision{}, ErrInvalidLimit
	}

	redisKey := s.prefix + ":quota:" + key
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1
	}

	result, err := redisScript.Run(ctx, s.client, []string{redisKey}, limit, windowMillis).Result()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("redis quota script execution failed")
		return Decision{}, fmt.Errorf("redis quota script failed for key %s: %w", key, err)
	}

	values, ok := result.([]any)
	if !ok || len(values) != 3 {
		log.Error().Str("key", key).Interface("result", result).Msg("redis quota script returned unexpected shape")
		return Decision{}, fmt.Errorf("unexpected result from redis quota script for key %s: %T", key, result)
	}

	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)
	pttl, _ := values[2].(int64)

	// PTTL is -1 when the key has no expiry and -2 when it is gone; neither
	// should happen after the script runs, so fall back to a full window.
	remainingWindow := time.Duration(pttl) * time.Millisecond
	if pttl < 0 {
		remainingWindow = window
	}
	resetAt := time.Now().Add(remainingWindow)

	if allowed != 1 {
		log.Debug().Str("key", key).Int64("count", count).Msg("redis quota exhausted")
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: remainingWindow,
			ResetAt:    resetAt,
		}, nil
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
