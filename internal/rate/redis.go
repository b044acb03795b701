package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Fixed-window semantics: set the expiry only on the first hit in the window. A key that
// lost its expiry is repaired rather than left to count forever.
const takeScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

var takeLua = redis.NewScript(takeScript)

// RedisBackend shares windows across processes through Redis counters.
type RedisBackend struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisBackend creates a RedisBackend storing counters under prefix.
func NewRedisBackend(rdb redis.UniversalClient, prefix string) *RedisBackend {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "ac"
	}
	return &RedisBackend{redis: rdb, prefix: prefix + ":rl:"}
}

func (b *RedisBackend) Take(ctx context.Context, key string, limit int, win time.Duration, now time.Time) (bool, int, time.Time, error) {
	res, err := takeLua.Run(ctx, b.redis, []string{b.prefix + key}, win.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(res) != 2 {
		return false, 0, time.Time{}, fmt.Errorf("%w: unexpected script reply", ErrBackendUnavailable)
	}

	count := int(res[0])
	resetAt := now.Add(time.Duration(res[1]) * time.Millisecond)
	return count <= limit, count, resetAt, nil
}
