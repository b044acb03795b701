package csrf

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const markUsedScript = `
if redis.call("HGET", KEYS[1], "token") ~= ARGV[1] then
  return 0
end
if redis.call("HGET", KEYS[1], "used") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "used", "1")
return 1
`

var markUsedLua = redis.NewScript(markUsedScript)

// RedisStore keeps entries as Redis hashes that expire with the token.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RedisStore storing entries under prefix.
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "ac"
	}
	return &RedisStore{redis: rdb, prefix: prefix + ":csrf:"}
}

func (s *RedisStore) Save(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	k := s.prefix + key
	used := "0"
	if e.Used {
		used = "1"
	}
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, "token", e.Token, "exp", e.ExpiresAt.UnixMilli(), "used", used)
		pipe.PExpire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, key string) (Entry, bool, error) {
	fields, err := s.redis.HGetAll(ctx, s.prefix+key).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	token, ok := fields["token"]
	if !ok || token == "" {
		return Entry{}, false, nil
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return Entry{}, false, nil
	}
	return Entry{
		Token:     token,
		ExpiresAt: time.UnixMilli(exp),
		Used:      fields["used"] == "1",
	}, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (s *RedisStore) MarkUsed(ctx context.Context, key, token string) (bool, error) {
	n, err := markUsedLua.Run(ctx, s.redis, []string{s.prefix + key}, token).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n == 1, nil
}

// Sweep is a no-op: Redis expires entries on its own.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}
