package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const insertSessionScript = `
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
local max = tonumber(ARGV[4])
local evicted = {}
if max > 0 then
  local surplus = redis.call("ZCARD", KEYS[2]) - max
  if surplus > 0 then
    local members = redis.call("ZRANGE", KEYS[2], 0, -1)
    for _, sid in ipairs(members) do
      if surplus <= 0 then
        break
      end
      if sid ~= ARGV[1] then
        redis.call("ZREM", KEYS[2], sid)
        redis.call("HDEL", KEYS[1], sid)
        table.insert(evicted, sid)
        surplus = surplus - 1
      end
    end
  end
end
local ttl = tonumber(ARGV[5])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return evicted
`

var insertSessionLua = redis.NewScript(insertSessionScript)

const touchSessionScript = `
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 0 then
  return 0
end
local current = redis.call("ZSCORE", KEYS[2], ARGV[1])
if not current or tonumber(current) < tonumber(ARGV[2]) then
  redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

var touchSessionLua = redis.NewScript(touchSessionScript)

const deleteSessionScript = `
local removed = redis.call("HDEL", KEYS[1], ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return removed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

const deleteOtherSessionsScript = `
local ids = redis.call("HKEYS", KEYS[1])
local removed = 0
for _, sid in ipairs(ids) do
  if sid ~= ARGV[1] then
    redis.call("HDEL", KEYS[1], sid)
    redis.call("ZREM", KEYS[2], sid)
    removed = removed + 1
  end
end
return removed
`

var deleteOtherSessionsLua = redis.NewScript(deleteOtherSessionsScript)

const deleteAllSessionsScript = `
local removed = redis.call("HLEN", KEYS[1])
redis.call("DEL", KEYS[1], KEYS[2])
return removed
`

var deleteAllSessionsLua = redis.NewScript(deleteAllSessionsScript)

const sweepUserScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", "(" .. ARGV[1])
for _, sid in ipairs(ids) do
  redis.call("HDEL", KEYS[1], sid)
  redis.call("ZREM", KEYS[2], sid)
end
return #ids
`

var sweepUserLua = redis.NewScript(sweepUserScript)

// RedisStore is a Redis-backed [Store].
//
// Each user owns two keys sharing a hash tag so they live in the same cluster slot:
// a hash of session id to encoded record and a sorted set of session id scored by last
// activity. Multi-key mutations run as Lua scripts.
//
//	<prefix>:{<userID>}:sessions  hash   sid -> Encode(record)
//	<prefix>:{<userID>}:activity  zset   sid -> last activity (ms)
type RedisStore struct {
	redis       redis.UniversalClient
	prefix      string
	maxInactive time.Duration
	scanCount   int64
}

// NewRedisStore creates a RedisStore. maxInactive, when positive, is applied as the key
// expiry after every write so idle users disappear without a sweep.
func NewRedisStore(rdb redis.UniversalClient, prefix string, maxInactive time.Duration) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "ac"
	}
	return &RedisStore{
		redis:       rdb,
		prefix:      prefix + ":sess",
		maxInactive: maxInactive,
		scanCount:   256,
	}
}

func (s *RedisStore) hashKey(userID string) string {
	return s.prefix + ":{" + userID + "}:sessions"
}

func (s *RedisStore) activityKey(userID string) string {
	return s.prefix + ":{" + userID + "}:activity"
}

func (s *RedisStore) keys(userID string) []string {
	return []string{s.hashKey(userID), s.activityKey(userID)}
}

func (s *RedisStore) Insert(ctx context.Context, rec *Record, maxPerUser int) ([]string, error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	stored := rec.clone()
	stored.Active = true
	blob, err := Encode(stored)
	if err != nil {
		return nil, err
	}

	evicted, err := insertSessionLua.Run(ctx, s.redis, s.keys(rec.UserID),
		rec.SessionID,
		blob,
		rec.LastActivity,
		maxPerUser,
		s.maxInactive.Milliseconds(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if len(evicted) == 0 {
		return nil, nil
	}
	return evicted, nil
}

func (s *RedisStore) Get(ctx context.Context, userID, sessionID string) (*Record, error) {
	pipe := s.redis.Pipeline()
	blobCmd := pipe.HGet(ctx, s.hashKey(userID), sessionID)
	scoreCmd := pipe.ZScore(ctx, s.activityKey(userID), sessionID)
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	blob, err := blobCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	rec, err := decodeOwned(blob, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if score, err := scoreCmd.Result(); err == nil {
		rec.LastActivity = int64(score)
	}
	return rec, nil
}

func (s *RedisStore) Touch(ctx context.Context, userID, sessionID string, at int64) (bool, error) {
	n, err := touchSessionLua.Run(ctx, s.redis, s.keys(userID),
		sessionID,
		at,
		s.maxInactive.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Delete(ctx context.Context, userID, sessionID string) (bool, error) {
	n, err := deleteSessionLua.Run(ctx, s.redis, s.keys(userID), sessionID).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n == 1, nil
}

func (s *RedisStore) DeleteOthers(ctx context.Context, userID, keepSessionID string) (int, error) {
	n, err := deleteOtherSessionsLua.Run(ctx, s.redis, s.keys(userID), keepSessionID).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}

func (s *RedisStore) DeleteAll(ctx context.Context, userID string) (int, error) {
	n, err := deleteAllSessionsLua.Run(ctx, s.redis, s.keys(userID)).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}

func (s *RedisStore) List(ctx context.Context, userID string) ([]Record, error) {
	pipe := s.redis.Pipeline()
	blobsCmd := pipe.HGetAll(ctx, s.hashKey(userID))
	scoresCmd := pipe.ZRangeWithScores(ctx, s.activityKey(userID), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	scores := make(map[string]int64)
	for _, z := range scoresCmd.Val() {
		if sid, ok := z.Member.(string); ok {
			scores[sid] = int64(z.Score)
		}
	}

	blobs := blobsCmd.Val()
	out := make([]Record, 0, len(blobs))
	corrupt := 0
	for sid, blob := range blobs {
		rec, err := decodeOwned([]byte(blob), userID, sid)
		if err != nil {
			corrupt++
			continue
		}
		if score, ok := scores[sid]; ok {
			rec.LastActivity = score
		}
		out = append(out, *rec)
	}

	sortByRecency(out)
	if corrupt > 0 {
		return out, fmt.Errorf("%w: %d undecodable records", ErrCorrupt, corrupt)
	}
	return out, nil
}

// Sweep walks every user's activity set with SCAN and removes sessions idle since before
// cutoff.
func (s *RedisStore) Sweep(ctx context.Context, cutoff int64) (int, error) {
	pattern := s.prefix + ":*:activity"
	removed := 0
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, s.scanCount).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		for _, key := range keys {
			userID, ok := s.userFromActivityKey(key)
			if !ok {
				continue
			}
			n, err := sweepUserLua.Run(ctx, s.redis, s.keys(userID), strconv.FormatInt(cutoff, 10)).Int()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
			removed += n
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (s *RedisStore) userFromActivityKey(key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, s.prefix+":{")
	if !ok {
		return "", false
	}
	userID, ok := strings.CutSuffix(rest, "}:activity")
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}

func decodeOwned(blob []byte, userID, sessionID string) (*Record, error) {
	rec, err := Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if rec.UserID != userID || rec.SessionID != sessionID {
		return nil, fmt.Errorf("%w: record filed under wrong key", ErrCorrupt)
	}
	return rec, nil
}
