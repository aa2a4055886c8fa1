package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyGrace keeps an expired session readable for a while so callers
// see it as expired rather than unknown.
const redisKeyGrace = time.Hour

const (
	rotateStatusNotFound  = 0
	rotateStatusMismatch  = 2
	rotateStatusRotated   = 3
	rotateStatusHashTaken = 4
)

// KEYS: sess, rt(new), psess, exp
// ARGV: id, expiresAtMs, keyExpireAtMs, field/value pairs...
const createSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 4))
redis.call("PEXPIREAT", KEYS[1], ARGV[3])
redis.call("SET", KEYS[2], ARGV[1])
redis.call("PEXPIREAT", KEYS[2], ARGV[3])
redis.call("SADD", KEYS[3], ARGV[1])
redis.call("ZADD", KEYS[4], ARGV[2], ARGV[1])
return 1
`

var createSessionLua = redis.NewScript(createSessionScript)

// KEYS: sess, rt(old), rt(new), rth(old)
// ARGV: expectedHash, newHash, retiredExpireAtMs, retiredAtNanos, field/value pairs...
const rotateRefreshScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0}
end
local current = redis.call("HGET", KEYS[1], "refresh_hash")
if current ~= ARGV[1] then
  return {2}
end
if redis.call("EXISTS", KEYS[3]) == 1 then
  return {4}
end

local id = redis.call("HGET", KEYS[1], "id")
local principal = redis.call("HGET", KEYS[1], "principal_id")
local ttl = redis.call("PTTL", KEYS[1])

redis.call("HSET", KEYS[1], "refresh_hash", ARGV[2], unpack(ARGV, 5))
redis.call("DEL", KEYS[2])
redis.call("SET", KEYS[3], id)
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[3], ttl)
end
redis.call("SET", KEYS[4], id .. "|" .. principal .. "|" .. ARGV[4])
redis.call("PEXPIREAT", KEYS[4], ARGV[3])

return {3, redis.call("HGETALL", KEYS[1])}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// KEYS: sess, exp
// ARGV: prefix, id, expectedHash (optional)
const deleteSessionScript = `
redis.call("ZREM", KEYS[2], ARGV[2])
local vals = redis.call("HMGET", KEYS[1], "refresh_hash", "principal_id")
if not vals[1] then
  return 0
end
if ARGV[3] ~= "" and vals[1] ~= ARGV[3] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("DEL", ARGV[1] .. ":rt:" .. vals[1])
if vals[2] then
  redis.call("SREM", ARGV[1] .. ":psess:" .. vals[2], ARGV[2])
end
return 1
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// RedisStore implements Store on Redis. Multi-key writes run as Lua scripts
// so Rotate is a single atomic compare-and-swap.
//
// Layout (prefix p):
//
//	p:sess:<id>       HASH  session fields
//	p:rt:<hash>       STR   current refresh hash -> session id
//	p:rth:<hash>      STR   retired hash -> "id|principal|retiredAtNanos"
//	p:psess:<pid>     SET   session ids of a principal
//	p:exp             ZSET  session id scored by expiry (unix ms)
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a RedisStore. An empty prefix defaults to "gk".
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "gk"
	}
	return &RedisStore{redis: rdb, prefix: prefix}
}

func (s *RedisStore) sessKey(id string) string   { return s.prefix + ":sess:" + id }
func (s *RedisStore) rtKey(hash string) string   { return s.prefix + ":rt:" + hash }
func (s *RedisStore) rthKey(hash string) string  { return s.prefix + ":rth:" + hash }
func (s *RedisStore) psessKey(pid string) string { return s.prefix + ":psess:" + pid }
func (s *RedisStore) expKey() string             { return s.prefix + ":exp" }

func nanos(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func keyExpireAt(expiresAt time.Time) string {
	return strconv.FormatInt(expiresAt.Add(redisKeyGrace).UnixMilli(), 10)
}

// wrapRedis keeps context errors intact so callers can tell cancellation
// from an unreachable server.
func wrapRedis(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

func (s *RedisStore) Create(ctx context.Context, rec Record) (Record, error) {
	rec, err := prepareCreate(rec)
	if err != nil {
		return Record{}, err
	}

	args := []any{
		rec.ID,
		strconv.FormatInt(rec.ExpiresAt.UnixMilli(), 10),
		keyExpireAt(rec.ExpiresAt),
		"id", rec.ID,
		"principal_id", rec.PrincipalID,
		"refresh_hash", rec.RefreshHash,
		"fingerprint", rec.Fingerprint,
		"platform", string(rec.Platform),
		"ip", rec.IP,
		"user_agent", rec.UserAgent,
		"country", rec.Country,
		"risk_score", strconv.Itoa(rec.RiskScore),
		"created_at", nanos(rec.CreatedAt),
		"last_active_at", nanos(rec.LastActiveAt),
		"expires_at", nanos(rec.ExpiresAt),
	}
	keys := []string{s.sessKey(rec.ID), s.rtKey(rec.RefreshHash), s.psessKey(rec.PrincipalID), s.expKey()}

	n, err := createSessionLua.Run(ctx, s.redis, keys, args...).Int()
	if err != nil {
		return Record{}, wrapRedis(err)
	}
	if n != 1 {
		return Record{}, ErrInvalidRecord
	}
	return rec, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Record{}, ErrSessionNotFound
	}
	fields, err := s.redis.HGetAll(ctx, s.sessKey(id)).Result()
	if err != nil {
		return Record{}, wrapRedis(err)
	}
	if len(fields) == 0 {
		return Record{}, ErrSessionNotFound
	}
	return decodeRecord(fields)
}

func (s *RedisStore) FindByRefreshHash(ctx context.Context, hash string) (Record, error) {
	id, err := s.redis.Get(ctx, s.rtKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrSessionNotFound
	}
	if err != nil {
		return Record{}, wrapRedis(err)
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.RefreshHash != hash {
		return Record{}, ErrSessionNotFound
	}
	return rec, nil
}

func (s *RedisStore) FindRetired(ctx context.Context, hash string) (Retired, error) {
	raw, err := s.redis.Get(ctx, s.rthKey(hash)).Result()
	if errors.Is(err, redis.Nil) {
		return Retired{}, ErrSessionNotFound
	}
	if err != nil {
		return Retired{}, wrapRedis(err)
	}

	parts := strings.SplitN(raw, "|", 3)
	if len(parts) != 3 {
		return Retired{}, ErrSessionNotFound
	}
	at, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Retired{}, ErrSessionNotFound
	}

	alive, err := s.redis.Exists(ctx, s.sessKey(parts[0])).Result()
	if err != nil {
		return Retired{}, wrapRedis(err)
	}
	if alive == 0 {
		return Retired{}, ErrSessionNotFound
	}

	return Retired{
		Hash:        hash,
		SessionID:   parts[0],
		PrincipalID: parts[1],
		RetiredAt:   time.Unix(0, at).UTC(),
	}, nil
}

func (s *RedisStore) Rotate(ctx context.Context, rot Rotation) (Record, error) {
	if err := checkRotation(rot); err != nil {
		return Record{}, err
	}

	// ExpiresAt never changes, so reading it outside the script is safe.
	cur, err := s.Get(ctx, rot.SessionID)
	if err != nil {
		return Record{}, err
	}
	retiredUntil := rot.historyExpiry(cur.ExpiresAt)

	keys := []string{
		s.sessKey(rot.SessionID),
		s.rtKey(rot.ExpectedHash),
		s.rtKey(rot.NewHash),
		s.rthKey(rot.ExpectedHash),
	}
	args := []any{
		rot.ExpectedHash,
		rot.NewHash,
		strconv.FormatInt(retiredUntil.UnixMilli(), 10),
		nanos(rot.Now),
		"fingerprint", rot.Fingerprint,
		"ip", rot.IP,
		"user_agent", rot.UserAgent,
		"country", rot.Country,
		"risk_score", strconv.Itoa(max(rot.RiskScore, 0)),
		"last_active_at", nanos(rot.Now),
	}

	res, err := rotateRefreshLua.Run(ctx, s.redis, keys, args...).Slice()
	if err != nil {
		return Record{}, wrapRedis(err)
	}
	if len(res) == 0 {
		return Record{}, fmt.Errorf("%w: invalid rotate script response", ErrRedisUnavailable)
	}
	status, ok := res[0].(int64)
	if !ok {
		return Record{}, fmt.Errorf("%w: invalid rotate script status", ErrRedisUnavailable)
	}

	switch status {
	case rotateStatusNotFound:
		return Record{}, ErrSessionNotFound
	case rotateStatusMismatch:
		return Record{}, ErrHashMismatch
	case rotateStatusHashTaken:
		return Record{}, ErrInvalidRecord
	case rotateStatusRotated:
		if len(res) < 2 {
			return Record{}, fmt.Errorf("%w: missing rotated session payload", ErrRedisUnavailable)
		}
		flat, ok := res[1].([]any)
		if !ok {
			return Record{}, fmt.Errorf("%w: invalid rotated session payload", ErrRedisUnavailable)
		}
		fields := make(map[string]string, len(flat)/2)
		for i := 0; i+1 < len(flat); i += 2 {
			k, _ := flat[i].(string)
			v, _ := flat[i+1].(string)
			fields[k] = v
		}
		return decodeRecord(fields)
	default:
		return Record{}, fmt.Errorf("%w: unknown rotate script status", ErrRedisUnavailable)
	}
}

func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	return s.deleteSession(ctx, id, "")
}

func (s *RedisStore) DeleteByRefreshHash(ctx context.Context, hash string) (Record, error) {
	rec, err := s.FindByRefreshHash(ctx, hash)
	if err != nil {
		return Record{}, err
	}
	deleted, err := s.deleteSession(ctx, rec.ID, hash)
	if err != nil {
		return Record{}, err
	}
	if !deleted {
		// Rotated or removed between the read and the delete.
		return Record{}, ErrSessionNotFound
	}
	return rec, nil
}

func (s *RedisStore) deleteSession(ctx context.Context, id, expectedHash string) (bool, error) {
	n, err := deleteSessionLua.Run(ctx, s.redis,
		[]string{s.sessKey(id), s.expKey()},
		s.prefix, id, expectedHash,
	).Int()
	if err != nil {
		return false, wrapRedis(err)
	}
	return n == 1, nil
}

func (s *RedisStore) ListByPrincipal(ctx context.Context, principalID string) ([]Record, error) {
	ids, err := s.redis.SMembers(ctx, s.psessKey(principalID)).Result()
	if err != nil {
		return nil, wrapRedis(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.sessKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, wrapRedis(err)
	}

	out := make([]Record, 0, len(ids))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, wrapRedis(err)
		}
		if len(fields) == 0 {
			// Key expired; the set entry is stale.
			continue
		}
		rec, err := decodeRecord(fields)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *RedisStore) DeleteByPrincipal(ctx context.Context, principalID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.psessKey(principalID)).Result()
	if err != nil {
		return nil, wrapRedis(err)
	}

	var removed []string
	for _, id := range ids {
		ok, err := s.deleteSession(ctx, id, "")
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, id)
		}
	}
	if err := s.redis.Del(ctx, s.psessKey(principalID)).Err(); err != nil {
		return removed, wrapRedis(err)
	}
	sort.Strings(removed)
	return removed, nil
}

func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.redis.ZRangeByScore(ctx, s.expKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, wrapRedis(err)
	}

	n := 0
	for _, id := range ids {
		ok, err := s.deleteSession(ctx, id, "")
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func decodeRecord(f map[string]string) (Record, error) {
	parseTime := func(k string) (time.Time, error) {
		n, err := strconv.ParseInt(f[k], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: corrupt %s", ErrRedisUnavailable, k)
		}
		return time.Unix(0, n).UTC(), nil
	}

	score, err := strconv.Atoi(f["risk_score"])
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt risk_score", ErrRedisUnavailable)
	}
	created, err := parseTime("created_at")
	if err != nil {
		return Record{}, err
	}
	active, err := parseTime("last_active_at")
	if err != nil {
		return Record{}, err
	}
	expires, err := parseTime("expires_at")
	if err != nil {
		return Record{}, err
	}

	return Record{
		ID:           f["id"],
		PrincipalID:  f["principal_id"],
		RefreshHash:  f["refresh_hash"],
		Fingerprint:  f["fingerprint"],
		Platform:     Platform(f["platform"]),
		IP:           f["ip"],
		UserAgent:    f["user_agent"],
		Country:      f["country"],
		RiskScore:    score,
		CreatedAt:    created,
		LastActiveAt: active,
		ExpiresAt:    expires,
	}, nil
}
