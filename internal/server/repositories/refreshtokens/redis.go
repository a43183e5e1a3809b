package refreshtokens

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophauth/internal/common"
	"github.com/dmitrijs2005/gophauth/internal/server/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key the Redis repository writes.
const DefaultRedisPrefix = "gophauth:rt:"

// Each token lives in a hash at <prefix>tok:<token>. <prefix>user:<id> is the
// set of a user's tokens and <prefix>exp orders all tokens by expiry (unix ms).
// Every mutation is a single script, so Redis runs it atomically.

const putScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "id", ARGV[1], "user_id", ARGV[2], "issued_at", ARGV[3], "expires_at", ARGV[4])
redis.call("SADD", KEYS[2], ARGV[5])
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[5])
return 1
`

const deleteScript = `
local uid = redis.call("HGET", KEYS[1], "user_id")
if not uid then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. uid, ARGV[2])
redis.call("ZREM", KEYS[2], ARGV[2])
return 1
`

const deleteUserScript = `
local tokens = redis.call("SMEMBERS", KEYS[1])
local n = 0
for _, t in ipairs(tokens) do
  n = n + redis.call("DEL", ARGV[1] .. t)
  redis.call("ZREM", KEYS[2], t)
end
redis.call("DEL", KEYS[1])
return n
`

const sweepScript = `
local tokens = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
local n = 0
for _, t in ipairs(tokens) do
  local key = ARGV[2] .. t
  local uid = redis.call("HGET", key, "user_id")
  if uid then
    redis.call("DEL", key)
    redis.call("SREM", ARGV[3] .. uid, t)
    n = n + 1
  end
  redis.call("ZREM", KEYS[1], t)
end
return n
`

var (
	putLua        = redis.NewScript(putScript)
	deleteLua     = redis.NewScript(deleteScript)
	deleteUserLua = redis.NewScript(deleteUserScript)
	sweepLua      = redis.NewScript(sweepScript)
)

// RedisRepository keeps refresh tokens in Redis. The delete and sweep scripts
// reach token and user keys they only learn at run time, building them from
// the prefix passed in ARGV. That is fine on a standalone server or Sentinel.
// On Redis Cluster every key must live in one slot, so NewRedisRepository
// wraps a prefix without a hash tag in braces.
type RedisRepository struct {
	rdb    redis.UniversalClient
	prefix string
	options
}

// NewRedisRepository wraps rdb. An empty prefix means DefaultRedisPrefix.
func NewRedisRepository(rdb redis.UniversalClient, prefix string, opts ...Option) *RedisRepository {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if _, ok := rdb.(*redis.ClusterClient); ok && !hasHashTag(prefix) {
		prefix = "{" + prefix + "}"
	}
	return &RedisRepository{rdb: rdb, prefix: prefix, options: buildOptions(opts)}
}

func (r *RedisRepository) tokenPrefix() string      { return r.prefix + "tok:" }
func (r *RedisRepository) userPrefix() string       { return r.prefix + "user:" }
func (r *RedisRepository) tokenKey(t string) string { return r.tokenPrefix() + t }
func (r *RedisRepository) userKey(id string) string { return r.userPrefix() + id }
func (r *RedisRepository) expiryKey() string        { return r.prefix + "exp" }

func (r *RedisRepository) Put(ctx context.Context, rt *models.RefreshToken) error {
	if err := validate(rt); err != nil {
		return err
	}
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	added, err := putLua.Run(ctx, r.rdb,
		[]string{r.tokenKey(rt.Token), r.userKey(rt.UserID), r.expiryKey()},
		rt.ID, rt.UserID, rt.IssuedAt.UnixMilli(), rt.ExpiresAt.UnixMilli(), rt.Token,
	).Int64()
	if err != nil {
		return unavailable(err)
	}
	if added == 0 {
		return common.ErrDuplicateToken
	}
	return nil
}

func (r *RedisRepository) Get(ctx context.Context, token string) (*models.RefreshToken, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	fields, err := r.rdb.HGetAll(ctx, r.tokenKey(token)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, common.ErrorNotFound
	}

	issuedAt, err := strconv.ParseInt(fields["issued_at"], 10, 64)
	if err != nil {
		return nil, unavailable(err)
	}
	expiresAt, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, unavailable(err)
	}

	rt := &models.RefreshToken{
		ID:        fields["id"],
		Token:     token,
		UserID:    fields["user_id"],
		IssuedAt:  time.UnixMilli(issuedAt).UTC(),
		ExpiresAt: time.UnixMilli(expiresAt).UTC(),
	}
	if rt.Expired(r.clock.Now()) {
		return nil, common.ErrorNotFound
	}
	return rt, nil
}

func (r *RedisRepository) DeleteByToken(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := deleteLua.Run(ctx, r.rdb,
		[]string{r.tokenKey(token), r.expiryKey()},
		r.userPrefix(), token,
	).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

func (r *RedisRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := deleteUserLua.Run(ctx, r.rdb,
		[]string{r.userKey(userID), r.expiryKey()},
		r.tokenPrefix(),
	).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (r *RedisRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := sweepLua.Run(ctx, r.rdb,
		[]string{r.expiryKey()},
		now.UnixMilli(), r.tokenPrefix(), r.userPrefix(),
	).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// hasHashTag reports whether Redis Cluster would hash only part of prefix:
// a '{' followed later by '}' with at least one byte between them.
func hasHashTag(prefix string) bool {
	open := strings.IndexByte(prefix, '{')
	if open < 0 {
		return false
	}
	end := strings.IndexByte(prefix[open+1:], '}')
	return end > 0
}
