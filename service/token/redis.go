package token

import (
	"context"
	"errors"
	"time"

	"collabgate/logger"
	"collabgate/tools/errs"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "collab:ott:"

// Atomically read and delete a token.
// KEYS[1] = token key
// returns the user id, or false when the key does not exist
var luaRedeem = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v then
  redis.call("DEL", KEYS[1])
end
return v
`)

// RedisStore shares tokens between gateway processes, so a token issued by
// one instance can be redeemed on another. Expiry is enforced by Redis TTLs.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl, log: logger.Named("token")}
}

func redisKey(v string) string { return redisKeyPrefix + v }

func (s *RedisStore) Issue(ctx context.Context, userID string) (Token, error) {
	if err := checkUser(userID); err != nil {
		return Token{}, err
	}
	v, err := newValue()
	if err != nil {
		return Token{}, err
	}
	// NX: a collision on 256 random bits means something is badly wrong
	ok, err := s.rdb.SetNX(ctx, redisKey(v), userID, s.ttl).Result()
	if err != nil {
		return Token{}, errs.UpstreamUnavailable.WrapMsg("redis set token", "err", err)
	}
	if !ok {
		return Token{}, errs.ServerInternal.WrapMsg("token collision")
	}
	t := Token{Value: v, UserID: userID, ExpiresAt: time.Now().Add(s.ttl)}
	s.log.Info("issued one-time token", zap.String("user_id", userID), zap.Time("expires_at", t.ExpiresAt), zap.String("store", "redis"))
	return t, nil
}

func (s *RedisStore) Redeem(ctx context.Context, value string) (string, bool, error) {
	if value == "" {
		return "", false, nil
	}
	userID, err := luaRedeem.Run(ctx, s.rdb, []string{redisKey(value)}).Text()
	if errors.Is(err, redis.Nil) {
		s.log.Warn("unknown or expired one-time token", zap.String("token", logger.TokenPrefix(value)))
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.UpstreamUnavailable.WrapMsg("redis redeem token", "err", err)
	}
	s.log.Info("one-time token redeemed", zap.String("user_id", userID), zap.String("store", "redis"))
	return userID, true, nil
}

// Sweep is a no-op: Redis expires keys on its own.
func (s *RedisStore) Sweep(context.Context) (int, error) { return 0, nil }
