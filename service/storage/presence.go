// Package storage keeps the small amount of shared state the gateways need
// beyond one-time tokens: which users currently hold a live connection.
package storage

import (
	"context"
	"sync"
	"time"

	"collabgate/tools/errs"
	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "collab:presence:"

// Presence counts live connections per user across every gateway. Entries
// expire unless refreshed, so a crashed process does not keep users online.
type Presence interface {
	// Online adds or refreshes connID for userID.
	Online(ctx context.Context, userID, connID string) error
	Offline(ctx context.Context, userID, connID string) error
	Count(ctx context.Context, userID string) (int, error)
}

// ZSET per user, member = <node>:<conn>, score = expiry (unix seconds).
// KEYS[1] = user index, ARGV[1] = member, ARGV[2] = expireAt, ARGV[3] = key ttl
const luaOnline = `
redis.call("ZADD", KEYS[1], tonumber(ARGV[2]), ARGV[1])
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[3]))
return 1
`

// KEYS[1] = user index, ARGV[1] = now
const luaCount = `
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", tonumber(ARGV[1]))
return redis.call("ZCARD", KEYS[1])
`

type RedisPresence struct {
	rdb   *redis.Client
	node  string
	ttl   time.Duration
	clock func() time.Time

	online *redis.Script
	count  *redis.Script
}

// NewRedisPresence scopes members by node so two gateways never collide on
// a connection id.
func NewRedisPresence(rdb *redis.Client, node string, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisPresence{
		rdb:    rdb,
		node:   node,
		ttl:    ttl,
		clock:  time.Now,
		online: redis.NewScript(luaOnline),
		count:  redis.NewScript(luaCount),
	}
}

func (p *RedisPresence) key(userID string) string    { return presenceKeyPrefix + userID }
func (p *RedisPresence) member(connID string) string { return p.node + ":" + connID }

func (p *RedisPresence) Online(ctx context.Context, userID, connID string) error {
	exp := p.clock().Add(p.ttl).Unix()
	keyTTL := int64(2 * p.ttl / time.Second)
	if err := p.online.Run(ctx, p.rdb, []string{p.key(userID)}, p.member(connID), exp, keyTTL).Err(); err != nil {
		return errs.UpstreamUnavailable.WrapMsg("presence online", "user_id", userID, "err", err)
	}
	return nil
}

func (p *RedisPresence) Offline(ctx context.Context, userID, connID string) error {
	if err := p.rdb.ZRem(ctx, p.key(userID), p.member(connID)).Err(); err != nil {
		return errs.UpstreamUnavailable.WrapMsg("presence offline", "user_id", userID, "err", err)
	}
	return nil
}

// Count drops expired members before counting.
func (p *RedisPresence) Count(ctx context.Context, userID string) (int, error) {
	n, err := p.count.Run(ctx, p.rdb, []string{p.key(userID)}, p.clock().Unix()).Int64()
	if err != nil {
		return 0, errs.UpstreamUnavailable.WrapMsg("presence count", "user_id", userID, "err", err)
	}
	return int(n), nil
}

// MemoryPresence is the single-process variant.
type MemoryPresence struct {
	mu    sync.Mutex
	users map[string]map[string]time.Time // user -> conn -> expiry
	ttl   time.Duration
	clock func() time.Time
}

func NewMemoryPresence(ttl time.Duration, clock func() time.Time) *MemoryPresence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryPresence{users: make(map[string]map[string]time.Time), ttl: ttl, clock: clock}
}

func (p *MemoryPresence) Online(_ context.Context, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns := p.users[userID]
	if conns == nil {
		conns = make(map[string]time.Time)
		p.users[userID] = conns
	}
	conns[connID] = p.clock().Add(p.ttl)
	return nil
}

func (p *MemoryPresence) Offline(_ context.Context, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conns := p.users[userID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(p.users, userID)
		}
	}
	return nil
}

func (p *MemoryPresence) Count(_ context.Context, userID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock()
	conns := p.users[userID]
	for id, exp := range conns {
		if !now.Before(exp) {
			delete(conns, id)
		}
	}
	if len(conns) == 0 {
		delete(p.users, userID)
	}
	return len(conns), nil
}
