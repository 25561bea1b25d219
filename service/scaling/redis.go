package scaling

import (
	"context"
	"encoding/json"
	"sync"

	"collabgate/logger"
	"collabgate/tools/errs"
	"collabgate/tools/safe"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisAdapter relays records with PUBLISH/SUBSCRIBE on one channel.
type RedisAdapter struct {
	rdb     *redis.Client
	channel string
	owned   bool

	mu  sync.Mutex
	ps  *redis.PubSub
	log *zap.Logger
}

// NewRedis uses rdb for both directions. When owned is true Close also closes
// rdb.
func NewRedis(rdb *redis.Client, channel string, owned bool) *RedisAdapter {
	return &RedisAdapter{rdb: rdb, channel: channel, owned: owned, log: logger.Named("scaling")}
}

func (a *RedisAdapter) Name() string { return "redis" }

func (a *RedisAdapter) Publish(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.WrapMsg(err, "marshal record")
	}
	if err := a.rdb.Publish(ctx, a.channel, data).Err(); err != nil {
		return errs.UpstreamUnavailable.WrapMsg("redis publish", "channel", a.channel, "err", err)
	}
	return nil
}

func (a *RedisAdapter) Subscribe(ctx context.Context, fn func(Record)) error {
	ps := a.rdb.Subscribe(ctx, a.channel)
	// wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return errs.UpstreamUnavailable.WrapMsg("redis subscribe", "channel", a.channel, "err", err)
	}
	a.mu.Lock()
	a.ps = ps
	a.mu.Unlock()

	ch := ps.Channel()
	safe.Go("redis-bridge-recv", func() {
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var rec Record
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					a.log.Warn("drop malformed record", zap.Error(err))
					continue
				}
				fn(rec)
			}
		}
	})
	return nil
}

func (a *RedisAdapter) Close() error {
	a.mu.Lock()
	ps := a.ps
	a.ps = nil
	a.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
	if a.owned {
		return a.rdb.Close()
	}
	return nil
}
