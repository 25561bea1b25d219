// Package redis builds the shared go-redis client used by the token store and
// the cluster channel.
package redis

import (
	"context"
	"time"

	"collabgate/tools/errs"
	"github.com/redis/go-redis/v9"
)

const defaultPingTimeout = 3 * time.Second

// Config describes how to reach Redis. URL wins over Addr when both are set.
type Config struct {
	URL         string // redis://[:password@]host:port/db
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	PingTimeout time.Duration
}

func (c Config) options() (*redis.Options, error) {
	if c.URL != "" {
		opt, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, errs.InvalidArgument.WrapMsg("parse redis url", "err", err)
		}
		if c.PoolSize > 0 {
			opt.PoolSize = c.PoolSize
		}
		return opt, nil
	}
	if c.Addr == "" {
		return nil, errs.InvalidArgument.WrapMsg("redis address is empty")
	}
	return &redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	}, nil
}

// NewClient dials Redis and pings it once. A failed ping closes the client and
// returns UpstreamUnavailable.
func NewClient(ctx context.Context, c Config) (*redis.Client, error) {
	opt, err := c.options()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)

	timeout := c.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.UpstreamUnavailable.WrapMsg("redis ping", "addr", opt.Addr, "err", err)
	}
	return rdb, nil
}
