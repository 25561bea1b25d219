package scaling

import (
	"context"

	"collabgate/logger"
	"collabgate/service/natsx"
	redisx "collabgate/service/storage/redis"
	"go.uber.org/zap"
)

type Options struct {
	RedisURL string
	NatsURL  string
	Channel  string
	Name     string // client name shown by the broker
}

// Connect picks the cluster channel from opts. Redis wins when both URLs are
// set. An unreachable channel is logged and yields Local, so the gateway
// keeps working as a single process.
func Connect(ctx context.Context, opts Options) Adapter {
	log := logger.Named("scaling")
	switch {
	case opts.RedisURL != "":
		rdb, err := redisx.NewClient(ctx, redisx.Config{URL: opts.RedisURL})
		if err != nil {
			log.Warn("redis channel unreachable, running single-process", zap.Error(err))
			return Local{}
		}
		return NewRedis(rdb, opts.Channel, true)
	case opts.NatsURL != "":
		c, err := natsx.NewClient(natsx.Config{URL: opts.NatsURL, Name: opts.Name},
			natsx.Recover(), natsx.LogErrors(log))
		if err != nil {
			log.Warn("nats channel unreachable, running single-process", zap.Error(err))
			return Local{}
		}
		return NewNATS(c, opts.Channel)
	}
	log.Info("no cluster channel configured, running single-process")
	return Local{}
}
