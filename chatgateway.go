package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"collabgate/global"
	"collabgate/logger"
	"collabgate/service/auth"
	"collabgate/service/chat"
	"collabgate/service/chat/handlers"
	"collabgate/service/metrics"
	"collabgate/service/ratelimit"
	"collabgate/service/room"
	"collabgate/service/scaling"
	"collabgate/service/storage"
	redisx "collabgate/service/storage/redis"
	"collabgate/service/token"
	"collabgate/service/verifier"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	cfg, err := global.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger.Init(cfg.LogLevel, cfg.LogColor)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("gateway exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *global.AppConfig) error {
	m := metrics.NewDefault()

	// 1) Credentials
	tokens := newTokenStore(ctx, cfg)
	v, err := verifier.New(ctx, cfg)
	if err != nil {
		return err
	}
	chain := auth.NewChain(auth.Options{
		Tokens:            tokens,
		Verifier:          v,
		TrustDirectUserID: cfg.TrustDirectID,
		Metrics:           m,
	})

	// 2) Rooms, optionally shared with the other gateways
	rooms := room.NewRegistry(m)
	adapter := scaling.Connect(ctx, scaling.Options{
		RedisURL: cfg.RedisURL,
		NatsURL:  cfg.NatsURL,
		Channel:  cfg.Channel,
		Name:     fmt.Sprintf("collabgate-%d", cfg.NodeID),
	})
	origin := fmt.Sprintf("node-%d-%s", cfg.NodeID, uuid.NewString()[:8])
	bridge := scaling.NewBridge(rooms, adapter, origin, m)

	// 3) Limits
	limiter := ratelimit.New(ratelimit.Config{Limits: ratelimit.Limits{
		ratelimit.Message:        cfg.MessagesPerMinute,
		ratelimit.JoinRoom:       cfg.JoinsPerMinute,
		ratelimit.WorkflowUpdate: cfg.WorkflowUpdatesPerMinute,
	}})

	// 4) Gateway
	s := chat.NewServer(chat.ConfFrom(cfg), chat.Deps{
		Chain:    chain,
		Tokens:   tokens,
		Verifier: v,
		Rooms:    rooms,
		Bridge:   bridge,
		Limiter:  limiter,
		Presence: newPresence(ctx, cfg, origin),
		Metrics:  m,
	})
	handlers.Register(s.Router())

	logger.Info("starting gateway",
		zap.String("origin", origin),
		zap.String("adapter", adapter.Name()),
		zap.Strings("strategies", chain.Strategies()),
		zap.Bool("verifier", v != nil))
	return s.Run(ctx)
}

// newTokenStore honours GATEWAY_TOKEN_STORE=redis when Redis answers and
// falls back to the in-process store otherwise.
func newTokenStore(ctx context.Context, cfg *global.AppConfig) token.Store {
	if cfg.TokenStore == global.TokenStoreRedis {
		rdb, err := redisx.NewClient(ctx, redisx.Config{URL: cfg.RedisURL})
		if err == nil {
			return token.NewRedisStore(rdb, cfg.TokenTTL)
		}
		logger.Warn("redis token store unavailable, using memory store", zap.Error(err))
	}
	return token.NewMemoryStore(token.MemoryConf{TTL: cfg.TokenTTL, SweepInterval: cfg.TokenSweep})
}

// newPresence shares presence through Redis whenever a Redis URL is
// configured. Entries outlive two missed pongs.
func newPresence(ctx context.Context, cfg *global.AppConfig, node string) storage.Presence {
	ttl := 2 * cfg.PingTimeout
	if cfg.RedisURL != "" {
		rdb, err := redisx.NewClient(ctx, redisx.Config{URL: cfg.RedisURL})
		if err == nil {
			return storage.NewRedisPresence(rdb, node, ttl)
		}
		logger.Warn("redis presence unavailable, tracking presence in process", zap.Error(err))
	}
	return storage.NewMemoryPresence(ttl, nil)
}
