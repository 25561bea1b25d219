package chat

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"collabgate/global"
	"collabgate/logger"
	"collabgate/middleware"
	"collabgate/service/auth"
	"collabgate/service/metrics"
	"collabgate/service/ratelimit"
	"collabgate/service/room"
	"collabgate/service/scaling"
	"collabgate/service/storage"
	"collabgate/service/token"
	"collabgate/service/verifier"
	"collabgate/tools/ids"
	"collabgate/tools/safe"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Conf struct {
	Addr            string
	NodeID          int64
	ConnectTimeout  time.Duration // handshake window
	PingInterval    time.Duration
	PingTimeout     time.Duration // read deadline, refreshed by pongs and frames
	MaxMessageBytes int64
	SendQueue       int
	MaxConnsPerUser int
	Origins         middleware.Origins
	UpgradesPerSec  float64
	InternalKey     string
	ShutdownTimeout time.Duration
}

func ConfFrom(cfg *global.AppConfig) Conf {
	return Conf{
		Addr:            cfg.Addr,
		NodeID:          cfg.NodeID,
		ConnectTimeout:  cfg.ConnectTimeout,
		PingInterval:    cfg.PingInterval,
		PingTimeout:     cfg.PingTimeout,
		MaxMessageBytes: cfg.MaxMessageBytes,
		SendQueue:       cfg.SendQueue,
		MaxConnsPerUser: cfg.MaxConnsPerUser,
		Origins:         middleware.ParseOrigins(cfg.AllowedOrigin),
		UpgradesPerSec:  cfg.UpgradesPerSec,
		InternalKey:     cfg.InternalKey,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
}

func (c *Conf) norm() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 45 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 60 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 1_000_000
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.UpgradesPerSec <= 0 {
		c.UpgradesPerSec = 20
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if len(c.Origins) == 0 {
		c.Origins = middleware.Origins{"http://localhost:3000"}
	}
}

// Deps are the collaborators a Server is built from. Chain, Rooms and Bridge
// are required.
type Deps struct {
	Chain    *auth.Chain
	Tokens   token.Store
	Verifier verifier.Verifier // verifies bearers on the issuance endpoint; nil disables it
	Rooms    *room.Registry
	Bridge   *scaling.Bridge
	Limiter  *ratelimit.Limiter
	Presence storage.Presence // optional
	Metrics  *metrics.Metrics
}

// Server is the gateway: one listening endpoint, the handshake in front of
// every connection and the event router behind it.
type Server struct {
	conf Conf
	deps Deps

	router   *Router
	connMgr  *ConnManager
	ids      *ids.Generator
	upgrader websocket.Upgrader
	ipLimit  *middleware.IPLimiter
	mids     *middleware.MiddlewareManager
	engine   *gin.Engine
	log      *zap.Logger
}

func NewServer(conf Conf, d Deps) *Server {
	conf.norm()
	safe.MustNotNil(d.Chain, "auth chain")
	safe.MustNotNil(d.Rooms, "room registry")
	safe.MustNotNil(d.Bridge, "scaling bridge")
	if d.Metrics == nil {
		d.Metrics = metrics.Discard()
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.New(ratelimit.Config{})
	}
	s := &Server{
		conf:    conf,
		deps:    d,
		router:  NewRouter(d.Limiter, d.Metrics),
		connMgr: NewConnManager(ManagerConf{UnauthTTL: conf.ConnectTimeout, MaxPerUser: conf.MaxConnsPerUser}),
		ids:     ids.NewGenerator(conf.NodeID),
		ipLimit: middleware.NewIPLimiter(conf.UpgradesPerSec, 0),
		mids:    middleware.NewManager(),
		log:     logger.Named("gateway"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     conf.Origins.CheckOrigin,
	}
	s.engine = s.buildEngine()
	return s
}

func (s *Server) Router() *Router         { return s.router }
func (s *Server) Rooms() *room.Registry   { return s.deps.Rooms }
func (s *Server) ConnMgr() *ConnManager   { return s.connMgr }
func (s *Server) Bridge() *scaling.Bridge { return s.deps.Bridge }
func (s *Server) Handler() http.Handler   { return s.engine }

// Broadcast sends frame to roomID on every process, skipping exclude.
func (s *Server) Broadcast(ctx context.Context, roomID, event string, frame []byte, exclude string) int {
	return s.deps.Bridge.Broadcast(ctx, roomID, event, frame, exclude)
}

func (s *Server) buildEngine() *gin.Engine {
	r := gin.New()
	s.mids.Add("recovery", gin.Recovery())
	s.mids.Add("cors", middleware.CORS(s.conf.Origins))
	r.Use(s.mids.Use())

	r.GET("/ws", s.ipLimit.Limit(), s.HandleWS)
	middleware.POST(r, "/v1/tokens", s.IssueToken, middleware.RouteOpt{Bearer: true})
	middleware.POST(r, "/internal/tokens", s.IssueInternalToken, middleware.RouteOpt{Internal: true, InternalKey: s.conf.InternalKey})
	middleware.GET(r, "/internal/presence/:userId", s.GetPresence, middleware.RouteOpt{Internal: true, InternalKey: s.conf.InternalKey})
	middleware.GET(r, "/healthz", s.Health, middleware.RouteOpt{})
	r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	return r
}

func (s *Server) Health(c *gin.Context) {
	total, authed := s.connMgr.Count()
	c.JSON(http.StatusOK, global.Success(gin.H{
		"node":          s.conf.NodeID,
		"adapter":       s.deps.Bridge.Adapter().Name(),
		"connections":   total,
		"authenticated": authed,
		"rooms":         len(s.deps.Rooms.Rooms()),
	}))
}

type runner interface {
	Run(ctx context.Context) error
}

// Run subscribes the cluster bridge, starts the background sweeps and
// serves HTTP on conf.Addr until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.conf.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.deps.Bridge.Start(ctx); err != nil {
		s.log.Warn("cluster channel unavailable, continuing single-process", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	tasks := map[string]runner{
		"conn-sweep": s.connMgr,
		"rate-sweep": s.deps.Limiter,
		"ip-limiter": s.ipLimit,
	}
	if r, ok := s.deps.Tokens.(runner); ok {
		tasks["token-sweep"] = r
	}
	for name, r := range tasks {
		g.Go(func() error { return safe.Run(ctx, name, r.Run) })
	}

	srv := &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		s.log.Info("gateway listening", zap.String("addr", ln.Addr().String()), zap.Int64("node", s.conf.NodeID),
			zap.String("adapter", s.deps.Bridge.Adapter().Name()), zap.Strings("events", s.router.Events()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		s.connMgr.CloseAll(websocket.CloseGoingAway, "server shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), s.conf.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		_ = s.deps.Bridge.Close()
		s.log.Info("gateway stopped")
		return err
	})
	return g.Wait()
}
