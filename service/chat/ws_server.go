package chat

import (
	"context"
	"time"

	"collabgate/middleware/security"
	"collabgate/service/auth"
	"collabgate/service/room"
	"collabgate/tools/decode"
	"collabgate/tools/errs"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func errHandshakeTimeout() error {
	return errs.AuthenticationRequired.WrapMsg("handshake timeout")
}

// HandleWS upgrades the request, runs the handshake and then reads frames
// until the peer goes away. It owns the connection's cleanup.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already answered with an HTTP error
		s.log.Debug("upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}
	ws.SetReadLimit(s.conf.MaxMessageBytes)

	client := NewClient(s.ids.NextString(), ws, s.conf.SendQueue)
	if err := s.connMgr.AddUnauth(client); err != nil {
		s.log.Error("register connection", zap.Error(err))
		_ = ws.Close()
		return
	}
	client.Start(s.conf.PingInterval)
	defer s.cleanup(client)

	id, err := s.handshake(c, client)
	if err != nil {
		if client.Reject() {
			_ = client.Deliver(BuildErrorFrame(nil, err))
		}
		client.Close(websocket.ClosePolicyViolation, errs.As(err).Msg)
		return
	}
	if !client.Authenticate(id) {
		// the sweeper got there first
		client.Close(websocket.ClosePolicyViolation, "handshake timeout")
		return
	}
	evicted, err := s.connMgr.BindUser(client.ConnID, id.UserID)
	if err != nil {
		s.log.Error("bind user", zap.String("conn_id", client.ConnID), zap.Error(err))
		client.Close(websocket.CloseInternalServerErr, "internal error")
		return
	}
	if evicted != nil {
		evicted.Close(websocket.ClosePolicyViolation, "too many connections")
	}

	s.deps.Rooms.Register(client.ConnID, client)
	if _, err := s.deps.Rooms.Join(room.User(id.UserID), client.ConnID); err != nil {
		s.log.Warn("join personal room", zap.String("user_id", id.UserID), zap.Error(err))
	}
	s.deps.Metrics.ConnectionsActive.Inc()
	defer s.deps.Metrics.ConnectionsActive.Dec()
	s.markOnline(client)
	defer s.markOffline(client)

	_ = client.Deliver(BuildConnectFrame(client.ConnID, id.UserID, id.SessionID))
	s.log.Info("connected", zap.String("conn_id", client.ConnID), zap.String("user_id", id.UserID),
		zap.String("strategy", id.Strategy))

	s.readLoop(c.Request.Context(), client)
}

// handshake collects the credentials from the query string, the
// Authorization header or, when both are empty, the first frame.
func (s *Server) handshake(c *gin.Context, client *Client) (*auth.Identity, error) {
	p, err := decode.Query[auth.Payload](c.Request.URL.Query())
	if err != nil {
		return nil, errs.InvalidArgument.WrapMsg("bad handshake query", "err", err)
	}
	if p.Token == "" {
		p.Token = security.Bearer(c.Request)
	}
	if p.Empty() {
		if p, err = s.readAuthFrame(client); err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.conf.ConnectTimeout)
	defer cancel()
	return s.deps.Chain.Authenticate(ctx, *p)
}

func (s *Server) readAuthFrame(client *Client) (*auth.Payload, error) {
	_ = client.ws.SetReadDeadline(time.Now().Add(s.conf.ConnectTimeout))
	_, raw, err := client.ws.ReadMessage()
	if err != nil {
		return nil, errHandshakeTimeout()
	}
	f, err := ParseFrame(raw)
	if err != nil {
		return nil, err
	}
	if f.Event != EventAuth {
		return nil, errs.AuthenticationRequired.WrapMsg("first frame must be auth", "event", f.Event)
	}
	if len(f.Data) == 0 {
		return &auth.Payload{}, nil
	}
	p, err := decode.JSON[auth.Payload](f.Data)
	if err != nil {
		return nil, errs.InvalidArgument.WrapMsg("bad auth payload", "err", err)
	}
	return p, nil
}

func (s *Server) readLoop(ctx context.Context, client *Client) {
	extend := func() { _ = client.ws.SetReadDeadline(time.Now().Add(s.conf.PingTimeout)) }
	extend()
	client.ws.SetPongHandler(func(string) error {
		extend()
		s.markOnline(client)
		return nil
	})

	hctx := &Context{Ctx: ctx, S: s}
	for {
		mt, raw, err := client.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read ended", zap.String("conn_id", client.ConnID), zap.Error(err))
			}
			return
		}
		extend()
		if mt != websocket.TextMessage {
			_ = client.Deliver(BuildErrorFrame(nil, errs.InvalidArgument.WrapMsg("only text frames are accepted")))
			continue
		}
		f, err := ParseFrame(raw)
		if err != nil {
			_ = client.Deliver(BuildErrorFrame(nil, err))
			continue
		}
		if err := s.router.Dispatch(hctx, client, f); err != nil {
			if errs.As(err).Code == errs.ServerInternalError {
				s.log.Error("handler failed", zap.String("event", f.Event), zap.String("conn_id", client.ConnID), zap.Error(err))
			}
			_ = client.Deliver(BuildErrorFrame(f, err))
		}
	}
}

func (s *Server) cleanup(client *Client) {
	rooms := s.deps.Rooms.Unregister(client.ConnID)
	s.deps.Limiter.Release(client.ConnID)
	s.connMgr.Remove(client.ConnID)
	client.Close(websocket.CloseNormalClosure, "")
	client.Wait()
	s.log.Debug("disconnected", zap.String("conn_id", client.ConnID), zap.String("user_id", client.UserID()),
		zap.Int("rooms", len(rooms)))
}
