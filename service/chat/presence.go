package chat

import (
	"context"
	"net/http"
	"time"

	"collabgate/global"
	"collabgate/tools/errs"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const presenceTimeout = 2 * time.Second

// markOnline is called after the handshake and on every pong, which keeps
// the entry alive for as long as the peer answers pings.
func (s *Server) markOnline(c *Client) {
	if s.deps.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := s.deps.Presence.Online(ctx, c.UserID(), c.ConnID); err != nil {
		s.log.Warn("presence refresh failed", zap.String("conn_id", c.ConnID), zap.Error(err))
	}
}

func (s *Server) markOffline(c *Client) {
	if s.deps.Presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := s.deps.Presence.Offline(ctx, c.UserID(), c.ConnID); err != nil {
		s.log.Warn("presence offline failed", zap.String("conn_id", c.ConnID), zap.Error(err))
	}
}

type presenceResp struct {
	UserID      string `json:"userId"`
	Online      bool   `json:"online"`
	Connections int    `json:"connections"`
}

// GetPresence reports how many live connections a user holds across the
// cluster.
func (s *Server) GetPresence(c *gin.Context) {
	if s.deps.Presence == nil {
		fail(c, errs.NotFound.WrapMsg("presence disabled"))
		return
	}
	uid := c.Param("userId")
	n, err := s.deps.Presence.Count(c.Request.Context(), uid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, global.Success(presenceResp{UserID: uid, Online: n > 0, Connections: n}))
}
