package chat

import (
	"net/http"
	"time"

	"collabgate/global"
	"collabgate/middleware/security"
	"collabgate/tools/errs"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type issueReq struct {
	UserID string `json:"userId" binding:"required"`
}

type issueResp struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueToken exchanges a verified long-lived bearer for a one-time token
// bound to the same user.
func (s *Server) IssueToken(c *gin.Context) {
	if s.deps.Verifier == nil || s.deps.Tokens == nil {
		fail(c, errs.NotFound.WrapMsg("token issuance disabled"))
		return
	}
	claims, err := s.deps.Verifier.Verify(c.Request.Context(), c.GetString(security.CtxBearerKey))
	if err != nil {
		fail(c, err)
		return
	}
	s.issue(c, claims.UserID)
}

// IssueInternalToken lets a trusted backend mint a one-time token for any
// user.
func (s *Server) IssueInternalToken(c *gin.Context) {
	if s.deps.Tokens == nil {
		fail(c, errs.NotFound.WrapMsg("token issuance disabled"))
		return
	}
	var req issueReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, errs.InvalidArgument.WrapMsg("userId is required"))
		return
	}
	s.issue(c, req.UserID)
}

func (s *Server) issue(c *gin.Context, userID string) {
	t, err := s.deps.Tokens.Issue(c.Request.Context(), userID)
	if err != nil {
		fail(c, err)
		return
	}
	s.log.Info("one-time token issued", zap.String("user_id", userID), zap.Time("expires_at", t.ExpiresAt))
	c.JSON(http.StatusCreated, global.Success(issueResp{Token: t.Value, ExpiresAt: t.ExpiresAt}))
}

func fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(httpStatus(err), global.Fail(err))
}

// httpStatus maps an error code to the status used on the HTTP surface.
func httpStatus(err error) int {
	switch errs.As(err).Code {
	case errs.AuthenticationRequiredError, errs.AuthenticationFailedError:
		return http.StatusUnauthorized
	case errs.PermissionDeniedError, errs.RoleMismatchError:
		return http.StatusForbidden
	case errs.RateLimitExceededError:
		return http.StatusTooManyRequests
	case errs.UpstreamUnavailableError:
		return http.StatusServiceUnavailable
	case errs.NotFoundError, errs.UnknownEventError:
		return http.StatusNotFound
	case errs.InvalidArgumentError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
