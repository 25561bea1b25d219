// Package security holds the HTTP-side credential extraction used by the
// token issuance endpoints.
package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"collabgate/global"
	"collabgate/tools/errs"
	"github.com/gin-gonic/gin"
)

const (
	CtxBearerKey = "bearer" // string, set by RequireBearer

	InternalKeyHeader = "X-Internal-Key"
)

// Bearer extracts the token from "Authorization: Bearer <token>".
func Bearer(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		return strings.TrimSpace(authz[len("bearer "):])
	}
	return ""
}

// RequireBearer aborts with 401 when no bearer token is present; otherwise it
// stores the token under CtxBearerKey.
func RequireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := Bearer(c.Request)
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				global.Fail(errs.AuthenticationRequired.WrapMsg("missing bearer token")))
			return
		}
		c.Set(CtxBearerKey, tok)
		c.Next()
	}
}

// RequireInternalKey guards backend-only routes. An empty key disables the
// route entirely.
func RequireInternalKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		got := c.GetHeader(InternalKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				global.Fail(errs.AuthenticationFailed.WrapMsg("bad internal key")))
			return
		}
		c.Next()
	}
}
