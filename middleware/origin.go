package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Origins is a set of allowed browser origins. "*" allows any.
type Origins []string

func ParseOrigins(csv string) Origins {
	var out Origins
	for _, o := range strings.Split(csv, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (o Origins) Allowed(origin string) bool {
	origin = strings.TrimRight(origin, "/")
	for _, a := range o {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

// CheckOrigin is shaped for websocket.Upgrader. Requests without an Origin
// header come from non-browser clients and are let through.
func (o Origins) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || o.Allowed(origin)
}

// CORS answers preflights and sets the CORS headers for allowed origins.
// Disallowed browser origins get 403.
func CORS(o Origins) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}
		if !o.Allowed(origin) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Internal-Key")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
