package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(r *gin.Engine, method, path string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestOrigins(t *testing.T) {
	o := ParseOrigins(" http://localhost:3000/ , https://app.example.com")
	require.Equal(t, Origins{"http://localhost:3000", "https://app.example.com"}, o)
	require.True(t, o.Allowed("http://localhost:3000"))
	require.True(t, o.Allowed("HTTPS://APP.example.com"))
	require.False(t, o.Allowed("https://evil.example.com"))
	require.True(t, Origins{"*"}.Allowed("anything"))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	require.True(t, o.CheckOrigin(req))
	req.Header.Set("Origin", "https://evil.example.com")
	require.False(t, o.CheckOrigin(req))
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS(Origins{"http://localhost:3000"}))
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.OPTIONS("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := serve(r, http.MethodGet, "/x", map[string]string{"Origin": "http://localhost:3000"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = serve(r, http.MethodOptions, "/x", map[string]string{"Origin": "http://localhost:3000"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(r, http.MethodGet, "/x", map[string]string{"Origin": "https://evil.example.com"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(r, http.MethodGet, "/x", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIPLimiter(t *testing.T) {
	l := NewIPLimiter(0.0001, 2)
	r := gin.New()
	r.GET("/ws", l.Limit(), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/ws", nil).Code)
	}
	require.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/ws", nil).Code)
	require.True(t, l.Allow("10.0.0.2"), "addresses are independent")
}

func TestManager(t *testing.T) {
	m := NewManager()
	var order []string
	m.Add("first", func(c *gin.Context) { order = append(order, "first") })
	m.Add("gate", func(c *gin.Context) {
		if c.GetHeader("X-Block") != "" {
			c.AbortWithStatus(http.StatusTeapot)
		}
	})
	require.Equal(t, []string{"first", "gate"}, m.Names())

	r := gin.New()
	r.Use(m.Use())
	r.GET("/", func(c *gin.Context) { order = append(order, "handler") })

	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/", nil).Code)
	require.Equal(t, []string{"first", "handler"}, order)

	require.Equal(t, http.StatusTeapot, serve(r, http.MethodGet, "/", map[string]string{"X-Block": "1"}).Code)

	m.Clear()
	require.Empty(t, m.Names())
}

func TestRouteOpt(t *testing.T) {
	r := gin.New()
	POST(r, "/v1/tokens", func(c *gin.Context) { c.Status(http.StatusCreated) }, RouteOpt{Bearer: true})
	POST(r, "/internal/tokens", func(c *gin.Context) { c.Status(http.StatusCreated) }, RouteOpt{Internal: true, InternalKey: "k"})
	GET(r, "/healthz", func(c *gin.Context) { c.Status(http.StatusOK) }, RouteOpt{})

	require.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/v1/tokens", nil).Code)
	require.Equal(t, http.StatusCreated, serve(r, http.MethodPost, "/v1/tokens", map[string]string{"Authorization": "Bearer abc"}).Code)
	require.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/internal/tokens", map[string]string{"X-Internal-Key": "nope"}).Code)
	require.Equal(t, http.StatusCreated, serve(r, http.MethodPost, "/internal/tokens", map[string]string{"X-Internal-Key": "k"}).Code)
	require.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/healthz", nil).Code)
}
