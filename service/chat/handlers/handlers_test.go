package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"collabgate/service/auth"
	"collabgate/service/chat"
	"collabgate/service/metrics"
	"collabgate/service/ratelimit"
	"collabgate/service/room"
	"collabgate/service/scaling"
	"collabgate/service/storage"
	"collabgate/service/token"
	"collabgate/service/verifier"
	"collabgate/tools/errs"
	"collabgate/tools/security"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

type gateway struct {
	t      *testing.T
	srv    *httptest.Server
	s      *chat.Server
	tokens *token.MemoryStore
}

type setup struct {
	conf      chat.Conf
	trustUser bool
}

func newGateway(t *testing.T, opts ...func(*setup)) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := setup{conf: chat.Conf{InternalKey: "internal", ConnectTimeout: 2 * time.Second}}
	for _, o := range opts {
		o(&st)
	}

	m := metrics.Discard()
	v, err := verifier.NewJWT(verifier.JWTConfig{Secret: secret})
	require.NoError(t, err)
	tokens := token.NewMemoryStore(token.MemoryConf{})
	rooms := room.NewRegistry(m)
	s := chat.NewServer(st.conf, chat.Deps{
		Chain:    auth.NewChain(auth.Options{Tokens: tokens, Verifier: v, TrustDirectUserID: st.trustUser, Metrics: m}),
		Tokens:   tokens,
		Verifier: v,
		Rooms:    rooms,
		Bridge:   scaling.NewBridge(rooms, scaling.Local{}, "test", m),
		Limiter:  ratelimit.New(ratelimit.Config{}),
		Presence: storage.NewMemoryPresence(time.Minute, nil),
		Metrics:  m,
	})
	Register(s.Router())

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &gateway{t: t, srv: srv, s: s, tokens: tokens}
}

func jwtFor(t *testing.T, userID string, c security.Claims) string {
	t.Helper()
	tok, _, err := security.Generate(security.DefaultOptions(secret), userID, c)
	require.NoError(t, err)
	return tok
}

func (g *gateway) dial(query url.Values) *websocket.Conn {
	g.t.Helper()
	u := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(g.t, err)
	g.t.Cleanup(func() { _ = ws.Close() })
	return ws
}

// connect completes a token handshake and returns the connect data.
func (g *gateway) connect(userID string, c security.Claims) (*websocket.Conn, chat.ConnectData) {
	g.t.Helper()
	ws := g.dial(url.Values{"token": {jwtFor(g.t, userID, c)}})
	f := expect(g.t, ws, chat.EventConnect)
	var d chat.ConnectData
	require.NoError(g.t, json.Unmarshal(f.Data, &d))
	return ws, d
}

func send(t *testing.T, ws *websocket.Conn, f chat.Frame) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, f.Encode()))
}

// expect reads until a frame with event arrives.
func expect(t *testing.T, ws *websocket.Conn, event string) *chat.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := ws.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		f, err := chat.ParseFrame(raw)
		require.NoError(t, err)
		if f.Event == event {
			return f
		}
	}
}

// next returns the very next frame.
func next(t *testing.T, ws *websocket.Conn) *chat.Frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	f, err := chat.ParseFrame(raw)
	require.NoError(t, err)
	return f
}

func errorOf(t *testing.T, f *chat.Frame) chat.ErrorData {
	t.Helper()
	require.Equal(t, chat.EventError, f.Event)
	var d chat.ErrorData
	require.NoError(t, json.Unmarshal(f.Data, &d))
	return d
}

func join(t *testing.T, ws *websocket.Conn, roomID string) {
	t.Helper()
	send(t, ws, chat.Frame{Event: chat.EventJoinRoom, Room: roomID, ID: "j-" + roomID})
	ack := next(t, ws)
	require.Equal(t, chat.EventAck, ack.Event, string(ack.Data))
	require.Equal(t, roomID, ack.Room)
}

func TestWorkflowUpdateReachesOtherMembersOnly(t *testing.T) {
	g := newGateway(t)
	a, da := g.connect("alice", security.Claims{})
	b, _ := g.connect("bob", security.Claims{})
	join(t, a, room.Workflow("42"))
	join(t, b, room.Workflow("42"))

	send(t, a, chat.Frame{Event: chat.EventWorkflowUpdate, Room: "workflow:42", Data: json.RawMessage(`{"nodes":[1]}`)})
	got := expect(t, b, chat.EventWorkflowUpdate)
	require.Equal(t, "alice", got.From)
	require.JSONEq(t, `{"nodes":[1]}`, string(got.Data))

	// the sender's next frame is the ack of a later request, not its own update
	send(t, a, chat.Frame{Event: chat.EventLeaveRoom, Room: "workflow:42", ID: "l"})
	require.Equal(t, chat.EventAck, next(t, a).Event)
	require.False(t, g.s.Rooms().IsMember("workflow:42", da.ConnID))
}

func TestConnectFrameAndPersonalRoom(t *testing.T) {
	g := newGateway(t)
	_, d := g.connect("alice", security.Claims{})
	require.Equal(t, "alice", d.UserID)
	require.NotEmpty(t, d.ConnID)
	require.NotEmpty(t, d.SessionID)
	require.True(t, g.s.Rooms().IsMember(room.User("alice"), d.ConnID))
}

func TestWorkflowUpdatesAreRateLimitedPerCategory(t *testing.T) {
	g := newGateway(t)
	a, _ := g.connect("alice", security.Claims{})
	b, _ := g.connect("bob", security.Claims{})
	join(t, a, "workflow:7")
	join(t, b, "workflow:7")

	for i := 0; i < 31; i++ {
		send(t, a, chat.Frame{Event: chat.EventWorkflowUpdate, Room: "workflow:7"})
	}
	d := errorOf(t, expect(t, a, chat.EventError))
	require.Equal(t, errs.RateLimitExceededError, d.Code)
	require.Equal(t, chat.EventWorkflowUpdate, d.Event)

	send(t, a, chat.Frame{Event: chat.EventRoomMessage, Room: "workflow:7", Data: json.RawMessage(`"hi"`)})
	msg := expect(t, b, chat.EventRoomMessage)
	require.Equal(t, "alice", msg.From)
}

func TestJoinRules(t *testing.T) {
	g := newGateway(t)
	a, _ := g.connect("alice", security.Claims{OrgID: "acme"})

	join(t, a, "global")
	join(t, a, "org:acme")
	join(t, a, "user:alice")

	for _, roomID := range []string{"user:bob", "org:other"} {
		send(t, a, chat.Frame{Event: chat.EventJoinRoom, Room: roomID})
		require.Equal(t, errs.PermissionDeniedError, errorOf(t, next(t, a)).Code, roomID)
	}
	send(t, a, chat.Frame{Event: chat.EventJoinRoom, Room: "lobby"})
	require.Equal(t, errs.InvalidArgumentError, errorOf(t, next(t, a)).Code)
}

func TestRelayRequiresMembership(t *testing.T) {
	g := newGateway(t)
	a, _ := g.connect("alice", security.Claims{})

	send(t, a, chat.Frame{Event: chat.EventCursorMove, Room: "workflow:1"})
	require.Equal(t, errs.PermissionDeniedError, errorOf(t, next(t, a)).Code)

	join(t, a, "global")
	send(t, a, chat.Frame{Event: chat.EventWorkflowLock, Room: "global"})
	require.Equal(t, errs.InvalidArgumentError, errorOf(t, next(t, a)).Code)
}

func TestUnknownAndMalformedFrames(t *testing.T) {
	g := newGateway(t)
	a, _ := g.connect("alice", security.Claims{})

	send(t, a, chat.Frame{Event: "teleport", ID: "x"})
	f := next(t, a)
	require.Equal(t, "x", f.ID)
	require.Equal(t, errs.UnknownEventError, errorOf(t, f).Code)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("{")))
	require.Equal(t, errs.InvalidArgumentError, errorOf(t, next(t, a)).Code)
}

func TestNotificationNeedsPermission(t *testing.T) {
	g := newGateway(t)
	bob, _ := g.connect("bob", security.Claims{})
	plain, _ := g.connect("mallory", security.Claims{})
	sender, _ := g.connect("svc", security.Claims{Permissions: []string{PermNotificationSend}})

	send(t, plain, chat.Frame{Event: chat.EventNotification, Room: "user:bob"})
	require.Equal(t, errs.PermissionDeniedError, errorOf(t, next(t, plain)).Code)

	send(t, sender, chat.Frame{Event: chat.EventNotification, Room: "workflow:1"})
	require.Equal(t, errs.InvalidArgumentError, errorOf(t, next(t, sender)).Code)

	send(t, sender, chat.Frame{Event: chat.EventNotification, Room: "user:bob", Data: json.RawMessage(`{"title":"hi"}`)})
	require.Equal(t, chat.EventAck, next(t, sender).Event)
	n := expect(t, bob, chat.EventNotification)
	require.Equal(t, "svc", n.From)
}

func TestAlertNeedsAdminAndDefaultsToGlobal(t *testing.T) {
	g := newGateway(t)
	listener, _ := g.connect("bob", security.Claims{})
	join(t, listener, room.Global)
	member, _ := g.connect("carol", security.Claims{Role: "member"})
	admin, _ := g.connect("root", security.Claims{Role: "admin"})

	send(t, member, chat.Frame{Event: chat.EventAlert})
	require.Equal(t, errs.RoleMismatchError, errorOf(t, next(t, member)).Code)

	send(t, admin, chat.Frame{Event: chat.EventAlert, Data: json.RawMessage(`"maintenance"`)})
	require.Equal(t, chat.EventAck, next(t, admin).Event)
	a := expect(t, listener, chat.EventAlert)
	require.Equal(t, room.Global, a.Room)
}

func postJSON(t *testing.T, url string, body any, hdr http.Header) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type issued struct {
	Data struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	} `json:"data"`
}

func TestOneTimeTokenIsSingleUse(t *testing.T) {
	g := newGateway(t)
	resp := postJSON(t, g.srv.URL+"/v1/tokens", nil, http.Header{"Authorization": {"Bearer " + jwtFor(t, "alice", security.Claims{})}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out issued
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Data.Token)
	require.True(t, out.Data.ExpiresAt.After(time.Now()))

	first := g.dial(url.Values{"oneTimeToken": {out.Data.Token}})
	var d chat.ConnectData
	require.NoError(t, json.Unmarshal(expect(t, first, chat.EventConnect).Data, &d))
	require.Equal(t, "alice", d.UserID)

	second := g.dial(url.Values{"oneTimeToken": {out.Data.Token}})
	require.Equal(t, errs.AuthenticationFailedError, errorOf(t, next(t, second)).Code)
	_, _, err := second.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "%v", err)
}

func TestTokenEndpointsRejectBadCredentials(t *testing.T) {
	g := newGateway(t)

	resp := postJSON(t, g.srv.URL+"/v1/tokens", nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = postJSON(t, g.srv.URL+"/v1/tokens", nil, http.Header{"Authorization": {"Bearer garbage"}})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, g.srv.URL+"/internal/tokens", map[string]string{"userId": "bob"}, http.Header{"X-Internal-Key": {"wrong"}})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = postJSON(t, g.srv.URL+"/internal/tokens", map[string]string{}, http.Header{"X-Internal-Key": {"internal"}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, g.srv.URL+"/internal/tokens", map[string]string{"userId": "bob"}, http.Header{"X-Internal-Key": {"internal"}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out issued
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	uid, ok, err := g.tokens.Redeem(context.Background(), out.Data.Token)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bob", uid)
}

func TestInternalEndpointDisabledWithoutKey(t *testing.T) {
	g := newGateway(t, func(s *setup) { s.conf.InternalKey = "" })
	resp := postJSON(t, g.srv.URL+"/internal/tokens", map[string]string{"userId": "bob"}, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDirectUserIDNeedsTrust(t *testing.T) {
	g := newGateway(t)
	ws := g.dial(url.Values{"userId": {"bob"}})
	require.Equal(t, errs.AuthenticationRequiredError, errorOf(t, next(t, ws)).Code)
	require.Empty(t, g.s.Rooms().Rooms())

	trusted := newGateway(t, func(s *setup) { s.trustUser = true })
	ws = trusted.dial(url.Values{"userId": {"bob"}})
	var d chat.ConnectData
	require.NoError(t, json.Unmarshal(expect(t, ws, chat.EventConnect).Data, &d))
	require.Equal(t, "bob", d.UserID)
}

func TestBadTokenIsRejected(t *testing.T) {
	g := newGateway(t)
	ws := g.dial(url.Values{"token": {"not-a-jwt"}})
	require.Equal(t, errs.AuthenticationFailedError, errorOf(t, next(t, ws)).Code)
}

func TestHandshakeInFirstFrame(t *testing.T) {
	g := newGateway(t)
	ws := g.dial(nil)
	data, err := json.Marshal(auth.Payload{Token: jwtFor(t, "alice", security.Claims{})})
	require.NoError(t, err)
	send(t, ws, chat.Frame{Event: chat.EventAuth, Data: data})

	var d chat.ConnectData
	require.NoError(t, json.Unmarshal(expect(t, ws, chat.EventConnect).Data, &d))
	require.Equal(t, "alice", d.UserID)
}

func TestHandshakeTimesOut(t *testing.T) {
	g := newGateway(t, func(s *setup) { s.conf.ConnectTimeout = 200 * time.Millisecond })
	ws := g.dial(nil)
	require.Equal(t, errs.AuthenticationRequiredError, errorOf(t, next(t, ws)).Code)
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
}

func TestFirstFrameMustBeAuth(t *testing.T) {
	g := newGateway(t)
	ws := g.dial(nil)
	send(t, ws, chat.Frame{Event: chat.EventRoomMessage, Room: "global"})
	require.Equal(t, errs.AuthenticationRequiredError, errorOf(t, next(t, ws)).Code)
}

func TestHealthz(t *testing.T) {
	g := newGateway(t)
	g.connect("alice", security.Claims{})
	resp, err := http.Get(g.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Data struct {
			Adapter       string `json:"adapter"`
			Authenticated int    `json:"authenticated"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "local", out.Data.Adapter)
	require.Equal(t, 1, out.Data.Authenticated)
}

func TestPresenceFollowsConnections(t *testing.T) {
	g := newGateway(t)
	ws, _ := g.connect("alice", security.Claims{})

	count := func() int {
		req, err := http.NewRequest(http.MethodGet, g.srv.URL+"/internal/presence/alice", nil)
		require.NoError(t, err)
		req.Header.Set("X-Internal-Key", "internal")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out struct {
			Data struct {
				Connections int `json:"connections"`
			} `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out.Data.Connections
	}
	require.Equal(t, 1, count())

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return count() == 0 }, 3*time.Second, 20*time.Millisecond)
}
