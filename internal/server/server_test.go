package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/lobbychat/internal/auth"
	"github.com/Tyrowin/lobbychat/internal/config"
	"github.com/Tyrowin/lobbychat/internal/domain"
	"github.com/Tyrowin/lobbychat/internal/history"
	"github.com/Tyrowin/lobbychat/internal/hub"
	"github.com/Tyrowin/lobbychat/internal/logging"
	"github.com/Tyrowin/lobbychat/internal/server"
	"github.com/Tyrowin/lobbychat/internal/store/memory"
	"github.com/Tyrowin/lobbychat/internal/testutil"
)

const (
	testSecret  = "test-secret"
	readTimeout = 2 * time.Second
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type stack struct {
	URL    string
	WSURL  string
	Hub    *hub.Hub
	Tokens *auth.TokenIssuer
}

func newStack(t *testing.T, mutate func(*config.Config)) *stack {
	t.Helper()

	cfg := config.Default()
	cfg.Auth.Secret = testSecret
	cfg.Auth.BcryptCost = 4
	if mutate != nil {
		mutate(&cfg)
	}

	store := memory.New()
	tokens := auth.NewTokenIssuer(cfg.Auth.Secret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	hist := history.NewService(store, nil, 0)

	h := hub.NewHub(hub.NewConfig(&cfg), hist)
	go h.Run()
	t.Cleanup(func() { _ = h.Shutdown(2 * time.Second) })

	handler := server.NewHandler(server.Deps{
		Auth:             auth.NewService(store, tokens, cfg.Auth.BcryptCost),
		Tokens:           tokens,
		History:          hist,
		Hub:              h,
		Origins:          server.NewOriginPolicy(cfg.WebSocket.AllowedOrigins),
		RequireWSToken:   cfg.WebSocket.RequireToken,
		UnifyLoginErrors: cfg.Auth.UnifyLoginErrors,
	})

	ts := httptest.NewServer(server.SetupRoutes(handler, zerolog.Nop()))
	t.Cleanup(ts.Close)

	return &stack{URL: ts.URL, WSURL: testutil.WebSocketURL(ts.URL), Hub: h, Tokens: tokens}
}

func (s *stack) registerAndLogin(t *testing.T, username, password string) string {
	t.Helper()

	creds := map[string]string{"username": username, "password": password}
	resp, _ := testutil.DoJSON(t, http.MethodPost, s.URL+"/auth/register", "", creds)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := testutil.DoJSON(t, http.MethodPost, s.URL+"/auth/login", "", creds)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tok domain.Token
	require.NoError(t, json.Unmarshal(body, &tok))
	require.NotEmpty(t, tok.Value)
	return tok.Value
}

func (s *stack) history(t *testing.T, token string) []domain.Message {
	t.Helper()
	resp, body := testutil.DoJSON(t, http.MethodGet, s.URL+"/messages", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var msgs []domain.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	return msgs
}

func TestHealth(t *testing.T) {
	s := newStack(t, nil)

	for _, path := range []string{"/", "/health"} {
		resp, body := testutil.DoJSON(t, http.MethodGet, s.URL+path, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "LobbyChat server is running!", string(body))
		assert.NotEmpty(t, resp.Header.Get(logging.HeaderRequestID))
	}
}

func TestAliceScenario(t *testing.T) {
	s := newStack(t, nil)
	token := s.registerAndLogin(t, "alice", "pw1")

	conn := testutil.MustDial(t, s.WSURL)
	testutil.Join(t, conn, "alice")
	assert.Equal(t, "alice joined", testutil.ReadEvent(t, conn, readTimeout).Text)

	testutil.Say(t, conn, "alice", "hello")
	ev := testutil.ReadEvent(t, conn, readTimeout)
	assert.Equal(t, domain.EventMessage, ev.Type)
	assert.Equal(t, "alice", ev.Sender)
	assert.Equal(t, "hello", ev.Content)
	require.NotEmpty(t, ev.ID)

	msgs := s.history(t, token)
	require.Len(t, msgs, 1)
	assert.Equal(t, ev.ID, msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Content)

	resp, _ := testutil.DoJSON(t, http.MethodDelete, s.URL+"/messages/"+ev.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Empty(t, s.history(t, token))
}

func TestDelete_ForeignOrMissingIsSilent(t *testing.T) {
	s := newStack(t, nil)
	alice := s.registerAndLogin(t, "alice", "pw1")
	bob := s.registerAndLogin(t, "bob", "pw2")

	conn := testutil.MustDial(t, s.WSURL)
	testutil.Say(t, conn, "alice", "mine")
	ev := testutil.ReadEvent(t, conn, readTimeout)
	require.Equal(t, domain.EventMessage, ev.Type)

	resp, _ := testutil.DoJSON(t, http.MethodDelete, s.URL+"/messages/"+ev.ID, bob, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = testutil.DoJSON(t, http.MethodDelete, s.URL+"/messages/does-not-exist", alice, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Len(t, s.history(t, alice), 1)
}

func TestRegister_Errors(t *testing.T) {
	s := newStack(t, nil)
	s.registerAndLogin(t, "alice", "pw1")

	resp, body := testutil.DoJSON(t, http.MethodPost, s.URL+"/auth/register", "",
		map[string]string{"username": "alice", "password": "other"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var errBody server.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errBody))
	assert.Equal(t, server.CodeConflict, errBody.Error.Code)

	resp, _ = testutil.DoJSON(t, http.MethodPost, s.URL+"/auth/register", "", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin_Errors(t *testing.T) {
	t.Run("distinct", func(t *testing.T) {
		s := newStack(t, nil)
		s.registerAndLogin(t, "alice", "pw1")

		resp, _ := testutil.DoJSON(t, http.MethodPost, s.URL+"/auth/login", "",
			map[string]string{"username": "ghost", "password": "pw1"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp, _ = testutil.DoJSON(t, http.MethodPost, s.URL+"/auth/login", "",
			map[string]string{"username": "alice", "password": "nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unified", func(t *testing.T) {
		s := newStack(t, func(c *config.Config) { c.Auth.UnifyLoginErrors = true })
		s.registerAndLogin(t, "alice", "pw1")

		resp, unknown := testutil.DoJSON(t, http.MethodPost, s.URL+"/auth/login", "",
			map[string]string{"username": "ghost", "password": "pw1"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp, wrong := testutil.DoJSON(t, http.MethodPost, s.URL+"/auth/login", "",
			map[string]string{"username": "alice", "password": "nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.JSONEq(t, string(unknown), string(wrong))
	})
}

func TestMessages_AuthStatuses(t *testing.T) {
	s := newStack(t, nil)

	expired := auth.NewTokenIssuer(testSecret, time.Hour, "lobbychat").
		WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	old, err := expired.Issue("alice")
	require.NoError(t, err)

	forged, err := auth.NewTokenIssuer("not-the-secret", time.Hour, "lobbychat").Issue("alice")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic YWxpY2U6cHcx", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusForbidden},
		{"forged token", "Bearer " + forged.Value, http.StatusForbidden},
		{"expired token", "Bearer " + old.Value, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, s.URL+"/messages", http.NoBody)
			require.NoError(t, err)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestBobLeft(t *testing.T) {
	s := newStack(t, nil)

	bob := testutil.MustDial(t, s.WSURL)
	carol := testutil.MustDial(t, s.WSURL)

	testutil.Join(t, bob, "bob")
	assert.Equal(t, "bob joined", testutil.ReadEvent(t, carol, readTimeout).Text)
	testutil.Join(t, carol, "carol")
	assert.Equal(t, "carol joined", testutil.ReadEvent(t, carol, readTimeout).Text)

	require.NoError(t, testutil.CloseWebSocket(bob))

	ev := testutil.ReadEvent(t, carol, readTimeout)
	assert.Equal(t, domain.EventNotification, ev.Type)
	assert.Equal(t, "bob left", ev.Text)
	testutil.ExpectSilence(t, carol, 200*time.Millisecond)
}

func TestBroadcast_ReachesEveryConnection(t *testing.T) {
	s := newStack(t, nil)

	conns := make([]*websocket.Conn, 4)
	for i := range conns {
		conns[i] = testutil.MustDial(t, s.WSURL)
	}
	require.Eventually(t, func() bool { return s.Hub.ClientCount() == len(conns) }, readTimeout, 10*time.Millisecond)

	testutil.Say(t, conns[1], "dora", "ping")

	var id string
	for _, c := range conns {
		ev := testutil.ReadEvent(t, c, readTimeout)
		assert.Equal(t, "ping", ev.Content)
		if id == "" {
			id = ev.ID
		}
		assert.Equal(t, id, ev.ID)
	}
}

func TestWebSocket_MalformedFramesGetErrorEvents(t *testing.T) {
	s := newStack(t, nil)
	conn := testutil.MustDial(t, s.WSURL)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ev := testutil.ReadEvent(t, conn, readTimeout)
	assert.Equal(t, domain.EventError, ev.Type)
	assert.Equal(t, domain.ErrCodeBadRequest, ev.Code)

	testutil.Send(t, conn, map[string]string{"type": "shout"})
	assert.Equal(t, domain.ErrCodeBadRequest, testutil.ReadEvent(t, conn, readTimeout).Code)

	testutil.Say(t, conn, "", "nobody")
	assert.Equal(t, domain.ErrCodeBadRequest, testutil.ReadEvent(t, conn, readTimeout).Code)

	// Still usable afterwards.
	testutil.Join(t, conn, "erin")
	assert.Equal(t, "erin joined", testutil.ReadEvent(t, conn, readTimeout).Text)
}

func TestWebSocket_RateLimited(t *testing.T) {
	s := newStack(t, func(c *config.Config) {
		c.RateLimit.Burst = 2
		c.RateLimit.RefillInterval = time.Hour
	})
	conn := testutil.MustDial(t, s.WSURL)

	testutil.Join(t, conn, "fran")
	testutil.Say(t, conn, "fran", "one")
	testutil.Say(t, conn, "fran", "two")

	assert.Equal(t, "fran joined", testutil.ReadEvent(t, conn, readTimeout).Text)
	assert.Equal(t, "one", testutil.ReadEvent(t, conn, readTimeout).Content)
	ev := testutil.ReadEvent(t, conn, readTimeout)
	assert.Equal(t, domain.EventError, ev.Type)
	assert.Equal(t, domain.ErrCodeRateLimited, ev.Code)
}

func TestWebSocket_OversizedFrameClosesConnection(t *testing.T) {
	s := newStack(t, func(c *config.Config) { c.WebSocket.MaxMessageSize = 64 })
	conn := testutil.MustDial(t, s.WSURL)

	big := make([]byte, 256)
	for i := range big {
		big[i] = 'a'
	}
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, big))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.False(t, os.IsTimeout(err), "server should close, not stall")
}

func TestWebSocket_Origins(t *testing.T) {
	t.Run("disallowed", func(t *testing.T) {
		s := newStack(t, nil)
		for _, origin := range []string{"", "http://evil.example", "not-a-url"} {
			_, resp, err := testutil.Dial(s.WSURL, origin, nil)
			require.Error(t, err, "origin %q", origin)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode, "origin %q", origin)
		}
	})

	t.Run("wildcard", func(t *testing.T) {
		s := newStack(t, func(c *config.Config) { c.WebSocket.AllowedOrigins = []string{"*"} })
		conn, _, err := testutil.Dial(s.WSURL, "https://anywhere.example", nil)
		require.NoError(t, err)
		_ = conn.Close()
	})

	t.Run("case insensitive", func(t *testing.T) {
		s := newStack(t, nil)
		conn, _, err := testutil.Dial(s.WSURL, "HTTP://LOCALHOST:8080", nil)
		require.NoError(t, err)
		_ = conn.Close()
	})
}

func TestWebSocket_RequireToken(t *testing.T) {
	s := newStack(t, func(c *config.Config) { c.WebSocket.RequireToken = true })
	token := s.registerAndLogin(t, "alice", "pw1")

	_, resp, err := testutil.Dial(s.WSURL, testutil.DefaultOrigin, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = testutil.Dial(s.WSURL+"?token=garbage", testutil.DefaultOrigin, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := testutil.Dial(s.WSURL+"?token="+token, testutil.DefaultOrigin, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	testutil.Join(t, conn, "mallory")
	assert.Equal(t, "alice joined", testutil.ReadEvent(t, conn, readTimeout).Text)

	testutil.Say(t, conn, "mallory", "hi")
	assert.Equal(t, "alice", testutil.ReadEvent(t, conn, readTimeout).Sender)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	viaHeader, _, err := testutil.Dial(s.WSURL, testutil.DefaultOrigin, header)
	require.NoError(t, err)
	_ = viaHeader.Close()
}

func TestPresence(t *testing.T) {
	s := newStack(t, nil)
	token := s.registerAndLogin(t, "alice", "pw1")

	conn := testutil.MustDial(t, s.WSURL)
	testutil.Join(t, conn, "gina")
	testutil.ReadEvent(t, conn, readTimeout)

	resp, body := testutil.DoJSON(t, http.MethodGet, s.URL+"/presence", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []domain.PresenceEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "gina", entries[0].DisplayName)
}

func TestMethodNotAllowed(t *testing.T) {
	s := newStack(t, nil)
	resp, _ := testutil.DoJSON(t, http.MethodPost, s.URL+"/ws", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocket_PlainGETIsRejected(t *testing.T) {
	s := newStack(t, nil)
	resp, _ := testutil.DoJSON(t, http.MethodGet, s.URL+"/ws", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHubShutdown_ClosesConnectedClients(t *testing.T) {
	s := newStack(t, nil)

	conns := []*websocket.Conn{testutil.MustDial(t, s.WSURL), testutil.MustDial(t, s.WSURL)}
	require.Eventually(t, func() bool { return s.Hub.ClientCount() == len(conns) }, readTimeout, 10*time.Millisecond)

	require.NoError(t, s.Hub.Shutdown(2*time.Second))

	for _, c := range conns {
		require.NoError(t, c.SetReadDeadline(time.Now().Add(readTimeout)))
		_, _, err := c.ReadMessage()
		assert.Error(t, err)
	}

	// Connections arriving after shutdown are closed straight away.
	late := testutil.MustDial(t, s.WSURL)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := late.ReadMessage()
	assert.Error(t, err)
}

func TestCreateServer(t *testing.T) {
	srv := server.CreateServer(":0", http.NotFoundHandler())
	assert.Equal(t, ":0", srv.Addr)
	assert.Equal(t, 15*time.Second, srv.ReadTimeout)
	assert.Equal(t, 5*time.Second, srv.ReadHeaderTimeout)
	assert.Equal(t, 15*time.Second, srv.WriteTimeout)
	assert.Equal(t, 60*time.Second, srv.IdleTimeout)
}
