// Package testutil provides helpers shared by the HTTP and websocket tests:
// JSON requests against a test server and typed websocket event IO.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultOrigin is the origin allowed by the default configuration.
const DefaultOrigin = "http://localhost:8080"

// Event is the union of every server -> client frame.
type Event struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Text      string    `json:"text"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
}

// WebSocketURL turns an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// DoJSON sends body (if non-nil) as JSON with an optional bearer token and
// returns the response with its body already read.
func DoJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

// Dial opens a websocket with the given Origin (skipped when empty) and
// extra headers. The handshake response body is always closed.
func Dial(url, origin string, header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	h := http.Header{}
	for k, v := range header {
		h[k] = v
	}
	if origin != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustDial is Dial for tests that expect the handshake to succeed. The
// connection is closed on cleanup.
func MustDial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := Dial(url, DefaultOrigin, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Send writes v as one JSON text frame.
func Send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// Join sends a join event.
func Join(t *testing.T, conn *websocket.Conn, displayName string) {
	t.Helper()
	Send(t, conn, map[string]string{"type": "join", "display_name": displayName})
}

// Say sends a message event.
func Say(t *testing.T, conn *websocket.Conn, displayName, content string) {
	t.Helper()
	Send(t, conn, map[string]string{"type": "message", "display_name": displayName, "content": content})
}

// ReadEvent reads the next frame within timeout.
func ReadEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))

	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// ExpectSilence fails if a frame arrives within d.
func ExpectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(d)))

	_, raw, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame: %s", raw)
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
