package hub

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/lobbychat/internal/domain"
	"github.com/Tyrowin/lobbychat/internal/logging"
)

// Client is one live websocket connection. Its send channel is written and
// closed only by the hub loop.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
	addr    string
	subject string
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient wraps conn for hub. subject is the verified token subject bound
// to the connection, or empty for anonymous connections. conn may be nil,
// in which case events are only observable through Outbound.
func NewClient(conn *websocket.Conn, hub *Hub, addr, subject string) *Client {
	cfg := hub.cfg
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	id := uuid.NewString()
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, cfg.SendBuffer),
		hub:     hub,
		addr:    addr,
		subject: subject,
		limiter: rate.NewLimiter(rate.Every(cfg.RateLimit.RefillInterval), cfg.RateLimit.Burst),
		logger: hub.logger.With().
			Str(logging.FieldConnID, id).
			Str(logging.FieldRemoteAddr, addr).
			Logger(),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// Outbound returns the encoded events queued for this client. It is closed
// when the client is unregistered.
func (c *Client) Outbound() <-chan []byte { return c.send }

func (c *Client) setupReadConnection() {
	pongWait := c.hub.cfg.PongWait
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn().Err(err).Msg("error setting initial read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn().Err(err).Msg("error setting read deadline in pong handler")
		}
		return nil
	})
}

// handleReadError logs the read failure at a level matching how expected it
// is. Every read error ends the read loop.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn().Int64("limit", c.hub.cfg.MaxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Debug().Err(err).Msg("client connection closed")
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn().Err(err).Msg("unexpected websocket close")
	default:
		c.logger.Info().Err(err).Msg("websocket read error")
	}
}

// processFrame decodes one client frame and forwards it to the hub.
// Malformed frames are answered with an error event.
func (c *Client) processFrame(raw []byte) {
	var in domain.InboundEvent
	if err := json.Unmarshal(raw, &in); err != nil {
		c.logger.Debug().Err(err).Msg("invalid frame")
		c.hub.Reject(c, domain.ErrCodeBadRequest, "frame is not valid JSON")
		return
	}

	switch in.Type {
	case domain.EventJoin:
		c.hub.Join(c, in.DisplayName)
	case domain.EventMessage:
		c.hub.Send(c, in.DisplayName, in.Content)
	case "":
		c.hub.Reject(c, domain.ErrCodeBadRequest, "type is required")
	default:
		c.hub.Reject(c, domain.ErrCodeBadRequest, "unknown event type "+strings.TrimSpace(in.Type))
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if msgType != websocket.TextMessage {
			c.hub.Reject(c, domain.ErrCodeBadRequest, "only text frames are accepted")
			continue
		}

		if !c.limiter.Allow() {
			c.logger.Warn().
				Int("burst", c.hub.cfg.RateLimit.Burst).
				Dur("refill_interval", c.hub.cfg.RateLimit.RefillInterval).
				Msg("rate limit exceeded; discarding frame")
			c.hub.Reject(c, domain.ErrCodeRateLimited, "too many messages")
			continue
		}

		c.processFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !c.writeFrame(payload, ok) {
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// writeFrame writes one event per text frame. A closed send channel sends a
// close frame and ends the pump.
func (c *Client) writeFrame(payload []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
		c.logger.Debug().Err(err).Msg("error setting write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.logger.Debug().Err(err).Msg("error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn().Err(err).Msg("error writing message")
		}
		return false
	}
	return true
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
		c.logger.Debug().Err(err).Msg("error setting write deadline for ping")
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("error writing ping message")
		return false
	}
	return true
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug().Err(err).Msg("error closing connection")
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
