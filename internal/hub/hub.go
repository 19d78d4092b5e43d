// Package hub coordinates client registration, presence, message persistence
// and broadcast for the LobbyChat room via the Hub type.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/lobbychat/internal/config"
	"github.com/Tyrowin/lobbychat/internal/domain"
	"github.com/Tyrowin/lobbychat/internal/logging"
)

// MessageWriter persists a message and fills in its ID and CreatedAt.
type MessageWriter interface {
	CreateMessage(ctx context.Context, msg *domain.Message) error
}

// Config holds the hub and per-connection limits.
type Config struct {
	SendBuffer     int
	StoreTimeout   time.Duration
	MaxMessageSize int64
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	RateLimit      config.RateLimitConfig
}

// NewConfig derives a hub Config from the service configuration.
func NewConfig(cfg *config.Config) Config {
	return Config{
		SendBuffer:     cfg.WebSocket.SendBuffer,
		StoreTimeout:   cfg.Store.Timeout,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		PingInterval:   cfg.WebSocket.PingInterval,
		PongWait:       cfg.WebSocket.PongWait,
		WriteWait:      cfg.WebSocket.WriteWait,
		RateLimit:      cfg.RateLimit,
	}
}

func (c Config) withDefaults() Config {
	def := config.Default()
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.WebSocket.SendBuffer
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = def.Store.Timeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.WebSocket.MaxMessageSize
	}
	if c.PongWait <= 0 {
		c.PongWait = def.WebSocket.PongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WebSocket.WriteWait
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	return c
}

type eventKind int

const (
	eventRegister eventKind = iota
	eventJoin
	eventMessage
	eventUnregister
	eventReject
	eventQuery
)

// event is one unit of work for the hub loop. Fields irrelevant to kind are
// left empty.
type event struct {
	kind    eventKind
	client  *Client
	name    string
	content string
	code    string
	query   func()
}

// Hub owns every live connection and the room's presence entries. All state
// is confined to the goroutine running Run; other goroutines interact with
// it only by submitting events.
type Hub struct {
	cfg    Config
	writer MessageWriter
	logger zerolog.Logger

	clients  map[string]*Client // connection id -> client
	presence map[string]string  // connection id -> display name

	events chan event
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub that persists messages through writer. The returned
// Hub does nothing until Run is started.
func NewHub(cfg Config, writer MessageWriter) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:      cfg.withDefaults(),
		writer:   writer,
		logger:   logging.L().With().Str("component", "hub").Logger(),
		clients:  make(map[string]*Client),
		presence: make(map[string]string),
		events:   make(chan event),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// submit hands ev to the loop. It reports false once the hub has stopped.
func (h *Hub) submit(ev event) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.done:
		return false
	}
}

// Register adds a freshly connected client to the live set and, when the
// client carries a socket, starts its read and write pumps. After shutdown
// the socket is closed instead.
func (h *Hub) Register(c *Client) {
	if !h.submit(event{kind: eventRegister, client: c}) && c.conn != nil {
		_ = c.conn.Close()
	}
}

// Join records the client's display name and announces it to the room.
func (h *Hub) Join(c *Client, displayName string) {
	h.submit(event{kind: eventJoin, client: c, name: displayName})
}

// Send persists a public message from the client and broadcasts it once it
// has a store-assigned id. senderName falls back to the joined display name.
func (h *Hub) Send(c *Client, senderName, content string) {
	h.submit(event{kind: eventMessage, client: c, name: senderName, content: content})
}

// Unregister removes the client and announces its departure if it had
// joined. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	h.submit(event{kind: eventUnregister, client: c})
}

// Reject sends an error event to one client.
func (h *Hub) Reject(c *Client, code, message string) {
	h.submit(event{kind: eventReject, client: c, code: code, content: message})
}

// Presence returns a snapshot of the joined connections sorted by display
// name. It returns nil after shutdown.
func (h *Hub) Presence() []domain.PresenceEntry {
	var entries []domain.PresenceEntry
	h.query(func() {
		entries = make([]domain.PresenceEntry, 0, len(h.presence))
		for id, name := range h.presence {
			entries = append(entries, domain.PresenceEntry{ConnectionID: id, DisplayName: name})
		}
	})
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].DisplayName != entries[j].DisplayName {
			return entries[i].DisplayName < entries[j].DisplayName
		}
		return entries[i].ConnectionID < entries[j].ConnectionID
	})
	return entries
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	var n int
	h.query(func() { n = len(h.clients) })
	return n
}

// query runs fn on the loop goroutine and waits for it.
func (h *Hub) query(fn func()) {
	finished := make(chan struct{})
	if !h.submit(event{kind: eventQuery, query: func() {
		fn()
		close(finished)
	}}) {
		return
	}
	<-finished
}

// Run starts the hub's main event loop. It should be called in a separate
// goroutine and returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case ev := <-h.events:
			h.handle(ev)
		}
	}
}

func (h *Hub) handle(ev event) {
	if ev.kind == eventQuery {
		ev.query()
		return
	}
	if ev.client == nil {
		h.logger.Warn().Msg("received event without client; skipping")
		return
	}

	switch ev.kind {
	case eventRegister:
		h.handleRegister(ev.client)
	case eventJoin:
		h.handleJoin(ev.client, ev.name)
	case eventMessage:
		h.handleMessage(ev.client, ev.name, ev.content)
	case eventUnregister:
		h.handleUnregister(ev.client)
	case eventReject:
		if _, ok := h.clients[ev.client.id]; ok {
			h.sendTo(ev.client, domain.NewErrorEvent(ev.code, ev.content))
		}
	}
}

func (h *Hub) handleRegister(c *Client) {
	if _, exists := h.clients[c.id]; exists {
		return
	}
	h.clients[c.id] = c

	h.logger.Info().
		Str(logging.FieldConnID, c.id).
		Str(logging.FieldRemoteAddr, c.addr).
		Int(logging.FieldClients, len(h.clients)).
		Msg("client registered")

	if c.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
}

func (h *Hub) handleJoin(c *Client, displayName string) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}

	name := strings.TrimSpace(displayName)
	if c.subject != "" {
		name = c.subject
	}
	if name == "" {
		h.sendTo(c, domain.NewErrorEvent(domain.ErrCodeBadRequest, "display_name is required"))
		return
	}

	h.presence[c.id] = name
	h.logger.Info().
		Str(logging.FieldConnID, c.id).
		Str(logging.FieldDisplayName, name).
		Msg("client joined")

	h.broadcast(domain.NewNotificationEvent(name + " joined"))
}

func (h *Hub) handleMessage(c *Client, senderName, content string) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}

	if strings.TrimSpace(content) == "" {
		h.sendTo(c, domain.NewErrorEvent(domain.ErrCodeBadRequest, "content is required"))
		return
	}

	sender := strings.TrimSpace(senderName)
	if c.subject != "" {
		sender = c.subject
	}
	if sender == "" {
		sender = h.presence[c.id]
	}
	if sender == "" {
		h.sendTo(c, domain.NewErrorEvent(domain.ErrCodeBadRequest, "display_name is required; join first"))
		return
	}

	msg := &domain.Message{Sender: sender, Content: content, Scope: domain.ScopePublic}

	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.StoreTimeout)
	ctx = logging.WithLogger(ctx, h.logger)
	err := h.writer.CreateMessage(ctx, msg)
	cancel()

	if err != nil {
		code, text := domain.ErrCodeStoreUnavailable, "message could not be stored"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTimeout) {
			code, text = domain.ErrCodeTimeout, "message store timed out"
		}
		h.logger.Error().Err(err).
			Str(logging.FieldConnID, c.id).
			Str(logging.FieldUsername, sender).
			Msg("failed to persist message; not broadcasting")
		h.sendTo(c, domain.NewErrorEvent(code, text))
		return
	}

	h.logger.Debug().
		Str(logging.FieldMessageID, msg.ID).
		Str(logging.FieldUsername, sender).
		Msg("message persisted")

	h.broadcast(domain.NewMessageEvent(msg))
}

func (h *Hub) handleUnregister(c *Client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)

	name, joined := h.presence[c.id]
	delete(h.presence, c.id)

	h.logger.Info().
		Str(logging.FieldConnID, c.id).
		Str(logging.FieldRemoteAddr, c.addr).
		Int(logging.FieldClients, len(h.clients)).
		Msg("client unregistered")

	if joined {
		h.broadcast(domain.NewNotificationEvent(name + " left"))
	}
}

// broadcast delivers v to every registered client. A client whose buffer is
// full misses this event; nobody else is affected.
func (h *Hub) broadcast(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode broadcast")
		return
	}

	for _, c := range h.clients {
		h.deliver(c, payload)
	}
}

func (h *Hub) sendTo(c *Client, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to encode event")
		return
	}
	h.deliver(c, payload)
}

func (h *Hub) deliver(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.logger.Warn().
			Str(logging.FieldConnID, c.id).
			Str(logging.FieldRemoteAddr, c.addr).
			Msg("send buffer full; dropping event for client")
	}
}

// shutdownClients closes every connection still registered.
func (h *Hub) shutdownClients() {
	h.logger.Info().Msg("shutting down all client connections")

	n := len(h.clients)
	for id, c := range h.clients {
		delete(h.clients, id)
		delete(h.presence, id)
		close(c.send)
		if c.conn != nil {
			if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.logger.Warn().Err(err).Str(logging.FieldConnID, id).Msg("error closing client connection")
			}
		}
	}

	h.logger.Info().Int(logging.FieldClients, n).Msg("closed client connections")
}

// Shutdown stops the loop, closes every connection and waits for the client
// goroutines to finish, up to timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info().Msg("initiating hub shutdown")

	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.logger.Info().Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn().Msg("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
