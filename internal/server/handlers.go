package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/lobbychat/internal/domain"
	"github.com/Tyrowin/lobbychat/internal/hub"
	"github.com/Tyrowin/lobbychat/internal/logging"
)

// Authenticator registers users and exchanges credentials for tokens.
type Authenticator interface {
	Register(ctx context.Context, username, password string) (*domain.User, error)
	Authenticate(ctx context.Context, username, password string) (domain.Token, error)
}

// History lists and deletes persisted messages.
type History interface {
	ListPublic(ctx context.Context) ([]domain.Message, error)
	Delete(ctx context.Context, id, requester string) error
}

// Deps are the collaborators the HTTP gateway composes.
type Deps struct {
	Auth    Authenticator
	Tokens  TokenVerifier
	History History
	Hub     *hub.Hub
	Origins *OriginPolicy

	// RequireWSToken makes /ws demand a bearer token; its subject then
	// overrides display names and senders on that connection.
	RequireWSToken bool
	// UnifyLoginErrors reports unknown users as 401 like wrong passwords.
	UnifyLoginErrors bool
}

// Handler serves the LobbyChat HTTP and websocket endpoints.
type Handler struct {
	deps     Deps
	upgrader websocket.Upgrader
}

// NewHandler creates a new HTTP handler.
func NewHandler(deps Deps) *Handler {
	if deps.Origins == nil {
		deps.Origins = NewOriginPolicy(nil)
	}
	return &Handler{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     deps.Origins.CheckOrigin,
		},
	}
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Health responds with a plain text liveness message.
func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, "LobbyChat server is running!")
}

// Register handles user registration.
func (h *Handler) Register(c *gin.Context) {
	ctx := c.Request.Context()
	l := logging.Ctx(ctx)

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid register request")
		writeError(c, http.StatusBadRequest, CodeBadRequest, "username and password are required")
		return
	}

	user, err := h.deps.Auth.Register(ctx, req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrConflict):
			writeError(c, http.StatusConflict, CodeConflict, "username already exists")
		case errors.Is(err, domain.ErrInvalid):
			writeError(c, http.StatusBadRequest, CodeBadRequest, err.Error())
		default:
			respondError(c, err, "failed to register user")
		}
		return
	}

	c.JSON(http.StatusCreated, user)
}

// Login handles user login.
func (h *Handler) Login(c *gin.Context) {
	ctx := c.Request.Context()
	l := logging.Ctx(ctx)

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid login request")
		writeError(c, http.StatusBadRequest, CodeBadRequest, "username and password are required")
		return
	}

	token, err := h.deps.Auth.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		credentialErr := errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnauthorized)
		switch {
		case credentialErr && h.deps.UnifyLoginErrors:
			writeError(c, http.StatusUnauthorized, CodeUnauthorized, "invalid username or password")
		case errors.Is(err, domain.ErrInvalid):
			writeError(c, http.StatusBadRequest, CodeBadRequest, "username and password are required")
		case errors.Is(err, domain.ErrNotFound):
			writeError(c, http.StatusNotFound, CodeNotFound, "user not found")
		case errors.Is(err, domain.ErrUnauthorized):
			writeError(c, http.StatusUnauthorized, CodeUnauthorized, "wrong password")
		default:
			respondError(c, err, "failed to login")
		}
		return
	}

	c.Set(logging.FieldUsername, token.Subject)
	c.JSON(http.StatusOK, token)
}

// ListMessages returns the public history oldest first.
func (h *Handler) ListMessages(c *gin.Context) {
	messages, err := h.deps.History.ListPublic(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, messages)
}

// DeleteMessage removes one of the caller's messages. Unknown or foreign ids
// are answered with 204 as well.
func (h *Handler) DeleteMessage(c *gin.Context) {
	if err := h.deps.History.Delete(c.Request.Context(), c.Param("id"), Username(c)); err != nil {
		respondError(c, err, "failed to delete message")
		return
	}
	c.Status(http.StatusNoContent)
}

// Presence lists the display names currently joined to the room.
func (h *Handler) Presence(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Hub.Presence())
}

// WebSocket upgrades the request and registers the connection with the hub,
// which launches its pumps.
func (h *Handler) WebSocket(c *gin.Context) {
	subject := ""
	if h.deps.RequireWSToken {
		raw, ok := bearerToken(c.GetHeader(AuthHeaderKey))
		if !ok {
			// Browsers cannot set headers on websocket requests.
			raw = c.Query("token")
		}
		if raw == "" {
			writeError(c, http.StatusUnauthorized, CodeUnauthorized, "missing token")
			return
		}

		var err error
		subject, err = h.deps.Tokens.Verify(raw)
		if err != nil {
			writeError(c, http.StatusForbidden, CodeForbidden, "invalid or expired token")
			return
		}
		c.Set(logging.FieldUsername, subject)
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the error response.
		l := logging.Ctx(c.Request.Context())
		l.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(conn, h.deps.Hub, c.Request.RemoteAddr, subject)
	h.deps.Hub.Register(client)
}
