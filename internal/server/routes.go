package server

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/lobbychat/internal/logging"
)

// SetupRoutes builds the gin engine with every application route. Each
// request gets a request id and one structured access log line.
func SetupRoutes(h *Handler, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), logging.GinMiddleware(logger))

	r.GET("/", h.Health)
	r.GET("/health", h.Health)
	r.GET("/ws", h.WebSocket)

	auth := r.Group("/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
	}

	protected := r.Group("/")
	protected.Use(RequireAuth(h.deps.Tokens))
	{
		protected.GET("/messages", h.ListMessages)
		protected.DELETE("/messages/:id", h.DeleteMessage)
		protected.GET("/presence", h.Presence)
	}

	return r
}
