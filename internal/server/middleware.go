package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/lobbychat/internal/logging"
)

const (
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// TokenVerifier resolves a bearer token to its subject.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// RequireAuth rejects requests without a valid bearer token. A missing or
// malformed header is 401; a token that fails verification is 403. The
// verified subject is stored under logging.FieldUsername.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader(AuthHeaderKey))
		if !ok {
			writeError(c, http.StatusUnauthorized, CodeUnauthorized, "missing or malformed authorization header")
			return
		}

		subject, err := verifier.Verify(token)
		if err != nil {
			l := logging.Ctx(c.Request.Context())
			l.Debug().Err(err).Msg("token rejected")
			writeError(c, http.StatusForbidden, CodeForbidden, "invalid or expired token")
			return
		}

		c.Set(logging.FieldUsername, subject)
		c.Next()
	}
}

// Username returns the subject stored by RequireAuth.
func Username(c *gin.Context) string {
	return c.GetString(logging.FieldUsername)
}

func bearerToken(header string) (string, bool) {
	if len(header) < len(BearerPrefix) || !strings.EqualFold(header[:len(BearerPrefix)], BearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(BearerPrefix):])
	return token, token != ""
}
