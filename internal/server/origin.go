package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/Tyrowin/lobbychat/internal/logging"
)

const wildcardOrigin = "*"

// OriginPolicy decides which browser origins may open a websocket.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewOriginPolicy builds a policy from configured origins. "*" allows any
// well-formed origin; invalid entries are logged and ignored.
func NewOriginPolicy(origins []string) *OriginPolicy {
	p := &OriginPolicy{allowed: make(map[string]struct{}, len(origins))}

	for _, raw := range origins {
		entry := strings.TrimSpace(raw)
		switch {
		case entry == "":
		case entry == wildcardOrigin:
			p.allowAll = true
		default:
			key, ok := originKey(entry)
			if !ok {
				l := logging.L()
				l.Warn().Str("origin", raw).Msg("ignoring invalid origin in configuration")
				continue
			}
			p.allowed[key] = struct{}{}
		}
	}
	return p
}

// originKey reduces an origin to lowercase scheme://host[:port].
func originKey(origin string) (string, bool) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

// Allowed reports whether r carries an acceptable Origin header. Requests
// without one are refused, even under "*".
func (p *OriginPolicy) Allowed(r *http.Request) bool {
	key, ok := originKey(r.Header.Get("Origin"))
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, ok = p.allowed[key]
	return ok
}

// CheckOrigin is a websocket.Upgrader CheckOrigin func that logs refusals.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	if p.Allowed(r) {
		return true
	}

	l := logging.Ctx(r.Context())
	l.Warn().Str("origin", r.Header.Get("Origin")).Msg("blocked websocket connection from disallowed origin")
	return false
}
