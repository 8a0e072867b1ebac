// Package auth protects the HTTP transport of the MCP server.
package auth

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sha1n/retro-sync/internal/config"
)

// Header names accepted by the API key scheme.
const (
	HeaderAPIKey        = "X-API-Key"
	HeaderAuthorization = "Authorization"
	bearerPrefix        = "Bearer "
)

// publicPaths bypass authentication so probes can reach them
var publicPaths = map[string]bool{
	"/health": true,
}

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

// NewMiddleware creates an authentication middleware for the configured scheme
func NewMiddleware(settings config.AuthSettings) (Middleware, error) {
	switch settings.Type {
	case config.AuthTypeNone, "":
		return func(next http.Handler) http.Handler { return next }, nil
	case config.AuthTypeBasic:
		if settings.Basic.Username == "" || settings.Basic.Password == "" {
			return nil, fmt.Errorf("basic auth requires non-empty username and password")
		}
		return guard("basic", basicAuthenticator(settings.Basic)), nil
	case config.AuthTypeAPIKey:
		if len(settings.APIKeys) == 0 {
			return nil, fmt.Errorf("apikey auth requires at least one API key")
		}
		return guard("apikey", apiKeyAuthenticator(settings.APIKeys)), nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", settings.Type)
	}
}

// authenticator reports whether a request carries valid credentials
type authenticator func(r *http.Request) bool

// guard rejects unauthenticated requests to any non-public path
func guard(scheme string, authenticate authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || authenticate(r) {
				next.ServeHTTP(w, r)
				return
			}

			slog.DebugContext(r.Context(), "Rejected unauthenticated request",
				"scheme", scheme, "path", r.URL.Path, "remote", r.RemoteAddr)
			if scheme == "basic" {
				w.Header().Set("WWW-Authenticate", `Basic realm="retro-sync"`)
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func basicAuthenticator(settings config.BasicAuthSettings) authenticator {
	return func(r *http.Request) bool {
		user, pass, ok := r.BasicAuth()
		// Both comparisons always run
		userMatch := equal(user, settings.Username)
		passMatch := equal(pass, settings.Password)
		return ok && userMatch && passMatch
	}
}

func apiKeyAuthenticator(keys []string) authenticator {
	return func(r *http.Request) bool {
		presented := requestAPIKey(r)
		if presented == "" {
			return false
		}
		for _, k := range keys {
			if equal(presented, k) {
				return true
			}
		}
		return false
	}
}

// requestAPIKey extracts the key from X-API-Key or a bearer Authorization header
func requestAPIKey(r *http.Request) string {
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return key
	}
	if h := r.Header.Get(HeaderAuthorization); len(h) > len(bearerPrefix) && strings.EqualFold(h[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(h[len(bearerPrefix):])
	}
	return ""
}
