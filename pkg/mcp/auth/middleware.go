// Package mcpauth adapts tenant authentication for the MCP transport. MCP
// clients speak OAuth 2.0 Bearer tokens, so failures answer with RFC 6750
// WWW-Authenticate headers instead of the plain JSON the chat API uses.
package mcpauth

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/quarrylabs/quarry-agent/pkg/auth"
)

// Middleware authenticates MCP requests.
type Middleware struct {
	verifier *auth.Middleware
	logger   *zap.Logger
}

// NewMiddleware wraps the core token verifier for MCP use.
func NewMiddleware(verifier *auth.Middleware, logger *zap.Logger) *Middleware {
	return &Middleware{
		verifier: verifier,
		logger:   logger.Named("mcpauth"),
	}
}

// RequireTenant validates the bearer token and injects tenant claims before
// handing the request to the MCP transport.
func (m *Middleware) RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.verifier.Validate(r)
		if err != nil {
			m.logger.Debug("mcp auth failed",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			m.writeWWWAuthenticate(w, "invalid_token", "The access token is invalid or missing a tenant scope")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

// writeWWWAuthenticate writes an RFC 6750 Bearer token error response.
func (m *Middleware) writeWWWAuthenticate(w http.ResponseWriter, errorCode, description string) {
	w.Header().Set("WWW-Authenticate",
		fmt.Sprintf(`Bearer error=%q, error_description=%q`, errorCode, description))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error": %q, "error_description": %q}`, errorCode, description)
}
