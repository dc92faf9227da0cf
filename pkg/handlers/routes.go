package handlers

import (
	"net/http"

	"github.com/quarrylabs/quarry-agent/pkg/auth"
)

// RegisterRoutes wires the HTTP surface onto the mux. Chat endpoints sit
// behind tenant authentication; health does not.
func RegisterRoutes(mux *http.ServeMux, chat *ChatHandler, health *HealthHandler, authMW *auth.Middleware) {
	mux.HandleFunc("GET /health", health.Health)
	mux.HandleFunc("POST /api/chat", authMW.RequireTenant(chat.Chat))
	mux.HandleFunc("POST /api/chat/complete", authMW.RequireTenant(chat.ChatComplete))
}
