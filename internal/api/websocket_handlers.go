package api

import (
	"net/http"
)

// WebSocket endpoints

// HandleSchemaWebSocket handles WebSocket connections for schema collaboration
func (h *Handler) HandleSchemaWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.ServeHTTP(w, r)
}
