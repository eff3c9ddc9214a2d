package collaboration

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/ColaBD/Backend-ColaBD/internal/auth"
	"github.com/ColaBD/Backend-ColaBD/internal/middleware"
	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

/*
LEARNING: WEBSOCKET UPGRADER

The upgrader converts HTTP connections to WebSocket connections.

Key settings:
- ReadBufferSize/WriteBufferSize: Memory for I/O operations
- CheckOrigin: origin allow-list, the browser does not enforce CORS on sockets

Authentication runs BEFORE the upgrade so a rejected caller gets a plain
401/403 instead of a socket that is closed right away.
*/

// WebSocketHandler handles WebSocket connections for schema collaboration
type WebSocketHandler struct {
	manager  *SessionManager
	auth     Authenticator
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a handler. An empty allowedOrigins or one
// containing "*" accepts any origin.
func NewWebSocketHandler(manager *SessionManager, authenticator Authenticator, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		auth:    authenticator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		if _, ok := set[strings.TrimRight(origin, "/")]; ok {
			return true
		}
		// Same-host connections are always fine
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// HandleSchemaConnection authenticates the caller, upgrades the connection
// and binds it to the schema room
func (h *WebSocketHandler) HandleSchemaConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	schemaID := mux.Vars(r)["id"]

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Connect",
		attribute.String("schema.id", schemaID),
	)
	defer span.End()

	identity, err := h.auth.Authenticate(ctx, auth.TokenFromRequest(r), schemaID)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, auth.ErrUnauthorized):
			status = http.StatusUnauthorized
		case errors.Is(err, auth.ErrForbidden):
			status = http.StatusForbidden
		}
		log.Warn("WebSocket: handshake rejected", "schema", schemaID, "status", status, "err", err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	span.SetAttributes(attribute.String("user.id", identity.UserID))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already answered the client
		log.Error("WebSocket: upgrade failed", "schema", schemaID, "err", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	session := h.manager.NewSession(conn, identity.SchemaID, identity.UserID)
	session.origin = span.SpanContext()

	// The socket outlives the HTTP request and its span
	connCtx := trace.ContextWithSpan(context.WithoutCancel(ctx), nil)

	if err := h.manager.Join(connCtx, session); err != nil {
		log.Warn("WebSocket: join refused", "schema", schemaID, "err", err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, err.Error()))
		conn.Close()
		return
	}

	// Learning: Separate goroutines prevent deadlock between reading and writing
	go session.WritePump()
	go session.ReadPump(connCtx)

	log.Info("✓ WebSocket connection established", "schema", schemaID, "user", identity.UserID, "session", session.ID)
}

// ServeHTTP makes the handler mountable as an http.Handler
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleSchemaConnection(w, r)
}
