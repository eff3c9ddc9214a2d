package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ColaBD/Backend-ColaBD/internal/auth"
	"github.com/ColaBD/Backend-ColaBD/internal/middleware"
	"github.com/ColaBD/Backend-ColaBD/internal/models"
	"github.com/ColaBD/Backend-ColaBD/internal/repository"
	"github.com/ColaBD/Backend-ColaBD/internal/services/collaboration"
	"github.com/charmbracelet/log"

	"github.com/gorilla/mux"
)

// Handler handles HTTP requests
// Learning: Uses INTERFACES defined in this package (consumer-driven)
type Handler struct {
	rooms     RoomService   // live room inspection and flushing
	auth      Authenticator // same check as the socket handshake
	wsHandler http.Handler  // WebSocket for real-time collab

	// Saved versions, only when the store keeps them
	schemas   SchemaReader
	snapshots SnapshotLister
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func NewHandler(rooms RoomService, authenticator Authenticator, wsHandler http.Handler) *Handler {
	return &Handler{
		rooms:     rooms,
		auth:      authenticator,
		wsHandler: wsHandler,
	}
}

// WithHistory enables the snapshot history endpoint
func (h *Handler) WithHistory(schemas SchemaReader, snapshots SnapshotLister) *Handler {
	h.schemas = schemas
	h.snapshots = snapshots
	return h
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetLiveSchema returns the in-memory state of a room being edited
func (h *Handler) GetLiveSchema(w http.ResponseWriter, r *http.Request) {
	schemaID := mux.Vars(r)["id"]

	identity, ok := h.authenticate(w, r, schemaID)
	if !ok {
		return
	}

	state, live := h.rooms.RoomState(schemaID, identity.UserID)
	if !live {
		writeError(w, http.StatusNotFound, "schema is not being edited")
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// FlushSchema persists a live room immediately instead of waiting for the
// save delay
func (h *Handler) FlushSchema(w http.ResponseWriter, r *http.Request) {
	schemaID := mux.Vars(r)["id"]

	if _, ok := h.authenticate(w, r, schemaID); !ok {
		return
	}

	err := h.rooms.Flush(r.Context(), schemaID)
	switch {
	case errors.Is(err, collaboration.ErrRoomNotLive):
		writeError(w, http.StatusNotFound, "schema is not being edited")
	case err != nil:
		middleware.AddSpanError(r.Context(), err)
		log.Error("Flush failed", "schema", schemaID, "request_id", middleware.GetRequestID(r.Context()), "err", err)
		writeError(w, http.StatusBadGateway, "failed to save schema")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "schema_id": schemaID})
	}
}

type schemaHistory struct {
	Schema    *models.Schema         `json:"schema"`
	Snapshots []*models.CellSnapshot `json:"snapshots"`
}

// GetSchemaHistory lists the saved snapshots of a schema, newest first.
// ?limit= caps the list.
func (h *Handler) GetSchemaHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	schemaID := mux.Vars(r)["id"]

	if _, ok := h.authenticate(w, r, schemaID); !ok {
		return
	}

	if h.schemas == nil || h.snapshots == nil {
		writeError(w, http.StatusNotImplemented, "history is not kept by this store")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	schema, err := h.schemas.GetByID(ctx, schemaID)
	if errors.Is(err, repository.ErrSchemaNotFound) {
		writeError(w, http.StatusNotFound, "schema not found")
		return
	}
	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Error("History: schema lookup failed", "schema", schemaID, "request_id", middleware.GetRequestID(ctx), "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load schema")
		return
	}

	snapshots, err := h.snapshots.History(ctx, schemaID, limit)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Error("History: listing snapshots failed", "schema", schemaID, "request_id", middleware.GetRequestID(ctx), "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if snapshots == nil {
		snapshots = []*models.CellSnapshot{}
	}

	writeJSON(w, http.StatusOK, schemaHistory{Schema: schema, Snapshots: snapshots})
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, schemaID string) (auth.Identity, bool) {
	identity, err := h.auth.Authenticate(r.Context(), auth.TokenFromRequest(r), schemaID)
	switch {
	case err == nil:
		return identity, true
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, "not a member of this schema")
	default:
		middleware.AddSpanError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "failed to authenticate")
	}
	return auth.Identity{}, false
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
