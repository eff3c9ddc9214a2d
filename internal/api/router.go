package api

import (
	"net/http"

	"github.com/ColaBD/Backend-ColaBD/internal/middleware"
	"github.com/ColaBD/Backend-ColaBD/internal/telemetry"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler, allowedOrigins []string) *mux.Router {
	r := mux.NewRouter()

	// Learning: Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware(allowedOrigins))

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	// Live schema rooms
	api.HandleFunc("/schemas/{id}/live", h.GetLiveSchema).Methods(http.MethodGet)
	api.HandleFunc("/schemas/{id}/flush", h.FlushSchema).Methods(http.MethodPost, http.MethodOptions)

	// Saved versions
	api.HandleFunc("/schemas/{id}/history", h.GetSchemaHistory).Methods(http.MethodGet)

	// Prometheus
	r.Handle("/metrics", telemetry.MetricsHandler()).Methods(http.MethodGet)

	// WebSocket routes
	r.HandleFunc("/ws/schema/{id}", h.HandleSchemaWebSocket)

	return r
}
