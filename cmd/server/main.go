package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ColaBD/Backend-ColaBD/internal/api"
	"github.com/ColaBD/Backend-ColaBD/internal/auth"
	"github.com/ColaBD/Backend-ColaBD/internal/config"
	"github.com/ColaBD/Backend-ColaBD/internal/db"
	"github.com/ColaBD/Backend-ColaBD/internal/repository"
	"github.com/ColaBD/Backend-ColaBD/internal/services/collaboration"
	"github.com/ColaBD/Backend-ColaBD/internal/telemetry"
	"github.com/charmbracelet/log"
)

/*
LEARNING: GRACEFUL SHUTDOWN PATTERN WITH OBSERVABILITY

This main function demonstrates:
1. Service initialization and dependency injection
2. Choosing a storage backend from configuration
3. Distributed tracing with Jaeger
4. Graceful shutdown: stop accepting, close sockets, flush every room
*/

func main() {
	log.SetReportTimestamp(true)
	log.Info("🚀 Starting ColaBD collaboration server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("❌ Failed to load config", "err", err)
	}

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warn("Unknown LOG_LEVEL, using info", "value", cfg.LogLevel)
	}

	// Learning: Do this FIRST so all operations are traced
	jaegerShutdown, err := telemetry.InitJaeger("colabd", cfg.JaegerEndpoint, cfg.TraceSampleRatio)
	if err != nil {
		log.Warn("⚠️  Failed to initialize Jaeger, continuing without tracing", "err", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Warn("⚠️  Failed to shutdown Jaeger", "err", err)
		}
	}()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 15*time.Second)
	st, cleanup, err := openStores(startCtx, cfg)
	cancelStart()
	if err != nil {
		log.Fatal("❌ Failed to open storage", "err", err)
	}
	defer cleanup()

	verifier := auth.NewTokenVerifier(cfg.JWTSecret, st.members)

	sessionManager := collaboration.NewSessionManager(st.docs, collaboration.Options{
		SaveDelay:        cfg.SaveDelay,
		LockTTL:          cfg.LockTTL,
		LockReapInterval: cfg.LockReapInterval,
		SendBuffer:       cfg.SendBuffer,
		IdleTimeout:      cfg.IdleTimeout,
	})
	sessionManager.Start()

	wsHandler := collaboration.NewWebSocketHandler(sessionManager, verifier, cfg.AllowedOrigins)
	handler := api.NewHandler(sessionManager, verifier, wsHandler)
	if st.snapshots != nil {
		handler.WithHistory(st.schemas, st.snapshots)
	}
	router := api.SetupRoutes(handler, cfg.AllowedOrigins)

	// No WriteTimeout: it would cut long-lived WebSocket connections
	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("🌐 Server listening", "addr", "http://"+addr, "store", cfg.DocStore)
		log.Info("   WS     /ws/schema/{id}?token=...      - Join a schema room")
		log.Info("   GET    /api/schemas/{id}/live         - Live room state")
		log.Info("   POST   /api/schemas/{id}/flush        - Save a room now")
		log.Info("   GET    /api/schemas/{id}/history      - Saved versions")
		log.Info("   GET    /metrics                       - Prometheus metrics")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("❌ Server error", "err", err)
		}
	}()

	// Learning: This is the graceful shutdown pattern
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown; the
	// session manager closes them and flushes every room
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("⚠️  Server forced to shutdown", "err", err)
	}
	if err := sessionManager.Shutdown(ctx); err != nil {
		log.Error("⚠️  Some rooms could not be saved", "err", err)
	}

	log.Info("✓ Server shutdown complete")
}

// storage is what openStores wires up. snapshots and schemas are only set
// when the Postgres store keeps a history.
type storage struct {
	docs      collaboration.DocumentStore
	members   auth.MembershipChecker
	schemas   *repository.SchemaRepositoryImpl
	snapshots *repository.CellsRepositoryImpl
}

// openStores builds the document store selected by DOC_STORE, the optional
// Redis cache in front of it, and the membership checker
func openStores(ctx context.Context, cfg *config.Config) (storage, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var (
		st    storage
		store repository.CellStore
	)

	if cfg.UsesDatabase() {
		database, err := db.NewGorm(cfg)
		if err != nil {
			return st, cleanup, err
		}
		closers = append(closers, func() { _ = database.Close() })
		st.schemas = repository.NewSchemaRepository(database.DB)
		st.members = st.schemas

		if cfg.DocStore == config.StorePostgres {
			st.snapshots = repository.NewCellsRepository(database.DB, cfg.SnapshotsKept)
			store = st.snapshots
		}
	}

	switch cfg.DocStore {
	case config.StoreMongo:
		mongoStore, err := repository.NewMongoCellsRepository(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			cleanup()
			return storage{}, func() {}, err
		}
		closers = append(closers, func() { _ = mongoStore.Close(context.Background()) })
		store = mongoStore

	case config.StoreMemory:
		log.Warn("⚠️  Using in-memory document store, edits are lost on restart and membership is not checked")
		store = repository.NewMemoryStore()
	}

	if cfg.RedisURL != "" {
		cache, err := repository.NewCellsCache(ctx, cfg.RedisURL, cfg.RedisCellsTTL)
		if err != nil {
			log.Warn("⚠️  Redis cache unavailable, continuing without it", "err", err)
		} else {
			closers = append(closers, func() { _ = cache.Close() })
			store = repository.NewCachedStore(store, cache)
			log.Info("✓ Redis cell cache enabled", "ttl", cfg.RedisCellsTTL)
		}
	}

	st.docs = store
	return st, cleanup, nil
}
