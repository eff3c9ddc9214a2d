package api

import (
	"context"

	"github.com/ColaBD/Backend-ColaBD/internal/auth"
	"github.com/ColaBD/Backend-ColaBD/internal/models"
	"github.com/ColaBD/Backend-ColaBD/internal/services/collaboration"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

This package (api/handlers) is the CONSUMER of the collaboration engine, so
the interfaces it needs live HERE. Handlers only inspect and flush rooms,
they never mutate a document, and the interface says exactly that.

Benefits:
- Easy to create fakes for testing handlers
- No circular dependencies
*/

// RoomService is what handlers need from the session manager
type RoomService interface {
	RoomState(schemaID, viewerID string) (collaboration.SchemaState, bool)
	Flush(ctx context.Context, schemaID string) error
}

// Authenticator resolves a bearer token for a schema
type Authenticator interface {
	Authenticate(ctx context.Context, token, schemaID string) (auth.Identity, error)
}

// SchemaReader looks up schema metadata
type SchemaReader interface {
	GetByID(ctx context.Context, id string) (*models.Schema, error)
}

// SnapshotLister lists saved versions of a schema, newest first
type SnapshotLister interface {
	History(ctx context.Context, schemaID string, limit int) ([]*models.CellSnapshot, error)
}
