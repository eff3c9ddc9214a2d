package collaboration

import (
	"context"
	"errors"

	"github.com/ColaBD/Backend-ColaBD/internal/auth"
	"github.com/ColaBD/Backend-ColaBD/internal/models"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES

The collaboration engine is the consumer of storage and authentication, so
the interfaces it needs are declared here. Postgres, Mongo, Redis and the
in-memory store live in the repository package and never import this one.
*/

// DocumentStore loads and saves a schema's cell list.
// Load reports found=false when the schema has never been saved.
type DocumentStore interface {
	Load(ctx context.Context, schemaID string) (cells []models.Cell, found bool, err error)
	Save(ctx context.Context, schemaID string, cells []models.Cell, userID string) error
}

// Authenticator resolves a connection's token into the user and the room it
// may join
type Authenticator interface {
	Authenticate(ctx context.Context, token, schemaID string) (auth.Identity, error)
}

var (
	// ErrRoomNotLive is returned when a room has no hydrated document
	ErrRoomNotLive = errors.New("collaboration: room is not live")

	// ErrUnknownMessage is returned for frames with an unrecognized type
	ErrUnknownMessage = errors.New("collaboration: unknown message type")

	// ErrMalformedMessage is returned for frames whose payload cannot be decoded
	ErrMalformedMessage = errors.New("collaboration: malformed message")

	// ErrManagerClosed is returned once the session manager is shutting down
	ErrManagerClosed = errors.New("collaboration: session manager closed")
)
