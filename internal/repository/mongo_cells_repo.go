package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ColaBD/Backend-ColaBD/internal/models"
	"github.com/charmbracelet/log"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const modelsCollection = "models"

// mongoCells is the document shape of the "models" collection
type mongoCells struct {
	SchemaID  string        `bson:"_id"`
	Cells     []models.Cell `bson:"cells"`
	UpdatedBy string        `bson:"updated_by"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

// MongoCellsRepositoryImpl keeps one document per schema holding its cell
// list
type MongoCellsRepositoryImpl struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoCellsRepository connects to uri and uses database's "models"
// collection
func NewMongoCellsRepository(ctx context.Context, uri, database string) (*MongoCellsRepositoryImpl, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	log.Info("✓ Mongo document store connected", "database", database, "collection", modelsCollection)
	return &MongoCellsRepositoryImpl{
		client: client,
		coll:   client.Database(database).Collection(modelsCollection),
	}, nil
}

// Load returns the stored cell list of a schema
func (r *MongoCellsRepositoryImpl) Load(ctx context.Context, schemaID string) ([]models.Cell, bool, error) {
	defer observe("mongo", "load", time.Now())

	raw, err := r.coll.FindOne(ctx, bson.M{"_id": schemaID}).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cells: %w", err)
	}

	cells, err := decodeCells(raw)
	if err != nil {
		return nil, false, err
	}
	return cells, true, nil
}

// decodeCells goes through relaxed extended JSON so nested objects come back
// as plain maps instead of bson.D
func decodeCells(raw bson.Raw) ([]models.Cell, error) {
	ext, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to convert cells document: %w", err)
	}

	var doc struct {
		Cells []models.Cell `json:"cells"`
	}
	if err := json.Unmarshal(ext, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode cells document: %w", err)
	}
	if doc.Cells == nil {
		doc.Cells = []models.Cell{}
	}
	return doc.Cells, nil
}

// Save overwrites the stored cell list of a schema
func (r *MongoCellsRepositoryImpl) Save(ctx context.Context, schemaID string, cells []models.Cell, userID string) error {
	defer observe("mongo", "save", time.Now())

	if cells == nil {
		cells = []models.Cell{}
	}

	doc := mongoCells{
		SchemaID:  schemaID,
		Cells:     cells,
		UpdatedBy: userID,
		UpdatedAt: time.Now().UTC(),
	}

	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": schemaID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save cells: %w", err)
	}
	return nil
}

// Close disconnects from Mongo
func (r *MongoCellsRepositoryImpl) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
