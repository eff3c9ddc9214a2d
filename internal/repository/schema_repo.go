package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ColaBD/Backend-ColaBD/internal/models"

	"gorm.io/gorm"
)

// ErrSchemaNotFound is returned when a schema id does not exist
var ErrSchemaNotFound = errors.New("schema not found")

// SchemaRepositoryImpl reads schema metadata and memberships. Schemas and
// memberships are created by the account service that owns those tables.
// Learning: This is the IMPLEMENTATION. The auth package declares the
// MembershipChecker interface it satisfies.
type SchemaRepositoryImpl struct {
	db *gorm.DB
}

// NewSchemaRepository creates a new schema repository
func NewSchemaRepository(db *gorm.DB) *SchemaRepositoryImpl {
	return &SchemaRepositoryImpl{db: db}
}

// GetByID retrieves a schema
func (r *SchemaRepositoryImpl) GetByID(ctx context.Context, id string) (*models.Schema, error) {
	var schema models.Schema

	err := r.db.WithContext(ctx).First(&schema, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}

	return &schema, nil
}

// IsMember reports whether userID may open schemaID
func (r *SchemaRepositoryImpl) IsMember(ctx context.Context, userID, schemaID string) (bool, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&models.UserSchema{}).
		Where("user_id = ? AND schema_id = ?", userID, schemaID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}

	return count > 0, nil
}
