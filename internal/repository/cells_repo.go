package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ColaBD/Backend-ColaBD/internal/models"
	"github.com/ColaBD/Backend-ColaBD/internal/telemetry"

	"gorm.io/gorm"
)

/*
LEARNING: SNAPSHOT PERSISTENCE

Each flush writes a full copy of the cell list as a new row, then moves the
schema's database_model pointer to it inside the same transaction:

  cell_snapshots: s1@t1, s1@t2, s1@t3   <- schemas.database_model = s1@t3

Query patterns:
- Load:  follow the pointer (fall back to the newest row)
- Save:  insert + repoint + prune, atomically
- Prune: keep the newest N rows per schema to bound growth
*/

// CellsRepositoryImpl stores schema cell lists as Postgres snapshots
type CellsRepositoryImpl struct {
	db   *gorm.DB
	keep int
}

// NewCellsRepository creates a snapshot repository keeping the newest keep
// snapshots per schema (keep <= 0 keeps everything)
func NewCellsRepository(db *gorm.DB, keep int) *CellsRepositoryImpl {
	return &CellsRepositoryImpl{db: db, keep: keep}
}

// Load returns the current cell list of a schema
func (r *CellsRepositoryImpl) Load(ctx context.Context, schemaID string) ([]models.Cell, bool, error) {
	defer observe("postgres", "load", time.Now())

	var schema models.Schema
	err := r.db.WithContext(ctx).First(&schema, "id = ?", schemaID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to get schema: %w", err)
	}

	var snapshot models.CellSnapshot
	query := r.db.WithContext(ctx)
	if schema.DatabaseModel != "" {
		err = query.First(&snapshot, "id = ?", schema.DatabaseModel).Error
	} else {
		err = query.Where("schema_id = ?", schemaID).
			Order("created_at DESC").Order("id DESC").
			First(&snapshot).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cell snapshot: %w", err)
	}

	if snapshot.Cells == nil {
		snapshot.Cells = []models.Cell{}
	}
	return snapshot.Cells, true, nil
}

// Save writes a new snapshot and makes it the schema's current one
func (r *CellsRepositoryImpl) Save(ctx context.Context, schemaID string, cells []models.Cell, userID string) error {
	defer observe("postgres", "save", time.Now())

	if cells == nil {
		cells = []models.Cell{}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snapshot := &models.CellSnapshot{
			SchemaID:  schemaID,
			Cells:     cells,
			UpdatedBy: userID,
		}
		if err := tx.Create(snapshot).Error; err != nil {
			return fmt.Errorf("failed to store cell snapshot: %w", err)
		}

		result := tx.Model(&models.Schema{}).
			Where("id = ?", schemaID).
			Update("database_model", snapshot.ID)
		if result.Error != nil {
			return fmt.Errorf("failed to repoint schema: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			// Schema row created elsewhere may not exist yet
			if err := tx.Create(&models.Schema{ID: schemaID, Title: "Untitled schema", DatabaseModel: snapshot.ID}).Error; err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
		}

		return r.prune(tx, schemaID)
	})
}

// prune removes all but the newest keep snapshots of a schema
func (r *CellsRepositoryImpl) prune(tx *gorm.DB, schemaID string) error {
	if r.keep <= 0 {
		return nil
	}

	var stale []string
	if err := tx.Model(&models.CellSnapshot{}).
		Where("schema_id = ?", schemaID).
		Order("created_at DESC").Order("id DESC").
		Offset(r.keep).
		Pluck("id", &stale).Error; err != nil {
		return fmt.Errorf("failed to list old snapshots: %w", err)
	}

	if len(stale) == 0 {
		return nil // Nothing to delete
	}

	if err := tx.Where("id IN ?", stale).Delete(&models.CellSnapshot{}).Error; err != nil {
		return fmt.Errorf("failed to delete old snapshots: %w", err)
	}
	return nil
}

// History lists the stored snapshots of a schema, newest first
func (r *CellsRepositoryImpl) History(ctx context.Context, schemaID string, limit int) ([]*models.CellSnapshot, error) {
	var snapshots []*models.CellSnapshot

	query := r.db.WithContext(ctx).
		Where("schema_id = ?", schemaID).
		Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("failed to get snapshots: %w", err)
	}

	return snapshots, nil
}

func observe(backend, operation string, start time.Time) {
	telemetry.StoreLatency.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}
