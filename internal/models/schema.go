package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

/*
LEARNING: SCHEMA METADATA VS. CELL SNAPSHOTS

The relational side only knows which schemas exist and who may open them.
The diagram itself is stored as a snapshot row holding the whole cell list
as JSON. Every flush writes a new snapshot and repoints
schemas.database_model at it, so a half-written flush never replaces the
previous good copy.
*/

// Schema is a collaborative diagram owned by one or more users
type Schema struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Title          string    `gorm:"type:text;not null" json:"title"`
	DisplayPicture string    `gorm:"type:text" json:"display_picture"`
	DatabaseModel  string    `gorm:"type:varchar(27)" json:"database_model"` // id of the current CellSnapshot
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (s *Schema) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// UserSchema grants a user access to a schema
type UserSchema struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;index:idx_user_schema" json:"user_id"`
	SchemaID  string    `gorm:"type:varchar(36);not null;index:idx_user_schema" json:"schema_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *UserSchema) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// TableName override
func (UserSchema) TableName() string {
	return "user_schemas"
}

// CellSnapshot is one persisted copy of a schema's cell list
type CellSnapshot struct {
	ID        string    `gorm:"type:varchar(27);primaryKey" json:"id"`
	SchemaID  string    `gorm:"type:varchar(36);not null;index:idx_snapshot_schema_time" json:"schema_id"`
	Cells     []Cell    `gorm:"type:jsonb;serializer:json;not null" json:"cells"`
	UpdatedBy string    `gorm:"type:varchar(64)" json:"updated_by"`
	CreatedAt time.Time `gorm:"index:idx_snapshot_schema_time" json:"created_at"`
}

// BeforeCreate generates KSUID
func (c *CellSnapshot) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = ksuid.New().String()
	}
	return nil
}

// TableName override
func (CellSnapshot) TableName() string {
	return "cell_snapshots"
}
