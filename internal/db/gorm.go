package db

import (
	"fmt"

	"github.com/ColaBD/Backend-ColaBD/internal/config"
	"github.com/ColaBD/Backend-ColaBD/internal/models"
	"github.com/charmbracelet/log"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm connects to Postgres and migrates the schema tables
// Learning: GORM provides a higher-level abstraction over raw SQL
func NewGorm(cfg *config.Config) (*GormDB, error) {
	level := logger.Warn
	if cfg.LogLevel == "debug" {
		level = logger.Info // Shows SQL queries
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL()), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info("✓ Database connected and migrated successfully", "host", cfg.DBHost, "db", cfg.DBName)
	return &GormDB{db}, nil
}

// NewSQLite opens a SQLite database, ":memory:" for tests, and migrates it
func NewSQLite(dsn string) (*GormDB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Every pooled connection to ":memory:" would be a separate database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &GormDB{db}, nil
}

// Migrate creates or updates the schema, membership and snapshot tables
// Learning: GORM automatically creates/updates tables based on struct definitions
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Schema{},
		&models.UserSchema{},
		&models.CellSnapshot{},
	); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
