package database

import (
	"fmt"

	"github.com/basketline/backend/internal/cart"
	"github.com/basketline/backend/internal/connector"
	"github.com/basketline/backend/internal/orders"
	"github.com/basketline/backend/internal/runs"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&cart.Cart{},
		&cart.CartSnapshot{},
		&connector.Connector{},
		&orders.Order{},
		&runs.Run{},
		&runs.Step{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	return db, nil
}
