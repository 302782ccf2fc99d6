package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sinaunote/backend/internal/notes"
	"github.com/sinaunote/backend/internal/subjects"
	"github.com/sinaunote/backend/internal/users"
)

// OpenSQLite establishes a SQLite connection and performs schema setup. The
// setup is idempotent and re-entrant; the process-lifetime "schema
// initialized" notion reduces to having called this once for the path.
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
		&notes.Note{},
		&notes.NoteLike{},
		&notes.AdminNoteLike{},
		&notes.AdminActivity{},
		&subjects.Subject{},
		&users.User{},
		&migrationRecord{},
	); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
