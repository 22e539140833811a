// Package store provides the durable local player state store backed by SQLite.
// It holds the current track session, per-track player state, and the queue of
// progress saves awaiting retry.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	maxOpenConns    = 10
	maxIdleConns    = 2
	connMaxLifetime = 5 * time.Minute
)

// Store wraps a GORM database connection to the local state database
type Store struct {
	*gorm.DB
}

// New opens the local state database at the given path.
// Example: "./data/talefeed.db"
func New(dbPath string, enableWAL bool) (*Store, error) {
	dsn := fmt.Sprintf("%s?_foreign_keys=on", dbPath)
	if enableWAL {
		dsn += "&_journal_mode=WAL"
	}

	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping state store: %w", err)
	}

	return &Store{DB: gormDB}, nil
}

// Health checks store connectivity
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the store connection
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// GetSQLDB returns the underlying sql.DB for migrations
func (s *Store) GetSQLDB() (*sql.DB, error) {
	return s.DB.DB()
}
