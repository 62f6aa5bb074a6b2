package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"gearbase/internal/config"
)

// NewPostgresDB opens a pooled connection to one PostgreSQL database and
// verifies it with a ping.
func NewPostgresDB(cfg *config.DatabaseConfig, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
