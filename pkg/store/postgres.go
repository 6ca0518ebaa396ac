package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the PostgreSQL database shared by the status and inventory stores
type DB struct {
	Pool *pgxpool.Pool
}

func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate creates the tables if they are missing. It is safe to run on every start.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cluster_status (
			cluster_id     TEXT PRIMARY KEY,
			name           TEXT NOT NULL DEFAULT '',
			nodes          JSONB NOT NULL DEFAULT '{}',
			create_status  BOOLEAN NOT NULL DEFAULT false,
			connect_status BOOLEAN NOT NULL DEFAULT false,
			verify_status  BOOLEAN NOT NULL DEFAULT false,
			status         TEXT NOT NULL DEFAULT 'pending',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS machines (
			address    TEXT PRIMARY KEY,
			location   TEXT NOT NULL,
			cpu        INTEGER NOT NULL DEFAULT 0,
			ram_mb     INTEGER NOT NULL DEFAULT 0,
			storage_gb INTEGER NOT NULL DEFAULT 0,
			state      TEXT NOT NULL DEFAULT 'free',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_machines_location_state ON machines(location, state);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// Healthy checks the database connection
func (db *DB) Healthy(ctx context.Context) error {
	var n int
	return db.Pool.QueryRow(ctx, "SELECT 1").Scan(&n)
}
