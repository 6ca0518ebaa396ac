package inventory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
)

// PostgresAllocator claims rows of the machines table
type PostgresAllocator struct {
	pool *pgxpool.Pool
}

func NewPostgresAllocator(pool *pgxpool.Pool) *PostgresAllocator {
	return &PostgresAllocator{pool: pool}
}

// Reserve locks matching free rows, skipping rows another transaction holds,
// and flips them to reserved in the same transaction
func (s *PostgresAllocator) Reserve(ctx context.Context, location string, size cluster.Sizing, count int) ([]string, error) {
	if count <= 0 {
		return nil, cluster.NewValidationError("machine count must be positive, got %d", count)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT address FROM machines
		 WHERE state = 'free' AND location = $1 AND cpu >= $2 AND ram_mb >= $3 AND storage_gb >= $4
		 ORDER BY address
		 LIMIT $5
		 FOR UPDATE SKIP LOCKED`,
		location, size.CPU, size.MemoryMB, size.StorageGB, count,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select machines: %w", err)
	}
	addresses, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read machines: %w", err)
	}
	if len(addresses) < count {
		return nil, &cluster.ResourceInsufficientError{Location: location, Requested: count, Available: len(addresses)}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE machines SET state = 'reserved', updated_at = now() WHERE address = ANY($1)`,
		addresses,
	); err != nil {
		return nil, fmt.Errorf("failed to reserve machines: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}
	return addresses, nil
}

func (s *PostgresAllocator) MarkUsed(ctx context.Context, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE machines SET state = 'used', updated_at = now()
		 WHERE address = ANY($1) AND state IN ('free', 'reserved')`,
		addresses,
	)
	if err != nil {
		return fmt.Errorf("failed to mark machines used: %w", err)
	}
	return nil
}
