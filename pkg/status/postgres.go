package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
)

const recordColumns = `cluster_id, name, nodes, create_status, connect_status, verify_status, status, created_at, updated_at`

// statusCase advances status only forward along pending, creating, ready.
// A status outside that order (failed, deleted) is never overwritten.
const statusCase = `CASE
	WHEN $3::text = '' THEN cluster_status.status
	WHEN array_position(ARRAY['pending','creating','ready'], cluster_status.status) IS NULL THEN cluster_status.status
	WHEN array_position(ARRAY['pending','creating','ready'], $3::text) IS NULL THEN $3::text
	WHEN array_position(ARRAY['pending','creating','ready'], $3::text) >= array_position(ARRAY['pending','creating','ready'], cluster_status.status) THEN $3::text
	ELSE cluster_status.status
END`

// PostgresReporter stores records in the cluster_status table
type PostgresReporter struct {
	pool *pgxpool.Pool
}

func NewPostgresReporter(pool *pgxpool.Pool) *PostgresReporter {
	return &PostgresReporter{pool: pool}
}

func (s *PostgresReporter) Create(ctx context.Context, clusterID, name string, nodes map[string]cluster.NodeSpec) (*Record, error) {
	data, err := json.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal nodes: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO cluster_status (cluster_id, name, nodes)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (cluster_id) DO UPDATE SET name = EXCLUDED.name, nodes = EXCLUDED.nodes, updated_at = now()
		 RETURNING `+recordColumns,
		clusterID, name, data,
	)
	return scanRecord(row)
}

func (s *PostgresReporter) UpdatePhase(ctx context.Context, clusterID string, phase cluster.Phase, value bool, status cluster.Status) (*Record, error) {
	column, err := phaseColumn(phase)
	if err != nil {
		return nil, err
	}
	// the column name comes from a fixed set, never from input
	row := s.pool.QueryRow(ctx,
		`UPDATE cluster_status SET `+column+` = cluster_status.`+column+` OR $2,
		 status = `+statusCase+`,
		 updated_at = now()
		 WHERE cluster_id = $1
		 RETURNING `+recordColumns,
		clusterID, value, string(status),
	)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cluster %s: %w", clusterID, ErrNotFound)
	}
	return r, err
}

func (s *PostgresReporter) Read(ctx context.Context, clusterID string) (*cluster.PhaseStatus, error) {
	var ps cluster.PhaseStatus
	err := s.pool.QueryRow(ctx,
		`SELECT create_status, connect_status, verify_status, status FROM cluster_status WHERE cluster_id = $1`,
		clusterID,
	).Scan(&ps.Create, &ps.Connect, &ps.Verify, &ps.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cluster %s: %w", clusterID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ps, nil
}

func phaseColumn(phase cluster.Phase) (string, error) {
	switch phase {
	case cluster.PhaseCreate:
		return "create_status", nil
	case cluster.PhaseConnect:
		return "connect_status", nil
	case cluster.PhaseVerify:
		return "verify_status", nil
	}
	return "", fmt.Errorf("unknown phase %q", phase)
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r     Record
		nodes []byte
	)
	if err := row.Scan(&r.ClusterID, &r.Name, &nodes, &r.Create, &r.Connect, &r.Verify, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if len(nodes) > 0 {
		if err := json.Unmarshal(nodes, &r.Nodes); err != nil {
			return nil, fmt.Errorf("failed to decode nodes: %w", err)
		}
	}
	return &r, nil
}
