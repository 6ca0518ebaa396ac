// Package status records the externally visible progress of each cluster
package status

import (
	"context"
	"errors"
	"time"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
)

var ErrNotFound = errors.New("cluster status not found")

// Record is the stored progress of one cluster
type Record struct {
	ClusterID string                      `json:"clusterId"`
	Name      string                      `json:"name"`
	Nodes     map[string]cluster.NodeSpec `json:"nodes,omitempty"`
	cluster.PhaseStatus
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Reporter persists phase progress. Flags only ever go from false to true and
// the status only moves forward through pending, creating, ready.
type Reporter interface {
	// Create registers a cluster. Calling it again for the same cluster keeps its progress.
	Create(ctx context.Context, clusterID, name string, nodes map[string]cluster.NodeSpec) (*Record, error)
	// UpdatePhase sets phase to value, OR-ed with what is stored, and advances
	// the status. An empty status leaves it unchanged.
	UpdatePhase(ctx context.Context, clusterID string, phase cluster.Phase, value bool, status cluster.Status) (*Record, error)
	Read(ctx context.Context, clusterID string) (*cluster.PhaseStatus, error)
}
