package status

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
)

// MemoryReporter keeps records in process, for local runs and tests
type MemoryReporter struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

func NewMemoryReporter() *MemoryReporter {
	return &MemoryReporter{
		records: map[string]*Record{},
		now:     time.Now,
	}
}

func (m *MemoryReporter) Create(ctx context.Context, clusterID, name string, nodes map[string]cluster.NodeSpec) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	r, ok := m.records[clusterID]
	if !ok {
		r = &Record{
			ClusterID:   clusterID,
			PhaseStatus: cluster.PhaseStatus{Status: cluster.StatusPending},
			CreatedAt:   now,
		}
		m.records[clusterID] = r
	}
	r.Name = name
	r.Nodes = maps.Clone(nodes)
	r.UpdatedAt = now
	return copyRecord(r), nil
}

func (m *MemoryReporter) UpdatePhase(ctx context.Context, clusterID string, phase cluster.Phase, value bool, status cluster.Status) (*Record, error) {
	if _, err := cluster.ParsePhase(string(phase)); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[clusterID]
	if !ok {
		return nil, fmt.Errorf("cluster %s: %w", clusterID, ErrNotFound)
	}
	r.Set(phase, value)
	r.Status = r.Status.Advance(status)
	r.UpdatedAt = m.now()
	return copyRecord(r), nil
}

func (m *MemoryReporter) Read(ctx context.Context, clusterID string) (*cluster.PhaseStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[clusterID]
	if !ok {
		return nil, fmt.Errorf("cluster %s: %w", clusterID, ErrNotFound)
	}
	ps := r.PhaseStatus
	return &ps, nil
}

func copyRecord(r *Record) *Record {
	c := *r
	c.Nodes = maps.Clone(r.Nodes)
	return &c
}
