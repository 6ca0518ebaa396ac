// Package inventory hands out machines that already exist to new clusters
package inventory

import (
	"context"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
)

// State of a machine in the inventory
type State string

const (
	StateFree     State = "free"
	StateReserved State = "reserved"
	StateUsed     State = "used"
)

// Machine is one inventory entry
type Machine struct {
	Address   string `json:"address" yaml:"address"`
	Location  string `json:"location" yaml:"location"`
	CPU       int    `json:"cpu" yaml:"cpu"`
	MemoryMB  int    `json:"ram" yaml:"ram"`
	StorageGB int    `json:"storage" yaml:"storage"`
	State     State  `json:"state" yaml:"state"`
}

// Fits reports whether m is free in location and at least as large as size
func (m Machine) Fits(location string, size cluster.Sizing) bool {
	return m.State == StateFree &&
		m.Location == location &&
		m.CPU >= size.CPU &&
		m.MemoryMB >= size.MemoryMB &&
		m.StorageGB >= size.StorageGB
}

// Allocator reserves machines for a cluster and marks them used once the cluster is up
type Allocator interface {
	// Reserve claims count free machines matching size in location, all or
	// nothing. Two concurrent calls never receive the same address.
	Reserve(ctx context.Context, location string, size cluster.Sizing, count int) ([]string, error)
	// MarkUsed moves addresses to used. Unknown addresses are ignored.
	MarkUsed(ctx context.Context, addresses []string) error
}
