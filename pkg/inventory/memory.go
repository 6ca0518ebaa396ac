package inventory

import (
	"context"
	"sort"
	"sync"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
)

// MemoryAllocator keeps the inventory in process
type MemoryAllocator struct {
	mu       sync.Mutex
	machines map[string]*Machine
}

func NewMemoryAllocator(machines ...Machine) *MemoryAllocator {
	a := &MemoryAllocator{machines: map[string]*Machine{}}
	for _, m := range machines {
		if m.State == "" {
			m.State = StateFree
		}
		a.machines[m.Address] = &m
	}
	return a
}

func (a *MemoryAllocator) Reserve(ctx context.Context, location string, size cluster.Sizing, count int) ([]string, error) {
	if count <= 0 {
		return nil, cluster.NewValidationError("machine count must be positive, got %d", count)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var free []string
	for addr, m := range a.machines {
		if m.Fits(location, size) {
			free = append(free, addr)
		}
	}
	if len(free) < count {
		return nil, &cluster.ResourceInsufficientError{Location: location, Requested: count, Available: len(free)}
	}
	sort.Strings(free)
	free = free[:count]
	for _, addr := range free {
		a.machines[addr].State = StateReserved
	}
	return free, nil
}

func (a *MemoryAllocator) MarkUsed(ctx context.Context, addresses []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, addr := range addresses {
		if m, ok := a.machines[addr]; ok {
			m.State = StateUsed
		}
	}
	return nil
}

// State returns the state of addr, or "" when it is not in the inventory
func (a *MemoryAllocator) State(addr string) State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if m, ok := a.machines[addr]; ok {
		return m.State
	}
	return ""
}
