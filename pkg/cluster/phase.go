package cluster

import "fmt"

// Phase is one of the externally visible progress markers of a job
type Phase string

const (
	PhaseCreate  Phase = "create"
	PhaseConnect Phase = "connect"
	PhaseVerify  Phase = "verify"
)

func ParsePhase(s string) (Phase, error) {
	switch p := Phase(s); p {
	case PhaseCreate, PhaseConnect, PhaseVerify:
		return p, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusCreating Status = "creating"
	StatusReady    Status = "ready"
	StatusFailed   Status = "failed"
	StatusDeleted  Status = "deleted"
)

// StatusOrder is the forward order of the statuses the provisioner moves through
var StatusOrder = []Status{StatusPending, StatusCreating, StatusReady}

func (s Status) rank() int {
	for i, o := range StatusOrder {
		if o == s {
			return i
		}
	}
	return -1
}

// Advance returns the status that results from moving from s to next.
// The ordered statuses only move forward; failed and deleted are set by
// other systems and are kept as they are.
func (s Status) Advance(next Status) Status {
	if next == "" {
		return s
	}
	cur, nxt := s.rank(), next.rank()
	if cur < 0 && s != "" {
		return s
	}
	if nxt < 0 {
		return next
	}
	if nxt < cur {
		return s
	}
	return next
}

// PhaseStatus is the progress record of a cluster as seen by pollers
type PhaseStatus struct {
	Create  bool   `json:"createStatus"`
	Connect bool   `json:"connectStatus"`
	Verify  bool   `json:"verifyStatus"`
	Status  Status `json:"status"`
}

// Set marks a phase. A flag that is already true stays true.
func (p *PhaseStatus) Set(phase Phase, value bool) {
	switch phase {
	case PhaseCreate:
		p.Create = p.Create || value
	case PhaseConnect:
		p.Connect = p.Connect || value
	case PhaseVerify:
		p.Verify = p.Verify || value
	}
}

// Merge folds a newer observation into p. Polling clients use it so that a
// flag they have seen once never flips back on a stale read.
func (p PhaseStatus) Merge(o PhaseStatus) PhaseStatus {
	return PhaseStatus{
		Create:  p.Create || o.Create,
		Connect: p.Connect || o.Connect,
		Verify:  p.Verify || o.Verify,
		Status:  p.Status.Advance(o.Status),
	}
}

// Done reports whether every phase has been reached
func (p PhaseStatus) Done() bool {
	return p.Create && p.Connect && p.Verify && p.Status == StatusReady
}
