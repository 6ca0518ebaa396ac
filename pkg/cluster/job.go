package cluster

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"net"
	"strings"
)

// Payload is the wire shape of a job as it sits on the queue
type Payload struct {
	ClusterID string              `json:"clusterId"`
	Provider  string              `json:"provider,omitempty"`
	Cluster   PayloadCluster      `json:"cluster"`
	Auth      AuthCredential      `json:"auth"`
	Nodes     map[string]NodeSpec `json:"nodes"`
	Addresses []string            `json:"addresses,omitempty"`
}

type PayloadCluster struct {
	Name     string `json:"name"`
	Location string `json:"location"`
	PodCIDR  string `json:"pod_cidr,omitempty"`
	Version  string `json:"version,omitempty"`
	// K8sMinor is the older name of Version, still sent by some producers
	K8sMinor string `json:"k8s_minor,omitempty"`
}

// Defaults fill in the cluster settings a payload leaves out
type Defaults struct {
	PodCIDR string
}

// ParseJob decodes and validates a queue payload. Anything that would fail
// later in the pipeline because of its shape is rejected here, before a job exists.
func ParseJob(data []byte, d Defaults) (*Job, error) {
	p, err := DecodePayload(data)
	if err != nil {
		return nil, err
	}
	return p.Job(d)
}

// DecodePayload only decodes, rejecting unknown fields
func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, NewValidationError("malformed payload: %v", err)
	}
	return &p, nil
}

// Job converts the payload into a validated job. The pod CIDR falls back to
// d.PodCIDR, then to DefaultPodCIDR.
func (p *Payload) Job(d Defaults) (*Job, error) {
	if p.Provider != "" && p.Provider != "existing" {
		return nil, NewValidationError("provider %q is not supported", p.Provider)
	}
	version := p.Cluster.Version
	if version == "" {
		version = p.Cluster.K8sMinor
	}
	podCIDR := cmp.Or(p.Cluster.PodCIDR, d.PodCIDR, DefaultPodCIDR)
	nodes := make(map[string]NodeSpec, len(p.Nodes))
	for name, n := range p.Nodes {
		nodes[name] = n
	}
	job := &Job{
		Spec: ClusterSpec{
			ID:       p.ClusterID,
			Name:     p.Cluster.Name,
			Location: p.Cluster.Location,
			PodCIDR:  podCIDR,
			Version:  version,
			Auth:     p.Auth,
			Nodes:    nodes,
		},
		Addresses: append([]string(nil), p.Addresses...),
	}
	if err := job.resolveHosts(); err != nil {
		return nil, err
	}
	if err := job.Spec.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// resolveHosts fills in hosts that the producer left to the allocated addresses:
// the first address goes to the control plane, the rest to workers by name.
func (j *Job) resolveHosts() error {
	var missing bool
	for _, n := range j.Spec.Nodes {
		if n.Host == "" {
			missing = true
			break
		}
	}
	if !missing {
		return nil
	}
	if len(j.Addresses) < len(j.Spec.Nodes) {
		return NewValidationError("%d nodes but only %d addresses", len(j.Spec.Nodes), len(j.Addresses))
	}
	next := 1
	cp, hasCP := j.Spec.ControlPlane()
	if hasCP && cp.Host == "" {
		cp.NodeSpec.Host = j.Addresses[0]
		j.Spec.Nodes[cp.Name] = cp.NodeSpec
	}
	for _, n := range j.Spec.SortedNodes() {
		if n.Host != "" {
			continue
		}
		n.NodeSpec.Host = j.Addresses[next]
		j.Spec.Nodes[n.Name] = n.NodeSpec
		next++
	}
	return nil
}

// Validate checks the invariants of an accepted spec
func (c *ClusterSpec) Validate() error {
	if c.ID == "" {
		return NewValidationError("cluster id is required")
	}
	if len(c.Nodes) == 0 {
		return NewValidationError("no nodes provided")
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if _, _, err := net.ParseCIDR(c.PodCIDR); err != nil {
		return NewValidationError("pod cidr %q: %v", c.PodCIDR, err)
	}
	var controlPlanes int
	for name, n := range c.Nodes {
		switch n.Role {
		case RoleControlPlane:
			controlPlanes++
		case RoleWorker:
		default:
			return NewValidationError("node %s: unknown role %q", name, n.Role)
		}
		if n.Host == "" {
			return NewValidationError("node %s: host is required", name)
		}
		if strings.ContainsAny(n.Host, "@ \t\n'\"") {
			return NewValidationError("node %s: invalid host %q", name, n.Host)
		}
		if n.CPU < 0 || n.MemoryMB < 0 {
			return NewValidationError("node %s: negative sizing", name)
		}
	}
	switch {
	case controlPlanes == 0:
		return NewValidationError("no control-plane node provided")
	case controlPlanes > 1:
		return NewValidationError("%d control-plane nodes provided, exactly one is supported", controlPlanes)
	}
	return nil
}

// Validate checks the tagged union
func (a AuthCredential) Validate() error {
	if a.User == "" {
		return NewValidationError("auth user is required")
	}
	switch a.Method {
	case AuthPassword:
		if a.Password == "" {
			return NewValidationError("password auth requires a password")
		}
		if a.KeyPath != "" {
			return NewValidationError("password auth must not carry a key path")
		}
	case AuthKey:
		if a.KeyPath == "" {
			return NewValidationError("key auth requires private_key_path")
		}
		if a.Password != "" {
			return NewValidationError("key auth must not carry a password")
		}
	default:
		return NewValidationError("unknown auth method %q", a.Method)
	}
	return nil
}

// Payload converts a job back into its wire shape
func (j *Job) Payload() *Payload {
	return &Payload{
		ClusterID: j.Spec.ID,
		Provider:  "existing",
		Cluster: PayloadCluster{
			Name:     j.Spec.Name,
			Location: j.Spec.Location,
			PodCIDR:  j.Spec.PodCIDR,
			Version:  j.Spec.Version,
		},
		Auth:      j.Spec.Auth,
		Nodes:     j.Spec.Nodes,
		Addresses: j.Addresses,
	}
}

// MarshalPayload is the inverse of ParseJob
func (j *Job) MarshalPayload() ([]byte, error) {
	data, err := json.Marshal(j.Payload())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}
