package cluster

import (
	"net"
	"sort"
	"strings"
)

// Role of a node within the cluster
type Role string

const (
	RoleControlPlane Role = "control-plane"
	RoleWorker       Role = "worker"
)

// AuthMethod selects how we log in to every node of a cluster
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"
)

// AuthCredential is the login used for every remote command of a job.
// Password is only set for AuthPassword, KeyPath only for AuthKey.
type AuthCredential struct {
	Method   AuthMethod `json:"method"`
	User     string     `json:"user"`
	Password string     `json:"password,omitempty"`
	KeyPath  string     `json:"private_key_path,omitempty"`
}

// IsRoot reports whether commands already run with full privileges
func (a AuthCredential) IsRoot() bool {
	return a.User == "root"
}

// String never includes the secret
func (a AuthCredential) String() string {
	return string(a.Method) + ":" + a.User
}

// NodeSpec describes one already-provisioned machine
type NodeSpec struct {
	Host     string `json:"host"`
	Role     Role   `json:"role"`
	Hostname string `json:"hostname,omitempty"`
	// CPU and MemoryMB are the declared minimums, only used for a sizing warning
	CPU      int `json:"cpu,omitempty"`
	MemoryMB int `json:"memory_mb,omitempty"`
}

// ClusterSpec is the accepted, immutable description of a cluster
type ClusterSpec struct {
	ID       string              `json:"clusterId"`
	Name     string              `json:"name"`
	Location string              `json:"location"`
	PodCIDR  string              `json:"pod_cidr"`
	Version  string              `json:"version"`
	Auth     AuthCredential      `json:"auth"`
	Nodes    map[string]NodeSpec `json:"nodes"`
}

// Node is a NodeSpec together with its logical name
type Node struct {
	Name string
	NodeSpec
}

// Address is the host of the node without the SSH port it may carry
func (n Node) Address() string {
	if h, _, err := net.SplitHostPort(n.Host); err == nil {
		return h
	}
	return strings.Trim(n.Host, "[]")
}

// ControlPlane returns the control plane node. When several nodes claim the role,
// the one with the lowest name wins so that the choice is deterministic.
func (c *ClusterSpec) ControlPlane() (Node, bool) {
	for _, n := range c.SortedNodes() {
		if n.Role == RoleControlPlane {
			return n, true
		}
	}
	return Node{}, false
}

// Workers returns the worker nodes sorted by name
func (c *ClusterSpec) Workers() []Node {
	var workers []Node
	for _, n := range c.SortedNodes() {
		if n.Role == RoleWorker {
			workers = append(workers, n)
		}
	}
	return workers
}

// SortedNodes returns all nodes ordered by logical name
func (c *ClusterSpec) SortedNodes() []Node {
	names := make([]string, 0, len(c.Nodes))
	for name := range c.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	nodes := make([]Node, 0, len(names))
	for _, name := range names {
		nodes = append(nodes, Node{Name: name, NodeSpec: c.Nodes[name]})
	}
	return nodes
}

// Hosts returns the addresses of all nodes, control plane first
func (c *ClusterSpec) Hosts() []string {
	cp, hasCP := c.ControlPlane()
	var hosts []string
	if hasCP {
		hosts = append(hosts, cp.Host)
	}
	for _, n := range c.SortedNodes() {
		if hasCP && n.Name == cp.Name {
			continue
		}
		hosts = append(hosts, n.Host)
	}
	return hosts
}

// Job is the runtime wrapper around a spec as it comes off the queue.
// It is never persisted.
type Job struct {
	Spec ClusterSpec
	// Addresses allocated for this job, the first one is the control plane
	Addresses []string
}

// UsedAddresses are the addresses to hand back to the inventory once the job is done
func (j *Job) UsedAddresses() []string {
	if len(j.Addresses) > 0 {
		return j.Addresses
	}
	return j.Spec.Hosts()
}

// Sizing is the hardware profile used to pick machines from the inventory
type Sizing struct {
	CPU       int `json:"cpu"`
	MemoryMB  int `json:"ram"`
	StorageGB int `json:"storage"`
}
