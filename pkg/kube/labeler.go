package kube

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
)

const (
	LabelCluster = "ahura.cloud/cluster"
	LabelRegion  = "topology.kubernetes.io/region"
)

// Labeler applies labels to every node of a freshly built cluster
type Labeler interface {
	LabelNodes(ctx context.Context, kubeconfig []byte, labels map[string]string) (*NodeSummary, error)
}

// NodeSummary is what the API server reported while labeling
type NodeSummary struct {
	Labeled []string
	Ready   int
}

type NodeLabeler struct {
	logger    *log.Entry
	clientset func(kubeconfig []byte) (kubernetes.Interface, error)
	alive     func(ctx context.Context, url string) bool
}

func NewNodeLabeler(logger *log.Entry) *NodeLabeler {
	return &NodeLabeler{
		logger:    logger.WithField("component", "kube"),
		clientset: NewClientset,
		alive:     IsAPIServerAlive,
	}
}

func (l *NodeLabeler) LabelNodes(ctx context.Context, kubeconfig []byte, labels map[string]string) (*NodeSummary, error) {
	config, err := RestConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	if !l.alive(ctx, config.Host) {
		return nil, fmt.Errorf("API server %s is not reachable", config.Host)
	}
	clientset, err := l.clientset(kubeconfig)
	if err != nil {
		return nil, err
	}

	nodes, err := clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	patch, err := json.Marshal(map[string]any{
		"metadata": map[string]any{"labels": labels},
	})
	if err != nil {
		return nil, err
	}

	summary := &NodeSummary{}
	for i := range nodes.Items {
		node := &nodes.Items[i]
		if _, err := clientset.CoreV1().Nodes().Patch(ctx, node.Name, types.MergePatchType, patch, metav1.PatchOptions{}); err != nil {
			return summary, fmt.Errorf("failed to label node %s: %w", node.Name, err)
		}
		summary.Labeled = append(summary.Labeled, node.Name)
		if isNodeReady(node) {
			summary.Ready++
		}
	}
	l.logger.Debugf("labeled %d nodes, %d ready", len(summary.Labeled), summary.Ready)
	return summary, nil
}

func isNodeReady(node *corev1.Node) bool {
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
