package kube

import (
	"fmt"
	"time"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const requestTimeout = 15 * time.Second

// RestConfig builds a client config from raw kubeconfig data.
// If kubeconfigRaw is empty, it falls back to the default loading rules and in-cluster config.
func RestConfig(kubeconfigRaw []byte) (*rest.Config, error) {
	if len(kubeconfigRaw) > 0 {
		configAPI, err := clientcmd.Load(kubeconfigRaw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse kubeconfig: %w", err)
		}
		clientConfig := clientcmd.NewDefaultClientConfig(*configAPI, &clientcmd.ConfigOverrides{})
		config, err := clientConfig.ClientConfig()
		if err != nil {
			return nil, err
		}
		config.Timeout = requestTimeout
		return config, nil
	}

	kubeconfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		clientcmd.NewDefaultClientConfigLoadingRules(),
		&clientcmd.ConfigOverrides{},
	)
	config, err := kubeconfig.ClientConfig()
	if err == nil {
		return config, nil
	}
	return rest.InClusterConfig()
}

// NewClientset returns a clientset for the cluster described by kubeconfigRaw
func NewClientset(kubeconfigRaw []byte) (kubernetes.Interface, error) {
	config, err := RestConfig(kubeconfigRaw)
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("unable to get Kubernetes clientset: %w", err)
	}
	return clientset, nil
}
