package kube

import (
	"fmt"
	"net"
	"net/url"

	"k8s.io/client-go/tools/clientcmd"
)

// RewriteServer points every cluster entry of a kubeconfig at host, keeping
// scheme and port. kubeadm writes the address the API server advertises,
// which is often a private address we cannot reach.
func RewriteServer(kubeconfigRaw []byte, host string) ([]byte, error) {
	config, err := clientcmd.Load(kubeconfigRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse kubeconfig: %w", err)
	}
	for name, c := range config.Clusters {
		u, err := url.Parse(c.Server)
		if err != nil {
			return nil, fmt.Errorf("cluster %s: invalid server %q: %w", name, c.Server, err)
		}
		port := u.Port()
		if port == "" {
			port = "6443"
		}
		u.Host = net.JoinHostPort(host, port)
		c.Server = u.String()
		// the serving certificate does not necessarily carry host as a SAN
		if c.TLSServerName == "" {
			c.TLSServerName = "kubernetes"
		}
	}
	return clientcmd.Write(*config)
}
