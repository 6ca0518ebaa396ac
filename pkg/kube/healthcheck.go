package kube

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"
)

// IsAPIServerAlive checks if the API server answers on its /healthz endpoint.
// An unauthorized answer still means the server is up.
func IsAPIServerAlive(ctx context.Context, apiServerURL string) bool {
	client := &http.Client{
		Timeout: 3 * time.Second,
		// Kubernetes API server uses self-signed certs by default
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiServerURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}
