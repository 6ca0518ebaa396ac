package cluster

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultSeries  = "v1.31"
	DefaultPodCIDR = "10.244.0.0/16"
)

var (
	seriesRegexp = regexp.MustCompile(`^v\d+\.\d+`)
	patchRegexp  = regexp.MustCompile(`^v?\d+\.\d+\.\d+$`)
)

// Series normalizes a version such as "1.31", "v1.31.2" or "1.31.2" to its
// minor series "v1.31", which is what the package repository is keyed on.
// Anything unparseable falls back to DefaultSeries.
func Series(version string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		return DefaultSeries
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	m := seriesRegexp.FindString(v)
	if m == "" {
		return DefaultSeries
	}
	return m
}

// KubeadmVersion is the value passed to `kubeadm init --kubernetes-version`.
// A pin such as "v1.31.1" or "stable-1.31" wins, then a version that already
// names a patch release, otherwise we take the latest patch of the series.
func KubeadmVersion(version, pin string) string {
	if pin != "" {
		return pin
	}
	v := strings.TrimSpace(version)
	if patchRegexp.MatchString(v) {
		return "v" + strings.TrimPrefix(v, "v")
	}
	return fmt.Sprintf("stable-%s", strings.TrimPrefix(Series(v), "v"))
}

// NodeKeys returns the logical node names for a cluster with one control plane
// and the given number of workers: cp-1, wp-1 ... wp-n
func NodeKeys(workers int) []string {
	if workers < 0 {
		workers = 0
	}
	keys := []string{"cp-1"}
	for i := 1; i <= workers; i++ {
		keys = append(keys, fmt.Sprintf("wp-%d", i))
	}
	return keys
}
