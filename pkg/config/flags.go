package config

import (
	"github.com/spf13/pflag"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
)

// Flags holds command line overrides. Only flags the user actually set are
// applied on top of the loaded configuration.
type Flags struct {
	fs             *pflag.FlagSet
	redisURL       string
	queueName      string
	databaseURL    string
	kubeconfigDir  string
	podCIDR        string
	cniManifestURL string
	series         string
	kubeadmVersion string
	sshPort        int
	metricsAddr    string
}

// AddFlags registers the shared overrides on fs
func AddFlags(fs *pflag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs}
	fs.StringVar(&f.redisURL, "redis-url", d.RedisURL, "Redis URL of the job queue")
	fs.StringVar(&f.queueName, "queue", d.QueueName, "name of the job stream")
	fs.StringVar(&f.databaseURL, "database-url", d.DatabaseURL, "PostgreSQL URL for status and inventory; empty keeps them in memory")
	fs.StringVar(&f.kubeconfigDir, "kubeconfig-dir", d.KubeconfigDir, "directory where cluster kubeconfigs are written")
	fs.StringVar(&f.podCIDR, "pod-cidr", d.PodCIDR, "default pod network CIDR")
	fs.StringVar(&f.cniManifestURL, "cni-manifest-url", d.CNIManifestURL, "CNI manifest applied to new clusters")
	fs.StringVar(&f.series, "k8s-series", d.Series, "default Kubernetes minor series, such as v1.31")
	fs.StringVar(&f.kubeadmVersion, "k8s-version", d.KubeadmVersion, "pin for kubeadm --kubernetes-version, such as v1.31.1 or stable-1.31")
	fs.IntVar(&f.sshPort, "ssh-port", d.SSHPort, "SSH port of the nodes")
	fs.StringVar(&f.metricsAddr, "metrics-addr", d.MetricsAddr, "address for /metrics and /healthz; empty disables it")
	return f
}

// Apply copies the flags that were set onto c
func (f *Flags) Apply(c *Config) {
	set := func(name string, dst *string, v string) {
		if f.fs.Changed(name) {
			*dst = v
		}
	}
	set("redis-url", &c.RedisURL, f.redisURL)
	set("queue", &c.QueueName, f.queueName)
	set("database-url", &c.DatabaseURL, f.databaseURL)
	set("kubeconfig-dir", &c.KubeconfigDir, f.kubeconfigDir)
	set("pod-cidr", &c.PodCIDR, f.podCIDR)
	set("cni-manifest-url", &c.CNIManifestURL, f.cniManifestURL)
	set("k8s-version", &c.KubeadmVersion, f.kubeadmVersion)
	set("metrics-addr", &c.MetricsAddr, f.metricsAddr)
	if f.fs.Changed("k8s-series") {
		c.Series = cluster.Series(f.series)
	}
	if f.fs.Changed("ssh-port") {
		c.SSHPort = f.sshPort
	}
}
