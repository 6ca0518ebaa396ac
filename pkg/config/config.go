// Package config loads the provisioner settings.
//
// Sources, later ones winning:
//  1. built-in defaults
//  2. an optional YAML file
//  3. a .env file in the working directory, if present
//  4. environment variables
//  5. command line flags
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
	"github.com/ahura-cloud/kube-provisioner/pkg/util"
)

const (
	DefaultQueueName     = "provision-queue"
	DefaultConsumerGroup = "provisioners"
	DefaultKubeconfigDir = "/srv/kubeconfigs"
	DefaultCalicoURL     = "https://raw.githubusercontent.com/projectcalico/calico/v3.28.0/manifests/calico.yaml"
	DefaultSandboxImage  = "registry.k8s.io/pause:3.10"
	DefaultMetricsAddr   = ":9090"
)

// Timeouts are the ceilings of the provisioning phases. Join and APICheck
// apply per worker, JoinPhase to the join phase as a whole.
type Timeouts struct {
	SSHReady   time.Duration `yaml:"ssh_ready"`
	HostPrep   time.Duration `yaml:"host_prep"`
	Bootstrap  time.Duration `yaml:"bootstrap"`
	Init       time.Duration `yaml:"init"`
	APIReady   time.Duration `yaml:"api_ready"`
	CNI        time.Duration `yaml:"cni"`
	JoinToken  time.Duration `yaml:"join_token"`
	APICheck   time.Duration `yaml:"api_check"`
	Join       time.Duration `yaml:"join"`
	JoinPhase  time.Duration `yaml:"join_phase"`
	Repair     time.Duration `yaml:"repair"`
	Kubeconfig time.Duration `yaml:"kubeconfig"`
	Label      time.Duration `yaml:"label"`
}

type Config struct {
	RedisURL          string        `yaml:"redis_url"`
	QueueName         string        `yaml:"queue_name"`
	ConsumerGroup     string        `yaml:"consumer_group"`
	ConsumerName      string        `yaml:"consumer_name"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	DatabaseURL       string        `yaml:"database_url"`

	KubeconfigDir  string `yaml:"kubeconfig_dir"`
	PodCIDR        string `yaml:"pod_cidr"`
	CNIManifestURL string `yaml:"cni_manifest_url"`
	Series         string `yaml:"k8s_series"`
	KubeadmVersion string `yaml:"k8s_version"`
	SandboxImage   string `yaml:"sandbox_image"`

	SSHPort        int           `yaml:"ssh_port"`
	SSHDialTimeout time.Duration `yaml:"ssh_dial_timeout"`

	MetricsAddr string   `yaml:"metrics_addr"`
	Timeouts    Timeouts `yaml:"timeouts"`
}

func Default() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		QueueName:         DefaultQueueName,
		ConsumerGroup:     DefaultConsumerGroup,
		ConsumerName:      hostname,
		VisibilityTimeout: 2 * time.Hour,
		KubeconfigDir:     DefaultKubeconfigDir,
		PodCIDR:           cluster.DefaultPodCIDR,
		CNIManifestURL:    DefaultCalicoURL,
		Series:            cluster.DefaultSeries,
		SandboxImage:      DefaultSandboxImage,
		SSHPort:           22,
		SSHDialTimeout:    20 * time.Second,
		MetricsAddr:       DefaultMetricsAddr,
		Timeouts: Timeouts{
			SSHReady:   5 * time.Minute,
			HostPrep:   2 * time.Minute,
			Bootstrap:  10 * time.Minute,
			Init:       10 * time.Minute,
			APIReady:   5 * time.Minute,
			CNI:        3 * time.Minute,
			JoinToken:  time.Minute,
			APICheck:   2 * time.Minute,
			Join:       5 * time.Minute,
			JoinPhase:  30 * time.Minute,
			Repair:     10 * time.Minute,
			Kubeconfig: 2 * time.Minute,
			Label:      2 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when empty), a .env file and the environment
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := util.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Series = cluster.Series(cfg.Series)
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.QueueName, "QUEUE_NAME")
	setString(&c.ConsumerGroup, "CONSUMER_GROUP")
	setString(&c.ConsumerName, "CONSUMER_NAME")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.KubeconfigDir, "KUBECONFIG_DIR")
	setString(&c.PodCIDR, "POD_CIDR")
	setString(&c.CNIManifestURL, "CALICO_URL")
	setString(&c.KubeadmVersion, "K8S_VERSION")
	setString(&c.SandboxImage, "SANDBOX_IMAGE")
	setString(&c.MetricsAddr, "METRICS_ADDR")
	// K8S_SERIES wins over the older K8S_MINOR
	if v := os.Getenv("K8S_MINOR"); v != "" {
		c.Series = cluster.Series(v)
	}
	if v := os.Getenv("K8S_SERIES"); v != "" {
		c.Series = cluster.Series(v)
	}
	if v := os.Getenv("SSH_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SSH_PORT %q: %w", v, err)
		}
		c.SSHPort = port
	}
	if v := os.Getenv("VISIBILITY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid VISIBILITY_TIMEOUT %q: %w", v, err)
		}
		c.VisibilityTimeout = d
	}
	return nil
}

// JobDefaults are the cluster settings applied to jobs that leave them out
func (c *Config) JobDefaults() cluster.Defaults {
	return cluster.Defaults{PodCIDR: c.PodCIDR}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the settings every command needs
func (c *Config) Validate() error {
	if _, _, err := net.ParseCIDR(c.PodCIDR); err != nil {
		return fmt.Errorf("invalid pod cidr %q: %w", c.PodCIDR, err)
	}
	if c.KubeconfigDir == "" {
		return errors.New("kubeconfig dir must be set")
	}
	if c.CNIManifestURL == "" {
		return errors.New("CNI manifest URL must be set")
	}
	if c.SSHPort <= 0 || c.SSHPort > 65535 {
		return fmt.Errorf("invalid ssh port %d", c.SSHPort)
	}
	t := c.Timeouts
	for name, d := range map[string]time.Duration{
		"ssh_ready": t.SSHReady, "host_prep": t.HostPrep, "bootstrap": t.Bootstrap,
		"init": t.Init, "api_ready": t.APIReady, "cni": t.CNI, "join_token": t.JoinToken,
		"api_check": t.APICheck, "join": t.Join, "join_phase": t.JoinPhase, "repair": t.Repair,
		"kubeconfig": t.Kubeconfig, "label": t.Label,
	} {
		if d <= 0 {
			return fmt.Errorf("timeout %s must be positive", name)
		}
	}
	return nil
}
