// Package bootstrap turns a validated cluster spec into a running kubeadm
// cluster by running shell scripts on its nodes over SSH.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/siderolabs/go-retry/retry"
	log "github.com/sirupsen/logrus"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
	"github.com/ahura-cloud/kube-provisioner/pkg/config"
	"github.com/ahura-cloud/kube-provisioner/pkg/inventory"
	"github.com/ahura-cloud/kube-provisioner/pkg/kube"
	logpkg "github.com/ahura-cloud/kube-provisioner/pkg/log"
	"github.com/ahura-cloud/kube-provisioner/pkg/metrics"
	"github.com/ahura-cloud/kube-provisioner/pkg/remote"
	"github.com/ahura-cloud/kube-provisioner/pkg/status"
)

const (
	defaultPollInterval = 5 * time.Second
	attemptLimit        = 30 * time.Second
	reportTimeout       = 10 * time.Second
)

// Result is what a successful run hands back to the caller
type Result struct {
	KubeconfigPath string
	ControlPlane   string
	Nodes          map[string]cluster.NodeSpec
	// Warnings collects everything that went wrong without failing the job
	Warnings []string
}

type Orchestrator struct {
	logger    *log.Entry
	executor  remote.Executor
	prober    remote.Prober
	reporter  status.Reporter
	allocator inventory.Allocator
	labeler   kube.Labeler
	metrics   *metrics.Metrics
	cfg       *config.Config

	pollInterval time.Duration
}

// New creates an Orchestrator. labeler and allocator may be nil, in which case
// node labeling and inventory release are skipped.
func New(logger *log.Entry, executor remote.Executor, prober remote.Prober, reporter status.Reporter, allocator inventory.Allocator, labeler kube.Labeler, m *metrics.Metrics, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		logger:       logger.WithField("component", "orchestrator"),
		executor:     executor,
		prober:       prober,
		reporter:     reporter,
		allocator:    allocator,
		labeler:      labeler,
		metrics:      m,
		cfg:          cfg,
		pollInterval: defaultPollInterval,
	}
}

// step is one phase of the pipeline. A zero timeout means the phase enforces
// its own ceilings per operation.
type step struct {
	name    string
	timeout time.Duration
	fn      func(ctx context.Context) error
}

// Run provisions the cluster described by job. Any failing phase aborts the
// run; whatever was already done on the hosts is left in place.
func (o *Orchestrator) Run(ctx context.Context, job *cluster.Job) (res *Result, err error) {
	if err := job.Spec.Validate(); err != nil {
		return nil, err
	}
	cp, _ := job.Spec.ControlPlane()

	o.metrics.JobStarted()
	start := time.Now()
	defer func() {
		o.metrics.JobFinished()
		o.metrics.RecordJob(time.Since(start), err)
	}()

	// the configured pin only applies to jobs that do not ask for a version,
	// otherwise init would not match the packages of the requested series
	version, pin := job.Spec.Version, ""
	if version == "" {
		version, pin = o.cfg.Series, o.cfg.KubeadmVersion
	}
	r := &run{
		Orchestrator:   o,
		logger:         logpkg.ForJob(o.logger, job.Spec.ID, job.Spec.Name),
		job:            job,
		spec:           &job.Spec,
		cred:           job.Spec.Auth,
		controlPlane:   cp,
		workers:        job.Spec.Workers(),
		nodes:          job.Spec.SortedNodes(),
		series:         cluster.Series(version),
		kubeadmVersion: cluster.KubeadmVersion(version, pin),
		result: &Result{
			ControlPlane: cp.Host,
			Nodes:        maps.Clone(job.Spec.Nodes),
		},
	}

	if _, err := o.reporter.Create(ctx, job.Spec.ID, job.Spec.Name, job.Spec.Nodes); err != nil {
		r.logger.Warn(&cluster.PersistenceError{ClusterID: job.Spec.ID, Err: err})
	}

	t := o.cfg.Timeouts
	steps := []step{
		{name: "ssh", fn: r.waitForSSH},
		{name: "identify", timeout: t.HostPrep, fn: r.identify},
		{name: "bootstrap", timeout: t.Bootstrap, fn: r.bootstrap},
		{name: "init", timeout: t.Init, fn: r.initControlPlane},
		{name: "api-ready", timeout: t.APIReady, fn: r.waitForAPI},
		{name: "cni", timeout: t.CNI, fn: r.applyCNI},
		{name: "join", timeout: t.JoinPhase, fn: r.join},
		{name: "repair", timeout: t.Repair, fn: r.repair},
		{name: "kubeconfig", timeout: t.Kubeconfig, fn: r.fetchKubeconfig},
		{name: "label", timeout: t.Label, fn: r.label},
		{name: "release", fn: r.release},
	}

	r.logger.Infof("provisioning %d nodes, control plane %s, kubernetes %s", len(r.nodes), cp.Host, r.kubeadmVersion)
	for _, s := range steps {
		if err := r.runStep(ctx, s); err != nil {
			r.logger.WithField("phase", s.name).Errorf("provisioning failed: %v", err)
			return nil, err
		}
	}
	r.logger.Infof("cluster ready, kubeconfig at %s", r.result.KubeconfigPath)
	return r.result, nil
}

// run is the state of a single job while it moves through the phases
type run struct {
	*Orchestrator
	logger *log.Entry

	job            *cluster.Job
	spec           *cluster.ClusterSpec
	cred           cluster.AuthCredential
	controlPlane   cluster.Node
	workers        []cluster.Node
	nodes          []cluster.Node
	series         string
	kubeadmVersion string
	joinCommand    string

	result *Result
}

func (r *run) runStep(ctx context.Context, s step) error {
	logger := r.logger.WithField("phase", s.name)
	logger.Debug("phase started")
	start := time.Now()

	stepCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	err := s.fn(stepCtx)
	if err != nil && s.timeout > 0 && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", &cluster.TimeoutError{Op: s.name, Timeout: s.timeout}, err)
	}
	r.metrics.RecordPhase(s.name, time.Since(start), err)
	if err != nil {
		return err
	}
	logger.Infof("phase done in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

// report records progress. Failing to do so never fails the job. The write
// gets its own deadline, a phase that used up its ceiling still gets recorded.
func (r *run) report(ctx context.Context, phase cluster.Phase, st cluster.Status) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if _, err := r.reporter.UpdatePhase(ctx, r.spec.ID, phase, true, st); err != nil {
		r.logger.Warn(&cluster.PersistenceError{ClusterID: r.spec.ID, Err: err})
	}
}

func (r *run) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.logger.Warn(msg)
	r.result.Warnings = append(r.result.Warnings, msg)
}

func (r *run) exec(ctx context.Context, node cluster.Node, script string, timeout time.Duration) (remote.Result, error) {
	r.logger.WithField("host", node.Host).Tracef("executing on %s", node.Name)
	return r.executor.Execute(ctx, node.Host, r.cred, script, timeout)
}

// poll runs fn every pollInterval until it succeeds or timeout runs out.
// The last error of fn is returned on exhaustion.
func (r *run) poll(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	var last error
	err := retry.Constant(timeout, retry.WithUnits(r.pollInterval)).RetryWithContext(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			last = err
			return retry.ExpectedError(err)
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if last == nil {
		last = err
	}
	return last
}

// waitForReadyz polls the API server health endpoint from the control plane itself
func (r *run) waitForReadyz(ctx context.Context, timeout time.Duration, op string) error {
	attempt := min(timeout, attemptLimit)
	err := r.poll(ctx, timeout, func(ctx context.Context) error {
		res, err := r.exec(ctx, r.controlPlane, readyzScript(), attempt)
		if err != nil {
			return err
		}
		r.logger.Tracef("readyz: %s", res.Stdout)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", &cluster.TimeoutError{Op: op, Timeout: timeout}, err)
	}
	return nil
}
