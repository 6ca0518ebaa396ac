package bootstrap

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
	"github.com/ahura-cloud/kube-provisioner/pkg/config"
	"github.com/ahura-cloud/kube-provisioner/pkg/inventory"
	"github.com/ahura-cloud/kube-provisioner/pkg/kube"
	"github.com/ahura-cloud/kube-provisioner/pkg/metrics"
	"github.com/ahura-cloud/kube-provisioner/pkg/remote"
	"github.com/ahura-cloud/kube-provisioner/pkg/status"
	"github.com/ahura-cloud/kube-provisioner/pkg/util"
)

const testKubeconfig = `apiVersion: v1
kind: Config
clusters:
- name: kubernetes
  cluster:
    server: https://10.0.0.1:6443
    insecure-skip-tls-verify: true
contexts:
- name: kubernetes-admin@kubernetes
  context:
    cluster: kubernetes
    user: kubernetes-admin
current-context: kubernetes-admin@kubernetes
users:
- name: kubernetes-admin
  user:
    token: abc
`

const testJoinCommand = "kubeadm join 10.0.0.1:6443 --token abc.def --discovery-token-ca-cert-hash sha256:123"

func testLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

// kind names the step a script belongs to
func kind(script string) string {
	switch {
	case strings.Contains(script, "swapoff"):
		return "bootstrap"
	case strings.Contains(script, "kubeadm init"):
		return "init"
	case strings.Contains(script, "--raw=/readyz"):
		return "readyz"
	case strings.Contains(script, "taint nodes"):
		return "untaint"
	case strings.Contains(script, "apply -f"):
		return "cni"
	case strings.Contains(script, "token create"):
		return "token"
	case strings.Contains(script, "/dev/tcp/"):
		return "apicheck"
	case strings.Contains(script, "kubeadm join"):
		return "join"
	case strings.Contains(script, "restart kubelet"):
		return "repair"
	case strings.Contains(script, "images pull"):
		return "pull"
	case strings.Contains(script, "hostnamectl"):
		return "hostname"
	case strings.Contains(script, "nproc"):
		return "sizing"
	}
	return "unknown"
}

type call struct {
	Host   string
	Kind   string
	Script string
}

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []call
	copies  []string
	handler func(ctx context.Context, host, kind string) (remote.Result, error)

	inFlight    map[string]int
	maxInFlight map[string]int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{inFlight: map[string]int{}, maxInFlight: map[string]int{}}
}

func (f *fakeExecutor) Execute(ctx context.Context, host string, cred cluster.AuthCredential, script string, timeout time.Duration) (remote.Result, error) {
	k := kind(script)
	f.mu.Lock()
	f.calls = append(f.calls, call{Host: host, Kind: k, Script: script})
	f.inFlight[k]++
	f.maxInFlight[k] = max(f.maxInFlight[k], f.inFlight[k])
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight[k]--
		f.mu.Unlock()
	}()

	if f.handler != nil {
		if res, err := f.handler(ctx, host, k); res.Stdout != "" || err != nil {
			return res, err
		}
	}
	switch k {
	case "token":
		return remote.Result{Stdout: testJoinCommand + "\n"}, nil
	case "sizing":
		return remote.Result{Stdout: "4 7961\n"}, nil
	case "readyz":
		return remote.Result{Stdout: "ok"}, nil
	}
	return remote.Result{}, nil
}

func (f *fakeExecutor) CopyFile(ctx context.Context, host string, cred cluster.AuthCredential, remotePath, localPath string, timeout time.Duration) error {
	f.mu.Lock()
	f.copies = append(f.copies, host+":"+remotePath)
	f.mu.Unlock()
	return util.SavePrivateFile(localPath, []byte(testKubeconfig), true)
}

func (f *fakeExecutor) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// hostsOf returns the hosts of every call of kind k, in call order
func (f *fakeExecutor) hostsOf(k string) []string {
	var hosts []string
	for _, c := range f.Calls() {
		if c.Kind == k {
			hosts = append(hosts, c.Host)
		}
	}
	return hosts
}

func (f *fakeExecutor) scriptsOf(k string) []string {
	var scripts []string
	for _, c := range f.Calls() {
		if c.Kind == k {
			scripts = append(scripts, c.Script)
		}
	}
	return scripts
}

// firstIndex and lastIndex give the position of the first and last call of kind k
func (f *fakeExecutor) firstIndex(k string) int {
	for i, c := range f.Calls() {
		if c.Kind == k {
			return i
		}
	}
	return -1
}

func (f *fakeExecutor) lastIndex(k string) int {
	idx := -1
	for i, c := range f.Calls() {
		if c.Kind == k {
			idx = i
		}
	}
	return idx
}

type fakeProber struct {
	mu    sync.Mutex
	hosts []string
	err   error
}

func (p *fakeProber) WaitUntilReady(ctx context.Context, host string, cred cluster.AuthCredential, timeout time.Duration) error {
	p.mu.Lock()
	p.hosts = append(p.hosts, host)
	p.mu.Unlock()
	return p.err
}

// recordingReporter keeps every status the reporter returned
type recordingReporter struct {
	*status.MemoryReporter
	mu      sync.Mutex
	history []cluster.PhaseStatus
}

func (r *recordingReporter) UpdatePhase(ctx context.Context, clusterID string, phase cluster.Phase, value bool, st cluster.Status) (*status.Record, error) {
	rec, err := r.MemoryReporter.UpdatePhase(ctx, clusterID, phase, value, st)
	if err == nil {
		r.mu.Lock()
		r.history = append(r.history, rec.PhaseStatus)
		r.mu.Unlock()
	}
	return rec, err
}

type failingReporter struct{}

func (failingReporter) Create(ctx context.Context, clusterID, name string, nodes map[string]cluster.NodeSpec) (*status.Record, error) {
	return nil, errors.New("database down")
}

func (failingReporter) UpdatePhase(ctx context.Context, clusterID string, phase cluster.Phase, value bool, st cluster.Status) (*status.Record, error) {
	return nil, errors.New("database down")
}

func (failingReporter) Read(ctx context.Context, clusterID string) (*cluster.PhaseStatus, error) {
	return nil, errors.New("database down")
}

// deadlineReporter fails like a database client would on an expired context
type deadlineReporter struct {
	*recordingReporter
}

func (r deadlineReporter) UpdatePhase(ctx context.Context, clusterID string, phase cluster.Phase, value bool, st cluster.Status) (*status.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.recordingReporter.UpdatePhase(ctx, clusterID, phase, value, st)
}

type fakeLabeler struct {
	labels     map[string]string
	kubeconfig []byte
	err        error
	ready      int
}

func (l *fakeLabeler) LabelNodes(ctx context.Context, kubeconfig []byte, labels map[string]string) (*kube.NodeSummary, error) {
	l.kubeconfig = kubeconfig
	l.labels = labels
	if l.err != nil {
		return nil, l.err
	}
	return &kube.NodeSummary{Ready: l.ready}, nil
}

type fixture struct {
	executor  *fakeExecutor
	prober    *fakeProber
	reporter  *recordingReporter
	allocator *inventory.MemoryAllocator
	labeler   *fakeLabeler
	metrics   *metrics.Metrics
	cfg       *config.Config
}

func newFixture(t *testing.T) *fixture {
	cfg := config.Default()
	cfg.KubeconfigDir = t.TempDir()
	return &fixture{
		executor: newFakeExecutor(),
		prober:   &fakeProber{},
		reporter: &recordingReporter{MemoryReporter: status.NewMemoryReporter()},
		allocator: inventory.NewMemoryAllocator(
			inventory.Machine{Address: "10.0.0.1", Location: "fra", CPU: 4, MemoryMB: 8192, StorageGB: 80, State: inventory.StateReserved},
			inventory.Machine{Address: "10.0.0.2", Location: "fra", CPU: 4, MemoryMB: 8192, StorageGB: 80, State: inventory.StateReserved},
			inventory.Machine{Address: "10.0.0.3", Location: "fra", CPU: 4, MemoryMB: 8192, StorageGB: 80, State: inventory.StateReserved},
		),
		labeler: &fakeLabeler{ready: 3},
		metrics: metrics.New(prometheus.NewRegistry()),
		cfg:     cfg,
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	o := New(testLogger(), f.executor, f.prober, f.reporter, f.allocator, f.labeler, f.metrics, f.cfg)
	o.pollInterval = time.Millisecond
	return o
}

func testJob(workers ...string) *cluster.Job {
	nodes := map[string]cluster.NodeSpec{
		"cp-1": {Host: "10.0.0.1", Role: cluster.RoleControlPlane},
	}
	addresses := []string{"10.0.0.1"}
	for i, name := range workers {
		host := "10.0.0." + string(rune('2'+i))
		nodes[name] = cluster.NodeSpec{Host: host, Role: cluster.RoleWorker}
		addresses = append(addresses, host)
	}
	return &cluster.Job{
		Spec: cluster.ClusterSpec{
			ID:       "c-42",
			Name:     "demo",
			Location: "fra",
			PodCIDR:  "10.244.0.0/16",
			Version:  "1.31",
			Auth:     cluster.AuthCredential{Method: cluster.AuthPassword, User: "ubuntu", Password: "secret"},
			Nodes:    nodes,
		},
		Addresses: addresses,
	}
}

func TestRunControlPlaneWithTwoWorkers(t *testing.T) {
	f := newFixture(t)
	res, err := f.orchestrator().Run(context.Background(), testJob("wp-1", "wp-2"))
	require.NoError(t, err)

	path := KubeconfigPath(f.cfg.KubeconfigDir, "c-42")
	assert.Equal(t, path, res.KubeconfigPath)
	assert.Equal(t, "10.0.0.1", res.ControlPlane)
	assert.Len(t, res.Nodes, 3)
	assert.Empty(t, res.Warnings)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// phases run in order
	e := f.executor
	order := []int{
		e.lastIndex("bootstrap"), e.firstIndex("init"), e.firstIndex("readyz"), e.firstIndex("cni"),
		e.firstIndex("token"), e.firstIndex("apicheck"), e.lastIndex("join"),
		e.firstIndex("repair"), e.firstIndex("pull"),
	}
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1], order[i], "phase %d out of order", i)
	}
	assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, e.hostsOf("bootstrap"))
	assert.Equal(t, []string{"10.0.0.1"}, e.hostsOf("init"))
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, e.hostsOf("join"))
	assert.Empty(t, e.hostsOf("untaint"))
	assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, e.hostsOf("repair"))
	assert.Equal(t, []string{"10.0.0.1:/etc/kubernetes/admin.conf"}, e.copies)
	assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, f.prober.hosts)

	st, err := f.reporter.Read(context.Background(), "c-42")
	require.NoError(t, err)
	want := cluster.PhaseStatus{Create: true, Connect: true, Verify: true, Status: cluster.StatusReady}
	if diff := cmp.Diff(want, *st); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	for _, addr := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		assert.Equal(t, inventory.StateUsed, f.allocator.State(addr))
	}
	assert.Equal(t, map[string]string{kube.LabelCluster: "demo", kube.LabelRegion: "fra"}, f.labeler.labels)
	assert.Contains(t, string(f.labeler.kubeconfig), "https://10.0.0.1:6443")

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.JobsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.JobsInFlight))
}

func TestRunFlagsAreMonotonic(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator().Run(context.Background(), testJob("wp-1", "wp-2"))
	require.NoError(t, err)

	require.NotEmpty(t, f.reporter.history)
	flips := map[string]int{}
	prev := cluster.PhaseStatus{}
	for _, st := range f.reporter.history {
		for name, pair := range map[string][2]bool{
			"create":  {prev.Create, st.Create},
			"connect": {prev.Connect, st.Connect},
			"verify":  {prev.Verify, st.Verify},
		} {
			assert.False(t, pair[0] && !pair[1], "%s went back to false", name)
			if !pair[0] && pair[1] {
				flips[name]++
			}
		}
		prev = st
	}
	assert.Equal(t, map[string]int{"create": 1, "connect": 1, "verify": 1}, flips)
}

func TestRunSingleNode(t *testing.T) {
	f := newFixture(t)
	res, err := f.orchestrator().Run(context.Background(), testJob())
	require.NoError(t, err)
	assert.FileExists(t, res.KubeconfigPath)

	assert.Equal(t, []string{"10.0.0.1"}, f.executor.hostsOf("untaint"))
	assert.Empty(t, f.executor.hostsOf("token"))
	assert.Empty(t, f.executor.hostsOf("join"))
	assert.Equal(t, inventory.StateUsed, f.allocator.State("10.0.0.1"))
	assert.Equal(t, inventory.StateReserved, f.allocator.State("10.0.0.2"))
}

func TestRunWorkerCannotReachAPI(t *testing.T) {
	f := newFixture(t)
	f.cfg.Timeouts.APICheck = 50 * time.Millisecond
	f.executor.handler = func(ctx context.Context, host, k string) (remote.Result, error) {
		if k == "apicheck" && host == "10.0.0.3" {
			return remote.Result{}, &cluster.RemoteCommandError{Host: host, ExitStatus: 124}
		}
		return remote.Result{}, nil
	}

	_, err := f.orchestrator().Run(context.Background(), testJob("wp-1", "wp-2"))
	require.Error(t, err)
	var connErr *cluster.ConnectivityError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "10.0.0.3", connErr.Host)

	// wp-1 joined before wp-2 failed its check, wp-2 never joined
	assert.Equal(t, []string{"10.0.0.2"}, f.executor.hostsOf("join"))
	assert.Greater(t, len(f.executor.hostsOf("apicheck")), 2)
	assert.Empty(t, f.executor.hostsOf("repair"))

	st, err := f.reporter.Read(context.Background(), "c-42")
	require.NoError(t, err)
	assert.True(t, st.Create)
	assert.True(t, st.Connect)
	assert.False(t, st.Verify)
	assert.Equal(t, cluster.StatusCreating, st.Status)
	assert.Equal(t, inventory.StateReserved, f.allocator.State("10.0.0.1"))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.JobsTotal.WithLabelValues("failure")))
}

func TestRunWithoutControlPlane(t *testing.T) {
	f := newFixture(t)
	job := testJob("wp-1")
	delete(job.Spec.Nodes, "cp-1")

	_, err := f.orchestrator().Run(context.Background(), job)
	assert.ErrorIs(t, err, &cluster.ValidationError{})
	assert.Empty(t, f.executor.Calls())
	assert.Empty(t, f.prober.hosts)
	_, err = f.reporter.Read(context.Background(), "c-42")
	assert.ErrorIs(t, err, status.ErrNotFound)
}

func TestRunBootstrapFailureStopsPipeline(t *testing.T) {
	f := newFixture(t)
	f.executor.handler = func(ctx context.Context, host, k string) (remote.Result, error) {
		if k == "bootstrap" && host == "10.0.0.2" {
			return remote.Result{}, &cluster.RemoteCommandError{Host: host, ExitStatus: 100, Stderr: "apt failed"}
		}
		return remote.Result{}, nil
	}

	_, err := f.orchestrator().Run(context.Background(), testJob("wp-1", "wp-2"))
	assert.ErrorIs(t, err, &cluster.RemoteCommandError{})
	assert.Contains(t, err.Error(), "wp-1")
	for _, k := range []string{"init", "readyz", "cni", "token", "join", "untaint", "repair"} {
		assert.Empty(t, f.executor.hostsOf(k), k)
	}
	st, err := f.reporter.Read(context.Background(), "c-42")
	require.NoError(t, err)
	assert.Equal(t, cluster.PhaseStatus{Status: cluster.StatusPending}, *st)
}

func TestRunJoinsWorkersInNameOrder(t *testing.T) {
	f := newFixture(t)
	job := testJob("wp-2", "wp-10", "wp-1")
	// hosts are assigned in argument order, joins follow the sorted names
	_, err := f.orchestrator().Run(context.Background(), job)
	require.NoError(t, err)

	want := []string{job.Spec.Nodes["wp-1"].Host, job.Spec.Nodes["wp-10"].Host, job.Spec.Nodes["wp-2"].Host}
	assert.Equal(t, want, f.executor.hostsOf("join"))
	assert.Equal(t, 1, f.executor.maxInFlight["join"])
	assert.Len(t, f.executor.hostsOf("token"), 1)
}

func TestRunReporterFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	o := New(testLogger(), f.executor, f.prober, failingReporter{}, f.allocator, nil, nil, f.cfg)
	o.pollInterval = time.Millisecond

	res, err := o.Run(context.Background(), testJob("wp-1"))
	require.NoError(t, err)
	assert.FileExists(t, res.KubeconfigPath)
}

func TestRunSizingShortfallWarns(t *testing.T) {
	f := newFixture(t)
	job := testJob("wp-1")
	wp := job.Spec.Nodes["wp-1"]
	wp.CPU = 8
	wp.MemoryMB = 4096
	wp.Hostname = "worker-one"
	job.Spec.Nodes["wp-1"] = wp

	res, err := f.orchestrator().Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.2"}, f.executor.hostsOf("hostname"))
	assert.Equal(t, []string{"10.0.0.2"}, f.executor.hostsOf("sizing"))
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "4 cpus, 8 requested")
}

func TestRunPhaseTimeout(t *testing.T) {
	f := newFixture(t)
	f.cfg.Timeouts.Init = 20 * time.Millisecond
	f.executor.handler = func(ctx context.Context, host, k string) (remote.Result, error) {
		if k == "init" {
			<-ctx.Done()
			return remote.Result{}, ctx.Err()
		}
		return remote.Result{}, nil
	}

	_, err := f.orchestrator().Run(context.Background(), testJob("wp-1"))
	var timeoutErr *cluster.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "init", timeoutErr.Op)
	assert.Empty(t, f.executor.hostsOf("cni"))
}

func TestRunAPINeverReady(t *testing.T) {
	f := newFixture(t)
	f.cfg.Timeouts.APIReady = 30 * time.Millisecond
	f.executor.handler = func(ctx context.Context, host, k string) (remote.Result, error) {
		if k == "readyz" {
			return remote.Result{}, &cluster.RemoteCommandError{Host: host, ExitStatus: 1, Stderr: "connection refused"}
		}
		return remote.Result{}, nil
	}

	_, err := f.orchestrator().Run(context.Background(), testJob())
	assert.ErrorIs(t, err, &cluster.TimeoutError{})
	assert.Empty(t, f.executor.hostsOf("cni"))
	st, err := f.reporter.Read(context.Background(), "c-42")
	require.NoError(t, err)
	assert.True(t, st.Create)
	assert.False(t, st.Connect)
}

func TestRunLabelFailureWarns(t *testing.T) {
	f := newFixture(t)
	f.labeler.err = errors.New("forbidden")

	res, err := f.orchestrator().Run(context.Background(), testJob())
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "forbidden")
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator()
	_, err := o.Run(context.Background(), testJob("wp-1"))
	require.NoError(t, err)
	res, err := o.Run(context.Background(), testJob("wp-1"))
	require.NoError(t, err)

	assert.Len(t, f.executor.hostsOf("bootstrap"), 4)
	st, err := f.reporter.Read(context.Background(), "c-42")
	require.NoError(t, err)
	assert.True(t, st.Done())
	assert.FileExists(t, res.KubeconfigPath)
}

func TestRunJobVersionWinsOverPin(t *testing.T) {
	f := newFixture(t)
	f.cfg.KubeadmVersion = "v1.31.1"
	job := testJob()
	job.Spec.Version = "1.30"

	_, err := f.orchestrator().Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, f.executor.scriptsOf("bootstrap"), 1)
	assert.Contains(t, f.executor.scriptsOf("bootstrap")[0], "stable:/v1.30/")
	require.Len(t, f.executor.scriptsOf("init"), 1)
	assert.Contains(t, f.executor.scriptsOf("init")[0], "--kubernetes-version='stable-1.30'")
	assert.NotContains(t, f.executor.scriptsOf("init")[0], "v1.31.1")
}

func TestRunPinAppliesWithoutJobVersion(t *testing.T) {
	f := newFixture(t)
	f.cfg.KubeadmVersion = "v1.31.1"
	job := testJob()
	job.Spec.Version = ""

	_, err := f.orchestrator().Run(context.Background(), job)
	require.NoError(t, err)
	assert.Contains(t, f.executor.scriptsOf("bootstrap")[0], "stable:/v1.31/")
	assert.Contains(t, f.executor.scriptsOf("init")[0], "--kubernetes-version='v1.31.1'")
	assert.Equal(t, []string{"kubeadm config images pull --kubernetes-version='v1.31.1'"}, f.executor.scriptsOf("pull"))
}

func TestRunControlPlaneWithSSHPort(t *testing.T) {
	f := newFixture(t)
	job := testJob("wp-1")
	cp := job.Spec.Nodes["cp-1"]
	cp.Host = "10.0.0.1:2222"
	job.Spec.Nodes["cp-1"] = cp

	res, err := f.orchestrator().Run(context.Background(), job)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	assert.Equal(t, []string{"10.0.0.1:2222"}, f.executor.hostsOf("init"))
	checks := f.executor.scriptsOf("apicheck")
	require.NotEmpty(t, checks)
	assert.Contains(t, checks[0], "</dev/tcp/10.0.0.1/6443")
	assert.Equal(t, []string{"10.0.0.1:2222:/etc/kubernetes/admin.conf"}, f.executor.copies)
	assert.Contains(t, string(f.labeler.kubeconfig), "server: https://10.0.0.1:6443")
	assert.NotContains(t, string(f.labeler.kubeconfig), "2222")
}

func TestRunJoinPhaseCeiling(t *testing.T) {
	f := newFixture(t)
	f.cfg.Timeouts.JoinPhase = 30 * time.Millisecond
	f.executor.handler = func(ctx context.Context, host, k string) (remote.Result, error) {
		if k == "join" {
			<-ctx.Done()
			return remote.Result{}, ctx.Err()
		}
		return remote.Result{}, nil
	}

	_, err := f.orchestrator().Run(context.Background(), testJob("wp-1", "wp-2"))
	var timeoutErr *cluster.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "join", timeoutErr.Op)
	assert.Equal(t, []string{"10.0.0.2"}, f.executor.hostsOf("join"))
	assert.Empty(t, f.executor.hostsOf("repair"))
}

func TestRunReportsAfterPhaseUsedItsCeiling(t *testing.T) {
	f := newFixture(t)
	f.cfg.Timeouts.Init = 20 * time.Millisecond
	f.executor.handler = func(ctx context.Context, host, k string) (remote.Result, error) {
		if k == "init" {
			// init finishes right as its ceiling runs out
			<-ctx.Done()
		}
		return remote.Result{}, nil
	}
	reporter := deadlineReporter{f.reporter}
	o := New(testLogger(), f.executor, f.prober, reporter, f.allocator, f.labeler, f.metrics, f.cfg)
	o.pollInterval = time.Millisecond

	_, err := o.Run(context.Background(), testJob("wp-1"))
	require.NoError(t, err)
	require.NotEmpty(t, f.reporter.history)
	assert.True(t, f.reporter.history[0].Create)
	assert.Equal(t, cluster.StatusCreating, f.reporter.history[0].Status)
}
