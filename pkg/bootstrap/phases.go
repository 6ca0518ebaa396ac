package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
	"github.com/ahura-cloud/kube-provisioner/pkg/kube"
	"github.com/ahura-cloud/kube-provisioner/pkg/util"
)

// KubeconfigPath is where the admin kubeconfig of a cluster is stored locally
func KubeconfigPath(dir, clusterID string) string {
	return filepath.Join(dir, clusterID+".yaml")
}

func (r *run) waitForSSH(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range r.nodes {
		g.Go(func() error {
			if err := r.prober.WaitUntilReady(ctx, n.Host, r.cred, r.cfg.Timeouts.SSHReady); err != nil {
				return fmt.Errorf("node %s not reachable over ssh: %w", n.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// identify renames hosts that declare a hostname and compares their actual
// size against the declared one. Nothing here fails the job.
func (r *run) identify(ctx context.Context) error {
	timeout := r.cfg.Timeouts.HostPrep
	for _, n := range r.nodes {
		if n.Hostname != "" {
			if _, err := r.exec(ctx, n, hostnameScript(n.Hostname), timeout); err != nil {
				r.warn("failed to set hostname of %s to %s: %v", n.Name, n.Hostname, err)
			}
		}
		if n.CPU == 0 && n.MemoryMB == 0 {
			continue
		}
		res, err := r.exec(ctx, n, sizingScript(), timeout)
		if err != nil {
			r.warn("failed to probe size of %s: %v", n.Name, err)
			continue
		}
		cpu, mem, err := parseSizing(res.Stdout)
		if err != nil {
			r.warn("failed to probe size of %s: %v", n.Name, err)
			continue
		}
		if cpu < n.CPU {
			r.warn("node %s has %d cpus, %d requested", n.Name, cpu, n.CPU)
		}
		if mem < n.MemoryMB {
			r.warn("node %s has %d MB memory, %d requested", n.Name, mem, n.MemoryMB)
		}
	}
	return nil
}

// bootstrap prepares all nodes at once. The first failure cancels the rest.
func (r *run) bootstrap(ctx context.Context) error {
	script := bootstrapScript(r.series, r.cfg.SandboxImage)
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range r.nodes {
		g.Go(func() error {
			if _, err := r.exec(ctx, n, script, r.cfg.Timeouts.Bootstrap); err != nil {
				return fmt.Errorf("failed to bootstrap node %s: %w", n.Name, err)
			}
			r.logger.WithField("host", n.Host).Debugf("node %s bootstrapped", n.Name)
			return nil
		})
	}
	return g.Wait()
}

func (r *run) initControlPlane(ctx context.Context) error {
	if _, err := r.exec(ctx, r.controlPlane, initScript(r.spec.PodCIDR, r.kubeadmVersion), r.cfg.Timeouts.Init); err != nil {
		return fmt.Errorf("failed to initialize control plane %s: %w", r.controlPlane.Name, err)
	}
	r.report(ctx, cluster.PhaseCreate, cluster.StatusCreating)
	return nil
}

func (r *run) waitForAPI(ctx context.Context) error {
	return r.waitForReadyz(ctx, r.cfg.Timeouts.APIReady, "api-ready")
}

func (r *run) applyCNI(ctx context.Context) error {
	if _, err := r.exec(ctx, r.controlPlane, cniScript(r.cfg.CNIManifestURL), r.cfg.Timeouts.CNI); err != nil {
		return fmt.Errorf("failed to apply network plugin: %w", err)
	}
	r.report(ctx, cluster.PhaseConnect, "")
	return nil
}

// join adds the workers one after the other in name order. Without workers the
// control plane is opened up for regular workloads instead.
func (r *run) join(ctx context.Context) error {
	t := r.cfg.Timeouts
	if len(r.workers) == 0 {
		r.logger.Info("no workers, allowing workloads on the control plane")
		if _, err := r.exec(ctx, r.controlPlane, untaintScript(), t.Join); err != nil {
			return fmt.Errorf("failed to untaint control plane: %w", err)
		}
		return nil
	}

	res, err := r.exec(ctx, r.controlPlane, joinTokenScript(), t.JoinToken)
	if err != nil {
		return fmt.Errorf("failed to create join token: %w", err)
	}
	if r.joinCommand, err = parseJoinCommand(res.Stdout); err != nil {
		return err
	}

	for _, w := range r.workers {
		logger := r.logger.WithField("host", w.Host)
		checkCtx, cancel := context.WithTimeout(ctx, t.APICheck)
		err := r.poll(checkCtx, t.APICheck, func(ctx context.Context) error {
			_, err := r.exec(ctx, w, apiCheckScript(r.controlPlane.Address()), min(t.APICheck, attemptLimit))
			return err
		})
		cancel()
		if err != nil {
			return &cluster.ConnectivityError{
				Host: w.Host,
				Err:  fmt.Errorf("cannot reach control plane %s:%d: %w", r.controlPlane.Address(), apiPort, err),
			}
		}

		logger.Infof("joining worker %s", w.Name)
		if _, err := r.exec(ctx, w, joinScript(r.joinCommand), t.Join); err != nil {
			return fmt.Errorf("failed to join worker %s: %w", w.Name, err)
		}
	}
	return nil
}

// repair re-asserts the runtime configuration on every node and makes sure the
// control plane comes back healthy afterwards
func (r *run) repair(ctx context.Context) error {
	t := r.cfg.Timeouts
	script := repairNodeScript(r.cfg.SandboxImage)
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range r.nodes {
		g.Go(func() error {
			if _, err := r.exec(gctx, n, script, t.Repair); err != nil {
				return fmt.Errorf("failed to repair node %s: %w", n.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if _, err := r.exec(ctx, r.controlPlane, imagePullScript(r.kubeadmVersion), t.Repair); err != nil {
		return fmt.Errorf("failed to pull control plane images: %w", err)
	}
	return r.waitForReadyz(ctx, t.APIReady, "repair")
}

func (r *run) fetchKubeconfig(ctx context.Context) error {
	path := KubeconfigPath(r.cfg.KubeconfigDir, r.spec.ID)
	if err := r.executor.CopyFile(ctx, r.controlPlane.Host, r.cred, adminConf, path, r.cfg.Timeouts.Kubeconfig); err != nil {
		return fmt.Errorf("failed to retrieve kubeconfig: %w", err)
	}
	r.result.KubeconfigPath = path
	r.report(ctx, cluster.PhaseVerify, cluster.StatusReady)
	return nil
}

// label tags every node with the cluster name and region through the API
func (r *run) label(ctx context.Context) error {
	if r.labeler == nil {
		return nil
	}
	raw, err := util.LoadFile(r.result.KubeconfigPath)
	if err != nil {
		r.warn("failed to label nodes: %v", err)
		return nil
	}
	raw, err = kube.RewriteServer(raw, r.controlPlane.Address())
	if err != nil {
		r.warn("failed to label nodes: %v", err)
		return nil
	}
	labels := map[string]string{kube.LabelCluster: r.spec.Name}
	if r.spec.Location != "" {
		labels[kube.LabelRegion] = r.spec.Location
	}
	summary, err := r.labeler.LabelNodes(ctx, raw, labels)
	if err != nil {
		r.warn("failed to label nodes: %v", err)
		return nil
	}
	if summary.Ready < len(r.nodes) {
		r.warn("%d of %d nodes ready", summary.Ready, len(r.nodes))
	}
	return nil
}

// release marks the addresses of the job as used. They stay reserved if that
// fails, so nobody else gets them either.
func (r *run) release(ctx context.Context) error {
	if r.allocator == nil {
		return nil
	}
	if err := r.allocator.MarkUsed(ctx, r.job.UsedAddresses()); err != nil {
		r.warn("failed to mark addresses used: %v", err)
	}
	return nil
}
