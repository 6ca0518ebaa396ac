package remote

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
)

const (
	DefaultProbeBase = 2 * time.Second
	DefaultProbeMax  = 8 * time.Second
	probeDialTimeout = 5 * time.Second
	probeCmdTimeout  = 15 * time.Second
)

// Prober waits for a node to accept remote commands
type Prober interface {
	WaitUntilReady(ctx context.Context, host string, cred cluster.AuthCredential, timeout time.Duration) error
}

// SSHProber considers a host ready once its SSH port accepts connections and
// a trivial command succeeds through the executor
type SSHProber struct {
	logger   *log.Entry
	executor Executor
	port     int
	base     time.Duration
	max      time.Duration

	dial  func(ctx context.Context, network, addr string) (net.Conn, error)
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewSSHProber(logger *log.Entry, executor Executor, port int) *SSHProber {
	if port == 0 {
		port = DefaultPort
	}
	dialer := &net.Dialer{Timeout: probeDialTimeout}
	return &SSHProber{
		logger:   logger.WithField("component", "prober"),
		executor: executor,
		port:     port,
		base:     DefaultProbeBase,
		max:      DefaultProbeMax,
		dial:     dialer.DialContext,
		sleep:    sleepContext,
		now:      time.Now,
	}
}

// WaitUntilReady polls host until it is ready or timeout runs out, sleeping
// with capped exponential backoff between attempts. It never sleeps past the
// deadline. Running out of time is a ConnectivityError.
func (p *SSHProber) WaitUntilReady(ctx context.Context, host string, cred cluster.AuthCredential, timeout time.Duration) error {
	logger := p.logger.WithField("host", host)
	deadline := p.now().Add(timeout)

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = p.probe(ctx, host, cred, deadline)
		if lastErr == nil {
			logger.Debugf("ready after %d attempts", attempt)
			return nil
		}
		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			break
		}
		delay := min(ExponentialDelay(attempt, p.base, p.max), remaining)
		logger.Debugf("not ready (attempt %d): %v, retrying in %s", attempt, lastErr, delay)
		if err := p.sleep(ctx, delay); err != nil {
			return &cluster.ConnectivityError{Host: host, Err: err}
		}
	}
	return &cluster.ConnectivityError{Host: host, Err: fmt.Errorf("not ready after %s: %w", timeout, lastErr)}
}

func (p *SSHProber) probe(ctx context.Context, host string, cred cluster.AuthCredential, deadline time.Time) error {
	remaining := deadline.Sub(p.now())
	if remaining <= 0 {
		remaining = time.Second
	}
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, strconv.Itoa(p.port))
	}
	dialCtx, cancel := context.WithTimeout(ctx, min(probeDialTimeout, remaining))
	conn, err := p.dial(dialCtx, "tcp", addr)
	cancel()
	if err != nil {
		return fmt.Errorf("port closed: %w", err)
	}
	conn.Close()

	if _, err := p.executor.Execute(ctx, host, cred, "true", min(probeCmdTimeout, remaining)); err != nil {
		return fmt.Errorf("trivial command failed: %w", err)
	}
	return nil
}
