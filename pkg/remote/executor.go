package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"github.com/ahura-cloud/kube-provisioner/pkg/cluster"
	"github.com/ahura-cloud/kube-provisioner/pkg/metrics"
	"github.com/ahura-cloud/kube-provisioner/pkg/util"
)

const (
	DefaultPort        = 22
	DefaultDialTimeout = 10 * time.Second
)

// Result is the captured output of a remote command
type Result struct {
	Stdout string
	Stderr string
}

// Executor runs shell scripts on a host with full privileges
type Executor interface {
	Execute(ctx context.Context, host string, cred cluster.AuthCredential, script string, timeout time.Duration) (Result, error)
	CopyFile(ctx context.Context, host string, cred cluster.AuthCredential, remotePath, localPath string, timeout time.Duration) error
}

// SSHExecutor opens one SSH connection per command
type SSHExecutor struct {
	logger      *log.Entry
	metrics     *metrics.Metrics
	port        int
	dialTimeout time.Duration
}

func NewSSHExecutor(logger *log.Entry, m *metrics.Metrics, port int, dialTimeout time.Duration) *SSHExecutor {
	if port == 0 {
		port = DefaultPort
	}
	if dialTimeout == 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &SSHExecutor{
		logger:      logger.WithField("component", "remote"),
		metrics:     m,
		port:        port,
		dialTimeout: dialTimeout,
	}
}

// Execute runs script on host. A non-zero exit is a RemoteCommandError, going
// past timeout is a TimeoutError, anything that keeps us from running the
// command at all is a ConnectivityError.
func (e *SSHExecutor) Execute(ctx context.Context, host string, cred cluster.AuthCredential, script string, timeout time.Duration) (Result, error) {
	logger := e.logger.WithField("host", host)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client, err := e.dial(ctx, host, cred)
	if err != nil {
		e.metrics.RecordRemoteCommand("error")
		return Result{}, e.contextError(ctx, host, timeout, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		e.metrics.RecordRemoteCommand("error")
		return Result{}, &cluster.ConnectivityError{Host: host, Err: fmt.Errorf("failed to create session: %w", err)}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	command, stdin := Wrap(cred, script)
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	logger.Debugf("running: %s", script)
	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		// closing the connection is the only way to abort a running session
		client.Close()
		<-done
		e.metrics.RecordRemoteCommand("timeout")
		return Result{Stdout: stdout.String(), Stderr: stderr.String()}, e.contextError(ctx, host, timeout, ctx.Err())
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if res.Stderr != "" {
		logger.Debugf("stderr: %s", strings.TrimSpace(res.Stderr))
	}
	if err == nil {
		e.metrics.RecordRemoteCommand("success")
		return res, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		e.metrics.RecordRemoteCommand("exit")
		return res, &cluster.RemoteCommandError{Host: host, ExitStatus: exitErr.ExitStatus(), Stderr: strings.TrimSpace(res.Stderr)}
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		e.metrics.RecordRemoteCommand("exit")
		return res, &cluster.RemoteCommandError{Host: host, ExitStatus: -1, Stderr: strings.TrimSpace(res.Stderr)}
	}
	e.metrics.RecordRemoteCommand("error")
	return res, &cluster.ConnectivityError{Host: host, Err: err}
}

// CopyFile reads remotePath with full privileges and stores it at localPath,
// readable by the owner only
func (e *SSHExecutor) CopyFile(ctx context.Context, host string, cred cluster.AuthCredential, remotePath, localPath string, timeout time.Duration) error {
	res, err := e.Execute(ctx, host, cred, "cat "+Quote(remotePath), timeout)
	if err != nil {
		return fmt.Errorf("failed to read %s on %s: %w", remotePath, host, err)
	}
	if err := util.SavePrivateFile(localPath, []byte(res.Stdout), true); err != nil {
		return fmt.Errorf("failed to save %s: %w", localPath, err)
	}
	e.logger.WithField("host", host).Debugf("copied %s to %s", remotePath, localPath)
	return nil
}

func (e *SSHExecutor) contextError(ctx context.Context, host string, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &cluster.TimeoutError{Op: "remote command on " + host, Timeout: timeout}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("remote command on %s: %w", host, ctx.Err())
	}
	return err
}

func (e *SSHExecutor) dial(ctx context.Context, host string, cred cluster.AuthCredential) (*ssh.Client, error) {
	config, err := clientConfig(cred, e.dialTimeout)
	if err != nil {
		return nil, err
	}
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, strconv.Itoa(e.port))
	}

	dialer := net.Dialer{Timeout: e.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &cluster.ConnectivityError{Host: host, Err: err}
	}
	// bound the handshake, then hand control of the connection back to ctx
	_ = conn.SetDeadline(time.Now().Add(e.dialTimeout))
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, &cluster.ConnectivityError{Host: host, Err: fmt.Errorf("ssh handshake: %w", err)}
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func clientConfig(cred cluster.AuthCredential, timeout time.Duration) (*ssh.ClientConfig, error) {
	var auth ssh.AuthMethod
	switch cred.Method {
	case cluster.AuthPassword:
		auth = ssh.Password(cred.Password)
	case cluster.AuthKey:
		signer, err := util.LoadSigner(cred.KeyPath)
		if err != nil {
			return nil, err
		}
		auth = ssh.PublicKeys(signer)
	default:
		return nil, cluster.NewValidationError("unknown auth method %q", cred.Method)
	}
	return &ssh.ClientConfig{
		User: cred.User,
		Auth: []ssh.AuthMethod{auth},
		// machines are freshly installed and their host keys unknown to us
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}, nil
}
