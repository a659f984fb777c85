package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultConnectTimeout bounds the TCP connect and SSH handshake.
const DefaultConnectTimeout = 30 * time.Second

// SSHDialer opens sessions over golang.org/x/crypto/ssh.
type SSHDialer struct {
	hostKeyCallback ssh.HostKeyCallback
	timeout         time.Duration
	logger          *zap.Logger
}

// NewSSHDialer creates a dialer. A nil callback accepts any host key.
func NewSSHDialer(hostKeyCallback ssh.HostKeyCallback, timeout time.Duration, logger *zap.Logger) *SSHDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	return &SSHDialer{
		hostKeyCallback: hostKeyCallback,
		timeout:         timeout,
		logger:          logger.With(zap.String("component", "ssh-dialer")),
	}
}

// Dial connects, authenticates and returns a ready session.
func (d *SSHDialer) Dial(ctx context.Context, info ConnectionInfo) (Session, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}

	auth, err := buildAuthMethods(info)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            info.Username,
		Auth:            auth,
		HostKeyCallback: d.hostKeyCallback,
		Timeout:         d.timeout,
	}

	addr := net.JoinHostPort(info.Host, strconv.Itoa(info.Port))

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(ctx, addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})

	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	stop()
	if err != nil {
		conn.Close()
		return nil, classifyDialError(ctx, addr, err)
	}
	_ = conn.SetDeadline(time.Time{})

	client := ssh.NewClient(ncc, chans, reqs)
	s := &sshSession{client: client, done: make(chan struct{})}
	go func() {
		_ = client.Wait()
		close(s.done)
	}()

	d.logger.Debug("ssh session established", zap.String("endpoint", info.Key()))
	return s, nil
}

func buildAuthMethods(info ConnectionInfo) ([]ssh.AuthMethod, error) {
	if len(info.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(info.PrivateKey)
		if err != nil {
			var missing *ssh.PassphraseMissingError
			if errors.As(err, &missing) {
				return nil, fmt.Errorf("%w: passphrase-protected keys are not supported", ErrAuthenticationFailed)
			}
			return nil, fmt.Errorf("%w: parse private key: %v", ErrAuthenticationFailed, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}

	password := info.Password
	return []ssh.AuthMethod{
		ssh.Password(password),
		ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range answers {
				answers[i] = password
			}
			return answers, nil
		}),
	}, nil
}

func classifyDialError(ctx context.Context, addr string, err error) error {
	var keyErr *knownhosts.KeyError
	var netErr net.Error
	switch {
	case errors.As(err, &keyErr):
		return fmt.Errorf("%w for %s: %v", ErrHostKeyMismatch, addr, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrConnectionTimeout, addr)
	case ctx.Err() != nil:
		return fmt.Errorf("connect to %s: %w", addr, ctx.Err())
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %s", ErrConnectionTimeout, addr)
	case strings.Contains(err.Error(), "unable to authenticate"):
		return fmt.Errorf("%w for %s", ErrAuthenticationFailed, addr)
	default:
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
}

type sshSession struct {
	client *ssh.Client
	done   chan struct{}
}

func (s *sshSession) Exec(ctx context.Context, command string, stdout, stderr io.Writer) error {
	sess, err := s.client.NewSession()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	defer sess.Close()

	var errBuf bytes.Buffer
	sess.Stdout = stdout
	if stderr != nil {
		sess.Stderr = io.MultiWriter(stderr, &errBuf)
	} else {
		sess.Stderr = &errBuf
	}

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		_ = sess.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Status: exitErr.ExitStatus(), Stderr: strings.TrimSpace(errBuf.String())}
		}
		return err
	}
}

func (s *sshSession) OpenSFTP(ctx context.Context) (SFTPClient, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, err
	}
	return &sftpClient{client: c}, nil
}

func (s *sshSession) Done() <-chan struct{} { return s.done }

func (s *sshSession) Close() error { return s.client.Close() }

// sftpClient wraps the real sftp.Client to implement SFTPClient.
type sftpClient struct {
	client *sftp.Client
}

func (c *sftpClient) Create(path string) (io.WriteCloser, error) { return c.client.Create(path) }
func (c *sftpClient) Open(path string) (io.ReadCloser, error)    { return c.client.Open(path) }
func (c *sftpClient) Close() error                               { return c.client.Close() }

// HostKeyCallback builds host key verification from a known_hosts file.
// An empty path falls back to ~/.ssh/known_hosts; when that is absent too,
// any host key is accepted and a warning is logged.
func HostKeyCallback(knownHostsFile string, insecure bool, logger *zap.Logger) (ssh.HostKeyCallback, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if insecure {
		logger.Warn("SSH host key verification disabled")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if knownHostsFile != "" {
		expanded, err := homedir.Expand(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("expand known_hosts path: %w", err)
		}
		callback, err := knownhosts.New(expanded)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts file %s: %w", expanded, err)
		}
		return callback, nil
	}

	if home, err := homedir.Dir(); err == nil {
		defaultKnownHosts := filepath.Join(home, ".ssh", "known_hosts")
		if _, err := os.Stat(defaultKnownHosts); err == nil {
			callback, err := knownhosts.New(defaultKnownHosts)
			if err == nil {
				return callback, nil
			}
			logger.Warn("could not parse known_hosts file",
				zap.String("path", defaultKnownHosts),
				zap.Error(err))
		}
	}

	logger.Warn("no known_hosts file found, host key verification disabled")
	return ssh.InsecureIgnoreHostKey(), nil
}
