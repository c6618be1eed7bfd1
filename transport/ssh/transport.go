// Package ssh executes remote commands on cluster nodes. It is the
// command channel synchronous backends drive their jobs over.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// TransportError wraps any failure on the command channel. Callers
// above the job layer never see this type; the executor re-wraps it.
type TransportError struct {
	// Op is the operation that failed (e.g., "dial", "execute")
	Op string

	// Err is the underlying error
	Err error

	// Temporary indicates the failure may clear on reconnect
	Temporary bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Config holds the connection settings for one remote node
type Config struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port (default: 22)
	Port int

	// User is the SSH username
	User string

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string

	// DialTimeout bounds connection establishment (default: 30s)
	DialTimeout time.Duration
}

func (c Config) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Client executes commands over one SSH connection
type Client struct {
	client *ssh.Client
	host   string
}

// Dial connects to the node described by cfg
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	key, err := os.ReadFile(cfg.PrivateKeyPath) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: fmt.Errorf("read private key: %w", err)}
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: fmt.Errorf("parse private key: %w", err)}
	}

	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // #nosec G106 -- nodes are provisioned for the run and have no prior host key
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err, Temporary: true}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, cfg.addr(), sshConfig)
	if err != nil {
		_ = conn.Close()
		return nil, &TransportError{Op: "dial", Err: err, Temporary: true}
	}

	return &Client{
		client: ssh.NewClient(sshConn, chans, reqs),
		host:   cfg.Host,
	}, nil
}

// Close shuts the connection down
func (c *Client) Close() error {
	return c.client.Close()
}

// Execute runs cmd on the remote node and returns its output streams.
// Cancelling ctx signals the remote process before giving up.
func (c *Client) Execute(ctx context.Context, cmd string) (stdout, stderr string, err error) {
	start := time.Now()

	log.Debug().
		Str("host", c.host).
		Str("command", cmd).
		Msg("executing remote command")

	session, err := c.client.NewSession()
	if err != nil {
		return "", "", &TransportError{Op: "execute", Err: fmt.Errorf("create session: %w", err), Temporary: true}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		runErr = ctx.Err()
	case runErr = <-done:
	}

	stdout = strings.TrimSpace(stdoutBuf.String())
	stderr = strings.TrimSpace(stderrBuf.String())

	log.Debug().
		Str("host", c.host).
		Int("stdout_len", len(stdout)).
		Int("stderr_len", len(stderr)).
		Dur("duration", time.Since(start)).
		Msg("remote command finished")

	if runErr != nil {
		return stdout, stderr, &TransportError{Op: "execute", Err: runErr}
	}
	return stdout, stderr, nil
}
