// Package remoteshell runs commands over SSH. One session is opened per
// invocation; guest commands are infrequent relative to network-service
// RPCs, so connection pooling buys nothing here. Requires the guest's
// RemoteShellConfig and pre-configured network reachability.
package remoteshell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/projecteru2/burrow/errdefs"
	"github.com/projecteru2/burrow/gateway"
	"github.com/projecteru2/burrow/types"
)

const defaultDialTimeout = 5 * time.Second

// compile-time interface check.
var _ gateway.Channel = (*Client)(nil)

// Client is the remote-shell execution client.
type Client struct {
	dialTimeout time.Duration
}

// New creates a Client.
func New() *Client {
	return &Client{dialTimeout: defaultDialTimeout}
}

func (c *Client) Method() types.ExecMethod { return types.MethodRemoteShell }

// Run implements gateway.Channel.
func (c *Client) Run(ctx context.Context, g *types.Guest, req *gateway.Request) (int, error) {
	cfg := g.RemoteShell
	if cfg == nil {
		// Precondition, not a fallback trigger: never attempt with defaults.
		return 0, fmt.Errorf("guest %s has no remote shell configured: %w", g.ID, errdefs.ErrInvalidState)
	}

	clientConf, err := c.clientConfig(cfg)
	if err != nil {
		return 0, err
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, port)
	conn, err := ssh.Dial("tcp", addr, clientConf)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %v: %w", addr, err, errdefs.ErrChannelUnavailable)
	}
	defer conn.Close() //nolint:errcheck

	sess, err := conn.NewSession()
	if err != nil {
		return 0, fmt.Errorf("open session on %s: %v: %w", addr, err, errdefs.ErrChannelUnavailable)
	}
	defer sess.Close() //nolint:errcheck

	sess.Stdout = req.Stdout
	sess.Stderr = req.Stderr

	command := req.Command
	if req.WorkingDir != "" {
		command = fmt.Sprintf("cd %q && %s", req.WorkingDir, command)
	}

	// Enforce the deadline by tearing the connection down: the server ends
	// the remote process with the session.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = sess.Signal(ssh.SIGKILL)
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := sess.Run(command); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			// Command-level nonzero exit is a normal result.
			return exitErr.ExitStatus(), nil
		}
		return 0, fmt.Errorf("run on %s: %v: %w", addr, err, errdefs.ErrTransportFailure)
	}
	return 0, nil
}

func (c *Client) clientConfig(cfg *types.RemoteShellConfig) (*ssh.ClientConfig, error) {
	keyData, err := os.ReadFile(cfg.KeyPath) //nolint:gosec // credential reference from guest config
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", cfg.KeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", cfg.KeyPath, err)
	}
	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // guests have ephemeral host keys
		Timeout:         c.dialTimeout,
	}, nil
}
