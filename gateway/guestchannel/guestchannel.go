// Package guestchannel runs commands through the in-band guest agent: a
// vsock-backed Unix socket speaking newline-delimited JSON, modeled on the
// QEMU guest agent verbs. Works without any guest networking.
//
// Execution is two-phase: a begin request returns an in-guest PID, then a
// status request is polled (~1s) until the guest reports completion, with
// captured stdout/stderr base64-encoded in the final response.
package guestchannel

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/projecteru2/burrow/config"
	"github.com/projecteru2/burrow/errdefs"
	"github.com/projecteru2/burrow/gateway"
	"github.com/projecteru2/burrow/types"
)

const (
	defaultPollInterval = time.Second
	dialTimeout         = 3 * time.Second
	// writeChunkSize bounds guest-file-write payloads.
	writeChunkSize = 48 << 10
)

// compile-time interface checks.
var (
	_ gateway.Channel    = (*Client)(nil)
	_ gateway.FileCopier = (*Client)(nil)
)

// Client is the guest-channel execution client.
type Client struct {
	pollInterval time.Duration
	socketFn     func(*types.Guest) string
}

// New creates a Client resolving agent sockets from conf.
func New(conf *config.Config) *Client {
	return &Client{
		pollInterval: defaultPollInterval,
		socketFn:     func(g *types.Guest) string { return conf.GuestAgentSocket(g.ID) },
	}
}

func (c *Client) Method() types.ExecMethod { return types.MethodGuestChannel }

// Run implements gateway.Channel.
func (c *Client) Run(ctx context.Context, g *types.Guest, req *gateway.Request) (int, error) {
	sock := c.socketFn(g)

	command := req.Command
	if req.WorkingDir != "" {
		command = fmt.Sprintf("cd %q && %s", req.WorkingDir, command)
	}

	var started struct {
		PID int `json:"pid"`
	}
	err := c.call(ctx, sock, "guest-exec", map[string]any{
		"path":           "/bin/sh",
		"arg":            []string{"-c", command},
		"capture-output": true,
	}, &started)
	if err != nil {
		return 0, err
	}

	for {
		var st struct {
			Exited   bool   `json:"exited"`
			ExitCode int    `json:"exitcode"`
			OutData  string `json:"out-data"`
			ErrData  string `json:"err-data"`
		}
		if err := c.call(ctx, sock, "guest-exec-status", map[string]any{"pid": started.PID}, &st); err != nil {
			return 0, err
		}
		if st.Exited {
			if err := writeDecoded(req.Stdout, st.OutData); err != nil {
				return 0, err
			}
			if err := writeDecoded(req.Stderr, st.ErrData); err != nil {
				return 0, err
			}
			return st.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			// The deadline owns the in-guest process too: best-effort kill
			// so no guest-side process outlives the timed-out call.
			c.killRemote(sock, started.PID)
			return 0, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// Ping verifies the agent is responsive.
func (c *Client) Ping(ctx context.Context, g *types.Guest) error {
	return c.call(ctx, c.socketFn(g), "guest-ping", nil, nil)
}

// CopyTo writes a local file into the guest at remotePath via the agent's
// file verbs. Used to deploy the payload runtime.
func (c *Client) CopyTo(ctx context.Context, g *types.Guest, remotePath string, content []byte) error {
	sock := c.socketFn(g)

	var handle int
	if err := c.call(ctx, sock, "guest-file-open", map[string]any{"path": remotePath, "mode": "w"}, &handle); err != nil {
		return err
	}
	defer c.call(context.WithoutCancel(ctx), sock, "guest-file-close", map[string]any{"handle": handle}, nil) //nolint:errcheck

	for off := 0; off < len(content); off += writeChunkSize {
		end := min(off+writeChunkSize, len(content))
		err := c.call(ctx, sock, "guest-file-write", map[string]any{
			"handle":  handle,
			"buf-b64": base64.StdEncoding.EncodeToString(content[off:end]),
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

// killRemote asks the agent to SIGKILL an in-guest PID. Best effort, short
// independent deadline since the caller's context is already done.
func (c *Client) killRemote(sock string, pid int) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	_ = c.call(ctx, sock, "guest-exec", map[string]any{
		"path": "/bin/kill",
		"arg":  []string{"-9", fmt.Sprint(pid)},
	}, nil)
}

// call performs one request/response exchange on a fresh connection.
// Dial, write and read failures are ChannelUnavailable (the gateway may fall
// back); an error response from a reachable agent is a TransportFailure.
func (c *Client) call(ctx context.Context, sock, verb string, args map[string]any, out any) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "unix", sock)
	if err != nil {
		return fmt.Errorf("dial agent %s: %v: %w", sock, err, errdefs.ErrChannelUnavailable)
	}
	defer conn.Close() //nolint:errcheck

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	msg := map[string]any{"execute": verb}
	if args != nil {
		msg["arguments"] = args
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", verb, err)
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write %s: %v: %w", verb, err, errdefs.ErrChannelUnavailable)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read %s response: %v: %w", verb, err, errdefs.ErrChannelUnavailable)
	}

	var resp struct {
		Return json.RawMessage `json:"return"`
		Error  *struct {
			Class string `json:"class"`
			Desc  string `json:"desc"`
		} `json:"error"`
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("parse %s response: %v: %w", verb, err, errdefs.ErrChannelUnavailable)
	}
	if resp.Error != nil {
		return fmt.Errorf("agent %s: %s (%s): %w", verb, resp.Error.Desc, resp.Error.Class, errdefs.ErrTransportFailure)
	}
	if out != nil && len(resp.Return) > 0 {
		if err := json.Unmarshal(resp.Return, out); err != nil {
			return fmt.Errorf("decode %s return: %w", verb, err)
		}
	}
	return nil
}

func writeDecoded(w io.Writer, b64 string) error {
	if b64 == "" || w == nil {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("decode captured output: %w", err)
	}
	_, err = w.Write(data)
	return err
}
