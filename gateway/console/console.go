// Package console is the emulated-terminal execution channel. It is an
// intentional stub: the slot exists so the gateway's method space stays total
// and a future implementer has a documented home for expect-style execution
// over the guest's serial console.
package console

import (
	"context"
	"fmt"

	"github.com/projecteru2/burrow/errdefs"
	"github.com/projecteru2/burrow/gateway"
	"github.com/projecteru2/burrow/types"
)

// compile-time interface check.
var _ gateway.Channel = (*Client)(nil)

// Client is the console execution stub.
type Client struct{}

// New creates the stub client.
func New() *Client { return &Client{} }

func (c *Client) Method() types.ExecMethod { return types.MethodConsole }

// Run always fails with NotImplemented, regardless of guest state.
func (c *Client) Run(_ context.Context, g *types.Guest, _ *gateway.Request) (int, error) {
	return 0, fmt.Errorf("console execution for guest %s: %w", g.ID, errdefs.ErrNotImplemented)
}
