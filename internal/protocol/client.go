package protocol

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultTimeout bounds a whole exchange when the caller sets none.
const DefaultTimeout = 3 * time.Second

// Client performs one request/response exchange per connection. A timeout is
// reported the same way as a refused connection.
type Client struct {
	Timeout time.Duration
	dialer  net.Dialer
}

// NewClient returns a client whose exchanges are bounded by timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{Timeout: timeout}
}

// Send dials addr, writes request and returns the trimmed reply.
func (c *Client) Send(ctx context.Context, addr, request string) (string, error) {
	return c.SendTimeout(ctx, addr, request, c.Timeout)
}

// SendTimeout is Send with a per-call timeout.
func (c *Client) SendTimeout(ctx context.Context, addr, request string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return "", fmt.Errorf("set deadline %s: %w", addr, err)
		}
	}

	if err := writeAll(conn, []byte(request)); err != nil {
		return "", fmt.Errorf("send to %s: %w", addr, err)
	}

	reply, err := ReadRequest(conn)
	if err != nil {
		return "", fmt.Errorf("read reply from %s: %w", addr, err)
	}
	return strings.TrimSpace(string(reply)), nil
}

// Ping sends `ping` and requires exactly `pong` back.
func (c *Client) Ping(ctx context.Context, addr string, timeout time.Duration) error {
	reply, err := c.SendTimeout(ctx, addr, CmdPing, timeout)
	if err != nil {
		return err
	}
	if reply != ReplyPong {
		return fmt.Errorf("ping %s: got %q: %w", addr, reply, ErrUnexpectedReply)
	}
	return nil
}

// RunTest offers commitID to the runner at addr. It reports true only when
// the runner answered OK.
func (c *Client) RunTest(ctx context.Context, addr, commitID string) (bool, error) {
	reply, err := c.Send(ctx, addr, Format(CmdRunTest, commitID))
	if err != nil {
		return false, err
	}
	return reply == ReplyOK, nil
}

func writeAll(conn net.Conn, b []byte) error {
	for len(b) > 0 {
		n, err := conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}
