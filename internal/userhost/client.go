package userhost

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

// Client talks to a lease server. Every call opens a fresh connection with
// a client-side timeout so a dead server cannot wedge a runner worker.
type Client struct {
	addr    string
	timeout time.Duration
}

func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{addr: addr, timeout: timeout}
}

func (c *Client) communicate(payload string) (string, error) {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return "", fmt.Errorf("failed to reach userhost server: %w", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := fmt.Fprintf(conn, "%s\n", payload); err != nil {
		return "", fmt.Errorf("failed to send lease request: %w", err)
	}
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read lease reply: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Acquire leases an account for expires seconds. ok is false when the pool
// is exhausted; err reports transport failures only.
func (c *Client) Acquire(expires int) (user string, ok bool, err error) {
	reply, err := c.communicate(fmt.Sprintf("get %d", expires))
	if err != nil {
		return "", false, err
	}
	fields := strings.Fields(reply)
	if len(fields) == 2 && fields[0] == "okay" {
		return fields[1], true, nil
	}
	return "", false, nil
}

// Release returns an account to the pool immediately.
func (c *Client) Release(user string) error {
	reply, err := c.communicate("put " + user)
	if err != nil {
		return err
	}
	if reply != "okay" {
		return fmt.Errorf("unexpected release reply %q", reply)
	}
	return nil
}
