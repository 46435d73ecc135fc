package ipc

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Client talks to the daemon's control socket.
type Client struct {
	conn net.Conn
}

// Dial connects to the control socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", path, err)
	}
	return &Client{conn: conn}, nil
}

// Status requests the daemon's current status.
func (c *Client) Status() (*Status, error) {
	resp, err := c.roundTrip(Request{Type: TypeStatus})
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return nil, errors.New("status response missing payload")
	}
	return resp.Status, nil
}

// Ping checks that the daemon is answering.
func (c *Client) Ping() error {
	_, err := c.roundTrip(Request{Type: TypePing})
	return err
}

func (c *Client) roundTrip(req Request) (*Response, error) {
	_ = c.conn.SetDeadline(time.Now().Add(10 * time.Second))
	if err := writeFrame(c.conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	var resp Response
	if err := readFrame(c.conn, &resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return &resp, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
