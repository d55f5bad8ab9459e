package main

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// client is a scripted relay user speaking the line protocol over its own socket.
type client struct {
	name    string
	conn    *net.UDPConn
	timeout time.Duration
}

func dial(name, relayAddr string, localPort int, timeout time.Duration) (*client, error) {
	raddr, err := net.ResolveUDPAddr("udp", relayAddr)
	if err != nil {
		return nil, err
	}
	var laddr *net.UDPAddr
	if localPort != 0 {
		laddr = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: localPort}
	}
	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, err
	}
	return &client{name: name, conn: conn, timeout: timeout}, nil
}

func (c *client) send(line string) error {
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

// expect reads lines until one equals want or the timeout elapses.
// Pings received meanwhile are answered.
func (c *client) expect(want string) error {
	deadline := time.Now().Add(c.timeout)
	var seen []string
	for {
		line, err := c.read(deadline)
		if err != nil {
			return fmt.Errorf("%s: waiting for %q, got %q: %w", c.name, want, seen, err)
		}
		if line == want {
			return nil
		}
		seen = append(seen, line)
	}
}

// expectNothing fails if a line other than a ping arrives within wait.
func (c *client) expectNothing(wait time.Duration) error {
	line, err := c.read(time.Now().Add(wait))
	if err == nil {
		return fmt.Errorf("%s: expected silence, got %q", c.name, line)
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return nil
	}
	return err
}

func (c *client) read(deadline time.Time) (string, error) {
	buf := make([]byte, 4096)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return "", err
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			return "", err
		}
		line := strings.TrimRight(string(buf[:n]), "\r\n")
		if line == "ping$" {
			_ = c.send("ret-ping$")
			continue
		}
		return line, nil
	}
}

func (c *client) close() {
	_ = c.send("disconn$")
	_ = c.conn.Close()
}
