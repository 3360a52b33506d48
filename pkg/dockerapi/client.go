// Package dockerapi is the runtime HTTP client: it issues
// request-line-only HTTP/1.1 GETs to the container runtime's local UNIX
// socket and classifies the result, leaving JSON parsing and semantic
// normalisation to pkg/dockerresolve. Grounded on the teacher's own
// UNIX-socket dialing code in pkg/commands/docker.go (tryDial) and the
// socket-path conventions of github.com/docker/docker/client.
package dockerapi

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// DefaultSocketPath is the runtime's well-known UNIX socket path on
// Linux. Overridable via config.UserConfig.DockerSocketPath.
const DefaultSocketPath = "/var/run/docker.sock"

// Status classifies the runtime's HTTP response the way spec.md §4.B
// requires: 2xx is OK, 4xx is a (possibly API-version-related) bad
// request, anything else or a transport failure is an opaque error.
type Status int

const (
	StatusOK Status = iota
	StatusBadRequest
	StatusError
)

// Client dials the runtime's UNIX socket once per request. It holds no
// long-lived connection; its caller (pkg/dockerresolve) runs it from a
// single worker goroutine per spec.md §5.
type Client struct {
	SocketPath string
	DialTimeout time.Duration
}

// NewClient returns a Client for socketPath. An empty socketPath falls
// back to DefaultSocketPath.
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &Client{SocketPath: socketPath, DialTimeout: 5 * time.Second}
}

// Get issues "GET <apiVersion><path> HTTP/1.1" over the UNIX socket and
// returns the classified status together with the raw response body.
// A transport failure (dial, write, or malformed HTTP response) is
// reported as StatusError with a non-nil error; a non-2xx, non-4xx
// status code is also StatusError.
func (c *Client) Get(ctx context.Context, apiVersion, path string) (Status, string, error) {
	var dialer net.Dialer
	dialCtx := ctx
	if c.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.DialTimeout)
		defer cancel()
	}

	conn, err := dialer.DialContext(dialCtx, "unix", c.SocketPath)
	if err != nil {
		return StatusError, "", fmt.Errorf("dial runtime socket %s: %w", c.SocketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	requestLine := fmt.Sprintf("GET %s%s HTTP/1.1\r\nHost: docker\r\n\r\n", apiVersion, path)
	if _, err := io.WriteString(conn, requestLine); err != nil {
		return StatusError, "", fmt.Errorf("write request to runtime socket: %w", err)
	}

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		return StatusError, "", fmt.Errorf("read response from runtime socket: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return StatusError, "", fmt.Errorf("read response body from runtime socket: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return StatusOK, string(body), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return StatusBadRequest, string(body), nil
	default:
		return StatusError, string(body), fmt.Errorf("runtime returned unexpected status %d", resp.StatusCode)
	}
}
