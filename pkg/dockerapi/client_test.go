package dockerapi

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveOnce starts a UNIX socket listener that replies with the given
// raw HTTP response to the first connection it accepts, then shuts down.
func serveOnce(t *testing.T, response string) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "docker.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		// drain the request line before replying
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil || line == "\r\n" {
				break
			}
		}
		conn.Write([]byte(response))
	}()

	return socketPath
}

func TestGetClassifiesOKResponse(t *testing.T) {
	socketPath := serveOnce(t, "HTTP/1.1 200 OK\r\nContent-Length: 13\r\n\r\n{\"ok\":true}\r\n")

	c := NewClient(socketPath)
	status, body, err := c.Get(context.Background(), "/v1.24", "/containers/abc/json")
	assert.NoError(t, err)
	assert.Equal(t, StatusOK, status)
	assert.Contains(t, body, "ok")
}

func TestGetClassifiesBadRequest(t *testing.T) {
	socketPath := serveOnce(t, "HTTP/1.1 400 Bad Request\r\nContent-Length: 0\r\n\r\n")

	c := NewClient(socketPath)
	status, _, err := c.Get(context.Background(), "/v1.24", "/containers/abc/json")
	assert.NoError(t, err)
	assert.Equal(t, StatusBadRequest, status)
}

func TestGetClassifiesServerError(t *testing.T) {
	socketPath := serveOnce(t, "HTTP/1.1 500 Internal Server Error\r\nContent-Length: 0\r\n\r\n")

	c := NewClient(socketPath)
	status, _, err := c.Get(context.Background(), "/v1.24", "/containers/abc/json")
	assert.Error(t, err)
	assert.Equal(t, StatusError, status)
}

func TestGetTransportFailureOnMissingSocket(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "nonexistent.sock"))
	c.DialTimeout = 200 * time.Millisecond

	status, _, err := c.Get(context.Background(), "/v1.24", "/containers/abc/json")
	assert.Error(t, err)
	assert.Equal(t, StatusError, status)
}

func TestDefaultSocketPathUsedWhenEmpty(t *testing.T) {
	c := NewClient("")
	assert.Equal(t, DefaultSocketPath, c.SocketPath)
}
