package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSocketPath creates a unique socket path that's short enough for Unix sockets.
func testSocketPath(t *testing.T) string {
	t.Helper()
	socketPath := filepath.Join("/tmp", fmt.Sprintf("embeddenator-test-%d.sock", time.Now().UnixNano()))
	t.Cleanup(func() { os.Remove(socketPath) })
	return socketPath
}

func TestNewClient(t *testing.T) {
	cfg := DefaultConfig()
	client := NewClient(cfg)

	assert.NotNil(t, client)
	assert.Equal(t, cfg.SocketPath, client.socketPath)
	assert.Equal(t, cfg.Timeout, client.timeout)
}

func TestClient_IsRunning_NoSocket(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := Config{
		SocketPath: filepath.Join(tmpDir, "nonexistent.sock"),
		Timeout:    5 * time.Second,
	}

	client := NewClient(cfg)
	assert.False(t, client.IsRunning(), "Should return false when socket doesn't exist")
}

func TestClient_IsRunning_WithSocket(t *testing.T) {
	socketPath := testSocketPath(t)

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()

	cfg := Config{
		SocketPath: socketPath,
		Timeout:    5 * time.Second,
	}

	client := NewClient(cfg)
	assert.True(t, client.IsRunning(), "Should return true when socket is listening")
}

func TestClient_Ping_Success(t *testing.T) {
	socketPath := testSocketPath(t)

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var req Request
		if err := ReadMessage(conn, &req); err != nil {
			return
		}

		resp := NewSuccessResponse(req.ID, PingResult{Pong: true})
		_ = WriteMessage(conn, resp)
	}()

	cfg := Config{
		SocketPath: socketPath,
		Timeout:    5 * time.Second,
	}

	client := NewClient(cfg)
	ctx := context.Background()

	err = client.Ping(ctx)
	require.NoError(t, err)
}

func TestClient_Query_Success(t *testing.T) {
	socketPath := testSocketPath(t)

	expectedResult := QueryResult{
		Matches: []QueryMatch{
			{Path: "/test.go", ChunkID: "00000000000002a0", Score: 0.95},
		},
	}

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var req Request
		if err := ReadMessage(conn, &req); err != nil {
			return
		}

		resp := NewSuccessResponse(req.ID, expectedResult)
		_ = WriteMessage(conn, resp)
	}()

	cfg := Config{
		SocketPath: socketPath,
		Timeout:    5 * time.Second,
	}

	client := NewClient(cfg)
	ctx := context.Background()

	params := QueryParams{
		EngramPath: "/path/to/repo.engram",
		QueryText:  "test",
		TopK:       10,
	}

	result, err := client.Query(ctx, params)
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "/test.go", result.Matches[0].Path)
	assert.InDelta(t, 0.95, result.Matches[0].Score, 0.001)
}

func TestClient_Query_Error(t *testing.T) {
	socketPath := testSocketPath(t)

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var req Request
		if err := ReadMessage(conn, &req); err != nil {
			return
		}

		resp := NewErrorResponse(req.ID, ErrCodeEngramFailed, "no engram loaded")
		_ = WriteMessage(conn, resp)
	}()

	cfg := Config{
		SocketPath: socketPath,
		Timeout:    5 * time.Second,
	}

	client := NewClient(cfg)
	ctx := context.Background()

	params := QueryParams{
		EngramPath: "/nonexistent.engram",
		QueryText:  "test",
	}

	_, err = client.Query(ctx, params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no engram loaded")
}

func TestClient_Query_InvalidParamsRejectedLocally(t *testing.T) {
	cfg := Config{SocketPath: testSocketPath(t), Timeout: 5 * time.Second}
	client := NewClient(cfg)

	_, err := client.Query(context.Background(), QueryParams{QueryText: "test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid params")
}

func TestClient_Status_Success(t *testing.T) {
	socketPath := testSocketPath(t)

	expectedStatus := StatusResult{
		Running:    true,
		PID:        12345,
		Uptime:     "5m",
		EngramPath: "/repo.engram",
		Dimension:  8192,
		FileCount:  3,
		ChunkCount: 42,
	}

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var req Request
		if err := ReadMessage(conn, &req); err != nil {
			return
		}

		resp := NewSuccessResponse(req.ID, expectedStatus)
		_ = WriteMessage(conn, resp)
	}()

	cfg := Config{
		SocketPath: socketPath,
		Timeout:    5 * time.Second,
	}

	client := NewClient(cfg)
	ctx := context.Background()

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, 12345, status.PID)
	assert.Equal(t, "/repo.engram", status.EngramPath)
}

func TestClient_Connect_Timeout(t *testing.T) {
	tmpDir := t.TempDir()
	socketPath := filepath.Join(tmpDir, "nonexistent.sock")

	cfg := Config{
		SocketPath: socketPath,
		Timeout:    100 * time.Millisecond,
	}

	client := NewClient(cfg)

	_, err := client.Connect()
	require.Error(t, err)
}
