package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// Client connects to the daemon to run ingest/query/update/compact
// operations against the engram it owns.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var result PingResult
	return c.call(ctx, MethodPing, nil, &result)
}

// Ingest asks the daemon to build a fresh engram from a directory.
func (c *Client) Ingest(ctx context.Context, params IngestParams) (IngestResult, error) {
	if err := params.Validate(); err != nil {
		return IngestResult{}, fmt.Errorf("invalid params: %w", err)
	}
	var result IngestResult
	err := c.call(ctx, MethodIngest, params, &result)
	return result, err
}

// Query asks the daemon for the closest matching chunks to a text query.
func (c *Client) Query(ctx context.Context, params QueryParams) (QueryResult, error) {
	if err := params.Validate(); err != nil {
		return QueryResult{}, fmt.Errorf("invalid params: %w", err)
	}
	var result QueryResult
	err := c.call(ctx, MethodQuery, params, &result)
	return result, err
}

// Update applies a single incremental mutation to the daemon's engram.
func (c *Client) Update(ctx context.Context, params UpdateParams) (UpdateResult, error) {
	if err := params.Validate(); err != nil {
		return UpdateResult{}, fmt.Errorf("invalid params: %w", err)
	}
	var result UpdateResult
	err := c.call(ctx, MethodUpdate, params, &result)
	return result, err
}

// Compact requests reclamation of tombstoned codebook entries.
func (c *Client) Compact(ctx context.Context, params CompactParams) (CompactResult, error) {
	if err := params.Validate(); err != nil {
		return CompactResult{}, fmt.Errorf("invalid params: %w", err)
	}
	var result CompactResult
	err := c.call(ctx, MethodCompact, params, &result)
	return result, err
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var status StatusResult
	if err := c.call(ctx, MethodStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// call performs one request/response round trip: connect, send params
// under a fresh correlation id, receive, and decode the result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      uuid.NewString(),
	}

	if err := c.send(conn, req); err != nil {
		return err
	}

	resp, err := c.receive(conn)
	if err != nil {
		return err
	}

	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s (code: %d)", method, resp.Error.Message, resp.Error.Code)
	}

	if out == nil {
		return nil
	}

	resultData, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultData, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// send writes a length-prefixed request to the connection.
func (c *Client) send(conn net.Conn, req Request) error {
	if err := WriteMessage(conn, req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// receive reads a length-prefixed response from the connection.
func (c *Client) receive(conn net.Conn) (*Response, error) {
	var resp Response
	if err := ReadMessage(conn, &resp); err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	return &resp, nil
}
