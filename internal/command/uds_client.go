package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"firestige.xyz/netslave/internal/driver"
)

// RPCError is an error reply from the daemon.
type RPCError struct {
	Method  string
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s failed: %s (code %d)", e.Method, e.Message, e.Code)
}

// UDSClient talks to the daemon's control socket. Each call uses its own
// connection.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
	seq        atomic.Uint64
}

// NewUDSClient creates a client. A zero timeout means 10s.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

type rawResponse struct {
	ID     interface{}     `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorInfo      `json:"error,omitempty"`
}

func (c *UDSClient) roundTrip(ctx context.Context, method string, params interface{}) (*rawResponse, error) {
	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	id := fmt.Sprintf("%d-%d", os.Getpid(), c.seq.Add(1))
	req := JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: paramsJSON, ID: id}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxRequestBytes)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}
	var resp rawResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	// Refusals sent before the request was read carry no ID.
	if resp.ID != nil && fmt.Sprintf("%v", resp.ID) != id {
		return nil, fmt.Errorf("response ID mismatch: expected %s, got %v", id, resp.ID)
	}
	return &resp, nil
}

// Call sends method and returns the reply with its result decoded
// generically. JSON-RPC errors are returned in Response.Error.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	raw, err := c.roundTrip(ctx, method, params)
	if err != nil {
		return nil, err
	}
	resp := &Response{ID: fmt.Sprintf("%v", raw.ID), Error: raw.Error}
	if len(raw.Result) > 0 {
		if err := json.Unmarshal(raw.Result, &resp.Result); err != nil {
			return nil, fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return resp, nil
}

// invoke sends method and decodes its result into out. JSON-RPC errors are
// returned as *RPCError.
func (c *UDSClient) invoke(ctx context.Context, method string, out interface{}) error {
	raw, err := c.roundTrip(ctx, method, nil)
	if err != nil {
		return err
	}
	if raw.Error != nil {
		return &RPCError{Method: method, Code: raw.Error.Code, Message: raw.Error.Message}
	}
	if out == nil || len(raw.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// DriverStatus fetches the driver snapshot.
func (c *UDSClient) DriverStatus(ctx context.Context) (*driver.Status, error) {
	var st driver.Status
	if err := c.invoke(ctx, MethodDriverStatus, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// DriverRestart asks the daemon to re-initialize the driver between cycles.
func (c *UDSClient) DriverRestart(ctx context.Context) error {
	return c.invoke(ctx, MethodDriverRestart, nil)
}

// DaemonShutdown asks the daemon to stop.
func (c *UDSClient) DaemonShutdown(ctx context.Context) error {
	return c.invoke(ctx, MethodDaemonShutdown, nil)
}

// DaemonStats fetches the daemon counters.
func (c *UDSClient) DaemonStats(ctx context.Context) (*DaemonStats, error) {
	var stats DaemonStats
	if err := c.invoke(ctx, MethodDaemonStats, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// DaemonStatus fetches version, uptime and driver state.
func (c *UDSClient) DaemonStatus(ctx context.Context) (*DaemonInfo, error) {
	var info DaemonInfo
	if err := c.invoke(ctx, MethodDaemonStatus, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Ping fails unless a daemon answers on the socket and is not stopping.
func (c *UDSClient) Ping(ctx context.Context) error {
	info, err := c.DaemonStatus(ctx)
	if err != nil {
		return err
	}
	if info.ShuttingDown {
		return &RPCError{Method: MethodDaemonStatus, Code: ErrCodeShuttingDown, Message: "daemon is shutting down"}
	}
	return nil
}
