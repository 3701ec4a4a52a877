// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"firestige.xyz/netslave/internal/driver"
	"firestige.xyz/netslave/internal/log"
)

// Version is reported by daemon_status.
const Version = "0.1.0"

// Controller is the daemon surface driven by control commands.
type Controller interface {
	// DriverStatus returns a snapshot taken between cycles.
	DriverStatus() driver.Status
	// RequestRestart queues a re-Initialize for the cycle loop.
	RequestRestart() error
	Stats() DaemonStats
}

// DaemonStats are the daemon's runtime counters.
type DaemonStats struct {
	UptimeSec           int64  `json:"uptime_sec"`
	Cycles              uint64 `json:"cycles"`
	SyncMissed          uint64 `json:"sync_missed"`
	Lost                uint64 `json:"lost"`
	Dropped             uint64 `json:"dropped"`
	Failures            uint64 `json:"failures"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Restarts            int    `json:"restarts"`
}

// DaemonInfo is the daemon_status result.
type DaemonInfo struct {
	Version      string       `json:"version"`
	UptimeSec    int64        `json:"uptime_sec"`
	DriverState  driver.State `json:"driver_state,omitempty"`
	ShuttingDown bool         `json:"shutting_down"`
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	controller   Controller
	shutdownFunc func() // Called by daemon_shutdown to trigger graceful stop
	startTime    int64  // Unix timestamp of daemon start for uptime calc
	shuttingDown atomic.Bool
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(c Controller) *CommandHandler {
	return &CommandHandler{
		controller: c,
		startTime:  time.Now().Unix(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// ShuttingDown reports whether daemon_shutdown has been accepted.
func (h *CommandHandler) ShuttingDown() bool {
	return h.shuttingDown.Load()
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "driver_status", "driver_restart"
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
	ErrCodeShuttingDown   = -32000 // Daemon is stopping
	ErrCodeBusy           = -32001 // Connection limit reached
)

// Method names.
const (
	MethodDriverStatus   = "driver_status"
	MethodDriverRestart  = "driver_restart"
	MethodDaemonShutdown = "daemon_shutdown"
	MethodDaemonStatus   = "daemon_status"
	MethodDaemonStats    = "daemon_stats"
)

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	log.Named("control").WithField("method", cmd.Method).WithField("id", cmd.ID).Debug("handling command")

	switch cmd.Method {
	case MethodDriverStatus:
		return h.handleDriverStatus(ctx, cmd)
	case MethodDriverRestart:
		return h.handleDriverRestart(ctx, cmd)
	case MethodDaemonShutdown:
		return h.handleDaemonShutdown(ctx, cmd)
	case MethodDaemonStatus:
		return h.handleDaemonStatus(ctx, cmd)
	case MethodDaemonStats:
		return h.handleDaemonStats(ctx, cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func errorResponse(id string, code int, msg string) Response {
	return Response{
		ID:    id,
		Error: &ErrorInfo{Code: code, Message: msg},
	}
}

// handleDriverStatus returns the driver lifecycle state, session and counters.
func (h *CommandHandler) handleDriverStatus(_ context.Context, cmd Command) Response {
	if h.controller == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "driver not available")
	}
	return Response{
		ID:     cmd.ID,
		Result: h.controller.DriverStatus(),
	}
}

// handleDriverRestart queues a driver re-initialization.
func (h *CommandHandler) handleDriverRestart(_ context.Context, cmd Command) Response {
	if h.controller == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "driver not available")
	}
	if err := h.controller.RequestRestart(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("restart failed: %v", err))
	}
	log.Named("control").Info("driver_restart command received")
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "restart_requested",
		},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	if !h.shuttingDown.CompareAndSwap(false, true) {
		return errorResponse(cmd.ID, ErrCodeShuttingDown, "daemon is already shutting down")
	}
	log.Named("control").Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "shutting_down",
		},
	}
}

// handleDaemonStatus returns daemon status information.
func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	result := DaemonInfo{
		Version:      Version,
		UptimeSec:    time.Now().Unix() - h.startTime,
		ShuttingDown: h.ShuttingDown(),
	}
	if h.controller != nil {
		result.DriverState = h.controller.DriverStatus().State
	}
	return Response{
		ID:     cmd.ID,
		Result: result,
	}
}

// handleDaemonStats returns runtime statistics.
func (h *CommandHandler) handleDaemonStats(_ context.Context, cmd Command) Response {
	if h.controller == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "driver not available")
	}
	stats := h.controller.Stats()
	stats.UptimeSec = time.Now().Unix() - h.startTime
	return Response{
		ID:     cmd.ID,
		Result: stats,
	}
}
