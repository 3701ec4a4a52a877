package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"firestige.xyz/netslave/internal/log"
)

const (
	// MaxConns bounds concurrent control connections.
	MaxConns = 4

	// idleTimeout closes connections that stop sending requests.
	idleTimeout = 30 * time.Second

	// maxRequestBytes bounds one request line.
	maxRequestBytes = 64 * 1024
)

// JSONRPCRequest is one newline-delimited JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse is one newline-delimited JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// UDSServer serves the daemon's control plane on a Unix socket.
type UDSServer struct {
	socketPath string
	handler    *CommandHandler
	slots      *semaphore.Weighted

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	stopped  bool
}

// NewUDSServer creates a server for socketPath.
func NewUDSServer(socketPath string, handler *CommandHandler) *UDSServer {
	return &UDSServer{
		socketPath: socketPath,
		handler:    handler,
		slots:      semaphore.NewWeighted(MaxConns),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start listens on the socket and blocks until ctx is cancelled.
func (s *UDSServer) Start(ctx context.Context) error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}
	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		l.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	log.Named("control").WithField("socket", s.socketPath).Info("control socket listening")
	go s.acceptLoop(ctx, l)

	<-ctx.Done()
	return s.Stop()
}

func (s *UDSServer) acceptLoop(ctx context.Context, l net.Listener) {
	logger := log.Named("control")
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.isStopped() {
				return
			}
			logger.WithError(err).Warn("control socket accept failed")
			continue
		}
		if !s.slots.TryAcquire(1) {
			logger.Warnf("rejecting control connection, %d already open", MaxConns)
			s.refuse(conn, ErrCodeBusy, "too many control connections")
			continue
		}
		if !s.track(conn) {
			s.slots.Release(1)
			conn.Close()
			return
		}
		go s.serveConn(ctx, conn)
	}
}

// track registers conn unless the server is stopping.
func (s *UDSServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *UDSServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
	s.slots.Release(1)
	s.wg.Done()
}

func (s *UDSServer) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// refuse answers a connection that will not be served, then closes it.
func (s *UDSServer) refuse(conn net.Conn, code int, msg string) {
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = json.NewEncoder(conn).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   &ErrorInfo{Code: code, Message: msg},
	})
	conn.Close()
}

func (s *UDSServer) serveConn(ctx context.Context, conn net.Conn) {
	defer s.untrack(conn)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxRequestBytes)
	encoder := json.NewEncoder(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if !scanner.Scan() {
			break
		}
		resp := s.dispatch(ctx, scanner.Bytes())
		_ = conn.SetWriteDeadline(time.Now().Add(idleTimeout))
		if err := encoder.Encode(resp); err != nil {
			log.Named("control").WithError(err).Warn("failed to send control response")
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, os.ErrDeadlineExceeded) {
		log.Named("control").WithError(err).Warn("control connection error")
	}
}

// dispatch decodes one request line and runs it through the handler. Once
// daemon_shutdown has been accepted only daemon_status is still answered.
func (s *UDSServer) dispatch(ctx context.Context, line []byte) JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return rpcError(nil, ErrCodeParseError, fmt.Sprintf("parse error: %v", err))
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return rpcError(req.ID, ErrCodeInvalidRequest, "expected a JSON-RPC 2.0 request with a method")
	}
	if s.handler.ShuttingDown() && req.Method != MethodDaemonStatus {
		return rpcError(req.ID, ErrCodeShuttingDown, "daemon is shutting down")
	}

	resp := s.handler.Handle(ctx, Command{
		Method: req.Method,
		Params: req.Params,
		ID:     fmt.Sprintf("%v", req.ID),
	})
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  resp.Result,
		Error:   resp.Error,
	}
}

func rpcError(id interface{}, code int, msg string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorInfo{Code: code, Message: msg},
	}
}

// Stop closes the listener and every open connection, then removes the
// socket file. It is safe to call more than once.
func (s *UDSServer) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	os.RemoveAll(s.socketPath)
	log.Named("control").Info("control socket closed")
	return nil
}
