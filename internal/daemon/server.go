package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestHandler handles incoming RPC requests against the one engram
// the daemon owns.
type RequestHandler interface {
	HandleIngest(ctx context.Context, params IngestParams) (IngestResult, error)
	HandleQuery(ctx context.Context, params QueryParams) (QueryResult, error)
	HandleUpdate(ctx context.Context, params UpdateParams) (UpdateResult, error)
	HandleCompact(ctx context.Context, params CompactParams) (CompactResult, error)
	GetStatus() StatusResult
}

// Server listens on a Unix socket and handles RPC requests.
type Server struct {
	socketPath string
	listener   net.Listener
	handler    RequestHandler
	started    time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a new server that listens on the given socket path.
func NewServer(socketPath string) (*Server, error) {
	return &Server{
		socketPath: socketPath,
	}, nil
}

// SetHandler sets the request handler for ingest/query/update/compact
// operations.
func (s *Server) SetHandler(h RequestHandler) {
	s.handler = h
}

// ListenAndServe starts the server and blocks until context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Clean up any stale socket
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	s.started = time.Now()

	// Clean up socket on exit
	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("daemon listening", slog.String("socket", s.socketPath))

	// Handle shutdown
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	// Wait for active connections to finish
	s.wg.Wait()

	return ctx.Err()
}

// handleConnection processes a single length-prefixed request/response
// pair on the connection.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		slog.Warn("failed to set connection deadline", slog.String("error", err.Error()))
	}

	var req Request
	if err := ReadMessage(conn, &req); err != nil {
		resp := NewErrorResponse("", ErrCodeParseError, "failed to parse request")
		_ = WriteMessage(conn, resp)
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	resp := s.handleRequest(ctx, req)
	_ = WriteMessage(conn, resp)
}

// handleRequest dispatches a request to the appropriate handler.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	logger := slog.With(slog.String("correlation_id", req.ID), slog.String("method", req.Method))

	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.getStatus())

	case MethodIngest:
		return s.handleIngest(ctx, req, logger)

	case MethodQuery:
		return s.handleQuery(ctx, req, logger)

	case MethodUpdate:
		return s.handleUpdate(ctx, req, logger)

	case MethodCompact:
		return s.handleCompact(ctx, req, logger)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// decodeParams re-marshals req.Params (decoded by encoding/json into a
// generic map) back into the method-specific params type.
func decodeParams(raw any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}

func (s *Server) handleIngest(ctx context.Context, req Request, logger *slog.Logger) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	var params IngestParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	logger.Info("ingest requested", slog.String("root_path", params.RootPath))
	result, err := s.handler.HandleIngest(ctx, params)
	if err != nil {
		logger.Warn("ingest failed", slog.String("error", err.Error()))
		return NewErrorResponse(req.ID, ErrCodeEngramFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleQuery(ctx context.Context, req Request, logger *slog.Logger) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	var params QueryParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	logger.Debug("query requested", slog.String("engram_path", params.EngramPath))
	result, err := s.handler.HandleQuery(ctx, params)
	if err != nil {
		logger.Warn("query failed", slog.String("error", err.Error()))
		return NewErrorResponse(req.ID, ErrCodeEngramFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

func (s *Server) handleUpdate(ctx context.Context, req Request, logger *slog.Logger) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	var params UpdateParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	logger.Info("update requested", slog.String("op", string(params.Op)), slog.String("path", params.Path))
	result, err := s.handler.HandleUpdate(ctx, params)
	if err != nil {
		logger.Warn("update failed", slog.String("error", err.Error()))
		return NewErrorResponse(req.ID, ErrCodeEngramFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}

// getStatus returns the current server status, filled in by the
// handler's view of the engram it owns.
func (s *Server) getStatus() StatusResult {
	status := StatusResult{
		Running: true,
		PID:     os.Getpid(),
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}

	if s.handler != nil {
		handlerStatus := s.handler.GetStatus()
		status.EngramPath = handlerStatus.EngramPath
		status.Dimension = handlerStatus.Dimension
		status.FileCount = handlerStatus.FileCount
		status.ChunkCount = handlerStatus.ChunkCount
	}

	return status
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleCompact(ctx context.Context, req Request, logger *slog.Logger) Response {
	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}
	var params CompactParams
	if err := decodeParams(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	logger.Info("compact requested", slog.String("engram_path", params.EngramPath))
	result, err := s.handler.HandleCompact(ctx, params)
	if err != nil {
		logger.Warn("compact failed", slog.String("error", err.Error()))
		return NewErrorResponse(req.ID, ErrCodeEngramFailed, err.Error())
	}
	return NewSuccessResponse(req.ID, result)
}
