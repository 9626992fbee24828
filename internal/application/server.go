package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"fetcher-mcp-server/internal/domain"
)

// Server is the main MCP server implementation.
// It pulls decoded requests off the transport, dispatches them by method
// name, and writes exactly one well-formed response back to the session
// each request arrived on. It has no knowledge of byte framing.
type Server struct {
	transport domain.Transport
	router    *RequestRouter
	config    *domain.Config
	logger    *slog.Logger

	// One lock per SSE session so dispatch within a session is serialized
	// while unrelated sessions proceed concurrently.
	sessionLocks sync.Map

	// Closed when the transport's request channel closes.
	done chan struct{}
}

// NewServer creates a new MCP server instance.
func NewServer(transport domain.Transport, router *RequestRouter, config *domain.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		transport: transport,
		router:    router,
		config:    config,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Done is closed once the transport stops delivering requests, e.g. when
// stdin reaches end of input.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Start begins the server operation.
// It starts the transport layer and begins processing incoming requests.
func (s *Server) Start(ctx context.Context) error {
	if err := s.transport.Start(ctx); err != nil {
		s.logger.Error("failed to start transport", "transport_type", s.config.Transport.Type, "error", err)
		return fmt.Errorf("failed to start transport: %w", err)
	}

	s.logger.Info("server started", "transport_type", s.config.Transport.Type)

	go s.processRequests(ctx)

	return nil
}

// processRequests continuously processes incoming JSON-RPC requests.
// Stdio messages are handled inline so responses leave in arrival order;
// SSE messages are handled concurrently, serialized per session.
func (s *Server) processRequests(ctx context.Context) {
	reqChan := s.transport.Receive()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("server shutting down")
			return
		case inbound, ok := <-reqChan:
			if !ok {
				// Channel closed, transport is shutting down.
				close(s.done)
				return
			}

			if inbound.SessionID == "" {
				s.handleRequest(ctx, inbound)
				continue
			}

			go func(in *domain.Inbound) {
				lock, _ := s.sessionLocks.LoadOrStore(in.SessionID, &sync.Mutex{})
				mu := lock.(*sync.Mutex)
				mu.Lock()
				defer mu.Unlock()
				s.handleRequest(ctx, in)
			}(inbound)
		}
	}
}

// handleRequest processes a single JSON-RPC request and sends the response.
// It never lets a failure escape as anything but a structured error response.
func (s *Server) handleRequest(ctx context.Context, inbound *domain.Inbound) {
	req := inbound.Request

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during request handling", "method", req.Method, "panic", r)
			s.sendErrorResponse(inbound, req.ID, domain.InternalError, string(domain.KindInternal), "Internal error", nil)
		}
	}()

	s.logger.Info("received request", "method", req.Method, "request_id", req.ID, "session_id", inbound.SessionID)

	if err := s.validateRequest(req); err != nil {
		s.sendErrorResponse(inbound, req.ID, domain.InvalidRequest, "", "Invalid Request", err.Error())
		return
	}

	var response *domain.Response

	switch req.Method {
	case "initialize":
		response = s.handleInitialize(req)
	case "tools/list":
		response = s.handleToolsList(req)
	case "tools/call":
		response = s.handleToolsCall(ctx, req)
	case "ping":
		response = s.handlePing(req)
	default:
		s.sendErrorResponse(inbound, req.ID, domain.MethodNotFound, "", "Method not found", fmt.Sprintf("unknown method: %s", req.Method))
		return
	}

	if err := s.transport.Send(inbound.SessionID, response); err != nil {
		s.logger.Error("failed to send response", "request_id", req.ID, "error", err)
	}
}

// validateRequest validates the basic structure of a JSON-RPC request.
func (s *Server) validateRequest(req *domain.Request) error {
	if req.JSONRPC != "2.0" {
		return fmt.Errorf("invalid jsonrpc version: %s", req.JSONRPC)
	}

	if req.Method == "" {
		return fmt.Errorf("method is required")
	}

	return nil
}

// handleInitialize handles the MCP initialize method.
// This is the initial handshake between client and server.
func (s *Server) handleInitialize(req *domain.Request) *domain.Response {
	result := map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    s.config.Server.Name,
			"version": s.config.Server.Version,
		},
	}

	return &domain.Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	}
}

// handleToolsList handles the MCP tools/list method.
// The result is the list of tool definitions itself.
func (s *Server) handleToolsList(req *domain.Request) *domain.Response {
	return &domain.Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  s.router.ListAllTools(),
	}
}

// handleToolsCall handles the MCP tools/call method.
// Executes a tool call by routing it to the appropriate handler.
func (s *Server) handleToolsCall(ctx context.Context, req *domain.Request) *domain.Response {
	toolReq, err := s.parseToolRequest(req.Params)
	if err != nil {
		return domain.NewErrorResponse(req.ID, domain.InvalidParams, string(domain.KindSchemaValidation), "Invalid params", err.Error())
	}

	result, err := s.router.Route(ctx, toolReq)
	if err != nil {
		s.logger.Error("tool execution failed", "tool", toolReq.Name, "request_id", req.ID, "error", err)
		return s.mappedErrorResponse(req.ID, err)
	}

	return &domain.Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	}
}

// handlePing handles the protocol-level liveness check.
func (s *Server) handlePing(req *domain.Request) *domain.Response {
	return &domain.Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  map[string]interface{}{},
	}
}

// parseToolRequest parses the params field into a ToolRequest.
func (s *Server) parseToolRequest(params interface{}) (*domain.ToolRequest, error) {
	if params == nil {
		return nil, fmt.Errorf("params is required for tools/call")
	}

	// Convert params to JSON and back to ToolRequest.
	// This handles both map[string]interface{} and already-parsed structs.
	jsonData, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	var toolReq domain.ToolRequest
	if err := json.Unmarshal(jsonData, &toolReq); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool request: %w", err)
	}

	if toolReq.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}

	if toolReq.Arguments == nil {
		toolReq.Arguments = make(map[string]interface{})
	}

	return &toolReq, nil
}

// mappedErrorResponse converts a pipeline error into a structured JSON-RPC
// error response. Typed FetchErrors carry their own kind and code;
// anything else is an internal error whose detail stays in the log.
func (s *Server) mappedErrorResponse(id interface{}, err error) *domain.Response {
	var fetchErr *domain.FetchError
	if errors.As(err, &fetchErr) {
		var data interface{}
		if fetchErr.Status != 0 {
			data = map[string]interface{}{"status": fetchErr.Status}
		}
		return domain.NewErrorResponse(id, fetchErr.Kind.Code(), string(fetchErr.Kind), fetchErr.Message, data)
	}

	return domain.NewErrorResponse(id, domain.InternalError, string(domain.KindInternal), "Internal error", nil)
}

// sendErrorResponse sends a JSON-RPC error response on the originating session.
func (s *Server) sendErrorResponse(inbound *domain.Inbound, id interface{}, code int, kind, message string, data interface{}) {
	response := domain.NewErrorResponse(id, code, kind, message, data)

	if err := s.transport.Send(inbound.SessionID, response); err != nil {
		s.logger.Error("failed to send error response", "request_id", id, "error_code", code, "error", err)
	}
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	s.logger.Info("closing server")
	return s.transport.Close()
}
