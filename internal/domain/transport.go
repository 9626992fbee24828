package domain

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Inbound pairs a decoded JSON-RPC request with the session it arrived on.
// SessionID is empty for the stdio transport, which has exactly one
// implicit session per process.
type Inbound struct {
	Request   *Request
	SessionID string
}

// Transport defines the interface for MCP transport mechanisms.
// Implementations handle communication between MCP clients and the server
// using either stdio or SSE transport. The server above this interface
// never sees byte framing; transports never see dispatch logic.
type Transport interface {
	// Start begins listening for incoming MCP messages.
	// Returns an error if the transport cannot be initialized.
	Start(ctx context.Context) error

	// Send transmits a JSON-RPC response to the session that originated
	// the request. Returns an error if the session is gone or the
	// response cannot be written.
	Send(sessionID string, response *Response) error

	// Receive returns a channel for incoming requests.
	// The channel is closed when the transport is shut down.
	Receive() <-chan *Inbound

	// Close gracefully shuts down the transport.
	Close() error
}

// StdioTransport implements Transport using stdin/stdout for communication.
// It reads newline-delimited JSON-RPC messages from stdin and writes
// responses to stdout, one per line, flushed immediately. Messages are
// surfaced strictly in the order they were read.
type StdioTransport struct {
	reader  *bufio.Reader
	writer  *bufio.Writer
	reqChan chan *Inbound
	logger  *slog.Logger
	mu      sync.Mutex
	closed  bool
}

// NewStdioTransport creates a new StdioTransport instance bound to
// os.Stdin and os.Stdout.
func NewStdioTransport(logger *slog.Logger) *StdioTransport {
	return NewStdioTransportWithIO(os.Stdin, os.Stdout, logger)
}

// NewStdioTransportWithIO creates a new StdioTransport with custom IO streams.
// This is primarily used for testing.
func NewStdioTransportWithIO(reader io.Reader, writer io.Writer, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		reader:  bufio.NewReader(reader),
		writer:  bufio.NewWriter(writer),
		reqChan: make(chan *Inbound),
		logger:  logger,
	}
}

// Start begins reading JSON-RPC messages from stdin.
// It spawns a goroutine that continuously reads newline-delimited messages
// and sends them to the request channel.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}
	t.mu.Unlock()

	go t.readLoop(ctx)
	return nil
}

// readLoop continuously reads from stdin and parses JSON-RPC requests.
// Line framing has no resynchronization strategy: a line that is not
// parseable as JSON at all terminates the session.
func (t *StdioTransport) readLoop(ctx context.Context) {
	defer close(t.reqChan)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			line, err := t.reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					// Process any final unterminated line before exiting.
					line = strings.TrimSpace(line)
					if line != "" {
						t.dispatchLine(ctx, line)
					}
					return
				}
				t.logger.Error("stdin read failed", "error", err)
				return
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			if !t.dispatchLine(ctx, line) {
				return
			}
		}
	}
}

// dispatchLine decodes one input line and forwards it. It returns false
// when the session must terminate (unparseable framing or cancelled context).
func (t *StdioTransport) dispatchLine(ctx context.Context, line string) bool {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		// No message id to report against: the framing is broken and the
		// session cannot be resynchronized.
		t.logger.Error("unparseable input line, terminating session", "error", err)
		t.sendError(nil, ParseError, "Parse error", err.Error())
		return false
	}

	if req.JSONRPC != "2.0" {
		// The frame decoded, so the failure is recoverable: report it
		// against the message id and keep reading.
		t.sendError(req.ID, InvalidRequest, "Invalid Request", "invalid jsonrpc version")
		return true
	}

	select {
	case t.reqChan <- &Inbound{Request: &req}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Send writes a JSON-RPC response to stdout.
// The response is serialized as a single line of JSON followed by a newline
// and flushed so the peer observes it without buffering delay.
func (t *StdioTransport) Send(sessionID string, response *Response) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport is closed")
	}

	if response.JSONRPC == "" {
		response.JSONRPC = "2.0"
	}

	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	if _, err := t.writer.WriteString(string(data) + "\n"); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	if err := t.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush response: %w", err)
	}

	return nil
}

// Receive returns the channel for incoming JSON-RPC requests.
func (t *StdioTransport) Receive() <-chan *Inbound {
	return t.reqChan
}

// Close gracefully shuts down the transport.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true
	// reqChan is closed by readLoop.
	return nil
}

// sendError sends an error response. Failures are ignored since we are
// already handling an error.
func (t *StdioTransport) sendError(id interface{}, code int, message string, data interface{}) {
	_ = t.Send("", NewErrorResponse(id, code, "", message, data))
}

// keepAliveInterval is how often SSE streams emit a comment frame to keep
// intermediaries from timing out idle connections.
const keepAliveInterval = 30 * time.Second

// SSETransport implements Transport over HTTP with Server-Sent Events.
// It exposes three endpoints:
//  1. GET /sse opens a persistent event stream and allocates a session
//  2. POST <messagePath>?clientId=<id> accepts one JSON-RPC request
//  3. GET /health reports process liveness
//
// Responses for a session are pushed onto that session's event stream, not
// onto the HTTP response of the POST, which only acknowledges receipt.
type SSETransport struct {
	host        string
	port        int
	messagePath string
	serverName  string
	version     string
	server      *http.Server
	reqChan     chan *Inbound
	logger      *slog.Logger
	mu          sync.Mutex
	closed      bool
	// Correlation table from opaque client id to live event stream.
	sessions   map[string]*sseSession
	sessionsMu sync.RWMutex
}

// sseSession represents an active SSE connection. The stream is written by
// exactly one goroutine (the handleSSE loop), so events are never interleaved.
type sseSession struct {
	id          string
	messageChan chan *Response
	done        chan struct{}
}

// NewSSETransport creates a new SSETransport instance.
func NewSSETransport(host string, port int, messagePath, serverName, version string, logger *slog.Logger) *SSETransport {
	if logger == nil {
		logger = slog.Default()
	}
	if messagePath == "" {
		messagePath = DefaultMessagePath
	}
	return &SSETransport{
		host:        host,
		port:        port,
		messagePath: messagePath,
		serverName:  serverName,
		version:     version,
		reqChan:     make(chan *Inbound, 10),
		logger:      logger,
		sessions:    make(map[string]*sseSession),
	}
}

// Start begins the HTTP server and starts listening for incoming requests.
func (t *SSETransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}
	t.mu.Unlock()

	t.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", t.host, t.port),
		Handler: t.Handler(),
	}

	go func() {
		if err := t.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("SSE server stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		t.Close()
	}()

	return nil
}

// Handler returns the HTTP handler serving the SSE, message and health
// endpoints. Exposed separately so tests can drive the transport through
// httptest without binding a port.
func (t *SSETransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", t.handleSSE)
	mux.HandleFunc(t.messagePath, t.handleMessage)
	mux.HandleFunc("/health", t.handleHealth)
	return mux
}

// handleSSE handles SSE connections (GET requests) for server-to-client messages.
func (t *SSETransport) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	t.mu.Unlock()

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	session := &sseSession{
		id:          uuid.New().String(),
		messageChan: make(chan *Response, 10),
		done:        make(chan struct{}),
	}

	t.sessionsMu.Lock()
	t.sessions[session.id] = session
	t.sessionsMu.Unlock()

	// First event tells the client where to POST subsequent requests.
	fmt.Fprintf(w, "event: endpoint\ndata: %s?clientId=%s\n\n", t.messagePath, session.id)
	flusher.Flush()

	t.logger.Info("SSE session established", "session_id", session.id, "remote", r.RemoteAddr)

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			t.logger.Info("SSE session disconnected", "session_id", session.id)
			t.removeSession(session)
			return
		case <-session.done:
			return
		case response := <-session.messageChan:
			data, err := json.Marshal(response)
			if err != nil {
				t.logger.Error("failed to marshal response", "session_id", session.id, "error", err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", string(data))
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// removeSession drops a session from the correlation table and signals its
// writer loop to stop.
func (t *SSETransport) removeSession(session *sseSession) {
	t.sessionsMu.Lock()
	if _, ok := t.sessions[session.id]; ok {
		delete(t.sessions, session.id)
		close(session.done)
	}
	t.sessionsMu.Unlock()
}

// handleMessage handles HTTP POST requests for client-to-server messages.
// The response to the POST itself is only an acknowledgement; the actual
// result is delivered asynchronously on the session's event stream.
func (t *SSETransport) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	t.mu.Unlock()

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		http.Error(w, "Missing clientId parameter", http.StatusBadRequest)
		return
	}

	t.sessionsMu.RLock()
	session, exists := t.sessions[clientID]
	t.sessionsMu.RUnlock()

	if !exists {
		// Unknown sessions are rejected without affecting anyone else.
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		resp := NewErrorResponse(nil, UnknownSessionError, string(KindUnknownSession),
			"Unknown session", fmt.Sprintf("no session with clientId %q", clientID))
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		t.pushError(session, nil, ParseError, "Parse error", err.Error())
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if req.JSONRPC != "2.0" {
		t.pushError(session, req.ID, InvalidRequest, "Invalid Request", "invalid jsonrpc version")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	select {
	case t.reqChan <- &Inbound{Request: &req, SessionID: session.id}:
		w.WriteHeader(http.StatusAccepted)
	default:
		t.pushError(session, req.ID, InternalError, "Internal error", "request queue full")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

// handleHealth reports process liveness, independent of session state.
func (t *SSETransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"server":  t.serverName,
		"version": t.version,
	})
}

// pushError queues an error response onto a session's event stream.
func (t *SSETransport) pushError(session *sseSession, id interface{}, code int, message string, data interface{}) {
	response := NewErrorResponse(id, code, "", message, data)
	select {
	case session.messageChan <- response:
	default:
		t.logger.Error("failed to push error to session", "session_id", session.id)
	}
}

// Send pushes a JSON-RPC response onto the event stream of the session
// that originated the request.
func (t *SSETransport) Send(sessionID string, response *Response) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}
	t.mu.Unlock()

	if response.JSONRPC == "" {
		response.JSONRPC = "2.0"
	}

	t.sessionsMu.RLock()
	session, exists := t.sessions[sessionID]
	t.sessionsMu.RUnlock()

	if !exists {
		return fmt.Errorf("no session with id %q", sessionID)
	}

	select {
	case session.messageChan <- response:
		return nil
	case <-session.done:
		return fmt.Errorf("session %q closed", sessionID)
	}
}

// Receive returns the channel for incoming JSON-RPC requests.
func (t *SSETransport) Receive() <-chan *Inbound {
	return t.reqChan
}

// Close gracefully shuts down the HTTP server and all SSE sessions.
// New sessions are rejected once shutdown begins.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true

	t.sessionsMu.Lock()
	for _, session := range t.sessions {
		close(session.done)
	}
	t.sessions = make(map[string]*sseSession)
	t.sessionsMu.Unlock()

	close(t.reqChan)

	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}

	return nil
}
