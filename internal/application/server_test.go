package application

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fetcher-mcp-server/internal/domain"
)

// sentResponse pairs a response with the session it was sent to.
type sentResponse struct {
	sessionID string
	response  *domain.Response
}

// mockTransport feeds requests to the server and captures what it sends back.
type mockTransport struct {
	reqChan  chan *domain.Inbound
	sentChan chan sentResponse
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		reqChan:  make(chan *domain.Inbound, 10),
		sentChan: make(chan sentResponse, 10),
	}
}

func (m *mockTransport) Start(ctx context.Context) error { return nil }

func (m *mockTransport) Send(sessionID string, response *domain.Response) error {
	m.sentChan <- sentResponse{sessionID: sessionID, response: response}
	return nil
}

func (m *mockTransport) Receive() <-chan *domain.Inbound { return m.reqChan }

func (m *mockTransport) Close() error { return nil }

// push delivers a request to the server and waits for its response.
func (m *mockTransport) push(t *testing.T, req *domain.Request, sessionID string) *domain.Response {
	t.Helper()

	m.reqChan <- &domain.Inbound{Request: req, SessionID: sessionID}

	select {
	case sent := <-m.sentChan:
		if sent.sessionID != sessionID {
			t.Errorf("Response went to session %q, want %q", sent.sessionID, sessionID)
		}
		return sent.response
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for response")
		return nil
	}
}

func testConfig() *domain.Config {
	return &domain.Config{
		Server:    domain.ServerConfig{Name: "mcp-fetcher-http", Version: "1.0.0"},
		Transport: domain.TransportConfig{Type: "stdio"},
		Fetch:     domain.FetchConfig{TimeoutSeconds: 5},
	}
}

// startTestServer wires a server to a mock transport and a stubbed pipeline.
func startTestServer(t *testing.T, fetcher Fetcher, converter Converter) *mockTransport {
	t.Helper()

	transport := newMockTransport()
	handler := NewFetchHandler(fetcher, converter, nil)
	router := NewRequestRouter(handler)
	server := NewServer(transport, router, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := server.Start(ctx); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	return transport
}

// TestServer_ToolsList tests that tools/list returns the tool definitions
// as the result itself.
func TestServer_ToolsList(t *testing.T) {
	transport := startTestServer(t, &stubFetcher{}, &stubConverter{})

	resp := transport.push(t, &domain.Request{JSONRPC: "2.0", ID: 1, Method: "tools/list"}, "")

	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	if resp.ID != 1 {
		t.Errorf("Expected id 1, got %v", resp.ID)
	}

	tools, ok := resp.Result.([]domain.ToolDefinition)
	if !ok {
		t.Fatalf("Expected []ToolDefinition result, got %T", resp.Result)
	}
	if len(tools) != 1 || tools[0].Name != "fetch_url" {
		t.Errorf("Expected the fetch_url tool, got %+v", tools)
	}
}

// TestServer_ToolsCallSuccess tests a successful fetch_url call.
func TestServer_ToolsCallSuccess(t *testing.T) {
	fetcher := &stubFetcher{html: "<h1>Example</h1>"}
	converter := &stubConverter{markdown: "# Example"}
	transport := startTestServer(t, fetcher, converter)

	resp := transport.push(t, &domain.Request{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/call",
		Params: map[string]interface{}{
			"name":      "fetch_url",
			"arguments": map[string]interface{}{"url": "https://example.com"},
		},
	}, "")

	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}

	result, ok := resp.Result.(*domain.FetchResult)
	if !ok {
		t.Fatalf("Expected *FetchResult, got %T", resp.Result)
	}
	if result.Markdown != "# Example" {
		t.Errorf("Expected markdown result, got %q", result.Markdown)
	}
	if result.URL != "https://example.com" {
		t.Errorf("Expected source URL, got %q", result.URL)
	}
}

// TestServer_ToolsCallUnknownTool tests the structured error for an
// unregistered tool.
func TestServer_ToolsCallUnknownTool(t *testing.T) {
	fetcher := &stubFetcher{}
	transport := startTestServer(t, fetcher, &stubConverter{})

	resp := transport.push(t, &domain.Request{
		JSONRPC: "2.0",
		ID:      3,
		Method:  "tools/call",
		Params:  map[string]interface{}{"name": "nonexistent_tool"},
	}, "")

	if resp.Error == nil {
		t.Fatal("Expected an error response")
	}
	if resp.Error.Code != domain.MethodNotFound {
		t.Errorf("Expected code %d, got %d", domain.MethodNotFound, resp.Error.Code)
	}
	if resp.Error.Kind != string(domain.KindUnknownTool) {
		t.Errorf("Expected kind %s, got %s", domain.KindUnknownTool, resp.Error.Kind)
	}
	if fetcher.calls != 0 {
		t.Errorf("Pipeline should not have been touched, got %d calls", fetcher.calls)
	}
}

// TestServer_ToolsCallHTTPError tests that upstream status codes surface
// in the error data.
func TestServer_ToolsCallHTTPError(t *testing.T) {
	fetchErr := domain.NewHTTPStatusError(domain.KindHTTPStatus, 404, "HTTP 404: failed to fetch")
	transport := startTestServer(t, &stubFetcher{err: fetchErr}, &stubConverter{})

	resp := transport.push(t, &domain.Request{
		JSONRPC: "2.0",
		ID:      4,
		Method:  "tools/call",
		Params: map[string]interface{}{
			"name":      "fetch_url",
			"arguments": map[string]interface{}{"url": "https://example.com/missing"},
		},
	}, "")

	if resp.Error == nil {
		t.Fatal("Expected an error response")
	}
	if resp.Error.Code != domain.HTTPStatusError {
		t.Errorf("Expected code %d, got %d", domain.HTTPStatusError, resp.Error.Code)
	}
	if resp.Error.Kind != string(domain.KindHTTPStatus) {
		t.Errorf("Expected kind %s, got %s", domain.KindHTTPStatus, resp.Error.Kind)
	}

	data, ok := resp.Error.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected error data object, got %T", resp.Error.Data)
	}
	if data["status"] != 404 {
		t.Errorf("Expected status 404 in error data, got %v", data["status"])
	}
}

// TestServer_ToolsCallInvalidParams tests malformed tools/call params.
func TestServer_ToolsCallInvalidParams(t *testing.T) {
	transport := startTestServer(t, &stubFetcher{}, &stubConverter{})

	tests := []struct {
		name   string
		params interface{}
	}{
		{name: "nil params", params: nil},
		{name: "missing tool name", params: map[string]interface{}{"arguments": map[string]interface{}{}}},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := transport.push(t, &domain.Request{
				JSONRPC: "2.0",
				ID:      10 + i,
				Method:  "tools/call",
				Params:  tt.params,
			}, "")

			if resp.Error == nil {
				t.Fatal("Expected an error response")
			}
			if resp.Error.Code != domain.InvalidParams {
				t.Errorf("Expected code %d, got %d", domain.InvalidParams, resp.Error.Code)
			}
		})
	}
}

// TestServer_UnknownMethod tests dispatch of an unrecognized method name.
func TestServer_UnknownMethod(t *testing.T) {
	transport := startTestServer(t, &stubFetcher{}, &stubConverter{})

	resp := transport.push(t, &domain.Request{JSONRPC: "2.0", ID: 5, Method: "resources/list"}, "")

	if resp.Error == nil {
		t.Fatal("Expected an error response")
	}
	if resp.Error.Code != domain.MethodNotFound {
		t.Errorf("Expected code %d, got %d", domain.MethodNotFound, resp.Error.Code)
	}
}

// TestServer_Ping tests the protocol-level liveness method.
func TestServer_Ping(t *testing.T) {
	transport := startTestServer(t, &stubFetcher{}, &stubConverter{})

	resp := transport.push(t, &domain.Request{JSONRPC: "2.0", ID: 6, Method: "ping"}, "")

	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}
	if _, ok := resp.Result.(map[string]interface{}); !ok {
		t.Errorf("Expected empty object result, got %T", resp.Result)
	}
}

// TestServer_Initialize tests the handshake response.
func TestServer_Initialize(t *testing.T) {
	transport := startTestServer(t, &stubFetcher{}, &stubConverter{})

	resp := transport.push(t, &domain.Request{JSONRPC: "2.0", ID: 7, Method: "initialize"}, "")

	if resp.Error != nil {
		t.Fatalf("Unexpected error: %+v", resp.Error)
	}

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected object result, got %T", resp.Result)
	}
	if result["protocolVersion"] == "" {
		t.Error("Expected a protocol version")
	}

	serverInfo, ok := result["serverInfo"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected serverInfo object, got %T", result["serverInfo"])
	}
	if serverInfo["name"] != "mcp-fetcher-http" {
		t.Errorf("Expected configured server name, got %v", serverInfo["name"])
	}
}

// TestServer_InvalidRequestVersion tests that a bad envelope yields an
// InvalidRequest error rather than dispatch.
func TestServer_InvalidRequestVersion(t *testing.T) {
	transport := startTestServer(t, &stubFetcher{}, &stubConverter{})

	resp := transport.push(t, &domain.Request{JSONRPC: "1.0", ID: 8, Method: "tools/list"}, "")

	if resp.Error == nil {
		t.Fatal("Expected an error response")
	}
	if resp.Error.Code != domain.InvalidRequest {
		t.Errorf("Expected code %d, got %d", domain.InvalidRequest, resp.Error.Code)
	}
}

// TestServer_SSEEndToEnd drives the full SSE path: open a stream, POST a
// tools/call, and read the result back as an event on the same stream.
func TestServer_SSEEndToEnd(t *testing.T) {
	transport := domain.NewSSETransport("localhost", 0, "/messages", "mcp-fetcher-http", "1.0.0", nil)
	httpServer := httptest.NewServer(transport.Handler())
	t.Cleanup(httpServer.Close)

	handler := NewFetchHandler(&stubFetcher{html: "<h1>Example Domain</h1>"}, &stubConverter{markdown: "# Example Domain"}, nil)
	router := NewRequestRouter(handler)

	config := testConfig()
	config.Transport.Type = "sse"
	server := NewServer(transport, router, config, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	// The transport's HTTP side is driven by httptest, so only the
	// server's dispatch loop needs starting here.
	go server.processRequests(ctx)

	// Open the event stream and collect the advertised clientId.
	resp, err := http.Get(httpServer.URL + "/sse")
	if err != nil {
		t.Fatalf("Failed to open SSE stream: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	clientID := readEndpointClientID(t, scanner)

	// POST a tools/call for the session.
	body := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"fetch_url","arguments":{"url":"https://example.com"}}}`
	postResp, err := http.Post(
		fmt.Sprintf("%s/messages?clientId=%s", httpServer.URL, clientID),
		"application/json",
		strings.NewReader(body),
	)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	postResp.Body.Close()
	if postResp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", postResp.StatusCode)
	}

	// The result arrives asynchronously on the stream.
	data := readMessageEvent(t, scanner)

	var received domain.Response
	if err := json.Unmarshal([]byte(data), &received); err != nil {
		t.Fatalf("Failed to parse event payload: %v", err)
	}
	if received.Error != nil {
		t.Fatalf("Unexpected error: %+v", received.Error)
	}
	if received.ID != float64(2) {
		t.Errorf("Expected id 2, got %v", received.ID)
	}

	result, ok := received.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected result object, got %T", received.Result)
	}
	if result["markdown"] != "# Example Domain" {
		t.Errorf("Expected converted markdown, got %v", result["markdown"])
	}
}

// readEndpointClientID consumes the initial endpoint event.
func readEndpointClientID(t *testing.T, scanner *bufio.Scanner) string {
	t.Helper()
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimPrefix(line, "data: ")
			if idx := strings.Index(data, "clientId="); idx != -1 {
				return data[idx+len("clientId="):]
			}
		}
	}
	t.Fatal("Stream ended before the endpoint event")
	return ""
}

// readMessageEvent consumes frames until a message event's data line.
func readMessageEvent(t *testing.T, scanner *bufio.Scanner) string {
	t.Helper()
	inMessage := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: message" {
			inMessage = true
			continue
		}
		if inMessage && strings.HasPrefix(line, "data: ") {
			return strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatal("Stream ended before a message event")
	return ""
}
