package domain

// Request represents a JSON-RPC 2.0 request message.
type Request struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	ID      interface{} `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response message.
type Response struct {
	JSONRPC string      `json:"jsonrpc"` // Must be "2.0"
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error object. Kind carries the
// application-level error category alongside the numeric code so clients
// can branch without maintaining a code table.
type Error struct {
	Code    int         `json:"code"`
	Kind    string      `json:"kind,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface for Error.
func (e *Error) Error() string {
	return e.Message
}

// JSON-RPC 2.0 error codes
const (
	// Standard JSON-RPC 2.0 error codes
	ParseError     = -32700 // Invalid JSON received
	InvalidRequest = -32600 // Invalid JSON-RPC request structure
	MethodNotFound = -32601 // Unknown MCP method or tool
	InvalidParams  = -32602 // Invalid method parameters
	InternalError  = -32603 // Server internal error

	// Application-specific error codes
	InvalidURLError         = -32001 // URL failed validation before any network call
	UnsupportedContentError = -32002 // Response content type is not HTML/XML
	HTTPStatusError         = -32003 // Upstream returned a non-2xx status
	NetworkError            = -32004 // DNS, connection or TLS failure
	TimeoutError            = -32005 // Fetch exceeded its deadline
	UnknownSessionError     = -32006 // POST referenced a session that does not exist
)

// NewErrorResponse builds a Response carrying only an error object.
func NewErrorResponse(id interface{}, code int, kind, message string, data interface{}) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Kind:    kind,
			Message: message,
			Data:    data,
		},
	}
}
