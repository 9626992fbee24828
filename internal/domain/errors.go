package domain

import "fmt"

// ErrorKind classifies a failure anywhere between request validation and
// the outbound fetch. Every kind maps to exactly one JSON-RPC error code,
// so transports never have to inspect error text.
type ErrorKind string

const (
	KindInvalidInput           ErrorKind = "InvalidInput"
	KindSchemaValidation       ErrorKind = "SchemaValidationError"
	KindUnknownTool            ErrorKind = "UnknownTool"
	KindUnsupportedContentType ErrorKind = "UnsupportedContentType"
	KindHTTPStatus             ErrorKind = "HttpError"
	KindNetwork                ErrorKind = "NetworkError"
	KindTimeout                ErrorKind = "Timeout"
	KindUnknownSession         ErrorKind = "UnknownSession"
	KindInternal               ErrorKind = "InternalError"
)

// Code returns the JSON-RPC error code for this kind.
func (k ErrorKind) Code() int {
	switch k {
	case KindInvalidInput:
		return InvalidURLError
	case KindSchemaValidation:
		return InvalidParams
	case KindUnknownTool:
		return MethodNotFound
	case KindUnsupportedContentType:
		return UnsupportedContentError
	case KindHTTPStatus:
		return HTTPStatusError
	case KindNetwork:
		return NetworkError
	case KindTimeout:
		return TimeoutError
	case KindUnknownSession:
		return UnknownSessionError
	default:
		return InternalError
	}
}

// FetchError is the typed failure returned by the fetch pipeline and the
// tool registry. Status is only set for KindHTTPStatus and
// KindUnsupportedContentType, where it records the upstream HTTP status.
type FetchError struct {
	Kind    ErrorKind
	Message string
	Status  int
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewFetchError creates a FetchError with the given kind and formatted message.
func NewFetchError(kind ErrorKind, format string, args ...interface{}) *FetchError {
	return &FetchError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewHTTPStatusError creates a FetchError recording an upstream status code.
func NewHTTPStatusError(kind ErrorKind, status int, format string, args ...interface{}) *FetchError {
	return &FetchError{
		Kind:    kind,
		Status:  status,
		Message: fmt.Sprintf(format, args...),
	}
}
