package domain

import (
	"context"
)

// ToolHandler processes tool call requests for the tools it advertises.
// The router registers each handler under every tool name it lists.
type ToolHandler interface {
	// Handle processes an MCP tool call request.
	// Failures are reported as *FetchError so the server can map them to
	// structured wire errors.
	Handle(ctx context.Context, req *ToolRequest) (*FetchResult, error)

	// ListTools returns the tool definitions this handler serves.
	ListTools() []ToolDefinition
}
