package application

import (
	"context"

	"fetcher-mcp-server/internal/domain"
)

// RequestRouter dispatches MCP tool requests to the appropriate ToolHandler.
// It is the single seam for adding future tools: a new handler registers its
// tool names here and neither transport needs to change.
type RequestRouter struct {
	handlers map[string]domain.ToolHandler
}

// NewRequestRouter creates a new RequestRouter with the provided handlers.
// Each handler is registered under every tool name it lists.
func NewRequestRouter(handlers ...domain.ToolHandler) *RequestRouter {
	router := &RequestRouter{
		handlers: make(map[string]domain.ToolHandler),
	}

	for _, handler := range handlers {
		for _, tool := range handler.ListTools() {
			router.handlers[tool.Name] = handler
		}
	}

	return router
}

// Route dispatches a tool request to the handler registered for its exact
// tool name. An unregistered name fails with KindUnknownTool before any
// handler is touched.
func (r *RequestRouter) Route(ctx context.Context, req *domain.ToolRequest) (*domain.FetchResult, error) {
	handler, exists := r.handlers[req.Name]
	if !exists {
		return nil, domain.NewFetchError(domain.KindUnknownTool, "unknown tool: %s", req.Name)
	}

	return handler.Handle(ctx, req)
}

// ListAllTools aggregates tool definitions from all registered handlers.
// This is used for MCP tool discovery (tools/list method).
func (r *RequestRouter) ListAllTools() []domain.ToolDefinition {
	seen := make(map[string]bool)
	allTools := []domain.ToolDefinition{}

	for _, handler := range r.handlers {
		for _, tool := range handler.ListTools() {
			if !seen[tool.Name] {
				seen[tool.Name] = true
				allTools = append(allTools, tool)
			}
		}
	}

	return allTools
}

// GetHandler returns the handler registered for a tool name.
// This is useful for testing and debugging.
func (r *RequestRouter) GetHandler(toolName string) (domain.ToolHandler, bool) {
	handler, exists := r.handlers[toolName]
	return handler, exists
}
