package application

import (
	"context"
	"log/slog"

	"fetcher-mcp-server/internal/domain"
)

// Fetcher retrieves the raw HTML content of a URL.
// Failures are reported as *domain.FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Converter turns HTML into Markdown.
type Converter interface {
	Convert(html string) (string, error)
}

// ToolFetchURL is the name of the single built-in tool.
const ToolFetchURL = "fetch_url"

// FetchHandler serves the fetch_url tool: it validates the call arguments,
// fetches the page and converts it to Markdown.
type FetchHandler struct {
	fetcher   Fetcher
	converter Converter
	logger    *slog.Logger
}

// NewFetchHandler creates a FetchHandler backed by the given fetcher and converter.
func NewFetchHandler(fetcher Fetcher, converter Converter, logger *slog.Logger) *FetchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FetchHandler{
		fetcher:   fetcher,
		converter: converter,
		logger:    logger,
	}
}

// ListTools returns the fetch_url tool definition.
func (h *FetchHandler) ListTools() []domain.ToolDefinition {
	return []domain.ToolDefinition{
		{
			Name:        ToolFetchURL,
			Description: "Fetch a web page and convert it to Markdown format",
			InputSchema: domain.JSONSchema{
				Type: "object",
				Properties: map[string]interface{}{
					"url": map[string]interface{}{
						"type":        "string",
						"description": "The URL of the web page to fetch and convert to Markdown",
					},
				},
				Required: []string{"url"},
			},
		},
	}
}

// Handle processes a fetch_url tool call.
// Arguments are checked against the tool schema before the pipeline runs:
// a missing or non-string url never reaches the network.
func (h *FetchHandler) Handle(ctx context.Context, req *domain.ToolRequest) (*domain.FetchResult, error) {
	if req.Name != ToolFetchURL {
		return nil, domain.NewFetchError(domain.KindUnknownTool, "unknown tool: %s", req.Name)
	}

	raw, ok := req.Arguments["url"]
	if !ok {
		return nil, domain.NewFetchError(domain.KindSchemaValidation, "missing required argument 'url'")
	}
	url, ok := raw.(string)
	if !ok {
		return nil, domain.NewFetchError(domain.KindSchemaValidation, "argument 'url' must be a string, got %T", raw)
	}

	html, err := h.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	markdown, err := h.converter.Convert(html)
	if err != nil {
		return nil, domain.NewFetchError(domain.KindInternal, "conversion failed: %v", err)
	}

	h.logger.Info("fetched and converted page", "url", url, "markdown_len", len(markdown))

	return &domain.FetchResult{
		Markdown: markdown,
		URL:      url,
	}, nil
}
