package infrastructure

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// MarkdownConverter converts HTML content to Markdown.
// Hyperlink targets and image references survive as Markdown syntax; script
// and style elements are discarded as non-content. The underlying parser is
// lenient, so malformed HTML still produces best-effort output.
type MarkdownConverter struct{}

// NewMarkdownConverter creates a MarkdownConverter.
func NewMarkdownConverter() *MarkdownConverter {
	return &MarkdownConverter{}
}

// Convert turns HTML into Markdown. Empty or whitespace-only input yields
// empty output without error. Conversion is deterministic: the same HTML
// produces byte-identical Markdown.
func (c *MarkdownConverter) Convert(html string) (string, error) {
	if strings.TrimSpace(html) == "" {
		return "", nil
	}

	markdown, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("failed to convert HTML to Markdown: %w", err)
	}

	return markdown, nil
}
