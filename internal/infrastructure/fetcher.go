package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fetcher-mcp-server/internal/domain"
)

// Client tuning for the outbound HTTP client. These keep a slow or
// unresponsive upstream from holding a connection open indefinitely.
const (
	dialTimeout           = 10 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 10 * time.Second
	idleConnTimeout       = 90 * time.Second
	maxRedirects          = 10
)

// URLFetcher fetches HTML content from URLs with timeout and content-type
// enforcement. A single instance is shared across concurrent requests; its
// http.Client connection pool is the only shared state and is read-only.
type URLFetcher struct {
	client    *http.Client
	timeout   time.Duration
	maxBody   int64
	userAgent string
	logger    *slog.Logger
}

// NewURLFetcher creates a URLFetcher from the fetch configuration.
func NewURLFetcher(cfg domain.FetchConfig, logger *slog.Logger) *URLFetcher {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = domain.DefaultFetchTimeout * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = domain.DefaultMaxBodyBytes
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   tlsHandshakeTimeout,
			ResponseHeaderTimeout: responseHeaderTimeout,
			IdleConnTimeout:       idleConnTimeout,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			ForceAttemptHTTP2:     true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (>%d)", maxRedirects)
			}
			return nil
		},
	}

	return &URLFetcher{
		client:    client,
		timeout:   timeout,
		maxBody:   maxBody,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// ValidateURL checks that a URL has an http or https scheme and a
// non-empty host. It makes no network calls.
func ValidateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return domain.NewFetchError(domain.KindInvalidInput, "invalid URL %q: %v", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return domain.NewFetchError(domain.KindInvalidInput, "invalid URL %q: scheme must be http or https", raw)
	}
	if parsed.Host == "" {
		return domain.NewFetchError(domain.KindInvalidInput, "invalid URL %q: host is required", raw)
	}
	return nil
}

// htmlContentType reports whether a Content-Type header names an
// HTML- or XML-family media type the converter can handle.
func htmlContentType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	}
	switch mediaType {
	case "text/html", "application/xhtml+xml", "text/xml", "application/xml":
		return true
	}
	return false
}

// Fetch retrieves the HTML content of a URL.
// Exactly one attempt is made per call; there are no retries. All failures
// are returned as *domain.FetchError with the matching kind:
// invalid URLs fail before any network I/O, non-2xx statuses carry the
// exact upstream code, and an expired deadline reports Timeout with no
// partial content.
func (f *URLFetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := ValidateURL(rawURL); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", domain.NewFetchError(domain.KindInvalidInput, "failed to create request for %q: %v", rawURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", f.classifyTransportError(ctx, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", domain.NewHTTPStatusError(domain.KindHTTPStatus, resp.StatusCode,
			"HTTP %d: failed to fetch %s", resp.StatusCode, rawURL)
	}

	contentType := resp.Header.Get("Content-Type")
	if !htmlContentType(contentType) {
		return "", domain.NewHTTPStatusError(domain.KindUnsupportedContentType, resp.StatusCode,
			"unsupported content type %q for %s", contentType, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return "", f.classifyTransportError(ctx, rawURL, err)
	}
	if int64(len(body)) > f.maxBody {
		return "", domain.NewFetchError(domain.KindInvalidInput,
			"response body for %s exceeds maximum size of %d bytes", rawURL, f.maxBody)
	}

	f.logger.Info("fetched page", "url", rawURL, "status", resp.StatusCode, "bytes", len(body))

	return string(body), nil
}

// classifyTransportError maps a client-level failure to a Timeout or
// Network error kind.
func (f *URLFetcher) classifyTransportError(ctx context.Context, rawURL string, err error) *domain.FetchError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewFetchError(domain.KindTimeout, "timeout fetching %s", rawURL)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewFetchError(domain.KindTimeout, "timeout fetching %s", rawURL)
	}

	return domain.NewFetchError(domain.KindNetwork, "network error fetching %s: %v", rawURL, err)
}
