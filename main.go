package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"fetcher-mcp-server/internal/application"
	"fetcher-mcp-server/internal/domain"
	"fetcher-mcp-server/internal/infrastructure"
)

func main() {
	// Logs go to stderr: stdout belongs to the stdio transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	// Load a .env file if present so the config path can come from the
	// environment. A missing file is not an error.
	_ = godotenv.Load()

	configPath := flag.String("config", defaultConfigPath(), "Path to configuration file")
	flag.Parse()

	logger.Info("loading configuration", "path", *configPath)
	config, err := domain.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Build the fetch pipeline.
	fetcher := infrastructure.NewURLFetcher(config.Fetch, logger)
	converter := infrastructure.NewMarkdownConverter()
	fetchHandler := application.NewFetchHandler(fetcher, converter, logger)

	router := application.NewRequestRouter(fetchHandler)
	logger.Info("request router initialized", "tools", len(router.ListAllTools()))

	// Create transport based on configuration.
	var transport domain.Transport
	switch config.Transport.Type {
	case "stdio":
		logger.Info("initializing stdio transport")
		transport = domain.NewStdioTransport(logger)
	case "sse":
		logger.Info("initializing SSE transport",
			"host", config.Transport.SSE.Host,
			"port", config.Transport.SSE.Port,
			"message_path", config.Transport.SSE.MessagePath)
		transport = domain.NewSSETransport(
			config.Transport.SSE.Host,
			config.Transport.SSE.Port,
			config.Transport.SSE.MessagePath,
			config.Server.Name,
			config.Server.Version,
			logger,
		)
	default:
		logger.Error("unsupported transport type", "type", config.Transport.Type)
		os.Exit(1)
	}

	server := application.NewServer(transport, router, config, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		logger.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	logger.Info("server running", "name", config.Server.Name, "version", config.Server.Version)

	// Run until interrupted or, for stdio, until stdin closes.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("received shutdown signal")
	case <-server.Done():
		// End of input terminates the stdio process cleanly.
		logger.Info("transport closed, shutting down")
	}

	cancel()
	if err := server.Close(); err != nil {
		logger.Error("error during shutdown", "error", err)
	}
}

// defaultConfigPath resolves the configuration file path from the
// environment, falling back to config.yaml in the working directory.
func defaultConfigPath() string {
	if path := os.Getenv("MCP_FETCHER_CONFIG"); path != "" {
		return path
	}
	return "config.yaml"
}
