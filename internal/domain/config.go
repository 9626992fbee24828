package domain

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
// This is the root configuration structure loaded from YAML files.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	Fetch     FetchConfig     `yaml:"fetch"`
}

// ServerConfig identifies the server to MCP clients.
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// TransportConfig defines transport settings.
// Specifies whether to use stdio or SSE transport.
type TransportConfig struct {
	Type string    `yaml:"type"` // "stdio" or "sse"
	SSE  SSEConfig `yaml:"sse,omitempty"`
}

// SSEConfig defines SSE transport settings.
// Only used when transport type is "sse".
type SSEConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MessagePath string `yaml:"message_path"`
}

// FetchConfig defines the fetch pipeline settings.
type FetchConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
	UserAgent      string `yaml:"user_agent"`
}

// Defaults applied to fields left empty in the configuration file.
const (
	DefaultServerName     = "mcp-fetcher-http"
	DefaultServerVersion  = "1.0.0"
	DefaultMessagePath    = "/messages"
	DefaultFetchTimeout   = 30
	DefaultMaxBodyBytes   = 10 * 1024 * 1024
	DefaultFetchUserAgent = "mcp-fetcher-http/1.0"
)

// LoadConfig reads and validates configuration from a YAML file.
// Returns an error if the file is missing, has invalid syntax, or fails validation.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("invalid YAML syntax in configuration file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills in defaults for optional fields.
func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = DefaultServerName
	}
	if c.Server.Version == "" {
		c.Server.Version = DefaultServerVersion
	}
	if c.Transport.SSE.MessagePath == "" {
		c.Transport.SSE.MessagePath = DefaultMessagePath
	}
	if c.Fetch.TimeoutSeconds == 0 {
		c.Fetch.TimeoutSeconds = DefaultFetchTimeout
	}
	if c.Fetch.MaxBodyBytes == 0 {
		c.Fetch.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = DefaultFetchUserAgent
	}
}

// Validate checks the configuration for completeness and correctness.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateTransport(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateFetch(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// validateTransport validates the transport configuration.
func (c *Config) validateTransport() error {
	var errors []string

	if c.Transport.Type == "" {
		errors = append(errors, "transport type is required")
	} else if c.Transport.Type != "stdio" && c.Transport.Type != "sse" {
		errors = append(errors, fmt.Sprintf("invalid transport type '%s': must be 'stdio' or 'sse'", c.Transport.Type))
	}

	if c.Transport.Type == "sse" {
		if c.Transport.SSE.Host == "" {
			errors = append(errors, "SSE host is required when transport type is 'sse'")
		}
		if c.Transport.SSE.Port <= 0 || c.Transport.SSE.Port > 65535 {
			errors = append(errors, fmt.Sprintf("invalid SSE port %d: must be between 1 and 65535", c.Transport.SSE.Port))
		}
		if !strings.HasPrefix(c.Transport.SSE.MessagePath, "/") {
			errors = append(errors, fmt.Sprintf("invalid message path '%s': must start with '/'", c.Transport.SSE.MessagePath))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}

// validateFetch validates the fetch pipeline configuration.
func (c *Config) validateFetch() error {
	var errors []string

	if c.Fetch.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Sprintf("invalid fetch timeout %d: must be positive", c.Fetch.TimeoutSeconds))
	}
	if c.Fetch.MaxBodyBytes < 0 {
		errors = append(errors, fmt.Sprintf("invalid max body size %d: must be positive", c.Fetch.MaxBodyBytes))
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}
