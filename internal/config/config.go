// Copyright 2025 Joseph Cumines
//
// Configuration package for the WeChat MCP server

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// TransportType represents the MCP transport type
type TransportType string

const (
	// TransportStdio uses stdin/stdout for communication
	TransportStdio TransportType = "stdio"
	// TransportHTTP uses HTTP/SSE for communication
	TransportHTTP TransportType = "sse"
)

// FileEnvVar names the optional YAML file whose keys are the environment
// variable names below. Environment variables take precedence over it.
const FileEnvVar = "WECHAT_MCP_CONFIG"

// Config holds the configuration for the MCP server
type Config struct {
	// Driver connection
	DriverAddr     string
	DriverCertFile string
	// Export and WeChat window defaults
	FolderPath string
	WeChatPath string
	// MCP transport
	HTTPAddress    string
	HTTPSocketPath string
	CORSOrigin     string
	Transport      TransportType
	// Logging
	AuditLogFile string
	LogLevel     string
	LogFormat    string

	HeartbeatInterval time.Duration
	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	// HistoryTimeout bounds a single chat history scan.
	HistoryTimeout time.Duration
	// ScrollDelay is the pause after each scroll while scanning.
	ScrollDelay time.Duration
	// RateLimit is the HTTP requests per second allowed, zero for unlimited.
	RateLimit float64
	// RequestTimeout bounds every other tool call, in seconds.
	RequestTimeout int
	SearchPages    int

	DriverTLS  bool
	Maximize   bool
	CloseAfter bool
}

// Load loads the configuration from a .env file in the working directory
// (if present), the YAML file named by WECHAT_MCP_CONFIG (if set), and
// environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	src := source{}
	if path := os.Getenv(FileEnvVar); path != "" {
		file, err := readFile(path)
		if err != nil {
			return nil, err
		}
		src.file = file
	}

	requestTimeout, err := src.getInt("WECHAT_REQUEST_TIMEOUT", 30)
	if err != nil {
		return nil, err
	}

	searchPages, err := src.getInt("WECHAT_SEARCH_PAGES", 5)
	if err != nil {
		return nil, err
	}

	historyTimeout, err := src.getDuration("WECHAT_HISTORY_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	scrollDelay, err := src.getDuration("WECHAT_SCROLL_DELAY", 10*time.Millisecond)
	if err != nil {
		return nil, err
	}

	heartbeatInterval, err := src.getDuration("MCP_HEARTBEAT_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	httpReadTimeout, err := src.getDuration("MCP_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}

	// zero disables the write timeout
	httpWriteTimeout, err := src.getDuration("MCP_HTTP_WRITE_TIMEOUT", 0)
	if err != nil {
		return nil, err
	}

	rateLimit, err := src.getFloat("MCP_RATE_LIMIT", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DriverAddr:     src.get("WECHAT_DRIVER_ADDR", "localhost:50061"),
		DriverTLS:      src.getBool("WECHAT_DRIVER_TLS", false),
		DriverCertFile: src.get("WECHAT_DRIVER_CERT_FILE", ""),
		RequestTimeout: requestTimeout,
		HistoryTimeout: historyTimeout,
		// Scan and window defaults
		FolderPath:  src.get("WECHAT_FOLDER_PATH", ""),
		ScrollDelay: scrollDelay,
		SearchPages: searchPages,
		WeChatPath:  src.get("WECHAT_PATH", ""),
		Maximize:    src.getBool("WECHAT_MAXIMIZE", false),
		CloseAfter:  src.getBool("WECHAT_CLOSE_AFTER", true),
		// MCP Transport configuration
		Transport:         TransportType(src.get("MCP_TRANSPORT", "stdio")),
		HTTPAddress:       src.get("MCP_HTTP_ADDRESS", ":8080"),
		HTTPSocketPath:    src.get("MCP_HTTP_SOCKET", ""),
		HeartbeatInterval: heartbeatInterval,
		CORSOrigin:        src.get("MCP_CORS_ORIGIN", "*"),
		HTTPReadTimeout:   httpReadTimeout,
		HTTPWriteTimeout:  httpWriteTimeout,
		RateLimit:         rateLimit,
		// Logging
		AuditLogFile: src.get("MCP_AUDIT_LOG_FILE", ""),
		LogLevel:     src.get("LOG_LEVEL", "info"),
		LogFormat:    src.get("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.DriverAddr == "" {
		return fmt.Errorf("driver address cannot be empty")
	}

	// Validate transport type
	if c.Transport != TransportStdio && c.Transport != TransportHTTP {
		return fmt.Errorf("invalid transport type: %s (must be 'stdio' or 'sse')", c.Transport)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %d", c.RequestTimeout)
	}
	if c.HistoryTimeout <= 0 {
		return fmt.Errorf("history timeout must be positive, got %s", c.HistoryTimeout)
	}
	if c.ScrollDelay < 0 {
		return fmt.Errorf("scroll delay cannot be negative, got %s", c.ScrollDelay)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative, got %g", c.RateLimit)
	}
	if c.SearchPages < 1 {
		return fmt.Errorf("search pages must be at least 1, got %d", c.SearchPages)
	}

	if c.FolderPath != "" {
		info, err := os.Stat(c.FolderPath)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("folder path %q is not an existing directory", c.FolderPath)
		}
	}

	return nil
}

// source resolves keys from the environment, then the YAML file.
type source struct {
	file map[string]string
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for key, value := range raw {
		switch value.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("invalid value for %s in %s: expected a scalar", key, path)
		case nil:
			continue
		}
		values[strings.ToUpper(key)] = fmt.Sprint(value)
	}
	return values, nil
}

func (s source) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[key]
}

func (s source) get(key, defaultValue string) string {
	if value := s.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) getBool(key string, defaultValue bool) bool {
	value := s.lookup(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func (s source) getInt(key string, defaultValue int) (int, error) {
	value := s.lookup(key)
	if value == "" {
		return defaultValue, nil
	}
	var result int
	_, err := fmt.Sscanf(value, "%d", &result)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected integer)", key, value)
	}
	return result, nil
}

func (s source) getFloat(key string, defaultValue float64) (float64, error) {
	value := s.lookup(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected number)", key, value)
	}
	return result, nil
}

func (s source) getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := s.lookup(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected duration, e.g., '30s', '5m')", key, value)
	}
	return d, nil
}
