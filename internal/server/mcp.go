// Copyright 2025 Joseph Cumines
//
// MCP server implementation

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joeycumines/wechat-mcp/internal/config"
	"github.com/joeycumines/wechat-mcp/internal/driver"
	"github.com/joeycumines/wechat-mcp/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "wechat-mcp"
	serverVersion   = "0.1.0"
)

// MCPServer represents an MCP server
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type MCPServer struct {
	cfg     *config.Config
	driver  driver.Driver
	logger  *zap.Logger
	metrics *transport.Metrics
	audit   *AuditLogger
	tools   map[string]*Tool
	now     func() time.Time

	// ui is held for the duration of every tool call: there is one WeChat
	// window, and interleaved scrolling or typing corrupts both calls.
	ui *semaphore.Weighted
}

// Tool represents an MCP tool
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Tool struct {
	Handler     func(ctx context.Context, call *ToolCall) (*ToolResult, error)
	InputSchema map[string]any
	Name        string
	Description string
	// Timeout bounds a single call, including the wait for the window.
	Timeout time.Duration
}

// ToolCall represents a tool call request
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult represents a tool call result
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents a content item in a tool result
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Option configures an MCPServer.
type Option func(*MCPServer)

// WithMetrics records tool and scan metrics into m.
func WithMetrics(m *transport.Metrics) Option {
	return func(s *MCPServer) { s.metrics = m }
}

// WithAuditLogger records every tool call to a.
func WithAuditLogger(a *AuditLogger) Option {
	return func(s *MCPServer) { s.audit = a }
}

// WithClock sets the source of "today" for resolving relative timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *MCPServer) { s.now = now }
}

// NewMCPServer creates a new MCP server operating drv.
func NewMCPServer(cfg *config.Config, drv driver.Driver, logger *zap.Logger, opts ...Option) *MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MCPServer{
		cfg:    cfg,
		driver: drv,
		logger: logger,
		now:    time.Now,
		ui:     semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	return s
}

// Serve runs the server on tr until ctx is done or the peer goes away.
func (s *MCPServer) Serve(ctx context.Context, tr transport.Transport) error {
	s.logger.Info("MCP server starting", zap.Int("tools", len(s.tools)))
	err := tr.Serve(ctx, s.HandleMessage)
	s.logger.Info("MCP server stopped", zap.Error(err))
	return err
}

// HandleMessage handles a single MCP message. It implements
// transport.Handler.
func (s *MCPServer) HandleMessage(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	if msg.IsNotification() {
		s.logger.Debug("notification received", zap.String("method", msg.Method))
		return nil, nil
	}

	switch msg.Method {
	case "":
		return transport.NewErrorResponse(msg.ID, transport.ErrCodeInvalidRequest, "Invalid request: missing method"), nil
	case "initialize":
		return resultMessage(msg.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    serverName,
				"version": serverVersion,
			},
		})
	case "ping":
		return resultMessage(msg.ID, map[string]any{})
	case "tools/list":
		return resultMessage(msg.ID, map[string]any{"tools": s.listTools()})
	case "tools/call":
		return s.handleToolCall(ctx, msg)
	case "resources/list":
		return resultMessage(msg.ID, map[string]any{"resources": listResources()})
	case "resources/read":
		return s.handleReadResource(msg)
	}

	return transport.NewErrorResponse(msg.ID, transport.ErrCodeMethodNotFound, fmt.Sprintf("Method not found: %s", msg.Method)), nil
}

type toolInfo struct {
	InputSchema map[string]any `json:"inputSchema"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
}

func (s *MCPServer) listTools() []toolInfo {
	tools := make([]toolInfo, 0, len(s.tools))
	for _, tool := range s.tools {
		tools = append(tools, toolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	slices.SortFunc(tools, func(a, b toolInfo) int { return strings.Compare(a.Name, b.Name) })
	return tools
}

func (s *MCPServer) handleToolCall(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	var params ToolCall
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return transport.NewErrorResponse(msg.ID, transport.ErrCodeInvalidParams, fmt.Sprintf("Invalid params: %v", err)), nil
	}

	tool, exists := s.tools[params.Name]
	if !exists {
		return transport.NewErrorResponse(msg.ID, transport.ErrCodeMethodNotFound, fmt.Sprintf("Tool not found: %s", params.Name)), nil
	}

	args := map[string]any{}
	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return transport.NewErrorResponse(msg.ID, transport.ErrCodeInvalidParams, fmt.Sprintf("Invalid arguments: %v", err)), nil
		}
	} else {
		params.Arguments = json.RawMessage("{}")
	}
	if invalid := validateToolInput(params.Name, args, s.tools); invalid != nil {
		s.audit.LogToolCall(params.Name, params.Arguments, "invalid_params", 0)
		invalid.ID = msg.ID
		return invalid, nil
	}

	return resultMessage(msg.ID, s.callTool(ctx, tool, &params))
}

// callTool runs a tool under its timeout and the UI lock. Handler errors are
// reported as error results.
func (s *MCPServer) callTool(ctx context.Context, tool *Tool, call *ToolCall) *ToolResult {
	start := time.Now()
	if tool.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tool.Timeout)
		defer cancel()
	}

	result, err := s.runTool(ctx, tool, call)
	status := "success"
	switch {
	case err != nil:
		status = "error"
		s.logger.Error("tool call failed", zap.String("tool", tool.Name), zap.Error(err))
		result = errorResultf("微信服务错误: %v", err)
	case result == nil:
		result = textResult("")
	case result.IsError:
		status = "error"
	}

	duration := time.Since(start)
	s.metrics.RecordToolCall(tool.Name, status, duration)
	s.audit.LogToolCall(tool.Name, call.Arguments, status, duration)
	s.logger.Info("tool call",
		zap.String("tool", tool.Name),
		zap.String("status", status),
		zap.Duration("duration", duration))
	return result
}

func (s *MCPServer) runTool(ctx context.Context, tool *Tool, call *ToolCall) (*ToolResult, error) {
	if err := s.ui.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("timed out waiting for the WeChat window: %w", err)
	}
	defer s.ui.Release(1)
	return tool.Handler(ctx, call)
}

func resultMessage(id json.RawMessage, v any) (*transport.Message, error) {
	result, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &transport.Message{
		JSONRPC: transport.Version,
		ID:      id,
		Result:  result,
	}, nil
}
