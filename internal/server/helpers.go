// Copyright 2025 Joseph Cumines
//
// Helper functions for tool handlers

package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/joeycumines/wechat-mcp/internal/driver"
	"github.com/joeycumines/wechat-mcp/internal/history"
	"github.com/joeycumines/wechat-mcp/internal/transport"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// errorResult creates a ToolResult with IsError=true and the given message.
func errorResult(msg string) *ToolResult {
	return &ToolResult{
		IsError: true,
		Content: []Content{{Type: "text", Text: msg}},
	}
}

// errorResultf creates a ToolResult with IsError=true and a formatted message.
func errorResultf(format string, args ...any) *ToolResult {
	return errorResult(fmt.Sprintf(format, args...))
}

// textResult creates a ToolResult with a single text content.
func textResult(text string) *ToolResult {
	return &ToolResult{
		Content: []Content{{Type: "text", Text: text}},
	}
}

// formatDriverError formats a driver or scan error for MCP tool responses,
// with an actionable suggestion for common failures. gRPC errors are reported
// with their status code.
func formatDriverError(err error, toolName string) string {
	if err == nil {
		return ""
	}

	suggestion := ""
	switch {
	case errors.Is(err, driver.ErrFriendNotFound):
		suggestion = "Check the remark or nickname, or search more pages of the contact list with search_pages"
	case errors.Is(err, driver.ErrNoHistory):
		suggestion = "The conversation has no messages yet"
	case errors.Is(err, history.ErrNotADirectory):
		suggestion = "folder_path must be an existing directory"
	case errors.Is(err, history.ErrInvalidDateFormat):
		suggestion = "Use YY/M/D, e.g. 25/3/22"
	case errors.Is(err, context.DeadlineExceeded):
		suggestion = "The call timed out. Raise WECHAT_HISTORY_TIMEOUT for long histories, or lower scroll_delay"
	}

	result := fmt.Sprintf("Error in %s: %s", toolName, err.Error())
	if st, ok := grpcstatus.FromError(err); ok && st.Code() != codes.Unknown {
		result = fmt.Sprintf("Error in %s: %s - %s", toolName, st.Code().String(), st.Message())
		if suggestion == "" {
			suggestion = grpcSuggestion(st.Code())
		}
	}
	if suggestion != "" {
		result += fmt.Sprintf("\nSuggestion: %s", suggestion)
	}
	return result
}

func grpcSuggestion(code codes.Code) string {
	switch code {
	case codes.PermissionDenied:
		return "Ensure the driver is allowed to control the desktop (accessibility permissions)"
	case codes.InvalidArgument:
		return "Check the request parameters for invalid or missing values"
	case codes.Unavailable:
		return "The WeChat driver may be down or unreachable. Check WECHAT_DRIVER_ADDR and that WeChat is logged in"
	case codes.DeadlineExceeded:
		return "Operation timed out. Try again once WeChat is responsive"
	case codes.Internal:
		return "An internal driver error occurred. Check driver logs for details"
	case codes.FailedPrecondition:
		return "WeChat is not in the expected state. Make sure it is running and logged in"
	case codes.ResourceExhausted:
		return "The driver is busy. Try again later"
	case codes.Unimplemented:
		return "This operation is not supported by the driver"
	}
	return ""
}

// validateToolInput checks args against the named tool's input schema:
// required fields, property types (a single type or a list of allowed types)
// and enums. Properties the schema does not describe are allowed. It returns
// an invalid params error response, or nil if args are acceptable or the tool
// is unknown.
func validateToolInput(toolName string, args map[string]any, tools map[string]*Tool) *transport.Message {
	tool, ok := tools[toolName]
	if !ok || tool.InputSchema == nil {
		return nil
	}

	for _, field := range stringsOf(tool.InputSchema["required"]) {
		if _, exists := args[field]; !exists {
			return invalidParamsError(fmt.Sprintf("missing required field: %s", field))
		}
	}

	properties, _ := tool.InputSchema["properties"].(map[string]any)
	for name, value := range args {
		prop, ok := properties[name].(map[string]any)
		if !ok || value == nil {
			continue
		}
		if err := validateFieldValue(name, value, prop); err != nil {
			return invalidParamsError(err.Error())
		}
	}
	return nil
}

func invalidParamsError(message string) *transport.Message {
	return &transport.Message{
		JSONRPC: transport.Version,
		Error: &transport.ErrorObj{
			Code:    transport.ErrCodeInvalidParams,
			Message: message,
		},
	}
}

// stringsOf returns the strings of a schema list, which is a []string when
// declared in Go and a []any when decoded from JSON.
func stringsOf(v any) []string {
	switch v := v.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func validateFieldValue(name string, value any, prop map[string]any) error {
	if types := stringsOf(prop["type"]); len(types) > 0 {
		if !slices.ContainsFunc(types, func(t string) bool { return hasType(value, t) }) {
			return fmt.Errorf("field %q must be one of types [%s], got %T", name, strings.Join(types, ", "), value)
		}
	} else if t, ok := prop["type"].(string); ok && !hasType(value, t) {
		return fmt.Errorf("field %q must be %s %s, got %T", name, article(t), t, value)
	}

	enum := stringsOf(prop["enum"])
	if len(enum) == 0 {
		return nil
	}
	if s, ok := value.(string); ok && slices.Contains(enum, s) {
		return nil
	}
	return fmt.Errorf("field %q must be one of [%s], got %v", name, strings.Join(enum, ", "), value)
}

// hasType reports whether a decoded JSON value has the JSON Schema type t.
// Unknown types match anything.
func hasType(value any, t string) bool {
	switch t {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == math.Trunc(f)
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	return true
}

func article(t string) string {
	if t == "integer" || t == "array" || t == "object" {
		return "an"
	}
	return "a"
}
