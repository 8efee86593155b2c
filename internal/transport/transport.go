// Copyright 2025 Joseph Cumines

// Package transport provides MCP message transport interfaces and implementations
// for JSON-RPC 2.0 communication over stdio and HTTP/SSE.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// JSON-RPC 2.0 standard error codes.
// See: https://www.jsonrpc.org/specification#error_object
const (
	// ErrCodeParseError indicates invalid JSON was received by the server.
	ErrCodeParseError = -32700

	// ErrCodeInvalidRequest indicates the JSON sent is not a valid Request object.
	ErrCodeInvalidRequest = -32600

	// ErrCodeMethodNotFound indicates the method does not exist or is not available.
	ErrCodeMethodNotFound = -32601

	// ErrCodeInvalidParams indicates invalid method parameter(s).
	ErrCodeInvalidParams = -32602

	// ErrCodeInternalError indicates an internal JSON-RPC error.
	ErrCodeInternalError = -32603
)

// Version is the JSON-RPC protocol version carried by every message.
const Version = "2.0"

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport is closed")

// Message represents a JSON-RPC 2.0 message, either a request or a response.
// A request without an ID is a notification and gets no response.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Message struct {
	// Error is set on failed responses, never together with Result.
	Error *ErrorObj `json:"error,omitempty"`

	JSONRPC string `json:"jsonrpc"`

	// Method is set on requests only.
	Method string `json:"method,omitempty"`

	// ID is any JSON value. Responses echo the request's ID.
	ID json.RawMessage `json:"id,omitempty"`

	Params json.RawMessage `json:"params,omitempty"`

	Result json.RawMessage `json:"result,omitempty"`
}

// IsNotification reports whether msg is a request that expects no response.
func (m *Message) IsNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

// ErrorObj represents a JSON-RPC 2.0 error object.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type ErrorObj struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    int             `json:"code"`
}

// NewErrorResponse returns an error response to the request with the given ID.
// A missing ID is rendered as null, as required for parse errors.
func NewErrorResponse(id json.RawMessage, code int, message string) *Message {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &Message{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorObj{Code: code, Message: message},
	}
}

// Handler processes one request. It returns a nil response for notifications.
// A returned error is reported to the peer as an internal error.
type Handler func(ctx context.Context, msg *Message) (*Message, error)

// Transport defines the interface for MCP message transport.
//
// Implementations must be safe for concurrent use from multiple goroutines.
//
// There are two implementations:
//   - StdioTransport: line-delimited JSON over stdin/stdout (default)
//   - HTTPTransport: HTTP POST for requests, SSE for broadcasts
type Transport interface {
	// Serve dispatches incoming requests to handler until ctx is done, the
	// peer goes away, or the transport is closed.
	Serve(ctx context.Context, handler Handler) error

	// WriteMessage sends an unsolicited message to the peer. It returns
	// ErrClosed once the transport is closed.
	WriteMessage(msg *Message) error

	// Close closes the transport. It is idempotent.
	Close() error

	// IsClosed returns whether the transport has been closed.
	IsClosed() bool
}

// respond runs handler and converts a handler error into an internal error
// response.
func respond(ctx context.Context, handler Handler, msg *Message) *Message {
	response, err := handler(ctx, msg)
	if err != nil {
		if msg.IsNotification() {
			return nil
		}
		return NewErrorResponse(msg.ID, ErrCodeInternalError, err.Error())
	}
	return response
}
