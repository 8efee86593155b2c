// Copyright 2025 Joseph Cumines
//
// Stdio transport for JSON-RPC 2.0 communication

package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ParseError is returned by ReadMessage for a line that is not a JSON-RPC
// message. The transport stays usable.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "failed to parse JSON: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// StdioTransport implements JSON-RPC 2.0 transport over stdin/stdout, one
// message per line.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type StdioTransport struct {
	reader  *bufio.Reader
	writer  io.Writer
	logger  *zap.Logger
	readMu  sync.Mutex
	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewStdioTransport creates a new stdio transport. A nil logger discards logs.
func NewStdioTransport(stdin io.Reader, stdout io.Writer, logger *zap.Logger) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{
		reader: bufio.NewReader(stdin),
		writer: stdout,
		logger: logger,
	}
}

// ReadMessage reads the next non-blank line as a message. It returns io.EOF
// when stdin is closed and a *ParseError for malformed lines.
func (t *StdioTransport) ReadMessage() (*Message, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for {
		if t.closed.Load() {
			return nil, ErrClosed
		}

		line, err := t.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil, io.EOF
				}
				return nil, fmt.Errorf("failed to read line: %w", err)
			}
			continue
		}

		var msg Message
		if jsonErr := json.Unmarshal(line, &msg); jsonErr != nil {
			return nil, &ParseError{Err: jsonErr}
		}
		return &msg, nil
	}
}

// WriteMessage writes a message as a single line.
func (t *StdioTransport) WriteMessage(msg *Message) error {
	if t.closed.Load() {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Close closes the transport. A read blocked on stdin is not interrupted, but
// Serve returns.
func (t *StdioTransport) Close() error {
	t.closed.Store(true)
	return nil
}

// IsClosed returns whether the transport is closed
func (t *StdioTransport) IsClosed() bool {
	return t.closed.Load()
}

type readResult struct {
	msg *Message
	err error
}

// Serve handles messages one at a time until stdin is closed, ctx is done, or
// the transport is closed. Malformed lines are answered with a parse error.
func (t *StdioTransport) Serve(ctx context.Context, handler Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan readResult)
	go func() {
		for {
			msg, err := t.ReadMessage()
			select {
			case results <- readResult{msg, err}:
			case <-ctx.Done():
				return
			}
			if err != nil && !isParseError(err) {
				return
			}
		}
	}()

	for {
		var res readResult
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res = <-results:
		}

		switch {
		case res.err == nil:
		case errors.Is(res.err, io.EOF):
			t.logger.Info("stdin closed, exiting")
			return nil
		case errors.Is(res.err, ErrClosed):
			return nil
		case isParseError(res.err):
			t.logger.Warn("received malformed message", zap.Error(res.err))
			if err := t.WriteMessage(NewErrorResponse(nil, ErrCodeParseError, res.err.Error())); err != nil {
				t.logger.Error("failed to write parse error", zap.Error(err))
			}
			continue
		default:
			return res.err
		}

		if response := respond(ctx, handler, res.msg); response != nil {
			if err := t.WriteMessage(response); err != nil {
				if errors.Is(err, ErrClosed) {
					return nil
				}
				t.logger.Error("failed to write response", zap.Error(err))
			}
		}
	}
}

func isParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

var _ Transport = (*StdioTransport)(nil)
