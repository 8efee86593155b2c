// Copyright 2025 Joseph Cumines
//
// Audit logging for MCP tool invocations

package server

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AuditLogger writes one JSON line per tool invocation: tool name, redacted
// arguments, result status, and duration. A nil or disabled AuditLogger
// discards everything.
type AuditLogger struct {
	logger  *zap.Logger
	file    *os.File
	enabled bool
	mu      sync.RWMutex
}

// redactedKeys is the list of argument keys that should be redacted in audit
// logs. Keys containing any of them are redacted too.
var redactedKeys = map[string]bool{
	"password":      true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"credential":    true,
	"private_key":   true,
	"authorization": true,
	"auth":          true,
	"cookie":        true,
	"passphrase":    true,
}

// NewAuditLogger creates a new audit logger that appends to the specified
// file. If filePath is empty, audit logging is disabled.
func NewAuditLogger(filePath string) (*AuditLogger, error) {
	if filePath == "" {
		return &AuditLogger{enabled: false}, nil
	}

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.Lock(file), zapcore.InfoLevel)

	return &AuditLogger{
		logger:  zap.New(core),
		file:    file,
		enabled: true,
	}, nil
}

// Close flushes and closes the audit log file, disabling the logger. Safe to
// call multiple times.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		return nil
	}
	_ = a.logger.Sync()
	err := a.file.Close()
	a.file = nil
	a.logger = nil
	a.enabled = false
	return err
}

// IsEnabled returns true if audit logging is enabled (file path was provided).
func (a *AuditLogger) IsEnabled() bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// LogToolCall logs a tool invocation with redacted arguments.
func (a *AuditLogger) LogToolCall(tool string, args json.RawMessage, status string, duration time.Duration) {
	if a == nil {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.enabled || a.logger == nil {
		return
	}

	a.logger.Info("tool_invocation",
		zap.String("tool", tool),
		zap.String("arguments", redactArguments(args)),
		zap.String("status", status),
		zap.Float64("duration_seconds", duration.Seconds()),
	)
}

// redactArguments redacts sensitive values from JSON arguments.
func redactArguments(args json.RawMessage) string {
	if len(args) == 0 {
		return "{}"
	}

	var parsed map[string]any
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "[unparseable]"
	}

	redactMapValues(parsed)

	redacted, err := json.Marshal(parsed)
	if err != nil {
		return "[error]"
	}
	return string(redacted)
}

func isRedactedKey(key string) bool {
	lowerKey := strings.ToLower(key)
	if redactedKeys[lowerKey] {
		return true
	}
	for redactKey := range redactedKeys {
		if strings.Contains(lowerKey, redactKey) {
			return true
		}
	}
	return false
}

// redactMapValues recursively redacts sensitive values in a map.
func redactMapValues(m map[string]any) {
	for key, value := range m {
		if isRedactedKey(key) {
			m[key] = "[REDACTED]"
			continue
		}
		switch value := value.(type) {
		case map[string]any:
			redactMapValues(value)
		case []any:
			for _, item := range value {
				if nested, ok := item.(map[string]any); ok {
					redactMapValues(nested)
				}
			}
		}
	}
}
