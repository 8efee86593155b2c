// Copyright 2025 Joseph Cumines
//
// HTTP/SSE transport for JSON-RPC 2.0 communication

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HTTPTransportConfig holds configuration for HTTP transport.
// SocketPath, if set, takes precedence over Address.
// WriteTimeout of zero disables the write deadline, which SSE streams and long
// tool calls need.
type HTTPTransportConfig struct {
	Address           string
	SocketPath        string
	CORSOrigin        string
	HeartbeatInterval time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	// RateLimit is requests per second, zero for unlimited.
	RateLimit float64
}

// DefaultHTTPConfig returns default HTTP transport configuration
func DefaultHTTPConfig() *HTTPTransportConfig {
	return &HTTPTransportConfig{
		Address:           ":8080",
		HeartbeatInterval: 15 * time.Second,
		CORSOrigin:        "*",
		ReadTimeout:       30 * time.Second,
	}
}

// maxRequestBytes bounds a POST /message body.
const maxRequestBytes = 4 << 20

// HTTPTransport implements HTTP/SSE transport for MCP. Requests are POSTed to
// /message and answered inline; responses and WriteMessage calls are also
// broadcast to every client listening on /events.
type HTTPTransport struct {
	config     *HTTPTransportConfig
	server     *http.Server
	router     chi.Router
	handler    atomic.Pointer[Handler]
	clients    *ClientRegistry
	metrics    *Metrics
	logger     *zap.Logger
	shutdownCh chan struct{}
	eventID    atomic.Uint64
	closed     atomic.Bool
}

// ClientRegistry manages connected SSE clients
type ClientRegistry struct {
	clients    map[string]*SSEClient
	eventStore *EventStore
	logger     *zap.Logger
	mu         sync.RWMutex
}

// SSEClient represents a connected SSE client
type SSEClient struct {
	Events      chan *SSEEvent
	CreatedAt   time.Time
	ID          string
	LastEventID string
}

// SSEEvent represents a Server-Sent Event
type SSEEvent struct {
	ID    string
	Event string
	Data  string
}

// EventStore keeps the most recent events for clients that reconnect with a
// Last-Event-ID header.
type EventStore struct {
	events  []*SSEEvent
	mu      sync.RWMutex
	maxSize int
}

// NewEventStore creates a new event store
func NewEventStore(maxSize int) *EventStore {
	return &EventStore{
		events:  make([]*SSEEvent, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add adds an event, evicting the oldest when full.
func (s *EventStore) Add(event *SSEEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.maxSize {
		s.events = s.events[1:]
	}
	s.events = append(s.events, event)
}

// GetSince returns the events after the one with the given ID, or nil if that
// event is unknown.
func (s *EventStore) GetSince(lastEventID string) []*SSEEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i, e := range s.events {
		if e.ID == lastEventID {
			return append([]*SSEEvent(nil), s.events[i+1:]...)
		}
	}
	return nil
}

// NewClientRegistry creates a new client registry
func NewClientRegistry(logger *zap.Logger) *ClientRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientRegistry{
		clients:    make(map[string]*SSEClient),
		eventStore: NewEventStore(1000),
		logger:     logger,
	}
}

// Add registers a new client.
func (r *ClientRegistry) Add(lastEventID string) *SSEClient {
	client := &SSEClient{
		ID:          uuid.NewString(),
		Events:      make(chan *SSEEvent, 100),
		CreatedAt:   time.Now(),
		LastEventID: lastEventID,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.ID] = client
	return client
}

// Remove unregisters a client and closes its event channel.
func (r *ClientRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[id]; ok {
		close(client.Events)
		delete(r.clients, id)
	}
}

// Broadcast stores event and queues it for every client, dropping it for
// clients whose buffer is full. It returns the number of clients it was
// queued for.
func (r *ClientRegistry) Broadcast(event *SSEEvent) int {
	r.eventStore.Add(event)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var sent int
	for _, client := range r.clients {
		select {
		case client.Events <- event:
			sent++
		default:
			r.logger.Warn("dropping event for slow SSE client",
				zap.String("event", event.ID), zap.String("client", client.ID))
		}
	}
	return sent
}

// Count returns the number of connected clients
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// NewHTTPTransport creates a new HTTP/SSE transport. Nil metrics and logger
// are allowed.
func NewHTTPTransport(config *HTTPTransportConfig, metrics *Metrics, logger *zap.Logger) *HTTPTransport {
	if config == nil {
		config = DefaultHTTPConfig()
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 15 * time.Second
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = "*"
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &HTTPTransport{
		config:     config,
		clients:    NewClientRegistry(logger),
		metrics:    metrics,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(t.logRequests)
	r.Use(t.cors)
	r.Use(NewRateLimiter(config.RateLimit, metrics).Middleware)
	r.Post("/message", t.handleMessage)
	r.Get("/events", t.handleSSE)
	r.Get("/health", t.handleHealth)
	r.Get("/metrics", t.handleMetrics)
	t.router = r

	t.server = &http.Server{
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return t
}

// cors adds CORS headers to all responses and answers preflight requests.
func (t *HTTPTransport) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", t.config.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// logRequests logs each completed request at debug level.
func (t *HTTPTransport) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		t.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)))
	})
}

// handleMessage handles POST /message for JSON-RPC requests
func (t *HTTPTransport) handleMessage(w http.ResponseWriter, r *http.Request) {
	handler := t.handler.Load()
	if handler == nil {
		http.Error(w, "Handler not set", http.StatusServiceUnavailable)
		return
	}

	var msg Message
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, NewErrorResponse(nil, ErrCodeParseError, fmt.Sprintf("failed to parse JSON: %v", err)), t.logger)
		return
	}

	response := respond(r.Context(), *handler, &msg)
	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	writeJSON(w, http.StatusOK, response, t.logger)

	// Also broadcast the response as an SSE event for streaming clients
	if err := t.broadcast(response); err != nil {
		t.logger.Warn("failed to broadcast response", zap.Error(err))
	}
}

// handleSSE handles GET /events for SSE streaming
func (t *HTTPTransport) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	lastEventID := r.Header.Get("Last-Event-ID")
	client := t.clients.Add(lastEventID)
	t.metrics.SetSSEConnections(t.clients.Count())
	defer func() {
		t.clients.Remove(client.ID)
		t.metrics.SetSSEConnections(t.clients.Count())
	}()

	logger := t.logger.With(zap.String("client", client.ID))
	logger.Info("SSE client connected")

	if lastEventID != "" {
		for _, event := range t.clients.eventStore.GetSince(lastEventID) {
			if err := writeSSEEvent(w, event); err != nil {
				logger.Warn("write error during reconnect replay", zap.Error(err))
				return
			}
		}
	}
	flusher.Flush()

	heartbeat := time.NewTicker(t.config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			logger.Info("SSE client disconnected")
			return
		case <-t.shutdownCh:
			_, _ = fmt.Fprint(w, "event: complete\ndata: server shutdown\n\n")
			flusher.Flush()
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				logger.Warn("heartbeat write error", zap.Error(err))
				return
			}
			flusher.Flush()
		case event, ok := <-client.Events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				logger.Warn("event write error", zap.Error(err))
				return
			}
			t.metrics.RecordSSEEvent()
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes an SSE event, prefixing every line of data.
func writeSSEEvent(w io.Writer, event *SSEEvent) error {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\nevent: %s\n", event.ID, event.Event)
	for _, line := range strings.Split(event.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

// handleHealth handles GET /health for health checks
func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"clients":     t.clients.Count(),
		"server_time": time.Now().UTC().Format(time.RFC3339),
	}, t.logger)
}

// handleMetrics handles GET /metrics in Prometheus text format.
func (t *HTTPTransport) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if err := t.metrics.WritePrometheus(w); err != nil {
		t.logger.Warn("failed to write metrics", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}

// Serve listens on the configured socket or address and handles requests
// until ctx is done or the transport is closed.
func (t *HTTPTransport) Serve(ctx context.Context, handler Handler) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.handler.Store(&handler)

	listener, err := t.listen()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- t.server.Serve(listener) }()

	select {
	case <-ctx.Done():
		if err := t.Close(); err != nil {
			t.logger.Warn("failed to shut down HTTP transport", zap.Error(err))
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (t *HTTPTransport) listen() (net.Listener, error) {
	if path := t.config.SocketPath; path != "" {
		// remove a stale socket left by a previous run
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("failed to remove stale socket", zap.String("socket", path), zap.Error(err))
		}
		listener, err := net.Listen("unix", path)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on socket %s: %w", path, err)
		}
		t.logger.Info("HTTP/SSE transport listening", zap.String("socket", path))
		return listener, nil
	}

	listener, err := net.Listen("tcp", t.config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", t.config.Address, err)
	}
	t.logger.Info("HTTP/SSE transport listening", zap.String("address", listener.Addr().String()))
	return listener, nil
}

// WriteMessage broadcasts a message to all connected SSE clients
func (t *HTTPTransport) WriteMessage(msg *Message) error {
	if t.closed.Load() {
		return ErrClosed
	}
	return t.broadcast(msg)
}

func (t *HTTPTransport) broadcast(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	t.clients.Broadcast(&SSEEvent{
		ID:    strconv.FormatUint(t.eventID.Add(1), 10),
		Event: "message",
		Data:  string(data),
	})
	return nil
}

// Close stops the server, ending every SSE stream.
func (t *HTTPTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}

	close(t.shutdownCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	if path := t.config.SocketPath; path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			t.logger.Warn("failed to remove socket file", zap.String("socket", path), zap.Error(err))
		}
	}

	return nil
}

// IsClosed returns whether the transport is closed
func (t *HTTPTransport) IsClosed() bool {
	return t.closed.Load()
}

var _ Transport = (*HTTPTransport)(nil)
