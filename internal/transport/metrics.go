// Copyright 2025 Joseph Cumines
//
// Metrics registry for observability

package transport

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"
)

// Metric names exported on /metrics.
const (
	MetricToolCalls        = "wechat_mcp_tool_calls_total"
	MetricToolDuration     = "wechat_mcp_tool_duration_seconds"
	MetricHistoryPages     = "wechat_mcp_history_pages_total"
	MetricHistoryRecords   = "wechat_mcp_history_records_total"
	MetricRateLimited      = "wechat_mcp_rate_limited_total"
	MetricSSEEvents        = "wechat_mcp_sse_events_sent_total"
	MetricSSEConnections   = "wechat_mcp_sse_connections_active"
	MetricHistoryScanPages = "wechat_mcp_history_scan_pages"
)

// Tool latency buckets in seconds. History scans scroll a desktop window and
// run for minutes.
var toolLatencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// Pages scanned per history call.
var scanPageBuckets = []float64{1, 2, 5, 10, 25, 50, 100, 250, 500}

// Metrics is a thread-safe registry of counters, gauges and histograms,
// exported in Prometheus text format. A nil *Metrics discards everything.
type Metrics struct {
	counters   map[string]map[string]float64
	gauges     map[string]map[string]float64
	histograms map[string]*histogram
	mu         sync.Mutex
}

// histogram is a fixed-bucket distribution per label set.
type histogram struct {
	series  map[string]*histogramSeries
	buckets []float64
}

type histogramSeries struct {
	counts []uint64 // per bucket, last is +Inf
	sum    float64
	total  uint64
}

// NewMetrics returns a registry with the server's metrics registered.
func NewMetrics() *Metrics {
	m := &Metrics{
		counters:   make(map[string]map[string]float64),
		gauges:     make(map[string]map[string]float64),
		histograms: make(map[string]*histogram),
	}
	for _, name := range []string{MetricToolCalls, MetricHistoryPages, MetricHistoryRecords, MetricRateLimited, MetricSSEEvents} {
		m.counters[name] = make(map[string]float64)
	}
	m.gauges[MetricSSEConnections] = map[string]float64{"": 0}
	m.histograms[MetricToolDuration] = &histogram{buckets: toolLatencyBuckets, series: make(map[string]*histogramSeries)}
	m.histograms[MetricHistoryScanPages] = &histogram{buckets: scanPageBuckets, series: make(map[string]*histogramSeries)}
	return m
}

// Labels formats label pairs as key="value",... in the given order.
func Labels(pairs ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", pairs[i], pairs[i+1])
	}
	return b.String()
}

// Add adds delta to a counter. Unknown names are ignored.
func (m *Metrics) Add(name, labels string, delta float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		c[labels] += delta
	}
}

// SetGauge sets a gauge. Unknown names are ignored.
func (m *Metrics) SetGauge(name, labels string, value float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.gauges[name]; ok {
		g[labels] = value
	}
}

// Observe records a histogram sample. Unknown names are ignored.
func (m *Metrics) Observe(name, labels string, value float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.histograms[name]
	if !ok {
		return
	}
	s, ok := h.series[labels]
	if !ok {
		s = &histogramSeries{counts: make([]uint64, len(h.buckets)+1)}
		h.series[labels] = s
	}
	s.sum += value
	s.total++
	i, _ := slices.BinarySearch(h.buckets, value)
	s.counts[i]++
}

// Value returns the current value of a counter or gauge.
func (m *Metrics) Value(name, labels string) float64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c[labels]
	}
	return m.gauges[name][labels]
}

// RecordToolCall records a tool invocation with count and latency metrics.
func (m *Metrics) RecordToolCall(tool, status string, duration time.Duration) {
	m.Add(MetricToolCalls, Labels("tool", tool, "status", status), 1)
	m.Observe(MetricToolDuration, Labels("tool", tool), duration.Seconds())
}

// RecordHistoryPage records one page read during a history scan.
func (m *Metrics) RecordHistoryPage(phase string) {
	m.Add(MetricHistoryPages, Labels("phase", phase), 1)
}

// RecordHistoryScan records the outcome of one history scan.
func (m *Metrics) RecordHistoryScan(pages, records int) {
	m.Add(MetricHistoryRecords, "", float64(records))
	m.Observe(MetricHistoryScanPages, "", float64(pages))
}

// RecordRateLimited records a rejected HTTP request.
func (m *Metrics) RecordRateLimited() {
	m.Add(MetricRateLimited, "", 1)
}

// RecordSSEEvent records an SSE event being sent.
func (m *Metrics) RecordSSEEvent() {
	m.Add(MetricSSEEvents, "", 1)
}

// SetSSEConnections sets the current number of active SSE connections.
func (m *Metrics) SetSSEConnections(count int) {
	m.SetGauge(MetricSSEConnections, "", float64(count))
}

// WritePrometheus writes all metrics in Prometheus text format, sorted by name
// and label set.
func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var b strings.Builder
	for _, name := range sortedKeys(m.counters) {
		writeSamples(&b, name, "counter", m.counters[name])
	}
	for _, name := range sortedKeys(m.gauges) {
		writeSamples(&b, name, "gauge", m.gauges[name])
	}
	for _, name := range sortedKeys(m.histograms) {
		h := m.histograms[name]
		fmt.Fprintf(&b, "# TYPE %s histogram\n", name)
		for _, labels := range sortedKeys(h.series) {
			s := h.series[labels]
			prefix := ""
			if labels != "" {
				prefix = labels + ","
			}
			var cumulative uint64
			for i, bound := range h.buckets {
				cumulative += s.counts[i]
				fmt.Fprintf(&b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, bound, cumulative)
			}
			cumulative += s.counts[len(h.buckets)]
			fmt.Fprintf(&b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, cumulative)
			fmt.Fprintf(&b, "%s_sum%s %g\n", name, braces(labels), s.sum)
			fmt.Fprintf(&b, "%s_count%s %d\n", name, braces(labels), s.total)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeSamples(b *strings.Builder, name, kind string, values map[string]float64) {
	fmt.Fprintf(b, "# TYPE %s %s\n", name, kind)
	for _, labels := range sortedKeys(values) {
		fmt.Fprintf(b, "%s%s %g\n", name, braces(labels), values[labels])
	}
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
