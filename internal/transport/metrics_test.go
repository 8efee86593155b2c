// Copyright 2025 Joseph Cumines
//
// Metrics registry unit tests

package transport

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLabels(t *testing.T) {
	tests := []struct {
		pairs []string
		want  string
	}{
		{nil, ""},
		{[]string{"tool", "wechat_send_message"}, `tool="wechat_send_message"`},
		{[]string{"tool", "a", "status", "error"}, `tool="a",status="error"`},
		{[]string{"phase", `quo"te`}, `phase="quo\"te"`},
		{[]string{"dangling"}, ""},
	}
	for _, tt := range tests {
		if got := Labels(tt.pairs...); got != tt.want {
			t.Errorf("Labels(%q) = %s, want %s", tt.pairs, got, tt.want)
		}
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.RecordToolCall("wechat_send_message", "ok", 10*time.Millisecond)
	m.RecordToolCall("wechat_send_message", "ok", 20*time.Millisecond)
	m.RecordToolCall("wechat_send_message", "error", time.Millisecond)
	m.RecordHistoryPage("searching")
	m.RecordHistoryPage("collecting")
	m.RecordHistoryPage("collecting")
	m.RecordHistoryScan(3, 42)
	m.Add("unknown_metric", "", 1)

	tests := []struct {
		name   string
		labels string
		want   float64
	}{
		{MetricToolCalls, Labels("tool", "wechat_send_message", "status", "ok"), 2},
		{MetricToolCalls, Labels("tool", "wechat_send_message", "status", "error"), 1},
		{MetricHistoryPages, Labels("phase", "searching"), 1},
		{MetricHistoryPages, Labels("phase", "collecting"), 2},
		{MetricHistoryRecords, "", 42},
		{"unknown_metric", "", 0},
	}
	for _, tt := range tests {
		if got := m.Value(tt.name, tt.labels); got != tt.want {
			t.Errorf("Value(%s{%s}) = %g, want %g", tt.name, tt.labels, got, tt.want)
		}
	}
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	m.RecordToolCall("x", "ok", time.Second)
	m.RecordHistoryPage("searching")
	m.SetSSEConnections(3)
	if got := m.Value(MetricSSEConnections, ""); got != 0 {
		t.Errorf("nil Value() = %g, want 0", got)
	}
	var b strings.Builder
	if err := m.WritePrometheus(&b); err != nil || b.Len() != 0 {
		t.Errorf("nil WritePrometheus() = %q, %v", b.String(), err)
	}
}

func TestMetrics_WritePrometheus(t *testing.T) {
	m := NewMetrics()
	m.RecordToolCall("wechat_get_chat_history", "ok", 2*time.Second)
	m.RecordHistoryScan(10, 5)
	m.SetSSEConnections(2)

	var b strings.Builder
	if err := m.WritePrometheus(&b); err != nil {
		t.Fatalf("WritePrometheus() error = %v", err)
	}
	out := b.String()

	for _, want := range []string{
		"# TYPE " + MetricToolCalls + " counter\n",
		MetricToolCalls + `{tool="wechat_get_chat_history",status="ok"} 1` + "\n",
		"# TYPE " + MetricSSEConnections + " gauge\n",
		MetricSSEConnections + " 2\n",
		MetricHistoryRecords + " 5\n",
		"# TYPE " + MetricToolDuration + " histogram\n",
		MetricToolDuration + `_bucket{tool="wechat_get_chat_history",le="1"} 0` + "\n",
		MetricToolDuration + `_bucket{tool="wechat_get_chat_history",le="2.5"} 1` + "\n",
		MetricToolDuration + `_bucket{tool="wechat_get_chat_history",le="+Inf"} 1` + "\n",
		MetricToolDuration + `_sum{tool="wechat_get_chat_history"} 2` + "\n",
		MetricToolDuration + `_count{tool="wechat_get_chat_history"} 1` + "\n",
		MetricHistoryScanPages + `_bucket{le="10"} 1` + "\n",
		MetricHistoryScanPages + `_bucket{le="5"} 0` + "\n",
		MetricHistoryScanPages + "_sum 10\n",
		MetricHistoryScanPages + "_count 1\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}

	// deterministic
	var again strings.Builder
	if err := m.WritePrometheus(&again); err != nil {
		t.Fatal(err)
	}
	if again.String() != out {
		t.Error("WritePrometheus output is not deterministic")
	}
}

func TestMetrics_Concurrent(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordToolCall("wechat_send_message", "ok", time.Millisecond)
			m.RecordHistoryPage("collecting")
			var b strings.Builder
			_ = m.WritePrometheus(&b)
		}()
	}
	wg.Wait()

	if got := m.Value(MetricToolCalls, Labels("tool", "wechat_send_message", "status", "ok")); got != 50 {
		t.Errorf("tool calls = %g, want 50", got)
	}
}
