package monitoring

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestMonitorCounters(t *testing.T) {
	m := NewMonitor(zap.NewNop())

	m.IncRequestTotal()
	m.IncRequestTotal()
	m.IncRequestSuccess()
	m.IncRequestFailed()
	m.IncCommandTotal()
	m.IncBackendCall()
	m.IncFailoverAttempt()
	m.AddTokensUsed(120)
	m.SetActiveSessions(3)
	m.RecordRequestLatency(20 * time.Millisecond)

	stats := m.GetStats()
	if stats["requests_total"].(uint64) != 2 {
		t.Errorf("requests_total = %v", stats["requests_total"])
	}
	if stats["tokens_used"].(uint64) != 120 {
		t.Errorf("tokens_used = %v", stats["tokens_used"])
	}
	if stats["active_sessions"].(int64) != 3 {
		t.Errorf("active_sessions = %v", stats["active_sessions"])
	}
	if stats["avg_latency_ms"].(float64) < 19 {
		t.Errorf("avg_latency_ms = %v", stats["avg_latency_ms"])
	}
}

func TestSnapshotHistoryBounded(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	m.historyLimit = 5

	for i := 0; i < 10; i++ {
		m.Snapshot()
	}
	if got := len(m.GetHistory()); got != 5 {
		t.Errorf("history length = %d, want 5", got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	m.IncRequestTotal()
	m.IncBackendCall()
	m.IncStreamChunk()

	rec := httptest.NewRecorder()
	m.PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		"llmproxy_requests_total 1",
		"llmproxy_backend_calls_total 1",
		"llmproxy_stream_chunks_total 1",
		"# TYPE llmproxy_active_sessions gauge",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
