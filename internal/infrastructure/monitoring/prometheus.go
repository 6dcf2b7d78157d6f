package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler returns an http.Handler that serves Prometheus text format metrics.
// This avoids pulling in the full prometheus/client_golang dependency.
// Mount it at "/metrics" in your HTTP server.
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			{"llmproxy_requests_total", "Total number of proxy requests processed", "counter", atomic.LoadUint64(&m.metrics.RequestsTotal)},
			{"llmproxy_requests_success_total", "Total successful requests", "counter", atomic.LoadUint64(&m.metrics.RequestsSuccess)},
			{"llmproxy_requests_failed_total", "Total failed requests", "counter", atomic.LoadUint64(&m.metrics.RequestsFailed)},

			{"llmproxy_commands_total", "Total inline commands executed", "counter", atomic.LoadUint64(&m.metrics.CommandsTotal)},
			{"llmproxy_commands_failed_total", "Total inline commands that failed", "counter", atomic.LoadUint64(&m.metrics.CommandsFailed)},

			{"llmproxy_backend_calls_total", "Total upstream backend calls", "counter", atomic.LoadUint64(&m.metrics.BackendCallsTotal)},
			{"llmproxy_backend_calls_failed_total", "Total failed upstream backend calls", "counter", atomic.LoadUint64(&m.metrics.BackendCallsFailed)},
			{"llmproxy_failover_attempts_total", "Total failover attempts across routes and keys", "counter", atomic.LoadUint64(&m.metrics.FailoverAttempts)},
			{"llmproxy_stream_chunks_total", "Total SSE chunks relayed to clients", "counter", atomic.LoadUint64(&m.metrics.StreamChunks)},
			{"llmproxy_tokens_used_total", "Total tokens reported by upstream backends", "counter", atomic.LoadUint64(&m.metrics.TokensUsed)},

			{"llmproxy_errors_total", "Total errors encountered", "counter", atomic.LoadUint64(&m.metrics.ErrorsTotal)},

			{"llmproxy_active_sessions", "Number of live sessions", "gauge", atomic.LoadInt64(&m.metrics.ActiveSessions)},
			{"llmproxy_uptime_seconds", "Process uptime in seconds", "gauge", uptime},

			{"llmproxy_memory_alloc_bytes", "Current memory allocation in bytes", "gauge", memStats.Alloc},
			{"llmproxy_memory_sys_bytes", "Total memory obtained from OS", "gauge", memStats.Sys},
			{"llmproxy_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
			{"llmproxy_gc_pause_total_ns", "Total GC pause time in nanoseconds", "counter", memStats.PauseTotalNs},
			{"llmproxy_gc_cycles_total", "Total number of completed GC cycles", "counter", memStats.NumGC},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			case uint32:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		reqCount := atomic.LoadUint64(&m.metrics.RequestLatencyCount)
		if reqCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(reqCount) / 1e6
			fmt.Fprintf(w, "# HELP llmproxy_request_latency_avg_ms Average request latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE llmproxy_request_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "llmproxy_request_latency_avg_ms %f\n\n", avgMs)
		}

		backendCount := atomic.LoadUint64(&m.metrics.BackendLatencyCount)
		if backendCount > 0 {
			avgMs := float64(atomic.LoadUint64(&m.metrics.BackendLatencySum)) / float64(backendCount) / 1e6
			fmt.Fprintf(w, "# HELP llmproxy_backend_latency_avg_ms Average upstream call latency in milliseconds\n")
			fmt.Fprintf(w, "# TYPE llmproxy_backend_latency_avg_ms gauge\n")
			fmt.Fprintf(w, "llmproxy_backend_latency_avg_ms %f\n\n", avgMs)
		}
	})
}
