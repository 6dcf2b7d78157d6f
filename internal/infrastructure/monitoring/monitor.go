package monitoring

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics holds the proxy-wide counters. All fields are updated with
// atomics; read them through Monitor accessors.
type Metrics struct {
	RequestsTotal   uint64
	RequestsSuccess uint64
	RequestsFailed  uint64

	CommandsTotal  uint64
	CommandsFailed uint64

	BackendCallsTotal  uint64
	BackendCallsFailed uint64
	FailoverAttempts   uint64
	StreamChunks       uint64

	TokensUsed uint64

	ActiveSessions int64

	RequestLatencySum   uint64
	RequestLatencyCount uint64
	BackendLatencySum   uint64
	BackendLatencyCount uint64

	ErrorsTotal uint64

	StartTime time.Time
}

// Monitor collects process metrics and periodic snapshots for the admin
// dashboard endpoint.
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
	mu      sync.RWMutex

	history      []MetricsSnapshot
	historyLimit int
}

// MetricsSnapshot is one point of the dashboard history series.
type MetricsSnapshot struct {
	Timestamp         time.Time
	RequestsPerSecond float64
	BackendCallsPerS  float64
	AvgLatencyMs      float64
	ActiveSessions    int64
	MemoryMB          float64
	Goroutines        int
}

// NewMonitor creates a monitor.
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics: &Metrics{
			StartTime: time.Now(),
		},
		logger:       logger,
		history:      make([]MetricsSnapshot, 0, 100),
		historyLimit: 100,
	}
}

func (m *Monitor) IncRequestTotal()       { atomic.AddUint64(&m.metrics.RequestsTotal, 1) }
func (m *Monitor) IncRequestSuccess()     { atomic.AddUint64(&m.metrics.RequestsSuccess, 1) }
func (m *Monitor) IncRequestFailed()      { atomic.AddUint64(&m.metrics.RequestsFailed, 1) }
func (m *Monitor) IncCommandTotal()       { atomic.AddUint64(&m.metrics.CommandsTotal, 1) }
func (m *Monitor) IncCommandFailed()      { atomic.AddUint64(&m.metrics.CommandsFailed, 1) }
func (m *Monitor) IncBackendCall()        { atomic.AddUint64(&m.metrics.BackendCallsTotal, 1) }
func (m *Monitor) IncBackendCallFailed()  { atomic.AddUint64(&m.metrics.BackendCallsFailed, 1) }
func (m *Monitor) IncFailoverAttempt()    { atomic.AddUint64(&m.metrics.FailoverAttempts, 1) }
func (m *Monitor) IncStreamChunk()        { atomic.AddUint64(&m.metrics.StreamChunks, 1) }
func (m *Monitor) IncError()              { atomic.AddUint64(&m.metrics.ErrorsTotal, 1) }

func (m *Monitor) AddTokensUsed(n int) {
	atomic.AddUint64(&m.metrics.TokensUsed, uint64(n))
}

func (m *Monitor) SetActiveSessions(n int64) {
	atomic.StoreInt64(&m.metrics.ActiveSessions, n)
}

func (m *Monitor) RecordRequestLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.RequestLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.RequestLatencyCount, 1)
}

func (m *Monitor) RecordBackendLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.BackendLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.BackendLatencyCount, 1)
}

// GetStats returns the current counters as a flat map for the admin API.
func (m *Monitor) GetStats() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime)
	reqTotal := atomic.LoadUint64(&m.metrics.RequestsTotal)

	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.RequestLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6 // ms
	}

	return map[string]interface{}{
		"uptime_seconds":       uptime.Seconds(),
		"requests_total":       reqTotal,
		"requests_success":     atomic.LoadUint64(&m.metrics.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&m.metrics.RequestsFailed),
		"commands_total":       atomic.LoadUint64(&m.metrics.CommandsTotal),
		"commands_failed":      atomic.LoadUint64(&m.metrics.CommandsFailed),
		"backend_calls_total":  atomic.LoadUint64(&m.metrics.BackendCallsTotal),
		"backend_calls_failed": atomic.LoadUint64(&m.metrics.BackendCallsFailed),
		"failover_attempts":    atomic.LoadUint64(&m.metrics.FailoverAttempts),
		"stream_chunks":        atomic.LoadUint64(&m.metrics.StreamChunks),
		"tokens_used":          atomic.LoadUint64(&m.metrics.TokensUsed),
		"active_sessions":      atomic.LoadInt64(&m.metrics.ActiveSessions),
		"errors_total":         atomic.LoadUint64(&m.metrics.ErrorsTotal),
		"avg_latency_ms":       avgLatency,
		"memory_mb":            float64(memStats.Alloc) / 1024 / 1024,
		"goroutines":           runtime.NumGoroutine(),
		"rps":                  float64(reqTotal) / uptime.Seconds(),
	}
}

// Snapshot records a history point and returns it.
func (m *Monitor) Snapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptime := time.Since(m.metrics.StartTime).Seconds()
	reqTotal := atomic.LoadUint64(&m.metrics.RequestsTotal)
	backendTotal := atomic.LoadUint64(&m.metrics.BackendCallsTotal)

	avgLatency := float64(0)
	if count := atomic.LoadUint64(&m.metrics.RequestLatencyCount); count > 0 {
		avgLatency = float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6
	}

	snapshot := MetricsSnapshot{
		Timestamp:         time.Now(),
		RequestsPerSecond: float64(reqTotal) / uptime,
		BackendCallsPerS:  float64(backendTotal) / uptime,
		AvgLatencyMs:      avgLatency,
		ActiveSessions:    atomic.LoadInt64(&m.metrics.ActiveSessions),
		MemoryMB:          float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:        runtime.NumGoroutine(),
	}

	m.mu.Lock()
	m.history = append(m.history, snapshot)
	if len(m.history) > m.historyLimit {
		m.history = m.history[1:]
	}
	m.mu.Unlock()

	return snapshot
}

// GetHistory returns a copy of the snapshot history.
func (m *Monitor) GetHistory() []MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]MetricsSnapshot, len(m.history))
	copy(result, m.history)
	return result
}

// StartCollector snapshots at the given interval until ctx is done.
func (m *Monitor) StartCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Snapshot()
		}
	}
}

// DashboardData bundles stats and history for the admin endpoint.
type DashboardData struct {
	Stats   map[string]interface{} `json:"stats"`
	History []MetricsSnapshot      `json:"history"`
}

// GetDashboardData returns the dashboard payload.
func (m *Monitor) GetDashboardData() *DashboardData {
	return &DashboardData{
		Stats:   m.GetStats(),
		History: m.GetHistory(),
	}
}
