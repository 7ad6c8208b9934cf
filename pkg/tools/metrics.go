package tools

import (
	"sort"
	"sync"
	"time"

	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// Call outcomes recorded by the collector.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

const historySize = 100

// CallMetrics describes one finished dispatch.
type CallMetrics struct {
	Tool       string
	ToolCallID protocol.ToolCallID
	Started    time.Time
	Latency    time.Duration
	Outcome    string
}

// ToolTotals aggregates calls for one tool.
type ToolTotals struct {
	Tool         string        `json:"tool"`
	Calls        uint64        `json:"calls"`
	Errors       uint64        `json:"errors"`
	Timeouts     uint64        `json:"timeouts"`
	TotalLatency time.Duration `json:"total_latency_ns"`
	MaxLatency   time.Duration `json:"max_latency_ns"`
}

// AverageLatency returns mean latency over all calls.
func (t ToolTotals) AverageLatency() time.Duration {
	if t.Calls == 0 {
		return 0
	}
	return t.TotalLatency / time.Duration(t.Calls)
}

// MetricsCollector records dispatch latency per tool.
// It is goroutine-safe.
type MetricsCollector struct {
	mu      sync.Mutex
	totals  map[string]*ToolTotals
	history []CallMetrics // Recent calls, oldest first

	onUpdate func(CallMetrics)
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		totals:  make(map[string]*ToolTotals),
		history: make([]CallMetrics, 0, historySize),
	}
}

// OnUpdate sets a callback that fires after every recorded call.
func (m *MetricsCollector) OnUpdate(fn func(CallMetrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Record adds a finished call.
func (m *MetricsCollector) Record(c CallMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.totals[c.Tool]
	if !ok {
		t = &ToolTotals{Tool: c.Tool}
		m.totals[c.Tool] = t
	}
	t.Calls++
	switch c.Outcome {
	case OutcomeError:
		t.Errors++
	case OutcomeTimeout:
		t.Errors++
		t.Timeouts++
	}
	t.TotalLatency += c.Latency
	if c.Latency > t.MaxLatency {
		t.MaxLatency = c.Latency
	}

	m.history = append(m.history, c)
	if len(m.history) > historySize {
		m.history = m.history[1:]
	}

	if m.onUpdate != nil {
		go m.onUpdate(c)
	}
}

// Totals returns per-tool aggregates sorted by tool name.
func (m *MetricsCollector) Totals() []ToolTotals {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ToolTotals, 0, len(m.totals))
	for _, t := range m.totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tool < out[j].Tool })
	return out
}

// Recent returns up to the last 100 calls, oldest first.
func (m *MetricsCollector) Recent() []CallMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallMetrics, len(m.history))
	copy(out, m.history)
	return out
}

// RecentAverage returns mean latency of the recent successful calls of tool.
func (m *MetricsCollector) RecentAverage(tool string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum time.Duration
	var n int
	for _, c := range m.history {
		if c.Tool == tool && c.Outcome == OutcomeOK {
			sum += c.Latency
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / time.Duration(n)
}
