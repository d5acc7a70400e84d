package reactor

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsSnapshot is a point in time copy of an engine's counters, see
// [WithMetrics] and [Engine.Metrics].
type MetricsSnapshot struct {
	// Polls counts backend waits, including ones skipped by a pending stop.
	Polls uint64
	// PollsFired counts waits that returned at least one ready descriptor.
	PollsFired uint64
	// PollErrors counts waits that failed.
	PollErrors uint64
	// Dispatches counts callbacks invoked for registrations made through
	// the engine.
	Dispatches uint64
	// Wakeups counts writes to the engine's wakeup counter.
	Wakeups uint64
	// Stops counts successful stop requests (first reason of a cycle).
	Stops uint64
	// Dispatch summarizes callback run time.
	Dispatch LatencySnapshot
}

// LatencySnapshot summarizes a latency distribution. Quantiles are
// streaming estimates.
type LatencySnapshot struct {
	Count uint64
	Sum   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
}

// engineMetrics is the mutable side of MetricsSnapshot.
//
// THREAD SAFE: counters are atomic, latency is guarded by mu.
type engineMetrics struct {
	latency    *latencySummary
	polls      atomic.Uint64
	fired      atomic.Uint64
	pollErrors atomic.Uint64
	dispatches atomic.Uint64
	wakeups    atomic.Uint64
	stops      atomic.Uint64
	mu         sync.Mutex
}

func newEngineMetrics() *engineMetrics {
	return &engineMetrics{latency: newLatencySummary(0.50, 0.90, 0.99)}
}

func (m *engineMetrics) observePoll(fired bool, err error) {
	if m == nil {
		return
	}
	m.polls.Add(1)
	if fired {
		m.fired.Add(1)
	}
	if err != nil {
		m.pollErrors.Add(1)
	}
}

func (m *engineMetrics) observeDispatch(d time.Duration) {
	m.dispatches.Add(1)
	m.mu.Lock()
	m.latency.add(float64(d))
	m.mu.Unlock()
}

func (m *engineMetrics) observeWakeup() {
	if m != nil {
		m.wakeups.Add(1)
	}
}

func (m *engineMetrics) observeStop() {
	if m != nil {
		m.stops.Add(1)
	}
}

// instrument wraps callback to record dispatch counts and latency.
func (m *engineMetrics) instrument(callback Callback) Callback {
	if m == nil {
		return callback
	}
	return func(events Mode) {
		start := time.Now()
		defer func() { m.observeDispatch(time.Since(start)) }()
		callback(events)
	}
}

func (m *engineMetrics) snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Polls:      m.polls.Load(),
		PollsFired: m.fired.Load(),
		PollErrors: m.pollErrors.Load(),
		Dispatches: m.dispatches.Load(),
		Wakeups:    m.wakeups.Load(),
		Stops:      m.stops.Load(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.latency
	s.Dispatch = LatencySnapshot{
		Count: l.count,
		Sum:   time.Duration(l.sum),
		Mean:  time.Duration(l.mean()),
		P50:   time.Duration(l.quantile(0)),
		P90:   time.Duration(l.quantile(1)),
		P99:   time.Duration(l.quantile(2)),
		Max:   time.Duration(l.max),
	}
	return s
}
