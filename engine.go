package reactor

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Forever is the timeout that disables a deadline. Any negative duration
// behaves the same.
const Forever time.Duration = -1

// Engine owns a [Backend] and drives its wait loop.
//
// Run, Poll and PollOne may be called from several goroutines at once, and
// from within callbacks. They share one stop cycle: the first of them to
// enter resets it, and a Stop ends every Run in progress.
type Engine struct {
	nowAnchor  time.Time
	stopReason error // guarded by stopMu
	backend    atomic.Pointer[backendRef]
	wakeup     *Notification
	opts       *engineOptions
	diag       *diagnostics
	metrics    *engineMetrics
	runners    map[uint64]int // guarded by runnersMu
	runGate    engineGate
	pollGate   engineGate

	nowOffset        atomic.Int64
	executionCount   atomic.Int64
	polling          atomic.Int32
	runPolling       atomic.Int32 // subset of polling entered through runGate
	pendingMutations atomic.Int32
	pendingWakes     atomic.Int32
	exitFlag         atomic.Bool
	closing          atomic.Bool

	stopMu    sync.Mutex
	runnersMu sync.Mutex
}

type backendRef struct {
	Backend
}

// New creates an Engine, using the platform backend unless [WithBackend]
// is given.
func New(opts ...Option) (*Engine, error) {
	cfg, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}
	diag, err := newDiagnostics(cfg.logger, cfg.logRates)
	if err != nil {
		return nil, err
	}

	backend := cfg.backend
	if backend == nil {
		if backend, err = newDefaultBackend(); err != nil {
			return nil, err
		}
	}

	wakeup, err := newNotification(BehaviorConditional, 0)
	if err != nil {
		return nil, errors.Join(err, backend.Close())
	}

	e := &Engine{
		nowAnchor: time.Now(),
		wakeup:    wakeup,
		opts:      cfg,
		diag:      diag,
		runners:   make(map[uint64]int),
	}
	e.runGate = engineGate{engine: e, honorExit: true}
	e.pollGate = engineGate{engine: e}
	if cfg.metricsEnabled {
		e.metrics = newEngineMetrics()
	}
	if err := backend.StartMonitoring(wakeup.read.Fd(), ModeUrgentRead, e.onWakeup); err != nil {
		return nil, errors.Join(err, wakeup.closeHandles(), backend.Close())
	}
	e.backend.Store(&backendRef{backend})

	diag.logger().Debug().
		Int("max_events_per_poll", cfg.maxEventsPerPoll).
		Bool("metrics", cfg.metricsEnabled).
		Log("reactor: engine created")

	return e, nil
}

// Run polls until stopped, returning the stop reason: the value passed to
// [Engine.Stop] (nil for [Engine.Quit]), the first poll error, ErrTimedOut
// once timeout elapses, or ErrCanceled if the engine is closed.
//
// A negative timeout runs until stopped. A zero timeout polls once without
// blocking.
func (e *Engine) Run(timeout time.Duration) error {
	backend, gid := e.enter()
	defer e.leave(gid)

	if backend != nil {
		e.run(backend, timeout)
	}

	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	return e.stopReason
}

func (e *Engine) run(backend Backend, timeout time.Duration) {
	now := e.refreshNow()
	deadline := now.Add(timeout)

	for !e.exitFlag.Load() {
		wait := Forever
		if timeout >= 0 {
			wait = max(deadline.Sub(now), 0)
		}

		if _, err := e.poll(backend, &e.runGate, e.opts.maxEventsPerPoll, wait); err != nil {
			e.Stop(err)
		}

		now = e.refreshNow()
		if timeout >= 0 && !now.Before(deadline) {
			e.Stop(ErrTimedOut)
		}
	}

	// one wakeup write releases one waiter, so pass it on
	if e.polling.Load() > 0 {
		e.wake()
	}
}

// Poll performs one wait of at most timeout, dispatching every ready
// registration up to the configured maximum. It reports whether anything
// fired. It does not end a stop cycle, and is not interrupted by Stop.
func (e *Engine) Poll(timeout time.Duration) bool {
	return e.pollOnce(e.opts.maxEventsPerPoll, timeout)
}

// PollOne is Poll, dispatching at most one registration.
func (e *Engine) PollOne(timeout time.Duration) bool {
	return e.pollOnce(1, timeout)
}

func (e *Engine) pollOnce(maxEvents int, timeout time.Duration) bool {
	backend, gid := e.enter()
	defer e.leave(gid)
	if backend == nil {
		return false
	}
	fired, _ := e.poll(backend, &e.pollGate, maxEvents, timeout)
	e.refreshNow()
	return fired
}

func (e *Engine) poll(backend Backend, gate WaitGate, maxEvents int, timeout time.Duration) (bool, error) {
	fired, err := backend.Poll(gate, maxEvents, timeout)
	e.metrics.observePoll(fired, err)
	if err != nil {
		if b := e.diag.limited(logiface.LevelError, logCategory{kind: "poll"}); b != nil {
			b.Err(err).Log("reactor: poll failed")
		}
	}
	return fired, err
}

// Stop ends the current stop cycle with reason. It is a no-op if the engine
// is not running, or if the cycle was already stopped; the first reason
// wins.
func (e *Engine) Stop(reason error) {
	e.stopMu.Lock()
	if e.executionCount.Load() == 0 || e.exitFlag.Load() {
		e.stopMu.Unlock()
		return
	}
	e.exitFlag.Store(true)
	e.stopReason = reason
	// Close waits for this before releasing the wakeup descriptor
	e.pendingWakes.Add(1)
	e.stopMu.Unlock()
	defer e.pendingWakes.Add(-1)

	e.metrics.observeStop()
	if e.polling.Load() > 0 {
		e.wake()
	}
}

// Quit is Stop(nil).
func (e *Engine) Quit() {
	e.Stop(nil)
}

// Running reports whether any Run, Poll or PollOne call is in progress.
func (e *Engine) Running() bool {
	return e.executionCount.Load() > 0
}

// State returns the current [State].
func (e *Engine) State() State {
	switch {
	case e.closing.Load():
		return StateClosed
	case e.polling.Load() > 0:
		return StatePolling
	case e.executionCount.Load() > 0:
		return StateRunning
	default:
		return StateIdle
	}
}

// Now returns the time cached after the most recent wait.
func (e *Engine) Now() time.Time {
	return e.nowAnchor.Add(time.Duration(e.nowOffset.Load()))
}

// refreshNow updates the cached time, never moving it backward.
func (e *Engine) refreshNow() time.Time {
	elapsed := int64(time.Since(e.nowAnchor))
	for {
		current := e.nowOffset.Load()
		if elapsed <= current {
			return e.nowAnchor.Add(time.Duration(current))
		}
		if e.nowOffset.CompareAndSwap(current, elapsed) {
			return e.nowAnchor.Add(time.Duration(elapsed))
		}
	}
}

// StartMonitoring registers h for mode. callback runs on the goroutine
// blocked in Run, Poll or PollOne. It is a no-op if h is invalid or the
// engine is closed.
func (e *Engine) StartMonitoring(h *Handle, mode Mode, callback Callback) error {
	if !h.Valid() {
		return nil
	}
	if callback == nil {
		return ErrInvalidArgument
	}
	fd := h.Fd()
	callback = e.metrics.instrument(callback)
	_, err := e.mutate(func(b Backend) error {
		return b.StartMonitoring(fd, mode&modeMask, callback)
	})
	e.logMutation("reactor: start monitoring", fd, mode, err)
	return err
}

// UpdateMonitoring changes the mode of a registered h, re-arming it if it
// was registered with ModeOneShot.
func (e *Engine) UpdateMonitoring(h *Handle, mode Mode) error {
	if !h.Valid() {
		return nil
	}
	fd := h.Fd()
	_, err := e.mutate(func(b Backend) error {
		return b.UpdateMonitoring(fd, mode&modeMask)
	})
	e.logMutation("reactor: update monitoring", fd, mode, err)
	return err
}

// StopMonitoring unregisters h. Once it returns, h's callback will not be
// dispatched again. Unregister before closing a descriptor.
func (e *Engine) StopMonitoring(h *Handle) error {
	if !h.Valid() {
		return nil
	}
	fd := h.Fd()
	_, err := e.mutate(func(b Backend) error {
		return b.StopMonitoring(fd)
	})
	e.logMutation("reactor: stop monitoring", fd, ModeNone, err)
	return err
}

// blockOnSignals forwards to the backend, reporting ErrClosed if the engine
// has been closed.
func (e *Engine) blockOnSignals(set *SignalSet) error {
	applied, err := e.mutate(func(b Backend) error {
		return b.BlockOnSignals(set)
	})
	if !applied {
		return ErrClosed
	}
	return err
}

// mutate runs fn against the backend once no wait is blocked in the
// kernel. It reports false if the engine has no backend.
func (e *Engine) mutate(fn func(Backend) error) (bool, error) {
	e.pendingMutations.Add(1)
	defer e.pendingMutations.Add(-1)

	ref := e.backend.Load()
	if ref == nil {
		return false, nil
	}

	for spins := 0; e.polling.Load() > 0; spins++ {
		if spins%128 == 0 {
			e.wake()
		}
		backoff(spins)
	}

	return true, fn(ref.Backend)
}

func (e *Engine) logMutation(msg string, fd int, mode Mode, err error) {
	if err != nil {
		e.diag.logger().Warning().Int("fd", fd).Stringer("mode", mode).Err(err).Log(msg)
		return
	}
	e.diag.logger().Debug().Int("fd", fd).Stringer("mode", mode).Log(msg)
}

// onWakeup is the read callback of the engine's wakeup. One write releases
// a single waiter, so once the stop cycle has ended it is passed on until
// no Run remains blocked in a wait.
func (e *Engine) onWakeup(events Mode) {
	e.wakeup.drain(events)
	if (e.exitFlag.Load() || e.closing.Load()) && e.runPolling.Load() > 0 {
		e.wake()
	}
}

func (e *Engine) wake() {
	if err := e.wakeup.wake(); err != nil {
		if b := e.diag.limited(logiface.LevelError, logCategory{kind: "wakeup"}); b != nil {
			b.Err(err).Log("reactor: failed to write wakeup")
		}
		return
	}
	e.metrics.observeWakeup()
}

// Metrics returns a snapshot of the engine's metrics, or false if the
// engine was created without [WithMetrics].
func (e *Engine) Metrics() (MetricsSnapshot, bool) {
	if e.metrics == nil {
		return MetricsSnapshot{}, false
	}
	return e.metrics.snapshot(), true
}

// Close shuts the engine down: any Run in progress returns ErrCanceled,
// any blocked wait is woken, and Close blocks until every Run, Poll and
// PollOne has returned before releasing the backend. Later calls are
// no-ops that return nil. Registered descriptors are not closed.
//
// Close fails with ErrReentrantClose if called from a callback (or any
// goroutine inside Run, Poll or PollOne), which would otherwise deadlock.
func (e *Engine) Close() error {
	if e.isRunner(getGoroutineID()) {
		return ErrReentrantClose
	}

	ref := e.backend.Swap(nil)
	if ref == nil {
		return nil
	}

	e.stopMu.Lock()
	e.closing.Store(true)
	if e.executionCount.Load() > 0 && !e.exitFlag.Load() {
		e.exitFlag.Store(true)
		e.stopReason = ErrCanceled
	}
	e.stopMu.Unlock()

	for spins := 0; e.executionCount.Load() > 0 || e.pendingMutations.Load() > 0 || e.pendingWakes.Load() > 0; spins++ {
		if spins%128 == 0 && e.polling.Load() > 0 {
			e.wake()
		}
		backoff(spins)
	}

	err := errors.Join(
		ref.StopMonitoring(e.wakeup.read.Fd()),
		e.wakeup.closeHandles(),
		ref.Close(),
	)

	if err != nil {
		e.diag.logger().Err().Err(err).Log("reactor: engine closed with errors")
	} else {
		e.diag.logger().Info().Log("reactor: engine closed")
	}
	return err
}

// enter begins a Run, Poll or PollOne call, returning the backend to use
// (nil once closed). The outermost call resets the stop cycle.
func (e *Engine) enter() (Backend, uint64) {
	gid := getGoroutineID()
	e.runnersMu.Lock()
	e.runners[gid]++
	e.runnersMu.Unlock()

	e.stopMu.Lock()
	if e.executionCount.Add(1) == 1 {
		if e.closing.Load() {
			e.exitFlag.Store(true)
			e.stopReason = ErrCanceled
		} else {
			e.exitFlag.Store(false)
			e.stopReason = nil
		}
	}
	e.stopMu.Unlock()

	ref := e.backend.Load()
	if ref == nil {
		return nil, gid
	}
	return ref.Backend, gid
}

func (e *Engine) leave(gid uint64) {
	e.executionCount.Add(-1)

	e.runnersMu.Lock()
	if e.runners[gid]--; e.runners[gid] <= 0 {
		delete(e.runners, gid)
	}
	e.runnersMu.Unlock()
}

func (e *Engine) isRunner(gid uint64) bool {
	e.runnersMu.Lock()
	defer e.runnersMu.Unlock()
	return e.runners[gid] > 0
}

// getGoroutineID returns the current goroutine's ID.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
