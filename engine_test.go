//go:build unix

package reactor

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNew_registersWakeup(t *testing.T) {
	e, fb := newFakeEngine(t)
	mode, ok := fb.modeOf(e.wakeup.read.Fd())
	require.True(t, ok)
	assert.Equal(t, ModeUrgentRead, mode)
	assert.Equal(t, StateIdle, e.State())
	assert.False(t, e.Running())
}

func TestEngine_Poll_passesThroughLimits(t *testing.T) {
	e, fb := newFakeEngine(t, WithMaxEventsPerPoll(50))

	assert.False(t, e.Poll(100*time.Nanosecond))
	assert.False(t, e.PollOne(200*time.Nanosecond))

	assert.Equal(t, []pollCall{
		{maxEvents: 50, timeout: 100 * time.Nanosecond},
		{maxEvents: 1, timeout: 200 * time.Nanosecond},
	}, fb.pollCalls())
}

func TestEngine_Poll_reportsFired(t *testing.T) {
	e, fb := newFakeEngine(t)
	fb.setPoll(func(WaitGate, int, time.Duration) (bool, error) { return true, nil })
	assert.True(t, e.Poll(0))
	assert.True(t, e.PollOne(0))
}

func TestEngine_Poll_errorIsNotAStop(t *testing.T) {
	e, fb := newFakeEngine(t, WithMetrics(true))
	fb.setPoll(func(WaitGate, int, time.Duration) (bool, error) { return false, unix.EBADF })
	assert.False(t, e.Poll(0))
	m, ok := e.Metrics()
	require.True(t, ok)
	assert.Equal(t, uint64(1), m.PollErrors)
	assert.Equal(t, uint64(0), m.Stops)
}

func TestEngine_Running_onlyInsidePoll(t *testing.T) {
	e, fb := newFakeEngine(t)
	var inside, polling atomic.Bool
	var state atomic.Value
	fb.setPoll(func(gate WaitGate, _ int, _ time.Duration) (bool, error) {
		inside.Store(e.Running())
		if gate.Enter() {
			state.Store(e.State())
			polling.Store(e.polling.Load() > 0)
			gate.Exit()
		}
		return false, nil
	})

	assert.False(t, e.Running())
	e.Poll(0)
	assert.True(t, inside.Load())
	assert.True(t, polling.Load())
	assert.Equal(t, StatePolling, state.Load())
	assert.False(t, e.Running())
	assert.Equal(t, StateIdle, e.State())
}

func TestEngine_Running_observableFromAnotherGoroutine(t *testing.T) {
	e, _ := newFakeEngine(t)
	done := make(chan error, 1)
	go func() { done <- e.Run(Forever) }()

	eventually(t, e.Running, "engine never reported running")
	assert.Contains(t, []State{StateRunning, StatePolling}, e.State())

	e.Quit()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}
	assert.False(t, e.Running())
}

func TestEngine_Run_returnsStopReason(t *testing.T) {
	e, fb := newFakeEngine(t)
	errStop := errors.New("interrupted")
	fb.setPoll(func(WaitGate, int, time.Duration) (bool, error) {
		e.Stop(errStop)
		return true, nil
	})
	assert.Same(t, errStop, e.Run(Forever))
}

func TestEngine_Run_firstStopWins(t *testing.T) {
	e, fb := newFakeEngine(t, WithMetrics(true))
	first, second := errors.New("first"), errors.New("second")
	fb.setPoll(func(WaitGate, int, time.Duration) (bool, error) {
		e.Stop(first)
		e.Stop(second)
		e.Quit()
		return false, nil
	})
	assert.Same(t, first, e.Run(Forever))
	m, _ := e.Metrics()
	assert.Equal(t, uint64(1), m.Stops)
}

func TestEngine_Run_quitReturnsNil(t *testing.T) {
	e, fb := newFakeEngine(t)
	fb.setPoll(func(WaitGate, int, time.Duration) (bool, error) {
		e.Quit()
		return false, nil
	})
	assert.NoError(t, e.Run(Forever))
}

func TestEngine_Run_pollErrorStops(t *testing.T) {
	e, fb := newFakeEngine(t)
	fb.setPoll(func(WaitGate, int, time.Duration) (bool, error) {
		return false, unix.EBADF
	})
	err := e.Run(Forever)
	assert.ErrorIs(t, err, unix.EBADF)
	assert.Len(t, fb.pollCalls(), 1)
}

func TestEngine_Run_zeroTimeout(t *testing.T) {
	e, fb := newFakeEngine(t)
	start := time.Now()
	assert.ErrorIs(t, e.Run(0), ErrTimedOut)
	assert.Less(t, time.Since(start), time.Second)
	calls := fb.pollCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, time.Duration(0), calls[0].timeout)
}

func TestEngine_Run_timeoutElapses(t *testing.T) {
	e, fb := newFakeEngine(t)
	const timeout = 30 * time.Millisecond
	start := time.Now()
	assert.ErrorIs(t, e.Run(timeout), ErrTimedOut)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, time.Second)

	calls := fb.pollCalls()
	require.NotEmpty(t, calls)
	for _, c := range calls {
		assert.GreaterOrEqual(t, c.timeout, time.Duration(0))
		assert.LessOrEqual(t, c.timeout, timeout)
	}
}

func TestEngine_Run_foreverPassesNegativeTimeout(t *testing.T) {
	e, fb := newFakeEngine(t)
	fb.setPoll(func(_ WaitGate, _ int, timeout time.Duration) (bool, error) {
		e.Quit()
		return false, nil
	})
	require.NoError(t, e.Run(Forever))
	assert.Equal(t, Forever, fb.pollCalls()[0].timeout)
}

func TestEngine_Stop_whileIdleIsNoop(t *testing.T) {
	e, _ := newFakeEngine(t)
	e.Stop(errors.New("ignored"))
	assert.False(t, e.Running())
	assert.False(t, e.exitFlag.Load())
	assert.ErrorIs(t, e.Run(0), ErrTimedOut)
}

func TestEngine_Run_nestedSharesStopCycle(t *testing.T) {
	e, fb := newFakeEngine(t)
	var nested atomic.Bool
	var inner error
	fb.setPoll(func(WaitGate, int, time.Duration) (bool, error) {
		if nested.CompareAndSwap(false, true) {
			inner = e.Run(0)
		}
		return false, nil
	})
	outer := e.Run(Forever)
	assert.ErrorIs(t, inner, ErrTimedOut)
	assert.ErrorIs(t, outer, ErrTimedOut)
}

func TestEngine_Run_concurrentRunnersObserveSameReason(t *testing.T) {
	e, _ := newFakeEngine(t)
	results := make(chan error, 2)
	for range 2 {
		go func() { results <- e.Run(Forever) }()
	}
	eventually(t, func() bool { return e.executionCount.Load() == 2 }, "runners never entered")

	e.Stop(ErrTimedOut)
	for range 2 {
		select {
		case err := <-results:
			assert.ErrorIs(t, err, ErrTimedOut)
		case <-time.After(2 * time.Second):
			t.Fatal("runner did not return")
		}
	}
}

func TestEngine_Close_cancelsBlockedRun(t *testing.T) {
	e, fb := newFakeEngine(t)
	done := make(chan error, 1)
	go func() { done <- e.Run(Forever) }()
	eventually(t, e.Running, "engine never reported running")

	require.NoError(t, e.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return")
	}

	assert.True(t, fb.isClosed())
	assert.Equal(t, StateClosed, e.State())
	log := fb.callLog()
	stop, closed := slices.Index(log, "stop"), slices.Index(log, "close")
	require.GreaterOrEqual(t, stop, 0)
	assert.Greater(t, closed, stop)
}

func TestEngine_Close_idempotentAndFinal(t *testing.T) {
	e, fb := newFakeEngine(t)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Equal(t, []string{"start", "stop", "close"}, fb.callLog())

	r, _ := newPipe(t)
	assert.NoError(t, e.StartMonitoring(r, ModeRead, func(Mode) {}))
	assert.NoError(t, e.UpdateMonitoring(r, ModeWrite))
	assert.NoError(t, e.StopMonitoring(r))
	assert.Equal(t, []string{"start", "stop", "close"}, fb.callLog())

	assert.ErrorIs(t, e.Run(Forever), ErrCanceled)
	assert.False(t, e.Poll(Forever))
	assert.False(t, e.Running())
}

func TestEngine_Close_fromCallback(t *testing.T) {
	e, fb := newFakeEngine(t)
	var closeErr error
	fb.setPoll(func(WaitGate, int, time.Duration) (bool, error) {
		closeErr = e.Close()
		e.Quit()
		return false, nil
	})
	require.NoError(t, e.Run(Forever))
	assert.ErrorIs(t, closeErr, ErrReentrantClose)
	assert.False(t, fb.isClosed())
	require.NoError(t, e.Close())
	assert.True(t, fb.isClosed())
}

func TestEngine_Monitoring_forwardsToBackend(t *testing.T) {
	e, fb := newFakeEngine(t)
	r, _ := newPipe(t)

	require.NoError(t, e.StartMonitoring(r, ModeRead|ModeOneShot, func(Mode) {}))
	mode, ok := fb.modeOf(r.Fd())
	require.True(t, ok)
	assert.Equal(t, ModeRead|ModeOneShot, mode)

	assert.ErrorIs(t, e.StartMonitoring(r, ModeRead, func(Mode) {}), ErrAlreadyRegistered)

	require.NoError(t, e.UpdateMonitoring(r, ModeReadWrite))
	mode, _ = fb.modeOf(r.Fd())
	assert.Equal(t, ModeReadWrite, mode)

	require.NoError(t, e.StopMonitoring(r))
	_, ok = fb.modeOf(r.Fd())
	assert.False(t, ok)

	assert.ErrorIs(t, e.UpdateMonitoring(r, ModeRead), ErrNotRegistered)
}

func TestEngine_Monitoring_reportedBitsAreNotRequested(t *testing.T) {
	e, fb := newFakeEngine(t)
	r, _ := newPipe(t)
	require.NoError(t, e.StartMonitoring(r, ModeRead|ModeHangup|ModeError, func(Mode) {}))
	mode, _ := fb.modeOf(r.Fd())
	assert.Equal(t, ModeRead, mode)
}

func TestEngine_Monitoring_invalidHandle(t *testing.T) {
	e, fb := newFakeEngine(t)
	before := len(fb.callLog())
	assert.NoError(t, e.StartMonitoring(nil, ModeRead, func(Mode) {}))
	assert.NoError(t, e.StartMonitoring(new(Handle), ModeRead, func(Mode) {}))
	assert.NoError(t, e.UpdateMonitoring(new(Handle), ModeRead))
	assert.NoError(t, e.StopMonitoring(new(Handle)))
	assert.Len(t, fb.callLog(), before)

	r, _ := newPipe(t)
	assert.ErrorIs(t, e.StartMonitoring(r, ModeRead, nil), ErrInvalidArgument)
}

func TestEngine_Monitoring_waitsForBlockedPoll(t *testing.T) {
	e, fb := newFakeEngine(t, WithMetrics(true))
	r, _ := newPipe(t)

	entered := make(chan struct{})
	fb.setPoll(func(gate WaitGate, _ int, _ time.Duration) (bool, error) {
		if !gate.Enter() {
			return false, nil
		}
		close(entered)
		time.Sleep(20 * time.Millisecond)
		fb.record("poll-exit")
		gate.Exit()
		return false, nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Poll(Forever)
	}()
	<-entered

	require.NoError(t, e.StartMonitoring(r, ModeRead, func(Mode) {}))
	<-done

	log := fb.callLog()
	exit := slices.Index(log, "poll-exit")
	require.GreaterOrEqual(t, exit, 0)
	assert.Equal(t, "start", log[len(log)-1])
	assert.Less(t, exit, len(log)-1)

	m, _ := e.Metrics()
	assert.NotZero(t, m.Wakeups)
}

func TestEngine_Metrics_countsDispatch(t *testing.T) {
	e, fb := newFakeEngine(t, WithMetrics(true))
	r, _ := newPipe(t)
	var got Mode
	require.NoError(t, e.StartMonitoring(r, ModeRead, func(m Mode) { got = m }))

	fb.setPoll(func(gate WaitGate, _ int, _ time.Duration) (bool, error) {
		fb.mu.Lock()
		cb := fb.callbacks[r.Fd()]
		fb.mu.Unlock()
		cb(ModeRead | ModeHangup)
		return true, nil
	})
	assert.True(t, e.PollOne(0))
	assert.Equal(t, ModeRead|ModeHangup, got)

	m, ok := e.Metrics()
	require.True(t, ok)
	assert.Equal(t, uint64(1), m.Polls)
	assert.Equal(t, uint64(1), m.PollsFired)
	assert.Equal(t, uint64(1), m.Dispatches)
	assert.Equal(t, uint64(1), m.Dispatch.Count)
}

func TestEngine_Metrics_disabled(t *testing.T) {
	e, _ := newFakeEngine(t)
	_, ok := e.Metrics()
	assert.False(t, ok)
}

func TestEngine_Now_advances(t *testing.T) {
	e, _ := newFakeEngine(t)
	before := e.Now()
	time.Sleep(2 * time.Millisecond)
	e.Poll(0)
	assert.True(t, e.Now().After(before))
}

func TestEngine_blockOnSignals(t *testing.T) {
	e, fb := newFakeEngine(t)
	var a, b SignalSet
	require.NoError(t, e.blockOnSignals(&a))
	require.NoError(t, e.blockOnSignals(&a))
	assert.ErrorIs(t, e.blockOnSignals(&b), ErrSignalsAlreadyBlocked)
	require.NoError(t, e.blockOnSignals(nil))
	require.NoError(t, e.blockOnSignals(&b))

	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.blockOnSignals(&b), ErrClosed)
	assert.Contains(t, fb.callLog(), "block")
}

func TestEngine_Stop_concurrentCallersOneWinner(t *testing.T) {
	e, fb := newFakeEngine(t)
	reasons := make([]error, 8)
	for i := range reasons {
		reasons[i] = errors.New("reason")
	}
	ready := make(chan struct{})
	fb.setPoll(func(gate WaitGate, _ int, _ time.Duration) (bool, error) {
		select {
		case <-ready:
		default:
			close(ready)
		}
		if gate.Enter() {
			time.Sleep(time.Millisecond)
			gate.Exit()
		}
		return false, nil
	})

	done := make(chan error, 1)
	go func() { done <- e.Run(Forever) }()
	<-ready

	var wg sync.WaitGroup
	for _, r := range reasons {
		wg.Go(func() { e.Stop(r) })
	}
	wg.Wait()

	got := <-done
	assert.True(t, slices.ContainsFunc(reasons, func(r error) bool { return r == got }))
}

func TestEngine_Close_waitsForInFlightStopWake(t *testing.T) {
	e, fb := newFakeEngine(t)

	// a Stop that has ended the cycle but not yet written its wakeup
	e.pendingWakes.Add(1)
	closed := make(chan error, 1)
	go func() { closed <- e.Close() }()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, fb.isClosed())
	assert.True(t, e.wakeup.read.Valid(), "wakeup released while a stop could still write it")

	e.pendingWakes.Add(-1)
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return")
	}
	assert.True(t, fb.isClosed())
	assert.False(t, e.wakeup.read.Valid())
}

func TestEngine_Stop_releasesPendingWake(t *testing.T) {
	e, fb := newFakeEngine(t)
	var during int32
	fb.setPoll(func(WaitGate, int, time.Duration) (bool, error) {
		e.Stop(nil)
		during = e.pendingWakes.Load()
		return false, nil
	})
	require.NoError(t, e.Run(Forever))
	assert.Zero(t, during)
	assert.Zero(t, e.pendingWakes.Load())
}

func TestEngine_onWakeup_passesOnToBlockedRun(t *testing.T) {
	e, _ := newFakeEngine(t, WithMetrics(true))
	wakeups := func() uint64 {
		m, _ := e.Metrics()
		return m.Wakeups
	}

	e.onWakeup(ModeUrgentRead)
	assert.Zero(t, wakeups(), "no stop cycle ended")

	e.exitFlag.Store(true)
	e.onWakeup(ModeUrgentRead)
	assert.Zero(t, wakeups(), "no run waiting")

	e.runPolling.Add(1)
	e.onWakeup(ModeUrgentRead)
	assert.Equal(t, uint64(1), wakeups())
	e.runPolling.Add(-1)
	e.exitFlag.Store(false)
}
