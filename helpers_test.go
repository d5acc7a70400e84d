//go:build unix

package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newPipe returns the non-blocking read and write ends of a pipe, closed
// when the test ends.
func newPipe(t *testing.T) (r, w *Handle) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		require.NoError(t, unix.SetNonblock(fd, true))
	}
	r, w = NewHandle(fds[0]), NewHandle(fds[1])
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	return r, w
}

type pollCall struct {
	maxEvents int
	timeout   time.Duration
}

// fakeBackend is a scripted Backend. Unless onPoll is set, Poll enters the
// gate, sleeps for up to a millisecond, and reports nothing ready.
type fakeBackend struct {
	onPoll     func(gate WaitGate, maxEvents int, timeout time.Duration) (bool, error)
	registered map[int]Mode
	callbacks  map[int]Callback
	blocked    *SignalSet
	calls      []string
	polls      []pollCall
	closed     bool
	mu         sync.Mutex
}

var _ Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		registered: make(map[int]Mode),
		callbacks:  make(map[int]Callback),
	}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeBackend) StartMonitoring(fd int, mode Mode, callback Callback) error {
	f.record("start")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.registered[fd]; ok {
		return ErrAlreadyRegistered
	}
	f.registered[fd] = mode
	f.callbacks[fd] = callback
	return nil
}

func (f *fakeBackend) UpdateMonitoring(fd int, mode Mode) error {
	f.record("update")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.registered[fd]; !ok {
		return ErrNotRegistered
	}
	f.registered[fd] = mode
	return nil
}

func (f *fakeBackend) StopMonitoring(fd int) error {
	f.record("stop")
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registered, fd)
	delete(f.callbacks, fd)
	return nil
}

func (f *fakeBackend) BlockOnSignals(set *SignalSet) error {
	f.record("block")
	f.mu.Lock()
	defer f.mu.Unlock()
	if set != nil && f.blocked != nil && f.blocked != set {
		return ErrSignalsAlreadyBlocked
	}
	f.blocked = set
	return nil
}

func (f *fakeBackend) Poll(gate WaitGate, maxEvents int, timeout time.Duration) (bool, error) {
	f.mu.Lock()
	f.polls = append(f.polls, pollCall{maxEvents: maxEvents, timeout: timeout})
	onPoll := f.onPoll
	f.mu.Unlock()
	if onPoll != nil {
		return onPoll(gate, maxEvents, timeout)
	}
	if !gate.Enter() {
		return false, nil
	}
	defer gate.Exit()
	wait := time.Millisecond
	if timeout >= 0 && timeout < wait {
		wait = timeout
	}
	time.Sleep(wait)
	return false, nil
}

func (f *fakeBackend) Close() error {
	f.record("close")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBackend) setPoll(fn func(gate WaitGate, maxEvents int, timeout time.Duration) (bool, error)) {
	f.mu.Lock()
	f.onPoll = fn
	f.mu.Unlock()
}

func (f *fakeBackend) pollCalls() []pollCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pollCall(nil), f.polls...)
}

func (f *fakeBackend) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) modeOf(fd int) (Mode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.registered[fd]
	return m, ok
}

func (f *fakeBackend) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// newFakeEngine returns an engine over a fakeBackend, closed when the test
// ends.
func newFakeEngine(t *testing.T, opts ...Option) (*Engine, *fakeBackend) {
	t.Helper()
	fb := newFakeBackend()
	e, err := New(append([]Option{WithBackend(fb)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, fb
}

// eventually polls cond for up to two seconds.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond, msg)
}
