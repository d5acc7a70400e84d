//go:build linux

package reactor

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// epollAlways is requested for every registration: peer-closed and error
// conditions must be observed even when no mode bit asked for them.
const epollAlways = unix.EPOLLRDHUP | unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLET

// EpollBackend is the Linux [Backend], built on epoll.
//
// Registrations are edge triggered. Callbacks must drain their descriptor
// (read or write until EAGAIN) or they will not be notified again.
type EpollBackend struct {
	epfd    *Handle
	table   activationTable
	buffers sync.Pool
	signals signalSlot
	sigMu   sync.Mutex
	closed  atomic.Bool
}

var _ Backend = (*EpollBackend)(nil)

// NewEpollBackend creates an epoll instance.
func NewEpollBackend() (*EpollBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, sysErr("epoll_create1", err)
	}
	return &EpollBackend{epfd: NewHandle(epfd)}, nil
}

func newDefaultBackend() (Backend, error) {
	return NewEpollBackend()
}

// StartMonitoring implements [Backend].
func (p *EpollBackend) StartMonitoring(fd int, mode Mode, callback Callback) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if callback == nil {
		return ErrInvalidArgument
	}
	key, created := p.table.getOrCreate(fd)
	if !created {
		return ErrAlreadyRegistered
	}
	p.table.bind(key, mode, callback)

	ev := epollEvent(key, mode)
	if err := unix.EpollCtl(p.epfd.Fd(), unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		p.table.deactivate(fd) // rollback
		return sysErr("epoll_ctl", err)
	}
	return nil
}

// UpdateMonitoring implements [Backend].
func (p *EpollBackend) UpdateMonitoring(fd int, mode Mode) error {
	if p.closed.Load() {
		return ErrClosed
	}
	key, ok := p.table.setMode(fd, mode)
	if !ok {
		return ErrNotRegistered
	}
	ev := epollEvent(key, mode)
	return sysErr("epoll_ctl", unix.EpollCtl(p.epfd.Fd(), unix.EPOLL_CTL_MOD, fd, &ev))
}

// StopMonitoring implements [Backend].
func (p *EpollBackend) StopMonitoring(fd int) error {
	if !p.table.deactivate(fd) || p.closed.Load() {
		return nil
	}
	err := unix.EpollCtl(p.epfd.Fd(), unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.EBADF || err == unix.ENOENT {
		// already closed by its owner, which removed it from the interest list
		return nil
	}
	return sysErr("epoll_ctl", err)
}

// BlockOnSignals implements [Backend].
func (p *EpollBackend) BlockOnSignals(set *SignalSet) error {
	p.sigMu.Lock()
	defer p.sigMu.Unlock()
	return p.signals.claim(set)
}

// Poll implements [Backend].
//
// While a signal set is blocked, the calling goroutine is locked to its
// thread, and the set is added to the thread's mask, for the wait and the
// dispatch that follows it.
func (p *EpollBackend) Poll(gate WaitGate, maxEvents int, timeout time.Duration) (bool, error) {
	if p.closed.Load() {
		return false, ErrClosed
	}
	if maxEvents < 1 {
		maxEvents = 1
	}

	buf := p.events(maxEvents)
	defer p.buffers.Put(buf)
	events := (*buf)[:maxEvents]

	p.sigMu.Lock()
	set, blocking := p.signals.active()
	p.sigMu.Unlock()

	if blocking {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		mask := set.kernel()
		var old unix.Sigset_t
		if err := unix.PthreadSigmask(unix.SIG_BLOCK, &mask, &old); err != nil {
			return false, sysErr("pthread_sigmask", err)
		}
		defer unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil) //nolint:errcheck
	}

	if gate != nil && !gate.Enter() {
		return false, nil
	}
	n, err := unix.EpollWait(p.epfd.Fd(), events, epollTimeout(timeout))
	if gate != nil {
		gate.Exit()
	}

	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, sysErr("epoll_wait", err)
	}
	if n <= 0 {
		return false, nil
	}

	p.dispatch(events[:n])
	return true, nil
}

// dispatch resolves each event tag against the activation table and runs
// the callback outside the table lock.
func (p *EpollBackend) dispatch(events []unix.EpollEvent) {
	for i := range events {
		key := activationKey{index: uint32(events[i].Fd), generation: uint32(events[i].Pad)}
		callback, ok := p.table.lookup(key)
		if !ok {
			// unregistered by an earlier callback in this batch
			continue
		}
		callback(epollToMode(events[i].Events))
	}
}

// Close implements [Backend].
func (p *EpollBackend) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.epfd.Close()
}

// Registered returns the number of registrations.
func (p *EpollBackend) Registered() int {
	return p.table.len()
}

func (p *EpollBackend) events(n int) *[]unix.EpollEvent {
	if v, ok := p.buffers.Get().(*[]unix.EpollEvent); ok && cap(*v) >= n {
		return v
	}
	buf := make([]unix.EpollEvent, n)
	return &buf
}

func epollEvent(key activationKey, mode Mode) unix.EpollEvent {
	return unix.EpollEvent{
		Events: modeToEpoll(mode),
		Fd:     int32(key.index),
		Pad:    int32(key.generation),
	}
}

// modeToEpoll converts a requested Mode to epoll flags.
func modeToEpoll(mode Mode) uint32 {
	flags := uint32(epollAlways)
	if mode&ModeRead != 0 {
		flags |= unix.EPOLLIN
	}
	if mode&modeUrgent != 0 {
		flags |= unix.EPOLLPRI
	}
	if mode&ModeWrite != 0 {
		flags |= unix.EPOLLOUT
	}
	if mode&ModeOneShot != 0 {
		flags |= unix.EPOLLONESHOT
	}
	return flags
}

// epollToMode converts reported epoll flags to a Mode. Error and hangup
// conditions are also reported as readable.
func epollToMode(flags uint32) Mode {
	var mode Mode
	if flags&unix.EPOLLIN != 0 {
		mode |= ModeRead
	}
	if flags&unix.EPOLLPRI != 0 {
		mode |= ModeUrgentRead
	}
	if flags&unix.EPOLLOUT != 0 {
		mode |= ModeWrite
	}
	if flags&unix.EPOLLERR != 0 {
		mode |= ModeError | ModeRead
	}
	if flags&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		mode |= ModeHangup | ModeRead
	}
	return mode
}

// epollTimeout converts timeout to epoll_wait milliseconds, rounding up so
// a wait never returns before timeout has elapsed.
func epollTimeout(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout >= math.MaxInt32*time.Millisecond {
		return math.MaxInt32
	}
	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
