//go:build linux

package reactor

import (
	"errors"
	"sync"
	"syscall"
	"unsafe"
	"weak"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// SignalManager redirects signals to a signalfd monitored by an [Engine],
// and dispatches each to the handler registered for its number.
//
// It holds only a weak reference to its engine: it does not keep the
// engine alive, and teardown against a collected or closed engine is a
// silent no-op. At most one SignalManager may be active per engine.
type SignalManager struct {
	engine   weak.Pointer[Engine]
	diag     *diagnostics
	handle   *Handle
	set      SignalSet // its address identifies this manager to the backend
	handlers [MaxSignal + 1]SignalHandler
	mu       sync.Mutex
	closed   bool
}

// NewSignalManager attaches a manager to e. It fails with
// ErrSignalsAlreadyBlocked if e already has an active manager.
func NewSignalManager(e *Engine) (*SignalManager, error) {
	if e == nil {
		return nil, ErrInvalidArgument
	}
	m := &SignalManager{
		engine: weak.Make(e),
		diag:   e.diag,
	}
	if err := e.blockOnSignals(&m.set); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.recreate(e); err != nil {
		return nil, errors.Join(err, ignoreClosed(e.blockOnSignals(nil)))
	}
	return m, nil
}

// OnSignal installs handler for signo, replacing any previous one, and adds
// signo to the redirected set. Changing the set recreates the signalfd.
//
// It fails with ErrInvalidSignal if signo is outside [1, MaxSignal], and
// ErrInvalidArgument for a nil handler.
func (m *SignalManager) OnSignal(signo int, handler SignalHandler) error {
	if !validSignal(signo) {
		return ErrInvalidSignal
	}
	if handler == nil {
		return ErrInvalidArgument
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	if !m.set.Has(signo) {
		e := m.engine.Value()
		if e == nil {
			return ErrClosed
		}
		prev := m.set
		_ = m.set.Add(signo)
		if err := m.recreate(e); err != nil {
			m.set = prev
			return err
		}
	}

	m.handlers[signo] = handler
	return nil
}

// Signals returns the redirected set.
func (m *SignalManager) Signals() SignalSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set
}

// Close unregisters and closes the signalfd, and releases the engine's
// signal block. Handlers are kept but will not be called again.
func (m *SignalManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	if e := m.engine.Value(); e != nil {
		err = errors.Join(
			e.StopMonitoring(m.handle),
			ignoreClosed(e.blockOnSignals(nil)),
		)
	}
	return errors.Join(err, m.handle.Close())
}

// recreate replaces the signalfd with one bound to the current set. The
// new descriptor is registered before the old one is released, so a
// failure leaves the previous registration intact. Must be called with mu
// held.
func (m *SignalManager) recreate(e *Engine) error {
	mask := m.set.kernel()
	fd, err := unix.Signalfd(-1, &mask, unix.SFD_NONBLOCK|unix.SFD_CLOEXEC)
	if err != nil {
		return sysErr("signalfd", err)
	}
	next := NewHandle(fd)
	if err := e.StartMonitoring(next, ModeUrgentRead, m.onReadable); err != nil {
		return errors.Join(err, next.Close())
	}
	if !next.Valid() || e.backend.Load() == nil {
		// closed concurrently, StartMonitoring was a no-op
		return errors.Join(ErrClosed, next.Close())
	}

	old := m.handle
	m.handle = next
	err = errors.Join(e.StopMonitoring(old), old.Close())

	return errors.Join(err, e.blockOnSignals(&m.set))
}

// onReadable drains every queued record, then dispatches outside the lock.
func (m *SignalManager) onReadable(Mode) {
	var (
		infos    []SignalInfo
		handlers []SignalHandler
		raw      unix.SignalfdSiginfo
		buf      = unsafe.Slice((*byte)(unsafe.Pointer(&raw)), unsafe.Sizeof(raw))
	)

	m.mu.Lock()
	fd := m.handle.Fd()
	for !m.closed && fd >= 0 {
		n, err := readFD(fd, buf)
		if err != nil || n != len(buf) {
			break
		}
		info := SignalInfo{
			Signal: syscall.Signal(raw.Signo),
			Code:   raw.Code,
			Errno:  raw.Errno,
			Pid:    raw.Pid,
			Uid:    raw.Uid,
			Status: raw.Status,
			Value:  raw.Int,
		}
		var handler SignalHandler
		if validSignal(int(info.Signal)) {
			handler = m.handlers[info.Signal]
		}
		infos = append(infos, info)
		handlers = append(handlers, handler)
	}
	m.mu.Unlock()

	for i, handler := range handlers {
		if handler == nil {
			signo := int(infos[i].Signal)
			if b := m.diag.limited(logiface.LevelWarning, logCategory{kind: "signal", key: signo}); b != nil {
				b.Int("signal", signo).Log("reactor: dropped signal with no handler")
			}
			continue
		}
		handler(infos[i])
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}
