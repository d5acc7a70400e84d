package reactor

import (
	"time"
)

// Callback receives the readiness conditions that fired for a registration.
// It runs synchronously on the goroutine blocked in the wait.
type Callback func(events Mode)

// WaitGate brackets the blocking wait inside [Backend.Poll]. The engine
// uses it to publish that a wait is in flight, so registration changes can
// rendezvous with it.
type WaitGate interface {
	// Enter is called immediately before the wait syscall. Returning false
	// skips the wait and Poll returns (false, nil).
	Enter() bool
	// Exit is called immediately after the wait syscall returns, before any
	// callback is dispatched. It is only called if Enter returned true.
	Exit()
}

// Backend is the readiness multiplexing capability an [Engine] drives.
//
// Registration methods are never called while a Poll is blocked in the
// kernel, when used through an Engine.
type Backend interface {
	// StartMonitoring registers fd for mode. It fails with
	// ErrAlreadyRegistered if fd is already registered, or with an OS error
	// if fd cannot be monitored.
	StartMonitoring(fd int, mode Mode, callback Callback) error

	// UpdateMonitoring replaces the mode of a registered fd, re-arming a
	// one-shot registration. It fails with ErrNotRegistered if fd is not
	// registered.
	UpdateMonitoring(fd int, mode Mode) error

	// StopMonitoring unregisters fd. It returns nil if fd was not
	// registered.
	StopMonitoring(fd int) error

	// BlockOnSignals sets the signals held blocked during every wait, or
	// clears them if set is nil. A non-nil set fails with
	// ErrSignalsAlreadyBlocked while a different set is active; passing the
	// active set again supersedes its contents.
	BlockOnSignals(set *SignalSet) error

	// Poll waits up to timeout (negative for forever) for readiness on at
	// most maxEvents registrations, dispatching their callbacks before it
	// returns. fired is true iff at least one registration was ready.
	Poll(gate WaitGate, maxEvents int, timeout time.Duration) (fired bool, err error)

	// Close releases the backend. Registered descriptors are not closed.
	Close() error
}

// signalSlot implements the BlockOnSignals ownership rule, shared by
// backends.
type signalSlot struct {
	owner *SignalSet
	set   SignalSet
}

func (s *signalSlot) claim(set *SignalSet) error {
	switch {
	case set == nil:
		s.owner, s.set = nil, SignalSet{}
	case s.owner != nil && s.owner != set:
		return ErrSignalsAlreadyBlocked
	default:
		s.owner, s.set = set, *set
	}
	return nil
}

// active reports the blocked set, if any.
func (s *signalSlot) active() (SignalSet, bool) {
	return s.set, s.owner != nil && !s.set.Empty()
}
