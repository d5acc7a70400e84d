package reactor

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrTimedOut is the stop reason reported by [Engine.Run] when its
	// deadline passes.
	ErrTimedOut = errors.New("reactor: timed out")

	// ErrCanceled is the stop reason injected by [Engine.Close].
	ErrCanceled = errors.New("reactor: operation canceled")

	// ErrAlreadyRegistered is returned when a descriptor is registered twice.
	ErrAlreadyRegistered = errors.New("reactor: descriptor already registered")

	// ErrNotRegistered is returned when updating an unknown descriptor.
	ErrNotRegistered = errors.New("reactor: descriptor not registered")

	// ErrSignalsAlreadyBlocked is returned when a second signal set is
	// installed on a backend, i.e. a second SignalManager for one Engine.
	ErrSignalsAlreadyBlocked = errors.New("reactor: signals already blocked by another set")

	// ErrInvalidArgument is returned for out of range or nil arguments.
	ErrInvalidArgument = errors.New("reactor: invalid argument")

	// ErrInvalidSignal wraps ErrInvalidArgument.
	ErrInvalidSignal = fmt.Errorf("%w: signal number out of range", ErrInvalidArgument)

	// ErrClosed is returned by operations on a closed backend, notification
	// or handle.
	ErrClosed = errors.New("reactor: closed")

	// ErrReentrantClose is returned by [Engine.Close] when called from a
	// goroutine that is itself inside Run, Poll or PollOne.
	ErrReentrantClose = errors.New("reactor: cannot close engine from within its own poll")

	// ErrUnsupported is returned by the default backend on platforms
	// without epoll.
	ErrUnsupported = errors.New("reactor: unsupported platform")
)

// sysErr converts the errno result of a raw syscall into an
// *os.SyscallError, or nil on success.
func sysErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return os.NewSyscallError(name, err)
}
