package reactor

import (
	"syscall"
)

// SignalInfo describes one delivered signal.
type SignalInfo struct {
	Signal syscall.Signal
	Code   int32  // si_code, e.g. SI_USER or SI_TKILL
	Errno  int32  // si_errno
	Pid    uint32 // sending process
	Uid    uint32 // real user ID of the sender
	Status int32  // exit status or signal, for SIGCHLD
	Value  int32  // integer payload of sigqueue
}

// SignalHandler is invoked on the polling goroutine for each delivered
// signal it was registered for.
type SignalHandler func(info SignalInfo)
