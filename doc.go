// Package reactor provides a multiplexed I/O reactor over the kernel's
// readiness facility (epoll on Linux).
//
// # Architecture
//
// An [Engine] owns a [Backend] and a private wakeup [Notification]. Callers
// register descriptors ([Handle]) with a [Mode] and a [Callback]; the
// backend keeps an activation table mapping each registration to its
// callback, and the goroutine blocked in [Engine.Run], [Engine.Poll] or
// [Engine.PollOne] invokes the callbacks synchronously as readiness is
// reported.
//
// [EpollBackend] is the production backend. Tests and exotic platforms may
// supply their own through [WithBackend].
//
// # Thread Safety
//
// Every Engine method is safe to call from any goroutine:
//   - [Engine.Stop] and [Engine.Quit] are linearizable; the first reason wins
//   - [Engine.StartMonitoring], [Engine.UpdateMonitoring] and
//     [Engine.StopMonitoring] rendezvous with any blocked wait, waking it
//     and waiting for it to leave the kernel before touching the interest
//     list
//   - Run and Poll may be called concurrently, and from within callbacks
//
// A mutation that has returned is observed by the next wait. A descriptor
// that has been unregistered never has its callback dispatched again.
//
// # Timeouts
//
// Timeouts are [time.Duration] values. [Forever] (any negative value) blocks
// indefinitely; zero is a non-blocking probe. Positive timeouts are rounded
// up to the kernel's millisecond granularity, so [Engine.Run] never returns
// [ErrTimedOut] early.
//
// # Signals
//
// [SignalManager] redirects signals to a signalfd monitored by the engine,
// dispatching to per-signal handlers. While a manager is active, the signal
// set is blocked on the waiting thread for the duration of each wait and
// its dispatch.
//
// Go's runtime installs handlers for most signals and delivers
// process-directed signals to threads of its choosing, so only signals
// directed at the thread blocked in the wait (e.g. via tgkill) are
// reliably observed by the signalfd.
//
// # Usage
//
//	engine, err := reactor.New(reactor.WithMaxEventsPerPoll(64))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	if err := engine.StartMonitoring(conn, reactor.ModeRead, func(m reactor.Mode) {
//	    // read until EAGAIN, registrations are edge triggered
//	}); err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := engine.Run(reactor.Forever); err != nil {
//	    log.Print(err)
//	}
package reactor
