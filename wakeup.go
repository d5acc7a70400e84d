//go:build unix

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Behavior selects how a [Notification] counter is consumed.
type Behavior int

const (
	// BehaviorConditional consumes the whole counter per wakeup.
	BehaviorConditional Behavior = iota
	// BehaviorSemaphore consumes the counter one unit at a time.
	BehaviorSemaphore
)

func (b Behavior) String() string {
	switch b {
	case BehaviorConditional:
		return "conditional"
	case BehaviorSemaphore:
		return "semaphore"
	default:
		return fmt.Sprintf("Behavior(%d)", int(b))
	}
}

// Notification is a monitored counter used to wake a blocked wait from
// another goroutine. It is an eventfd on Linux and a non-blocking pipe
// elsewhere.
type Notification struct {
	engine   *Engine
	read     *Handle
	write    *Handle // nil when the read end is also the write end
	behavior Behavior
	last     atomic.Uint64
	count    atomic.Uint64
	closed   atomic.Bool
}

// NewNotification creates a counter with the given behavior and initial
// value, and registers it with e at ModeUrgentRead.
func NewNotification(e *Engine, behavior Behavior, initial uint64) (*Notification, error) {
	if e == nil {
		return nil, ErrInvalidArgument
	}
	n, err := newNotification(behavior, initial)
	if err != nil {
		return nil, err
	}
	if err := e.StartMonitoring(n.read, ModeUrgentRead, n.drain); err != nil {
		return nil, errors.Join(err, n.closeHandles())
	}
	n.engine = e
	return n, nil
}

func newNotification(behavior Behavior, initial uint64) (*Notification, error) {
	if behavior != BehaviorConditional && behavior != BehaviorSemaphore {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, behavior)
	}
	r, w, err := createWakeFd(behavior == BehaviorSemaphore)
	if err != nil {
		return nil, err
	}
	n := &Notification{
		read:     NewHandle(r),
		behavior: behavior,
	}
	if w != r {
		n.write = NewHandle(w)
	}
	if initial != 0 {
		if err := n.Set(initial); err != nil {
			return nil, errors.Join(err, n.closeHandles())
		}
	}
	return n, nil
}

// Set adds value to the counter, waking the monitoring engine. value must
// be non-zero.
func (n *Notification) Set(value uint64) error {
	if value == 0 {
		return ErrInvalidArgument
	}
	if n.closed.Load() {
		return ErrClosed
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], value)
	if _, err := writeFD(n.writeFD(), buf[:]); err != nil {
		return sysErr("write", err)
	}
	return nil
}

// Get returns the value most recently consumed by the read callback.
func (n *Notification) Get() uint64 {
	return n.last.Load()
}

// Count returns the number of wakeups consumed: one per drain for
// BehaviorConditional, one per unit for BehaviorSemaphore.
func (n *Notification) Count() uint64 {
	return n.count.Load()
}

// Behavior returns the configured behavior.
func (n *Notification) Behavior() Behavior {
	return n.behavior
}

// Close unregisters the counter and releases its descriptors.
func (n *Notification) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if n.engine != nil {
		err = n.engine.StopMonitoring(n.read)
	}
	return errors.Join(err, n.closeHandles())
}

func (n *Notification) closeHandles() error {
	n.closed.Store(true)
	return errors.Join(n.read.Close(), n.write.Close())
}

func (n *Notification) writeFD() int {
	if n.write != nil {
		return n.write.Fd()
	}
	return n.read.Fd()
}

// drain is the read callback. Registrations are edge triggered, so it reads
// until the counter is empty.
func (n *Notification) drain(Mode) {
	var (
		buf   [8]byte
		total uint64
		reads uint64
	)
	for {
		c, err := readFD(n.read.Fd(), buf[:])
		if err != nil || c != len(buf) {
			break
		}
		v := binary.NativeEndian.Uint64(buf[:])
		total += v
		reads++
		if n.behavior == BehaviorSemaphore {
			n.last.Store(v)
		}
	}
	if reads == 0 {
		return
	}
	switch n.behavior {
	case BehaviorSemaphore:
		n.count.Add(total)
	default:
		n.last.Store(total)
		n.count.Add(1)
	}
}

// wake writes a single unit, treating a saturated counter as success.
func (n *Notification) wake() error {
	err := n.Set(1)
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}
