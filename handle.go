package reactor

import (
	"cmp"
	"fmt"
	"runtime"
	"strconv"
)

// InvalidFD is the raw value held by an invalid [Handle].
const InvalidFD = -1

// Handle is the single owner of a raw OS descriptor.
//
// Ownership moves with [Handle.Move] and [Handle.Assign], leaving the
// source invalid. The zero value is an invalid handle. A Handle must not be
// copied after first use.
//
// A valid Handle that becomes unreachable is closed by the runtime. Failing
// to close at that point is fatal, see [SetFatalHandler].
type Handle struct {
	_       noCopy
	cleanup runtime.Cleanup
	fd      int
	valid   bool
}

// NewHandle returns a Handle owning fd. A negative fd yields an invalid
// handle.
func NewHandle(fd int) *Handle {
	h := new(Handle)
	if fd >= 0 {
		h.adopt(fd)
	}
	return h
}

// Open closes the currently owned descriptor, if any, then takes ownership
// of fd.
func (h *Handle) Open(fd int) error {
	if fd < 0 {
		return fmt.Errorf("%w: descriptor %d", ErrInvalidArgument, fd)
	}
	if err := h.Close(); err != nil {
		return err
	}
	h.adopt(fd)
	return nil
}

// Close closes the descriptor and invalidates the handle. It is a no-op on
// an invalid handle. The handle is invalid afterward even if close failed.
func (h *Handle) Close() error {
	if h == nil || !h.valid {
		return nil
	}
	return closeFD(h.Release())
}

// Valid reports whether the handle owns a descriptor.
func (h *Handle) Valid() bool {
	return h != nil && h.valid
}

// Fd returns the raw descriptor, or InvalidFD.
func (h *Handle) Fd() int {
	if !h.Valid() {
		return InvalidFD
	}
	return h.fd
}

// Release gives up ownership without closing, returning the raw descriptor
// (InvalidFD if there was none).
func (h *Handle) Release() int {
	if !h.Valid() {
		return InvalidFD
	}
	fd := h.fd
	h.cleanup.Stop()
	h.cleanup = runtime.Cleanup{}
	h.fd, h.valid = InvalidFD, false
	return fd
}

// Move returns a new Handle owning h's descriptor, leaving h invalid.
func (h *Handle) Move() *Handle {
	return NewHandle(h.Release())
}

// Assign closes h's descriptor, then moves src's into h.
func (h *Handle) Assign(src *Handle) error {
	if h == src {
		return nil
	}
	if err := h.Close(); err != nil {
		return err
	}
	if fd := src.Release(); fd >= 0 {
		h.adopt(fd)
	}
	return nil
}

// Swap exchanges the descriptors owned by h and o.
func (h *Handle) Swap(o *Handle) {
	if h == o {
		return
	}
	a, b := h.Release(), o.Release()
	if b >= 0 {
		h.adopt(b)
	}
	if a >= 0 {
		o.adopt(a)
	}
}

// Compare orders handles by raw descriptor value.
func (h *Handle) Compare(o *Handle) int {
	return cmp.Compare(h.Fd(), o.Fd())
}

// Equal reports whether both handles hold the same raw value.
func (h *Handle) Equal(o *Handle) bool {
	return h.Fd() == o.Fd()
}

func (h *Handle) String() string {
	if !h.Valid() {
		return "handle(invalid)"
	}
	return "handle(" + strconv.Itoa(h.fd) + ")"
}

func (h *Handle) adopt(fd int) {
	h.fd, h.valid = fd, true
	h.cleanup = runtime.AddCleanup(h, closeUnreachable, fd)
}

// closeUnreachable runs on the runtime's cleanup goroutine.
func closeUnreachable(fd int) {
	if err := closeFD(fd); err != nil {
		fatalHandler.Load().(func(int, error))(fd, err)
	}
}

// noCopy may be embedded into structs which must not be copied after first
// use. See https://golang.org/issues/8005#issuecomment-190753527.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
