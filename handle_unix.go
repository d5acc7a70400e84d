//go:build unix

package reactor

import (
	"io"

	"golang.org/x/sys/unix"
)

// Read reads from the descriptor, retrying on EINTR. It returns io.EOF once
// the peer has closed and nothing is left to read. On a non-blocking
// descriptor with no data the error matches unix.EAGAIN.
func (h *Handle) Read(p []byte) (int, error) {
	if !h.Valid() {
		return 0, ErrClosed
	}
	n, err := readFD(h.fd, p)
	if err != nil {
		return 0, sysErr("read", err)
	}
	if n == 0 && len(p) != 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes to the descriptor, retrying on EINTR. A short count means
// the descriptor would block (non-blocking) or the peer went away.
func (h *Handle) Write(p []byte) (int, error) {
	if !h.Valid() {
		return 0, ErrClosed
	}
	n, err := writeFD(h.fd, p)
	if err != nil {
		return max(n, 0), sysErr("write", err)
	}
	return n, nil
}

// SetNonblock sets or clears O_NONBLOCK. Descriptors monitored by an Engine
// should be non-blocking, since callbacks drain until EAGAIN.
func (h *Handle) SetNonblock(nonblocking bool) error {
	if !h.Valid() {
		return ErrClosed
	}
	return sysErr("fcntl", unix.SetNonblock(h.fd, nonblocking))
}

// Nonblocking reports whether O_NONBLOCK is set.
func (h *Handle) Nonblocking() (bool, error) {
	if !h.Valid() {
		return false, ErrClosed
	}
	flags, err := unix.FcntlInt(uintptr(h.fd), unix.F_GETFL, 0)
	if err != nil {
		return false, sysErr("fcntl", err)
	}
	return flags&unix.O_NONBLOCK != 0, nil
}

// BytesAvailable returns the number of bytes that can be read without
// blocking (FIONREAD).
func (h *Handle) BytesAvailable() (int, error) {
	if !h.Valid() {
		return 0, ErrClosed
	}
	n, err := unix.IoctlGetInt(h.fd, ioctlFIONREAD)
	if err != nil {
		return 0, sysErr("ioctl", err)
	}
	return n, nil
}
