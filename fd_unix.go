//go:build unix

package reactor

import (
	"golang.org/x/sys/unix"
)

// closeFD closes a raw descriptor, wrapping any failure.
func closeFD(fd int) error {
	return sysErr("close", unix.Close(fd))
}

// readFD reads from a raw descriptor, retrying on EINTR. EAGAIN is returned
// unwrapped so callers can compare against it directly.
func readFD(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// writeFD writes to a raw descriptor, retrying on EINTR.
func writeFD(fd int, buf []byte) (int, error) {
	for {
		n, err := unix.Write(fd, buf)
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}
