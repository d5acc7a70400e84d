//go:build unix && !linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates a non-blocking self-pipe, returning the read and
// write ends. Each Set writes one 8 byte record, so reading a record at a
// time gives semaphore behavior; conditional behavior sums a drain.
func createWakeFd(bool) (int, int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return InvalidFD, InvalidFD, sysErr("pipe", err)
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return InvalidFD, InvalidFD, sysErr("fcntl", err)
		}
	}
	return fds[0], fds[1], nil
}
