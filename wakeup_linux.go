//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"
)

// createWakeFd creates a non-blocking eventfd, returned as both the read and
// write end.
func createWakeFd(semaphore bool) (int, int, error) {
	flags := unix.EFD_CLOEXEC | unix.EFD_NONBLOCK
	if semaphore {
		flags |= unix.EFD_SEMAPHORE
	}
	fd, err := unix.Eventfd(0, flags)
	if err != nil {
		return InvalidFD, InvalidFD, sysErr("eventfd", err)
	}
	return fd, fd, nil
}
