//go:build unix && !linux

package reactor

import "golang.org/x/sys/unix"

const ioctlFIONREAD = unix.FIONREAD
