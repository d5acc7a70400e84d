package reactor

import "golang.org/x/sys/unix"

// ioctlFIONREAD is FIONREAD, which x/sys/unix names TIOCINQ on Linux.
const ioctlFIONREAD = unix.TIOCINQ
