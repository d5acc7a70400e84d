//go:build linux

package reactor

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// sigsetWordBits is the width of one unix.Sigset_t word, which differs
// between 32 and 64 bit targets.
const sigsetWordBits = int(unsafe.Sizeof(unix.Sigset_t{}.Val[0])) * 8

// kernel converts s into the kernel representation.
func (s SignalSet) kernel() unix.Sigset_t {
	var out unix.Sigset_t
	for _, sig := range s.Signals() {
		bit := int(sig) - 1
		out.Val[bit/sigsetWordBits] |= 1 << uint(bit%sigsetWordBits)
	}
	return out
}

// BlockThread adds s to the calling thread's signal mask. The caller must
// hold the thread with runtime.LockOSThread for as long as the mask should
// apply. restore reinstates the previous mask.
func (s SignalSet) BlockThread() (restore func() error, err error) {
	mask := s.kernel()
	var old unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &mask, &old); err != nil {
		return nil, sysErr("pthread_sigmask", err)
	}
	return func() error {
		return sysErr("pthread_sigmask", unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil))
	}, nil
}
