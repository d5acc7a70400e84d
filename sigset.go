package reactor

import (
	"math/bits"
	"strconv"
	"strings"
	"syscall"
)

// MaxSignal is the largest signal number a [SignalSet] or [SignalManager]
// accepts, including the realtime range.
const MaxSignal = 64

// SignalSet is a set of signal numbers in [1, MaxSignal]. The zero value
// is empty.
type SignalSet struct {
	bits uint64
}

// NewSignalSet returns a set holding signals. It fails with
// ErrInvalidSignal if any is out of range.
func NewSignalSet(signals ...syscall.Signal) (SignalSet, error) {
	var s SignalSet
	for _, sig := range signals {
		if err := s.Add(int(sig)); err != nil {
			return SignalSet{}, err
		}
	}
	return s, nil
}

// Add inserts signo.
func (s *SignalSet) Add(signo int) error {
	if !validSignal(signo) {
		return ErrInvalidSignal
	}
	s.bits |= signalBit(signo)
	return nil
}

// Del removes signo.
func (s *SignalSet) Del(signo int) error {
	if !validSignal(signo) {
		return ErrInvalidSignal
	}
	s.bits &^= signalBit(signo)
	return nil
}

// Has reports whether signo is a member.
func (s SignalSet) Has(signo int) bool {
	return validSignal(signo) && s.bits&signalBit(signo) != 0
}

func (s SignalSet) Empty() bool { return s.bits == 0 }

func (s SignalSet) Len() int { return bits.OnesCount64(s.bits) }

// Signals lists the members in ascending order.
func (s SignalSet) Signals() []syscall.Signal {
	out := make([]syscall.Signal, 0, s.Len())
	for v := s.bits; v != 0; v &= v - 1 {
		out = append(out, syscall.Signal(bits.TrailingZeros64(v)+1))
	}
	return out
}

func (s SignalSet) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, sig := range s.Signals() {
		if i != 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(int(sig)))
	}
	b.WriteByte('}')
	return b.String()
}

func validSignal(signo int) bool {
	return signo >= 1 && signo <= MaxSignal
}

func signalBit(signo int) uint64 {
	return 1 << uint(signo-1)
}
