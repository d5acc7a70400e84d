package reactor

import (
	"strings"
)

// Mode is a set of readiness conditions. It is used both to request
// monitoring and to report what fired.
type Mode uint32

const (
	ModeNone Mode = 0
	// ModeRead requests or reports readability.
	ModeRead Mode = 0x01
	// ModeWrite requests or reports writability.
	ModeWrite Mode = 0x02
	// ModeUrgentRead requests or reports priority data. It includes
	// ModeRead, so a read handler is satisfied by it.
	ModeUrgentRead Mode = modeUrgent | ModeRead
	// ModeOneShot disarms the registration after its first delivery. Re-arm
	// with [Engine.UpdateMonitoring].
	ModeOneShot Mode = 0x08

	// ModeError is reported (never requested) for error conditions.
	ModeError Mode = 0x10
	// ModeHangup is reported (never requested) when the peer hung up.
	ModeHangup Mode = 0x20

	ModeReadWrite = ModeRead | ModeWrite

	modeUrgent Mode = 0x04
	modeMask        = ModeRead | ModeWrite | ModeUrgentRead | ModeOneShot
)

// Has reports whether every bit of o is set in m.
func (m Mode) Has(o Mode) bool {
	return o != ModeNone && m&o == o
}

func (m Mode) String() string {
	if m == ModeNone {
		return "none"
	}
	var b strings.Builder
	add := func(s string) {
		if b.Len() != 0 {
			b.WriteByte('|')
		}
		b.WriteString(s)
	}
	if m.Has(ModeUrgentRead) {
		add("urgent_read")
	} else if m.Has(ModeRead) {
		add("read")
	}
	if m.Has(ModeWrite) {
		add("write")
	}
	if m.Has(ModeOneShot) {
		add("one_shot")
	}
	if m.Has(ModeError) {
		add("error")
	}
	if m.Has(ModeHangup) {
		add("hangup")
	}
	if m&modeUrgent != 0 && m&ModeRead == 0 {
		add("urgent")
	}
	return b.String()
}
