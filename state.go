package reactor

// State is the observable state of an Engine.
//
//	StateIdle → StateRunning      [first Run/Poll/PollOne enters]
//	StateRunning → StatePolling   [a wait enters the kernel]
//	StatePolling → StateRunning   [the wait returns]
//	StateRunning → StateIdle      [last Run/Poll/PollOne leaves]
//	any → StateClosed             [Close]
//
// StatePolling is a sub-state of StateRunning: [Engine.Running] is true in
// both.
type State uint32

const (
	StateIdle State = iota
	StateRunning
	StatePolling
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StatePolling:
		return "Polling"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
