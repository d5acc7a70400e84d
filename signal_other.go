//go:build unix && !linux

package reactor

// SignalManager requires signalfd, which only Linux provides.
type SignalManager struct{}

// NewSignalManager always fails with ErrUnsupported on this platform.
func NewSignalManager(*Engine) (*SignalManager, error) {
	return nil, ErrUnsupported
}

func (*SignalManager) OnSignal(int, SignalHandler) error { return ErrUnsupported }

func (*SignalManager) Signals() SignalSet { return SignalSet{} }

func (*SignalManager) Close() error { return nil }
