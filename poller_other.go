//go:build unix && !linux

package reactor

// newDefaultBackend has no native implementation outside Linux; supply one
// with WithBackend.
func newDefaultBackend() (Backend, error) {
	return nil, ErrUnsupported
}
