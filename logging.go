package reactor

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

var fatalHandler atomic.Value

func init() {
	fatalHandler.Store(defaultFatalHandler)
}

// SetFatalHandler replaces the function invoked when the runtime closes an
// unreachable [Handle] and the close fails. The default panics, aborting
// the process. A nil fn restores the default.
func SetFatalHandler(fn func(fd int, err error)) {
	if fn == nil {
		fn = defaultFatalHandler
	}
	fatalHandler.Store(fn)
}

func defaultFatalHandler(fd int, err error) {
	panic(fmt.Sprintf("reactor: failed to close unreachable descriptor %d: %v", fd, err))
}

// defaultLogRates limits per-event diagnostics, e.g. dropped signals.
var defaultLogRates = map[time.Duration]int{
	time.Second: 1,
	time.Minute: 10,
}

// diagnostics pairs the configured logger with a per-category limiter for
// messages that may otherwise fire once per event.
type diagnostics struct {
	log     *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
}

func newDiagnostics(log *logiface.Logger[logiface.Event], rates map[time.Duration]int) (d *diagnostics, err error) {
	d = &diagnostics{log: log}
	if len(rates) == 0 {
		return d, nil
	}
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, fmt.Errorf("%w: log rates: %v", ErrInvalidArgument, r)
		}
	}()
	d.limiter = catrate.NewLimiter(rates)
	return d, nil
}

// limited returns a builder at level, or nil if the logger is disabled for
// it or category exceeded its rate.
func (x *diagnostics) limited(level logiface.Level, category any) *logiface.Builder[logiface.Event] {
	if x == nil {
		return nil
	}
	b := x.log.Build(level)
	if b == nil {
		return nil
	}
	if _, ok := x.limiter.Allow(category); !ok {
		b.Release()
		return nil
	}
	return b
}

func (x *diagnostics) logger() *logiface.Logger[logiface.Event] {
	if x == nil {
		return nil
	}
	return x.log
}

type logCategory struct {
	kind string
	key  int
}
