package reactor

import (
	"runtime"
	"time"
)

// engineGate publishes that a wait is in flight. It refuses to enter while
// a registration change is pending, once the engine is closing, and (for
// Run) once the stop cycle has ended, so a wakeup written before the wait
// is never lost.
type engineGate struct {
	engine    *Engine
	honorExit bool
}

func (g *engineGate) Enter() bool {
	e := g.engine
	for spins := 0; ; spins++ {
		if e.pendingMutations.Load() == 0 {
			e.polling.Add(1)
			if e.pendingMutations.Load() == 0 {
				break
			}
			e.polling.Add(-1)
		}
		backoff(spins)
	}
	// published before the exit check, pairs with onWakeup
	if g.honorExit {
		e.runPolling.Add(1)
	}
	if e.closing.Load() || (g.honorExit && e.exitFlag.Load()) {
		g.Exit()
		return false
	}
	return true
}

func (g *engineGate) Exit() {
	if g.honorExit {
		g.engine.runPolling.Add(-1)
	}
	g.engine.polling.Add(-1)
}

// backoff yields, falling back to short sleeps once spinning persists.
func backoff(spins int) {
	if spins < 1000 {
		runtime.Gosched()
		return
	}
	time.Sleep(100 * time.Microsecond)
}
