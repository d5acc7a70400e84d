package reactor

import (
	"sync"
)

// activationKey identifies one registration. It is what the backend hands
// to the kernel as the event tag, so a reused slot (or reused descriptor)
// is detected by a generation mismatch instead of dispatching to the wrong
// callback.
type activationKey struct {
	index      uint32
	generation uint32
}

type activation struct {
	callback   Callback
	fd         int
	mode       Mode
	generation uint32
	live       bool
}

// activationTable is an arena of registrations keyed by descriptor.
//
// THREAD SAFE: all methods serialize on mu. Callbacks are returned by value
// and must be invoked after the lock is released.
type activationTable struct {
	byFD  map[int]uint32
	slots []activation
	free  []uint32
	mu    sync.Mutex
}

// getOrCreate returns the key for fd, creating an empty entry if there was
// none. created reports whether the entry is new.
func (t *activationTable) getOrCreate(fd int) (key activationKey, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index, ok := t.byFD[fd]; ok {
		return activationKey{index: index, generation: t.slots[index].generation}, false
	}

	if t.byFD == nil {
		t.byFD = make(map[int]uint32)
	}

	var index uint32
	if n := len(t.free); n != 0 {
		index = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		index = uint32(len(t.slots))
		// generation 0 is never handed out
		t.slots = append(t.slots, activation{generation: 0})
	}

	slot := &t.slots[index]
	slot.generation++
	if slot.generation == 0 {
		slot.generation = 1
	}
	slot.fd = fd
	slot.live = true
	slot.callback = nil
	slot.mode = ModeNone
	t.byFD[fd] = index

	return activationKey{index: index, generation: slot.generation}, true
}

// bind installs the callback and mode for a live key.
func (t *activationTable) bind(key activationKey, mode Mode, callback Callback) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := t.slot(key)
	if slot == nil {
		return false
	}
	slot.callback = callback
	slot.mode = mode
	return true
}

// setMode records mode for fd, returning its key.
func (t *activationTable) setMode(fd int, mode Mode) (activationKey, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	index, ok := t.byFD[fd]
	if !ok {
		return activationKey{}, false
	}
	slot := &t.slots[index]
	slot.mode = mode
	return activationKey{index: index, generation: slot.generation}, true
}

// find returns the key registered for fd.
func (t *activationTable) find(fd int) (activationKey, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	index, ok := t.byFD[fd]
	if !ok {
		return activationKey{}, false
	}
	return activationKey{index: index, generation: t.slots[index].generation}, true
}

// lookup validates key and returns a copy of its callback.
func (t *activationTable) lookup(key activationKey) (Callback, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := t.slot(key)
	if slot == nil || slot.callback == nil {
		return nil, false
	}
	return slot.callback, true
}

// deactivate removes the entry for fd. Any key previously issued for it
// stops resolving.
func (t *activationTable) deactivate(fd int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	index, ok := t.byFD[fd]
	if !ok {
		return false
	}
	delete(t.byFD, fd)
	slot := &t.slots[index]
	slot.live = false
	slot.callback = nil
	slot.mode = ModeNone
	slot.fd = InvalidFD
	slot.generation++
	t.free = append(t.free, index)
	return true
}

func (t *activationTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byFD)
}

// descriptors returns every registered descriptor, in no particular order.
func (t *activationTable) descriptors() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fds := make([]int, 0, len(t.byFD))
	for fd := range t.byFD {
		fds = append(fds, fd)
	}
	return fds
}

// slot must be called with mu held.
func (t *activationTable) slot(key activationKey) *activation {
	if int(key.index) >= len(t.slots) {
		return nil
	}
	slot := &t.slots[key.index]
	if !slot.live || slot.generation != key.generation {
		return nil
	}
	return slot
}
