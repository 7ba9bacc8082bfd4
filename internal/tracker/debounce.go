package tracker

import (
	"sync"
	"time"
)

// Debouncer keeps at most one pending deferred callback per key. Scheduling
// a key that is already pending stops the old timer before starting the new
// one, so the quiet window is always measured from the latest call.
type Debouncer[K comparable] struct {
	clock Clock

	mu      sync.Mutex
	seq     uint64
	pending map[K]pendingTimer
}

type pendingTimer struct {
	id    uint64
	timer Timer
}

func NewDebouncer[K comparable](clock Clock) *Debouncer[K] {
	if clock == nil {
		clock = WallClock()
	}
	return &Debouncer[K]{
		clock:   clock,
		pending: make(map[K]pendingTimer),
	}
}

// Schedule arranges for fn(key) to run once after delay unless the key is
// rescheduled or cancelled first.
func (d *Debouncer[K]) Schedule(key K, delay time.Duration, fn func(K)) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		delete(d.pending, key)
	}

	d.seq++
	id := d.seq
	t := d.clock.AfterFunc(delay, func() { d.fire(key, id, fn) })
	d.pending[key] = pendingTimer{id: id, timer: t}
}

// fire runs fn only if the timer that triggered it is still the current one
// for key. A timer whose Stop lost the race against expiry is ignored here.
func (d *Debouncer[K]) fire(key K, id uint64, fn func(K)) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok || p.id != id {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	fn(key)
}

// Cancel drops the pending callback for key, if any.
func (d *Debouncer[K]) Cancel(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.pending, key)
	return true
}

// Pending reports whether key has a scheduled callback.
func (d *Debouncer[K]) Pending(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

func (d *Debouncer[K]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop abandons every pending callback.
func (d *Debouncer[K]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, k)
	}
}
