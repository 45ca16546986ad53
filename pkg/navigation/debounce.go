package navigation

import (
	"sync"
	"time"

	"github.com/srg/beltctl/internal/clock"
)

// Debouncer limits how often an action runs. An action submitted while
// the previous run is more recent than the period is deferred to the end
// of the period; later submissions replace it, so only the last one runs.
type Debouncer struct {
	period time.Duration
	clock  clock.Clock

	mu      sync.Mutex
	ran     bool
	last    time.Time
	pending func()
	timer   clock.Timer
	gen     uint64
}

// NewDebouncer creates a debouncer. A nil clock uses the wall clock.
func NewDebouncer(period time.Duration, c clock.Clock) *Debouncer {
	if c == nil {
		c = clock.Real()
	}
	return &Debouncer{period: period, clock: c}
}

// Submit runs fn immediately when the last run is older than the period
// and reports true. Otherwise fn becomes the deferred action and Submit
// reports false.
func (d *Debouncer) Submit(fn func()) bool {
	d.mu.Lock()
	if d.timer != nil {
		d.pending = fn
		d.mu.Unlock()
		return false
	}

	now := d.clock.Now()
	if d.period <= 0 || !d.ran || now.Sub(d.last) > d.period {
		d.ran = true
		d.last = now
		d.mu.Unlock()
		fn()
		return true
	}

	d.pending = fn
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.last.Add(d.period).Sub(now), func() { d.fire(gen) })
	d.mu.Unlock()
	return false
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.ran = true
	d.last = d.clock.Now()
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Cancel drops the deferred action, if any. The next Submit is still
// rate-limited against the last run.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}

// Pending reports whether a deferred action is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}
