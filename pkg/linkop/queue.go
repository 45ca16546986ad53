package linkop

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/beltctl/internal/clock"
	"github.com/srg/beltctl/pkg/link"
)

// DefaultTimeout applies to operations that do not set their own.
const DefaultTimeout = 250 * time.Millisecond

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithDefaultTimeout sets the timeout of operations without their own.
func WithDefaultTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.defaultTimeout = d
		}
	}
}

// WithClock replaces the timer source.
func WithClock(c clock.Clock) QueueOption {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// Queue runs at most one Operation at a time. Pending operations start in
// FIFO order, priority operations jump to the head. All structural updates
// are done under the lock; operation callbacks run after it is released and
// may enqueue further operations.
type Queue struct {
	logger         *logrus.Logger
	defaultTimeout time.Duration
	clock          clock.Clock

	mu         sync.Mutex
	pending    []Operation
	running    Operation
	timer      clock.Timer
	generation uint64
}

// NewQueue creates an empty queue. A nil logger uses the logrus standard logger.
func NewQueue(logger *logrus.Logger, opts ...QueueOption) *Queue {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	q := &Queue{
		logger:         logger,
		defaultTimeout: DefaultTimeout,
		clock:          clock.Real(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds op at the tail, or at the head when priority is set, and
// starts it if the queue is idle.
func (q *Queue) Enqueue(op Operation, priority bool) {
	q.mu.Lock()
	if priority {
		q.pending = append([]Operation{op}, q.pending...)
	} else {
		q.pending = append(q.pending, op)
	}
	q.mu.Unlock()

	q.logger.WithFields(logrus.Fields{
		"op":       op.Description(),
		"priority": priority,
	}).Debug("Operation enqueued")

	q.startNext()
}

// Clear cancels the running operation and every pending one, in order.
func (q *Queue) Clear() {
	q.mu.Lock()
	var cancelled []Operation
	if q.running != nil {
		cancelled = append(cancelled, q.running)
		q.running = nil
	}
	cancelled = append(cancelled, q.pending...)
	q.pending = nil
	q.stopTimerLocked()
	q.mu.Unlock()

	if len(cancelled) > 0 {
		q.logger.WithField("count", len(cancelled)).Debug("Operation queue cleared")
	}
	for _, op := range cancelled {
		op.Cancelled()
	}
}

// OnWriteAck offers a write acknowledgement to the running operation.
func (q *Queue) OnWriteAck(char link.CharID, err error) {
	q.complete(func(op Operation) bool { return op.MatchWriteAck(char, err) }, err)
}

// OnValueUpdate offers a value update to the running operation.
func (q *Queue) OnValueUpdate(char link.CharID, value []byte, err error) {
	q.complete(func(op Operation) bool { return op.MatchValueUpdate(char, value, err) }, err)
}

// OnSubscriptionAck offers a subscription acknowledgement to the running
// operation.
func (q *Queue) OnSubscriptionAck(char link.CharID, err error) {
	q.complete(func(op Operation) bool { return op.MatchSubscriptionAck(char, err) }, err)
}

// Len returns the number of pending operations, the running one excluded.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Running returns the running operation or nil.
func (q *Queue) Running() Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// IsIdle reports whether nothing runs and nothing is pending.
func (q *Queue) IsIdle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running == nil && len(q.pending) == 0
}

func (q *Queue) complete(match func(Operation) bool, err error) {
	q.mu.Lock()
	op := q.running
	if op == nil || !match(op) {
		q.mu.Unlock()
		return
	}
	q.running = nil
	q.stopTimerLocked()
	q.mu.Unlock()

	q.startNext()

	if err != nil {
		q.logger.WithFields(logrus.Fields{"op": op.Description(), "error": err}).Debug("Operation failed")
		op.Failed(err)
		return
	}
	q.logger.WithField("op", op.Description()).Debug("Operation succeeded")
	op.Succeeded()
}

// startNext starts pending operations until one is running or the queue is
// empty. Start is called outside the lock with the operation already marked
// running, so completions delivered during Start are matched normally.
func (q *Queue) startNext() {
	var failed, stale []Operation
	defer func() {
		for _, op := range stale {
			op.Cancelled()
		}
		for _, op := range failed {
			q.logger.WithField("op", op.Description()).Warn("Operation could not be started")
			op.Failed(ErrStartFailed)
		}
	}()

	for {
		q.mu.Lock()
		if s := q.healLocked(); s != nil {
			stale = append(stale, s)
		}
		if q.running != nil || len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		op := q.pending[0]
		q.pending = q.pending[1:]
		q.running = op
		gen := q.armLocked(op)
		q.mu.Unlock()

		if op.Start() {
			return
		}

		q.mu.Lock()
		if q.running != op || q.generation != gen {
			// Completed or cleared while starting.
			q.mu.Unlock()
			continue
		}
		q.running = nil
		q.stopTimerLocked()
		q.mu.Unlock()
		failed = append(failed, op)
	}
}

// healLocked restores the invariant that a running operation always has a
// timer and vice versa. It returns a stale running operation to cancel.
func (q *Queue) healLocked() Operation {
	switch {
	case q.running != nil && q.timer == nil:
		stale := q.running
		q.running = nil
		q.logger.WithField("op", stale.Description()).Warn("Running operation without timer, cancelling")
		return stale
	case q.running == nil && q.timer != nil:
		q.logger.Warn("Timer without running operation, dropping")
		q.stopTimerLocked()
	}
	return nil
}

func (q *Queue) armLocked(op Operation) uint64 {
	q.generation++
	gen := q.generation
	d := op.Timeout()
	if d <= 0 {
		d = q.defaultTimeout
	}
	q.timer = q.clock.AfterFunc(d, func() { q.onTimeout(gen) })
	return gen
}

func (q *Queue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.generation++
}

func (q *Queue) onTimeout(gen uint64) {
	q.mu.Lock()
	if gen != q.generation || q.running == nil {
		q.mu.Unlock()
		return
	}
	op := q.running
	q.running = nil
	q.timer = nil
	q.generation++
	q.mu.Unlock()

	q.startNext()

	q.logger.WithField("op", op.Description()).Warn("Operation timed out")
	op.Failed(ErrTimeout)
}
