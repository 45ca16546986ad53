//go:build test

package linkop_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/srg/beltctl/internal/clock"
	"github.com/srg/beltctl/internal/testutils"
	"github.com/srg/beltctl/pkg/link"
	"github.com/srg/beltctl/pkg/linkop"
	"github.com/stretchr/testify/suite"
)

// fakeOp completes on a write ack of its characteristic and records every
// lifecycle call into a shared journal.
type fakeOp struct {
	name    string
	char    link.CharID
	timeout time.Duration
	start   bool
	journal *journal
	onDone  func()
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (o *fakeOp) Description() string    { return o.name }
func (o *fakeOp) Timeout() time.Duration { return o.timeout }
func (o *fakeOp) Start() bool {
	o.journal.add("start %s", o.name)
	return o.start
}
func (o *fakeOp) MatchWriteAck(char link.CharID, _ error) bool { return char == o.char }
func (o *fakeOp) MatchValueUpdate(link.CharID, []byte, error) bool {
	return false
}
func (o *fakeOp) MatchSubscriptionAck(link.CharID, error) bool { return false }
func (o *fakeOp) Succeeded() {
	o.journal.add("succeeded %s", o.name)
	o.done()
}
func (o *fakeOp) Failed(err error) {
	o.journal.add("failed %s: %v", o.name, err)
	o.done()
}
func (o *fakeOp) Cancelled() {
	o.journal.add("cancelled %s", o.name)
	o.done()
}
func (o *fakeOp) done() {
	if o.onDone != nil {
		o.onDone()
	}
}

// leakyClock never cancels timers, so stale timeouts still fire.
type leakyClock struct {
	mu        sync.Mutex
	callbacks []func()
}

type leakyTimer struct{}

func (leakyTimer) Stop() bool { return false }

func (c *leakyClock) Now() time.Time { return time.Time{} }

func (c *leakyClock) AfterFunc(_ time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, f)
	return leakyTimer{}
}

func (c *leakyClock) fire(i int) {
	c.mu.Lock()
	f := c.callbacks[i]
	c.mu.Unlock()
	f()
}

type QueueTestSuite struct {
	testutils.MockBeltSuite

	queue   *linkop.Queue
	journal *journal
}

func (suite *QueueTestSuite) SetupTest() {
	suite.MockBeltSuite.SetupTest()
	suite.journal = &journal{}
	suite.queue = linkop.NewQueue(suite.Logger, linkop.WithClock(suite.Clock))
}

func (suite *QueueTestSuite) op(name string, char link.CharID) *fakeOp {
	return &fakeOp{name: name, char: char, start: true, journal: suite.journal}
}

func (suite *QueueTestSuite) TestFIFOOrder() {
	// GOAL: Verify operations run one at a time in enqueue order
	//
	// TEST SCENARIO: Enqueue A, B, C → ack each in turn → each starts only after the previous completed

	suite.queue.Enqueue(suite.op("A", "a"), false)
	suite.queue.Enqueue(suite.op("B", "b"), false)
	suite.queue.Enqueue(suite.op("C", "c"), false)

	suite.Equal("A", suite.queue.Running().Description(), "A MUST be running")
	suite.Equal(2, suite.queue.Len(), "B and C MUST be pending")

	suite.queue.OnWriteAck("a", nil)
	suite.queue.OnWriteAck("b", nil)
	suite.queue.OnWriteAck("c", nil)

	suite.Equal([]string{
		"start A",
		"start B", "succeeded A",
		"start C", "succeeded B",
		"succeeded C",
	}, suite.journal.all(), "next operation MUST start before the completion callback")
	suite.True(suite.queue.IsIdle(), "queue MUST be idle")
}

func (suite *QueueTestSuite) TestPriority() {
	// GOAL: Verify priority operations jump ahead of pending ones without preempting
	//
	// TEST SCENARIO: A running, B pending → enqueue P with priority → order is A, P, B

	suite.queue.Enqueue(suite.op("A", "a"), false)
	suite.queue.Enqueue(suite.op("B", "b"), false)
	suite.queue.Enqueue(suite.op("P", "p"), true)

	suite.Equal("A", suite.queue.Running().Description(), "priority MUST NOT preempt the running operation")

	suite.queue.OnWriteAck("a", nil)
	suite.Equal("P", suite.queue.Running().Description(), "priority operation MUST run next")

	suite.queue.OnWriteAck("p", nil)
	suite.Equal("B", suite.queue.Running().Description())
}

func (suite *QueueTestSuite) TestUnmatchedEventsIgnored() {
	// GOAL: Verify events not matching the running operation leave it running
	//
	// TEST SCENARIO: A runs on "a" → ack arrives for "x" → A still running, no callback

	suite.queue.Enqueue(suite.op("A", "a"), false)
	suite.queue.OnWriteAck("x", nil)
	suite.queue.OnValueUpdate("a", []byte{1}, nil)

	suite.Equal("A", suite.queue.Running().Description())
	suite.Equal([]string{"start A"}, suite.journal.all())
}

func (suite *QueueTestSuite) TestWriteAckError() {
	// GOAL: Verify a matched event carrying an error fails the operation
	//
	// TEST SCENARIO: A runs → ack with error → A failed with that error, B starts

	boom := errors.New("att error")
	suite.queue.Enqueue(suite.op("A", "a"), false)
	suite.queue.Enqueue(suite.op("B", "b"), false)

	suite.queue.OnWriteAck("a", boom)

	suite.Equal([]string{"start A", "start B", "failed A: att error"}, suite.journal.all())
}

func (suite *QueueTestSuite) TestClear() {
	// GOAL: Verify Clear cancels running and pending operations in order and leaves the queue idle
	//
	// TEST SCENARIO: A running, B and C pending → Clear → A, B, C cancelled → no timeout fires later

	suite.queue.Enqueue(suite.op("A", "a"), false)
	suite.queue.Enqueue(suite.op("B", "b"), false)
	suite.queue.Enqueue(suite.op("C", "c"), false)

	suite.queue.Clear()

	suite.Equal([]string{"start A", "cancelled A", "cancelled B", "cancelled C"}, suite.journal.all())
	suite.True(suite.queue.IsIdle(), "queue MUST be idle after Clear")
	suite.Equal(0, suite.Clock.Pending(), "timer MUST be stopped")

	suite.Clock.Advance(time.Second)
	suite.Len(suite.journal.all(), 4, "no callback MUST follow Clear")
}

func (suite *QueueTestSuite) TestTimeout() {
	// GOAL: Verify an unanswered operation fails with ErrTimeout and the queue advances
	//
	// TEST SCENARIO: A (default 250ms) and B (1s) enqueued → advance 250ms → A times out, B starts → advance 1s → B times out

	b := suite.op("B", "b")
	b.timeout = time.Second
	suite.queue.Enqueue(suite.op("A", "a"), false)
	suite.queue.Enqueue(b, false)

	suite.Clock.Advance(249 * time.Millisecond)
	suite.Equal("A", suite.queue.Running().Description(), "A MUST still run before its deadline")

	suite.Clock.Advance(time.Millisecond)
	suite.Equal("B", suite.queue.Running().Description(), "B MUST start after A timed out")

	suite.Clock.Advance(time.Second)
	suite.Equal([]string{
		"start A",
		"start B", "failed A: " + linkop.ErrTimeout.Error(),
		"failed B: " + linkop.ErrTimeout.Error(),
	}, suite.journal.all())
	suite.True(suite.queue.IsIdle())
}

func (suite *QueueTestSuite) TestStartFailure() {
	// GOAL: Verify operations whose Start fails are failed with ErrStartFailed after the next one started
	//
	// TEST SCENARIO: A and B refuse to start, C starts → C running → A and B failed in order

	a, b := suite.op("A", "a"), suite.op("B", "b")
	a.start, b.start = false, false

	suite.queue.Enqueue(suite.op("X", "x"), false)
	suite.queue.Enqueue(a, false)
	suite.queue.Enqueue(b, false)
	suite.queue.Enqueue(suite.op("C", "c"), false)

	suite.queue.OnWriteAck("x", nil)

	suite.Equal("C", suite.queue.Running().Description())
	suite.Equal([]string{
		"start X",
		"start A", "start B", "start C",
		"failed A: " + linkop.ErrStartFailed.Error(),
		"failed B: " + linkop.ErrStartFailed.Error(),
		"succeeded X",
	}, suite.journal.all())
}

func (suite *QueueTestSuite) TestReentrantEnqueue() {
	// GOAL: Verify completion callbacks may enqueue more work
	//
	// TEST SCENARIO: A's completion enqueues B → B starts immediately

	a := suite.op("A", "a")
	a.onDone = func() { suite.queue.Enqueue(suite.op("B", "b"), false) }
	suite.queue.Enqueue(a, false)

	suite.queue.OnWriteAck("a", nil)

	suite.Require().NotNil(suite.queue.Running())
	suite.Equal("B", suite.queue.Running().Description())
}

func (suite *QueueTestSuite) TestSelfHealing() {
	suite.Run("running operation without timer is cancelled", func() {
		// GOAL: Verify a running operation that lost its timer is cancelled before the next start
		//
		// TEST SCENARIO: A running with its timer dropped → enqueue B → A cancelled, B running

		suite.SetupTest()
		suite.queue.Enqueue(suite.op("A", "a"), false)
		suite.queue.DropTimer()

		suite.queue.Enqueue(suite.op("B", "b"), false)

		suite.Equal("B", suite.queue.Running().Description())
		suite.Contains(suite.journal.all(), "cancelled A")
	})

	suite.Run("timer without running operation is dropped", func() {
		// GOAL: Verify a timer left behind by a vanished operation is stopped before the next start
		//
		// TEST SCENARIO: A forgotten with its timer armed → enqueue B → only B's timer remains → B gets its full timeout

		suite.SetupTest()
		suite.queue.Enqueue(suite.op("A", "a"), false)
		suite.queue.ForgetRunning()
		suite.Clock.Advance(100 * time.Millisecond)

		suite.queue.Enqueue(suite.op("B", "b"), false)
		suite.Equal("B", suite.queue.Running().Description())
		suite.Equal(1, suite.Clock.Pending(), "stale timer MUST be stopped")

		suite.Clock.Advance(200 * time.Millisecond)
		suite.Equal("B", suite.queue.Running().Description(), "B MUST keep its own deadline")

		suite.Clock.Advance(50 * time.Millisecond)
		suite.True(suite.queue.IsIdle(), "B MUST time out on its own deadline")
	})
}

func (suite *QueueTestSuite) TestStaleTimerGeneration() {
	// GOAL: Verify a timer that fires after its operation completed does not fail the successor
	//
	// TEST SCENARIO: A completes, B starts → A's timer callback fires late → B still running

	leaky := &leakyClock{}
	q := linkop.NewQueue(suite.Logger, linkop.WithClock(leaky))

	q.Enqueue(suite.op("A", "a"), false)
	q.Enqueue(suite.op("B", "b"), false)
	q.OnWriteAck("a", nil)

	leaky.fire(0)

	suite.Require().NotNil(q.Running())
	suite.Equal("B", q.Running().Description(), "stale timeout MUST be ignored")

	leaky.fire(1)
	suite.True(q.IsIdle(), "B's own timeout MUST fail it")
	suite.Contains(suite.journal.all(), "failed B: "+linkop.ErrTimeout.Error())
}

func (suite *QueueTestSuite) TestAtMostOneRunning() {
	// GOAL: Verify concurrent producers never get two operations started at once
	//
	// TEST SCENARIO: 50 goroutines enqueue → exactly one start → acking drains the queue one by one

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			suite.queue.Enqueue(suite.op(fmt.Sprintf("op%d", i), "c"), false)
		}(i)
	}
	wg.Wait()

	suite.Len(suite.journal.all(), 1, "exactly one operation MUST be started")
	for i := 0; i < 50; i++ {
		suite.queue.OnWriteAck("c", nil)
	}
	suite.True(suite.queue.IsIdle())
}

func TestQueueTestSuite(t *testing.T) {
	suite.Run(t, new(QueueTestSuite))
}
