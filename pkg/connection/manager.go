// Package connection drives the connection to one belt. A Manager waits for
// the radio, scans, dials and hands established links to a session.Session
// for discovery and handshake. Every transition is reported as an Event, and
// every attempt ends either Connected or back in NotConnected with a
// classified *Error.
package connection

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/beltctl/internal/clock"
	"github.com/srg/beltctl/internal/ringchan"
	"github.com/srg/beltctl/pkg/config"
	"github.com/srg/beltctl/pkg/link"
	"github.com/srg/beltctl/pkg/session"
)

// ErrAttemptCancelled is returned by the waiting helpers when the attempt
// was superseded or disconnected on request before it finished.
var ErrAttemptCancelled = errors.New("connection attempt cancelled")

// Store remembers the belts that completed a handshake, most recent first.
type Store interface {
	List() ([]string, error)
	Add(id string) error
}

type listener struct {
	id int
	fn func(Event)
}

// Manager owns the connection state machine of one belt. All methods are
// safe for concurrent use and none of them blocks on the radio.
type Manager struct {
	transport link.Transport
	store     Store
	logger    *logrus.Logger
	clock     clock.Clock
	opts      Options
	session   *session.Session
	events    *ringchan.RingChannel[Event]
	history   mpmc.RichOverlappedRingBuffer[Event]
	unwatch   func()

	mu           sync.Mutex
	state        State
	attempt      uuid.UUID
	gen          uint64
	peripheral   link.Peripheral
	link         link.Link
	autoConnect  bool
	reconnecting bool
	plan         []step
	known        []string
	pending      func()
	wakeupTimer  clock.Timer
	scanTimer    clock.Timer
	connectTimer clock.Timer
	cancel       context.CancelFunc
	discovered   []link.Peripheral
	closed       bool

	// work to run once mu is released, and events waiting for delivery
	deferred   []func()
	outbox     []Event
	delivering bool
	listeners  []listener
	nextID     int
}

// NewManager creates a manager in NotConnected. store may be nil, in which
// case nothing is remembered between runs. A nil logger uses logrus.New().
func NewManager(transport link.Transport, store Store, logger *logrus.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	m := &Manager{
		transport: transport,
		store:     store,
		logger:    logger,
		clock:     clock.Real(),
		opts:      DefaultOptions(),
		state:     NotConnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.session == nil {
		m.session = session.New(logger, session.WithClock(m.clock))
	}
	m.events = ringchan.New[Event](session.DefaultEventBufferSize)
	m.history = mpmc.NewOverlappedRingBuffer[Event](uint32(m.opts.HistorySize))
	m.unwatch = transport.WatchState(m.onTransportState)
	return m
}

// Scan looks for belts. With autoConnect the first belt found is
// connected; otherwise the scan ends after the scan timeout with a neutral
// KindSearchFinished and the belts found are listed by Discovered. A
// non-nil error means the attempt already failed; it was reported as an
// Event too.
func (m *Manager) Scan(autoConnect bool) error {
	_, err := m.scan(autoConnect)
	return err
}

func (m *Manager) scan(autoConnect bool) (uuid.UUID, error) {
	m.mu.Lock()
	id := m.beginLocked()
	m.autoConnect = autoConnect
	err := m.whenReadyLocked(func() { m.startScanLocked(nil) })
	m.unlock()
	return id, err
}

// StopScan ends a scan, or an attempt still waiting for the radio, without
// error.
func (m *Manager) StopScan() {
	m.mu.Lock()
	if m.state == Scanning || m.state == Initializing {
		m.plan = nil
		m.terminateLocked(CauseScanFinished, nil)
	}
	m.unlock()
}

// Connect dials p and runs the belt handshake.
func (m *Manager) Connect(p link.Peripheral) error {
	_, err := m.connect(p)
	return err
}

// ConnectByID dials the belt with the given transport identifier.
func (m *Manager) ConnectByID(id string) error {
	return m.Connect(link.Peripheral{ID: id})
}

func (m *Manager) connect(p link.Peripheral) (uuid.UUID, error) {
	if p.ID == "" {
		return uuid.Nil, errors.New("empty belt identifier")
	}
	m.mu.Lock()
	id := m.beginLocked()
	err := m.whenReadyLocked(func() { m.connectLocked(p, nil) })
	m.unlock()
	return id, err
}

// SearchAndConnect connects to a belt already connected at the transport
// level, else to the most recently connected belt, else to the first belt
// found by scanning. Options.FallbackPolicy decides whether a failed step
// moves on to the next one.
func (m *Manager) SearchAndConnect() error {
	_, err := m.searchAndConnect()
	return err
}

func (m *Manager) searchAndConnect() (uuid.UUID, error) {
	known, err := m.PreviouslyConnected()
	if err != nil {
		m.logger.WithError(err).Warn("Failed to read previously connected belts")
	}

	m.mu.Lock()
	id := m.beginLocked()
	m.plan = searchPlan()
	m.known = known
	err = m.whenReadyLocked(func() { m.nextStepLocked(nil) })
	m.unlock()
	return id, err
}

// Disconnect ends the current attempt or connection. The final Event has a
// nil Err.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state != NotConnected {
		m.logger.WithField("attempt_id", m.attempt).Info("Disconnect requested")
		m.plan = nil
		m.terminateLocked(CauseConnectionClosed, nil)
	}
	m.unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Peripheral returns the belt of the current attempt.
func (m *Manager) Peripheral() link.Peripheral {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peripheral
}

// Session returns the protocol session established links are attached to.
func (m *Manager) Session() *session.Session {
	return m.session
}

// Events returns the channel every Event is sent to. When the consumer
// falls behind the oldest events are dropped.
func (m *Manager) Events() <-chan Event {
	return m.events.C()
}

// Subscribe registers fn to be called for every Event, in order, without
// any manager lock held. The returned func removes it.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// Discovered returns the belts found by the last scan, in discovery order.
func (m *Manager) Discovered() []link.Peripheral {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]link.Peripheral(nil), m.discovered...)
}

// History drains the most recent events, oldest first. Its capacity is
// Options.HistorySize; older events are overwritten.
func (m *Manager) History() []Event {
	var out []Event
	for !m.history.IsEmpty() {
		ev, err := m.history.Dequeue()
		if err != nil {
			break
		}
		out = append(out, ev)
	}
	return out
}

// PreviouslyConnected lists the belts that completed a handshake, most
// recent first.
func (m *Manager) PreviouslyConnected() ([]string, error) {
	if m.store == nil {
		return nil, nil
	}
	return m.store.List()
}

// Close disconnects and stops event delivery. The manager must not be used
// afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.state != NotConnected {
		m.plan = nil
		m.terminateLocked(CauseConnectionClosed, nil)
	}
	m.unlock()

	if m.unwatch != nil {
		m.unwatch()
	}
	m.session.Close()
	m.events.Close()
}

// beginLocked ends any running attempt and starts a new one.
func (m *Manager) beginLocked() uuid.UUID {
	if m.state != NotConnected {
		m.logger.WithField("attempt_id", m.attempt).Debug("Superseding connection attempt")
		m.plan = nil
		m.terminateLocked(CauseConnectionClosed, nil)
	}
	m.attempt = uuid.New()
	m.autoConnect = false
	m.reconnecting = false
	m.plan = nil
	m.known = nil
	m.discovered = nil
	m.peripheral = link.Peripheral{}
	return m.attempt
}

// whenReadyLocked runs action now if the radio is on, fails the attempt
// if the radio cannot be used, and otherwise waits for it in Initializing.
func (m *Manager) whenReadyLocked(action func()) error {
	st := m.transport.State()
	switch {
	case st == link.StatePoweredOn:
		action()
		return nil
	case unusable(st):
		err := newError(transportKind(st), &link.TransportError{State: st})
		m.plan = nil
		m.terminateLocked(CauseTransportUnavailable, err)
		return err
	}

	m.pending = action
	m.setStateLocked(Initializing, CauseWaitingForTransport, nil)
	gen := m.gen
	m.wakeupTimer = m.clock.AfterFunc(m.opts.WakeupTimeout, func() { m.onWakeupTimeout(gen) })
	return nil
}

// resetLocked invalidates every timer, goroutine and link of the current
// step.
func (m *Manager) resetLocked() {
	m.gen++
	for _, t := range []clock.Timer{m.wakeupTimer, m.scanTimer, m.connectTimer} {
		if t != nil {
			t.Stop()
		}
	}
	m.wakeupTimer, m.scanTimer, m.connectTimer = nil, nil, nil
	m.pending = nil
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if l := m.link; l != nil {
		m.link = nil
		m.later(func() {
			m.session.Release(l)
			if err := l.Close(); err != nil {
				m.logger.WithError(err).WithField("address", l.ID()).Debug("Link close failed")
			}
		})
	}
}

func (m *Manager) terminateLocked(cause Cause, err *Error) {
	m.resetLocked()
	m.reconnecting = false
	m.setStateLocked(NotConnected, cause, err)
}

// failLocked ends the current step with err. During SearchAndConnect with
// the on-failure policy the next step is tried instead.
func (m *Manager) failLocked(cause Cause, err *Error) {
	if len(m.plan) > 0 && m.opts.FallbackPolicy == config.FallbackOnFailure && !err.Kind.IsTransportAvailability() {
		m.logger.WithFields(logrus.Fields{
			"attempt_id": m.attempt,
			"error":      err,
		}).Warn("Search step failed, trying the next one")
		m.resetLocked()
		m.nextStepLocked(err)
		return
	}
	m.plan = nil
	m.terminateLocked(cause, err)
}

func (m *Manager) setStateLocked(to State, cause Cause, err *Error) {
	m.eventLocked(to, cause, err, m.peripheral)
	m.state = to
}

func (m *Manager) eventLocked(to State, cause Cause, err *Error, p link.Peripheral) {
	m.outbox = append(m.outbox, Event{
		AttemptID:  m.attempt,
		Previous:   m.state,
		State:      to,
		Cause:      cause,
		Err:        err,
		Peripheral: p,
		Time:       m.clock.Now(),
	})
}

// later schedules fn to run after mu is released by unlock.
func (m *Manager) later(fn func()) {
	m.deferred = append(m.deferred, fn)
}

// unlock releases mu, runs the deferred work and delivers queued events.
func (m *Manager) unlock() {
	calls := m.deferred
	m.deferred = nil
	m.mu.Unlock()

	for _, fn := range calls {
		fn()
	}
	m.deliver()
}

// deliver sends queued events in the order they were produced. A single
// goroutine delivers at a time; listeners may call back into the manager.
func (m *Manager) deliver() {
	m.mu.Lock()
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.outbox) > 0 {
		batch := m.outbox
		m.outbox = nil
		listeners := append([]listener(nil), m.listeners...)
		m.mu.Unlock()

		for _, ev := range batch {
			m.logEvent(ev)
			if _, err := m.history.EnqueueM(ev); err != nil {
				m.logger.WithError(err).Debug("Failed to record connection event")
			}
			if m.events.Send(ev) {
				m.logger.WithField("state", ev.State).Debug("Event buffer full, oldest event dropped")
			}
			for _, l := range listeners {
				l.fn(ev)
			}
		}

		m.mu.Lock()
	}
	m.delivering = false
	m.mu.Unlock()
}

func (m *Manager) logEvent(ev Event) {
	fields := logrus.Fields{
		"attempt_id": ev.AttemptID,
		"state":      ev.State,
		"previous":   ev.Previous,
		"cause":      ev.Cause,
	}
	if ev.Peripheral.ID != "" {
		fields["address"] = ev.Peripheral.ID
	}
	entry := m.logger.WithFields(fields)
	switch {
	case ev.Err != nil && !ev.Err.Kind.IsNeutral():
		entry.WithField("error", ev.Err).Warn("Connection attempt failed")
	case ev.Cause == CausePeripheralFound:
		entry.WithField("name", ev.Peripheral.Name).Debug("Belt found")
	default:
		entry.Info("Connection state changed")
	}
}

func (m *Manager) onTransportState(st link.TransportState) {
	m.mu.Lock()
	m.logger.WithFields(logrus.Fields{
		"transport": st,
		"state":     m.state,
	}).Debug("Transport state changed")

	switch {
	case m.state == Initializing && st == link.StatePoweredOn:
		action := m.pending
		m.pending = nil
		if m.wakeupTimer != nil {
			m.wakeupTimer.Stop()
			m.wakeupTimer = nil
		}
		if action != nil {
			action()
		}
	case m.state != NotConnected && unusable(st):
		cause := CauseTransportUnavailable
		if m.state == Connected {
			cause = CauseConnectionLost
		}
		m.plan = nil
		m.terminateLocked(cause, newError(transportKind(st), &link.TransportError{State: st}))
	}
	m.unlock()
}

func (m *Manager) onWakeupTimeout(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Initializing {
		m.mu.Unlock()
		return
	}
	st := m.transport.State()
	if st == link.StatePoweredOn && m.pending != nil {
		action := m.pending
		m.pending = nil
		m.wakeupTimer = nil
		action()
		m.unlock()
		return
	}
	m.logger.WithField("transport", st).Warn("Bluetooth did not become ready")
	m.plan = nil
	m.terminateLocked(CauseTransportUnavailable,
		newError(transportKind(st), &link.TransportError{State: st, Msg: "wakeup timeout"}))
	m.unlock()
}
