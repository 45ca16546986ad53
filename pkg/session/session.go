// Package session speaks the belt protocol over one link.Link: it runs
// service discovery and the handshake, turns requests into queued link
// operations, and decodes belt notifications into session state and
// Events.
package session

import (
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/beltctl/internal/clock"
	"github.com/srg/beltctl/internal/ringchan"
	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/link"
	"github.com/srg/beltctl/pkg/linkop"
)

const (
	// DefaultDebugBufferSize is the capacity of the debug output buffer in bytes.
	DefaultDebugBufferSize = 4096
	// DefaultEventBufferSize is the capacity of the Events channel.
	DefaultEventBufferSize = 64
)

// Phase is the setup progress of the attached link.
type Phase int

const (
	PhaseDetached Phase = iota
	PhaseDiscovering
	PhaseHandshake
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseDiscovering:
		return "discovering"
	case PhaseHandshake:
		return "handshake"
	case PhaseConnected:
		return "connected"
	default:
		return "detached"
	}
}

// Hooks report setup progress to the owner of the session. They are called
// without any session lock held, from the goroutine delivering link events.
type Hooks struct {
	// ServicesDiscovered is called once every service is known and every
	// required subscription was acknowledged.
	ServicesDiscovered func()
	// HandshakeFinished is called exactly once per attached link: with nil
	// when mode and default intensity are known, or with a *SetupError.
	HandshakeFinished func(err error)
}

// State is a snapshot of what the session knows about the belt.
type State struct {
	Mode             codec.Mode
	DefaultIntensity int
	FirmwareVersion  int
	Battery          codec.BatteryStatus
	Orientation      *codec.Orientation
	HeadingOffset    *int
	// AccuracySignal is nil until the belt reported it.
	AccuracySignal           *bool
	OrientationNotifications bool
}

func initialState() State {
	return State{
		Mode:             codec.ModeUnknown,
		DefaultIntensity: -1,
		FirmwareVersion:  -1,
	}
}

// Option configures a Session.
type Option func(*Session)

// WithQueue makes the session run its operations on q.
func WithQueue(q *linkop.Queue) Option {
	return func(s *Session) { s.queue = q }
}

// WithClock replaces the time source used for orientation filtering and,
// unless WithQueue is given, for operation timeouts.
func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithErrorLogTimeout sets the timeout of error log transfers.
func WithErrorLogTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.errorLogTimeout = d
		}
	}
}

// WithDebugBufferSize sets the capacity of the debug output buffer.
func WithDebugBufferSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.debugSize = n
		}
	}
}

// Session is the belt protocol endpoint of one connection. It can be
// attached to successive links; every Attach starts from a fresh state.
type Session struct {
	logger          *logrus.Logger
	clock           clock.Clock
	queue           *linkop.Queue
	errorLogTimeout time.Duration
	debugSize       int
	debug           *ringbuffer.RingBuffer
	events          *ringchan.RingChannel[Event]

	mu         sync.RWMutex
	link       link.Link
	epoch      uint64
	hooks      Hooks
	phase      Phase
	finished   bool
	chars      map[link.CharID]bool
	services   map[link.ServiceID]bool
	subscribed map[link.CharID]bool
	state      State
	gate       orientationGate
	listeners  []func(Event)
}

// New creates a detached session. A nil logger uses logrus.New().
func New(logger *logrus.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Session{
		logger:          logger,
		clock:           clock.Real(),
		errorLogTimeout: linkop.DefaultErrorLogTimeout,
		debugSize:       DefaultDebugBufferSize,
		events:          ringchan.New[Event](DefaultEventBufferSize),
		state:           initialState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.queue == nil {
		s.queue = linkop.NewQueue(logger, linkop.WithClock(s.clock))
	}
	s.debug = ringbuffer.New(s.debugSize)
	return s
}

// Attach binds l and starts from a fresh state in the discovering phase.
// Call StartDiscovery once the transport delivers l's events to Handler.
func (s *Session) Attach(l link.Link, hooks Hooks) {
	s.queue.Clear()

	s.mu.Lock()
	s.link = l
	s.hooks = hooks
	s.phase = PhaseDiscovering
	s.resetLocked()
	s.mu.Unlock()

	s.logger.WithField("address", l.ID()).Debug("Session attached")
}

// Detach cancels every queued operation and forgets the link and the
// belt state.
func (s *Session) Detach() {
	s.mu.Lock()
	attached := s.detachLocked()
	s.mu.Unlock()

	s.queue.Clear()
	if attached {
		s.logger.Debug("Session detached")
	}
}

func (s *Session) detachLocked() bool {
	attached := s.link != nil
	s.link = nil
	s.hooks = Hooks{}
	s.phase = PhaseDetached
	s.resetLocked()
	return attached
}

// Release detaches the session if l is the attached link. It reports
// whether it did.
func (s *Session) Release(l link.Link) bool {
	s.mu.Lock()
	if s.link == nil || s.link != l {
		s.mu.Unlock()
		return false
	}
	s.detachLocked()
	s.mu.Unlock()

	s.queue.Clear()
	s.logger.WithField("address", l.ID()).Debug("Session released")
	return true
}

func (s *Session) resetLocked() {
	s.epoch++
	s.finished = false
	s.chars = make(map[link.CharID]bool)
	s.services = make(map[link.ServiceID]bool)
	s.subscribed = make(map[link.CharID]bool)
	s.state = initialState()
	s.gate.reset(OrientationFilter{})
	s.debug.Reset()
}

// Phase returns the setup progress of the attached link.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Connected reports whether the handshake completed on the attached link.
func (s *Session) Connected() bool {
	return s.Phase() == PhaseConnected
}

// State returns a snapshot of the belt state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	if st.Orientation != nil {
		o := *st.Orientation
		st.Orientation = &o
	}
	if st.HeadingOffset != nil {
		v := *st.HeadingOffset
		st.HeadingOffset = &v
	}
	if st.AccuracySignal != nil {
		v := *st.AccuracySignal
		st.AccuracySignal = &v
	}
	return st
}

// Mode returns the last known belt mode.
func (s *Session) Mode() codec.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Mode
}

// Queue returns the operation queue the session enqueues on.
func (s *Session) Queue() *linkop.Queue {
	return s.queue
}

// Events returns the channel every dispatched Event is sent to. When the
// consumer falls behind the oldest events are dropped.
func (s *Session) Events() <-chan Event {
	return s.events.C()
}

// Subscribe registers fn to be called synchronously for every dispatched
// Event, after the session lock is released.
func (s *Session) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Close stops event delivery. The session must not be used afterwards.
func (s *Session) Close() {
	s.Detach()
	s.events.Close()
}

func (s *Session) emit(events []Event, listeners []func(Event)) {
	for _, ev := range events {
		if s.events.Send(ev) {
			s.logger.WithField("event", ev.eventName()).Debug("Event buffer full, oldest event dropped")
		}
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

func (s *Session) listenersLocked() []func(Event) {
	return slices.Clone(s.listeners)
}

// Handler returns a new link.Handler for one link. Bind it to the link
// once the transport returns it; events are delivered to the session only
// while that link is the attached one, so a released link can no longer
// complete operations or change state.
func (s *Session) Handler() *LinkHandler {
	return &LinkHandler{s: s}
}

// LinkHandler forwards the events of one link to a Session.
type LinkHandler struct {
	s  *Session
	mu sync.Mutex
	l  link.Link
}

// Bind sets the link the handler belongs to. Events before Bind are
// dropped.
func (h *LinkHandler) Bind(l link.Link) {
	h.mu.Lock()
	h.l = l
	h.mu.Unlock()
}

func (h *LinkHandler) current() bool {
	h.mu.Lock()
	l := h.l
	h.mu.Unlock()
	if l == nil {
		return false
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.link == l
}

func (h *LinkHandler) OnServicesDiscovered(services []link.ServiceID, err error) {
	if h.current() {
		h.s.onServicesDiscovered(services, err)
	}
}

func (h *LinkHandler) OnCharacteristicsDiscovered(service link.ServiceID, chars []link.CharID, err error) {
	if h.current() {
		h.s.onCharacteristicsDiscovered(service, chars, err)
	}
}

func (h *LinkHandler) OnWriteAck(char link.CharID, err error) {
	if h.current() {
		h.s.queue.OnWriteAck(char, err)
	}
}

func (h *LinkHandler) OnValueUpdate(char link.CharID, value []byte, err error) {
	if !h.current() {
		h.s.logger.WithField("char_uuid", char).Debug("Dropping value update from a released link")
		return
	}
	h.s.onValueUpdate(char, value, err)
	h.s.queue.OnValueUpdate(char, value, err)
}

func (h *LinkHandler) OnSubscriptionAck(char link.CharID, err error) {
	if h.current() {
		h.s.queue.OnSubscriptionAck(char, err)
	}
}

// OnDisconnected is handled by the owner of the link.
func (h *LinkHandler) OnDisconnected(error) {}
