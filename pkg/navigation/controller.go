// Package navigation drives a belt for guidance apps: one current
// navigation signal kept in sync with the belt mode, rate-limited updates
// and one-shot notifications.
package navigation

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/beltctl/internal/clock"
	"github.com/srg/beltctl/internal/ringchan"
	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/connection"
	"github.com/srg/beltctl/pkg/session"
)

// DefaultEventBufferSize is the capacity of the Events channel.
const DefaultEventBufferSize = 64

const (
	// notificationChannel keeps one-shot notifications off the channel
	// used by the navigation signal.
	notificationChannel = 2
	warningIntensity    = 25
	warningPeriod       = 1000
)

// ErrNotRepeated is returned when a navigation signal does not repeat.
var ErrNotRepeated = errors.New("navigation signal must repeat")

// Signal is the current navigation signal.
type Signal struct {
	Direction int
	IsBearing bool
	Kind      codec.SignalKind
}

func (s Signal) request() codec.SignalRequest {
	return codec.NewSignalRequest(s.Kind, s.Direction, s.IsBearing)
}

// Controller keeps one navigation signal running on the connected belt.
type Controller struct {
	manager  *connection.Manager
	session  *session.Session
	logger   *logrus.Logger
	opts     Options
	clock    clock.Clock
	debounce *Debouncer
	events   *ringchan.RingChannel[Event]
	stop     func()

	mu        sync.Mutex
	state     State
	signal    Signal
	hasSignal bool
	closed    bool
	listeners []func(Event)
}

// NewController wraps manager. A nil logger uses logrus.New().
func NewController(manager *connection.Manager, logger *logrus.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	c := &Controller{
		manager: manager,
		session: manager.Session(),
		logger:  logger,
		opts:    DefaultOptions(),
		clock:   clock.Real(),
		events:  ringchan.New[Event](DefaultEventBufferSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.debounce = NewDebouncer(c.opts.MinUpdatePeriod, c.clock)
	c.session.Subscribe(c.onBeltEvent)
	c.stop = manager.Subscribe(c.onConnectionEvent)
	return c
}

// SearchAndConnect connects to the nearest belt, see
// connection.Manager.SearchAndConnect.
func (c *Controller) SearchAndConnect() error {
	return c.manager.SearchAndConnect()
}

// Disconnect ends the connection or the running attempt.
func (c *Controller) Disconnect() {
	c.manager.Disconnect()
}

// State returns the navigation state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Signal returns the current navigation signal, false when none is set.
func (c *Controller) Signal() (Signal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signal, c.hasSignal
}

// ConnectionState returns the connection manager state.
func (c *Controller) ConnectionState() connection.State {
	return c.manager.State()
}

// BeltMode returns the last known belt mode.
func (c *Controller) BeltMode() codec.Mode {
	return c.session.Mode()
}

// Events returns the channel every Event is sent to. When the consumer
// falls behind the oldest events are dropped.
func (c *Controller) Events() <-chan Event {
	return c.events.C()
}

// Subscribe registers fn to be called for every Event.
func (c *Controller) Subscribe(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Close stops event delivery. The connection is left as is.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.stop()
	c.debounce.Cancel()
	c.events.Close()
}

// StartNavigation sets the navigation signal and starts navigating. With a
// connected belt the belt is switched to app mode, and the signal starts
// once the belt confirms it.
func (c *Controller) StartNavigation(direction int, isBearing bool, kind codec.SignalKind) error {
	if err := checkKind(kind); err != nil {
		return err
	}

	c.mu.Lock()
	c.signal = Signal{Direction: direction, IsBearing: isBearing, Kind: kind}
	c.hasSignal = true
	events := c.setStateLocked(Navigating)
	c.mu.Unlock()
	c.emit(events)

	if !c.session.Connected() {
		return nil
	}
	if c.session.Mode() == codec.ModeApp {
		c.debounce.Submit(c.sendSignal)
		return nil
	}
	return c.session.ChangeMode(codec.ModeApp)
}

// UpdateNavigationSignal replaces the navigation signal. While navigating
// the update is sent at most once per MinUpdatePeriod; updates arriving
// faster are coalesced and only the last one is sent.
func (c *Controller) UpdateNavigationSignal(direction int, isBearing bool, kind codec.SignalKind) error {
	if err := checkKind(kind); err != nil {
		return err
	}

	c.mu.Lock()
	c.signal = Signal{Direction: direction, IsBearing: isBearing, Kind: kind}
	c.hasSignal = true
	navigating := c.state == Navigating
	c.mu.Unlock()

	if navigating && c.session.Connected() && c.session.Mode() == codec.ModeApp {
		c.debounce.Submit(c.sendSignal)
	}
	return nil
}

// ResumeNavigation resumes a paused navigation.
func (c *Controller) ResumeNavigation() error {
	c.mu.Lock()
	if c.state != Paused || !c.hasSignal {
		c.mu.Unlock()
		return nil
	}
	sig := c.signal
	c.mu.Unlock()
	return c.StartNavigation(sig.Direction, sig.IsBearing, sig.Kind)
}

// PauseNavigation pauses the navigation, switching the belt to pause mode.
func (c *Controller) PauseNavigation() error {
	c.mu.Lock()
	if c.state != Navigating {
		c.mu.Unlock()
		return nil
	}
	events := c.setStateLocked(Paused)
	c.mu.Unlock()

	c.debounce.Cancel()
	c.emit(events)

	if c.session.Connected() && c.session.Mode() == codec.ModeApp {
		return c.session.ChangeMode(codec.ModePause)
	}
	return nil
}

// StopNavigation clears the navigation signal. A belt in app or pause
// mode goes back to wait mode.
func (c *Controller) StopNavigation() error {
	c.mu.Lock()
	c.signal = Signal{}
	c.hasSignal = false
	events := c.setStateLocked(Stopped)
	c.mu.Unlock()

	c.debounce.Cancel()
	c.emit(events)

	if !c.session.Connected() {
		return nil
	}
	switch c.session.Mode() {
	case codec.ModeApp, codec.ModePause:
		return c.session.ChangeMode(codec.ModeWait)
	}
	return nil
}

// NotifyDestinationReached plays the goal signal, stopping the navigation
// first when stop is set.
func (c *Controller) NotifyDestinationReached(stop bool) error {
	if stop {
		if err := c.StopNavigation(); err != nil {
			return err
		}
	}
	return c.session.SendSystemSignal(codec.SignalGoalReached)
}

// NotifyWarning plays a warning. A critical warning uses the strong belt
// system signal, otherwise a light double pulse on the front vibromotor.
func (c *Controller) NotifyWarning(critical bool) error {
	if critical {
		return c.session.SendSystemSignal(codec.SignalWarning)
	}
	return c.session.ConfigureVibrationChannel(codec.VibrationChannelConfig{
		Channel:         notificationChannel,
		Pattern:         codec.PatternDoubleShort,
		Intensity:       warningIntensity,
		OrientationType: codec.VibromotorIndex,
		Orientation:     0,
		Iterations:      1,
		Period:          warningPeriod,
	})
}

// NotifyDirection plays a single direction pulse without interrupting the
// navigation signal.
func (c *Controller) NotifyDirection(direction int, isBearing bool) error {
	req := codec.NewSignalRequest(codec.SignalDirectionNotification, direction, isBearing)
	req.Channel = notificationChannel
	return c.session.StartSignal(req)
}

// NotifyBeltBatteryLevel plays the battery level signal.
func (c *Controller) NotifyBeltBatteryLevel() error {
	return c.session.SendSystemSignal(codec.SignalBattery)
}

// ChangeDefaultIntensity sets the belt default intensity.
func (c *Controller) ChangeDefaultIntensity(intensity int, feedback bool) error {
	return c.session.ChangeDefaultIntensity(intensity, feedback)
}

// SetCompassAccuracySignal enables or disables the inaccurate-compass
// vibration.
func (c *Controller) SetCompassAccuracySignal(enable, persistent bool) error {
	return c.session.ChangeCompassAccuracySignalState(enable, persistent)
}

func checkKind(kind codec.SignalKind) error {
	if !kind.IsRepeated() {
		return fmt.Errorf("%w: %s", ErrNotRepeated, kind)
	}
	return nil
}

// sendSignal sends the current signal. It runs through the debouncer, so
// the conditions are checked again when a deferred send fires.
func (c *Controller) sendSignal() {
	c.mu.Lock()
	sig, ok := c.signal, c.hasSignal && c.state == Navigating && !c.closed
	c.mu.Unlock()

	if !ok || !c.session.Connected() || c.session.Mode() != codec.ModeApp {
		return
	}
	if err := c.session.StartSignal(sig.request()); err != nil {
		c.logger.WithError(err).Warn("Failed to send navigation signal")
		return
	}
	c.logger.WithFields(logrus.Fields{
		"signal":    sig.Kind,
		"direction": sig.Direction,
	}).Debug("Navigation signal sent")
}

func (c *Controller) setStateLocked(s State) []Event {
	if c.state == s {
		return nil
	}
	c.logger.WithFields(logrus.Fields{
		"previous": c.state,
		"state":    s,
	}).Info("Navigation state changed")
	c.state = s
	return []Event{StateChanged{State: s}}
}

func (c *Controller) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, ev := range events {
		c.events.Send(ev)
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

func (c *Controller) onConnectionEvent(ev connection.Event) {
	c.emit([]Event{ConnectionChanged{Previous: ev.Previous, State: ev.State, Err: ev.Err}})

	switch ev.State {
	case connection.Connected:
		c.onConnected()
	case connection.NotConnected:
		c.debounce.Cancel()
	}
}

// onConnected starts orientation updates and brings the belt mode in line
// with the navigation state.
func (c *Controller) onConnected() {
	if err := c.session.StartOrientationNotifications(c.opts.orientationFilter()); err != nil {
		c.logger.WithError(err).Warn("Failed to start orientation notifications")
	}
	if err := c.session.RequestCompassAccuracySignalState(); err != nil {
		c.logger.WithError(err).Debug("Compass accuracy signal state unavailable")
	}

	c.mu.Lock()
	st := c.state
	c.mu.Unlock()

	var err error
	mode := c.session.Mode()
	switch {
	case st == Navigating && mode == codec.ModeApp:
		c.debounce.Submit(c.sendSignal)
	case st == Navigating:
		err = c.session.ChangeMode(codec.ModeApp)
	case st == Paused && mode == codec.ModeApp:
		err = c.session.ChangeMode(codec.ModePause)
	}
	if err != nil {
		c.logger.WithError(err).Warn("Failed to synchronize belt mode")
	}
}

func (c *Controller) onBeltEvent(ev session.Event) {
	switch e := ev.(type) {
	case session.ModeChanged:
		c.onBeltMode(e.Mode)
	case session.ButtonPressed:
		c.onButton(e.Press)
	case session.OrientationChanged:
		c.emit([]Event{OrientationUpdated{Heading: e.Orientation.Heading, Accurate: !e.Orientation.Inaccurate}})
	case session.BatteryChanged:
		c.emit([]Event{BatteryUpdated{Level: int(math.Round(e.Status.Level)), PowerStatus: e.Status.PowerStatus}})
	case session.IntensityChanged:
		c.emit([]Event{IntensityChanged{Intensity: e.Intensity}})
	case session.AccuracySignalChanged:
		c.emit([]Event{AccuracySignalChanged{Enabled: e.Enabled}})
	}
}

// onBeltMode maps a belt mode change to the navigation state: app mode
// resumes a paused navigation, any other mode pauses a running one.
func (c *Controller) onBeltMode(m codec.Mode) {
	if m == codec.ModeUnknown {
		return
	}

	c.mu.Lock()
	var (
		events []Event
		send   bool
	)
	switch {
	case m == codec.ModeApp && c.state == Paused && c.hasSignal:
		events = c.setStateLocked(Navigating)
		send = true
	case m == codec.ModeApp && c.state == Navigating:
		send = true
	case m != codec.ModeApp && c.state == Navigating:
		events = c.setStateLocked(Paused)
	}
	c.mu.Unlock()

	c.emit(events)
	if send {
		c.debounce.Submit(c.sendSignal)
	} else if len(events) > 0 {
		c.debounce.Cancel()
	}
}

func (c *Controller) onButton(p codec.ButtonPress) {
	var err error
	switch p.Button {
	case codec.ButtonPause:
		// The belt leaves the mode untouched when it expects the host to
		// toggle.
		switch {
		case p.PreviousMode == codec.ModePause && p.NewMode == codec.ModePause:
			err = c.session.ChangeMode(codec.ModeApp)
		case p.PreviousMode == codec.ModeApp && p.NewMode == codec.ModeApp:
			err = c.session.ChangeMode(codec.ModePause)
		}
	case codec.ButtonHome:
		c.mu.Lock()
		st := c.state
		c.mu.Unlock()
		if st == Paused {
			err = c.ResumeNavigation()
		} else {
			c.emit([]Event{HomeRequested{Navigating: st == Navigating}})
		}
	}
	if err != nil {
		c.logger.WithError(err).WithField("button", p.Button).Warn("Failed to handle button press")
	}

	if p.PreviousMode != p.NewMode {
		c.onBeltMode(p.NewMode)
	}
}
