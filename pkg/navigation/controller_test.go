//go:build test

package navigation_test

import (
	"sync"
	"testing"
	"time"

	"github.com/srg/beltctl/internal/link/linktest"
	"github.com/srg/beltctl/internal/testutils"
	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/connection"
	"github.com/srg/beltctl/pkg/link"
	"github.com/srg/beltctl/pkg/linkop"
	"github.com/srg/beltctl/pkg/navigation"
	"github.com/srg/beltctl/pkg/session"
	"github.com/stretchr/testify/suite"
)

const updatePeriod = 100 * time.Millisecond

type eventLog struct {
	mu     sync.Mutex
	events []navigation.Event
}

func (l *eventLog) add(ev navigation.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []navigation.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]navigation.Event(nil), l.events...)
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// states returns the StateChanged events in order.
func (l *eventLog) states() []navigation.State {
	var out []navigation.State
	for _, ev := range l.all() {
		if sc, ok := ev.(navigation.StateChanged); ok {
			out = append(out, sc.State)
		}
	}
	return out
}

func ofType[T navigation.Event](l *eventLog) []T {
	var out []T
	for _, ev := range l.all() {
		if e, ok := ev.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

type ControllerTestSuite struct {
	testutils.MockBeltSuite

	manager    *connection.Manager
	controller *navigation.Controller
	log        *eventLog

	link  *linktest.Link
	acked int
}

func (suite *ControllerTestSuite) SetupTest() {
	suite.MockBeltSuite.SetupTest()

	queue := linkop.NewQueue(suite.Logger, linkop.WithClock(suite.Clock), linkop.WithDefaultTimeout(time.Hour))
	sess := session.New(suite.Logger, session.WithClock(suite.Clock), session.WithQueue(queue))
	suite.manager = connection.NewManager(suite.Transport, nil, suite.Logger,
		connection.WithClock(suite.Clock),
		connection.WithSession(sess),
	)
	suite.controller = navigation.NewController(suite.manager, suite.Logger,
		navigation.WithClock(suite.Clock),
		navigation.WithMinUpdatePeriod(updatePeriod),
	)
	suite.log = &eventLog{}
	suite.controller.Subscribe(suite.log.add)
	suite.link = nil
	suite.acked = 0
}

func (suite *ControllerTestSuite) TearDownTest() {
	suite.controller.Close()
	suite.manager.Close()
}

// connect brings the default belt up in mode and answers the requests the
// controller sends on connect.
func (suite *ControllerTestSuite) connect(mode codec.Mode) {
	suite.Require().NoError(suite.manager.ConnectByID(testutils.BeltID))
	suite.WaitFor(func() bool {
		l := suite.Link()
		if l == nil {
			return false
		}
		c, ok := l.LastCall()
		return ok && c.Kind == linktest.CallDiscoverServices
	}, "manager MUST start discovery")

	suite.link = suite.Link()
	testutils.CompleteSetup(suite.link, mode)
	suite.acked = testutils.SetupEnd(suite.link.Calls())
	suite.WaitFor(func() bool {
		return suite.controller.ConnectionState() == connection.Connected && suite.lastCallIs(link.OrientationChar)
	}, "controller MUST subscribe to orientation once connected")

	suite.flush()
	suite.link.Notify(link.ParamNotifyChar, []byte{0x01, byte(codec.ParamCompassAccuracySignal), 0x01})
	suite.flush()
}

func (suite *ControllerTestSuite) lastCallIs(char link.CharID) bool {
	c, ok := suite.link.LastCall()
	return ok && c.Char == char
}

// flush acknowledges, in order, every write and subscription not
// acknowledged yet.
func (suite *ControllerTestSuite) flush() {
	for {
		calls := suite.link.Calls()
		if suite.acked >= len(calls) {
			return
		}
		c := calls[suite.acked]
		suite.acked++
		switch c.Kind {
		case linktest.CallWrite:
			suite.link.AckWrite(c.Char, nil)
		case linktest.CallSetNotify:
			suite.link.AckNotify(c.Char, nil)
		}
	}
}

func (suite *ControllerTestSuite) beltReportsMode(m codec.Mode) {
	suite.link.Notify(link.ParamNotifyChar, []byte{0x01, byte(codec.ParamMode), byte(m)})
	suite.flush()
}

func (suite *ControllerTestSuite) pressButton(b codec.Button, previous, next codec.Mode) {
	suite.link.Notify(link.ButtonPressChar, []byte{byte(b), 0x00, 0x00, byte(previous), byte(next)})
	suite.flush()
}

func (suite *ControllerTestSuite) lastWrite(char link.CharID) []byte {
	writes := suite.link.Writes(char)
	if len(writes) == 0 {
		return nil
	}
	return writes[len(writes)-1]
}

func (suite *ControllerTestSuite) signalPacket(kind codec.SignalKind, direction int) []byte {
	cfg, err := codec.SignalConfig(codec.NewSignalRequest(kind, direction, true))
	suite.Require().NoError(err)
	packet, err := codec.EncodeVibrationChannel(cfg)
	suite.Require().NoError(err)
	return packet
}

func (suite *ControllerTestSuite) TestRejectsOneShotSignals() {
	for _, kind := range []codec.SignalKind{codec.SignalDestinationReachedSingle, codec.SignalDirectionNotification} {
		suite.ErrorIs(suite.controller.StartNavigation(90, true, kind), navigation.ErrNotRepeated,
			"%s MUST be rejected", kind)
		suite.ErrorIs(suite.controller.UpdateNavigationSignal(90, true, kind), navigation.ErrNotRepeated)
	}
	suite.Equal(navigation.Stopped, suite.controller.State())
	_, ok := suite.controller.Signal()
	suite.False(ok, "rejected signal MUST not be stored")
}

func (suite *ControllerTestSuite) TestStatesWithoutBelt() {
	// GOAL: Verify the navigation state machine works without a connected belt
	//
	// TEST SCENARIO: start → pause → resume → stop, no belt → every transition reported, nothing written

	c := suite.controller
	suite.Require().NoError(c.StartNavigation(45, true, codec.SignalNavigation))
	suite.Require().NoError(c.PauseNavigation())
	suite.Require().NoError(c.ResumeNavigation())
	suite.Require().NoError(c.StopNavigation())

	suite.Equal([]navigation.State{
		navigation.Navigating,
		navigation.Paused,
		navigation.Navigating,
		navigation.Stopped,
	}, suite.log.states())

	suite.NoError(c.PauseNavigation(), "pausing a stopped navigation MUST be a no-op")
	suite.Equal(navigation.Stopped, c.State())
	suite.Empty(suite.Transport.Dials())
}

func (suite *ControllerTestSuite) TestStartSwitchesBeltToAppMode() {
	// GOAL: Verify starting the navigation switches the belt to app mode before vibrating
	//
	// TEST SCENARIO: belt in wait mode → start → set-mode app written, no vibration → belt confirms app → navigation signal sent

	suite.connect(codec.ModeWait)
	suite.Require().NoError(suite.controller.StartNavigation(90, true, codec.SignalNavigation))
	suite.flush()

	suite.Equal(codec.EncodeSetMode(codec.ModeApp), suite.lastWrite(link.ParamRequestChar), "belt MUST be switched to app mode")
	suite.Empty(suite.link.Writes(link.VibrationChar), "signal MUST wait for the belt to confirm app mode")

	suite.beltReportsMode(codec.ModeApp)
	suite.Equal([][]byte{suite.signalPacket(codec.SignalNavigation, 90)}, suite.link.Writes(link.VibrationChar))
	suite.Equal(navigation.Navigating, suite.controller.State())
}

func (suite *ControllerTestSuite) TestUpdatesAreRateLimited() {
	// GOAL: Verify updates faster than the period collapse into one deferred send of the latest signal
	//
	// TEST SCENARIO: navigating in app mode → three updates at once → only the first is sent → period elapses → last update is sent

	suite.connect(codec.ModeApp)
	c := suite.controller
	suite.Require().NoError(c.StartNavigation(90, true, codec.SignalNavigation))
	suite.flush()
	suite.Require().Len(suite.link.Writes(link.VibrationChar), 1, "first signal MUST be sent immediately")

	suite.Require().NoError(c.UpdateNavigationSignal(100, true, codec.SignalNavigation))
	suite.Require().NoError(c.UpdateNavigationSignal(110, true, codec.SignalNavigation))
	suite.Require().NoError(c.UpdateNavigationSignal(120, true, codec.SignalApproachingDestination))
	suite.flush()
	suite.Len(suite.link.Writes(link.VibrationChar), 1, "updates inside the period MUST be deferred")

	suite.Clock.Advance(updatePeriod)
	suite.flush()
	suite.Equal([][]byte{
		suite.signalPacket(codec.SignalNavigation, 90),
		suite.signalPacket(codec.SignalApproachingDestination, 120),
	}, suite.link.Writes(link.VibrationChar), "deferred send MUST carry the last update only")

	suite.Clock.Advance(2 * updatePeriod)
	suite.Require().NoError(c.UpdateNavigationSignal(130, true, codec.SignalNavigation))
	suite.flush()
	suite.Len(suite.link.Writes(link.VibrationChar), 3, "update after a quiet period MUST be sent immediately")
}

func (suite *ControllerTestSuite) TestPauseAndStopDriveBeltMode() {
	suite.connect(codec.ModeApp)
	c := suite.controller
	suite.Require().NoError(c.StartNavigation(90, true, codec.SignalNavigation))
	suite.flush()

	suite.Require().NoError(c.PauseNavigation())
	suite.flush()
	suite.Equal(navigation.Paused, c.State())
	suite.Equal(codec.EncodeSetMode(codec.ModePause), suite.lastWrite(link.ParamRequestChar))

	suite.beltReportsMode(codec.ModePause)
	suite.Equal(navigation.Paused, c.State(), "belt confirmation MUST keep the paused state")

	suite.Require().NoError(c.StopNavigation())
	suite.flush()
	suite.Equal(navigation.Stopped, c.State())
	suite.Equal(codec.EncodeSetMode(codec.ModeWait), suite.lastWrite(link.ParamRequestChar), "stop MUST send the belt to wait mode")
	_, ok := c.Signal()
	suite.False(ok, "stop MUST clear the signal")
}

func (suite *ControllerTestSuite) TestBeltModeChangesMapToState() {
	// GOAL: Verify belt mode changes made on the belt pause and resume the navigation
	//
	// TEST SCENARIO: navigating → belt switches to compass → paused → belt back to app → navigating and signal resent

	suite.connect(codec.ModeApp)
	c := suite.controller
	suite.Require().NoError(c.StartNavigation(90, true, codec.SignalNavigation))
	suite.flush()

	suite.beltReportsMode(codec.ModeCompass)
	suite.Equal(navigation.Paused, c.State(), "leaving app mode MUST pause the navigation")

	suite.beltReportsMode(codec.ModeApp)
	suite.Equal(navigation.Navigating, c.State(), "app mode MUST resume the navigation")

	suite.Clock.Advance(updatePeriod)
	suite.flush()
	suite.Len(suite.link.Writes(link.VibrationChar), 2, "resumed navigation MUST resend the signal")
	suite.Equal([]navigation.State{navigation.Navigating, navigation.Paused, navigation.Navigating}, suite.log.states())
}

func (suite *ControllerTestSuite) TestPauseButtonToggles() {
	suite.connect(codec.ModeApp)
	suite.Require().NoError(suite.controller.StartNavigation(90, true, codec.SignalNavigation))
	suite.flush()

	suite.pressButton(codec.ButtonPause, codec.ModeApp, codec.ModeApp)
	suite.Equal(codec.EncodeSetMode(codec.ModePause), suite.lastWrite(link.ParamRequestChar), "pause button in app mode MUST request pause")

	suite.pressButton(codec.ButtonPause, codec.ModePause, codec.ModePause)
	suite.Equal(codec.EncodeSetMode(codec.ModeApp), suite.lastWrite(link.ParamRequestChar), "pause button in pause mode MUST request app")
}

func (suite *ControllerTestSuite) TestHomeButton() {
	// GOAL: Verify the home button resumes a paused navigation and is reported otherwise
	//
	// TEST SCENARIO: stopped → home reported → navigating → home reported → paused → home resumes

	suite.connect(codec.ModeWait)
	c := suite.controller

	suite.pressButton(codec.ButtonHome, codec.ModeWait, codec.ModeWait)
	suite.Equal([]navigation.HomeRequested{{Navigating: false}}, ofType[navigation.HomeRequested](suite.log))

	suite.Require().NoError(c.StartNavigation(90, true, codec.SignalNavigation))
	suite.flush()
	suite.beltReportsMode(codec.ModeApp)
	suite.pressButton(codec.ButtonHome, codec.ModeApp, codec.ModeApp)
	suite.Equal([]navigation.HomeRequested{{Navigating: false}, {Navigating: true}}, ofType[navigation.HomeRequested](suite.log))

	suite.Require().NoError(c.PauseNavigation())
	suite.flush()
	suite.beltReportsMode(codec.ModePause)
	suite.pressButton(codec.ButtonHome, codec.ModePause, codec.ModePause)
	suite.Equal(navigation.Navigating, c.State(), "home MUST resume a paused navigation")
	suite.Equal(codec.EncodeSetMode(codec.ModeApp), suite.lastWrite(link.ParamRequestChar))
	suite.Len(ofType[navigation.HomeRequested](suite.log), 2, "resuming MUST not be reported as a home request")
}

func (suite *ControllerTestSuite) TestForwardsBeltNotifications() {
	suite.connect(codec.ModeWait)

	suite.Equal([]navigation.AccuracySignalChanged{{Enabled: true}}, ofType[navigation.AccuracySignalChanged](suite.log),
		"accuracy signal state MUST be requested on connect")

	orientation := make([]byte, 16)
	orientation[0] = codec.OrientationFusionTag
	orientation[1] = 0x5A // 90°
	orientation[15] = 0x01
	suite.link.Notify(link.OrientationChar, orientation)
	suite.link.Notify(link.BatteryStatusChar, []byte{byte(codec.PowerCharging), 0x00, 0x50, 0x00, 0x00})
	suite.link.Notify(link.ParamNotifyChar, []byte{0x01, byte(codec.ParamIntensity), 70})

	suite.Equal([]navigation.OrientationUpdated{{Heading: 90, Accurate: false}}, ofType[navigation.OrientationUpdated](suite.log))
	suite.Equal([]navigation.BatteryUpdated{{Level: 80, PowerStatus: codec.PowerCharging}}, ofType[navigation.BatteryUpdated](suite.log))
	suite.Equal([]navigation.IntensityChanged{{Intensity: 70}}, ofType[navigation.IntensityChanged](suite.log))
}

func (suite *ControllerTestSuite) TestOrientationFilterOnConnect() {
	suite.connect(codec.ModeWait)

	st := suite.manager.Session().State()
	suite.True(st.OrientationNotifications, "orientation notifications MUST be started on connect")

	packet := func(heading int) []byte {
		p := make([]byte, 16)
		p[0] = codec.OrientationFusionTag
		p[1] = byte(heading)
		return p
	}
	suite.link.Notify(link.OrientationChar, packet(10))
	suite.link.Notify(link.OrientationChar, packet(40))
	suite.Clock.Advance(2 * time.Second)
	suite.link.Notify(link.OrientationChar, packet(15))
	suite.link.Notify(link.OrientationChar, packet(60))

	suite.Equal([]navigation.OrientationUpdated{
		{Heading: 10, Accurate: true},
		{Heading: 60, Accurate: true},
	}, ofType[navigation.OrientationUpdated](suite.log), "updates MUST be filtered by period and heading variation")
}

func (suite *ControllerTestSuite) TestConnectionEvents() {
	suite.connect(codec.ModeWait)
	changes := ofType[navigation.ConnectionChanged](suite.log)
	suite.Require().NotEmpty(changes)
	suite.Equal(connection.Connected, changes[len(changes)-1].State)

	suite.log.reset()
	suite.controller.Disconnect()
	suite.WaitFor(func() bool {
		changes := ofType[navigation.ConnectionChanged](suite.log)
		return len(changes) > 0 && changes[len(changes)-1].State == connection.NotConnected
	}, "disconnect MUST be reported")
	last := ofType[navigation.ConnectionChanged](suite.log)
	suite.Nil(last[len(last)-1].Err, "explicit disconnect MUST not carry an error")
}

func (suite *ControllerTestSuite) TestNotifications() {
	c := suite.controller
	suite.ErrorIs(c.NotifyWarning(true), session.ErrNotConnected, "notifications MUST need a connected belt")
	suite.ErrorIs(c.NotifyBeltBatteryLevel(), session.ErrNotConnected)

	suite.connect(codec.ModeApp)
	suite.Require().NoError(c.StartNavigation(90, true, codec.SignalNavigation))
	suite.flush()

	suite.Require().NoError(c.NotifyWarning(true))
	suite.flush()
	suite.Equal(codec.EncodeSystemSignal(codec.SignalWarning), suite.lastWrite(link.VibrationChar))

	suite.Require().NoError(c.NotifyWarning(false))
	suite.flush()
	suite.Len(suite.lastWrite(link.VibrationChar), 18, "light warning MUST be a channel configuration")

	suite.Require().NoError(c.NotifyDirection(180, true))
	suite.flush()
	req := codec.NewSignalRequest(codec.SignalDirectionNotification, 180, true)
	req.Channel = 2
	req.ClearOthers = false
	cfg, err := codec.SignalConfig(req)
	suite.Require().NoError(err)
	want, err := codec.EncodeVibrationChannel(cfg)
	suite.Require().NoError(err)
	suite.Equal(want, suite.lastWrite(link.VibrationChar), "direction pulse MUST not clear the navigation channel")

	suite.Require().NoError(c.NotifyBeltBatteryLevel())
	suite.flush()
	suite.Equal(codec.EncodeSystemSignal(codec.SignalBattery), suite.lastWrite(link.VibrationChar))

	suite.Require().NoError(c.NotifyDestinationReached(true))
	suite.flush()
	suite.Equal(navigation.Stopped, c.State(), "destination reached with stop MUST stop the navigation")
	suite.Equal(codec.EncodeSetMode(codec.ModeWait), suite.lastWrite(link.ParamRequestChar))
	suite.Equal(codec.EncodeSystemSignal(codec.SignalGoalReached), suite.lastWrite(link.VibrationChar))
}

func (suite *ControllerTestSuite) TestSettingsPassThrough() {
	suite.connect(codec.ModeWait)
	c := suite.controller

	suite.Require().NoError(c.ChangeDefaultIntensity(60, true))
	suite.flush()
	suite.Equal(codec.EncodeSetIntensity(60, true), suite.lastWrite(link.ParamRequestChar))

	suite.Require().NoError(c.SetCompassAccuracySignal(false, true))
	suite.flush()
	suite.Equal(codec.EncodeSetCompassAccuracySignal(false, true), suite.lastWrite(link.ParamRequestChar))

	var verr *session.ValidationError
	suite.ErrorAs(c.ChangeDefaultIntensity(101, false), &verr)
}

func TestControllerTestSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}
