//go:build test

//go:generate go run github.com/srgg/testify/depend/cmd/dependgen SessionTestSuite

package session_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/beltctl/internal/link/linktest"
	"github.com/srg/beltctl/internal/testutils"
	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/link"
	"github.com/srg/beltctl/pkg/linkop"
	"github.com/srg/beltctl/pkg/session"
	"github.com/srgg/testify/depend"
)

var notified = []link.CharID{
	link.KeepAliveChar,
	link.ButtonPressChar,
	link.ParamNotifyChar,
	link.BatteryStatusChar,
	link.DebugOutputChar,
}

// recorder collects hook calls and dispatched events.
type recorder struct {
	mu         sync.Mutex
	discovered int
	finished   []error
	events     []session.Event
}

func (r *recorder) hooks() session.Hooks {
	return session.Hooks{
		ServicesDiscovered: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.discovered++
		},
		HandshakeFinished: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.finished = append(r.finished, err)
		},
	}
}

func (r *recorder) onEvent(ev session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) finishedCalls() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.finished...)
}

func (r *recorder) eventsOf(name string) []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []session.Event
	for _, ev := range r.events {
		if session.EventName(ev) == name {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type SessionTestSuite struct {
	testutils.MockBeltSuite

	session *session.Session
	link    *linktest.Link
	rec     *recorder
}

func (suite *SessionTestSuite) SetupTest() {
	suite.MockBeltSuite.SetupTest()
	suite.rec = &recorder{}
	suite.session = session.New(suite.Logger, session.WithClock(suite.Clock))
	suite.session.Subscribe(suite.rec.onEvent)
	suite.link = linktest.NewLink(testutils.BeltID)
	suite.link.SetHandler(suite.bind(suite.link))
}

// bind returns a session handler bound to l.
func (suite *SessionTestSuite) bind(l *linktest.Link) link.Handler {
	h := suite.session.Handler()
	h.Bind(l)
	return h
}

func (suite *SessionTestSuite) TearDownTest() {
	suite.session.Close()
}

// discover attaches the link and answers service and characteristic
// discovery with the full belt layout.
func (suite *SessionTestSuite) discover() {
	suite.session.Attach(suite.link, suite.rec.hooks())
	suite.Require().NoError(suite.session.StartDiscovery())

	suite.link.DiscoveredServices(link.BeltServices(), nil)
	for _, svc := range link.BeltServices() {
		suite.link.DiscoveredCharacteristics(svc, link.ServiceCharacteristics[svc], nil)
	}
}

// subscribe acknowledges the five required subscriptions in order.
func (suite *SessionTestSuite) subscribe() {
	for _, c := range notified {
		suite.link.AckNotify(c, nil)
	}
}

// answerParam acknowledges the running parameter request and notifies value.
func (suite *SessionTestSuite) answerParam(value ...byte) {
	suite.link.AckWrite(link.ParamRequestChar, nil)
	suite.link.Notify(link.ParamNotifyChar, value)
}

// connect drives the link through discovery and the complete handshake.
func (suite *SessionTestSuite) connect() {
	suite.discover()
	suite.subscribe()

	suite.link.Notify(link.FirmwareInfoChar, []byte{42})
	suite.link.Notify(link.BatteryStatusChar, []byte{0x01, 0x00, 0x40, 0x00, 0x00})
	suite.answerParam(0x01, 0x02, 50)
	suite.answerParam(0x01, 0x01, byte(codec.ModeApp))
	suite.answerParam(0x01, 0x03, 0x0A, 0x00)

	suite.Require().True(suite.session.Connected(), "session MUST be connected after the handshake")
	suite.Require().True(suite.session.Queue().IsIdle(), "handshake MUST leave the queue idle")
	suite.link.Reset()
	suite.rec.reset()
}

func (suite *SessionTestSuite) TestHandshakeCompletes() {
	// GOAL: Verify discovery, subscriptions and the handshake reads bring the session to connected
	//
	// TEST SCENARIO: Full discovery → five subscriptions acked → reads answered → HandshakeFinished(nil) once

	suite.discover()

	var subs []link.CharID
	suite.subscribe()
	for _, c := range suite.link.Calls() {
		if c.Kind == linktest.CallSetNotify {
			subs = append(subs, c.Char)
		}
	}
	suite.Equal(notified, subs, "required subscriptions MUST be requested in order")
	suite.Equal(1, suite.rec.discovered, "ServicesDiscovered MUST be reported once")
	suite.Equal(session.PhaseHandshake, suite.session.Phase())

	suite.link.Notify(link.FirmwareInfoChar, []byte{42})
	suite.link.Notify(link.BatteryStatusChar, []byte{0x01, 0x00, 0x40, 0x00, 0x00})
	suite.answerParam(0x01, 0x02, 50)
	suite.Empty(suite.rec.finishedCalls(), "handshake MUST wait for the belt mode")
	suite.answerParam(0x01, 0x01, byte(codec.ModeApp))

	suite.Equal([]error{nil}, suite.rec.finishedCalls(), "HandshakeFinished MUST be called once with nil")
	suite.Equal(session.PhaseConnected, suite.session.Phase())

	suite.answerParam(0x01, 0x03, 0x0A, 0x00)
	suite.True(suite.session.Queue().IsIdle())

	st := suite.session.State()
	suite.Equal(codec.ModeApp, st.Mode)
	suite.Equal(50, st.DefaultIntensity)
	suite.Equal(42, st.FirmwareVersion)
	suite.Equal(64.0, st.Battery.Level)
	suite.Require().NotNil(st.HeadingOffset)
	suite.Equal(10, *st.HeadingOffset)
	suite.Len(suite.rec.eventsOf("firmware_version"), 1)
	suite.Len(suite.rec.finishedCalls(), 1, "later notifications MUST NOT finish the handshake again")

	suite.Equal([][]byte{
		{0x01, 0x02}, {0x01, 0x01}, {0x01, 0x03},
	}, suite.link.Writes(link.ParamRequestChar), "handshake requests MUST be intensity, mode, heading offset")
}

func (suite *SessionTestSuite) TestHandshakeGatingIgnoresOrder() {
	// GOAL: Verify the handshake completes only once both mode and intensity are known, whatever comes first
	//
	// TEST SCENARIO: Keep-alive delivers the mode before the reads → not finished → intensity arrives → finished

	suite.discover()
	suite.subscribe()

	suite.link.Notify(link.KeepAliveChar, []byte{0x01, byte(codec.ModeCompass)})
	suite.Equal(codec.ModeCompass, suite.session.Mode(), "keep-alive MUST update the mode")
	suite.Empty(suite.rec.finishedCalls(), "mode alone MUST NOT finish the handshake")

	suite.link.Notify(link.ParamNotifyChar, []byte{0x01, 0x02, 80})

	suite.Equal([]error{nil}, suite.rec.finishedCalls())
	suite.True(suite.session.Connected())
}

func (suite *SessionTestSuite) TestDiscoveryFailures() {
	suite.Run("service discovery error", func() {
		suite.SetupTest()
		suite.session.Attach(suite.link, suite.rec.hooks())
		suite.Require().NoError(suite.session.StartDiscovery())

		suite.link.DiscoveredServices(nil, errors.New("gatt error"))

		calls := suite.rec.finishedCalls()
		suite.Require().Len(calls, 1)
		var setupErr *session.SetupError
		suite.Require().ErrorAs(calls[0], &setupErr)
		suite.Equal(session.StageDiscovery, setupErr.Stage)
	})

	suite.Run("missing service", func() {
		suite.SetupTest()
		suite.session.Attach(suite.link, suite.rec.hooks())
		suite.Require().NoError(suite.session.StartDiscovery())

		suite.link.DiscoveredServices([]link.ServiceID{link.ControlService, link.SensorService}, nil)

		calls := suite.rec.finishedCalls()
		suite.Require().Len(calls, 1)
		var notFound *link.NotFoundError
		suite.Require().ErrorAs(calls[0], &notFound, "missing service MUST be reported as NotFoundError")
		suite.Equal([]string{string(link.DebugService)}, notFound.UUIDs)
	})

	suite.Run("service without characteristics", func() {
		suite.SetupTest()
		suite.session.Attach(suite.link, suite.rec.hooks())
		suite.Require().NoError(suite.session.StartDiscovery())
		suite.link.DiscoveredServices(link.BeltServices(), nil)

		suite.link.DiscoveredCharacteristics(link.SensorService, nil, nil)
		suite.link.DiscoveredCharacteristics(link.DebugService, nil, nil)

		suite.Len(suite.rec.finishedCalls(), 1, "setup failure MUST be reported once")
	})

	suite.Run("rejected discovery request", func() {
		suite.SetupTest()
		suite.session.Attach(suite.link, suite.rec.hooks())
		suite.link.Reject(linktest.CallDiscoverServices, true)

		var setupErr *session.SetupError
		suite.ErrorAs(suite.session.StartDiscovery(), &setupErr)
	})
}

func (suite *SessionTestSuite) TestHandshakeFailures() {
	suite.Run("subscription error", func() {
		suite.SetupTest()
		suite.discover()

		suite.link.AckNotify(link.KeepAliveChar, nil)
		suite.link.AckNotify(link.ButtonPressChar, errors.New("insufficient authentication"))

		calls := suite.rec.finishedCalls()
		suite.Require().Len(calls, 1)
		var setupErr *session.SetupError
		suite.Require().ErrorAs(calls[0], &setupErr)
		suite.Equal(session.StageHandshake, setupErr.Stage)
		suite.Zero(suite.rec.discovered, "ServicesDiscovered MUST NOT be reported")
	})

	suite.Run("required read timeout", func() {
		suite.SetupTest()
		suite.discover()
		suite.subscribe()

		suite.Clock.Advance(linkop.DefaultTimeout)

		calls := suite.rec.finishedCalls()
		suite.Require().Len(calls, 1)
		suite.ErrorIs(calls[0], linkop.ErrTimeout, "firmware read timeout MUST fail the handshake")
	})

	suite.Run("heading offset is best effort", func() {
		suite.SetupTest()
		suite.discover()
		suite.subscribe()
		suite.link.Notify(link.FirmwareInfoChar, []byte{42})
		suite.link.Notify(link.BatteryStatusChar, []byte{0x01, 0x00, 0x40, 0x00, 0x00})
		suite.answerParam(0x01, 0x02, 50)
		suite.answerParam(0x01, 0x01, byte(codec.ModeWait))

		suite.Clock.Advance(linkop.DefaultTimeout)

		suite.Equal([]error{nil}, suite.rec.finishedCalls(), "heading offset timeout MUST NOT fail the handshake")
		suite.True(suite.session.Connected())
	})
}

// @dependsOn TestHandshakeCompletes
func (suite *SessionTestSuite) TestChangeModeEndToEnd() {
	// GOAL: Verify a mode change is written, acknowledged and confirmed by exactly one event
	//
	// TEST SCENARIO: Connected → ChangeMode(App) → write [01 81 03 00] → ack → queue idle → notify [01 01 03] → one ModeChanged

	suite.connect()
	suite.link.Notify(link.KeepAliveChar, []byte{0x01, byte(codec.ModeWait)})
	suite.link.AckWrite(link.KeepAliveChar, nil)
	suite.link.Reset()
	suite.rec.reset()

	suite.Require().NoError(suite.session.ChangeMode(codec.ModeApp))

	suite.Equal([][]byte{{0x01, 0x81, 0x03, 0x00}}, suite.link.Writes(link.ParamRequestChar))
	suite.NotNil(suite.session.Queue().Running(), "write MUST be running until acknowledged")

	suite.link.AckWrite(link.ParamRequestChar, nil)
	suite.True(suite.session.Queue().IsIdle(), "queue MUST be idle after the ack")

	suite.link.Notify(link.ParamNotifyChar, []byte{0x01, 0x01, 0x03})

	suite.Equal(codec.ModeApp, suite.session.Mode())
	suite.Equal([]session.Event{session.ModeChanged{Mode: codec.ModeApp}}, suite.rec.eventsOf("mode_changed"),
		"exactly one ModeChanged MUST be dispatched")

	suite.link.Notify(link.ParamNotifyChar, []byte{0x01, 0x01, 0x03})
	suite.Len(suite.rec.eventsOf("mode_changed"), 1, "unchanged mode MUST NOT dispatch again")
}

func (suite *SessionTestSuite) TestKeepAliveAckHasPriority() {
	// GOAL: Verify the keep-alive answer jumps ahead of pending requests
	//
	// TEST SCENARIO: Vibration write running, stop pending → keep-alive → after the running ack the [00] answer is written next

	suite.connect()

	suite.Require().NoError(suite.session.VibrateAtAngle(90, 50, 1, true))
	suite.Require().NoError(suite.session.StopVibration(-1))
	suite.link.Notify(link.KeepAliveChar, []byte{0x01, byte(codec.ModeApp)})

	suite.link.AckWrite(link.VibrationChar, nil)

	last, ok := suite.link.LastCall()
	suite.Require().True(ok)
	suite.Equal(linktest.Call{Kind: linktest.CallWrite, Char: link.KeepAliveChar, Value: []byte{0x00}}, last,
		"keep-alive answer MUST be written before the pending stop")

	suite.link.AckWrite(link.KeepAliveChar, nil)
	last, _ = suite.link.LastCall()
	suite.Equal([]byte{0x30, 0xFF}, last.Value, "stop MUST follow the keep-alive answer")
}

func (suite *SessionTestSuite) TestOrientationFilter() {
	// GOAL: Verify orientation events are filtered against the last dispatched update while state follows every update
	//
	// TEST SCENARIO: Filter 2s/11° → 0° at t0, 5° at 0.2s, 12° at 0.5s, 12° at 3s → events for 0° and the 3s update only

	suite.connect()
	suite.Require().NoError(suite.session.StartOrientationNotifications(session.OrientationFilter{
		MinPeriod:           2 * time.Second,
		MinHeadingVariation: 11,
	}))
	suite.link.AckNotify(link.OrientationChar, nil)

	orientation := func(heading uint16) []byte {
		p := make([]byte, 16)
		p[0] = codec.OrientationFusionTag
		p[1], p[2] = byte(heading), byte(heading>>8)
		return p
	}

	suite.link.Notify(link.OrientationChar, orientation(0))
	suite.Clock.Advance(200 * time.Millisecond)
	suite.link.Notify(link.OrientationChar, orientation(5))
	suite.Equal(5, suite.session.State().Orientation.Heading, "state MUST follow filtered updates")
	suite.Clock.Advance(300 * time.Millisecond)
	suite.link.Notify(link.OrientationChar, orientation(12))
	suite.Clock.Advance(2500 * time.Millisecond)
	suite.link.Notify(link.OrientationChar, orientation(12))

	var headings []int
	for _, ev := range suite.rec.eventsOf("orientation_changed") {
		headings = append(headings, ev.(session.OrientationChanged).Orientation.Heading)
	}
	suite.Equal([]int{0, 12}, headings)
	suite.True(suite.session.State().OrientationNotifications)
}

func (suite *SessionTestSuite) TestMalformedOrientationIgnored() {
	// GOAL: Verify a short orientation packet changes nothing
	//
	// TEST SCENARIO: Valid update → 3-byte packet → no event, previous orientation kept

	suite.connect()
	suite.Require().NoError(suite.session.StartOrientationNotifications(session.OrientationFilter{}))
	suite.link.AckNotify(link.OrientationChar, nil)

	valid := make([]byte, 16)
	valid[0], valid[1] = codec.OrientationFusionTag, 90
	suite.link.Notify(link.OrientationChar, valid)
	suite.rec.reset()

	suite.NotPanics(func() {
		suite.link.Notify(link.OrientationChar, []byte{0x02, 0x10, 0x00})
	})

	suite.Empty(suite.rec.eventsOf("orientation_changed"), "malformed packet MUST NOT dispatch")
	suite.Require().NotNil(suite.session.State().Orientation)
	suite.Equal(90, suite.session.State().Orientation.Heading, "malformed packet MUST leave the state unchanged")
}

func (suite *SessionTestSuite) TestRequestsRequireConnection() {
	suite.session.Attach(suite.link, suite.rec.hooks())

	requests := map[string]func() error{
		"ChangeMode":             func() error { return suite.session.ChangeMode(codec.ModeApp) },
		"ChangeDefaultIntensity": func() error { return suite.session.ChangeDefaultIntensity(50, false) },
		"ChangeHeadingOffset":    func() error { return suite.session.ChangeHeadingOffset(10) },
		"VibrateAtAngle":         func() error { return suite.session.VibrateAtAngle(0, 50, 1, true) },
		"VibrateAtBearing":       func() error { return suite.session.VibrateAtMagneticBearing(0, 50, 1, true) },
		"StopVibration":          func() error { return suite.session.StopVibration(-1) },
		"SendSystemSignal":       func() error { return suite.session.SendSystemSignal(codec.SignalWarning) },
		"StartOrientation":       func() error { return suite.session.StartOrientationNotifications(session.OrientationFilter{}) },
		"StopOrientation":        func() error { return suite.session.StopOrientationNotifications() },
		"AccuracySignal":         func() error { return suite.session.ChangeCompassAccuracySignalState(true, false) },
		"RequestAccuracySignal":  func() error { return suite.session.RequestCompassAccuracySignalState() },
		"ErrorLog":               func() error { return suite.session.RequestBeltErrorLog(nil) },
		"DebugData":              func() error { return suite.session.SendDebugData([]byte{0x01}) },
	}
	for name, request := range requests {
		suite.ErrorIs(request(), session.ErrNotConnected, "%s MUST be rejected before the handshake", name)
	}
	suite.Empty(suite.link.Calls(), "rejected requests MUST NOT touch the link")
	suite.True(suite.session.Queue().IsIdle())
}

// @dependsOn TestHandshakeCompletes
func (suite *SessionTestSuite) TestRequestValidation() {
	suite.connect()

	tests := []struct {
		name    string
		request func() error
		field   string
	}{
		{"unknown mode", func() error { return suite.session.ChangeMode(codec.ModeUnknown) }, "mode"},
		{"calibration mode", func() error { return suite.session.ChangeMode(codec.ModeCalibration) }, "mode"},
		{"intensity above 100", func() error { return suite.session.ChangeDefaultIntensity(101, false) }, "intensity"},
		{"negative default intensity", func() error { return suite.session.ChangeDefaultIntensity(-1, false) }, "intensity"},
		{"heading offset 360", func() error { return suite.session.ChangeHeadingOffset(360) }, "heading offset"},
		{"vibration intensity -2", func() error { return suite.session.VibrateAtAngle(0, -2, 1, true) }, "intensity"},
		{"vibration channel 6", func() error { return suite.session.VibrateAtMagneticBearing(0, 50, 6, true) }, "channel"},
		{"stop channel 7", func() error { return suite.session.StopVibration(7) }, "channel"},
		{"iterations -2", func() error {
			return suite.session.ConfigureVibrationChannel(codec.VibrationChannelConfig{Iterations: -2, Period: 500})
		}, "iterations"},
		{"iterations 256", func() error {
			return suite.session.ConfigureVibrationChannel(codec.VibrationChannelConfig{Iterations: 256, Period: 500})
		}, "iterations"},
		{"period above 65535", func() error {
			return suite.session.ConfigureVibrationChannel(codec.VibrationChannelConfig{Period: 70000})
		}, "period"},
		{"unknown system signal", func() error { return suite.session.SendSystemSignal(codec.SystemSignal(9)) }, "signal"},
		{"negative filter period", func() error {
			return suite.session.StartOrientationNotifications(session.OrientationFilter{MinPeriod: -time.Second})
		}, "min period"},
		{"unknown parameter", func() error { return suite.session.RequestParameter(codec.Param(0x42)) }, "parameter"},
		{"empty debug data", func() error { return suite.session.SendDebugData(nil) }, "data"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			err := tt.request()
			var verr *session.ValidationError
			suite.Require().ErrorAs(err, &verr, "invalid input MUST return a ValidationError")
			suite.Equal(tt.field, verr.Field)
		})
	}
	suite.Empty(suite.link.Calls(), "invalid requests MUST NOT touch the link")
}

// @dependsOn TestHandshakeCompletes
func (suite *SessionTestSuite) TestVibrationRequests() {
	suite.connect()

	suite.Run("zero intensity stops the channel", func() {
		suite.Require().NoError(suite.session.VibrateAtAngle(90, 0, 2, true))
		suite.Equal([][]byte{{0x30, 0x02}}, suite.link.Writes(link.VibrationChar))
		suite.link.AckWrite(link.VibrationChar, nil)
		suite.link.Reset()
	})

	suite.Run("bearing uses continuous pattern", func() {
		suite.Require().NoError(suite.session.VibrateAtMagneticBearing(-90, -1, 1, false))
		writes := suite.link.Writes(link.VibrationChar)
		suite.Require().Len(writes, 1)
		suite.Equal([]byte{
			0x01, byte(codec.PatternContinuous), 0xAA, 0xAA, 0x00, 0x00,
			byte(codec.MagneticBearing), 0x0E, 0x01, 0x00, 0x00,
			0xFF, 0xF4, 0x01, 0x00, 0x00, 0x00, 0x00,
		}, writes[0])
		suite.link.AckWrite(link.VibrationChar, nil)
		suite.link.Reset()
	})

	suite.Run("named signal", func() {
		req := codec.NewSignalRequest(codec.SignalDestinationReachedSingle, 0, false)
		suite.Require().NoError(suite.session.StartSignal(req))
		writes := suite.link.Writes(link.VibrationChar)
		suite.Require().Len(writes, 1)
		suite.Equal(byte(codec.PatternGoalReached), writes[0][1])
		suite.Equal(byte(codec.VibromotorIndex), writes[0][6])
		suite.Equal(byte(1), writes[0][11], "single signal MUST run once")
		suite.link.AckWrite(link.VibrationChar, nil)
	})
}

func (suite *SessionTestSuite) TestNotificationEvents() {
	suite.connect()

	suite.Run("battery only on change", func() {
		suite.link.Notify(link.BatteryStatusChar, []byte{0x01, 0x00, 0x40, 0x00, 0x00})
		suite.Empty(suite.rec.eventsOf("battery_changed"), "unchanged battery MUST NOT dispatch")

		suite.link.Notify(link.BatteryStatusChar, []byte{0x02, 0x00, 0x20, 0x00, 0x00})
		events := suite.rec.eventsOf("battery_changed")
		suite.Require().Len(events, 1)
		suite.Equal(codec.PowerCharging, events[0].(session.BatteryChanged).Status.PowerStatus)
	})

	suite.Run("button press updates the mode", func() {
		suite.link.Notify(link.ButtonPressChar, []byte{byte(codec.ButtonPause), 0x01, 0x00, byte(codec.ModeApp), byte(codec.ModePause)})
		suite.Equal(codec.ModePause, suite.session.Mode())
		events := suite.rec.eventsOf("button_pressed")
		suite.Require().Len(events, 1)
		suite.Equal(codec.ButtonPause, events[0].(session.ButtonPressed).Press.Button)
	})

	suite.Run("accuracy signal tri-state", func() {
		suite.Nil(suite.session.State().AccuracySignal, "accuracy signal MUST be unknown at first")
		suite.Require().NoError(suite.session.RequestCompassAccuracySignalState())
		suite.answerParam(0x01, byte(codec.ParamCompassAccuracySignal), 0x01)

		suite.Require().NotNil(suite.session.State().AccuracySignal)
		suite.True(*suite.session.State().AccuracySignal)
		suite.Equal([]session.Event{session.AccuracySignalChanged{Enabled: true}}, suite.rec.eventsOf("accuracy_signal_changed"))
	})

	suite.Run("debug output is buffered", func() {
		suite.link.Notify(link.DebugOutputChar, []byte("hello"))

		buf := make([]byte, 16)
		n := suite.session.ReadDebugOutput(buf)
		suite.Equal("hello", string(buf[:n]))
		suite.Len(suite.rec.eventsOf("debug_output"), 1)
		suite.Zero(suite.session.ReadDebugOutput(buf), "buffer MUST be drained")
	})

	suite.Run("events reach the channel", func() {
		suite.NotEmpty(suite.session.Events(), "dispatched events MUST also be sent to Events()")
	})
}

func (suite *SessionTestSuite) TestRequestBeltErrorLog() {
	suite.connect()

	header := []byte{codec.ErrorLogHeaderTag, 0x07, 0x00, 0x01, 0x01, 0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
	entry := []byte{codec.ErrorLogEntryTag, 0x01, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x07, 0x00, 0x00}

	suite.Run("complete transfer", func() {
		var got codec.ErrorLog
		var gotErr error
		calls := 0
		suite.Require().NoError(suite.session.RequestBeltErrorLog(func(log codec.ErrorLog, err error) {
			calls++
			got, gotErr = log, err
		}))
		suite.Equal([][]byte{{codec.ErrorLogHeaderTag}}, suite.link.Writes(link.DebugInputChar))

		suite.link.AckWrite(link.DebugInputChar, nil)
		suite.link.Notify(link.DebugOutputChar, header)
		suite.link.Notify(link.DebugOutputChar, entry)

		suite.Equal(1, calls)
		suite.NoError(gotErr)
		suite.Equal(7, got.Header.Session)
		suite.Require().Len(got.Entries, 1)
		suite.Equal(uint32(1), got.Entries[0].Code)
		suite.Empty(suite.rec.eventsOf("debug_output"), "error log packets MUST NOT be reported as debug output")
	})

	suite.Run("no answer times out", func() {
		var gotErr error
		suite.Require().NoError(suite.session.RequestBeltErrorLog(func(_ codec.ErrorLog, err error) {
			gotErr = err
		}))
		suite.Clock.Advance(linkop.DefaultErrorLogTimeout)
		suite.ErrorIs(gotErr, linkop.ErrTimeout)
	})
}

func (suite *SessionTestSuite) TestDetachResets() {
	// GOAL: Verify Detach cancels queued work and forgets the belt state
	//
	// TEST SCENARIO: Connected with a pending write → Detach → write cancelled → state back to sentinels → requests rejected

	suite.connect()
	var result linkop.State = -1
	suite.Require().NoError(suite.session.RequestBeltErrorLog(func(_ codec.ErrorLog, err error) {
		if errors.Is(err, linkop.ErrCancelled) {
			result = linkop.Cancelled
		}
	}))

	suite.session.Detach()

	suite.Equal(linkop.Cancelled, result, "pending work MUST be cancelled")
	suite.True(suite.session.Queue().IsIdle())
	st := suite.session.State()
	suite.Equal(codec.ModeUnknown, st.Mode)
	suite.Equal(-1, st.DefaultIntensity)
	suite.Equal(-1, st.FirmwareVersion)
	suite.Nil(st.HeadingOffset)
	suite.ErrorIs(suite.session.ChangeMode(codec.ModeApp), session.ErrNotConnected)

	suite.link.Notify(link.KeepAliveChar, []byte{0x01, byte(codec.ModeApp)})
	suite.Equal(codec.ModeUnknown, suite.session.Mode(), "notifications MUST be ignored while detached")
	suite.Empty(suite.link.Writes(link.KeepAliveChar), "no keep-alive answer MUST be sent while detached")
}

func (suite *SessionTestSuite) TestReleasedLinkEventsIgnored() {
	// GOAL: Verify a released link cannot complete operations or change state after a reconnect
	//
	// TEST SCENARIO: discover on the first link → release → attach a fresh link → acks and notifications from the first link are dropped → fresh link still progresses

	old := suite.link
	suite.discover()
	suite.Require().True(suite.session.Release(old))

	fresh := linktest.NewLink(testutils.BeltID)
	fresh.SetHandler(suite.bind(fresh))
	suite.session.Attach(fresh, suite.rec.hooks())
	suite.Require().NoError(suite.session.StartDiscovery())
	fresh.DiscoveredServices(link.BeltServices(), nil)
	for _, svc := range link.BeltServices() {
		fresh.DiscoveredCharacteristics(svc, link.ServiceCharacteristics[svc], nil)
	}

	running := func() linktest.Call {
		c, ok := fresh.LastCall()
		suite.Require().True(ok)
		return c
	}
	suite.Equal(linktest.Call{Kind: linktest.CallSetNotify, Char: notified[0], Enabled: true}, running())

	old.AckNotify(notified[0], nil)
	suite.Equal(notified[0], running().Char, "an ack from the released link MUST NOT complete the running operation")

	old.Notify(link.ParamNotifyChar, []byte{0x01, byte(codec.ParamMode), byte(codec.ModeCompass)})
	suite.Equal(codec.ModeUnknown, suite.session.Mode(), "a notification from the released link MUST NOT change state")

	fresh.AckNotify(notified[0], nil)
	suite.Equal(notified[1], running().Char, "the attached link MUST still drive the handshake")
}

func TestSessionTestSuite(t *testing.T) {
	depend.RunSuite(t, new(SessionTestSuite))
}
