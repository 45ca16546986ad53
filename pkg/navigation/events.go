package navigation

import (
	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/connection"
)

// State of the navigation. While a belt is connected it follows the belt
// mode; without a belt it only changes on request.
type State int

const (
	Stopped State = iota
	Paused
	Navigating
)

func (s State) String() string {
	switch s {
	case Paused:
		return "paused"
	case Navigating:
		return "navigating"
	default:
		return "stopped"
	}
}

// Event is a navigation notification.
type Event interface {
	eventName() string
}

// StateChanged is sent when the navigation state changes, on request or
// after a belt button press.
type StateChanged struct {
	State State
}

// HomeRequested is sent when the home button was pressed and did not
// resume the navigation.
type HomeRequested struct {
	Navigating bool
}

// ConnectionChanged mirrors every connection manager transition.
type ConnectionChanged struct {
	Previous connection.State
	State    connection.State
	Err      *connection.Error
}

// OrientationUpdated carries a filtered belt heading.
type OrientationUpdated struct {
	Heading  int
	Accurate bool
}

// BatteryUpdated carries the battery level in percent.
type BatteryUpdated struct {
	Level       int
	PowerStatus codec.PowerStatus
}

// IntensityChanged is sent when the default vibration intensity changes.
type IntensityChanged struct {
	Intensity int
}

// AccuracySignalChanged is sent when the compass accuracy signal state is
// retrieved or changed.
type AccuracySignalChanged struct {
	Enabled bool
}

func (StateChanged) eventName() string          { return "state_changed" }
func (HomeRequested) eventName() string         { return "home_requested" }
func (ConnectionChanged) eventName() string     { return "connection_changed" }
func (OrientationUpdated) eventName() string    { return "orientation_updated" }
func (BatteryUpdated) eventName() string        { return "battery_updated" }
func (IntensityChanged) eventName() string      { return "intensity_changed" }
func (AccuracySignalChanged) eventName() string { return "accuracy_signal_changed" }

// EventName returns the snake_case name of ev.
func EventName(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.eventName()
}
