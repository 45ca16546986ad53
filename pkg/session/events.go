package session

import "github.com/srg/beltctl/pkg/codec"

// Event is a decoded belt notification. Consumers switch on the concrete
// type and ignore the variants they do not care about.
type Event interface {
	eventName() string
}

// ModeChanged is sent when the belt mode changes.
type ModeChanged struct {
	Mode codec.Mode
}

// IntensityChanged is sent when the default vibration intensity changes.
type IntensityChanged struct {
	Intensity int
}

// HeadingOffsetChanged is sent when the heading offset changes.
type HeadingOffsetChanged struct {
	Offset int
}

// BatteryChanged is sent when any battery status field changes.
type BatteryChanged struct {
	Status codec.BatteryStatus
}

// ButtonPressed is sent for every button press notification.
type ButtonPressed struct {
	Press codec.ButtonPress
}

// OrientationChanged is sent for orientation updates that pass the filter.
type OrientationChanged struct {
	Orientation codec.Orientation
}

// FirmwareVersion is sent once the firmware version was read.
type FirmwareVersion struct {
	Version int
}

// AccuracySignalChanged is sent when the compass accuracy signal state is
// first known or changes.
type AccuracySignalChanged struct {
	Enabled bool
}

// DebugOutput carries a debug output packet that is not part of an error
// log transfer.
type DebugOutput struct {
	Data []byte
}

func (ModeChanged) eventName() string           { return "mode_changed" }
func (IntensityChanged) eventName() string      { return "intensity_changed" }
func (HeadingOffsetChanged) eventName() string  { return "heading_offset_changed" }
func (BatteryChanged) eventName() string        { return "battery_changed" }
func (ButtonPressed) eventName() string         { return "button_pressed" }
func (OrientationChanged) eventName() string    { return "orientation_changed" }
func (FirmwareVersion) eventName() string       { return "firmware_version" }
func (AccuracySignalChanged) eventName() string { return "accuracy_signal_changed" }
func (DebugOutput) eventName() string           { return "debug_output" }

// EventName returns the snake_case name of ev, as used in logs and the CLI.
func EventName(ev Event) string {
	if ev == nil {
		return ""
	}
	return ev.eventName()
}
