// Package codec encodes belt commands into their fixed wire layouts and
// decodes belt notifications into typed values. It holds no state and does
// no I/O. Decoders never fail loudly: a packet that is too short or carries
// an unknown tag is reported as not ok and must be dropped by the caller.
package codec

import (
	"fmt"
	"strings"
)

// Mode is the operating mode of the belt.
type Mode uint8

const (
	ModeStandby     Mode = 0
	ModeWait        Mode = 1
	ModeCompass     Mode = 2
	ModeApp         Mode = 3
	ModePause       Mode = 4
	ModeCalibration Mode = 5
	ModeCrossing    Mode = 6
	ModeUnknown     Mode = 0xFF
)

var modeNames = map[Mode]string{
	ModeStandby:     "standby",
	ModeWait:        "wait",
	ModeCompass:     "compass",
	ModeApp:         "app",
	ModePause:       "pause",
	ModeCalibration: "calibration",
	ModeCrossing:    "crossing",
	ModeUnknown:     "unknown",
}

// ParseMode maps a raw mode byte; unassigned values become ModeUnknown.
func ParseMode(raw byte) Mode {
	m := Mode(raw)
	if _, ok := modeNames[m]; ok {
		return m
	}
	return ModeUnknown
}

// ModeFromString parses a mode name as printed by Mode.String.
func ModeFromString(name string) (Mode, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for m, n := range modeNames {
		if n == name {
			return m, nil
		}
	}
	return ModeUnknown, fmt.Errorf("unknown belt mode %q", name)
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return "unknown"
}

// Button identifies a physical button on the belt control box.
type Button uint8

const (
	ButtonPower   Button = 1
	ButtonPause   Button = 2
	ButtonCompass Button = 3
	ButtonHome    Button = 4
)

func (b Button) String() string {
	switch b {
	case ButtonPower:
		return "power"
	case ButtonPause:
		return "pause"
	case ButtonCompass:
		return "compass"
	case ButtonHome:
		return "home"
	default:
		return fmt.Sprintf("button(%d)", uint8(b))
	}
}

// PressType distinguishes short and long button presses.
type PressType uint8

const (
	PressShort PressType = iota
	PressLong
)

func (p PressType) String() string {
	if p == PressLong {
		return "long"
	}
	return "short"
}

// Param identifies a belt parameter for get/set requests.
type Param uint8

const (
	ParamMode                  Param = 0x01
	ParamIntensity             Param = 0x02
	ParamHeadingOffset         Param = 0x03
	ParamBLEName               Param = 0x04
	ParamCompassAccuracySignal Param = 0x0B
)

// Pattern is a vibration pattern stored in the belt firmware.
type Pattern uint8

const (
	PatternContinuous     Pattern = 1
	PatternSingleShort    Pattern = 2
	PatternSingleLong     Pattern = 3
	PatternDoubleShort    Pattern = 4
	PatternDoubleLong     Pattern = 5
	PatternShortShiftWave Pattern = 6
	PatternGoalReached    Pattern = 9
)

// OrientationType tells how VibrationChannelConfig.Orientation is interpreted.
type OrientationType uint8

const (
	BinaryMask      OrientationType = 0
	VibromotorIndex OrientationType = 1
	Angle           OrientationType = 2
	MagneticBearing OrientationType = 3
)

// SystemSignal is a predefined belt signal.
type SystemSignal uint8

const (
	SignalWarning     SystemSignal = 0x00
	SignalGoalReached SystemSignal = 0x01
	SignalBattery     SystemSignal = 0x02
)

// SystemSignalFromString parses "warning", "goal" or "battery".
func SystemSignalFromString(name string) (SystemSignal, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "warning":
		return SignalWarning, nil
	case "goal", "goal_reached", "goalreached":
		return SignalGoalReached, nil
	case "battery":
		return SignalBattery, nil
	}
	return 0, fmt.Errorf("unknown system signal %q", name)
}

// PowerStatus is the power supply state reported with the battery status.
type PowerStatus uint8

const (
	PowerUnknown   PowerStatus = 0
	PowerOnBattery PowerStatus = 1
	PowerCharging  PowerStatus = 2
	PowerExternal  PowerStatus = 3
)

func (p PowerStatus) String() string {
	switch p {
	case PowerOnBattery:
		return "on_battery"
	case PowerCharging:
		return "charging"
	case PowerExternal:
		return "external"
	default:
		return "unknown"
	}
}

// BatteryStatus of the belt. TTEOrTTF is time-to-empty on battery or
// time-to-full while charging, in seconds.
type BatteryStatus struct {
	PowerStatus PowerStatus
	Level       float64
	TTEOrTTF    float64
}

// Orientation of the belt relative to magnetic north.
type Orientation struct {
	Heading    int
	Inaccurate bool
}

// ButtonPress as notified by the belt.
type ButtonPress struct {
	Button       Button
	Press        PressType
	PreviousMode Mode
	NewMode      Mode
}

// VibrationChannelConfig configures one vibration channel of the belt.
type VibrationChannelConfig struct {
	Channel         int
	Pattern         Pattern
	Intensity       int // 0-100, -1 for the belt default
	OrientationType OrientationType
	Orientation     int
	Iterations      int // -1 for infinite
	Period          int // milliseconds
	StartTime       int // milliseconds, normalized modulo Period
	Exclusive       bool
	ClearOthers     bool
}
