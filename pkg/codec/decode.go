package codec

import "encoding/binary"

// Packet tags and minimum lengths.
const (
	OrientationFusionTag byte = 0x02
	ErrorLogHeaderTag    byte = 0x0B
	ErrorLogEntryTag     byte = 0x0C

	minParamLen         = 3
	minHeadingOffsetLen = 4
	minBatteryLen       = 5
	minButtonLen        = 5
	minKeepAliveLen     = 2
	minOrientationLen   = 16
	minErrorLogLen      = 12

	batteryLevelScale = 256.0
	batteryTimeScale  = 5.625
)

// ParamNotification is a decoded parameter notification. Only the field
// matching Param is meaningful.
type ParamNotification struct {
	Param          Param
	Mode           Mode
	Intensity      int
	HeadingOffset  int
	AccuracySignal bool
}

func modeFromRaw(raw byte) (Mode, bool) {
	m := Mode(raw)
	_, ok := modeNames[m]
	return m, ok
}

// DecodeParam decodes a notification of the parameter characteristic.
func DecodeParam(data []byte) (ParamNotification, bool) {
	if len(data) < minParamLen {
		return ParamNotification{}, false
	}
	n := ParamNotification{Param: Param(data[1] &^ paramSetFlag)}
	switch n.Param {
	case ParamMode:
		m, ok := modeFromRaw(data[2])
		if !ok {
			return ParamNotification{}, false
		}
		n.Mode = m
	case ParamIntensity:
		n.Intensity = int(data[2])
	case ParamHeadingOffset:
		if len(data) < minHeadingOffsetLen {
			return ParamNotification{}, false
		}
		n.HeadingOffset = int(binary.LittleEndian.Uint16(data[2:4]))
	case ParamCompassAccuracySignal:
		n.AccuracySignal = data[2] != 0
	default:
		return ParamNotification{}, false
	}
	return n, true
}

// DecodeBattery decodes a battery status packet. Level and TTEOrTTF are both
// derived from bytes 1-2.
func DecodeBattery(data []byte) (BatteryStatus, bool) {
	if len(data) < minBatteryLen {
		return BatteryStatus{}, false
	}
	status := PowerStatus(data[0])
	if status > PowerExternal {
		return BatteryStatus{}, false
	}
	raw := float64(binary.LittleEndian.Uint16(data[1:3]))
	return BatteryStatus{
		PowerStatus: status,
		Level:       raw / batteryLevelScale,
		TTEOrTTF:    raw * batteryTimeScale,
	}, true
}

// DecodeButton decodes a button press notification.
func DecodeButton(data []byte) (ButtonPress, bool) {
	if len(data) < minButtonLen {
		return ButtonPress{}, false
	}
	button := Button(data[0])
	if button < ButtonPower || button > ButtonHome {
		return ButtonPress{}, false
	}
	prev, ok := modeFromRaw(data[3])
	if !ok {
		return ButtonPress{}, false
	}
	next, ok := modeFromRaw(data[4])
	if !ok {
		return ButtonPress{}, false
	}
	press := PressShort
	if data[1] >= 3 {
		press = PressLong
	}
	return ButtonPress{Button: button, Press: press, PreviousMode: prev, NewMode: next}, true
}

// DecodeKeepAlive extracts the belt mode carried by a keep-alive ping.
func DecodeKeepAlive(data []byte) (Mode, bool) {
	if len(data) < minKeepAliveLen {
		return ModeUnknown, false
	}
	return modeFromRaw(data[1])
}

// DecodeFirmware extracts the firmware version from the firmware info value.
func DecodeFirmware(data []byte) (int, bool) {
	if len(data) < 1 {
		return -1, false
	}
	return int(data[0]), true
}

// DecodeOrientation decodes a sensor fusion notification. Other
// notification kinds of the orientation characteristic are not ok.
func DecodeOrientation(data []byte) (Orientation, bool) {
	if len(data) < minOrientationLen || data[0] != OrientationFusionTag {
		return Orientation{}, false
	}
	return Orientation{
		Heading:    int(binary.LittleEndian.Uint16(data[1:3])),
		Inaccurate: data[15] != 0,
	}, true
}
