package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Command opcodes.
const (
	opParameter    byte = 0x01
	opSystemSignal byte = 0x20
	opStop         byte = 0x30
	paramSetFlag   byte = 0x80

	intensityDefaultSentinel byte = 0xAA
	infiniteIterations       byte = 0xFF
	allChannels              byte = 0xFF

	// VibrationConfigLen is the length of an encoded channel configuration.
	VibrationConfigLen = 18
	// MaxChannel is the highest vibration channel index.
	MaxChannel = 5
	// MaxIntensity is the highest vibration intensity.
	MaxIntensity = 100
	// MaxIterations is the highest finite iteration count; -1 repeats
	// forever.
	MaxIterations = 255
)

var (
	// ErrZeroPeriod is returned when a channel configuration has no period;
	// the start time cannot be normalized against it.
	ErrZeroPeriod = errors.New("vibration period must be greater than zero")
	// ErrInvalidConfig is returned for out-of-range channel configurations.
	ErrInvalidConfig = errors.New("invalid vibration channel configuration")
)

// EncodeVibrationChannel encodes cfg into the 18-byte channel configuration
// packet written to the vibration command characteristic.
func EncodeVibrationChannel(cfg VibrationChannelConfig) ([]byte, error) {
	if cfg.Channel < 0 || cfg.Channel > MaxChannel {
		return nil, fmt.Errorf("%w: channel %d out of range 0-%d", ErrInvalidConfig, cfg.Channel, MaxChannel)
	}
	if cfg.Intensity < -1 {
		return nil, fmt.Errorf("%w: intensity %d", ErrInvalidConfig, cfg.Intensity)
	}
	if cfg.Iterations < -1 || cfg.Iterations > MaxIterations {
		return nil, fmt.Errorf("%w: iterations %d out of range -1-%d", ErrInvalidConfig, cfg.Iterations, MaxIterations)
	}
	if cfg.Period == 0 {
		return nil, ErrZeroPeriod
	}
	if cfg.Period < 0 || cfg.Period > 0xFFFF {
		return nil, fmt.Errorf("%w: period %d out of range 0-65535", ErrInvalidConfig, cfg.Period)
	}

	packet := make([]byte, VibrationConfigLen)
	packet[0] = byte(cfg.Channel)
	packet[1] = byte(cfg.Pattern)
	packet[2], packet[3] = encodeIntensity(cfg.Intensity)
	packet[6] = byte(cfg.OrientationType)
	packet[7], packet[8] = encodeOrientation(cfg.OrientationType, cfg.Orientation)
	if cfg.Iterations < 0 {
		packet[11] = infiniteIterations
	} else {
		packet[11] = byte(cfg.Iterations)
	}
	binary.LittleEndian.PutUint16(packet[12:14], uint16(cfg.Period))
	start := ((cfg.StartTime % cfg.Period) + cfg.Period) % cfg.Period
	binary.LittleEndian.PutUint16(packet[14:16], uint16(start))
	packet[16] = boolByte(cfg.Exclusive)
	packet[17] = boolByte(cfg.ClearOthers)
	return packet, nil
}

func encodeIntensity(intensity int) (byte, byte) {
	switch {
	case intensity == -1:
		return intensityDefaultSentinel, intensityDefaultSentinel
	case intensity > MaxIntensity:
		return MaxIntensity, 0x00
	default:
		return byte(intensity), 0x00
	}
}

func encodeOrientation(t OrientationType, orientation int) (byte, byte) {
	switch t {
	case BinaryMask:
		return byte(orientation & 0xFF), byte((orientation >> 8) & 0xFF)
	case VibromotorIndex:
		return byte(((orientation % 16) + 16) % 16), 0x00
	default:
		deg := NormalizeDegrees(orientation)
		return byte(deg & 0xFF), byte(deg >> 8)
	}
}

// NormalizeDegrees wraps an angle into [0, 360).
func NormalizeDegrees(deg int) int {
	return ((deg % 360) + 360) % 360
}

// EncodeStop stops one channel, or all channels when channel is -1.
func EncodeStop(channel int) []byte {
	if channel < 0 {
		return []byte{opStop, allChannels}
	}
	return []byte{opStop, byte(channel)}
}

// EncodeSystemSignal starts a predefined system signal.
func EncodeSystemSignal(sig SystemSignal) []byte {
	return []byte{opSystemSignal, byte(sig)}
}

// EncodeParamGet requests the current value of a parameter.
func EncodeParamGet(p Param) []byte {
	return []byte{opParameter, byte(p)}
}

// EncodeSetMode requests a mode change.
func EncodeSetMode(m Mode) []byte {
	return []byte{opParameter, byte(ParamMode) | paramSetFlag, byte(m), 0x00}
}

// EncodeSetIntensity changes the default intensity, optionally with a
// vibration feedback on the belt.
func EncodeSetIntensity(intensity int, feedback bool) []byte {
	return []byte{opParameter, byte(ParamIntensity) | paramSetFlag, byte(intensity), 0x00, boolByte(feedback)}
}

// EncodeSetHeadingOffset changes the heading offset in degrees.
func EncodeSetHeadingOffset(offset int) []byte {
	packet := []byte{opParameter, byte(ParamHeadingOffset) | paramSetFlag, 0, 0}
	binary.LittleEndian.PutUint16(packet[2:], uint16(offset))
	return packet
}

// EncodeSetCompassAccuracySignal enables or disables the compass accuracy
// signal; persistent stores the setting on the belt.
func EncodeSetCompassAccuracySignal(enable, persistent bool) []byte {
	return []byte{opParameter, byte(ParamCompassAccuracySignal) | paramSetFlag, boolByte(enable), boolByte(persistent)}
}

// EncodeKeepAliveAck answers a keep-alive notification.
func EncodeKeepAliveAck() []byte {
	return []byte{0x00}
}

// EncodeErrorLogRequest asks the debug service for the error log.
func EncodeErrorLogRequest() []byte {
	return []byte{ErrorLogHeaderTag}
}

func boolByte(b bool) byte {
	if b {
		return 0x01
	}
	return 0x00
}
