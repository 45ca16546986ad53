package codec

import (
	"fmt"
	"strings"
)

// SignalKind is a named vibration signal built on a channel configuration.
type SignalKind int

const (
	SignalContinuous SignalKind = iota
	SignalNavigation
	SignalApproachingDestination
	SignalDestinationReachedRepeated
	SignalDestinationReachedSingle
	SignalDirectionNotification
)

// DefaultSignalChannel is the channel named signals use unless told otherwise.
const DefaultSignalChannel = 1

type signalSpec struct {
	name        string
	pattern     Pattern
	iterations  int
	period      int
	directional bool
}

var signalTable = map[SignalKind]signalSpec{
	SignalContinuous:                 {"continuous", PatternContinuous, -1, 500, true},
	SignalNavigation:                 {"navigation", PatternContinuous, -1, 500, true},
	SignalApproachingDestination:     {"approaching_destination", PatternSingleLong, -1, 1000, true},
	SignalDestinationReachedRepeated: {"destination_reached_repeated", PatternGoalReached, -1, 5000, false},
	SignalDestinationReachedSingle:   {"destination_reached_single", PatternGoalReached, 1, 2500, false},
	SignalDirectionNotification:      {"direction_notification", PatternContinuous, 1, 1000, true},
}

func (k SignalKind) String() string {
	if s, ok := signalTable[k]; ok {
		return s.name
	}
	return fmt.Sprintf("signal(%d)", int(k))
}

// SignalKindFromString parses a name as printed by SignalKind.String.
func SignalKindFromString(name string) (SignalKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, s := range signalTable {
		if s.name == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown signal %q", name)
}

// IsRepeated reports whether the signal repeats until stopped.
func (k SignalKind) IsRepeated() bool {
	s, ok := signalTable[k]
	return ok && s.iterations < 0
}

// IsDirectional reports whether the signal is oriented toward a direction.
func (k SignalKind) IsDirectional() bool {
	s, ok := signalTable[k]
	return ok && s.directional
}

// SignalRequest holds the caller-chosen parameters of a named signal.
type SignalRequest struct {
	Kind        SignalKind
	Direction   int
	IsBearing   bool
	Intensity   int
	Channel     int
	ClearOthers bool
}

// NewSignalRequest returns a request with the default channel and intensity.
// Other channels keep vibrating unless ClearOthers is set.
func NewSignalRequest(kind SignalKind, direction int, isBearing bool) SignalRequest {
	return SignalRequest{
		Kind:      kind,
		Direction: direction,
		IsBearing: isBearing,
		Intensity: -1,
		Channel:   DefaultSignalChannel,
	}
}

// SignalConfig expands a named signal into its channel configuration.
// Non-directional signals always target vibromotor 0.
func SignalConfig(req SignalRequest) (VibrationChannelConfig, error) {
	entry, ok := signalTable[req.Kind]
	if !ok {
		return VibrationChannelConfig{}, fmt.Errorf("%w: unknown signal kind %d", ErrInvalidConfig, int(req.Kind))
	}
	cfg := VibrationChannelConfig{
		Channel:     req.Channel,
		Pattern:     entry.pattern,
		Intensity:   req.Intensity,
		Iterations:  entry.iterations,
		Period:      entry.period,
		ClearOthers: req.ClearOthers,
	}
	switch {
	case !entry.directional:
		cfg.OrientationType = VibromotorIndex
		cfg.Orientation = 0
	case req.IsBearing:
		cfg.OrientationType = MagneticBearing
		cfg.Orientation = req.Direction
	default:
		cfg.OrientationType = Angle
		cfg.Orientation = req.Direction
	}
	return cfg, nil
}
