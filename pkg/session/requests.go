package session

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/link"
	"github.com/srg/beltctl/pkg/linkop"
)

const (
	maxHeadingOffset = 359
	maxPeriod        = 0xFFFF
	// vibrationPeriod is the period of continuous directional vibrations.
	vibrationPeriod = 500
)

// connectedLink returns the attached link when the session is connected
// and char was discovered.
func (s *Session) connectedLink(char link.CharID) (link.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.phase != PhaseConnected || s.link == nil {
		return nil, ErrNotConnected
	}
	if !s.chars[char] {
		return nil, ErrUnavailable
	}
	return s.link, nil
}

func (s *Session) logFailure(op string) func(linkop.Result) {
	return func(r linkop.Result) {
		if r.State == linkop.Failed {
			s.logger.WithFields(logrus.Fields{
				"operation": op,
				"error":     r.Err,
			}).Warn("Belt request failed")
		}
	}
}

func (s *Session) enqueueWrite(op string, l link.Link, char link.CharID, value []byte) {
	s.queue.Enqueue(linkop.NewWrite(l, char, value, s.logFailure(op)), false)
}

func checkIntensity(op string, intensity int) error {
	if intensity < -1 || intensity > codec.MaxIntensity {
		return invalid(op, "intensity", intensity, "must be -1 or 0-100")
	}
	return nil
}

func checkChannel(op string, channel int) error {
	if channel < 0 || channel > codec.MaxChannel {
		return invalid(op, "channel", channel, "must be 0-5")
	}
	return nil
}

func checkChannelConfig(op string, cfg codec.VibrationChannelConfig) error {
	if err := checkChannel(op, cfg.Channel); err != nil {
		return err
	}
	if err := checkIntensity(op, cfg.Intensity); err != nil {
		return err
	}
	if cfg.Iterations < -1 || cfg.Iterations > codec.MaxIterations {
		return invalid(op, "iterations", cfg.Iterations, "must be -1 or 0-255")
	}
	if cfg.Period <= 0 || cfg.Period > maxPeriod {
		return invalid(op, "period", cfg.Period, "must be 1-65535 ms")
	}
	return nil
}

// ChangeMode requests a belt mode change. The new mode is reported by a
// ModeChanged event once the belt confirms it.
func (s *Session) ChangeMode(mode codec.Mode) error {
	const op = "change mode"
	l, err := s.connectedLink(link.ParamRequestChar)
	if err != nil {
		return err
	}
	if codec.ParseMode(byte(mode)) == codec.ModeUnknown || mode == codec.ModeCalibration {
		return invalid(op, "mode", mode, "cannot be requested")
	}
	s.enqueueWrite(op, l, link.ParamRequestChar, codec.EncodeSetMode(mode))
	return nil
}

// ChangeDefaultIntensity sets the default vibration intensity. With
// feedback the belt vibrates at the new intensity.
func (s *Session) ChangeDefaultIntensity(intensity int, feedback bool) error {
	const op = "change default intensity"
	l, err := s.connectedLink(link.ParamRequestChar)
	if err != nil {
		return err
	}
	if intensity < 0 || intensity > codec.MaxIntensity {
		return invalid(op, "intensity", intensity, "must be 0-100")
	}
	s.enqueueWrite(op, l, link.ParamRequestChar, codec.EncodeSetIntensity(intensity, feedback))
	return nil
}

// ChangeHeadingOffset sets the angle between the belt heading and the
// control box position.
func (s *Session) ChangeHeadingOffset(offset int) error {
	const op = "change heading offset"
	l, err := s.connectedLink(link.ParamRequestChar)
	if err != nil {
		return err
	}
	if offset < 0 || offset > maxHeadingOffset {
		return invalid(op, "heading offset", offset, "must be 0-359")
	}
	s.enqueueWrite(op, l, link.ParamRequestChar, codec.EncodeSetHeadingOffset(offset))
	return nil
}

// VibrateAtMagneticBearing starts a continuous vibration toward a magnetic
// bearing. An intensity of 0 stops the channel instead.
func (s *Session) VibrateAtMagneticBearing(bearing, intensity, channel int, clearOthers bool) error {
	return s.vibrate("vibrate at magnetic bearing", codec.MagneticBearing, bearing, intensity, channel, clearOthers)
}

// VibrateAtAngle starts a continuous vibration at an angle relative to the
// belt, 0 being the control box position. An intensity of 0 stops the
// channel instead.
func (s *Session) VibrateAtAngle(angle, intensity, channel int, clearOthers bool) error {
	return s.vibrate("vibrate at angle", codec.Angle, angle, intensity, channel, clearOthers)
}

func (s *Session) vibrate(op string, ot codec.OrientationType, direction, intensity, channel int, clearOthers bool) error {
	if _, err := s.connectedLink(link.VibrationChar); err != nil {
		return err
	}
	if err := checkIntensity(op, intensity); err != nil {
		return err
	}
	if err := checkChannel(op, channel); err != nil {
		return err
	}
	if intensity == 0 {
		return s.StopVibration(channel)
	}
	return s.ConfigureVibrationChannel(codec.VibrationChannelConfig{
		Channel:         channel,
		Pattern:         codec.PatternContinuous,
		Intensity:       intensity,
		OrientationType: ot,
		Orientation:     direction,
		Iterations:      -1,
		Period:          vibrationPeriod,
		ClearOthers:     clearOthers,
	})
}

// ConfigureVibrationChannel sends a raw channel configuration.
func (s *Session) ConfigureVibrationChannel(cfg codec.VibrationChannelConfig) error {
	const op = "configure vibration channel"
	l, err := s.connectedLink(link.VibrationChar)
	if err != nil {
		return err
	}
	if err := checkChannelConfig(op, cfg); err != nil {
		return err
	}
	packet, err := codec.EncodeVibrationChannel(cfg)
	if err != nil {
		return invalid(op, "config", cfg.Channel, err.Error())
	}
	s.enqueueWrite(op, l, link.VibrationChar, packet)
	return nil
}

// StartSignal starts a named signal.
func (s *Session) StartSignal(req codec.SignalRequest) error {
	const op = "start signal"
	if _, err := s.connectedLink(link.VibrationChar); err != nil {
		return err
	}
	cfg, err := codec.SignalConfig(req)
	if err != nil {
		if errors.Is(err, codec.ErrInvalidConfig) {
			return invalid(op, "signal", req.Kind, "unknown signal")
		}
		return err
	}
	return s.ConfigureVibrationChannel(cfg)
}

// StopVibration stops one channel, or every channel when channel is -1.
func (s *Session) StopVibration(channel int) error {
	const op = "stop vibration"
	l, err := s.connectedLink(link.VibrationChar)
	if err != nil {
		return err
	}
	if channel != -1 {
		if err := checkChannel(op, channel); err != nil {
			return err
		}
	}
	s.enqueueWrite(op, l, link.VibrationChar, codec.EncodeStop(channel))
	return nil
}

// SendSystemSignal starts a predefined belt signal.
func (s *Session) SendSystemSignal(sig codec.SystemSignal) error {
	const op = "send system signal"
	l, err := s.connectedLink(link.VibrationChar)
	if err != nil {
		return err
	}
	switch sig {
	case codec.SignalWarning, codec.SignalGoalReached, codec.SignalBattery:
	default:
		return invalid(op, "signal", sig, "unknown system signal")
	}
	s.enqueueWrite(op, l, link.VibrationChar, codec.EncodeSystemSignal(sig))
	return nil
}

// StartOrientationNotifications subscribes to orientation updates. The
// first update after the call is always dispatched, later ones go through
// filter.
func (s *Session) StartOrientationNotifications(filter OrientationFilter) error {
	const op = "start orientation notifications"
	l, err := s.connectedLink(link.OrientationChar)
	if err != nil {
		return err
	}
	if filter.MinPeriod < 0 {
		return invalid(op, "min period", filter.MinPeriod, "must not be negative")
	}
	if filter.MinHeadingVariation < 0 {
		return invalid(op, "min heading variation", filter.MinHeadingVariation, "must not be negative")
	}

	s.mu.Lock()
	s.gate.reset(filter)
	s.state.OrientationNotifications = true
	s.mu.Unlock()

	s.queue.Enqueue(linkop.NewSetNotify(l, link.OrientationChar, true, s.logFailure(op)), false)
	return nil
}

// StopOrientationNotifications unsubscribes from orientation updates.
func (s *Session) StopOrientationNotifications() error {
	const op = "stop orientation notifications"
	l, err := s.connectedLink(link.OrientationChar)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.gate.reset(OrientationFilter{})
	s.state.OrientationNotifications = false
	s.mu.Unlock()

	s.queue.Enqueue(linkop.NewSetNotify(l, link.OrientationChar, false, s.logFailure(op)), false)
	return nil
}

// ChangeCompassAccuracySignalState enables or disables the vibration the
// belt emits when its compass is inaccurate. With persistent the setting
// survives a belt restart.
func (s *Session) ChangeCompassAccuracySignalState(enable, persistent bool) error {
	const op = "change compass accuracy signal"
	l, err := s.connectedLink(link.ParamRequestChar)
	if err != nil {
		return err
	}
	s.enqueueWrite(op, l, link.ParamRequestChar, codec.EncodeSetCompassAccuracySignal(enable, persistent))
	return nil
}

// RequestCompassAccuracySignalState asks the belt for the compass accuracy
// signal state, reported by an AccuracySignalChanged event.
func (s *Session) RequestCompassAccuracySignalState() error {
	return s.RequestParameter(codec.ParamCompassAccuracySignal)
}

// RequestParameter asks the belt to notify the current value of p.
func (s *Session) RequestParameter(p codec.Param) error {
	const op = "request parameter"
	l, err := s.connectedLink(link.ParamRequestChar)
	if err != nil {
		return err
	}
	switch p {
	case codec.ParamMode, codec.ParamIntensity, codec.ParamHeadingOffset,
		codec.ParamBLEName, codec.ParamCompassAccuracySignal:
	default:
		return invalid(op, "parameter", fmt.Sprintf("0x%02X", byte(p)), "unknown parameter")
	}
	s.queue.Enqueue(s.paramRequest(l, p, s.logFailure(op)), false)
	return nil
}

// RequestBeltErrorLog retrieves the belt error log. done is called once
// with the log or the reason it could not be retrieved. Only development
// firmwares answer.
func (s *Session) RequestBeltErrorLog(done func(codec.ErrorLog, error)) error {
	l, err := s.connectedLink(link.DebugInputChar)
	if err != nil {
		return err
	}
	if _, err := s.connectedLink(link.DebugOutputChar); err != nil {
		return err
	}
	req := linkop.NewErrorLogRequest(l, func(r linkop.Result) {
		if done == nil {
			return
		}
		if !r.OK() || r.Log == nil {
			done(codec.ErrorLog{}, r.Err)
			return
		}
		done(*r.Log, nil)
	})
	req.SetTimeout(s.errorLogTimeout)
	s.queue.Enqueue(req, false)
	return nil
}

// SendDebugData writes raw data to the debug input characteristic.
func (s *Session) SendDebugData(data []byte) error {
	const op = "send debug data"
	l, err := s.connectedLink(link.DebugInputChar)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return invalid(op, "data", len(data), "must not be empty")
	}
	s.enqueueWrite(op, l, link.DebugInputChar, append([]byte(nil), data...))
	return nil
}
