package session

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/link"
	"github.com/srg/beltctl/pkg/linkop"
)

// onValueUpdate decodes read responses and notifications. Malformed
// packets are dropped without touching the state.
func (s *Session) onValueUpdate(char link.CharID, value []byte, err error) {
	if err != nil {
		s.logger.WithError(err).WithField("char_uuid", char).Debug("Value update error")
		return
	}

	s.mu.Lock()
	if s.phase == PhaseDetached || s.link == nil {
		s.mu.Unlock()
		return
	}

	var (
		events    []Event
		keepAlive bool
		decoded   = true
	)
	switch char {
	case link.KeepAliveChar:
		keepAlive = true
		if m, ok := codec.DecodeKeepAlive(value); ok {
			events = s.setModeLocked(m, events)
		} else {
			decoded = false
		}
	case link.ParamNotifyChar:
		if p, ok := codec.DecodeParam(value); ok {
			events = s.applyParamLocked(p, events)
		} else {
			decoded = false
		}
	case link.BatteryStatusChar:
		if b, ok := codec.DecodeBattery(value); ok {
			events = s.setBatteryLocked(b, events)
		} else {
			decoded = false
		}
	case link.ButtonPressChar:
		if b, ok := codec.DecodeButton(value); ok {
			s.state.Mode = b.NewMode
			if s.phase == PhaseConnected {
				events = append(events, ButtonPressed{Press: b})
			}
		} else {
			decoded = false
		}
	case link.FirmwareInfoChar:
		if v, ok := codec.DecodeFirmware(value); ok {
			s.state.FirmwareVersion = v
			events = append(events, FirmwareVersion{Version: v})
		} else {
			decoded = false
		}
	case link.OrientationChar:
		if o, ok := codec.DecodeOrientation(value); ok {
			s.state.Orientation = &o
			if s.phase == PhaseConnected && s.gate.pass(o.Heading, s.clock.Now()) {
				events = append(events, OrientationChanged{Orientation: o})
			}
		} else {
			decoded = false
		}
	case link.DebugOutputChar:
		if !codec.IsErrorLogPacket(value) && len(value) > 0 {
			s.appendDebug(value)
			events = append(events, DebugOutput{Data: append([]byte(nil), value...)})
		}
	default:
		decoded = false
	}

	done := s.handshakeDoneLocked()
	l := s.link
	listeners := s.listenersLocked()
	s.mu.Unlock()

	if !decoded {
		s.logger.WithFields(logrus.Fields{
			"char_uuid": char,
			"length":    len(value),
		}).Debug("Dropping undecodable packet")
	}
	if keepAlive {
		s.queue.Enqueue(linkop.NewWrite(l, link.KeepAliveChar, codec.EncodeKeepAliveAck(), nil), true)
	}
	s.emit(events, listeners)
	if done != nil {
		s.logger.WithField("address", l.ID()).Info("Belt handshake finished")
		done(nil)
	}
}

func (s *Session) setModeLocked(m codec.Mode, events []Event) []Event {
	if m == s.state.Mode {
		return events
	}
	s.state.Mode = m
	if s.phase == PhaseConnected {
		events = append(events, ModeChanged{Mode: m})
	}
	return events
}

func (s *Session) applyParamLocked(p codec.ParamNotification, events []Event) []Event {
	connected := s.phase == PhaseConnected
	switch p.Param {
	case codec.ParamMode:
		return s.setModeLocked(p.Mode, events)
	case codec.ParamIntensity:
		if p.Intensity != s.state.DefaultIntensity {
			s.state.DefaultIntensity = p.Intensity
			if connected {
				events = append(events, IntensityChanged{Intensity: p.Intensity})
			}
		}
	case codec.ParamHeadingOffset:
		if s.state.HeadingOffset == nil || *s.state.HeadingOffset != p.HeadingOffset {
			offset := p.HeadingOffset
			s.state.HeadingOffset = &offset
			if connected {
				events = append(events, HeadingOffsetChanged{Offset: offset})
			}
		}
	case codec.ParamCompassAccuracySignal:
		if s.state.AccuracySignal == nil || *s.state.AccuracySignal != p.AccuracySignal {
			enabled := p.AccuracySignal
			s.state.AccuracySignal = &enabled
			if connected {
				events = append(events, AccuracySignalChanged{Enabled: enabled})
			}
		}
	}
	return events
}

func (s *Session) setBatteryLocked(b codec.BatteryStatus, events []Event) []Event {
	if b == s.state.Battery {
		return events
	}
	s.state.Battery = b
	if s.phase == PhaseConnected {
		events = append(events, BatteryChanged{Status: b})
	}
	return events
}

// appendDebug stores debug output, discarding the oldest bytes when the
// buffer is full.
func (s *Session) appendDebug(data []byte) {
	if len(data) > s.debugSize {
		data = data[len(data)-s.debugSize:]
	}
	if over := len(data) - s.debug.Free(); over > 0 {
		discard := make([]byte, over)
		_, _ = s.debug.TryRead(discard)
	}
	_, _ = s.debug.Write(data)
}

// ReadDebugOutput reads buffered debug output into p. It never blocks and
// returns 0 when nothing is buffered.
func (s *Session) ReadDebugOutput(p []byte) int {
	n, _ := s.debug.TryRead(p)
	return n
}

// DebugOutputLen returns the number of buffered debug output bytes.
func (s *Session) DebugOutputLen() int {
	return s.debug.Length()
}
