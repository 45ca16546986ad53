package session

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/link"
	"github.com/srg/beltctl/pkg/linkop"
)

// notifiedChars must all acknowledge their subscription before the
// handshake reads start. Orientation notifications are enabled on demand.
var notifiedChars = []link.CharID{
	link.KeepAliveChar,
	link.ButtonPressChar,
	link.ParamNotifyChar,
	link.BatteryStatusChar,
	link.DebugOutputChar,
}

// StartDiscovery requests the belt services on the attached link.
func (s *Session) StartDiscovery() error {
	s.mu.RLock()
	l, phase := s.link, s.phase
	s.mu.RUnlock()

	if l == nil || phase != PhaseDiscovering {
		return ErrNotConnected
	}
	if !l.DiscoverServices(link.BeltServices()) {
		return &SetupError{Stage: StageDiscovery, Err: fmt.Errorf("service discovery request rejected")}
	}
	s.logger.WithField("address", l.ID()).Debug("Discovering belt services")
	return nil
}

func (s *Session) onServicesDiscovered(services []link.ServiceID, err error) {
	s.mu.Lock()
	if s.phase != PhaseDiscovering {
		s.mu.Unlock()
		return
	}
	l, epoch := s.link, s.epoch
	s.mu.Unlock()

	if err != nil {
		s.fail(epoch, StageDiscovery, err)
		return
	}

	found := make(map[link.ServiceID]bool, len(services))
	for _, svc := range services {
		found[link.ServiceID(link.NormalizeUUID(string(svc)))] = true
	}
	for _, want := range link.BeltServices() {
		if !found[want] {
			s.fail(epoch, StageDiscovery, &link.NotFoundError{Resource: "service", UUIDs: []string{string(want)}})
			return
		}
	}

	for _, svc := range link.BeltServices() {
		if !l.DiscoverCharacteristics(svc, link.ServiceCharacteristics[svc]) {
			s.fail(epoch, StageDiscovery, fmt.Errorf("characteristic discovery of %s rejected", svc))
			return
		}
	}
}

func (s *Session) onCharacteristicsDiscovered(service link.ServiceID, chars []link.CharID, err error) {
	s.mu.Lock()
	if s.phase != PhaseDiscovering {
		s.mu.Unlock()
		return
	}
	l, epoch := s.link, s.epoch
	if err != nil || len(chars) == 0 {
		s.mu.Unlock()
		if err == nil {
			err = &link.NotFoundError{Resource: "characteristic", UUIDs: []string{string(service)}}
		}
		s.fail(epoch, StageDiscovery, err)
		return
	}

	present := make(map[link.CharID]bool, len(chars))
	for _, c := range chars {
		present[link.CharID(link.NormalizeUUID(string(c)))] = true
	}
	for _, want := range link.ServiceCharacteristics[service] {
		if !present[want] {
			s.mu.Unlock()
			s.fail(epoch, StageDiscovery, &link.NotFoundError{
				Resource: "characteristic",
				UUIDs:    []string{string(service), string(want)},
			})
			return
		}
		s.chars[want] = true
	}
	s.services[service] = true

	ready := len(s.services) == len(link.BeltServices())
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"service": service,
		"count":   len(chars),
	}).Debug("Characteristics discovered")

	if !ready {
		return
	}
	for _, c := range notifiedChars {
		char := c
		s.queue.Enqueue(linkop.NewSetNotify(l, char, true, func(r linkop.Result) {
			s.onSubscribed(epoch, char, r)
		}), false)
	}
}

func (s *Session) onSubscribed(epoch uint64, char link.CharID, r linkop.Result) {
	if r.State == linkop.Cancelled {
		return
	}
	if !r.OK() {
		s.fail(epoch, StageHandshake, fmt.Errorf("subscribe %s: %w", char, r.Err))
		return
	}

	s.mu.Lock()
	if s.epoch != epoch || s.phase != PhaseDiscovering {
		s.mu.Unlock()
		return
	}
	s.subscribed[char] = true
	if len(s.subscribed) < len(notifiedChars) {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseHandshake
	l, hook := s.link, s.hooks.ServicesDiscovered
	s.mu.Unlock()

	s.logger.WithField("address", l.ID()).Info("Belt services discovered, starting handshake")
	if hook != nil {
		hook()
	}
	s.startHandshake(l, epoch)
}

// startHandshake enqueues the initial reads. Every failure but the heading
// offset one aborts the handshake.
func (s *Session) startHandshake(l link.Link, epoch uint64) {
	required := func(what string) func(linkop.Result) {
		return func(r linkop.Result) {
			if r.State == linkop.Failed {
				s.fail(epoch, StageHandshake, fmt.Errorf("%s: %w", what, r.Err))
			}
		}
	}

	s.queue.Enqueue(linkop.NewRead(l, link.FirmwareInfoChar, required("firmware read")), false)
	s.queue.Enqueue(linkop.NewRead(l, link.BatteryStatusChar, required("battery read")), false)
	s.queue.Enqueue(s.paramRequest(l, codec.ParamIntensity, required("intensity request")), false)
	s.queue.Enqueue(s.paramRequest(l, codec.ParamMode, required("mode request")), false)
	s.queue.Enqueue(s.paramRequest(l, codec.ParamHeadingOffset, func(r linkop.Result) {
		if r.State == linkop.Failed {
			s.logger.WithError(r.Err).Debug("Heading offset request failed")
		}
	}), false)
}

func (s *Session) paramRequest(l link.Link, p codec.Param, done func(linkop.Result)) *linkop.Request {
	return linkop.NewRequest(l, link.ParamRequestChar, codec.EncodeParamGet(p),
		link.ParamNotifyChar, linkop.Pattern(0x01, int(p)), done)
}

// handshakeDoneLocked moves to the connected phase when mode and default
// intensity are known, and returns the hook to call once unlocked.
func (s *Session) handshakeDoneLocked() func(error) {
	if s.phase != PhaseHandshake || s.finished {
		return nil
	}
	if s.state.Mode == codec.ModeUnknown || s.state.DefaultIntensity < 0 {
		return nil
	}
	s.finished = true
	s.phase = PhaseConnected
	return s.hooks.HandshakeFinished
}

// fail reports a setup failure for the link attached at epoch, once.
func (s *Session) fail(epoch uint64, stage Stage, err error) {
	s.mu.Lock()
	if s.epoch != epoch || s.finished || s.phase == PhaseConnected || s.phase == PhaseDetached {
		s.mu.Unlock()
		return
	}
	s.finished = true
	hook := s.hooks.HandshakeFinished
	s.mu.Unlock()

	setupErr := &SetupError{Stage: stage, Err: err}
	s.logger.WithError(err).WithField("stage", stage.String()).Warn("Belt setup failed")
	if hook != nil {
		hook(setupErr)
	}
}
