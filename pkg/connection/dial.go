package connection

import (
	"context"
	"errors"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/srg/beltctl/internal/groutine"
	"github.com/srg/beltctl/pkg/link"
	"github.com/srg/beltctl/pkg/session"
)

// linkEvents routes the link callbacks to the session, except the
// disconnection which belongs to the manager.
type linkEvents struct {
	*session.LinkHandler
	m   *Manager
	gen uint64
	id  string
}

func (h *linkEvents) OnDisconnected(err error) {
	h.m.onDisconnected(h.gen, h.id, err)
}

// connectLocked dials p with the connect timer armed over dial, discovery
// and handshake.
func (m *Manager) connectLocked(p link.Peripheral, info *Error) {
	m.resetLocked()
	m.peripheral = p

	state, cause := Connecting, CauseConnectionStarted
	if m.reconnecting {
		state, cause = Reconnecting, CauseReconnectionStarted
	}
	m.setStateLocked(state, cause, info)

	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.connectTimer = m.clock.AfterFunc(m.opts.ConnectTimeout, func() { m.onConnectTimeout(gen) })
	m.later(func() {
		groutine.Go(ctx, "belt-connect", func(ctx context.Context) {
			m.dial(ctx, gen, p)
		})
	})
}

func (m *Manager) dial(ctx context.Context, gen uint64, p link.Peripheral) {
	h := &linkEvents{LinkHandler: m.session.Handler(), m: m, gen: gen, id: p.ID}
	m.logger.WithField("address", p.ID).Debug("Dialing belt")

	l, err := m.transport.Connect(ctx, p.ID, h)
	if err != nil {
		m.onDialFailed(gen, err)
		return
	}
	h.Bind(l)
	m.onLinkEstablished(gen, l)
}

func (m *Manager) onDialFailed(gen uint64, err error) {
	err = link.NormalizeError(err)
	m.mu.Lock()
	if gen != m.gen || (m.state != Connecting && m.state != Reconnecting) {
		m.mu.Unlock()
		return
	}
	cause := CauseConnectionFailed
	if m.state == Reconnecting {
		cause = CauseReconnectionFailed
	}
	m.logger.WithFields(logrus.Fields{
		"address": m.peripheral.ID,
		"error":   err,
	}).Error("Failed to connect to belt")
	m.failLocked(cause, newError(dialKind(err), err))
	m.unlock()
}

func (m *Manager) onLinkEstablished(gen uint64, l link.Link) {
	m.mu.Lock()
	if gen != m.gen || (m.state != Connecting && m.state != Reconnecting) {
		m.mu.Unlock()
		_ = l.Close()
		return
	}
	m.link = l
	m.mu.Unlock()

	m.session.Attach(l, session.Hooks{
		ServicesDiscovered: func() { m.onServicesDiscovered(gen) },
		HandshakeFinished:  func(err error) { m.onHandshakeFinished(gen, err) },
	})

	// the attempt may have been superseded while attaching
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.session.Release(l)
		return
	}
	m.setStateLocked(DiscoveringServices, CauseConnectionEstablished, nil)
	m.unlock()

	if err := m.session.StartDiscovery(); err != nil {
		m.onHandshakeFinished(gen, err)
	}
}

func (m *Manager) onServicesDiscovered(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != DiscoveringServices {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(Handshake, CauseServicesDiscovered, nil)
	m.unlock()
}

func (m *Manager) onHandshakeFinished(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || (m.state != DiscoveringServices && m.state != Handshake) {
		m.mu.Unlock()
		return
	}

	if err != nil {
		kind, cause := KindHandshakeFailed, CauseHandshakeFailed
		var serr *session.SetupError
		if errors.As(err, &serr) {
			if serr.Stage == session.StageDiscovery {
				kind, cause = KindServiceDiscoveryFailed, CauseServiceDiscoveryFailed
			}
		} else if m.state == DiscoveringServices {
			kind, cause = KindServiceDiscoveryFailed, CauseServiceDiscoveryFailed
		}
		m.failLocked(cause, newError(kind, err))
		m.unlock()
		return
	}

	if m.connectTimer != nil {
		m.connectTimer.Stop()
		m.connectTimer = nil
	}
	m.plan = nil
	m.reconnecting = false
	m.setStateLocked(Connected, CauseHandshakeFinished, nil)
	id := m.peripheral.ID
	m.later(func() { m.remember(id) })
	m.unlock()
}

func (m *Manager) onConnectTimeout(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || !m.state.establishing() {
		m.mu.Unlock()
		return
	}
	m.connectTimer = nil
	kind := timeoutKind(m.state)
	cause := CauseConnectionFailed
	if m.reconnecting {
		cause = CauseReconnectionFailed
	}
	m.failLocked(cause, newError(kind, nil))
	m.unlock()
}

// onDisconnected handles a link loss the manager did not request.
func (m *Manager) onDisconnected(gen uint64, id string, err error) {
	// read outside the lock: both may block on their own locks or I/O
	previously := m.wasConnected(id)
	mode := m.session.Mode()

	err = link.NormalizeError(err)
	m.mu.Lock()
	if gen != m.gen || m.state == NotConnected || m.state == Initializing || m.state == Scanning {
		m.mu.Unlock()
		return
	}

	kind := disconnectKind(m.state, mode, previously, err)
	cerr := newError(kind, err)
	if m.state == Connected && m.opts.AutoReconnect && kind != KindPowerOff {
		m.logger.WithFields(logrus.Fields{
			"address": id,
			"error":   cerr,
		}).Warn("Belt connection lost, reconnecting")
		m.reconnecting = true
		m.connectLocked(m.peripheral, cerr)
		m.unlock()
		return
	}

	cause := CauseConnectionLost
	if m.state == Reconnecting {
		cause = CauseReconnectionFailed
	}
	m.failLocked(cause, cerr)
	m.unlock()
}

func (m *Manager) wasConnected(id string) bool {
	known, err := m.PreviouslyConnected()
	if err != nil {
		m.logger.WithError(err).Debug("Failed to read previously connected belts")
		return false
	}
	return slices.Contains(known, id)
}

func (m *Manager) remember(id string) {
	if m.store == nil || id == "" {
		return
	}
	if err := m.store.Add(id); err != nil {
		m.logger.WithError(err).WithField("address", id).Warn("Failed to remember belt")
	}
}
