package connection

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/beltctl/internal/groutine"
	"github.com/srg/beltctl/pkg/link"
)

// step is one strategy of SearchAndConnect.
type step int

const (
	stepAlreadyConnected step = iota
	stepLastKnown
	stepScan
)

func (s step) String() string {
	switch s {
	case stepAlreadyConnected:
		return "already_connected"
	case stepLastKnown:
		return "last_known"
	default:
		return "scan"
	}
}

func searchPlan() []step {
	return []step{stepAlreadyConnected, stepLastKnown, stepScan}
}

// nextStepLocked runs the first applicable step left in the plan. info is
// the failure of the previous step, carried on the next transition.
func (m *Manager) nextStepLocked(info *Error) {
	for len(m.plan) > 0 {
		s := m.plan[0]
		m.plan = m.plan[1:]

		switch s {
		case stepAlreadyConnected:
			if ps := m.transport.Connected(link.BeltFilter()); len(ps) > 0 {
				m.logger.WithField("address", ps[0].ID).Info("Using belt already connected to the system")
				m.connectLocked(ps[0], info)
				return
			}
		case stepLastKnown:
			// a last-known belt that just failed as the connected one is skipped
			if len(m.known) > 0 && (info == nil || m.known[0] != m.peripheral.ID) {
				m.logger.WithField("address", m.known[0]).Info("Reconnecting to last known belt")
				m.connectLocked(link.Peripheral{ID: m.known[0]}, info)
				return
			}
		case stepScan:
			m.autoConnect = true
			m.startScanLocked(info)
			return
		}
		m.logger.WithField("step", s.String()).Debug("Search step not applicable")
	}

	if info == nil {
		info = newError(KindNoBeltFound, nil)
	}
	m.terminateLocked(CauseConnectionFailed, info)
}

func (m *Manager) startScanLocked(info *Error) {
	m.resetLocked()
	m.discovered = nil
	m.setStateLocked(Scanning, CauseScanStarted, info)

	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.scanTimer = m.clock.AfterFunc(m.opts.ScanTimeout, func() { m.onScanTimeout(gen) })
	m.later(func() {
		groutine.Go(ctx, "belt-scan", func(ctx context.Context) {
			err := m.transport.Scan(ctx, link.BeltFilter(), func(p link.Peripheral) {
				m.onFound(gen, p)
			})
			if err != nil && ctx.Err() == nil {
				m.onScanFailed(gen, err)
			}
		})
	})
}

func (m *Manager) onFound(gen uint64, p link.Peripheral) {
	m.mu.Lock()
	if gen != m.gen || m.state != Scanning {
		m.mu.Unlock()
		return
	}
	for _, d := range m.discovered {
		if d.ID == p.ID {
			m.mu.Unlock()
			return
		}
	}
	m.discovered = append(m.discovered, p)
	m.eventLocked(Scanning, CausePeripheralFound, nil, p)
	if m.autoConnect {
		m.connectLocked(p, nil)
	}
	m.unlock()
}

func (m *Manager) onScanTimeout(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Scanning {
		m.mu.Unlock()
		return
	}
	m.scanTimer = nil
	if m.autoConnect {
		m.failLocked(CauseScanFinished, newError(KindNoBeltFound, nil))
	} else {
		m.terminateLocked(CauseScanFinished, newError(KindSearchFinished, nil))
	}
	m.unlock()
}

func (m *Manager) onScanFailed(gen uint64, err error) {
	err = link.NormalizeError(err)
	m.mu.Lock()
	if gen != m.gen || m.state != Scanning {
		m.mu.Unlock()
		return
	}
	m.logger.WithFields(logrus.Fields{
		"attempt_id": m.attempt,
		"error":      err,
	}).Error("Scan failed")

	if st, ok := link.StateFromError(err); ok {
		m.plan = nil
		m.terminateLocked(CauseTransportUnavailable, newError(transportKind(st), err))
	} else {
		m.failLocked(CauseScanFinished, newError(KindConnectionFailed, err))
	}
	m.unlock()
}
