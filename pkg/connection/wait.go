package connection

import (
	"context"

	"github.com/google/uuid"
	"github.com/srg/beltctl/pkg/link"
)

// SearchAndWait runs SearchAndConnect and blocks until the belt is
// connected, the attempt fails, or ctx is done. A done ctx disconnects.
func (m *Manager) SearchAndWait(ctx context.Context) error {
	_, err := m.await(ctx, m.searchAndConnect)
	return err
}

// ConnectAndWait is ConnectByID blocking like SearchAndWait.
func (m *Manager) ConnectAndWait(ctx context.Context, id string) error {
	_, err := m.await(ctx, func() (uuid.UUID, error) {
		return m.connect(link.Peripheral{ID: id})
	})
	return err
}

// ScanAndWait lists the belts advertising until the scan timeout or until
// ctx is done, whichever comes first.
func (m *Manager) ScanAndWait(ctx context.Context) ([]link.Peripheral, error) {
	_, err := m.await(ctx, func() (uuid.UUID, error) { return m.scan(false) })
	if err != nil && ctx.Err() == nil {
		return nil, err
	}
	return m.Discovered(), nil
}

// await starts an attempt and waits for its terminal event.
func (m *Manager) await(ctx context.Context, start func() (uuid.UUID, error)) (Event, error) {
	terminal := make(chan Event, 16)
	unsubscribe := m.Subscribe(func(ev Event) {
		if !ev.Terminal() {
			return
		}
		select {
		case terminal <- ev:
		default:
		}
	})
	defer unsubscribe()

	id, err := start()
	if err != nil {
		return Event{}, err
	}

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			current := m.attempt == id
			m.mu.Unlock()
			if current {
				m.Disconnect()
			}
			return Event{}, ctx.Err()
		case ev := <-terminal:
			if ev.AttemptID != id {
				continue
			}
			switch {
			case ev.State == Connected:
				return ev, nil
			case ev.Err == nil:
				return ev, ErrAttemptCancelled
			case ev.Err.Kind.IsNeutral():
				return ev, nil
			default:
				return ev, ev.Err
			}
		}
	}
}
