// Package goble implements link.Transport and link.Link on top of
// github.com/go-ble/ble (CoreBluetooth on macOS, HCI sockets on Linux).
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/beltctl/internal/groutine"
	"github.com/srg/beltctl/pkg/link"
)

// DefaultStatePollInterval is how often WatchState re-checks the radio.
const DefaultStatePollInterval = 2 * time.Second

// Transport is a link.Transport backed by the platform BLE device. The
// device is opened lazily and shared by scans and connections.
type Transport struct {
	logger       *logrus.Logger
	pollInterval time.Duration
	open         func() (radio, error)
	probe        func() (link.TransportState, bool)

	mu    sync.Mutex
	dev   radio
	links map[string]*Link
	names map[string]link.Peripheral
}

// Option configures a Transport.
type Option func(*Transport)

// WithStatePollInterval sets how often WatchState polls the radio state.
func WithStatePollInterval(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// NewTransport creates a transport using DeviceFactory.
func NewTransport(logger *logrus.Logger, opts ...Option) *Transport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	t := &Transport{
		logger:       logger,
		pollInterval: DefaultStatePollInterval,
		open:         openRadio,
		probe:        probePower,
		links:        make(map[string]*Link),
		names:        make(map[string]link.Peripheral),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) device() (radio, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := t.open()
	if err != nil {
		return nil, NormalizeError(err)
	}
	t.dev = dev
	return dev, nil
}

// State reports the radio state. A device that cannot be opened is
// classified from its error.
func (t *Transport) State() link.TransportState {
	if state, ok := t.probe(); ok {
		return state
	}
	if _, err := t.device(); err != nil {
		if state, ok := link.StateFromError(err); ok {
			return state
		}
		return link.StateUnknown
	}
	return link.StatePoweredOn
}

// WatchState polls State and calls fn on every change, starting with the
// current state.
func (t *Transport) WatchState(fn func(link.TransportState)) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	groutine.Go(ctx, "belt-radio-state", func(ctx context.Context) {
		ticker := time.NewTicker(t.pollInterval)
		defer ticker.Stop()

		last := link.TransportState(-1)
		for {
			if s := t.State(); s != last {
				last = s
				fn(s)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
	return cancel
}

// Scan reports every matching peripheral once per scan.
func (t *Transport) Scan(ctx context.Context, filter link.ScanFilter, found func(link.Peripheral)) error {
	dev, err := t.device()
	if err != nil {
		return err
	}

	seen := hashmap.New[string, link.Peripheral]()
	handler := func(adv advertisement) {
		p := peripheralFromAdvertisement(adv)
		if p.ID == "" || !filter.Match(p) {
			return
		}
		if _, loaded := seen.GetOrInsert(p.ID, p); loaded {
			return
		}

		t.mu.Lock()
		t.names[p.ID] = p
		t.mu.Unlock()

		t.logger.WithFields(logrus.Fields{"id": p.ID, "name": p.Name, "rssi": p.RSSI}).Debug("Belt found")
		found(p)
	}

	err = dev.Scan(ctx, false, handler)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}

	t.logger.WithField("found", seen.Len()).Debug("Scan finished")
	return nil
}

// Connected lists the matching peripherals this transport holds a link to.
// go-ble has no view of connections made by other processes.
func (t *Transport) Connected(filter link.ScanFilter) []link.Peripheral {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]link.Peripheral, 0, len(t.links))
	for id := range t.links {
		p, ok := t.names[id]
		if !ok {
			p = link.Peripheral{ID: id}
		}
		if filter.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

// Connect dials the peripheral and returns a link reporting to h.
func (t *Transport) Connect(ctx context.Context, id string, h link.Handler) (link.Link, error) {
	if id == "" {
		return nil, fmt.Errorf("belt address is empty")
	}
	dev, err := t.device()
	if err != nil {
		return nil, err
	}

	t.logger.WithField("id", id).Info("Connecting to belt...")
	client, err := dev.Dial(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to belt %q: %w", id, NormalizeError(err))
	}

	// Registered under the lock so an immediate disconnect cannot run
	// the cleanup before the link is recorded.
	t.mu.Lock()
	defer t.mu.Unlock()
	var l *Link
	l = newLink(id, client, h, t.logger, func() {
		t.mu.Lock()
		if t.links[id] == l {
			delete(t.links, id)
		}
		t.mu.Unlock()
	})
	t.links[id] = l
	return l, nil
}

func peripheralFromAdvertisement(adv advertisement) link.Peripheral {
	p := link.Peripheral{Name: adv.LocalName(), RSSI: adv.RSSI()}
	if addr := adv.Addr(); addr != nil {
		p.ID = addr.String()
	}
	for _, u := range adv.Services() {
		p.Services = append(p.Services, link.ServiceID(link.NormalizeUUID(u.String())))
	}
	return p
}
